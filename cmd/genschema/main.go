// Command genschema writes the JSON schema for settingsync.toml, to stdout
// or to the file given as the first argument.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/bolasblack/settingsync/internal/config"
)

func main() {
	r := jsonschema.Reflector{
		// Property names follow the toml tags used in settingsync.toml
		FieldNameTag:               "toml",
		RequiredFromJSONSchemaTags: true,
	}

	schema := r.Reflect(&config.Config{})
	schema.Title = "settingsync Configuration"
	schema.Description = "Configuration schema for settingsync.toml"
	schema.ID = jsonschema.ID(config.SchemaURL)

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(os.Args[1], append(data, '\n'), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
		os.Exit(1)
	}
}
