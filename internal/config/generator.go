// generator.go provides config templates for settingsync init.
//
// Templates only fill what has no default: config_dir and the remote. Other
// sections are left out so that defaults apply.

package config

import (
	"bytes"
	"fmt"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Template represents a configuration template type.
type Template string

const (
	// TemplateDir syncs through a shared directory.
	TemplateDir Template = "dir"
	// TemplateHTTP syncs through a settingsync server.
	TemplateHTTP Template = "http"
	// TemplateS3 syncs through an S3 object.
	TemplateS3 Template = "s3"
)

// Templates lists the available templates in display order.
var Templates = []Template{TemplateDir, TemplateHTTP, TemplateS3}

// TemplateConfig holds a Config and its associated comment.
type TemplateConfig struct {
	Config        Config
	RemoteComment string // Comment to insert before the first [remote] field
}

// templateFile is the subset written by init.
type templateFile struct {
	ConfigDir string `toml:"config_dir"`
	Remote    Remote `toml:"remote"`
	Sync      Sync   `toml:"sync,omitempty"`
}

// GenerateConfig returns the TOML content for template with configDir filled in.
func GenerateConfig(template Template, configDir string) (string, error) {
	tc := getTemplateConfig(template)
	tc.Config.ConfigDir = configDir

	var buf bytes.Buffer
	err := toml.NewEncoder(&buf).Encode(templateFile{
		ConfigDir: tc.Config.ConfigDir,
		Remote:    tc.Config.Remote,
		Sync:      tc.Config.Sync,
	})
	if err != nil {
		return "", fmt.Errorf("encode template: %w", err)
	}

	content := buf.String()
	if tc.RemoteComment != "" {
		content = insertRemoteComment(content, tc.RemoteComment)
	}
	return SchemaComment + content, nil
}

func getTemplateConfig(template Template) TemplateConfig {
	switch template {
	case TemplateDir:
		return TemplateConfig{
			Config: Config{
				Remote: Remote{Type: RemoteDir, Path: "../settings-remote"},
				Sync:   Sync{Exclude: []string{"*.log", "workspace/*"}},
			},
			RemoteComment: "any directory every machine can reach, e.g. a synced or network folder",
		}
	case TemplateHTTP:
		return TemplateConfig{
			Config: Config{
				Remote: Remote{Type: RemoteHTTP, URL: "http://127.0.0.1:8765"},
				Sync:   Sync{Exclude: []string{"*.log", "workspace/*"}},
			},
			RemoteComment: "start the server with settingsync serve",
		}
	case TemplateS3:
		return TemplateConfig{
			Config: Config{
				Remote: Remote{
					Type:   RemoteS3,
					Bucket: "my-settings",
					Key:    "settingsync/snapshot.json",
					Region: "us-east-1",
				},
				Sync: Sync{Exclude: []string{"*.log", "workspace/*"}},
			},
			RemoteComment: "credentials come from the standard AWS environment and profiles",
		}
	default:
		return getTemplateConfig(TemplateDir)
	}
}

// insertRemoteComment inserts a comment before the first field of the [remote] section.
func insertRemoteComment(content, comment string) string {
	lines := strings.Split(content, "\n")
	var result []string
	inRemote := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "[remote]" {
			inRemote = true
			result = append(result, line)
			continue
		}
		if inRemote && trimmed != "" {
			result = append(result, "# "+comment)
			inRemote = false
		}
		result = append(result, line)
	}

	return strings.Join(result, "\n")
}
