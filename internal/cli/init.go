// Package cli implements the settingsync command-line interface.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/bolasblack/settingsync/internal/config"
	"github.com/bolasblack/settingsync/internal/transact"
	"github.com/bolasblack/settingsync/internal/util"
)

var (
	initTemplate  string
	initConfigDir string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a settingsync configuration",
	Long: `Create a settingsync.toml configuration file.

The file is written to the path given by --config, $SETTINGSYNC_CONFIG, or
the current directory. Without --template a template is chosen interactively.`,
	RunE: runInit,
}

func init() {
	names := make([]string, 0, len(config.Templates))
	for _, t := range config.Templates {
		names = append(names, string(t))
	}
	initCmd.Flags().StringVar(&initTemplate, "template", "",
		fmt.Sprintf("configuration template (%s)", strings.Join(names, ", ")))
	initCmd.Flags().StringVar(&initConfigDir, "config-dir", "", "directory to keep in sync (default: current directory)")
}

func runInit(cmd *cobra.Command, args []string) error {
	deps := newCLIDeps()

	configPath, err := resolveConfigPath(flagConfig, os.Getenv)
	if err != nil {
		return err
	}

	configDir := initConfigDir
	if configDir == "" {
		if configDir, err = getCwd(); err != nil {
			return err
		}
	}
	if configDir, err = filepath.Abs(configDir); err != nil {
		return err
	}

	template := config.Template(initTemplate)
	if template == "" {
		if template, err = selectTemplate(); err != nil {
			return err
		}
	}

	if err := writeInitConfig(deps.Env, configPath, template, configDir); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	progressDone(out, "Created %s\n", configPath)
	_, _ = fmt.Fprintln(out, "Edit the [remote] section, then run 'settingsync enable'.")
	return nil
}

func selectTemplate() (config.Template, error) {
	var selected string
	err := huh.NewSelect[string]().
		Title("Where should settings be stored?").
		Options(
			huh.NewOption("Directory - a shared or mounted folder", string(config.TemplateDir)),
			huh.NewOption("Server - a settingsync server over HTTP", string(config.TemplateHTTP)),
			huh.NewOption("S3 - an object in an S3 compatible bucket", string(config.TemplateS3)),
		).
		Value(&selected).
		Run()
	if err != nil {
		return "", fmt.Errorf("template selection cancelled: %w", err)
	}
	return config.Template(selected), nil
}

// writeInitConfig renders template and writes it to path. An existing file
// is never overwritten.
func writeInitConfig(env *util.Env, path string, template config.Template, configDir string) error {
	if !slices.Contains(config.Templates, template) {
		return fmt.Errorf("unknown template %q", template)
	}
	if _, err := env.Fs.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	content, err := config.GenerateConfig(template, configDir)
	if err != nil {
		return fmt.Errorf("failed to generate configuration: %w", err)
	}

	tfs := transact.New(transact.WithActualFs(env.Fs))
	if err := tfs.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	if _, err := tfs.Commit(transact.Apply); err != nil {
		return fmt.Errorf("failed to commit changes: %w", err)
	}
	return nil
}
