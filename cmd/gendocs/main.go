// Command gendocs generates reference documentation and shell completions
// for the settingsync CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/bolasblack/settingsync/internal/cli"
)

var outDir string

func main() {
	root := &cobra.Command{
		Use:           "gendocs",
		Short:         "Generate settingsync documentation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&outDir, "out", "o", "", "output directory (default depends on the format)")

	root.AddCommand(
		&cobra.Command{
			Use:   "markdown",
			Short: "Markdown pages with front matter",
			Args:  cobra.NoArgs,
			RunE:  func(*cobra.Command, []string) error { return generateMarkdown(cli.GetRootCmd(), dirOr("docs/commands")) },
		},
		&cobra.Command{
			Use:   "man",
			Short: "Section 1 man pages",
			Args:  cobra.NoArgs,
			RunE:  func(*cobra.Command, []string) error { return generateMan(cli.GetRootCmd(), dirOr("out/man")) },
		},
		&cobra.Command{
			Use:   "completions",
			Short: "bash, zsh and fish completion scripts",
			Args:  cobra.NoArgs,
			RunE:  func(*cobra.Command, []string) error { return generateCompletions(cli.GetRootCmd(), dirOr("out/completions")) },
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dirOr(def string) string {
	if outDir != "" {
		return outDir
	}
	return def
}

func generateMarkdown(cmd *cobra.Command, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Front matter for static site generators
	date := time.Now().Format(time.DateOnly)
	filePrepender := func(filename string) string {
		base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
		return fmt.Sprintf("---\ntitle: %q\ndate: %s\n---\n\n", strings.ReplaceAll(base, "_", " "), date)
	}
	linkHandler := func(name string) string {
		return "./" + strings.TrimSuffix(name, filepath.Ext(name)) + ".md"
	}

	cmd.DisableAutoGenTag = true
	if err := doc.GenMarkdownTreeCustom(cmd, dir, filePrepender, linkHandler); err != nil {
		return fmt.Errorf("failed to generate markdown: %w", err)
	}
	fmt.Printf("Generated markdown documentation in %s/\n", dir)
	return nil
}

func generateMan(cmd *cobra.Command, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	header := &doc.GenManHeader{
		Title:   "SETTINGSYNC",
		Section: "1",
		Source:  "settingsync " + cli.Version,
		Manual:  "settingsync Manual",
	}
	if err := doc.GenManTree(cmd, header, dir); err != nil {
		return fmt.Errorf("failed to generate man pages: %w", err)
	}
	fmt.Printf("Generated man pages in %s/\n", dir)
	return nil
}

func generateCompletions(cmd *cobra.Command, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	gens := map[string]func(*os.File) error{
		"settingsync.bash": func(f *os.File) error { return cmd.GenBashCompletionV2(f, true) },
		"settingsync.zsh":  func(f *os.File) error { return cmd.GenZshCompletion(f) },
		"settingsync.fish": func(f *os.File) error { return cmd.GenFishCompletion(f, true) },
	}
	for name, gen := range gens {
		if err := writeCompletion(filepath.Join(dir, name), gen); err != nil {
			return err
		}
	}
	fmt.Printf("Generated shell completions in %s/\n", dir)
	return nil
}

func writeCompletion(path string, gen func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := gen(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to generate %s: %w", path, err)
	}
	return f.Close()
}
