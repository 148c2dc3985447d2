package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bolasblack/settingsync/internal/util"
)

var (
	// Version, Commit, and Date are set at build time via ldflags
	Version = "dev"
	Commit  = ""
	Date    = ""
)

var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "settingsync",
	Short: "settingsync - keep IDE settings in sync across machines",
	Long: `settingsync keeps a configuration directory in sync across machines.

Every change is recorded in a local history first, then exchanged with a
shared store (a directory, a settingsync server or an S3 bucket). Edits made
on different machines are merged; real conflicts are kept for you to resolve.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, userMessage(err))
		os.Exit(1)
	}
}

// GetRootCmd returns the root command for documentation generation.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("settingsync version %s\ncommit: %s\ndate: %s\n", Version, Commit, Date))

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "",
		fmt.Sprintf("path to %s (default $%s or ./%s)", util.ConfigFileName, ConfigEnvVar, util.ConfigFileName))
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(serveCmd)
}
