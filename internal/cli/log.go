package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List recorded settings changes, oldest first",
	RunE:  runLog,
}

func init() {
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 0, "show only the newest N entries")
}

func runLog(cmd *cobra.Command, args []string) error {
	e, err := openCommandEngine(cmd, newCLIReadDeps(), engineOptions{offline: true})
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	return printLog(cmd.Context(), e, logLimit, cmd.OutOrStdout())
}

// printLog writes one line per entry. The entry the remote is known to hold
// is marked.
func printLog(ctx context.Context, e *engine, limit int, out io.Writer) error {
	entries, err := e.history.Entries(ctx)
	if err != nil {
		return err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	marker, err := e.store.LoadMarker()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, entry := range entries {
		mark := ""
		if entry.ID == marker.EntryID {
			mark = "(synced)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			entry.Short(),
			entry.Timestamp.Local().Format(time.DateTime),
			entry.Kind,
			entry.Message,
			mark,
		)
	}
	return w.Flush()
}
