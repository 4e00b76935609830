package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jcflow/jc/internal/event"
	"github.com/jcflow/jc/internal/infrastructure/sqlite"
)

var logsFollow bool

var logsCmd = &cobra.Command{
	Use:   "logs [workflow_id]",
	Short: "Show the event history of a workflow, or the runtime debug log",
	Long: `With a workflow id, prints its event history in commit order. Without
one, prints the runtime debug log. --follow keeps streaming new entries.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep streaming new entries")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return runEventLogs(args[0])
	}
	return runDebugLogs()
}

func runEventLogs(workflowID string) error {
	rt, closeRT, err := openRuntime()
	if err != nil {
		return failureErr(err)
	}
	defer closeRT()

	var lastSeq int64
	printNew := func() error {
		events, err := rt.store.GetEvents(workflowID, sqlite.Query{})
		if err != nil {
			return err
		}
		for _, ev := range newSince(events, lastSeq) {
			printEvent(ev)
			lastSeq = ev.SequenceNumber
		}
		return nil
	}

	if err := printNew(); err != nil {
		return failureErr(err)
	}
	if !logsFollow {
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()
	return watchStore(ctx, cfg.DatabasePath(), func() {
		if err := printNew(); err != nil {
			fmt.Printf("query failed: %v\n", err)
		}
	})
}

// newSince returns the events whose sequence number is above lastSeq, in
// sequence order. GetEvents orders by timestamp, and a clock stepping
// backwards between appends can place a newer sequence before an older
// one; a cursor walking timestamp order would skip that event forever.
func newSince(events []event.Event, lastSeq int64) []event.Event {
	fresh := make([]event.Event, 0, len(events))
	for _, ev := range events {
		if ev.SequenceNumber > lastSeq {
			fresh = append(fresh, ev)
		}
	}
	sort.Slice(fresh, func(i, j int) bool {
		return fresh[i].SequenceNumber < fresh[j].SequenceNumber
	})
	return fresh
}

func printEvent(ev event.Event) {
	line := fmt.Sprintf("%6d  %s  %-24s", ev.SequenceNumber, ev.Timestamp.Format(event.TimestampLayout), ev.Type)
	if data, err := ev.EncodeData(); err == nil && string(data) != "{}" {
		line += "  " + string(data)
	}
	fmt.Println(line)
}

// runDebugLogs prints the runtime debug log, optionally tailing appended
// bytes as the file grows.
func runDebugLogs() error {
	path := cfg.LogPath()
	f, err := os.Open(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("no debug log at %s (run with --debug or enable log in config)\n", path)
			return nil
		}
		return failureErr(err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(os.Stdout, f); err != nil {
		return failureErr(err)
	}
	if !logsFollow {
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()
	return watchStore(ctx, path, func() {
		// The file handle keeps its offset, so each change drains only
		// the appended tail.
		if _, err := io.Copy(os.Stdout, f); err != nil && !strings.Contains(err.Error(), "file already closed") {
			fmt.Printf("read failed: %v\n", err)
		}
	})
}
