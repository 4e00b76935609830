package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jcflow/jc/internal/infrastructure/sqlite"
	"github.com/jcflow/jc/internal/projection"
	"github.com/jcflow/jc/internal/workflow"
)

var statusFollow bool

var statusCmd = &cobra.Command{
	Use:   "status [workflow_id]",
	Short: "Show workflow state",
	Long: `Without arguments, lists every workflow in the store. With a workflow
id, prints its full projected state as JSON. --follow re-renders whenever
the event database changes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "keep watching the store and re-render on change")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, closeRT, err := openRuntime()
	if err != nil {
		return failureErr(err)
	}
	defer closeRT()

	render := func() error {
		if len(args) == 1 {
			return printWorkflowState(rt.store, args[0])
		}
		return printWorkflowList(rt.store)
	}

	if err := render(); err != nil {
		return failureErr(err)
	}
	if !statusFollow {
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()
	return watchStore(ctx, cfg.DatabasePath(), func() {
		fmt.Println("---")
		if err := render(); err != nil {
			fmt.Printf("render failed: %v\n", err)
		}
	})
}

func printWorkflowState(store *sqlite.EventStore, workflowID string) error {
	state, err := store.Rebuild(workflowID, &projection.WorkflowBuilder{WorkflowID: workflowID})
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printWorkflowList(store *sqlite.EventStore) error {
	ids, err := store.Workflows()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no workflows")
		return nil
	}
	for _, id := range ids {
		state, err := store.Rebuild(id, &projection.WorkflowBuilder{WorkflowID: id})
		if err != nil {
			return err
		}
		ws, ok := state.(*workflow.State)
		if !ok {
			return fmt.Errorf("unexpected projection state %T for %s", state, id)
		}
		fmt.Printf("%-40s  %-12s  %d/%d features  $%.2f\n",
			id, ws.Phase, ws.CompletedCount(), len(ws.Features), ws.TotalCostUSD)
	}
	return nil
}

// watchStore invokes onChange whenever the event database or its WAL is
// written, debounced so a burst of appends triggers one re-render. SQLite
// under WAL mode writes the -wal file, so the whole directory is watched.
func watchStore(ctx context.Context, dbPath string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(dbPath)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(dbPath), err)
	}

	base := filepath.Base(dbPath)
	var debounce *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if name != base && name != base+"-wal" {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher: %w", err)
		case <-fire:
			onChange()
		}
	}
}
