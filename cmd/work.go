package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcflow/jc/internal/evaluator"
	"github.com/jcflow/jc/internal/event"
	"github.com/jcflow/jc/internal/executor"
	"github.com/jcflow/jc/internal/log"
	"github.com/jcflow/jc/internal/pubsub"
	"github.com/jcflow/jc/internal/tracing"
	"github.com/jcflow/jc/internal/tracker"
	"github.com/jcflow/jc/internal/workflow"
)

var (
	workModel  string
	workDryRun bool
	workYes    bool
	workStrict bool
)

var workCmd = &cobra.Command{
	Use:   "work <task_id>",
	Short: "Run an agent workflow for a tracker task",
	Long: `Fetches the task from the tracker, plans one feature per acceptance
criterion, and drives an agent through the plan. Every state change is
recorded as an event; the final state is graded and printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runWork,
}

func init() {
	workCmd.Flags().StringVar(&workModel, "model", "", "model passed through to the executor provider")
	workCmd.Flags().BoolVar(&workDryRun, "dry-run", false, "print the feature plan without executing or recording anything")
	workCmd.Flags().BoolVar(&workYes, "yes", false, "skip the confirmation prompt")
	workCmd.Flags().BoolVar(&workStrict, "strict", false, "treat task validation warnings as errors")
	rootCmd.AddCommand(workCmd)
}

// taskDetails is the slice of the tracker's show output the planner needs.
type taskDetails struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// validateTask reports non-fatal problems with a fetched task. Under
// --strict any warning aborts the run before planning.
func validateTask(task taskDetails) []string {
	var warnings []string
	if task.Title == "" {
		warnings = append(warnings, "task has no title")
	}
	if task.Description == "" {
		warnings = append(warnings, "task has no description")
	}
	if len(task.AcceptanceCriteria) == 0 {
		warnings = append(warnings, "task has no acceptance criteria; planning a single catch-all feature")
	}
	return warnings
}

// planFeatures derives the feature plan from a task: one feature per
// acceptance criterion, or a single catch-all feature when the task has
// none.
func planFeatures(task taskDetails) []workflow.Feature {
	if len(task.AcceptanceCriteria) == 0 {
		name := "implement " + task.ID
		if task.Title != "" {
			name = "implement " + task.Title
		}
		return []workflow.Feature{{Name: name, Description: task.Description}}
	}
	features := make([]workflow.Feature, 0, len(task.AcceptanceCriteria))
	for i, criterion := range task.AcceptanceCriteria {
		features = append(features, workflow.Feature{
			Name:        fmt.Sprintf("criterion-%d", i+1),
			Description: criterion,
		})
	}
	return features
}

// featurePrompt builds the agent prompt for one feature of the plan.
func featurePrompt(task taskDetails, f workflow.Feature) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n\n", task.ID, task.Title)
	if task.Description != "" {
		b.WriteString(task.Description)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Implement the following and make its tests pass:\n%s", f.Name)
	if f.Description != "" {
		fmt.Fprintf(&b, ": %s", f.Description)
	}
	return b.String()
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

func runWork(cmd *cobra.Command, args []string) error {
	taskID := args[0]
	if err := tracker.ValidateTaskID(taskID); err != nil {
		return validationErr(err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	client := tracker.NewClient(tracker.WithBinary(cfg.Tracker.Binary))
	raw, err := client.Show(ctx, taskID)
	if err != nil {
		return failureErr(fmt.Errorf("fetching task %s: %w", taskID, err))
	}
	var task taskDetails
	if err := json.Unmarshal(raw, &task); err != nil {
		return failureErr(fmt.Errorf("parsing task %s: %w", taskID, err))
	}
	if task.ID == "" {
		task.ID = taskID
	}

	if warnings := validateTask(task); len(warnings) > 0 {
		for _, w := range warnings {
			fmt.Printf("warning: %s\n", w)
		}
		if workStrict {
			return validationErr(fmt.Errorf("task %s has %d validation warnings", task.ID, len(warnings)))
		}
	}

	features := planFeatures(task)
	fmt.Printf("Task %s: %s\n", task.ID, task.Title)
	fmt.Printf("Plan (%d features):\n", len(features))
	for i, f := range features {
		fmt.Printf("  %d. %s\n", i+1, f.Name)
		if f.Description != "" {
			fmt.Printf("     %s\n", f.Description)
		}
	}

	if workDryRun {
		fmt.Println("\ndry run: nothing recorded, nothing executed")
		return nil
	}
	if !workYes && !confirm("Proceed?") {
		fmt.Println("aborted")
		return nil
	}

	rt, closeRT, err := openRuntime()
	if err != nil {
		return failureErr(err)
	}
	defer closeRT()

	registry := executor.NewRegistry()
	registry.Register(executor.NewClaudeProvider(""))
	registry.Register(executor.NewMockProvider())
	provider, err := registry.Get(cfg.Executor.Provider)
	if err != nil {
		return validationErr(err)
	}

	model := workModel
	if model == "" {
		model = cfg.Executor.Model
	}

	workflowID := "wf-" + uuid.NewString()
	machine := workflow.NewMachine(workflowID, rt.store)

	// Advisory scratch files for crash inspection; the event log stays
	// authoritative.
	if scratch, scErr := workflow.NewScratch(cfg.DataDir, workflowID); scErr != nil {
		log.Warn(log.CatCLI, "scratch dir unavailable", "error", scErr.Error())
	} else if journal, jErr := scratch.OpenJournal(); jErr != nil {
		log.Warn(log.CatCLI, "journal unavailable", "error", jErr.Error())
	} else {
		subID := rt.store.Subscribe(func(ev event.Event) {
			if ev.WorkflowID == workflowID {
				_ = journal.Record(ev)
			}
		})
		defer func() {
			rt.store.Unsubscribe(subID)
			_ = journal.Close()
			if err := scratch.SaveState(machine.State()); err != nil {
				log.Warn(log.CatCLI, "scratch state save failed", "error", err.Error())
			}
		}()
	}

	ctx, span := rt.tracing.Tracer().Start(ctx, "work",
		trace.WithAttributes(
			attribute.String(tracing.AttrWorkflowID, workflowID),
			attribute.String(tracing.AttrTaskID, task.ID),
		))
	defer span.End()

	if err := machine.Start(task.Title, "task", task.ID); err != nil {
		return failureErr(err)
	}
	for _, f := range features {
		if err := machine.PlanFeature(f.Name, f.Description); err != nil {
			return failureErr(err)
		}
	}
	if err := machine.TransitionPhase(workflow.PhaseImplementing); err != nil {
		return failureErr(err)
	}

	log.Info(log.CatCLI, "workflow started", "workflowID", workflowID, "taskID", task.ID, "features", len(features))

	// Echo every commit into the debug log while the workflow runs.
	listener := pubsub.NewListener(ctx, pubsub.SubscriberFunc[event.Event](rt.store.Events), func(pe pubsub.Event[event.Event]) {
		log.Debug(log.CatCLI, "event committed",
			"workflowID", pe.Payload.WorkflowID, "type", pe.Payload.Type, "seq", pe.Payload.SequenceNumber)
	})
	defer listener.Stop()

	failed := 0
	for _, f := range features {
		// Cancellation emits nothing further; the log keeps whatever
		// committed before the signal.
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := runFeature(ctx, machine, provider, task, f, model); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			failed++
			fmt.Printf("  FAIL %s: %v\n", f.Name, err)
			continue
		}
		fmt.Printf("  ok   %s\n", f.Name)
	}

	if failed == 0 {
		if err := machine.Complete(); err != nil {
			return failureErr(err)
		}
	} else {
		_ = machine.Fail(fmt.Sprintf("%d of %d features failed", failed, len(features)))
	}

	eval := evaluator.EvaluateWith(machine.State(), evaluator.Thresholds{
		CostUSD: cfg.Evaluator.CostThresholdUSD,
		TimeMS:  cfg.Evaluator.TimeThresholdMS,
	})
	printEvaluation(eval)

	if failed > 0 {
		return failureErr(fmt.Errorf("%d of %d features failed", failed, len(features)))
	}
	return nil
}

// runFeature drives one feature through the executor and records its
// outcome. The returned error carries the failure reason; the machine has
// already recorded it.
func runFeature(ctx context.Context, machine *workflow.Machine, provider executor.Provider, task taskDetails, f workflow.Feature, model string) error {
	if err := machine.StartFeature(f.Name); err != nil {
		return err
	}

	result, err := executor.RunWithRetry(ctx, provider, executor.Request{
		WorkflowID: machine.State().WorkflowID,
		Prompt:     featurePrompt(task, f),
		Model:      model,
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			_ = machine.FailFeatureSpend(f.Name, err.Error(), result.CostUSD, result.DurationMS)
		}
		return err
	}
	if !result.Success {
		reason := fmt.Sprintf("agent run failed (retry code %s)", result.RetryCode)
		if recordErr := machine.FailFeatureSpend(f.Name, reason, result.CostUSD, result.DurationMS); recordErr != nil {
			return recordErr
		}
		return errors.New(reason)
	}
	return machine.CompleteFeatureSpend(f.Name, true, result.CostUSD, result.DurationMS)
}

func printEvaluation(eval evaluator.Evaluation) {
	fmt.Printf("\nWorkflow %s\n", eval.WorkflowID)
	fmt.Printf("Score: %.4f (grade %s)\n", eval.QualityScore, eval.Grade)
	fmt.Printf("  completion %.2f  tests %.2f  iterations %.2f\n",
		eval.Metrics.CompletionRate, eval.Metrics.TestPassRate, eval.Metrics.IterationEfficiency)
	fmt.Printf("  cost %.2f  time %.2f  verification %.2f  no-failures %.0f\n",
		eval.Metrics.CostEfficiency, eval.Metrics.TimeEfficiency, eval.Metrics.VerificationRate, eval.Metrics.NoFailures)
	for _, rec := range eval.Recommendations {
		fmt.Printf("  - %s\n", rec)
	}
}
