package workflow

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jcflow/jc/internal/event"
	"github.com/jcflow/jc/internal/log"
)

// Appender is the slice of the event store the Machine needs: durable,
// validated, single-event commits.
type Appender interface {
	Append(ev event.Event) error
}

// Machine drives a live workflow. Every successful mutation emits exactly
// one event through the Appender and then folds that same event into the
// in-memory state, so the state always equals the fold of the log. A
// failed append leaves the state untouched.
type Machine struct {
	mu    sync.Mutex
	state *State
	store Appender
}

// NewMachine creates a machine for a workflow id with a fresh state.
func NewMachine(workflowID string, store Appender) *Machine {
	return &Machine{
		state: NewState(workflowID),
		store: store,
	}
}

// Resume creates a machine around an already-projected state, for
// continuing a workflow after a restart.
func Resume(state *State, store Appender) *Machine {
	return &Machine{
		state: state.Clone(),
		store: store,
	}
}

// State returns a deep copy of the current state.
func (m *Machine) State() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// emit appends the event and, on success, folds it into the state.
// Callers must hold m.mu.
func (m *Machine) emit(op string, ev event.Event) error {
	if err := m.store.Append(ev); err != nil {
		log.ErrorErr(log.CatWF, "event append failed", err, "op", op, "workflowID", ev.WorkflowID, "type", ev.Type)
		return &AppendError{Op: op, Err: err}
	}
	if err := m.state.ApplyEvent(ev); err != nil {
		// The event is durable but the fold rejected it; this is a
		// programming error in the emitting operation.
		return fmt.Errorf("%s: apply committed event: %w", op, err)
	}
	return nil
}

// Start begins the workflow: phase planning, workflow.started emitted.
func (m *Machine) Start(name, workflowType, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.StartedAt != nil {
		return fmt.Errorf("workflow %s already started", m.state.WorkflowID)
	}
	return m.emit("start", event.NewWorkflowStarted(m.state.WorkflowID, name, workflowType, taskID))
}

// TransitionPhase moves the workflow along an edge of the phase graph.
// Invalid transitions return a TransitionError and emit nothing.
func (m *Machine) TransitionPhase(to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !to.Valid() {
		return &TransitionError{From: m.state.Phase, To: to}
	}
	if !CanTransition(m.state.Phase, to) {
		return &TransitionError{From: m.state.Phase, To: to}
	}
	return m.emit("transition_phase", event.NewPhaseChanged(m.state.WorkflowID, string(m.state.Phase), string(to)))
}

// PlanFeature appends a feature to the plan. Feature names must be
// non-empty and unique within the workflow.
func (m *Machine) PlanFeature(name, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("feature name must be non-empty")
	}
	if m.state.Feature(name) != nil {
		return fmt.Errorf("feature %q already planned", name)
	}
	return m.emit("plan_feature", event.NewFeaturePlanned(m.state.WorkflowID, name, description))
}

// StartFeature marks a planned feature in progress.
func (m *Machine) StartFeature(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Feature(name) == nil {
		return &UnknownFeatureError{Name: name}
	}
	return m.emit("start_feature", event.NewFeatureStarted(m.state.WorkflowID, name))
}

// CompleteFeature marks a feature completed and advances the feature
// index.
func (m *Machine) CompleteFeature(name string, testsPassing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Feature(name) == nil {
		return &UnknownFeatureError{Name: name}
	}
	return m.emit("complete_feature", event.NewFeatureCompleted(m.state.WorkflowID, name, testsPassing))
}

// FailFeature marks a feature failed with an error message.
func (m *Machine) FailFeature(name, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Feature(name) == nil {
		return &UnknownFeatureError{Name: name}
	}
	return m.emit("fail_feature", event.NewFeatureFailed(m.state.WorkflowID, name, errMsg))
}

// CompleteFeatureSpend marks a feature completed and folds the agent spend
// for the attempt into the workflow totals.
func (m *Machine) CompleteFeatureSpend(name string, testsPassing bool, costUSD float64, durationMS int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Feature(name) == nil {
		return &UnknownFeatureError{Name: name}
	}
	ev := event.NewFeatureCompleted(m.state.WorkflowID, name, testsPassing)
	recordSpend(ev, costUSD, durationMS)
	return m.emit("complete_feature", ev)
}

// FailFeatureSpend marks a feature failed, keeping the spend the failed
// attempt consumed.
func (m *Machine) FailFeatureSpend(name, errMsg string, costUSD float64, durationMS int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Feature(name) == nil {
		return &UnknownFeatureError{Name: name}
	}
	ev := event.NewFeatureFailed(m.state.WorkflowID, name, errMsg)
	recordSpend(ev, costUSD, durationMS)
	return m.emit("fail_feature", ev)
}

// recordSpend attaches optional spend fields to a feature event payload.
func recordSpend(ev event.Event, costUSD float64, durationMS int64) {
	if costUSD > 0 {
		ev.Data[event.KeyCostUSD] = costUSD
	}
	if durationMS > 0 {
		ev.Data[event.KeyDurationMS] = durationMS
	}
}

// RecordTestsStarted records the start of a test run.
func (m *Machine) RecordTestsStarted(feature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emit("tests_started", event.NewTests(m.state.WorkflowID, event.TestsStarted, feature))
}

// RecordTestsPassed records a passing test run.
func (m *Machine) RecordTestsPassed(feature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emit("tests_passed", event.NewTests(m.state.WorkflowID, event.TestsPassed, feature))
}

// RecordTestsFailed records a failing test run.
func (m *Machine) RecordTestsFailed(feature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emit("tests_failed", event.NewTests(m.state.WorkflowID, event.TestsFailed, feature))
}

// RecordCommitCreated records a created commit sha.
func (m *Machine) RecordCommitCreated(sha string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(sha) == "" {
		return fmt.Errorf("commit sha must be non-empty")
	}
	return m.emit("commit_created", event.NewCommitCreated(m.state.WorkflowID, sha))
}

// RecordCommitFailed records a failed commit attempt.
func (m *Machine) RecordCommitFailed(errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emit("commit_failed", event.NewCommitFailed(m.state.WorkflowID, errMsg))
}

// RecordWorktree records a worktree lifecycle event (one of the
// worktree.* types).
func (m *Machine) RecordWorktree(t event.Type, path, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch t {
	case event.WorktreeCreated, event.WorktreeActive, event.WorktreeMerged, event.WorktreeDeleted:
	default:
		return fmt.Errorf("not a worktree event type: %s", t)
	}
	return m.emit("worktree", event.NewWorktree(m.state.WorkflowID, t, path, branch))
}

// Complete marks the workflow complete. Only legal from implementing or
// verifying, since complete is reachable only from those phases.
func (m *Machine) Complete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.state.Phase, PhaseComplete) {
		return &TransitionError{From: m.state.Phase, To: PhaseComplete}
	}
	var durationMS int64
	if m.state.StartedAt != nil {
		durationMS = time.Since(*m.state.StartedAt).Milliseconds()
	}
	if durationMS < m.state.TotalDurationMS {
		durationMS = m.state.TotalDurationMS
	}
	return m.emit("complete", event.NewWorkflowCompleted(m.state.WorkflowID, durationMS, m.state.TotalCostUSD))
}

// Fail marks the workflow failed, recording the error and current phase.
func (m *Machine) Fail(errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emit("fail", event.NewWorkflowFailed(m.state.WorkflowID, errMsg, string(m.state.Phase)))
}
