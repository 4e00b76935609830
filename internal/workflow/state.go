// Package workflow holds the canonical workflow read model, the event fold
// that materializes it, and the mutating state machine that drives a live
// workflow while emitting events.
package workflow

import (
	"fmt"
	"time"

	"github.com/jcflow/jc/internal/event"
)

// Phase is the coarse lifecycle position of a workflow.
type Phase string

const (
	PhasePlanning     Phase = "planning"
	PhaseImplementing Phase = "implementing"
	PhaseVerifying    Phase = "verifying"
	PhaseComplete     Phase = "complete"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhasePlanning, PhaseImplementing, PhaseVerifying, PhaseComplete:
		return true
	}
	return false
}

// phaseGraph holds the allowed transitions. Complete is terminal.
var phaseGraph = map[Phase][]Phase{
	PhasePlanning:     {PhaseImplementing},
	PhaseImplementing: {PhaseVerifying, PhaseComplete},
	PhaseVerifying:    {PhaseImplementing, PhaseComplete},
	PhaseComplete:     {},
}

// CanTransition reports whether from -> to is an edge of the phase graph.
func CanTransition(from, to Phase) bool {
	for _, next := range phaseGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FeatureStatus is the lifecycle position of a single feature.
type FeatureStatus string

const (
	FeatureNotStarted FeatureStatus = "not_started"
	FeatureInProgress FeatureStatus = "in_progress"
	FeatureCompleted  FeatureStatus = "completed"
	FeatureFailed     FeatureStatus = "failed"
)

// Feature is one unit of work within a workflow. Features keep their
// insertion order, which is also the execution order.
type Feature struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Status       FeatureStatus `json:"status"`
	TestsPassing bool          `json:"tests_passing"`
	Error        string        `json:"error,omitempty"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// WorktreeStatus tracks the git worktree backing a workflow.
type WorktreeStatus string

const (
	WorktreeNone    WorktreeStatus = ""
	WorktreeCreated WorktreeStatus = "created"
	WorktreeActive  WorktreeStatus = "active"
	WorktreeMerged  WorktreeStatus = "merged"
	WorktreeDeleted WorktreeStatus = "deleted"
)

// State is the canonical projection of a workflow: the fold of its event
// stream. The CLI reads this; the Machine mutates a live copy of it.
type State struct {
	WorkflowID   string `json:"workflow_id"`
	WorkflowName string `json:"workflow_name,omitempty"`
	WorkflowType string `json:"workflow_type,omitempty"`
	TaskID       string `json:"task_id,omitempty"`

	Phase    Phase     `json:"phase"`
	Features []Feature `json:"features"`

	// CurrentFeatureIndex points at the next feature to work on:
	// 0 <= index <= len(Features).
	CurrentFeatureIndex int `json:"current_feature_index"`

	IterationCount         int     `json:"iteration_count"`
	TotalCostUSD           float64 `json:"total_cost_usd"`
	TotalDurationMS        int64   `json:"total_duration_ms"`
	VerificationCount      int     `json:"verification_count"`
	LastVerificationPassed bool    `json:"last_verification_passed"`

	Commits []string `json:"commits,omitempty"`

	WorktreePath   string         `json:"worktree_path,omitempty"`
	WorktreeBranch string         `json:"worktree_branch,omitempty"`
	Worktree       WorktreeStatus `json:"worktree_status,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// NewState returns the empty pre-start state for a workflow id.
func NewState(workflowID string) *State {
	return &State{
		WorkflowID: workflowID,
		Phase:      PhasePlanning,
		Features:   []Feature{},
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	out := *s
	out.Features = make([]Feature, len(s.Features))
	copy(out.Features, s.Features)
	if s.Commits != nil {
		out.Commits = make([]string, len(s.Commits))
		copy(out.Commits, s.Commits)
	}
	copyTime := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		c := *t
		return &c
	}
	out.StartedAt = copyTime(s.StartedAt)
	out.CompletedAt = copyTime(s.CompletedAt)
	out.FailedAt = copyTime(s.FailedAt)
	for i := range out.Features {
		out.Features[i].StartedAt = copyTime(out.Features[i].StartedAt)
		out.Features[i].CompletedAt = copyTime(out.Features[i].CompletedAt)
	}
	return &out
}

// Feature returns a pointer to the named feature, or nil.
func (s *State) Feature(name string) *Feature {
	for i := range s.Features {
		if s.Features[i].Name == name {
			return &s.Features[i]
		}
	}
	return nil
}

// CompletedCount returns the number of completed features.
func (s *State) CompletedCount() int {
	n := 0
	for i := range s.Features {
		if s.Features[i].Status == FeatureCompleted {
			n++
		}
	}
	return n
}

// FailedCount returns the number of failed features.
func (s *State) FailedCount() int {
	n := 0
	for i := range s.Features {
		if s.Features[i].Status == FeatureFailed {
			n++
		}
	}
	return n
}

// Progress returns completed/total in [0,1], or 0 for an empty plan.
func (s *State) Progress() float64 {
	if len(s.Features) == 0 {
		return 0
	}
	return float64(s.CompletedCount()) / float64(len(s.Features))
}

// IsComplete reports whether the workflow reached the complete phase with
// every feature completed.
func (s *State) IsComplete() bool {
	if s.Phase != PhaseComplete {
		return false
	}
	for i := range s.Features {
		if s.Features[i].Status != FeatureCompleted {
			return false
		}
	}
	return true
}

// IsFailed reports whether the workflow is stuck: not complete and at least
// one feature failed.
func (s *State) IsFailed() bool {
	return s.Phase != PhaseComplete && s.FailedCount() > 0
}

// ApplyEvent folds one event into the state in place. It is the single
// source of truth for event semantics: both projection replay and the live
// Machine go through it. An event type outside the taxonomy returns an
// error; recognized types the workflow does not care about are no-ops.
func (s *State) ApplyEvent(ev event.Event) error {
	if !ev.Type.Valid() {
		return fmt.Errorf("workflow state: %w", &event.UnknownTypeError{Type: ev.Type})
	}

	switch ev.Type {
	case event.WorkflowStarted:
		s.WorkflowName = ev.DataString(event.KeyWorkflowName)
		s.WorkflowType = ev.DataString(event.KeyWorkflowType)
		s.TaskID = ev.DataString(event.KeyTaskID)
		s.Phase = PhasePlanning
		ts := ev.Timestamp
		s.StartedAt = &ts

	case event.WorkflowCompleted:
		s.Phase = PhaseComplete
		ts := ev.Timestamp
		s.CompletedAt = &ts
		// Totals are non-decreasing: the completion event may carry the
		// final figures, but never lowers what was already accumulated.
		if cost := ev.DataFloat(event.KeyTotalCost); cost > s.TotalCostUSD {
			s.TotalCostUSD = cost
		}
		if dur := ev.DataInt(event.KeyDurationMS); dur > s.TotalDurationMS {
			s.TotalDurationMS = dur
		}

	case event.WorkflowFailed:
		s.LastError = ev.DataString(event.KeyError)
		ts := ev.Timestamp
		s.FailedAt = &ts

	case event.PhaseChanged:
		to := Phase(ev.DataString(event.KeyPhaseTo))
		if to.Valid() {
			s.Phase = to
		}

	case event.WorktreeCreated:
		s.WorktreePath = ev.DataString(event.KeyPath)
		s.WorktreeBranch = ev.DataString(event.KeyBranch)
		s.Worktree = WorktreeCreated
	case event.WorktreeActive:
		s.Worktree = WorktreeActive
	case event.WorktreeMerged:
		s.Worktree = WorktreeMerged
	case event.WorktreeDeleted:
		s.Worktree = WorktreeDeleted

	case event.FeaturePlanned:
		name := ev.DataString(event.KeyFeatureName)
		if s.Feature(name) == nil {
			s.Features = append(s.Features, Feature{
				Name:        name,
				Description: ev.DataString(event.KeyDescription),
				Status:      FeatureNotStarted,
			})
		}

	case event.FeatureStarted:
		if f := s.Feature(ev.DataString(event.KeyFeatureName)); f != nil {
			f.Status = FeatureInProgress
			ts := ev.Timestamp
			f.StartedAt = &ts
			s.IterationCount++
		}

	case event.FeatureCompleted:
		if f := s.Feature(ev.DataString(event.KeyFeatureName)); f != nil {
			f.Status = FeatureCompleted
			f.TestsPassing = ev.DataBool(event.KeyTestsPassing)
			f.Error = ""
			ts := ev.Timestamp
			f.CompletedAt = &ts
			if s.CurrentFeatureIndex < len(s.Features) {
				s.CurrentFeatureIndex++
			}
		}
		s.accumulateCost(ev)

	case event.FeatureFailed:
		if f := s.Feature(ev.DataString(event.KeyFeatureName)); f != nil {
			f.Status = FeatureFailed
			f.Error = ev.DataString(event.KeyError)
		}
		s.accumulateCost(ev)

	case event.TestsStarted:
		if s.Phase == PhaseVerifying {
			s.VerificationCount++
		}

	case event.TestsPassed:
		if s.Phase == PhaseVerifying {
			s.LastVerificationPassed = true
		}
		if f := s.currentFeature(); f != nil && f.Status == FeatureInProgress {
			f.TestsPassing = true
		}

	case event.TestsFailed:
		if s.Phase == PhaseVerifying {
			s.LastVerificationPassed = false
		}
		if f := s.currentFeature(); f != nil && f.Status == FeatureInProgress {
			f.TestsPassing = false
		}

	case event.CommitCreated:
		if sha := ev.DataString(event.KeySHA); sha != "" {
			s.Commits = append(s.Commits, sha)
		}

	case event.CommitFailed:
		s.LastError = ev.DataString(event.KeyError)

	default:
		// Messaging and note events do not affect workflow state.
	}
	return nil
}

// currentFeature returns the feature at CurrentFeatureIndex, or nil when
// the index is at the end of the plan.
func (s *State) currentFeature() *Feature {
	if s.CurrentFeatureIndex < 0 || s.CurrentFeatureIndex >= len(s.Features) {
		return nil
	}
	return &s.Features[s.CurrentFeatureIndex]
}

// accumulateCost folds optional cost_usd / duration_ms payload fields into
// the monotone counters.
func (s *State) accumulateCost(ev event.Event) {
	if cost := ev.DataFloat(event.KeyCostUSD); cost > 0 {
		s.TotalCostUSD += cost
	}
	if dur := ev.DataInt(event.KeyDurationMS); dur > 0 {
		s.TotalDurationMS += dur
	}
}
