package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jcflow/jc/internal/event"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhasePlanning, PhaseImplementing, true},
		{PhasePlanning, PhaseVerifying, false},
		{PhasePlanning, PhaseComplete, false},
		{PhaseImplementing, PhaseVerifying, true},
		{PhaseImplementing, PhaseComplete, true},
		{PhaseImplementing, PhasePlanning, false},
		{PhaseVerifying, PhaseImplementing, true},
		{PhaseVerifying, PhaseComplete, true},
		{PhaseVerifying, PhasePlanning, false},
		{PhaseComplete, PhasePlanning, false},
		{PhaseComplete, PhaseImplementing, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestApplyEvent_FullWorkflowFold(t *testing.T) {
	wf := "wf-s1"
	s := NewState(wf)

	events := []event.Event{
		event.NewWorkflowStarted(wf, "auth work", "feature", "JC-1"),
		event.NewWorktree(wf, event.WorktreeCreated, "/t/"+wf, "f/"+wf),
		event.NewFeaturePlanned(wf, "auth", "add login"),
		event.NewPhaseChanged(wf, "planning", "implementing"),
		event.NewFeatureStarted(wf, "auth"),
		event.NewTests(wf, event.TestsPassed, "auth"),
		event.NewCommitCreated(wf, "abc"),
		event.NewFeatureCompleted(wf, "auth", true),
		event.NewWorkflowCompleted(wf, 1000, 0.5),
	}
	for _, ev := range events {
		require.NoError(t, s.ApplyEvent(ev))
	}

	require.Equal(t, PhaseComplete, s.Phase)
	require.Len(t, s.Features, 1)
	require.Equal(t, "auth", s.Features[0].Name)
	require.Equal(t, FeatureCompleted, s.Features[0].Status)
	require.True(t, s.Features[0].TestsPassing)
	require.Equal(t, []string{"abc"}, s.Commits)
	require.Equal(t, "/t/"+wf, s.WorktreePath)
	require.Equal(t, "f/"+wf, s.WorktreeBranch)
	require.Equal(t, 1, s.CurrentFeatureIndex)
	require.Equal(t, 1, s.IterationCount)
	require.True(t, s.IsComplete())
	require.False(t, s.IsFailed())
}

func TestApplyEvent_FeatureFailed(t *testing.T) {
	wf := "wf-fail"
	s := NewState(wf)
	require.NoError(t, s.ApplyEvent(event.NewFeaturePlanned(wf, "auth", "")))
	require.NoError(t, s.ApplyEvent(event.NewFeatureStarted(wf, "auth")))
	require.NoError(t, s.ApplyEvent(event.NewFeatureFailed(wf, "auth", "x")))

	require.Equal(t, FeatureFailed, s.Features[0].Status)
	require.Equal(t, "x", s.Features[0].Error)
	require.Equal(t, 0, s.CurrentFeatureIndex, "failure does not advance the index")
	require.True(t, s.IsFailed())
	require.False(t, s.IsComplete())
}

func TestApplyEvent_DuplicatePlanIgnored(t *testing.T) {
	s := NewState("wf")
	require.NoError(t, s.ApplyEvent(event.NewFeaturePlanned("wf", "auth", "first")))
	require.NoError(t, s.ApplyEvent(event.NewFeaturePlanned("wf", "auth", "second")))
	require.Len(t, s.Features, 1)
	require.Equal(t, "first", s.Features[0].Description)
}

func TestApplyEvent_UnknownTypeRaises(t *testing.T) {
	s := NewState("wf")
	ev := event.Event{WorkflowID: "wf", Type: "workflow.teleported"}
	err := s.ApplyEvent(ev)
	require.Error(t, err)
	var uerr *event.UnknownTypeError
	require.ErrorAs(t, err, &uerr)
}

func TestApplyEvent_MessagingAndNotesAreNoOps(t *testing.T) {
	s := NewState("wf")
	before := *s

	require.NoError(t, s.ApplyEvent(event.NewMessageSent("wf", event.Message{From: "a", To: "b"})))
	require.NoError(t, s.ApplyEvent(event.NewNote("wf", event.NoteObservation, event.Note{Agent: "a", Content: "x"})))
	require.Equal(t, before.Phase, s.Phase)
	require.Empty(t, s.Features)
}

func TestApplyEvent_VerificationCounters(t *testing.T) {
	wf := "wf-verify"
	s := NewState(wf)
	require.NoError(t, s.ApplyEvent(event.NewWorkflowStarted(wf, "n", "t", "")))
	require.NoError(t, s.ApplyEvent(event.NewPhaseChanged(wf, "planning", "implementing")))
	require.NoError(t, s.ApplyEvent(event.NewPhaseChanged(wf, "implementing", "verifying")))

	require.NoError(t, s.ApplyEvent(event.NewTests(wf, event.TestsStarted, "")))
	require.NoError(t, s.ApplyEvent(event.NewTests(wf, event.TestsFailed, "")))
	require.Equal(t, 1, s.VerificationCount)
	require.False(t, s.LastVerificationPassed)

	require.NoError(t, s.ApplyEvent(event.NewTests(wf, event.TestsStarted, "")))
	require.NoError(t, s.ApplyEvent(event.NewTests(wf, event.TestsPassed, "")))
	require.Equal(t, 2, s.VerificationCount)
	require.True(t, s.LastVerificationPassed)
}

func TestApplyEvent_CountersNonDecreasing(t *testing.T) {
	wf := "wf-cost"
	s := NewState(wf)
	require.NoError(t, s.ApplyEvent(event.NewFeaturePlanned(wf, "a", "")))

	completed := event.NewFeatureCompleted(wf, "a", true)
	completed.Data[event.KeyCostUSD] = 1.5
	completed.Data[event.KeyDurationMS] = 2000
	require.NoError(t, s.ApplyEvent(completed))
	require.InDelta(t, 1.5, s.TotalCostUSD, 1e-9)
	require.Equal(t, int64(2000), s.TotalDurationMS)

	// A completion event carrying smaller totals never lowers the counters.
	require.NoError(t, s.ApplyEvent(event.NewWorkflowCompleted(wf, 100, 0.25)))
	require.InDelta(t, 1.5, s.TotalCostUSD, 1e-9)
	require.Equal(t, int64(2000), s.TotalDurationMS)
}

func TestProgress(t *testing.T) {
	s := NewState("wf")
	require.Equal(t, 0.0, s.Progress(), "empty plan")

	require.NoError(t, s.ApplyEvent(event.NewFeaturePlanned("wf", "a", "")))
	require.NoError(t, s.ApplyEvent(event.NewFeaturePlanned("wf", "b", "")))
	require.NoError(t, s.ApplyEvent(event.NewFeatureCompleted("wf", "a", true)))
	require.InDelta(t, 0.5, s.Progress(), 1e-9)
}

func TestClone_IsDeep(t *testing.T) {
	s := NewState("wf")
	require.NoError(t, s.ApplyEvent(event.NewWorkflowStarted("wf", "n", "t", "")))
	require.NoError(t, s.ApplyEvent(event.NewFeaturePlanned("wf", "a", "")))
	require.NoError(t, s.ApplyEvent(event.NewCommitCreated("wf", "abc")))

	c := s.Clone()
	c.Features[0].Name = "mutated"
	c.Commits[0] = "mutated"
	*c.StartedAt = c.StartedAt.AddDate(1, 0, 0)

	require.Equal(t, "a", s.Features[0].Name)
	require.Equal(t, "abc", s.Commits[0])
	require.NotEqual(t, *c.StartedAt, *s.StartedAt)
}

func TestIsComplete_RequiresAllFeaturesCompleted(t *testing.T) {
	s := NewState("wf")
	require.NoError(t, s.ApplyEvent(event.NewFeaturePlanned("wf", "a", "")))
	require.NoError(t, s.ApplyEvent(event.NewFeaturePlanned("wf", "b", "")))
	require.NoError(t, s.ApplyEvent(event.NewFeatureCompleted("wf", "a", true)))
	require.NoError(t, s.ApplyEvent(event.NewWorkflowCompleted("wf", 0, 0)))

	require.Equal(t, PhaseComplete, s.Phase)
	require.False(t, s.IsComplete(), "one feature still not_started")
}
