package workflow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jcflow/jc/internal/event"
)

// recordingAppender captures appended events; it can be told to fail.
type recordingAppender struct {
	events  []event.Event
	failErr error
}

func (a *recordingAppender) Append(ev event.Event) error {
	if a.failErr != nil {
		return a.failErr
	}
	a.events = append(a.events, ev)
	return nil
}

func newMachine(t *testing.T) (*Machine, *recordingAppender) {
	t.Helper()
	app := &recordingAppender{}
	return NewMachine("wf-m", app), app
}

func TestMachine_StartEmitsWorkflowStarted(t *testing.T) {
	m, app := newMachine(t)

	require.NoError(t, m.Start("login flow", "feature", "JC-7"))
	require.Len(t, app.events, 1)
	require.Equal(t, event.WorkflowStarted, app.events[0].Type)

	st := m.State()
	require.Equal(t, "login flow", st.WorkflowName)
	require.Equal(t, "JC-7", st.TaskID)
	require.Equal(t, PhasePlanning, st.Phase)

	// Starting twice is an error and emits nothing further.
	require.Error(t, m.Start("again", "feature", ""))
	require.Len(t, app.events, 1)
}

func TestMachine_EveryMutationEmitsExactlyOneEvent(t *testing.T) {
	m, app := newMachine(t)

	steps := []func() error{
		func() error { return m.Start("n", "t", "") },
		func() error { return m.RecordWorktree(event.WorktreeCreated, "/t/wf-m", "f/wf-m") },
		func() error { return m.PlanFeature("auth", "login") },
		func() error { return m.TransitionPhase(PhaseImplementing) },
		func() error { return m.StartFeature("auth") },
		func() error { return m.RecordTestsStarted("auth") },
		func() error { return m.RecordTestsPassed("auth") },
		func() error { return m.RecordCommitCreated("abc") },
		func() error { return m.CompleteFeature("auth", true) },
		func() error { return m.TransitionPhase(PhaseVerifying) },
		func() error { return m.Complete() },
	}

	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		require.Len(t, app.events, i+1, "step %d must emit exactly one event", i)
	}

	st := m.State()
	require.True(t, st.IsComplete())
	require.Equal(t, []string{"abc"}, st.Commits)
}

func TestMachine_InvalidTransitionEmitsNothing(t *testing.T) {
	m, app := newMachine(t)
	require.NoError(t, m.Start("n", "t", ""))
	before := len(app.events)
	stBefore := m.State()

	err := m.TransitionPhase(PhaseVerifying)
	require.Error(t, err)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, PhasePlanning, terr.From)
	require.Equal(t, PhaseVerifying, terr.To)

	require.Len(t, app.events, before, "no event on invalid transition")
	require.Equal(t, stBefore.Phase, m.State().Phase)
}

func TestMachine_UnknownPhaseRejected(t *testing.T) {
	m, app := newMachine(t)
	require.NoError(t, m.Start("n", "t", ""))
	before := len(app.events)

	var terr *TransitionError
	require.ErrorAs(t, m.TransitionPhase(Phase("limbo")), &terr)
	require.Len(t, app.events, before)
}

func TestMachine_FeatureMustBePlannedFirst(t *testing.T) {
	m, app := newMachine(t)
	require.NoError(t, m.Start("n", "t", ""))
	before := len(app.events)

	var uerr *UnknownFeatureError
	require.ErrorAs(t, m.StartFeature("ghost"), &uerr)
	require.ErrorAs(t, m.CompleteFeature("ghost", true), &uerr)
	require.ErrorAs(t, m.FailFeature("ghost", "x"), &uerr)
	require.Len(t, app.events, before)
}

func TestMachine_DuplicatePlanRejected(t *testing.T) {
	m, _ := newMachine(t)
	require.NoError(t, m.Start("n", "t", ""))
	require.NoError(t, m.PlanFeature("auth", ""))
	require.Error(t, m.PlanFeature("auth", "again"))
	require.Error(t, m.PlanFeature("  ", ""))
}

func TestMachine_AppendFailureLeavesStateUnchanged(t *testing.T) {
	app := &recordingAppender{}
	m := NewMachine("wf-m", app)
	require.NoError(t, m.Start("n", "t", ""))
	require.NoError(t, m.PlanFeature("auth", ""))

	app.failErr = fmt.Errorf("disk full")
	err := m.StartFeature("auth")
	require.Error(t, err)
	var aerr *AppendError
	require.ErrorAs(t, err, &aerr)

	st := m.State()
	require.Equal(t, FeatureNotStarted, st.Features[0].Status)
	require.Equal(t, 0, st.IterationCount)
}

func TestMachine_CompleteOnlyFromImplementingOrVerifying(t *testing.T) {
	m, app := newMachine(t)
	require.NoError(t, m.Start("n", "t", ""))

	var terr *TransitionError
	require.ErrorAs(t, m.Complete(), &terr, "complete from planning is invalid")
	require.Len(t, app.events, 1)

	require.NoError(t, m.TransitionPhase(PhaseImplementing))
	require.NoError(t, m.Complete())
	last := app.events[len(app.events)-1]
	require.Equal(t, event.WorkflowCompleted, last.Type)
}

func TestMachine_FailRecordsErrorAndPhase(t *testing.T) {
	m, app := newMachine(t)
	require.NoError(t, m.Start("n", "t", ""))
	require.NoError(t, m.TransitionPhase(PhaseImplementing))
	require.NoError(t, m.Fail("executor gave up"))

	last := app.events[len(app.events)-1]
	require.Equal(t, event.WorkflowFailed, last.Type)
	require.Equal(t, "executor gave up", last.DataString(event.KeyError))
	require.Equal(t, string(PhaseImplementing), last.DataString(event.KeyPhase))
}

func TestMachine_RecordWorktreeRejectsNonWorktreeTypes(t *testing.T) {
	m, app := newMachine(t)
	require.NoError(t, m.Start("n", "t", ""))
	require.Error(t, m.RecordWorktree(event.CommitCreated, "", ""))
	require.Len(t, app.events, 1)
}

func TestResume_ContinuesFromProjectedState(t *testing.T) {
	s := NewState("wf-r")
	require.NoError(t, s.ApplyEvent(event.NewWorkflowStarted("wf-r", "n", "t", "")))
	require.NoError(t, s.ApplyEvent(event.NewFeaturePlanned("wf-r", "auth", "")))
	require.NoError(t, s.ApplyEvent(event.NewPhaseChanged("wf-r", "planning", "implementing")))

	app := &recordingAppender{}
	m := Resume(s, app)
	require.NoError(t, m.StartFeature("auth"))
	require.Equal(t, FeatureInProgress, m.State().Features[0].Status)

	// Resume clones: the source state stays untouched.
	require.Equal(t, FeatureNotStarted, s.Features[0].Status)
}
