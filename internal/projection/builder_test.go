package projection

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jcflow/jc/internal/event"
	"github.com/jcflow/jc/internal/workflow"
)

func TestWorkflowBuilder_FoldMatchesStateMachine(t *testing.T) {
	wf := "wf-pb"
	events := []event.Event{
		event.NewWorkflowStarted(wf, "auth work", "feature", "JC-1"),
		event.NewFeaturePlanned(wf, "auth", "add login"),
		event.NewPhaseChanged(wf, "planning", "implementing"),
		event.NewFeatureStarted(wf, "auth"),
		event.NewFeatureCompleted(wf, "auth", true),
		event.NewWorkflowCompleted(wf, 500, 0.1),
	}

	state, err := Fold(NewWorkflowBuilder(wf), events)
	require.NoError(t, err)
	s := state.(*workflow.State)
	require.Equal(t, workflow.PhaseComplete, s.Phase)
	require.True(t, s.IsComplete())

	// The same events folded directly through the state produce an
	// identical result: the builder adds no semantics of its own.
	direct := workflow.NewState(wf)
	for _, ev := range events {
		require.NoError(t, direct.ApplyEvent(ev))
	}
	require.Equal(t, direct, s)
}

func TestWorkflowBuilder_ApplyIsPure(t *testing.T) {
	b := NewWorkflowBuilder("wf-pb")
	initial := b.InitialState()

	next, err := b.Apply(initial, event.NewWorkflowStarted("wf-pb", "n", "t", ""))
	require.NoError(t, err)
	require.Nil(t, initial.(*workflow.State).StartedAt, "input state must not be mutated")
	require.NotNil(t, next.(*workflow.State).StartedAt)
}

func TestWorkflowBuilder_IgnoresOtherWorkflows(t *testing.T) {
	b := NewWorkflowBuilder("wf-pb")
	state := b.InitialState()

	same, err := b.Apply(state, event.NewWorkflowStarted("wf-other", "n", "t", ""))
	require.NoError(t, err)
	require.Same(t, state.(*workflow.State), same.(*workflow.State))
}

func TestWorkflowBuilder_SnapshotRoundTrip(t *testing.T) {
	wf := "wf-pb"
	b := NewWorkflowBuilder(wf)
	state, err := Fold(b, []event.Event{
		event.NewWorkflowStarted(wf, "n", "t", "JC-2"),
		event.NewFeaturePlanned(wf, "auth", ""),
	})
	require.NoError(t, err)

	raw, err := b.MarshalState(state)
	require.NoError(t, err)
	restored, err := b.UnmarshalState(raw)
	require.NoError(t, err)

	final, err := FoldFrom(b, restored, []event.Event{
		event.NewPhaseChanged(wf, "planning", "implementing"),
	})
	require.NoError(t, err)
	require.Equal(t, workflow.PhaseImplementing, final.(*workflow.State).Phase)
	require.Equal(t, "JC-2", final.(*workflow.State).TaskID)
}

func TestFold_ReportsFailingEventIndex(t *testing.T) {
	wf := "wf-pb"
	events := []event.Event{
		event.NewWorkflowStarted(wf, "n", "t", ""),
		{WorkflowID: wf, Type: "workflow.imploded"},
	}
	_, err := Fold(NewWorkflowBuilder(wf), events)
	require.Error(t, err)
	require.Contains(t, err.Error(), "event 1")
	var uerr *event.UnknownTypeError
	require.ErrorAs(t, err, &uerr)
}

func TestNotesBuilder_IndexesStayStable(t *testing.T) {
	wf := "wf-nb"
	b := NewNotesBuilder()
	events := []event.Event{
		event.NewNote(wf, event.NoteObservation, event.Note{
			Agent: "alice", Title: "first", Content: "x", Tags: []string{"auth", "db"},
		}),
		event.NewNote(wf, event.NoteDecision, event.Note{
			Agent: "bob", Title: "second", Content: "y", Tags: []string{"auth"},
		}),
		event.NewNote(wf, event.NoteObservation, event.Note{
			Agent: "alice", Title: "third", Content: "z",
			RelatedFile: "auth.go", RelatedFeature: "auth",
		}),
	}

	state, err := Fold(b, events)
	require.NoError(t, err)
	s := state.(*NotesState)

	require.Len(t, s.Notes, 3)
	require.Equal(t, []int{0, 2}, s.ByCategory["observation"])
	require.Equal(t, []int{1}, s.ByCategory["decision"])
	require.Equal(t, []int{0, 2}, s.ByAgent["alice"])
	require.Equal(t, []int{0, 1}, s.ByTag["auth"])
	require.Equal(t, []int{0}, s.ByTag["db"])

	byAlice := s.ByAgentNotes("alice")
	require.Len(t, byAlice, 2)
	require.Equal(t, "first", byAlice[0].Title)
	require.Equal(t, "third", byAlice[1].Title)
	require.Equal(t, "auth.go", byAlice[1].RelatedFile)
	require.Equal(t, "observation", byAlice[0].Category)
}

func TestNotesBuilder_NonNoteEventsLeaveStateUntouched(t *testing.T) {
	b := NewNotesBuilder()
	state := b.InitialState()
	same, err := b.Apply(state, event.NewCommitCreated("wf-nb", "abc"))
	require.NoError(t, err)
	require.Same(t, state.(*NotesState), same.(*NotesState))
}

func TestNotesBuilder_SnapshotRoundTrip(t *testing.T) {
	wf := "wf-nb"
	b := NewNotesBuilder()
	state, err := Fold(b, []event.Event{
		event.NewNote(wf, event.NoteTodo, event.Note{Agent: "alice", Title: "t", Content: "c", Tags: []string{"x"}}),
	})
	require.NoError(t, err)

	raw, err := b.MarshalState(state)
	require.NoError(t, err)
	restored, err := b.UnmarshalState(raw)
	require.NoError(t, err)

	final, err := FoldFrom(b, restored, []event.Event{
		event.NewNote(wf, event.NoteTodo, event.Note{Agent: "alice", Title: "t2", Content: "c2", Tags: []string{"x"}}),
	})
	require.NoError(t, err)
	s := final.(*NotesState)
	require.Equal(t, []int{0, 1}, s.ByTag["x"], "positions continue across a snapshot boundary")
}

func TestNotesBuilder_UnknownTypeFails(t *testing.T) {
	b := NewNotesBuilder()
	_, err := b.Apply(b.InitialState(), event.Event{WorkflowID: "wf", Type: "agent.note.rant"})
	var uerr *event.UnknownTypeError
	require.ErrorAs(t, err, &uerr)
}
