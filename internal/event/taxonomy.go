package event

// Type identifies the kind of state change an event records. The set is
// closed: the store rejects unknown types at append and projection builders
// fail loudly if one ever reaches them.
type Type string

// Workflow lifecycle events.
const (
	WorkflowStarted   Type = "workflow.started"
	WorkflowCompleted Type = "workflow.completed"
	WorkflowFailed    Type = "workflow.failed"
	PhaseChanged      Type = "phase.changed"
)

// Worktree infrastructure events. Opaque to most builders; the workflow
// builder folds them into the worktree fields.
const (
	WorktreeCreated Type = "worktree.created"
	WorktreeActive  Type = "worktree.active"
	WorktreeMerged  Type = "worktree.merged"
	WorktreeDeleted Type = "worktree.deleted"
)

// Feature lifecycle events.
const (
	FeaturePlanned   Type = "feature.planned"
	FeatureStarted   Type = "feature.started"
	FeatureCompleted Type = "feature.completed"
	FeatureFailed    Type = "feature.failed"
)

// Test outcome events.
const (
	TestsStarted Type = "tests.started"
	TestsPassed  Type = "tests.passed"
	TestsFailed  Type = "tests.failed"
)

// Commit outcome events.
const (
	CommitCreated Type = "commit.created"
	CommitFailed  Type = "commit.failed"
)

// Agent messaging events.
const (
	MessageSent         Type = "agent.message.sent"
	MessageAcknowledged Type = "agent.message.acknowledged"
	MessageCompleted    Type = "agent.message.completed"
)

// Agent note events, one per note category.
const (
	NoteObservation    Type = "agent.note.observation"
	NoteLearning       Type = "agent.note.learning"
	NoteDecision       Type = "agent.note.decision"
	NoteWarning        Type = "agent.note.warning"
	NoteAccomplishment Type = "agent.note.accomplishment"
	NoteContext        Type = "agent.note.context"
	NoteTodo           Type = "agent.note.todo"
	NoteQuestion       Type = "agent.note.question"
	NoteIdea           Type = "agent.note.idea"
	NoteReflection     Type = "agent.note.reflection"
)

// noteTypePrefix is the shared prefix of all note event types.
const noteTypePrefix = "agent.note."

// allTypes is the closed taxonomy.
var allTypes = map[Type]struct{}{
	WorkflowStarted: {}, WorkflowCompleted: {}, WorkflowFailed: {}, PhaseChanged: {},
	WorktreeCreated: {}, WorktreeActive: {}, WorktreeMerged: {}, WorktreeDeleted: {},
	FeaturePlanned: {}, FeatureStarted: {}, FeatureCompleted: {}, FeatureFailed: {},
	TestsStarted: {}, TestsPassed: {}, TestsFailed: {},
	CommitCreated: {}, CommitFailed: {},
	MessageSent: {}, MessageAcknowledged: {}, MessageCompleted: {},
	NoteObservation: {}, NoteLearning: {}, NoteDecision: {}, NoteWarning: {},
	NoteAccomplishment: {}, NoteContext: {}, NoteTodo: {}, NoteQuestion: {},
	NoteIdea: {}, NoteReflection: {},
}

// Valid reports whether t is a member of the closed taxonomy.
func (t Type) Valid() bool {
	_, ok := allTypes[t]
	return ok
}

// IsNote reports whether t is one of the agent.note.* types.
func (t Type) IsNote() bool {
	return len(t) > len(noteTypePrefix) && t[:len(noteTypePrefix)] == noteTypePrefix && t.Valid()
}

// NoteCategory returns the note category ("observation", "decision", ...)
// for note events, or "" for any other type.
func (t Type) NoteCategory() string {
	if !t.IsNote() {
		return ""
	}
	return string(t[len(noteTypePrefix):])
}

// Types returns the full taxonomy. The slice is a copy; callers may sort or
// mutate it freely.
func Types() []Type {
	out := make([]Type, 0, len(allTypes))
	for t := range allTypes {
		out = append(out, t)
	}
	return out
}
