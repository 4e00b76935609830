package event

import (
	"time"

	"github.com/google/uuid"
)

// Priority is the delivery priority of an inter-agent message.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ValidPriority reports whether p is one of the four priorities.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Payload keys shared across event kinds. Builders read payloads through
// these constants so a renamed key is a single-site change.
const (
	KeyWorkflowName  = "workflow_name"
	KeyWorkflowType  = "workflow_type"
	KeyTaskID        = "task_id"
	KeyPhaseFrom     = "from_phase"
	KeyPhaseTo       = "to_phase"
	KeyFeatureName   = "name"
	KeyDescription   = "description"
	KeyTestsPassing  = "tests_passing"
	KeyError         = "error"
	KeyPhase         = "phase"
	KeyDurationMS    = "duration_ms"
	KeyTotalCost     = "total_cost"
	KeyCostUSD       = "cost_usd"
	KeySHA           = "sha"
	KeyPath          = "path"
	KeyBranch        = "branch"
	KeyFrom          = "from"
	KeyTo            = "to"
	KeySubject       = "subject"
	KeyBody          = "body"
	KeyPriority      = "priority"
	KeyCorrelationID = "correlation_id"
	KeyMessageID     = "message_id"
	KeyCreatedAt     = "created_at"
	KeySentAt        = "sent_at"
	KeyAckedAt       = "acknowledged_at"
	KeyCompletedAt   = "completed_at"
	KeySuccess       = "success"
	KeyResult        = "result"
	KeyAgent         = "agent"
	KeyTitle         = "title"
	KeyContent       = "content"
	KeyTags          = "tags"
	KeyRelatedFile   = "related_file"
	KeyRelatedFeat   = "related_feature"
)

// timestamp formats a payload timestamp in the at-rest layout.
func timestamp(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(TimestampLayout)
}

// NewWorkflowStarted records the beginning of a workflow.
func NewWorkflowStarted(workflowID, name, workflowType, taskID string) Event {
	data := map[string]any{
		KeyWorkflowName: name,
		KeyWorkflowType: workflowType,
	}
	if taskID != "" {
		data[KeyTaskID] = taskID
	}
	return New(workflowID, WorkflowStarted, data)
}

// NewWorkflowCompleted records workflow completion with its final counters.
func NewWorkflowCompleted(workflowID string, durationMS int64, totalCost float64) Event {
	return New(workflowID, WorkflowCompleted, map[string]any{
		KeyDurationMS: durationMS,
		KeyTotalCost:  totalCost,
	})
}

// NewWorkflowFailed records a workflow failure and the phase it failed in.
func NewWorkflowFailed(workflowID, errMsg, phase string) Event {
	return New(workflowID, WorkflowFailed, map[string]any{
		KeyError: errMsg,
		KeyPhase: phase,
	})
}

// NewPhaseChanged records a phase transition.
func NewPhaseChanged(workflowID, from, to string) Event {
	return New(workflowID, PhaseChanged, map[string]any{
		KeyPhaseFrom: from,
		KeyPhaseTo:   to,
	})
}

// NewWorktree records one of the worktree lifecycle events.
func NewWorktree(workflowID string, t Type, path, branch string) Event {
	data := map[string]any{}
	if path != "" {
		data[KeyPath] = path
	}
	if branch != "" {
		data[KeyBranch] = branch
	}
	return New(workflowID, t, data)
}

// NewFeaturePlanned records a planned feature.
func NewFeaturePlanned(workflowID, name, description string) Event {
	return New(workflowID, FeaturePlanned, map[string]any{
		KeyFeatureName: name,
		KeyDescription: description,
	})
}

// NewFeatureStarted records work beginning on a feature.
func NewFeatureStarted(workflowID, name string) Event {
	return New(workflowID, FeatureStarted, map[string]any{
		KeyFeatureName: name,
	})
}

// NewFeatureCompleted records a completed feature and whether its tests pass.
func NewFeatureCompleted(workflowID, name string, testsPassing bool) Event {
	return New(workflowID, FeatureCompleted, map[string]any{
		KeyFeatureName:  name,
		KeyTestsPassing: testsPassing,
	})
}

// NewFeatureFailed records a failed feature.
func NewFeatureFailed(workflowID, name, errMsg string) Event {
	return New(workflowID, FeatureFailed, map[string]any{
		KeyFeatureName: name,
		KeyError:       errMsg,
	})
}

// NewTests records one of the test outcome events for a feature.
func NewTests(workflowID string, t Type, feature string) Event {
	data := map[string]any{}
	if feature != "" {
		data[KeyFeatureName] = feature
	}
	return New(workflowID, t, data)
}

// NewCommitCreated records a created commit.
func NewCommitCreated(workflowID, sha string) Event {
	return New(workflowID, CommitCreated, map[string]any{
		KeySHA: sha,
	})
}

// NewCommitFailed records a failed commit attempt.
func NewCommitFailed(workflowID, errMsg string) Event {
	return New(workflowID, CommitFailed, map[string]any{
		KeyError: errMsg,
	})
}

// Message is the payload of an agent.message.sent event.
type Message struct {
	From          string
	To            string
	Subject       string
	Body          string
	Priority      Priority
	CorrelationID string
}

// NewMessageSent records an inter-agent message. A message id is generated
// and the created/sent timestamps are set to the event time. The sent
// event's EventID doubles as the correlation id for later acknowledgment
// and completion events.
func NewMessageSent(workflowID string, m Message) Event {
	if m.Priority == "" {
		m.Priority = PriorityNormal
	}
	ev := New(workflowID, MessageSent, nil)
	ts := timestamp(ev.Timestamp)
	ev.Data = map[string]any{
		KeyFrom:      m.From,
		KeyTo:        m.To,
		KeySubject:   m.Subject,
		KeyBody:      m.Body,
		KeyPriority:  string(m.Priority),
		KeyMessageID: uuid.NewString(),
		KeyCreatedAt: ts,
		KeySentAt:    ts,
	}
	if m.CorrelationID != "" {
		ev.Data[KeyCorrelationID] = m.CorrelationID
	}
	return ev
}

// NewMessageAcknowledged records an acknowledgment of a sent message.
// correlationID is the EventID of the originating sent event; from is the
// acknowledging agent.
func NewMessageAcknowledged(workflowID, correlationID, from string) Event {
	ev := New(workflowID, MessageAcknowledged, nil)
	ev.Data = map[string]any{
		KeyCorrelationID: correlationID,
		KeyFrom:          from,
		KeyAckedAt:       timestamp(ev.Timestamp),
	}
	return ev
}

// NewMessageCompleted records completion of a sent message. correlationID
// is the EventID of the originating sent event; from is the original
// sender.
func NewMessageCompleted(workflowID, correlationID, from string, success bool, result string) Event {
	ev := New(workflowID, MessageCompleted, nil)
	ev.Data = map[string]any{
		KeyCorrelationID: correlationID,
		KeyFrom:          from,
		KeyCompletedAt:   timestamp(ev.Timestamp),
		KeySuccess:       success,
	}
	if result != "" {
		ev.Data[KeyResult] = result
	}
	return ev
}

// Note is the payload of an agent.note.* event. The category is carried by
// the event type, not the payload.
type Note struct {
	Agent          string
	Title          string
	Content        string
	Tags           []string
	RelatedFile    string
	RelatedFeature string
}

// NewNote records an agent note of the given category type (one of the
// agent.note.* types).
func NewNote(workflowID string, t Type, n Note) Event {
	ev := New(workflowID, t, nil)
	ev.Data = map[string]any{
		KeyAgent:     n.Agent,
		KeyTitle:     n.Title,
		KeyContent:   n.Content,
		KeyCreatedAt: timestamp(ev.Timestamp),
	}
	if len(n.Tags) > 0 {
		tags := make([]any, len(n.Tags))
		for i, tag := range n.Tags {
			tags[i] = tag
		}
		ev.Data[KeyTags] = tags
	}
	if n.RelatedFile != "" {
		ev.Data[KeyRelatedFile] = n.RelatedFile
	}
	if n.RelatedFeature != "" {
		ev.Data[KeyRelatedFeat] = n.RelatedFeature
	}
	return ev
}
