package projection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jcflow/jc/internal/event"
)

// InboxMessage is a message received by the current agent.
type InboxMessage struct {
	EventID        string     `json:"event_id"`
	MessageID      string     `json:"message_id"`
	From           string     `json:"from"`
	To             string     `json:"to"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body"`
	Priority       string     `json:"priority"`
	CreatedAt      time.Time  `json:"created_at"`
	ReceivedAt     time.Time  `json:"received_at"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CorrelationID  string     `json:"correlation_id,omitempty"`
}

// OutboxMessage is a message sent by the current agent that has not yet
// completed.
type OutboxMessage struct {
	EventID       string     `json:"event_id"`
	MessageID     string     `json:"message_id"`
	From          string     `json:"from"`
	To            string     `json:"to"`
	Subject       string     `json:"subject"`
	Body          string     `json:"body"`
	Priority      string     `json:"priority"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        time.Time  `json:"sent_at"`
	Completed     bool       `json:"completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Success       *bool      `json:"success,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
}

// ConversationMessage is a completed message promoted from the outbox into
// the conversation history. CorrelationID is always set.
type ConversationMessage struct {
	EventID       string    `json:"event_id"`
	MessageID     string    `json:"message_id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	Priority      string    `json:"priority"`
	CreatedAt     time.Time `json:"created_at"`
	SentAt        time.Time `json:"sent_at"`
	CompletedAt   time.Time `json:"completed_at"`
	Success       bool      `json:"success"`
	Result        string    `json:"result,omitempty"`
	CorrelationID string    `json:"correlation_id"`
}

// MailboxState is the per-agent messaging view.
type MailboxState struct {
	AgentID string                `json:"agent_id"`
	Inbox   []InboxMessage        `json:"inbox"`
	Outbox  []OutboxMessage       `json:"outbox"`
	History []ConversationMessage `json:"conversation_history"`
}

// Clone returns a deep copy.
func (s *MailboxState) Clone() *MailboxState {
	c := &MailboxState{
		AgentID: s.AgentID,
		Inbox:   make([]InboxMessage, len(s.Inbox)),
		Outbox:  make([]OutboxMessage, len(s.Outbox)),
		History: make([]ConversationMessage, len(s.History)),
	}
	copy(c.Inbox, s.Inbox)
	copy(c.Outbox, s.Outbox)
	copy(c.History, s.History)
	for i := range c.Inbox {
		if t := c.Inbox[i].AcknowledgedAt; t != nil {
			tc := *t
			c.Inbox[i].AcknowledgedAt = &tc
		}
	}
	for i := range c.Outbox {
		if t := c.Outbox[i].CompletedAt; t != nil {
			tc := *t
			c.Outbox[i].CompletedAt = &tc
		}
		if b := c.Outbox[i].Success; b != nil {
			bc := *b
			c.Outbox[i].Success = &bc
		}
	}
	return c
}

// MailboxBuilder materializes the messaging view for one agent. Events the
// agent does not participate in leave the state untouched.
type MailboxBuilder struct {
	AgentID string
}

// NewMailboxBuilder returns a builder for the given agent.
func NewMailboxBuilder(agentID string) *MailboxBuilder {
	return &MailboxBuilder{AgentID: agentID}
}

func (b *MailboxBuilder) Name() string { return "mailbox:" + b.AgentID }

func (b *MailboxBuilder) InitialState() any {
	return &MailboxState{
		AgentID: b.AgentID,
		Inbox:   []InboxMessage{},
		Outbox:  []OutboxMessage{},
		History: []ConversationMessage{},
	}
}

func (b *MailboxBuilder) Apply(state any, ev event.Event) (any, error) {
	s, ok := state.(*MailboxState)
	if !ok {
		return nil, fmt.Errorf("mailbox builder: unexpected state type %T", state)
	}
	if !ev.Type.Valid() {
		return nil, &event.UnknownTypeError{Type: ev.Type}
	}

	switch ev.Type {
	case event.MessageSent:
		return b.applySent(s, ev), nil
	case event.MessageAcknowledged:
		return b.applyAcknowledged(s, ev), nil
	case event.MessageCompleted:
		return b.applyCompleted(s, ev), nil
	default:
		// Valid but irrelevant to the mailbox.
		return s, nil
	}
}

func (b *MailboxBuilder) applySent(s *MailboxState, ev event.Event) *MailboxState {
	from := ev.DataString(event.KeyFrom)
	to := ev.DataString(event.KeyTo)
	if b.AgentID != from && b.AgentID != to {
		return s
	}

	next := s.Clone()
	if b.AgentID == to {
		next.Inbox = append(next.Inbox, InboxMessage{
			EventID:       ev.EventID,
			MessageID:     ev.DataString(event.KeyMessageID),
			From:          from,
			To:            to,
			Subject:       ev.DataString(event.KeySubject),
			Body:          ev.DataString(event.KeyBody),
			Priority:      ev.DataString(event.KeyPriority),
			CreatedAt:     ev.DataTime(event.KeyCreatedAt),
			ReceivedAt:    ev.DataTime(event.KeySentAt),
			CorrelationID: ev.DataString(event.KeyCorrelationID),
		})
	}
	if b.AgentID == from {
		next.Outbox = append(next.Outbox, OutboxMessage{
			EventID:       ev.EventID,
			MessageID:     ev.DataString(event.KeyMessageID),
			From:          from,
			To:            to,
			Subject:       ev.DataString(event.KeySubject),
			Body:          ev.DataString(event.KeyBody),
			Priority:      ev.DataString(event.KeyPriority),
			CreatedAt:     ev.DataTime(event.KeyCreatedAt),
			SentAt:        ev.DataTime(event.KeySentAt),
			CorrelationID: ev.DataString(event.KeyCorrelationID),
		})
	}
	return next
}

func (b *MailboxBuilder) applyAcknowledged(s *MailboxState, ev event.Event) *MailboxState {
	if b.AgentID != ev.DataString(event.KeyFrom) {
		return s
	}
	cid := ev.DataString(event.KeyCorrelationID)

	for i := range s.Inbox {
		if s.Inbox[i].EventID != cid {
			continue
		}
		// First acknowledgment fixes acknowledged_at for good.
		if s.Inbox[i].Acknowledged {
			return s
		}
		next := s.Clone()
		ts := ev.DataTime(event.KeyAckedAt)
		if ts.IsZero() {
			ts = ev.Timestamp
		}
		next.Inbox[i].Acknowledged = true
		next.Inbox[i].AcknowledgedAt = &ts
		return next
	}
	return s
}

func (b *MailboxBuilder) applyCompleted(s *MailboxState, ev event.Event) *MailboxState {
	if b.AgentID != ev.DataString(event.KeyFrom) {
		return s
	}
	cid := ev.DataString(event.KeyCorrelationID)

	for i := range s.Outbox {
		if s.Outbox[i].EventID != cid {
			continue
		}
		out := s.Outbox[i]

		// The completion's explicit correlation value wins over the one
		// stored on the outbox entry; the originating event id is the
		// fallback of last resort so history entries always carry one.
		correlation := cid
		if correlation == "" {
			correlation = out.CorrelationID
		}
		if correlation == "" {
			correlation = out.EventID
		}

		ts := ev.DataTime(event.KeyCompletedAt)
		if ts.IsZero() {
			ts = ev.Timestamp
		}

		next := s.Clone()
		next.Outbox = append(next.Outbox[:i], next.Outbox[i+1:]...)
		next.History = append(next.History, ConversationMessage{
			EventID:       out.EventID,
			MessageID:     out.MessageID,
			From:          out.From,
			To:            out.To,
			Subject:       out.Subject,
			Body:          out.Body,
			Priority:      out.Priority,
			CreatedAt:     out.CreatedAt,
			SentAt:        out.SentAt,
			CompletedAt:   ts,
			Success:       ev.DataBool(event.KeySuccess),
			Result:        ev.DataString(event.KeyResult),
			CorrelationID: correlation,
		})
		return next
	}
	return s
}

func (b *MailboxBuilder) MarshalState(state any) ([]byte, error) {
	s, ok := state.(*MailboxState)
	if !ok {
		return nil, fmt.Errorf("mailbox builder: unexpected state type %T", state)
	}
	return json.Marshal(s)
}

func (b *MailboxBuilder) UnmarshalState(data []byte) (any, error) {
	var s MailboxState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("mailbox builder: decode state: %w", err)
	}
	if s.Inbox == nil {
		s.Inbox = []InboxMessage{}
	}
	if s.Outbox == nil {
		s.Outbox = []OutboxMessage{}
	}
	if s.History == nil {
		s.History = []ConversationMessage{}
	}
	return &s, nil
}
