package projection

import (
	"fmt"
	"sort"
	"time"
)

// Thread groups the mailbox entries belonging to one correlation id.
type Thread struct {
	Inbox   []InboxMessage        `json:"inbox"`
	Outbox  []OutboxMessage       `json:"outbox"`
	History []ConversationMessage `json:"history"`
	All     []ThreadMessage       `json:"all"`
}

// ThreadMessage is one entry in a thread timeline, normalized across the
// three mailbox views.
type ThreadMessage struct {
	Source    string    `json:"source"` // inbox, outbox, or history
	EventID   string    `json:"event_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
}

// ThreadStatus is the lifecycle status of a thread.
type ThreadStatus string

const (
	ThreadActive    ThreadStatus = "active"
	ThreadCompleted ThreadStatus = "completed"
	ThreadNotFound  ThreadStatus = "not_found"
)

// ThreadSummary describes one thread: who spoke, how much, in what order,
// and what is still owed.
type ThreadSummary struct {
	CorrelationID  string          `json:"correlation_id"`
	Participants   []string        `json:"participants"`
	MessageCount   int             `json:"message_count"`
	Timeline       []ThreadMessage `json:"timeline"`
	Status         ThreadStatus    `json:"status"`
	PendingActions []string        `json:"pending_actions"`
}

// ThreadStatistics aggregates across all threads in a mailbox state.
type ThreadStatistics struct {
	TotalThreads    int `json:"total_threads"`
	TotalMessages   int `json:"total_messages"`
	OrphanedThreads int `json:"orphaned_threads"`
}

// ConsistencyReport is the result of checking a mailbox state's threads.
type ConsistencyReport struct {
	Valid            bool             `json:"valid"`
	Inconsistencies  []string         `json:"inconsistencies"`
	ThreadStatistics ThreadStatistics `json:"thread_statistics"`
}

// threadKey is the correlation key of a mailbox entry. A sent event's own
// event id doubles as its correlation id when none was supplied.
func inboxKey(m InboxMessage) string {
	if m.CorrelationID != "" {
		return m.CorrelationID
	}
	return m.EventID
}

func outboxKey(m OutboxMessage) string {
	if m.CorrelationID != "" {
		return m.CorrelationID
	}
	return m.EventID
}

func matches(cid, correlationID, eventID string) bool {
	return correlationID == cid || eventID == cid
}

// MessagesByCorrelationID collects every mailbox entry belonging to the
// thread identified by cid. An entry belongs when either its stored
// correlation id or its originating event id equals cid.
func MessagesByCorrelationID(s *MailboxState, cid string) Thread {
	t := Thread{
		Inbox:   []InboxMessage{},
		Outbox:  []OutboxMessage{},
		History: []ConversationMessage{},
		All:     []ThreadMessage{},
	}
	for _, m := range s.Inbox {
		if matches(cid, m.CorrelationID, m.EventID) {
			t.Inbox = append(t.Inbox, m)
			t.All = append(t.All, ThreadMessage{
				Source: "inbox", EventID: m.EventID, From: m.From, To: m.To,
				Subject: m.Subject, Timestamp: m.ReceivedAt,
			})
		}
	}
	for _, m := range s.Outbox {
		if matches(cid, m.CorrelationID, m.EventID) {
			t.Outbox = append(t.Outbox, m)
			t.All = append(t.All, ThreadMessage{
				Source: "outbox", EventID: m.EventID, From: m.From, To: m.To,
				Subject: m.Subject, Timestamp: m.SentAt,
			})
		}
	}
	for _, m := range s.History {
		if matches(cid, m.CorrelationID, m.EventID) {
			t.History = append(t.History, m)
			t.All = append(t.All, ThreadMessage{
				Source: "history", EventID: m.EventID, From: m.From, To: m.To,
				Subject: m.Subject, Timestamp: m.SentAt,
			})
		}
	}
	sort.SliceStable(t.All, func(i, j int) bool {
		return t.All[i].Timestamp.Before(t.All[j].Timestamp)
	})
	return t
}

// GetThreadSummary summarizes the thread identified by cid. A thread with
// no entries is not_found; one whose entries all live in history is
// completed; anything else is active, with the outstanding obligations
// listed in PendingActions.
func GetThreadSummary(s *MailboxState, cid string) ThreadSummary {
	t := MessagesByCorrelationID(s, cid)
	summary := ThreadSummary{
		CorrelationID:  cid,
		Participants:   []string{},
		Timeline:       t.All,
		MessageCount:   len(t.All),
		PendingActions: []string{},
	}
	if len(t.All) == 0 {
		summary.Status = ThreadNotFound
		return summary
	}

	seen := map[string]bool{}
	for _, m := range t.All {
		for _, p := range []string{m.From, m.To} {
			if p != "" && !seen[p] {
				seen[p] = true
				summary.Participants = append(summary.Participants, p)
			}
		}
	}

	for _, m := range t.Inbox {
		if !m.Acknowledged {
			summary.PendingActions = append(summary.PendingActions,
				fmt.Sprintf("acknowledge message %s", m.EventID))
		}
	}
	for _, m := range t.Outbox {
		summary.PendingActions = append(summary.PendingActions,
			fmt.Sprintf("complete message %s", m.EventID))
	}

	if len(t.Outbox) == 0 && len(summary.PendingActions) == 0 && len(t.History) > 0 {
		summary.Status = ThreadCompleted
	} else {
		summary.Status = ThreadActive
	}
	return summary
}

// ValidateThreadConsistency checks the structural invariants of a mailbox
// state. An acknowledged inbox entry whose correlation id points at no sent
// event known to this projection marks its thread as orphaned.
func ValidateThreadConsistency(s *MailboxState) ConsistencyReport {
	report := ConsistencyReport{Valid: true, Inconsistencies: []string{}}

	knownEventIDs := map[string]bool{}
	threads := map[string]bool{}
	orphaned := map[string]bool{}

	for _, m := range s.Inbox {
		knownEventIDs[m.EventID] = true
		threads[inboxKey(m)] = true
	}
	for _, m := range s.Outbox {
		knownEventIDs[m.EventID] = true
		threads[outboxKey(m)] = true
	}
	for _, m := range s.History {
		knownEventIDs[m.EventID] = true
		threads[m.CorrelationID] = true
	}

	for _, m := range s.Inbox {
		if m.Acknowledged && m.AcknowledgedAt == nil {
			report.Inconsistencies = append(report.Inconsistencies,
				fmt.Sprintf("inbox %s: acknowledged without acknowledged_at", m.EventID))
		}
		if m.Acknowledged && m.CorrelationID != "" && !knownEventIDs[m.CorrelationID] {
			orphaned[inboxKey(m)] = true
			report.Inconsistencies = append(report.Inconsistencies,
				fmt.Sprintf("inbox %s: acknowledged but correlation %s matches no known message", m.EventID, m.CorrelationID))
		}
	}
	for _, m := range s.Outbox {
		if m.Completed {
			report.Inconsistencies = append(report.Inconsistencies,
				fmt.Sprintf("outbox %s: marked completed but not promoted to history", m.EventID))
		}
	}
	for _, m := range s.History {
		if m.CorrelationID == "" {
			report.Inconsistencies = append(report.Inconsistencies,
				fmt.Sprintf("history %s: missing correlation_id", m.EventID))
		}
	}

	report.ThreadStatistics = ThreadStatistics{
		TotalThreads:    len(threads),
		TotalMessages:   len(s.Inbox) + len(s.Outbox) + len(s.History),
		OrphanedThreads: len(orphaned),
	}
	report.Valid = len(report.Inconsistencies) == 0
	return report
}
