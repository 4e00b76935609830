package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jcflow/jc/internal/event"
)

func sent(t *testing.T, wf, from, to, cid string) event.Event {
	t.Helper()
	return event.NewMessageSent(wf, event.Message{
		From:          from,
		To:            to,
		Subject:       "review please",
		Body:          "take a look",
		Priority:      event.PriorityHigh,
		CorrelationID: cid,
	})
}

func foldMailbox(t *testing.T, agent string, events []event.Event) *MailboxState {
	t.Helper()
	state, err := Fold(NewMailboxBuilder(agent), events)
	require.NoError(t, err)
	return state.(*MailboxState)
}

func TestMailbox_RoundTrip(t *testing.T) {
	wf := "wf-mb"
	s1 := sent(t, wf, "alice", "bob", "c1")
	ack := event.NewMessageAcknowledged(wf, s1.EventID, "bob")
	done := event.NewMessageCompleted(wf, s1.EventID, "alice", true, "merged")
	events := []event.Event{s1, ack, done}

	// Sender view: outbox drained, one history entry.
	a := foldMailbox(t, "alice", events)
	require.Empty(t, a.Outbox)
	require.Empty(t, a.Inbox)
	require.Len(t, a.History, 1)
	h := a.History[0]
	require.True(t, h.Success)
	require.Equal(t, "merged", h.Result)
	require.Equal(t, s1.EventID, h.CorrelationID)
	require.Equal(t, "alice", h.From)
	require.Equal(t, "bob", h.To)

	// Recipient view: one acknowledged inbox entry.
	b := foldMailbox(t, "bob", events)
	require.Len(t, b.Inbox, 1)
	require.True(t, b.Inbox[0].Acknowledged)
	require.NotNil(t, b.Inbox[0].AcknowledgedAt)
	require.Empty(t, b.Outbox)
	require.Empty(t, b.History)

	// Bystander view: untouched.
	c := foldMailbox(t, "carol", events)
	require.Empty(t, c.Inbox)
	require.Empty(t, c.Outbox)
	require.Empty(t, c.History)
}

func TestMailbox_FirstAckWins(t *testing.T) {
	wf := "wf-mb"
	s1 := sent(t, wf, "alice", "bob", "")
	ack1 := event.NewMessageAcknowledged(wf, s1.EventID, "bob")
	ack2 := event.NewMessageAcknowledged(wf, s1.EventID, "bob")
	ack2.Data[event.KeyAckedAt] = "2099-01-01T00:00:00.000Z"

	b := foldMailbox(t, "bob", []event.Event{s1, ack1, ack2})
	require.Len(t, b.Inbox, 1)
	require.True(t, b.Inbox[0].Acknowledged)
	first := *b.Inbox[0].AcknowledgedAt
	require.NotEqual(t, 2099, first.Year(), "second ack must not overwrite the first")
}

func TestMailbox_CompletionRemovesOutboxAtomically(t *testing.T) {
	wf := "wf-mb"
	s1 := sent(t, wf, "alice", "bob", "")
	s2 := sent(t, wf, "alice", "carol", "")
	done := event.NewMessageCompleted(wf, s1.EventID, "alice", false, "")

	a := foldMailbox(t, "alice", []event.Event{s1, s2, done})
	require.Len(t, a.Outbox, 1, "only the completed entry leaves the outbox")
	require.Equal(t, s2.EventID, a.Outbox[0].EventID)
	require.Len(t, a.History, 1)
	require.False(t, a.History[0].Success)
	require.NotEmpty(t, a.History[0].CorrelationID)
}

func TestMailbox_SelfMessageLandsInBothViews(t *testing.T) {
	s1 := sent(t, "wf-mb", "alice", "alice", "")
	a := foldMailbox(t, "alice", []event.Event{s1})
	require.Len(t, a.Inbox, 1)
	require.Len(t, a.Outbox, 1)
}

func TestMailbox_ApplyIsPure(t *testing.T) {
	wf := "wf-mb"
	b := NewMailboxBuilder("bob")
	s1 := sent(t, wf, "alice", "bob", "")

	state := b.InitialState()
	next, err := b.Apply(state, s1)
	require.NoError(t, err)
	require.Empty(t, state.(*MailboxState).Inbox, "input state must not be mutated")
	require.Len(t, next.(*MailboxState).Inbox, 1)

	// Irrelevant valid events return the same state object.
	same, err := b.Apply(next, event.NewCommitCreated(wf, "abc"))
	require.NoError(t, err)
	require.Same(t, next.(*MailboxState), same.(*MailboxState))
}

func TestMailbox_UnknownTypeFails(t *testing.T) {
	b := NewMailboxBuilder("bob")
	_, err := b.Apply(b.InitialState(), event.Event{WorkflowID: "wf", Type: "mystery.event"})
	var uerr *event.UnknownTypeError
	require.ErrorAs(t, err, &uerr)
}

func TestMailbox_SnapshotRoundTrip(t *testing.T) {
	wf := "wf-mb"
	b := NewMailboxBuilder("alice")
	s1 := sent(t, wf, "alice", "bob", "c1")
	state, err := Fold(b, []event.Event{s1})
	require.NoError(t, err)

	raw, err := b.MarshalState(state)
	require.NoError(t, err)
	restored, err := b.UnmarshalState(raw)
	require.NoError(t, err)

	// A completion replayed on top of the restored state still promotes.
	done := event.NewMessageCompleted(wf, s1.EventID, "alice", true, "")
	final, err := b.Apply(restored, done)
	require.NoError(t, err)
	require.Empty(t, final.(*MailboxState).Outbox)
	require.Len(t, final.(*MailboxState).History, 1)
}

func TestThread_SummaryLifecycle(t *testing.T) {
	wf := "wf-th"
	s1 := sent(t, wf, "alice", "bob", "")

	a := foldMailbox(t, "alice", []event.Event{s1})
	summary := GetThreadSummary(a, s1.EventID)
	require.Equal(t, ThreadActive, summary.Status)
	require.Len(t, summary.PendingActions, 1)
	require.Contains(t, summary.PendingActions[0], "complete message")
	require.ElementsMatch(t, []string{"alice", "bob"}, summary.Participants)

	done := event.NewMessageCompleted(wf, s1.EventID, "alice", true, "")
	a = foldMailbox(t, "alice", []event.Event{s1, done})
	summary = GetThreadSummary(a, s1.EventID)
	require.Equal(t, ThreadCompleted, summary.Status)
	require.Empty(t, summary.PendingActions)
	require.Equal(t, 1, summary.MessageCount)

	require.Equal(t, ThreadNotFound, GetThreadSummary(a, "no-such-thread").Status)
}

func TestThread_MessagesByCorrelationID(t *testing.T) {
	wf := "wf-th"
	s1 := sent(t, wf, "alice", "bob", "c1")
	s2 := sent(t, wf, "alice", "carol", "c2")

	a := foldMailbox(t, "alice", []event.Event{s1, s2})
	thread := MessagesByCorrelationID(a, "c1")
	require.Len(t, thread.Outbox, 1)
	require.Equal(t, s1.EventID, thread.Outbox[0].EventID)
	require.Len(t, thread.All, 1)

	// The originating event id also resolves the thread.
	byEventID := MessagesByCorrelationID(a, s1.EventID)
	require.Len(t, byEventID.Outbox, 1)
}

func TestThread_ConsistencyReport(t *testing.T) {
	wf := "wf-th"
	s1 := sent(t, wf, "alice", "bob", "")
	ack := event.NewMessageAcknowledged(wf, s1.EventID, "bob")

	b := foldMailbox(t, "bob", []event.Event{s1, ack})
	report := ValidateThreadConsistency(b)
	require.True(t, report.Valid)
	require.Empty(t, report.Inconsistencies)
	require.Equal(t, 1, report.ThreadStatistics.TotalThreads)
	require.Equal(t, 1, report.ThreadStatistics.TotalMessages)
	require.Zero(t, report.ThreadStatistics.OrphanedThreads)
}

func TestThread_OrphanDetection(t *testing.T) {
	// An acknowledged inbox entry pointing at a message this projection
	// never saw marks its thread as orphaned.
	ts := time.Now().UTC()
	s := &MailboxState{
		AgentID: "bob",
		Inbox: []InboxMessage{{
			EventID:        "e-present",
			From:           "alice",
			To:             "bob",
			Acknowledged:   true,
			AcknowledgedAt: &ts,
			CorrelationID:  "e-ghost",
		}},
		Outbox:  []OutboxMessage{},
		History: []ConversationMessage{},
	}

	report := ValidateThreadConsistency(s)
	require.False(t, report.Valid)
	require.Equal(t, 1, report.ThreadStatistics.OrphanedThreads)
	require.NotEmpty(t, report.Inconsistencies)
}
