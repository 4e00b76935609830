package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jcflow/jc/internal/event"
)

func TestNewSince_SequenceOrderSurvivesClockSteps(t *testing.T) {
	base := time.Now().UTC()
	e1 := event.NewWorkflowStarted("wf", "n", "t", "")
	e1.SequenceNumber = 1
	e1.Timestamp = base
	e2 := event.NewFeaturePlanned("wf", "auth", "")
	e2.SequenceNumber = 2
	e2.Timestamp = base.Add(-time.Second) // clock stepped backwards
	e3 := event.NewFeatureStarted("wf", "auth")
	e3.SequenceNumber = 3
	e3.Timestamp = base.Add(time.Second)

	// Timestamp order places seq 2 first; a cursor advancing past seq 3
	// in that order would never print seq 1.
	byTimestamp := []event.Event{e2, e1, e3}

	require.Equal(t, []int64{1, 2, 3}, seqsOf(newSince(byTimestamp, 0)))
	require.Equal(t, []int64{2, 3}, seqsOf(newSince(byTimestamp, 1)))
	require.Empty(t, newSince(byTimestamp, 3))
}

func seqsOf(events []event.Event) []int64 {
	seqs := make([]int64, 0, len(events))
	for _, ev := range events {
		seqs = append(seqs, ev.SequenceNumber)
	}
	return seqs
}
