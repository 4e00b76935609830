// Package projection folds committed events into typed read models. Every
// builder is a pure fold: apply never mutates the incoming state, and for a
// fixed event stream the result is byte-identical across runs.
package projection

import (
	"fmt"

	"github.com/jcflow/jc/internal/event"
)

// Builder materializes a read model from an event stream. InitialState
// returns the empty model, Apply folds one event into a copy of the model,
// and the Marshal/Unmarshal pair round-trips the model through the snapshot
// table.
//
// Apply must treat state as immutable and must fail with
// *event.UnknownTypeError when handed a type outside the taxonomy; silently
// swallowing an unknown type would let a truncated taxonomy go unnoticed.
type Builder interface {
	Name() string
	InitialState() any
	Apply(state any, ev event.Event) (any, error)
	MarshalState(state any) ([]byte, error)
	UnmarshalState(data []byte) (any, error)
}

// Fold applies events to the builder's initial state in order. The index of
// a failing event is included in the error so a bad record in a long replay
// can be located.
func Fold(b Builder, events []event.Event) (any, error) {
	state := b.InitialState()
	var err error
	for i, ev := range events {
		state, err = b.Apply(state, ev)
		if err != nil {
			return nil, fmt.Errorf("%s: apply event %d (%s): %w", b.Name(), i, ev.Type, err)
		}
	}
	return state, nil
}

// FoldFrom continues a fold from a previously materialized state, as when
// replaying the tail of a log above a snapshot's sequence number.
func FoldFrom(b Builder, state any, events []event.Event) (any, error) {
	var err error
	for i, ev := range events {
		state, err = b.Apply(state, ev)
		if err != nil {
			return nil, fmt.Errorf("%s: apply event %d (%s): %w", b.Name(), i, ev.Type, err)
		}
	}
	return state, nil
}
