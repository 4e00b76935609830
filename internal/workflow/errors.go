package workflow

import "fmt"

// TransitionError reports a phase transition that is not an edge of the
// phase graph. The state and the log are left untouched.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition %s -> %s", e.From, e.To)
}

// UnknownFeatureError reports an operation on a feature that was never
// planned.
type UnknownFeatureError struct {
	Name string
}

func (e *UnknownFeatureError) Error() string {
	return fmt.Sprintf("unknown feature %q: plan it before operating on it", e.Name)
}

// AppendError wraps a storage failure while emitting an event. The
// in-memory state is left unchanged when it occurs.
type AppendError struct {
	Op  string
	Err error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("%s: append event: %v", e.Op, e.Err)
}

func (e *AppendError) Unwrap() error { return e.Err }
