package projection

import (
	"encoding/json"
	"fmt"

	"github.com/jcflow/jc/internal/event"
	"github.com/jcflow/jc/internal/workflow"
)

// WorkflowBuilder materializes workflow.State from the event stream. The
// fold itself lives on workflow.State so the state machine and this builder
// can never disagree about what an event means.
type WorkflowBuilder struct {
	WorkflowID string
}

// NewWorkflowBuilder returns a builder scoped to one workflow.
func NewWorkflowBuilder(workflowID string) *WorkflowBuilder {
	return &WorkflowBuilder{WorkflowID: workflowID}
}

func (b *WorkflowBuilder) Name() string { return "workflow" }

func (b *WorkflowBuilder) InitialState() any {
	return workflow.NewState(b.WorkflowID)
}

// Apply folds one event into a copy of the state. Events for other
// workflows are ignored so a builder can safely run over a mixed stream.
func (b *WorkflowBuilder) Apply(state any, ev event.Event) (any, error) {
	s, ok := state.(*workflow.State)
	if !ok {
		return nil, fmt.Errorf("workflow builder: unexpected state type %T", state)
	}
	if !ev.Type.Valid() {
		return nil, &event.UnknownTypeError{Type: ev.Type}
	}
	if b.WorkflowID != "" && ev.WorkflowID != b.WorkflowID {
		return s, nil
	}

	next := s.Clone()
	if err := next.ApplyEvent(ev); err != nil {
		return nil, err
	}
	return next, nil
}

func (b *WorkflowBuilder) MarshalState(state any) ([]byte, error) {
	s, ok := state.(*workflow.State)
	if !ok {
		return nil, fmt.Errorf("workflow builder: unexpected state type %T", state)
	}
	return json.Marshal(s)
}

func (b *WorkflowBuilder) UnmarshalState(data []byte) (any, error) {
	var s workflow.State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("workflow builder: decode state: %w", err)
	}
	return &s, nil
}
