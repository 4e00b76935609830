// Package event defines the immutable event and snapshot records that the
// durable log persists, along with the closed event-type taxonomy and typed
// payload constructors.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the at-rest timestamp format: UTC ISO-8601 with
// millisecond resolution.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ValidationError reports a malformed event or snapshot. It maps to the
// ArgumentError kind: never retried, surfaced to the caller before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnknownTypeError reports an event type outside the closed taxonomy
// reaching a consumer that requires exhaustive handling. This indicates a
// programming error, not bad input.
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

// Event is an immutable record of a state change. SequenceNumber is zero
// until the store assigns it at commit; all other fields are fixed at
// construction and never change afterwards.
type Event struct {
	SequenceNumber int64          `json:"sequence_number"`
	EventID        string         `json:"event_id"`
	WorkflowID     string         `json:"workflow_id"`
	Type           Type           `json:"event_type"`
	Timestamp      time.Time      `json:"timestamp"`
	Data           map[string]any `json:"data"`
}

// New creates an event with a fresh event id and the current UTC time.
// The data map is copied so later caller mutation cannot leak into the
// record.
func New(workflowID string, t Type, data map[string]any) Event {
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}
	return Event{
		EventID:    uuid.NewString(),
		WorkflowID: workflowID,
		Type:       t,
		Timestamp:  time.Now().UTC().Truncate(time.Millisecond),
		Data:       copied,
	}
}

// Validate checks the event invariants: non-empty workflow id and known
// event type (both after trimming), and data that encodes to JSON (which
// also rejects cyclic or otherwise unencodable values).
func (e Event) Validate() error {
	if strings.TrimSpace(e.WorkflowID) == "" {
		return &ValidationError{Field: "workflow_id", Reason: "must be non-empty"}
	}
	if strings.TrimSpace(string(e.Type)) == "" {
		return &ValidationError{Field: "event_type", Reason: "must be non-empty"}
	}
	if !e.Type.Valid() {
		return &ValidationError{Field: "event_type", Reason: fmt.Sprintf("unknown type %q", e.Type)}
	}
	if _, err := json.Marshal(e.Data); err != nil {
		return &ValidationError{Field: "data", Reason: err.Error()}
	}
	return nil
}

// EncodeData returns the canonical JSON encoding of the payload. Object
// keys are emitted in sorted order, so the encoding is byte-stable for a
// given payload.
func (e Event) EncodeData() ([]byte, error) {
	if e.Data == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return nil, &ValidationError{Field: "data", Reason: err.Error()}
	}
	return b, nil
}

// DecodeData parses a canonical JSON payload produced by EncodeData.
func DecodeData(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode event data: %w", err)
	}
	return data, nil
}

// Snapshot is a materialized projection state at a known sequence number.
// At most one snapshot per workflow exists at rest; saves overwrite. Builder
// records which projection produced State, so replay never seeds one
// builder's fold from another builder's snapshot.
type Snapshot struct {
	WorkflowID     string          `json:"workflow_id"`
	Builder        string          `json:"builder"`
	SequenceNumber int64           `json:"sequence_number"`
	State          json.RawMessage `json:"state"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Validate checks the snapshot invariants.
func (s Snapshot) Validate() error {
	if strings.TrimSpace(s.WorkflowID) == "" {
		return &ValidationError{Field: "workflow_id", Reason: "must be non-empty"}
	}
	if s.SequenceNumber < 0 {
		return &ValidationError{Field: "sequence_number", Reason: "must be >= 0"}
	}
	if len(s.State) > 0 && !json.Valid(s.State) {
		return &ValidationError{Field: "state", Reason: "must be valid JSON"}
	}
	return nil
}

// String getters tolerant of missing keys. Payload values round-trip
// through JSON, so numbers arrive as float64 and are converted here.

// DataString returns the string value at key, or "".
func (e Event) DataString(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// DataBool returns the bool value at key, or false.
func (e Event) DataBool(key string) bool {
	b, _ := e.Data[key].(bool)
	return b
}

// DataFloat returns the numeric value at key, or 0.
func (e Event) DataFloat(key string) float64 {
	switch v := e.Data[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

// DataInt returns the numeric value at key truncated to int64, or 0.
func (e Event) DataInt(key string) int64 {
	return int64(e.DataFloat(key))
}

// DataTime parses the timestamp stored at key, or returns the zero time.
func (e Event) DataTime(key string) time.Time {
	s := e.DataString(key)
	if s == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts
	}
	if ts, err := time.Parse(TimestampLayout, s); err == nil {
		return ts
	}
	return time.Time{}
}

// DataStrings returns the string-slice value at key, or nil. JSON decoding
// yields []any, so elements are converted individually.
func (e Event) DataStrings(key string) []string {
	switch v := e.Data[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
