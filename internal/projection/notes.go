package projection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jcflow/jc/internal/event"
)

// NoteEntry is one recorded agent note.
type NoteEntry struct {
	EventID        string    `json:"event_id"`
	Agent          string    `json:"agent"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Category       string    `json:"category"`
	Tags           []string  `json:"tags,omitempty"`
	RelatedFile    string    `json:"related_file,omitempty"`
	RelatedFeature string    `json:"related_feature,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NotesState is the notes list plus its lookup indexes. Each index maps a
// key to positions in Notes; positions never shift because the list is
// append-only.
type NotesState struct {
	Notes      []NoteEntry      `json:"notes"`
	ByCategory map[string][]int `json:"by_category"`
	ByAgent    map[string][]int `json:"by_agent"`
	ByTag      map[string][]int `json:"by_tag"`
}

// Clone returns a deep copy.
func (s *NotesState) Clone() *NotesState {
	c := &NotesState{
		Notes:      make([]NoteEntry, len(s.Notes)),
		ByCategory: make(map[string][]int, len(s.ByCategory)),
		ByAgent:    make(map[string][]int, len(s.ByAgent)),
		ByTag:      make(map[string][]int, len(s.ByTag)),
	}
	copy(c.Notes, s.Notes)
	for i := range c.Notes {
		if tags := c.Notes[i].Tags; tags != nil {
			copied := make([]string, len(tags))
			copy(copied, tags)
			c.Notes[i].Tags = copied
		}
	}
	for k, v := range s.ByCategory {
		c.ByCategory[k] = append([]int(nil), v...)
	}
	for k, v := range s.ByAgent {
		c.ByAgent[k] = append([]int(nil), v...)
	}
	for k, v := range s.ByTag {
		c.ByTag[k] = append([]int(nil), v...)
	}
	return c
}

// ByCategoryNotes resolves the category index into note entries.
func (s *NotesState) ByCategoryNotes(category string) []NoteEntry {
	return s.resolve(s.ByCategory[category])
}

// ByAgentNotes resolves the agent index into note entries.
func (s *NotesState) ByAgentNotes(agent string) []NoteEntry {
	return s.resolve(s.ByAgent[agent])
}

// ByTagNotes resolves the tag index into note entries.
func (s *NotesState) ByTagNotes(tag string) []NoteEntry {
	return s.resolve(s.ByTag[tag])
}

func (s *NotesState) resolve(positions []int) []NoteEntry {
	out := make([]NoteEntry, 0, len(positions))
	for _, pos := range positions {
		if pos >= 0 && pos < len(s.Notes) {
			out = append(out, s.Notes[pos])
		}
	}
	return out
}

// NotesBuilder materializes the append-only notes list with its indexes.
type NotesBuilder struct{}

// NewNotesBuilder returns a notes builder.
func NewNotesBuilder() *NotesBuilder { return &NotesBuilder{} }

func (b *NotesBuilder) Name() string { return "notes" }

func (b *NotesBuilder) InitialState() any {
	return &NotesState{
		Notes:      []NoteEntry{},
		ByCategory: map[string][]int{},
		ByAgent:    map[string][]int{},
		ByTag:      map[string][]int{},
	}
}

func (b *NotesBuilder) Apply(state any, ev event.Event) (any, error) {
	s, ok := state.(*NotesState)
	if !ok {
		return nil, fmt.Errorf("notes builder: unexpected state type %T", state)
	}
	if !ev.Type.Valid() {
		return nil, &event.UnknownTypeError{Type: ev.Type}
	}
	if !ev.Type.IsNote() {
		return s, nil
	}

	created := ev.DataTime(event.KeyCreatedAt)
	if created.IsZero() {
		created = ev.Timestamp
	}
	entry := NoteEntry{
		EventID:        ev.EventID,
		Agent:          ev.DataString(event.KeyAgent),
		Title:          ev.DataString(event.KeyTitle),
		Content:        ev.DataString(event.KeyContent),
		Category:       ev.Type.NoteCategory(),
		Tags:           ev.DataStrings(event.KeyTags),
		RelatedFile:    ev.DataString(event.KeyRelatedFile),
		RelatedFeature: ev.DataString(event.KeyRelatedFeat),
		CreatedAt:      created,
	}

	next := s.Clone()
	pos := len(next.Notes)
	next.Notes = append(next.Notes, entry)
	next.ByCategory[entry.Category] = append(next.ByCategory[entry.Category], pos)
	if entry.Agent != "" {
		next.ByAgent[entry.Agent] = append(next.ByAgent[entry.Agent], pos)
	}
	for _, tag := range entry.Tags {
		next.ByTag[tag] = append(next.ByTag[tag], pos)
	}
	return next, nil
}

func (b *NotesBuilder) MarshalState(state any) ([]byte, error) {
	s, ok := state.(*NotesState)
	if !ok {
		return nil, fmt.Errorf("notes builder: unexpected state type %T", state)
	}
	return json.Marshal(s)
}

func (b *NotesBuilder) UnmarshalState(data []byte) (any, error) {
	var s NotesState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("notes builder: decode state: %w", err)
	}
	if s.Notes == nil {
		s.Notes = []NoteEntry{}
	}
	if s.ByCategory == nil {
		s.ByCategory = map[string][]int{}
	}
	if s.ByAgent == nil {
		s.ByAgent = map[string][]int{}
	}
	if s.ByTag == nil {
		s.ByTag = map[string][]int{}
	}
	return &s, nil
}
