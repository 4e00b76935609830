package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jcflow/jc/internal/log"
)

const (
	stateFileName   = "state.json"
	journalFileName = "events.jsonl"
)

// Scratch manages the per-workflow scratch directory:
//
//	<root>/workflows/<workflow_id>/state.json    advisory state snapshot
//	<root>/workflows/<workflow_id>/events.jsonl  advisory event journal
//
// Both files are conveniences for crash inspection and fast resume; the
// event log remains authoritative and resume must be able to re-derive
// the same state from it alone.
type Scratch struct {
	dir string
}

// NewScratch creates (if needed) the scratch directory for a workflow
// under root.
func NewScratch(root, workflowID string) (*Scratch, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("workflow id must be non-empty")
	}
	dir := filepath.Join(root, "workflows", workflowID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scratch{dir: dir}, nil
}

// Dir returns the scratch directory path.
func (sc *Scratch) Dir() string { return sc.dir }

// SaveState writes the state file atomically (write to temp, rename).
func (sc *Scratch) SaveState(s *State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := filepath.Join(sc.dir, stateFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(sc.dir, stateFileName)); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// LoadState reads the state file. Returns (nil, nil) when no state file
// exists; a corrupt file is logged and treated as absent.
func (sc *Scratch) LoadState() (*State, error) {
	path := filepath.Join(sc.dir, stateFileName)
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is under the scratch dir
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		log.Warn(log.CatWF, "corrupt scratch state ignored", "path", path, "error", err.Error())
		return nil, nil
	}
	return &s, nil
}

// OpenJournal opens the advisory event journal in the scratch directory.
func (sc *Scratch) OpenJournal() (*Journal, error) {
	return OpenJournal(filepath.Join(sc.dir, journalFileName))
}

// JournalPath returns the journal file path.
func (sc *Scratch) JournalPath() string {
	return filepath.Join(sc.dir, journalFileName)
}
