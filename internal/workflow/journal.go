package workflow

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jcflow/jc/internal/event"
)

const (
	// journalBufferSize is the default number of pending lines held in
	// memory before a flush is forced.
	journalBufferSize = 256

	// journalFlushInterval is how often the background goroutine flushes
	// pending lines to disk.
	journalFlushInterval = 100 * time.Millisecond

	// journalFlushThresholdPct is the buffer fill percentage that
	// triggers an immediate flush.
	journalFlushThresholdPct = 75
)

// Journal appends events to a line-delimited JSON file. Writes land in an
// in-memory buffer drained by a background goroutine, so event emission is
// never blocked on disk. The journal is advisory: the event store remains
// the authoritative record.
type Journal struct {
	file           *os.File
	mu             sync.Mutex
	pending        [][]byte
	bufferSize     int
	flushThreshold int

	writeErrors atomic.Int64
	lastError   atomic.Value

	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// OpenJournal opens (or creates) the journal file at path in append mode
// and starts the background flush goroutine.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) //nolint:gosec // G304: path is derived from the workflow scratch dir
	if err != nil {
		return nil, err
	}

	j := &Journal{
		file:           f,
		pending:        make([][]byte, 0, journalBufferSize),
		bufferSize:     journalBufferSize,
		flushThreshold: (journalBufferSize * journalFlushThresholdPct) / 100,
		done:           make(chan struct{}),
	}

	j.wg.Add(1)
	go j.flushLoop()

	return j, nil
}

// Record serializes the event as one JSON line and buffers it. When the
// buffer passes the flush threshold the write also drains to disk.
func (j *Journal) Record(ev event.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return os.ErrClosed
	}

	j.pending = append(j.pending, line)
	if len(j.pending) >= j.flushThreshold {
		return j.flushLocked()
	}
	return nil
}

// Flush drains all pending lines to disk.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return os.ErrClosed
	}
	return j.flushLocked()
}

func (j *Journal) flushLocked() error {
	if len(j.pending) == 0 {
		return nil
	}

	var writeErr error
	for _, line := range j.pending {
		if _, err := j.file.Write(line); err != nil {
			writeErr = err
			j.writeErrors.Add(1)
			j.lastError.Store(err)
			// Keep writing the rest; a single bad write should not
			// discard everything behind it.
		}
	}
	j.pending = j.pending[:0]
	return writeErr
}

func (j *Journal) flushLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(journalFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			_ = j.Flush() // Errors tracked via the atomic counters.
		}
	}
}

// Close stops the flush goroutine, performs a final flush, and closes the
// file. Further writes return os.ErrClosed.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return os.ErrClosed
	}
	j.closed = true
	j.mu.Unlock()

	close(j.done)
	j.wg.Wait()

	j.mu.Lock()
	flushErr := j.flushLocked()
	j.mu.Unlock()

	closeErr := j.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// ErrorCount returns the total number of write errors encountered.
func (j *Journal) ErrorCount() int64 {
	return j.writeErrors.Load()
}

// LastError returns the most recent write error, or nil.
func (j *Journal) LastError() error {
	if err := j.lastError.Load(); err != nil {
		return err.(error)
	}
	return nil
}

// Pending returns the number of buffered, unflushed lines.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// ReadJournal parses a journal file back into events, skipping blank
// lines. Used by tests and diagnostics; resume goes through the event
// store instead.
func ReadJournal(path string) ([]event.Event, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is derived from the workflow scratch dir
	if err != nil {
		return nil, err
	}

	var events []event.Event
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1
			if len(line) == 0 {
				continue
			}
			var ev event.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
	}
	return events, nil
}
