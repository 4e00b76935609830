package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcflow/jc/internal/event"
	"github.com/jcflow/jc/internal/log"
	"github.com/jcflow/jc/internal/projection"
	"github.com/jcflow/jc/internal/pubsub"
	"github.com/jcflow/jc/internal/tracing"
)

// DefaultSnapshotEvery is the per-workflow event count interval at which an
// auto-snapshot is taken after a successful append.
const DefaultSnapshotEvery = 100

// rebuildCacheTTL bounds how long a materialized projection may be served
// without touching the log. Entries are dropped eagerly on append; the TTL
// only matters for workflows written by another process.
const rebuildCacheTTL = 5 * time.Minute

// SubscriptionID identifies a registered subscriber callback.
type SubscriptionID string

// EventStore is the append-only durable log. Appends are serialized through
// a single writer mutex; reads run concurrently under WAL. Committed events
// are delivered synchronously to subscriber callbacks in commit order and
// fanned out to channel subscribers through a broker.
type EventStore struct {
	db *DB

	// writeMu serializes the commit boundary and subscriber notification,
	// which is what gives every subscriber commit-order delivery.
	writeMu sync.Mutex

	subMu sync.RWMutex
	subs  map[SubscriptionID]func(event.Event)

	broker *pubsub.Broker[event.Event]
	cache  *gocache.Cache

	// appendGen counts commits. Rebuild reads it before folding and
	// refuses to cache a result folded against an older generation.
	appendGen atomic.Int64

	snapshotEvery int
}

// tracer returns the store's tracer off the process-global provider.
func tracer() trace.Tracer { return otel.Tracer("jc/store") }

// StoreOption configures an EventStore.
type StoreOption func(*EventStore)

// WithSnapshotEvery overrides the auto-snapshot interval. Values below one
// disable auto-snapshots.
func WithSnapshotEvery(n int) StoreOption {
	return func(s *EventStore) { s.snapshotEvery = n }
}

// NewEventStore creates an event store over an open database.
func NewEventStore(db *DB, opts ...StoreOption) *EventStore {
	s := &EventStore{
		db:            db,
		subs:          make(map[SubscriptionID]func(event.Event)),
		broker:        pubsub.NewBroker[event.Event](),
		cache:         gocache.New(rebuildCacheTTL, 2*rebuildCacheTTL),
		snapshotEvery: DefaultSnapshotEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append validates ev, persists it in a single transaction, assigns its
// sequence number, and notifies subscribers. On any failure nothing is
// persisted and no subscriber hears about the event.
func (s *EventStore) Append(ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	_, span := tracer().Start(context.Background(), "store.append",
		trace.WithAttributes(
			attribute.String(tracing.AttrWorkflowID, ev.WorkflowID),
			attribute.String(tracing.AttrEventType, string(ev.Type)),
		))
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	committed, err := s.appendTx([]event.Event{ev})
	if err != nil {
		return err
	}
	s.afterCommit(committed)
	return nil
}

// AppendBatch persists all events in one transaction, all-or-nothing. A
// validation failure on any event rejects the whole batch before any I/O.
func (s *EventStore) AppendBatch(events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("batch event %d: %w", i, err)
		}
	}

	_, span := tracer().Start(context.Background(), "store.append_batch",
		trace.WithAttributes(
			attribute.String(tracing.AttrWorkflowID, events[0].WorkflowID),
			attribute.Int(tracing.AttrBatchSize, len(events)),
		))
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	committed, err := s.appendTx(events)
	if err != nil {
		return err
	}
	s.afterCommit(committed)
	return nil
}

// appendTx inserts events in a single transaction and returns them with
// their assigned sequence numbers. Caller holds writeMu.
func (s *EventStore) appendTx(events []event.Event) ([]event.Event, error) {
	tx, err := s.db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	committed := make([]event.Event, 0, len(events))
	for _, ev := range events {
		data, err := ev.EncodeData()
		if err != nil {
			return nil, err
		}
		result, err := tx.Exec(
			`INSERT INTO events (workflow_id, event_id, event_type, timestamp, data)
			 VALUES (?, ?, ?, ?, ?)`,
			ev.WorkflowID, ev.EventID, string(ev.Type),
			ev.Timestamp.UTC().Format(event.TimestampLayout), string(data),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert event: %w", err)
		}
		seq, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read sequence number: %w", err)
		}
		ev.SequenceNumber = seq
		committed = append(committed, ev)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit events: %w", err)
	}
	return committed, nil
}

// afterCommit runs the post-durability work for committed events: cache
// invalidation, the auto-snapshot check, and subscriber notification.
// Caller holds writeMu, so per-subscriber delivery order equals commit
// order. Subscriber callbacks must not append or rebuild re-entrantly.
func (s *EventStore) afterCommit(committed []event.Event) {
	s.appendGen.Add(1)
	seen := map[string]bool{}
	for _, ev := range committed {
		if !seen[ev.WorkflowID] {
			seen[ev.WorkflowID] = true
			s.invalidateRebuildCache(ev.WorkflowID)
			s.maybeAutoSnapshot(ev.WorkflowID)
		}
	}
	for _, ev := range committed {
		s.notify(ev)
		s.broker.Publish(pubsub.CreatedEvent, ev)
	}
}

// maybeAutoSnapshot saves a workflow snapshot when the committed event
// count reaches a positive multiple of the snapshot interval. Failures are
// logged and swallowed; a missing snapshot only costs replay time.
func (s *EventStore) maybeAutoSnapshot(workflowID string) {
	if s.snapshotEvery < 1 {
		return
	}
	count, err := s.eventCount(workflowID)
	if err != nil || count == 0 || count%int64(s.snapshotEvery) != 0 {
		if err != nil {
			log.Warn(log.CatStore, "auto-snapshot count failed", "workflow_id", workflowID, "error", err.Error())
		}
		return
	}

	builder := projection.NewWorkflowBuilder(workflowID)
	state, maxSeq, err := s.rebuild(workflowID, builder)
	if err != nil {
		log.Warn(log.CatStore, "auto-snapshot rebuild failed", "workflow_id", workflowID, "error", err.Error())
		return
	}
	raw, err := builder.MarshalState(state)
	if err != nil {
		log.Warn(log.CatStore, "auto-snapshot encode failed", "workflow_id", workflowID, "error", err.Error())
		return
	}
	snap := event.Snapshot{
		WorkflowID:     workflowID,
		Builder:        builder.Name(),
		SequenceNumber: maxSeq,
		State:          raw,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.SaveSnapshot(snap); err != nil {
		log.Warn(log.CatStore, "auto-snapshot save failed", "workflow_id", workflowID, "error", err.Error())
		return
	}
	log.Debug(log.CatStore, "auto-snapshot saved", "workflow_id", workflowID, "sequence", maxSeq)
}

// notify invokes subscriber callbacks synchronously. A panicking callback
// is recovered and logged; it never affects the commit or other
// subscribers.
func (s *EventStore) notify(ev event.Event) {
	s.subMu.RLock()
	callbacks := make([]func(event.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		callbacks = append(callbacks, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error(log.CatStore, "subscriber panic recovered", "event_id", ev.EventID, "panic", fmt.Sprint(r))
				}
			}()
			fn(ev)
		}()
	}
}

// Subscribe registers a callback invoked synchronously for every committed
// event. Delivery order to a given subscriber equals commit order.
func (s *EventStore) Subscribe(fn func(event.Event)) SubscriptionID {
	id := SubscriptionID(uuid.NewString())
	s.subMu.Lock()
	s.subs[id] = fn
	s.subMu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Idempotent; reports whether a
// subscription was actually removed.
func (s *EventStore) Unsubscribe(id SubscriptionID) bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return false
	}
	delete(s.subs, id)
	return true
}

// Events returns a channel of committed events. The channel closes when ctx
// is cancelled or the store closes; slow consumers drop events rather than
// stalling appends.
func (s *EventStore) Events(ctx context.Context) <-chan pubsub.Event[event.Event] {
	return s.broker.Subscribe(ctx)
}

// QueryOrder is the sort direction for GetEvents.
type QueryOrder string

const (
	OrderAsc  QueryOrder = "asc"
	OrderDesc QueryOrder = "desc"
)

// Query filters and pages a GetEvents call. The zero value returns every
// event of the workflow in ascending order.
type Query struct {
	EventType event.Type
	Order     QueryOrder
	Limit     int
	Offset    int
}

// GetEvents returns the events of a workflow ordered by timestamp, ties
// broken by sequence number. Unknown workflows yield an empty slice.
func (s *EventStore) GetEvents(workflowID string, q Query) ([]event.Event, error) {
	if strings.TrimSpace(workflowID) == "" {
		return nil, &event.ValidationError{Field: "workflow_id", Reason: "must be non-empty"}
	}
	order := q.Order
	if order == "" {
		order = OrderAsc
	}
	if order != OrderAsc && order != OrderDesc {
		return nil, &event.ValidationError{Field: "order", Reason: fmt.Sprintf("must be asc or desc, got %q", order)}
	}

	query := `SELECT sequence_number, event_id, workflow_id, event_type, timestamp, data
		FROM events WHERE workflow_id = ?`
	args := []any{workflowID}

	if q.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(q.EventType))
	}
	dir := "ASC"
	if order == OrderDesc {
		dir = "DESC"
	}
	query += fmt.Sprintf(` ORDER BY timestamp %s, sequence_number %s`, dir, dir)
	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = -1 // SQLite: no limit, offset still applies
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, q.Offset)
	}

	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []event.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

// eventCount returns the number of committed events for a workflow.
func (s *EventStore) eventCount(workflowID string) (int64, error) {
	var count int64
	err := s.db.conn.QueryRow(
		`SELECT COUNT(*) FROM events WHERE workflow_id = ?`, workflowID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// EventCount returns the number of committed events for a workflow.
func (s *EventStore) EventCount(workflowID string) (int64, error) {
	if strings.TrimSpace(workflowID) == "" {
		return 0, &event.ValidationError{Field: "workflow_id", Reason: "must be non-empty"}
	}
	return s.eventCount(workflowID)
}

// Workflows returns the distinct workflow ids present in the log, most
// recently written first.
func (s *EventStore) Workflows() ([]string, error) {
	rows, err := s.db.conn.Query(
		`SELECT workflow_id FROM events GROUP BY workflow_id ORDER BY MAX(sequence_number) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan workflow id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow rows: %w", err)
	}
	return ids, nil
}

// SaveSnapshot upserts the single snapshot of a workflow.
func (s *EventStore) SaveSnapshot(snap event.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	state := snap.State
	if len(state) == 0 {
		state = []byte("{}")
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO snapshots (workflow_id, builder, sequence_number, state, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(workflow_id) DO UPDATE SET
			builder = excluded.builder,
			sequence_number = excluded.sequence_number,
			state = excluded.state,
			created_at = excluded.created_at`,
		snap.WorkflowID, snap.Builder, snap.SequenceNumber, string(state),
		snap.CreatedAt.UTC().Format(event.TimestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the workflow's snapshot, or nil when none exists. A
// corrupted stored payload is logged and treated as absent so replay can
// fall back to a full rebuild.
func (s *EventStore) GetSnapshot(workflowID string) (*event.Snapshot, error) {
	if strings.TrimSpace(workflowID) == "" {
		return nil, &event.ValidationError{Field: "workflow_id", Reason: "must be non-empty"}
	}

	var (
		snap      event.Snapshot
		state     string
		createdAt string
	)
	err := s.db.conn.QueryRow(
		`SELECT workflow_id, builder, sequence_number, state, created_at FROM snapshots WHERE workflow_id = ?`,
		workflowID,
	).Scan(&snap.WorkflowID, &snap.Builder, &snap.SequenceNumber, &state, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	snap.State = []byte(state)
	if snap.Validate() != nil {
		log.Warn(log.CatStore, "corrupt snapshot ignored", "workflow_id", workflowID)
		return nil, nil
	}
	if ts, err := time.Parse(event.TimestampLayout, createdAt); err == nil {
		snap.CreatedAt = ts
	}
	return &snap, nil
}

// Rebuild materializes a projection for a workflow: the latest snapshot (if
// any, and if this builder produced it) seeds the state, then events above
// the snapshot's sequence number are folded in ascending order. Results are
// cached per workflow and builder until the next append.
func (s *EventStore) Rebuild(workflowID string, builder projection.Builder) (any, error) {
	if strings.TrimSpace(workflowID) == "" {
		return nil, &event.ValidationError{Field: "workflow_id", Reason: "must be non-empty"}
	}

	_, span := tracer().Start(context.Background(), "store.rebuild",
		trace.WithAttributes(
			attribute.String(tracing.AttrWorkflowID, workflowID),
			attribute.String(tracing.AttrBuilder, builder.Name()),
		))
	defer span.End()

	key := workflowID + "/" + builder.Name()
	if raw, ok := s.cache.Get(key); ok {
		if state, err := builder.UnmarshalState(raw.([]byte)); err == nil {
			return state, nil
		}
		s.cache.Delete(key)
	}

	gen := s.appendGen.Load()
	state, _, err := s.rebuild(workflowID, builder)
	if err != nil {
		return nil, err
	}

	if raw, err := builder.MarshalState(state); err == nil {
		s.cacheRebuilt(key, raw, gen)
	}
	return state, nil
}

// cacheRebuilt stores a materialized projection unless a commit landed since
// gen was read. A result folded against an older generation would survive
// the invalidation that commit already performed.
func (s *EventStore) cacheRebuilt(key string, raw []byte, gen int64) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.appendGen.Load() != gen {
		return false
	}
	s.cache.Set(key, raw, gocache.DefaultExpiration)
	return true
}

// rebuild performs the snapshot-seeded fold and reports the highest folded
// sequence number.
func (s *EventStore) rebuild(workflowID string, builder projection.Builder) (any, int64, error) {
	state := builder.InitialState()
	var lowerBound int64

	snap, err := s.GetSnapshot(workflowID)
	if err != nil {
		return nil, 0, err
	}
	// Only a snapshot this builder wrote may seed the fold. Another
	// builder's JSON can unmarshal without error into the wrong shape,
	// which would silently skip every event below the snapshot bound.
	if snap != nil && snap.Builder == builder.Name() {
		restored, err := builder.UnmarshalState(snap.State)
		if err != nil {
			log.Warn(log.CatStore, "snapshot not decodable, replaying from zero", "workflow_id", workflowID, "builder", builder.Name())
		} else {
			state = restored
			lowerBound = snap.SequenceNumber
		}
	}

	rows, err := s.db.conn.Query(
		`SELECT sequence_number, event_id, workflow_id, event_type, timestamp, data
		 FROM events WHERE workflow_id = ? AND sequence_number > ?
		 ORDER BY sequence_number ASC`,
		workflowID, lowerBound,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events for rebuild: %w", err)
	}
	defer func() { _ = rows.Close() }()

	maxSeq := lowerBound
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		state, err = builder.Apply(state, ev)
		if err != nil {
			return nil, 0, fmt.Errorf("rebuild %s at sequence %d: %w", builder.Name(), ev.SequenceNumber, err)
		}
		maxSeq = ev.SequenceNumber
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating rebuild rows: %w", err)
	}
	return state, maxSeq, nil
}

// invalidateRebuildCache drops every cached projection of a workflow.
func (s *EventStore) invalidateRebuildCache(workflowID string) {
	prefix := workflowID + "/"
	for key := range s.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Delete(key)
		}
	}
}

// Close shuts down the broker. The database itself is owned by the DB
// handle and closed separately.
func (s *EventStore) Close() {
	s.broker.Close()
}

// scanEvent reads one events row.
func scanEvent(scanner interface{ Scan(...any) error }) (event.Event, error) {
	var (
		ev   event.Event
		typ  string
		ts   string
		data string
	)
	if err := scanner.Scan(&ev.SequenceNumber, &ev.EventID, &ev.WorkflowID, &typ, &ts, &data); err != nil {
		return event.Event{}, fmt.Errorf("failed to scan event row: %w", err)
	}
	ev.Type = event.Type(typ)

	parsed, err := time.Parse(event.TimestampLayout, ts)
	if err != nil {
		return event.Event{}, fmt.Errorf("failed to parse event timestamp: %w", err)
	}
	ev.Timestamp = parsed

	decoded, err := event.DecodeData([]byte(data))
	if err != nil {
		return event.Event{}, err
	}
	ev.Data = decoded
	return ev, nil
}
