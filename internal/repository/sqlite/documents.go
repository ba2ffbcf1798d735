package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/metrics"
	"github.com/google/uuid"
)

// DocumentStore implements domain.DocumentStore on a single SQLite table.
// Every committed write re-reads the affected collection and hands the full
// snapshot to that collection's subscribers.
type DocumentStore struct {
	db *sql.DB

	// writeMu spans commit and fan-out so subscribers see snapshots in
	// commit order.
	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

func newDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{
		db:   db,
		subs: make(map[string]map[*subscription]struct{}),
	}
}

// GenerateID returns a UUIDv7 key. Keys sort in creation order.
func (s *DocumentStore) GenerateID(collection string) string {
	return uuid.Must(uuid.NewV7()).String()
}

func (s *DocumentStore) Subscribe(ctx context.Context, collection string, onChange func(domain.Snapshot), onError func(error)) (domain.Subscription, error) {
	if collection == "" || strings.Contains(collection, "/") {
		return nil, fmt.Errorf("%w: subscribe needs a collection path, got %q", domain.ErrInvalidInput, collection)
	}
	if onChange == nil {
		return nil, fmt.Errorf("%w: nil change callback", domain.ErrInvalidInput)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap, err := s.snapshot(ctx, collection)
	if err != nil {
		return nil, &domain.SubscriptionError{Path: collection, Err: err}
	}

	sub := &subscription{
		store:      s,
		collection: collection,
		onChange:   onChange,
		onError:    onError,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &domain.SubscriptionError{Path: collection, Err: domain.ErrClosed}
	}
	if s.subs[collection] == nil {
		s.subs[collection] = make(map[*subscription]struct{})
	}
	s.subs[collection][sub] = struct{}{}
	s.mu.Unlock()

	metrics.Subscriptions.Inc()
	sub.offer(snap, nil)
	go sub.run()
	return sub, nil
}

func (s *DocumentStore) ReadOnce(ctx context.Context, path string) (json.RawMessage, error) {
	collection, id := domain.SplitPath(path)
	if collection == "" {
		return nil, fmt.Errorf("%w: empty path", domain.ErrInvalidInput)
	}

	if id == "" {
		snap, err := s.snapshot(ctx, collection)
		if err != nil {
			return nil, err
		}
		return json.Marshal(snap)
	}

	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ? AND id = ?", collection, id,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("read document %s: %w", path, err)
	}
	return json.RawMessage(body), nil
}

func (s *DocumentStore) WriteFull(ctx context.Context, path string, value any) error {
	collection, id, err := documentPath(path)
	if err != nil {
		return err
	}
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", path, err)
	}

	return s.write(ctx, collection, "write", func(tx *sql.Tx) (bool, error) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, body, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
			collection, id, string(body), time.Now().UTC(),
		)
		if err != nil {
			return false, fmt.Errorf("upsert document %s: %w", path, err)
		}
		return true, nil
	})
}

// WriteMerge sets each field on the stored object. A nil value removes the
// field.
func (s *DocumentStore) WriteMerge(ctx context.Context, path string, fields map[string]any) error {
	collection, id, err := documentPath(path)
	if err != nil {
		return err
	}

	return s.write(ctx, collection, "merge", func(tx *sql.Tx) (bool, error) {
		var body string
		err := tx.QueryRowContext(ctx,
			"SELECT body FROM documents WHERE collection = ? AND id = ?", collection, id,
		).Scan(&body)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return false, domain.ErrNotFound
			}
			return false, fmt.Errorf("read document %s: %w", path, err)
		}

		doc := make(map[string]json.RawMessage)
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return false, fmt.Errorf("decode document %s: %w", path, err)
		}
		for k, v := range fields {
			if v == nil {
				delete(doc, k)
				continue
			}
			raw, err := json.Marshal(v)
			if err != nil {
				return false, fmt.Errorf("encode field %s.%s: %w", path, k, err)
			}
			doc[k] = raw
		}
		merged, err := json.Marshal(doc)
		if err != nil {
			return false, fmt.Errorf("encode document %s: %w", path, err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND id = ?",
			string(merged), time.Now().UTC(), collection, id,
		); err != nil {
			return false, fmt.Errorf("update document %s: %w", path, err)
		}
		return true, nil
	})
}

// Remove deletes the document. Removing a missing document is a no-op and
// does not notify subscribers.
func (s *DocumentStore) Remove(ctx context.Context, path string) error {
	collection, id, err := documentPath(path)
	if err != nil {
		return err
	}

	return s.write(ctx, collection, "remove", func(tx *sql.Tx) (bool, error) {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM documents WHERE collection = ? AND id = ?", collection, id,
		)
		if err != nil {
			return false, fmt.Errorf("delete document %s: %w", path, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("rows affected: %w", err)
		}
		return n > 0, nil
	})
}

// write runs fn in a transaction and, when fn reports a change, publishes
// the collection's new snapshot after commit.
func (s *DocumentStore) write(ctx context.Context, collection, op string, fn func(tx *sql.Tx) (bool, error)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	changed, err := fn(tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %s: %w", op, collection, err)
	}
	if !changed {
		return nil
	}

	metrics.StoreWrites.WithLabelValues(collection, op).Inc()
	s.publish(collection)
	return nil
}

func (s *DocumentStore) publish(collection string) {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs[collection]))
	for sub := range s.subs[collection] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	// The write is committed; a snapshot failure is the subscribers'
	// problem, not the writer's.
	snap, err := s.snapshot(context.Background(), collection)
	if err != nil {
		slog.Error("read snapshot for subscribers", "collection", collection, "error", err)
		subErr := &domain.SubscriptionError{Path: collection, Err: err}
		for _, sub := range subs {
			sub.offer(nil, subErr)
		}
		return
	}
	for _, sub := range subs {
		sub.offer(maps.Clone(snap), nil)
	}
}

func (s *DocumentStore) snapshot(ctx context.Context, collection string) (domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, body FROM documents WHERE collection = ? ORDER BY id", collection,
	)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", collection, err)
	}
	defer rows.Close()

	snap := make(domain.Snapshot)
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		snap[id] = json.RawMessage(body)
	}
	return snap, rows.Err()
}

func (s *DocumentStore) unregister(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.subs[sub.collection]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(s.subs, sub.collection)
	}
	metrics.Subscriptions.Dec()
}

// close stops every subscription; later Subscribe calls fail.
func (s *DocumentStore) close() {
	s.mu.Lock()
	s.closed = true
	var all []*subscription
	for _, set := range s.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range all {
		sub.Unsubscribe()
	}
}

func documentPath(path string) (collection, id string, err error) {
	collection, id = domain.SplitPath(path)
	if collection == "" || id == "" || strings.Contains(id, "/") {
		return "", "", fmt.Errorf("%w: %q is not a document path", domain.ErrInvalidInput, path)
	}
	return collection, id, nil
}

// subscription delivers snapshots on its own goroutine. Only the latest
// undelivered snapshot is kept: each one is complete, so skipping an older
// one never loses data and never regresses.
type subscription struct {
	store      *DocumentStore
	collection string
	onChange   func(domain.Snapshot)
	onError    func(error)

	mu         sync.Mutex
	pending    domain.Snapshot
	pendingErr error
	hasPending bool

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (s *subscription) offer(snap domain.Snapshot, err error) {
	s.mu.Lock()
	s.pending, s.pendingErr, s.hasPending = snap, err, true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		snap, err, ok := s.pending, s.pendingErr, s.hasPending
		s.pending, s.pendingErr, s.hasPending = nil, nil, false
		s.mu.Unlock()

		if !ok {
			continue
		}
		select {
		case <-s.done:
			return
		default:
		}

		if err != nil {
			if s.onError != nil {
				s.onError(err)
			}
			continue
		}
		s.onChange(snap)
	}
}

// Unsubscribe stops delivery. A callback already running may still finish.
func (s *subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		s.store.unregister(s)
		close(s.done)
	})
}
