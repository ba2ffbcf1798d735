package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/metrics"
)

// Record is the constraint on mirrored record types: a pointer to T that can
// take its id from the path key and stamp its timestamps.
type Record[T any] interface {
	*T
	SetID(id string)
	Stamp(now time.Time)
}

// Patch is a typed partial update. Changes lists the stored fields to merge.
type Patch interface {
	Changes() map[string]any
}

// CollectionState is a consistent view of a mirror.
type CollectionState[T any] struct {
	Items     []T // ordered by id, which is creation order
	IsLoading bool
	LastError error
}

// Collection keeps a live local mirror of one collection path and writes
// through to the store. Writes never touch the mirror; it changes only when
// the subscription delivers the next snapshot.
type Collection[T any, D Record[T]] struct {
	store domain.DocumentStore
	path  string
	now   func() time.Time

	mu        sync.RWMutex
	items     map[string]T
	ready     bool
	loading   bool
	lastErr   error
	closed    bool
	listeners []*changeListener

	sub domain.Subscription
}

type changeListener struct {
	fn func()
}

// Users mirrors profile records.
type Users = Collection[domain.User, *domain.User]

// OpenCollection subscribes to path and returns the collection. A failed
// subscription does not fail the call: it is kept as LastError, the same as a
// failure reported later by the store.
func OpenCollection[T any, D Record[T]](ctx context.Context, store domain.DocumentStore, path string) *Collection[T, D] {
	c := &Collection[T, D]{
		store:   store,
		path:    path,
		now:     time.Now,
		items:   make(map[string]T),
		loading: true,
	}

	sub, err := store.Subscribe(ctx, path, c.apply, c.fail)
	if err != nil {
		c.fail(err)
		return c
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	return c
}

// OpenUsers opens the profile mirror.
func OpenUsers(ctx context.Context, store domain.DocumentStore) *Users {
	return OpenCollection[domain.User](ctx, store, domain.UsersPath)
}

// Close unsubscribes. Snapshots arriving afterwards are ignored.
func (c *Collection[T, D]) Close() {
	c.mu.Lock()
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.listeners = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Path returns the mirrored collection path.
func (c *Collection[T, D]) Path() string { return c.path }

func (c *Collection[T, D]) apply(snap domain.Snapshot) {
	items := make(map[string]T, len(snap))
	for id, raw := range snap {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			slog.Warn("skipping undecodable record", "path", domain.Path(c.path, id), "error", err)
			continue
		}
		D(&v).SetID(id)
		items[id] = v
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.items = items
	c.ready = true
	c.loading = false
	c.lastErr = nil
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	metrics.SnapshotsApplied.WithLabelValues(c.path).Inc()
	for _, l := range listeners {
		l.fn()
	}
}

func (c *Collection[T, D]) fail(err error) {
	var subErr *domain.SubscriptionError
	if !errors.As(err, &subErr) {
		subErr = &domain.SubscriptionError{Path: c.path, Err: err}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.lastErr = subErr
	c.loading = false
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	slog.Error("collection subscription failed", "path", c.path, "error", err)
	metrics.SubscriptionErrors.WithLabelValues(c.path).Inc()
	for _, l := range listeners {
		l.fn()
	}
}

// State returns a copy of the mirror.
func (c *Collection[T, D]) State() CollectionState[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]T, 0, len(c.items))
	for _, id := range slices.Sorted(maps.Keys(c.items)) {
		items = append(items, c.items[id])
	}
	return CollectionState[T]{Items: items, IsLoading: c.loading, LastError: c.lastErr}
}

// Get returns the mirrored record with the given id.
func (c *Collection[T, D]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[id]
	return v, ok
}

// Index returns a copy of the mirror keyed by id.
func (c *Collection[T, D]) Index() map[string]T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.items)
}

// Ready reports whether at least one snapshot has been applied.
func (c *Collection[T, D]) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// OnChange registers fn to run after every applied snapshot or subscription
// failure, on the store's delivery goroutine.
func (c *Collection[T, D]) OnChange(fn func()) (remove func()) {
	l := &changeListener{fn: fn}

	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listeners = slices.DeleteFunc(c.listeners, func(existing *changeListener) bool {
			return existing == l
		})
	}
}

// Fetch reads one record from the store, bypassing the mirror.
func (c *Collection[T, D]) Fetch(ctx context.Context, id string) (T, error) {
	var v T
	raw, err := c.store.ReadOnce(ctx, domain.Path(c.path, id))
	if err != nil {
		return v, fmt.Errorf("read %s: %w", domain.Path(c.path, id), err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", domain.Path(c.path, id), err)
	}
	D(&v).SetID(id)
	return v, nil
}

// Create stores doc under a generated id and returns the id. created_at and
// updated_at are stamped with the same instant.
func (c *Collection[T, D]) Create(ctx context.Context, doc T) (string, error) {
	id := c.store.GenerateID(c.path)
	if err := c.Put(ctx, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

// Put stamps doc and stores it under id, replacing any existing record.
func (c *Collection[T, D]) Put(ctx context.Context, id string, doc T) error {
	D(&doc).Stamp(c.now().UTC())
	if err := c.store.WriteFull(ctx, domain.Path(c.path, id), doc); err != nil {
		return fmt.Errorf("write %s: %w", domain.Path(c.path, id), err)
	}
	return nil
}

// Update merges the patch into the stored record and refreshes updated_at.
// It returns domain.ErrNotFound when the record does not exist.
func (c *Collection[T, D]) Update(ctx context.Context, id string, patch Patch) error {
	return c.merge(ctx, id, patch.Changes())
}

func (c *Collection[T, D]) merge(ctx context.Context, id string, fields map[string]any) error {
	fields = maps.Clone(fields)
	if fields == nil {
		fields = make(map[string]any, 1)
	}
	fields["updated_at"] = c.now().UTC()

	if err := c.store.WriteMerge(ctx, domain.Path(c.path, id), fields); err != nil {
		return fmt.Errorf("update %s: %w", domain.Path(c.path, id), err)
	}
	return nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (c *Collection[T, D]) Delete(ctx context.Context, id string) error {
	if err := c.store.Remove(ctx, domain.Path(c.path, id)); err != nil {
		return fmt.Errorf("delete %s: %w", domain.Path(c.path, id), err)
	}
	return nil
}
