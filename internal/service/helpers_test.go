package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/repository/sqlite"
)

var errInjected = errors.New("injected failure")

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("New DB: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// faultyStore wraps a real store and fails chosen operations on chosen
// collections a set number of times.
type faultyStore struct {
	domain.DocumentStore

	mu       sync.Mutex
	failures map[string]int
	denied   map[string]bool
	onErrors []func(error)
}

func newFaultyStore(inner domain.DocumentStore) *faultyStore {
	return &faultyStore{
		DocumentStore: inner,
		failures:      make(map[string]int),
		denied:        make(map[string]bool),
	}
}

// failNext makes the next n calls of op ("read", "write", "merge",
// "remove") on collection fail.
func (f *faultyStore) failNext(op, collection string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op+" "+collection] = n
}

// deny makes every Subscribe on collection fail.
func (f *faultyStore) deny(collection string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied[collection] = true
}

// breakSubscriptions reports err to every live subscriber.
func (f *faultyStore) breakSubscriptions(err error) {
	f.mu.Lock()
	onErrors := append([]func(error){}, f.onErrors...)
	f.mu.Unlock()

	for _, fn := range onErrors {
		fn(err)
	}
}

func (f *faultyStore) check(op, path string) error {
	collection, _ := domain.SplitPath(path)

	f.mu.Lock()
	defer f.mu.Unlock()
	key := op + " " + collection
	if f.failures[key] > 0 {
		f.failures[key]--
		return errInjected
	}
	return nil
}

func (f *faultyStore) Subscribe(ctx context.Context, collection string, onChange func(domain.Snapshot), onError func(error)) (domain.Subscription, error) {
	f.mu.Lock()
	denied := f.denied[collection]
	if onError != nil {
		f.onErrors = append(f.onErrors, onError)
	}
	f.mu.Unlock()

	if denied {
		return nil, &domain.SubscriptionError{Path: collection, Err: errInjected}
	}
	return f.DocumentStore.Subscribe(ctx, collection, onChange, onError)
}

func (f *faultyStore) ReadOnce(ctx context.Context, path string) (json.RawMessage, error) {
	if err := f.check("read", path); err != nil {
		return nil, err
	}
	return f.DocumentStore.ReadOnce(ctx, path)
}

func (f *faultyStore) WriteFull(ctx context.Context, path string, value any) error {
	if err := f.check("write", path); err != nil {
		return err
	}
	return f.DocumentStore.WriteFull(ctx, path, value)
}

func (f *faultyStore) WriteMerge(ctx context.Context, path string, fields map[string]any) error {
	if err := f.check("merge", path); err != nil {
		return err
	}
	return f.DocumentStore.WriteMerge(ctx, path, fields)
}

func (f *faultyStore) Remove(ctx context.Context, path string) error {
	if err := f.check("remove", path); err != nil {
		return err
	}
	return f.DocumentStore.Remove(ctx, path)
}

// exists reports whether the document at path is stored.
func exists(t *testing.T, store domain.DocumentStore, path string) bool {
	t.Helper()
	_, err := store.ReadOnce(context.Background(), path)
	if errors.Is(err, domain.ErrNotFound) {
		return false
	}
	if err != nil {
		t.Fatalf("ReadOnce %s: %v", path, err)
	}
	return true
}

func ptr[T any](v T) *T { return &v }
