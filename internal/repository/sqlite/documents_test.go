package sqlite_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/abdo90-dev/ecole-v2/internal/domain"
)

// watch subscribes to collection and returns a channel fed with every
// delivered snapshot.
func watch(t *testing.T, store domain.DocumentStore, collection string) (<-chan domain.Snapshot, domain.Subscription) {
	t.Helper()
	ch := make(chan domain.Snapshot, 64)
	sub, err := store.Subscribe(context.Background(), collection, func(s domain.Snapshot) { ch <- s }, nil)
	if err != nil {
		t.Fatalf("Subscribe %s: %v", collection, err)
	}
	t.Cleanup(sub.Unsubscribe)
	return ch, sub
}

// waitSnapshot reads snapshots until one satisfies cond.
func waitSnapshot(t *testing.T, ch <-chan domain.Snapshot, cond func(domain.Snapshot) bool) domain.Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if cond(s) {
				return s
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
			return nil
		}
	}
}

func TestDocumentStore_SubscribeDeliversInitialSnapshot(t *testing.T) {
	db := newTestDB(t)
	store := db.Documents()
	ctx := context.Background()

	if err := store.WriteFull(ctx, "specialties/s1", map[string]any{"name": "Math"}); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}

	ch, _ := watch(t, store, "specialties")
	snap := waitSnapshot(t, ch, func(domain.Snapshot) bool { return true })
	if len(snap) != 1 {
		t.Fatalf("expected 1 document in initial snapshot, got %d", len(snap))
	}
	if _, ok := snap["s1"]; !ok {
		t.Fatal("expected s1 in initial snapshot")
	}
}

func TestDocumentStore_EmptyCollectionStillNotifies(t *testing.T) {
	db := newTestDB(t)

	ch, _ := watch(t, db.Documents(), "students")
	snap := waitSnapshot(t, ch, func(domain.Snapshot) bool { return true })
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %d documents", len(snap))
	}
}

func TestDocumentStore_WriteNotifiesOnlyThatCollection(t *testing.T) {
	db := newTestDB(t)
	store := db.Documents()
	ctx := context.Background()

	students, _ := watch(t, store, "students")
	specialties, _ := watch(t, store, "specialties")
	waitSnapshot(t, students, func(domain.Snapshot) bool { return true })
	waitSnapshot(t, specialties, func(domain.Snapshot) bool { return true })

	if err := store.WriteFull(ctx, "students/a", map[string]any{"year": 1}); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	waitSnapshot(t, students, func(s domain.Snapshot) bool { return len(s) == 1 })

	select {
	case s := <-specialties:
		t.Fatalf("specialties subscriber notified by a students write: %v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDocumentStore_SnapshotsNeverRegress(t *testing.T) {
	db := newTestDB(t)
	store := db.Documents()
	ctx := context.Background()

	ch, _ := watch(t, store, "students")

	for i := 1; i <= 20; i++ {
		id := store.GenerateID("students")
		if err := store.WriteFull(ctx, "students/"+id, map[string]any{"year": 1}); err != nil {
			t.Fatalf("WriteFull %d: %v", i, err)
		}
	}

	last := -1
	waitSnapshot(t, ch, func(s domain.Snapshot) bool {
		if len(s) < last {
			t.Fatalf("snapshot regressed from %d to %d documents", last, len(s))
		}
		last = len(s)
		return len(s) == 20
	})
}

func TestDocumentStore_ReadOnce(t *testing.T) {
	db := newTestDB(t)
	store := db.Documents()
	ctx := context.Background()

	if err := store.WriteFull(ctx, "users/u1", map[string]any{"email": "a@example.com"}); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}

	body, err := store.ReadOnce(ctx, "users/u1")
	if err != nil {
		t.Fatalf("ReadOnce: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["email"] != "a@example.com" {
		t.Fatalf("expected email a@example.com, got %q", got["email"])
	}

	all, err := store.ReadOnce(ctx, "users")
	if err != nil {
		t.Fatalf("ReadOnce collection: %v", err)
	}
	var snap map[string]json.RawMessage
	if err := json.Unmarshal(all, &snap); err != nil {
		t.Fatalf("decode collection: %v", err)
	}
	if len(snap) != 1 {
		t.Fatalf("expected 1 user, got %d", len(snap))
	}

	if _, err := store.ReadOnce(ctx, "users/missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDocumentStore_WriteMerge(t *testing.T) {
	db := newTestDB(t)
	store := db.Documents()
	ctx := context.Background()

	err := store.WriteFull(ctx, "specialties/s1", map[string]any{
		"name": "Math", "code": "MA", "duration_years": 3,
	})
	if err != nil {
		t.Fatalf("WriteFull: %v", err)
	}

	if err := store.WriteMerge(ctx, "specialties/s1", map[string]any{"name": "Mathematics", "code": nil}); err != nil {
		t.Fatalf("WriteMerge: %v", err)
	}

	body, err := store.ReadOnce(ctx, "specialties/s1")
	if err != nil {
		t.Fatalf("ReadOnce: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["name"] != "Mathematics" {
		t.Fatalf("expected merged name, got %v", got["name"])
	}
	if got["duration_years"] != float64(3) {
		t.Fatalf("expected untouched duration_years 3, got %v", got["duration_years"])
	}
	if _, ok := got["code"]; ok {
		t.Fatal("expected nil merge value to remove code")
	}
}

func TestDocumentStore_WriteMerge_NotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.Documents().WriteMerge(context.Background(), "specialties/nope", map[string]any{"name": "x"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDocumentStore_Remove(t *testing.T) {
	db := newTestDB(t)
	store := db.Documents()
	ctx := context.Background()

	if err := store.WriteFull(ctx, "students/a", map[string]any{}); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	if err := store.Remove(ctx, "students/a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := store.ReadOnce(ctx, "students/a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after Remove, got %v", err)
	}

	// Removing again is a no-op.
	if err := store.Remove(ctx, "students/a"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestDocumentStore_InvalidPaths(t *testing.T) {
	db := newTestDB(t)
	store := db.Documents()
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
	}{
		{"write to collection path", func() error { return store.WriteFull(ctx, "students", map[string]any{}) }},
		{"merge into nested path", func() error { return store.WriteMerge(ctx, "students/a/b", map[string]any{}) }},
		{"remove empty path", func() error { return store.Remove(ctx, "") }},
		{"subscribe to document path", func() error {
			_, err := store.Subscribe(ctx, "students/a", func(domain.Snapshot) {}, nil)
			return err
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.run(); !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestDocumentStore_GenerateIDIsUniqueAndOrdered(t *testing.T) {
	db := newTestDB(t)
	store := db.Documents()

	ids := make([]string, 100)
	seen := make(map[string]bool)
	for i := range ids {
		ids[i] = store.GenerateID("students")
		if seen[ids[i]] {
			t.Fatalf("duplicate id %s", ids[i])
		}
		seen[ids[i]] = true
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatal("expected generated ids in creation order")
	}
}

func TestDocumentStore_UnsubscribeStopsDelivery(t *testing.T) {
	db := newTestDB(t)
	store := db.Documents()
	ctx := context.Background()

	ch, sub := watch(t, store, "students")
	waitSnapshot(t, ch, func(domain.Snapshot) bool { return true })

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	if err := store.WriteFull(ctx, "students/a", map[string]any{}); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}

	select {
	case s := <-ch:
		t.Fatalf("received snapshot after Unsubscribe: %v", s)
	case <-time.After(50 * time.Millisecond):
	}
}
