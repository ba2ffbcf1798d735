package service_test

import (
	"testing"

	"github.com/abdo90-dev/ecole-v2/internal/service"
)

func TestTokenBucket_AllowsUpToCapacity(t *testing.T) {
	tb := service.NewTokenBucket(1, 3) // rate=1/s, capacity=3
	t.Cleanup(tb.Stop)

	// Should allow 3 requests immediately (full bucket).
	for i := 0; i < 3; i++ {
		if !tb.Allow("admin@example.com") {
			t.Fatalf("request %d should be allowed (bucket not yet empty)", i+1)
		}
	}

	// 4th request should be denied (bucket empty).
	if tb.Allow("admin@example.com") {
		t.Fatal("4th request should be denied (bucket empty)")
	}
}

func TestTokenBucket_DifferentKeysAreIndependent(t *testing.T) {
	tb := service.NewTokenBucket(1, 1) // capacity=1
	t.Cleanup(tb.Stop)

	if !tb.Allow("a@example.com") {
		t.Fatal("a@example.com first request should be allowed")
	}
	if tb.Allow("a@example.com") {
		t.Fatal("a@example.com second request should be denied")
	}

	// b@example.com has its own bucket.
	if !tb.Allow("b@example.com") {
		t.Fatal("b@example.com first request should be allowed (independent bucket)")
	}
}

func TestTokenBucket_ZeroRateNeverRefills(t *testing.T) {
	tb := service.NewTokenBucket(0, 2) // never refills
	t.Cleanup(tb.Stop)

	if !tb.Allow("k") {
		t.Fatal("first request should be allowed")
	}
	if !tb.Allow("k") {
		t.Fatal("second request should be allowed")
	}
	if tb.Allow("k") {
		t.Fatal("third request should be denied (no refill)")
	}
}

func TestTokenBucket_StopIsIdempotent(t *testing.T) {
	tb := service.NewTokenBucket(1, 1)
	tb.Stop()
	tb.Stop()

	if !tb.Allow("k") {
		t.Fatal("Allow should keep working after Stop")
	}
}
