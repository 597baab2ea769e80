// Package sessiontest contains the behaviour every session.Cache backend must
// share, run by each backend's tests.
package sessiontest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-test/deep"

	"github.com/dcrodman/realm/internal/core/data"
	"github.com/dcrodman/realm/internal/session"
)

// Run exercises the cache returned by newCache. newCache is called once per
// subtest and must return an empty cache.
func Run(t *testing.T, newCache func(t *testing.T) session.Cache) {
	tests := []struct {
		name string
		test func(t *testing.T, cache session.Cache)
	}{
		{"RoundTrip", testRoundTrip},
		{"UniqueKeys", testUniqueKeys},
		{"IsKey", testIsKey},
		{"SetCharacterAndZone", testSetCharacterAndZone},
		{"UnboundEndpoint", testUnboundEndpoint},
		{"DeleteSession", testDeleteSession},
		{"OneBindingPerKey", testOneBindingPerKey},
		{"OneBindingPerEndpoint", testOneBindingPerEndpoint},
		{"RebindAfterDelete", testRebindAfterDelete},
		{"ConcurrentUpdates", testConcurrentUpdates},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newCache(t)
			t.Cleanup(func() { _ = cache.Close() })
			tt.test(t, cache)
		})
	}
}

func createBoundSession(t *testing.T, cache session.Cache, endpoint string, userID int64) string {
	key, err := cache.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("CreateSession() returned an unexpected error: %v", err)
	}
	if err := cache.RegisterKey(endpoint, key); err != nil {
		t.Fatalf("RegisterKey() returned an unexpected error: %v", err)
	}
	return key
}

func testRoundTrip(t *testing.T, cache session.Cache) {
	key := createBoundSession(t, cache, "127.0.0.1:1001", 42)

	got, err := cache.GetSession(context.Background(), "127.0.0.1:1001")
	if err != nil {
		t.Fatalf("GetSession() returned an unexpected error: %v", err)
	}
	want := &session.Session{Key: key, UserID: 42}
	if diff := deep.Equal(got, want); diff != nil {
		t.Error(diff)
	}
}

func testUniqueKeys(t *testing.T, cache session.Cache) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		key, err := cache.CreateSession(context.Background(), 7)
		if err != nil {
			t.Fatalf("CreateSession() returned an unexpected error: %v", err)
		}
		if len(key) < 32 {
			t.Errorf("expected a key of at least 32 characters, got %q", key)
		}
		if seen[key] {
			t.Fatalf("key %q returned twice", key)
		}
		seen[key] = true
	}
}

func testIsKey(t *testing.T, cache session.Cache) {
	key, err := cache.CreateSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("CreateSession() returned an unexpected error: %v", err)
	}

	if ok, err := cache.IsKey(context.Background(), key); err != nil || !ok {
		t.Errorf("IsKey(%q) = %v, %v; want true", key, ok, err)
	}
	if ok, err := cache.IsKey(context.Background(), "not-a-key"); err != nil || ok {
		t.Errorf("IsKey(not-a-key) = %v, %v; want false", ok, err)
	}
}

func testSetCharacterAndZone(t *testing.T, cache session.Cache) {
	ctx := context.Background()
	key := createBoundSession(t, cache, "127.0.0.1:1002", 5)

	if err := cache.SetCharacter(ctx, "127.0.0.1:1002", 900); err != nil {
		t.Fatalf("SetCharacter() returned an unexpected error: %v", err)
	}
	if err := cache.SetZone(ctx, "127.0.0.1:1002", data.ZoneID(1100)); err != nil {
		t.Fatalf("SetZone() returned an unexpected error: %v", err)
	}

	got, err := cache.GetSession(ctx, "127.0.0.1:1002")
	if err != nil {
		t.Fatalf("GetSession() returned an unexpected error: %v", err)
	}
	want := &session.Session{Key: key, UserID: 5, CharacterID: 900, ZoneID: 1100}
	if diff := deep.Equal(got, want); diff != nil {
		t.Error(diff)
	}
}

func testUnboundEndpoint(t *testing.T, cache session.Cache) {
	ctx := context.Background()

	if _, err := cache.GetSession(ctx, "127.0.0.1:9999"); !errors.Is(err, session.ErrNotBound) {
		t.Errorf("GetSession() error = %v, want ErrNotBound", err)
	}
	if err := cache.SetZone(ctx, "127.0.0.1:9999", 1); !errors.Is(err, session.ErrNotBound) {
		t.Errorf("SetZone() error = %v, want ErrNotBound", err)
	}
	if err := cache.DeleteSession(ctx, "127.0.0.1:9999"); !errors.Is(err, session.ErrNotBound) {
		t.Errorf("DeleteSession() error = %v, want ErrNotBound", err)
	}

	// Bound to a key that was never created.
	if err := cache.RegisterKey("127.0.0.1:9998", "missing"); err != nil {
		t.Fatalf("RegisterKey() returned an unexpected error: %v", err)
	}
	if _, err := cache.GetSession(ctx, "127.0.0.1:9998"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("GetSession() error = %v, want ErrNotFound", err)
	}
	if err := cache.SetCharacter(ctx, "127.0.0.1:9998", 1); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("SetCharacter() error = %v, want ErrNotFound", err)
	}
}

func testDeleteSession(t *testing.T, cache session.Cache) {
	ctx := context.Background()
	key := createBoundSession(t, cache, "127.0.0.1:1003", 3)
	createBoundSession(t, cache, "127.0.0.1:1004", 4)

	if got := cache.Bindings(); got != 2 {
		t.Fatalf("Bindings() = %d, want 2", got)
	}
	if err := cache.DeleteSession(ctx, "127.0.0.1:1003"); err != nil {
		t.Fatalf("DeleteSession() returned an unexpected error: %v", err)
	}

	if ok, _ := cache.IsKey(ctx, key); ok {
		t.Errorf("expected session %q to be removed", key)
	}
	if _, err := cache.GetSession(ctx, "127.0.0.1:1003"); !errors.Is(err, session.ErrNotBound) {
		t.Errorf("GetSession() error = %v, want ErrNotBound", err)
	}
	if got := cache.Bindings(); got != 1 {
		t.Errorf("Bindings() = %d, want 1", got)
	}
	if _, err := cache.GetSession(ctx, "127.0.0.1:1004"); err != nil {
		t.Errorf("expected the other session to survive, got %v", err)
	}
}

func testOneBindingPerKey(t *testing.T, cache session.Cache) {
	ctx := context.Background()
	key := createBoundSession(t, cache, "127.0.0.1:1006", 6)

	if err := cache.RegisterKey("127.0.0.1:1007", key); !errors.Is(err, session.ErrAlreadyBound) {
		t.Fatalf("RegisterKey() error = %v, want ErrAlreadyBound", err)
	}
	if got := cache.Bindings(); got != 1 {
		t.Errorf("Bindings() = %d, want 1", got)
	}
	if _, err := cache.GetSession(ctx, "127.0.0.1:1007"); !errors.Is(err, session.ErrNotBound) {
		t.Errorf("GetSession() error = %v, want ErrNotBound", err)
	}

	// The rejected endpoint disconnecting doesn't touch the shared session.
	if err := cache.DeleteSession(ctx, "127.0.0.1:1007"); !errors.Is(err, session.ErrNotBound) {
		t.Errorf("DeleteSession() error = %v, want ErrNotBound", err)
	}
	if _, err := cache.GetSession(ctx, "127.0.0.1:1006"); err != nil {
		t.Errorf("expected the bound session to survive, got %v", err)
	}
}

func testOneBindingPerEndpoint(t *testing.T, cache session.Cache) {
	ctx := context.Background()
	first := createBoundSession(t, cache, "127.0.0.1:1008", 9)
	second, err := cache.CreateSession(ctx, 10)
	if err != nil {
		t.Fatalf("CreateSession() returned an unexpected error: %v", err)
	}

	if err := cache.RegisterKey("127.0.0.1:1008", second); !errors.Is(err, session.ErrAlreadyBound) {
		t.Fatalf("RegisterKey() error = %v, want ErrAlreadyBound", err)
	}
	got, err := cache.GetSession(ctx, "127.0.0.1:1008")
	if err != nil {
		t.Fatalf("GetSession() returned an unexpected error: %v", err)
	}
	if got.Key != first {
		t.Errorf("expected the endpoint to keep key %q, got %q", first, got.Key)
	}

	// The rejected key is still free to be bound elsewhere.
	if err := cache.RegisterKey("127.0.0.1:1009", second); err != nil {
		t.Errorf("RegisterKey() returned an unexpected error: %v", err)
	}
}

func testRebindAfterDelete(t *testing.T, cache session.Cache) {
	ctx := context.Background()
	createBoundSession(t, cache, "127.0.0.1:1010", 11)
	if err := cache.DeleteSession(ctx, "127.0.0.1:1010"); err != nil {
		t.Fatalf("DeleteSession() returned an unexpected error: %v", err)
	}

	key := createBoundSession(t, cache, "127.0.0.1:1010", 12)
	got, err := cache.GetSession(ctx, "127.0.0.1:1010")
	if err != nil {
		t.Fatalf("GetSession() returned an unexpected error: %v", err)
	}
	if got.Key != key || got.UserID != 12 {
		t.Errorf("unexpected session after rebinding: %+v", got)
	}
}

func testConcurrentUpdates(t *testing.T, cache session.Cache) {
	ctx := context.Background()
	createBoundSession(t, cache, "127.0.0.1:1005", 8)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- cache.SetCharacter(ctx, "127.0.0.1:1005", 77)
	}()
	go func() {
		defer wg.Done()
		errs <- cache.SetZone(ctx, "127.0.0.1:1005", 2200)
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent update returned an unexpected error: %v", err)
		}
	}

	got, err := cache.GetSession(ctx, "127.0.0.1:1005")
	if err != nil {
		t.Fatalf("GetSession() returned an unexpected error: %v", err)
	}
	if got.CharacterID != 77 || got.ZoneID != 2200 {
		t.Errorf("expected both updates to be kept, got %+v", got)
	}
}
