package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kozaktomas/missing-persons/internal/database"
	"github.com/kozaktomas/missing-persons/internal/database/redisstore"
	backend "github.com/redis/go-redis/v9"
)

func newStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redisstore.NewFromClient(client, redisstore.WithPrefix("test:"))
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestStore_SaveGetDelete(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	now := time.Now()

	s := &database.StoredSession{ID: "abc", UserID: 7, Username: "dana", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if !mr.Exists("test:abc") {
		t.Fatal("Expected session key to exist")
	}
	if ttl := mr.TTL("test:abc"); ttl <= 0 || ttl > time.Hour {
		t.Errorf("Unexpected TTL %v", ttl)
	}

	got, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.UserID != 7 || got.Username != "dana" {
		t.Fatalf("Unexpected session %+v", got)
	}

	if err := store.Delete(ctx, "abc"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err = store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("Expected nil after delete")
	}
}

func TestStore_MissingSession(t *testing.T) {
	store, _ := newStore(t)
	got, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil, got %+v", got)
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	now := time.Now()

	s := &database.StoredSession{ID: "short", UserID: 1, Username: "eve", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, "short")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("Expected session to expire")
	}
}

func TestStore_SaveAlreadyExpired(t *testing.T) {
	store, mr := newStore(t)
	now := time.Now()

	s := &database.StoredSession{ID: "old", UserID: 1, CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)}
	if err := store.Save(context.Background(), s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if mr.Exists("test:old") {
		t.Error("Expected expired session not to be stored")
	}
}

func TestStore_DeleteExpired(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, exp := range []time.Duration{time.Minute, 2 * time.Minute, time.Hour} {
		s := &database.StoredSession{ID: string(rune('a' + i)), UserID: 1, CreatedAt: now, ExpiresAt: now.Add(exp)}
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	n, err := store.DeleteExpired(ctx, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 pruned sessions, got %d", n)
	}

	got, err := store.Get(ctx, "c")
	if err != nil || got == nil {
		t.Errorf("Expected long-lived session to survive, got %v (err %v)", got, err)
	}
}
