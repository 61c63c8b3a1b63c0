package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestQueryCache(t *testing.T) (*QueryCache, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	cache := NewQueryCache(client, 5*time.Minute, zap.NewNop())

	return cache, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

type cachedPayload struct {
	Total int      `json:"total"`
	Names []string `json:"names"`
}

func TestQueryCache_KeyIsStable(t *testing.T) {
	cache, _, cleanup := setupTestQueryCache(t)
	defer cleanup()

	type args struct {
		UserID string
		Page   int
	}

	k1, err := cache.Key("offers", args{UserID: "u1", Page: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, _ := cache.Key("offers", args{UserID: "u1", Page: 2})
	if k1 != k2 {
		t.Errorf("equal args must map to the same key: %s vs %s", k1, k2)
	}

	k3, _ := cache.Key("offers", args{UserID: "u1", Page: 3})
	if k1 == k3 {
		t.Error("different args must map to different keys")
	}

	k4, _ := cache.Key("loyalty", args{UserID: "u1", Page: 2})
	if k1 == k4 {
		t.Error("different prefixes must map to different keys")
	}
}

func TestQueryCache_SetGetRoundTrip(t *testing.T) {
	cache, _, cleanup := setupTestQueryCache(t)
	defer cleanup()

	ctx := context.Background()
	key, _ := cache.Key("offers", "u1")

	stored := cachedPayload{Total: 7, Names: []string{"Acme", "Bravo"}}
	if err := cache.Set(ctx, key, "u1", stored); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var loaded cachedPayload
	hit, err := cache.Get(ctx, key, &loaded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hit {
		t.Fatal("expected a hit")
	}
	if loaded.Total != 7 || len(loaded.Names) != 2 {
		t.Errorf("payload mangled: %+v", loaded)
	}
}

func TestQueryCache_MissReturnsFalse(t *testing.T) {
	cache, _, cleanup := setupTestQueryCache(t)
	defer cleanup()

	var dest cachedPayload
	hit, err := cache.Get(context.Background(), "qc:offers:nope", &dest)
	if err != nil {
		t.Fatalf("a miss is not an error: %v", err)
	}
	if hit {
		t.Error("expected a miss")
	}
}

func TestQueryCache_InvalidateUser(t *testing.T) {
	cache, mr, cleanup := setupTestQueryCache(t)
	defer cleanup()

	ctx := context.Background()

	k1, _ := cache.Key("offers", []string{"u1", "page1"})
	k2, _ := cache.Key("loyalty", "u1")
	other, _ := cache.Key("offers", "u2")

	cache.Set(ctx, k1, "u1", cachedPayload{Total: 1})
	cache.Set(ctx, k2, "u1", cachedPayload{Total: 2})
	cache.Set(ctx, other, "u2", cachedPayload{Total: 3})

	if err := cache.InvalidateUser(ctx, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var dest cachedPayload
	if hit, _ := cache.Get(ctx, k1, &dest); hit {
		t.Error("u1 entries should be gone")
	}
	if hit, _ := cache.Get(ctx, k2, &dest); hit {
		t.Error("u1 entries should be gone")
	}
	if hit, _ := cache.Get(ctx, other, &dest); !hit {
		t.Error("other users' entries must survive")
	}
	if mr.Exists(userIndexKey("u1")) {
		t.Error("the reverse index itself should be deleted")
	}
}

func TestQueryCache_EntriesExpire(t *testing.T) {
	cache, mr, cleanup := setupTestQueryCache(t)
	defer cleanup()

	ctx := context.Background()
	key, _ := cache.Key("offers", "u1")
	cache.Set(ctx, key, "u1", cachedPayload{Total: 1})

	mr.FastForward(6 * time.Minute)

	var dest cachedPayload
	if hit, _ := cache.Get(ctx, key, &dest); hit {
		t.Error("entry should have expired")
	}
}
