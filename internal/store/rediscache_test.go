package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"swing-trading-bot/internal/monitor"
)

func testSnapshot() map[string]*monitor.Metadata {
	return map[string]*monitor.Metadata{
		"AAPL": {Symbol: "AAPL", EntryPrice: 100, ProfitLevel: 1, PartialTaken: true},
	}
}

func TestPositionCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewPositionCache(client, zerolog.Nop())
	ctx := context.Background()

	cache.Save(ctx, testSnapshot())

	out, err := cache.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	md := out["AAPL"]
	if md == nil || md.ProfitLevel != 1 || !md.PartialTaken {
		t.Fatalf("snapshot = %+v, want the saved AAPL metadata", md)
	}
}

func TestPositionCacheEmptyRedisFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewPositionCache(client, zerolog.Nop())
	ctx := context.Background()

	cache.Save(ctx, testSnapshot())
	mr.FlushAll() // Snapshot gone from Redis, in-memory copy survives

	out, err := cache.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out["AAPL"] == nil {
		t.Fatal("in-memory fallback should serve when the Redis key is missing")
	}
}

func TestPositionCacheNilClient(t *testing.T) {
	cache := NewPositionCache(nil, zerolog.Nop())
	ctx := context.Background()

	cache.Save(ctx, testSnapshot())
	out, err := cache.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out["AAPL"] == nil || out["AAPL"].EntryPrice != 100 {
		t.Fatal("nil-client cache must still round-trip in memory")
	}

	// Load hands out copies, not the fallback map's pointers.
	out["AAPL"].ProfitLevel = 2
	again, _ := cache.Load(ctx)
	if again["AAPL"].ProfitLevel != 1 {
		t.Fatalf("level = %d, loaded copies must not alias the fallback", again["AAPL"].ProfitLevel)
	}
}
