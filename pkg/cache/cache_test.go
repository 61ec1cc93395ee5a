package cache

import (
	"context"
	"testing"
	"time"
)

type cachedScore struct {
	SupplierID string  `json:"supplier_id"`
	Score      float64 `json:"score"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	mc := NewMemoryCache()
	ctx := context.Background()

	stored := cachedScore{SupplierID: "SUP-01", Score: 0.87}
	if err := mc.Set(ctx, "supplier:SUP-01", stored, 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	var got cachedScore
	ok, err := mc.Get(ctx, "supplier:SUP-01", &got)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got != stored {
		t.Errorf("got %+v, want %+v", got, stored)
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	mc := NewMemoryCache()

	var got cachedScore
	ok, err := mc.Get(context.Background(), "absent", &got)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Error("expected a miss for an absent key")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache()
	ctx := context.Background()

	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	mc.SetClock(func() time.Time { return now })

	if err := mc.Set(ctx, "k", cachedScore{Score: 1}, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	var got cachedScore
	if ok, _ := mc.Get(ctx, "k", &got); !ok {
		t.Fatal("expected a hit before expiry")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := mc.Get(ctx, "k", &got); ok {
		t.Error("expected a miss after expiry")
	}
	if mc.Len() != 0 {
		t.Errorf("expired entry not evicted, len = %d", mc.Len())
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	mc := NewMemoryCache()
	ctx := context.Background()

	mc.Set(ctx, "k", cachedScore{Score: 1}, 0)
	if err := mc.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	var got cachedScore
	if ok, _ := mc.Get(ctx, "k", &got); ok {
		t.Error("expected a miss after delete")
	}

	// Deleting an absent key is not an error.
	if err := mc.Delete(ctx, "k"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNopCache(t *testing.T) {
	nc := NopCache{}
	ctx := context.Background()

	if err := nc.Set(ctx, "k", cachedScore{Score: 1}, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	var got cachedScore
	ok, err := nc.Get(ctx, "k", &got)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Error("nop cache should never hit")
	}
}
