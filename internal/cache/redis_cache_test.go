package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mhorvath/guest-notify/internal/model"
)

func newTestCache(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisProfileCache) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedisProfileCache(rdb, ttl)
}

func TestRedisProfileCache_StoreAndGet(t *testing.T) {
	t.Parallel()

	mr, cache := newTestCache(t, 10*time.Second)
	ctx := context.Background()

	p := SenderProfile{Number: "36201234567", DisplayName: "Dani"}
	if err := cache.Store(ctx, model.IdentityGroom, p); err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	if !mr.Exists("profile:groom") {
		t.Fatalf("expected key profile:groom to exist")
	}
	if ttl := mr.TTL("profile:groom"); ttl <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttl)
	}

	raw, err := mr.Get("profile:groom")
	if err != nil {
		t.Fatalf("failed to read raw value: %v", err)
	}
	var stored SenderProfile
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("failed to unmarshal stored value: %v", err)
	}
	if stored.Number != p.Number {
		t.Fatalf("expected number %q, got %q", p.Number, stored.Number)
	}

	got, err := cache.Get(ctx, model.IdentityGroom)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got == nil || got.Number != p.Number || got.DisplayName != p.DisplayName {
		t.Fatalf("expected %+v, got %+v", p, got)
	}
}

func TestRedisProfileCache_MissReturnsNilNil(t *testing.T) {
	t.Parallel()

	_, cache := newTestCache(t, time.Minute)

	got, err := cache.Get(context.Background(), model.IdentityBride)
	if err != nil {
		t.Fatalf("Get() error on miss: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on miss, got %+v", got)
	}
}

func TestRedisProfileCache_ExpiryIsAMiss(t *testing.T) {
	t.Parallel()

	mr, cache := newTestCache(t, time.Second)
	ctx := context.Background()

	if err := cache.Store(ctx, model.IdentityGroom, SenderProfile{Number: "361"}); err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	mr.FastForward(2 * time.Second)

	got, err := cache.Get(ctx, model.IdentityGroom)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected miss after expiry, got %+v", got)
	}
}

func TestRedisProfileCache_Invalidate(t *testing.T) {
	t.Parallel()

	mr, cache := newTestCache(t, time.Minute)
	ctx := context.Background()

	if err := cache.Store(ctx, model.IdentityBride, SenderProfile{Number: "3630"}); err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	if err := cache.Invalidate(ctx, model.IdentityBride); err != nil {
		t.Fatalf("Invalidate() error: %v", err)
	}
	if mr.Exists("profile:bride") {
		t.Fatalf("expected key removed")
	}
}

func TestRedisProfileCache_ContextCanceled(t *testing.T) {
	t.Parallel()

	_, cache := newTestCache(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cache.Store(ctx, model.IdentityGroom, SenderProfile{Number: "361"}); err == nil {
		t.Fatalf("expected error due to canceled context, got nil")
	}
}
