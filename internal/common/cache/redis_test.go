package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCacheGetMissing(t *testing.T) {
	c, _ := newTestCache(t)
	value, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected nil error for missing key, got %v", err)
	}
	if value != "" {
		t.Fatalf("expected empty value, got %q", value)
	}
}

func TestRedisCacheLockOwnership(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	token, err := c.TryLock(ctx, "lock:a", time.Minute)
	if err != nil || token == "" {
		t.Fatalf("expected lock acquired, token=%q err=%v", token, err)
	}
	second, err := c.TryLock(ctx, "lock:a", time.Minute)
	if err != nil {
		t.Fatalf("second lock: %v", err)
	}
	if second != "" {
		t.Fatalf("expected second lock attempt to fail")
	}

	if err := c.Unlock(ctx, "lock:a", "not-the-owner"); err != nil {
		t.Fatalf("unlock foreign token: %v", err)
	}
	if n, _ := c.Exists(ctx, "lock:a"); n != 1 {
		t.Fatalf("expected lock to survive foreign unlock")
	}
	if err := c.Unlock(ctx, "lock:a", token); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if n, _ := c.Exists(ctx, "lock:a"); n != 0 {
		t.Fatalf("expected lock released")
	}
}

func TestRedisCacheListTrim(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	for _, v := range []string{"a", "b", "c"} {
		if err := c.LPush(ctx, "hist", v); err != nil {
			t.Fatalf("lpush: %v", err)
		}
	}
	if err := c.LTrim(ctx, "hist", 0, 1); err != nil {
		t.Fatalf("ltrim: %v", err)
	}
	items, err := c.LRange(ctx, "hist", 0, -1)
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	if len(items) != 2 || items[0] != "c" || items[1] != "b" {
		t.Fatalf("unexpected list: %v", items)
	}
}

func TestRedisCacheIncrExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.Incr(ctx, "counter")
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	if err := c.Expire(ctx, "counter", time.Second); err != nil {
		t.Fatalf("expire: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if n, err := c.Exists(ctx, "counter"); err != nil || n != 0 {
		t.Fatalf("expected counter expired, n=%d err=%v", n, err)
	}
}
