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

func TestGetMissingKeyIsEmpty(t *testing.T) {
	c, _ := newTestCache(t)
	val, err := c.Get(context.Background(), "missing")
	if err != nil || val != "" {
		t.Fatalf("Get() = %q, %v", val, err)
	}
}

func TestSetGetExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte{0, 1, 2}, time.Minute); err != nil {
		t.Fatal(err)
	}
	val, err := c.Get(ctx, "k")
	if err != nil || val != "\x00\x01\x02" {
		t.Fatalf("binary value not preserved: %q %v", val, err)
	}
	mr.FastForward(2 * time.Minute)
	if mr.Exists("k") {
		t.Fatal("key should have expired")
	}
}

func TestSetNX(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	ok, err := c.SetNX(ctx, "lock", "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v %v", ok, err)
	}
	if ok, _ := c.SetNX(ctx, "lock", "2", time.Minute); ok {
		t.Fatal("second SetNX must fail")
	}
	if err := c.Del(ctx, "lock"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.SetNX(ctx, "lock", "3", time.Minute); !ok {
		t.Fatal("SetNX after Del must succeed")
	}
}

func TestIncrWindow(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrWindow(ctx, "counter", time.Minute)
		if err != nil || got != want {
			t.Fatalf("IncrWindow() = %d %v, want %d", got, err, want)
		}
		mr.FastForward(10 * time.Second)
	}
	if ttl := mr.TTL("counter"); ttl != 30*time.Second {
		t.Fatalf("window must not be extended, ttl = %v", ttl)
	}
	mr.FastForward(time.Minute)
	if got, _ := c.IncrWindow(ctx, "counter", time.Minute); got != 1 {
		t.Fatalf("new window should restart at 1, got %d", got)
	}
	if _, err := c.IncrWindow(ctx, "counter", 0); err == nil {
		t.Fatal("zero window must be rejected")
	}
}

func TestPipelineWritesAll(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	err := c.Pipeline(ctx, func(pipe Pipeliner) error {
		if err := pipe.Set("a", "1", time.Minute); err != nil {
			return err
		}
		return pipe.Set("b", "2", 0)
	})
	if err != nil {
		t.Fatalf("Pipeline() error = %v", err)
	}
	if v, _ := mr.Get("a"); v != "1" {
		t.Fatalf("a = %q", v)
	}
	if v, _ := mr.Get("b"); v != "2" {
		t.Fatalf("b = %q", v)
	}
	if ttl := mr.TTL("a"); ttl != time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}
}

func TestJitterTTL(t *testing.T) {
	for i := 0; i < 50; i++ {
		got := JitterTTL(time.Hour)
		if got > time.Hour || got < 54*time.Minute {
			t.Fatalf("JitterTTL() = %v out of range", got)
		}
	}
	if JitterTTL(0) != 0 {
		t.Fatal("zero ttl must stay zero")
	}
}
