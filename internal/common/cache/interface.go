package cache

import (
	"context"
	"time"
)

// Cache is the key-value store behind session status, idempotency keys and
// rate limiting. Get returns "" with a nil error for missing keys.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores value with a ttl; 0 means no expiration.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error

	// IncrWindow increments a fixed-window counter. The window starts at the
	// first increment and the key expires when it ends.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	// Pipeline applies the writes issued by fn atomically.
	Pipeline(ctx context.Context, fn func(pipe Pipeliner) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Pipeliner queues writes for Pipeline.
type Pipeliner interface {
	Set(key string, value interface{}, ttl time.Duration) error
}
