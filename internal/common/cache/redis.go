package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxRetries   = 3
	defaultDialTimeout  = 5 * time.Second
	defaultIOTimeout    = 3 * time.Second
	defaultPoolSize     = 20
	defaultMinIdleConns = 2
	defaultPoolTimeout  = 4 * time.Second
	defaultMaxIdleTime  = 10 * time.Minute
	pingTimeout         = 5 * time.Second
)

// RedisConfig holds the configuration for Redis client.
type RedisConfig struct {
	Addr            string        `yaml:"addr"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	MaxRetries      int           `yaml:"maxRetries"`
	DialTimeout     time.Duration `yaml:"dialTimeout"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	PoolSize        int           `yaml:"poolSize"`
	MinIdleConns    int           `yaml:"minIdleConns"`
	PoolTimeout     time.Duration `yaml:"poolTimeout"`
	ConnMaxIdleTime time.Duration `yaml:"connMaxIdleTime"`
}

// FillDefaults sets zero fields to their defaults.
func (c *RedisConfig) FillDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultIOTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultIOTimeout
	}
	if c.PoolSize == 0 {
		c.PoolSize = defaultPoolSize
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = defaultMinIdleConns
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = defaultPoolTimeout
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = defaultMaxIdleTime
	}
}

// incrWindowScript starts the expiry on the first increment only, so a busy
// client cannot keep extending its own window.
var incrWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisCache implements Cache using go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCacheWithConfig connects to Redis and pings it.
func NewRedisCacheWithConfig(config *RedisConfig) (*RedisCache, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Addr == "" {
		return nil, fmt.Errorf("addr cannot be empty")
	}
	config.FillDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:            config.Addr,
		Password:        config.Password,
		DB:              config.DB,
		MaxRetries:      config.MaxRetries,
		DialTimeout:     config.DialTimeout,
		ReadTimeout:     config.ReadTimeout,
		WriteTimeout:    config.WriteTimeout,
		PoolSize:        config.PoolSize,
		MinIdleConns:    config.MinIdleConns,
		PoolTimeout:     config.PoolTimeout,
		ConnMaxIdleTime: config.ConnMaxIdleTime,
	})
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client) (*RedisCache, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	return &RedisCache{client: client}, nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisCache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}
	return incrWindowScript.Run(ctx, r.client, []string{key}, window.Milliseconds()).Int64()
}

// Pipeline runs the queued commands inside MULTI/EXEC so readers never see
// half of the batch.
func (r *RedisCache) Pipeline(ctx context.Context, fn func(pipe Pipeliner) error) error {
	if fn == nil {
		return nil
	}
	pipe := r.client.TxPipeline()
	if err := fn(&redisPipeliner{ctx: ctx, pipe: pipe}); err != nil {
		pipe.Discard()
		return err
	}
	_, err := pipe.Exec(ctx)
	return err
}

type redisPipeliner struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

func (p *redisPipeliner) Set(key string, value interface{}, ttl time.Duration) error {
	return p.pipe.Set(p.ctx, key, value, ttl).Err()
}

var _ Cache = (*RedisCache)(nil)
