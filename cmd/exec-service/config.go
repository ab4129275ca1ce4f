package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"runbox/internal/common/cache"
	"runbox/internal/common/mq"
	"runbox/internal/execution/sandbox"
	"runbox/internal/execution/sandbox/engine"
	"runbox/internal/execution/sandbox/environment"
	"runbox/internal/execution/sandbox/profile"
	"runbox/internal/execution/sandbox/runner"
	"runbox/internal/execution/sandbox/spec"
	"runbox/internal/execution/service"
	"runbox/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultStatusTTL       = 24 * time.Hour
	defaultRequestTopic    = "runbox.requests"
	defaultEventTopic      = "runbox.sessions.final"

	supervisorLocal     = "local"
	supervisorDelegated = "delegated"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	MetricsPath  string        `yaml:"metricsPath"`
}

// KafkaConfig holds Kafka settings. The async path is off when Brokers is empty.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	RequiredAcks  int           `yaml:"requiredAcks"`
	Compression   string        `yaml:"compression"`
	RequestTopic  string        `yaml:"requestTopic"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Concurrency   int           `yaml:"concurrency"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	DeadLetter    string        `yaml:"deadLetterTopic"`
	MessageTTL    time.Duration `yaml:"messageTTL"`
}

// Enabled reports whether Kafka is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// RedisSection wraps the cache config with an on/off switch.
type RedisSection struct {
	cache.RedisConfig `yaml:",inline"`
}

// Enabled reports whether Redis is configured.
func (r RedisSection) Enabled() bool {
	return r.Addr != ""
}

// StatusConfig holds status persistence settings.
type StatusConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	Timeout    time.Duration `yaml:"timeout"`
	EventTopic string        `yaml:"eventTopic"`
}

// SandboxConfig holds supervisor and workspace settings.
type SandboxConfig struct {
	WorkRoot string `yaml:"workRoot"`
	// Supervisor is "local" (in-process monitor) or "delegated" (exec-monitor helper).
	Supervisor  string            `yaml:"supervisor"`
	Isolation   sandbox.Isolation `yaml:"isolation"`
	MaxSessions int               `yaml:"maxSessions"`
	Engine      engine.Config     `yaml:",inline"`
}

// AppConfig holds exec-service config.
type AppConfig struct {
	Server         ServerConfig            `yaml:"server"`
	Logger         logger.Config           `yaml:"logger"`
	Redis          RedisSection            `yaml:"redis"`
	Kafka          KafkaConfig             `yaml:"kafka"`
	Status         StatusConfig            `yaml:"status"`
	Sandbox        SandboxConfig           `yaml:"sandbox"`
	Compile        spec.ResourceLimit      `yaml:"compile"`
	Limits         service.LimitsConfig    `yaml:"limits"`
	RateLimit      service.RateLimitConfig `yaml:"rateLimit"`
	Timeouts       service.TimeoutConfig   `yaml:"timeouts"`
	IdempotencyTTL time.Duration           `yaml:"idempotencyTTL"`
	Languages      []profile.LanguageSpec  `yaml:"languages"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *AppConfig) applyDefaults() error {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Redis.Enabled() {
		cfg.Redis.FillDefaults()
	}
	if cfg.Status.TTL == 0 {
		cfg.Status.TTL = defaultStatusTTL
	}
	if cfg.Status.EventTopic == "" {
		cfg.Status.EventTopic = defaultEventTopic
	}
	if cfg.Kafka.RequestTopic == "" {
		cfg.Kafka.RequestTopic = defaultRequestTopic
	}
	if cfg.Kafka.Enabled() && !cfg.Redis.Enabled() {
		return fmt.Errorf("kafka requires redis for session status")
	}

	cfg.Sandbox.Supervisor = strings.ToLower(strings.TrimSpace(cfg.Sandbox.Supervisor))
	switch cfg.Sandbox.Supervisor {
	case "":
		cfg.Sandbox.Supervisor = supervisorLocal
	case supervisorLocal, supervisorDelegated:
	default:
		return fmt.Errorf("sandbox supervisor must be %q or %q, got %q", supervisorLocal, supervisorDelegated, cfg.Sandbox.Supervisor)
	}
	switch cfg.Sandbox.Isolation {
	case "":
		cfg.Sandbox.Isolation = sandbox.IsolationShared
	case sandbox.IsolationShared, sandbox.IsolationPerTest:
	default:
		return fmt.Errorf("sandbox isolation must be %q or %q, got %q", sandbox.IsolationShared, sandbox.IsolationPerTest, cfg.Sandbox.Isolation)
	}
	cfg.Sandbox.Engine.ExitCodes = cfg.Sandbox.Engine.ExitCodes.WithDefaults()
	if err := cfg.Sandbox.Engine.ExitCodes.Validate(); err != nil {
		return err
	}
	if cfg.Sandbox.MaxSessions <= 0 {
		cfg.Sandbox.MaxSessions = 4
	}
	if cfg.Kafka.Concurrency <= 0 {
		cfg.Kafka.Concurrency = cfg.Sandbox.MaxSessions
	}
	return nil
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

func (k KafkaConfig) subscribeOptions(limiter mq.FetchLimiter) *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   k.ConsumerGroup,
		Concurrency:     k.Concurrency,
		MaxRetries:      k.MaxRetries,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetter,
		MessageTTL:      k.MessageTTL,
		Limiter:         limiter,
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

func (s SandboxConfig) toLocalConfig() environment.LocalConfig {
	return environment.LocalConfig{
		Root:           s.WorkRoot,
		MaxOutputBytes: s.Engine.OutputMaxBytes,
	}
}

func (cfg *AppConfig) runnerConfig() runner.Config {
	return runner.Config{CompileLimits: cfg.Compile}
}

func (cfg *AppConfig) serviceConfig() service.Config {
	return service.Config{
		RequestTopic:   cfg.Kafka.RequestTopic,
		Limits:         cfg.Limits,
		RateLimit:      cfg.RateLimit,
		Timeouts:       cfg.Timeouts,
		IdempotencyTTL: cfg.IdempotencyTTL,
		MaxSessions:    cfg.Sandbox.MaxSessions,
	}
}
