package service

import (
	"context"
	"fmt"
	"time"

	"runbox/internal/common/cache"
	"runbox/internal/common/mq"
	"runbox/internal/execution/model"
	"runbox/internal/execution/repository"
	"runbox/internal/execution/sandbox"
	"runbox/internal/execution/sandbox/profile"
	"runbox/internal/execution/sandbox/result"
	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/logger"

	"go.uber.org/zap"
)

// RateLimitConfig throttles async submissions per client address.
type RateLimitConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	Cache   time.Duration `yaml:"cache"`
	MQ      time.Duration `yaml:"mq"`
	Status  time.Duration `yaml:"status"`
	Session time.Duration `yaml:"session"`
	// SlotWait bounds how long a session waits for a free slot.
	SlotWait time.Duration `yaml:"slotWait"`
}

// Config holds service dependencies and settings.
type Config struct {
	Sandbox  sandbox.Service
	Registry *profile.Registry

	// Optional; the async path needs all of them.
	StatusRepo *repository.StatusRepository
	Events     repository.SessionEventPublisher
	MQ         mq.MessageQueue
	Cache      cache.Cache

	RequestTopic   string
	Limits         LimitsConfig
	RateLimit      RateLimitConfig
	Timeouts       TimeoutConfig
	IdempotencyTTL time.Duration
	MaxSessions    int
}

// Service accepts execution requests and runs them through the sandbox.
type Service struct {
	sandbox    sandbox.Service
	registry   *profile.Registry
	statusRepo *repository.StatusRepository
	events     repository.SessionEventPublisher
	mq         mq.MessageQueue
	cache      cache.Cache

	requestTopic   string
	limits         LimitsConfig
	rateLimit      RateLimitConfig
	timeouts       TimeoutConfig
	idempotencyTTL time.Duration
	slots          *mq.TokenLimiter
}

// NewService creates a new execution service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Sandbox == nil {
		return nil, fmt.Errorf("sandbox is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if cfg.MQ != nil && cfg.RequestTopic == "" {
		return nil, fmt.Errorf("request topic is required when a message queue is configured")
	}
	cfg.Limits.fillDefaults()
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 4
	}
	if cfg.Timeouts.SlotWait <= 0 {
		cfg.Timeouts.SlotWait = 2 * time.Second
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 10 * time.Minute
	}
	return &Service{
		sandbox:        cfg.Sandbox,
		registry:       cfg.Registry,
		statusRepo:     cfg.StatusRepo,
		events:         cfg.Events,
		mq:             cfg.MQ,
		cache:          cfg.Cache,
		requestTopic:   cfg.RequestTopic,
		limits:         cfg.Limits,
		rateLimit:      cfg.RateLimit,
		timeouts:       cfg.Timeouts,
		idempotencyTTL: cfg.IdempotencyTTL,
		slots:          mq.NewTokenLimiter(cfg.MaxSessions),
	}, nil
}

// ExecuteSync validates req, runs it and returns the full report.
func (s *Service) ExecuteSync(ctx context.Context, sessionID string, req model.ExecuteRequest) (result.Report, error) {
	return s.Stream(ctx, sessionID, req, nil)
}

// Stream validates req and runs it, handing frames to sink as they are produced.
// Validation and capacity errors are returned before any frame is emitted.
func (s *Service) Stream(ctx context.Context, sessionID string, req model.ExecuteRequest, sink sandbox.FrameSink) (result.Report, error) {
	execReq, err := s.Validate(req)
	if err != nil {
		return result.Report{}, err
	}
	execReq.SessionID = sessionID
	execReq.ReceivedAt = time.Now().Unix()

	if err := s.acquireSlot(ctx); err != nil {
		return result.Report{}, err
	}
	defer s.slots.Release()

	ctxSession, cancel := s.sessionContext(ctx)
	defer cancel()
	return s.sandbox.Stream(ctxSession, execReq, sink), nil
}

// Languages lists the supported languages.
func (s *Service) Languages() []model.LanguageInfo {
	langs := s.registry.List()
	out := make([]model.LanguageInfo, 0, len(langs))
	for _, l := range langs {
		out = append(out, model.LanguageInfo{
			ID:       l.ID,
			Name:     l.Name,
			Compiled: l.Compiled(),
			Aliases:  l.Aliases,
		})
	}
	return out
}

// GetStatus returns status for one session.
func (s *Service) GetStatus(ctx context.Context, sessionID string) (model.StatusResponse, error) {
	if sessionID == "" {
		return model.StatusResponse{}, appErr.ValidationError("session_id", "required")
	}
	if s.statusRepo == nil {
		return model.StatusResponse{}, appErr.New(appErr.ServiceUnavailable).WithMessage("status storage is not configured")
	}
	ctxStatus, cancel := withTimeout(ctx, s.timeouts.Status)
	defer cancel()
	return s.statusRepo.Get(ctxStatus, sessionID)
}

func (s *Service) acquireSlot(ctx context.Context) error {
	if s.slots.TryAcquire() {
		return nil
	}
	ctxWait, cancel := context.WithTimeout(ctx, s.timeouts.SlotWait)
	defer cancel()
	if err := s.slots.Acquire(ctxWait); err != nil {
		if ctx.Err() != nil {
			return appErr.Wrap(ctx.Err(), appErr.ExecutionCancelled)
		}
		logger.Warn(ctx, "no free session slot", zap.Duration("waited", s.timeouts.SlotWait))
		return appErr.New(appErr.ExecutionQueueFull).WithMessage("too many sessions in progress")
	}
	return nil
}

func (s *Service) sessionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, s.timeouts.Session)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
