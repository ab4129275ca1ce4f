package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"runbox/internal/common/mq"
	"runbox/internal/execution/model"
	"runbox/internal/execution/sandbox"
	"runbox/internal/execution/sandbox/result"
	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/contextkey"
	"runbox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "runbox:idempotency:"
	rateIPKeyPrefix      = "runbox:rate:ip:"
	processingMarker     = "processing"
	traceIDHeader        = "trace_id"
)

// SubmitInput describes a queued execution request.
type SubmitInput struct {
	Request        model.ExecuteRequest
	SessionID      string
	IdempotencyKey string
	ClientIP       string
}

// Submit validates the request, stores a Pending status and queues it.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (model.SubmitResponse, error) {
	if s.mq == nil || s.statusRepo == nil {
		return model.SubmitResponse{}, appErr.New(appErr.ServiceUnavailable).WithMessage("async execution is not configured")
	}
	execReq, err := s.Validate(input.Request)
	if err != nil {
		return model.SubmitResponse{}, err
	}
	if err := s.checkRateLimit(ctx, input.ClientIP); err != nil {
		return model.SubmitResponse{}, err
	}

	acquired, existingID, err := s.acquireIdempotency(ctx, input.IdempotencyKey)
	if err != nil {
		return model.SubmitResponse{}, err
	}
	if !acquired && existingID != "" {
		status, statusErr := s.GetStatus(ctx, existingID)
		if statusErr != nil {
			return model.SubmitResponse{}, statusErr
		}
		return model.SubmitResponse{SessionID: existingID, Status: status}, nil
	}

	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	receivedAt := time.Now().Unix()
	pending := model.StatusResponse{
		SessionID:  sessionID,
		Status:     result.StatusPending,
		Language:   execReq.Language,
		Progress:   model.Progress{TotalTests: len(execReq.TestCases)},
		Timestamps: model.Timestamps{ReceivedAt: receivedAt},
	}
	if err := s.persistStatus(ctx, pending); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return model.SubmitResponse{}, err
	}

	msg := model.ExecutionMessage{
		SessionID:  sessionID,
		Language:   execReq.Language,
		Code:       execReq.Code,
		TestCases:  execReq.TestCases,
		ReceivedAt: receivedAt,
	}
	if err := s.publishMessage(ctx, msg); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return model.SubmitResponse{}, err
	}

	s.finalizeIdempotency(ctx, input.IdempotencyKey, sessionID, acquired)
	logger.Info(ctx, "session queued", zap.String("session_id", sessionID), zap.Int("tests", len(execReq.TestCases)))
	return model.SubmitResponse{SessionID: sessionID, Status: pending}, nil
}

// HandleMessage runs a queued session. Returning an error asks the queue to redeliver.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var payload model.ExecutionMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "decode message failed")
	}
	if payload.SessionID == "" || payload.Language == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("message missing required fields")
	}
	if traceID, ok := msg.GetHeader(traceIDHeader); ok {
		ctx = context.WithValue(ctx, contextkey.TraceID, traceID)
	}
	ctx = context.WithValue(ctx, contextkey.SessionID, payload.SessionID)

	if s.statusRepo != nil {
		if existing, err := s.GetStatus(ctx, payload.SessionID); err == nil && existing.Done() && existing.Report != nil {
			logger.Info(ctx, "session already finished, skipping redelivery", zap.String("session_id", payload.SessionID))
			return nil
		}
	}

	if err := s.acquireSlot(ctx); err != nil {
		return err
	}
	defer s.slots.Release()

	ctxSession, cancel := s.sessionContext(ctx)
	defer cancel()
	report := s.sandbox.Execute(ctxSession, sandbox.ExecuteRequest{
		SessionID:  payload.SessionID,
		Language:   payload.Language,
		Code:       payload.Code,
		TestCases:  payload.TestCases,
		ReceivedAt: payload.ReceivedAt,
	})

	if err := s.saveFinal(ctx, payload, report); err != nil {
		return err
	}
	if s.events != nil {
		ctxMQ, cancelMQ := withTimeout(ctx, s.timeouts.MQ)
		defer cancelMQ()
		if err := s.events.PublishFinal(ctxMQ, report); err != nil {
			logger.Warn(ctx, "publish final event failed", zap.String("session_id", payload.SessionID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) saveFinal(ctx context.Context, payload model.ExecutionMessage, report result.Report) error {
	if s.statusRepo == nil {
		return nil
	}
	status := model.StatusResponse{
		SessionID: payload.SessionID,
		Status:    result.StatusFinished,
		Language:  report.Language,
		Progress: model.Progress{
			TotalTests: len(payload.TestCases),
			DoneTests:  len(report.Outcomes),
		},
		Timestamps: model.Timestamps{
			ReceivedAt: payload.ReceivedAt,
			FinishedAt: time.Now().Unix(),
		},
		Error: report.SessionError,
	}
	if report.State == result.StateFailed {
		status.Status = result.StatusFailed
	}
	ctxStatus, cancel := withTimeout(context.WithoutCancel(ctx), s.timeouts.Status)
	defer cancel()
	if err := s.statusRepo.SaveFinal(ctxStatus, status, report); err != nil {
		logger.Error(ctx, "save final report failed", zap.String("session_id", payload.SessionID), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) publishMessage(ctx context.Context, payload model.ExecutionMessage) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return appErr.Wrapf(err, appErr.ExecutionSystemError, "marshal execution message failed")
	}
	message := mq.NewMessage(body)
	message.ID = payload.SessionID
	if traceID, ok := ctx.Value(contextkey.TraceID).(string); ok && traceID != "" {
		message.SetHeader(traceIDHeader, traceID)
	}
	ctxMQ, cancel := withTimeout(ctx, s.timeouts.MQ)
	defer cancel()
	if err := s.mq.Publish(ctxMQ, s.requestTopic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish execution message failed")
	}
	return nil
}

func (s *Service) acquireIdempotency(ctx context.Context, key string) (bool, string, error) {
	key = strings.TrimSpace(key)
	if key == "" || s.cache == nil {
		return true, "", nil
	}
	cacheKey := idempotencyKeyPrefix + key
	ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
	defer cancel()

	ok, err := s.cache.SetNX(ctxCache, cacheKey, processingMarker, s.idempotencyTTL)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err := s.cache.Get(ctxCache, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
}

func (s *Service) finalizeIdempotency(ctx context.Context, key, sessionID string, acquired bool) {
	key = strings.TrimSpace(key)
	if !acquired || key == "" || s.cache == nil {
		return
	}
	ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
	defer cancel()
	if err := s.cache.Set(ctxCache, idempotencyKeyPrefix+key, sessionID, s.idempotencyTTL); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *Service) releaseIdempotency(ctx context.Context, key string, acquired bool) {
	key = strings.TrimSpace(key)
	if !acquired || key == "" || s.cache == nil {
		return
	}
	ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
	defer cancel()
	if err := s.cache.Del(ctxCache, idempotencyKeyPrefix+key); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

func (s *Service) checkRateLimit(ctx context.Context, clientIP string) error {
	if s.cache == nil || clientIP == "" || s.rateLimit.Max <= 0 || s.rateLimit.Window <= 0 {
		return nil
	}
	ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
	defer cancel()
	count, err := s.cache.IncrWindow(ctxCache, rateIPKeyPrefix+clientIP, s.rateLimit.Window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if int(count) > s.rateLimit.Max {
		return appErr.New(appErr.TooManyRequests).WithMessage("submitting too frequently")
	}
	return nil
}
