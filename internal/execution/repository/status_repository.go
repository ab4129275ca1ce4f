package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"runbox/internal/common/cache"
	"runbox/internal/execution/model"
	"runbox/internal/execution/sandbox/result"
	appErr "runbox/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	statusKeyPrefix = "runbox:status:"
	reportKeyPrefix = "runbox:report:"
)

// StatusRepository handles session status and final report persistence.
type StatusRepository struct {
	cache   cache.Cache
	TTL     time.Duration
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration) (*StatusRepository, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &StatusRepository{cache: cacheClient, TTL: ttl, encoder: encoder, decoder: decoder}, nil
}

// Get returns status by session id. Finished sessions carry their report.
func (r *StatusRepository) Get(ctx context.Context, sessionID string) (model.StatusResponse, error) {
	if sessionID == "" {
		return model.StatusResponse{}, appErr.ValidationError("session_id", "required")
	}
	if r.cache == nil {
		return model.StatusResponse{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+sessionID)
	if err != nil {
		return model.StatusResponse{}, appErr.Wrapf(err, appErr.CacheError, "read status failed")
	}
	if val == "" {
		return model.StatusResponse{}, appErr.New(appErr.SessionNotFound).WithMessage("session status not found")
	}
	var resp model.StatusResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return model.StatusResponse{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	if !resp.Done() {
		return resp, nil
	}
	report, err := r.getReport(ctx, sessionID)
	if err != nil {
		return model.StatusResponse{}, err
	}
	resp.Report = report
	return resp, nil
}

// Save persists status.
func (r *StatusRepository) Save(ctx context.Context, status model.StatusResponse) error {
	if status.SessionID == "" {
		return appErr.ValidationError("session_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	status.Report = nil
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+status.SessionID, string(data), cache.JitterTTL(r.TTL)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}

// SaveFinal stores the final status and the compressed report together.
func (r *StatusRepository) SaveFinal(ctx context.Context, status model.StatusResponse, report result.Report) error {
	if status.SessionID == "" {
		return appErr.ValidationError("session_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	status.Report = nil
	statusData, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	reportData, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report failed: %w", err)
	}
	compressed := r.encoder.EncodeAll(reportData, make([]byte, 0, len(reportData)/2))

	// Both keys share one TTL so a status never outlives its report.
	ttl := cache.JitterTTL(r.TTL)
	err = r.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		if err := pipe.Set(statusKeyPrefix+status.SessionID, string(statusData), ttl); err != nil {
			return err
		}
		return pipe.Set(reportKeyPrefix+status.SessionID, compressed, ttl)
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store final status failed")
	}
	return nil
}

func (r *StatusRepository) getReport(ctx context.Context, sessionID string) (*result.Report, error) {
	val, err := r.cache.Get(ctx, reportKeyPrefix+sessionID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "read report failed")
	}
	if val == "" {
		return nil, nil
	}
	raw, err := r.decoder.DecodeAll([]byte(val), nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "decompress report failed")
	}
	var report result.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "decode report failed")
	}
	return &report, nil
}
