package service

import (
	"context"

	"runbox/internal/execution/model"
	"runbox/internal/execution/sandbox"
	"runbox/pkg/utils/logger"

	"go.uber.org/zap"
)

func (s *Service) persistStatus(ctx context.Context, status model.StatusResponse) error {
	ctxStatus, cancel := withTimeout(ctx, s.timeouts.Status)
	defer cancel()
	return s.statusRepo.Save(ctxStatus, status)
}

// ReportStatus stores intermediate session status.
func (s *Service) ReportStatus(ctx context.Context, update sandbox.StatusUpdate) error {
	if s.statusRepo == nil {
		return nil
	}
	status := model.StatusResponse{
		SessionID: update.SessionID,
		Status:    update.Status,
		Language:  update.Language,
		Progress: model.Progress{
			TotalTests: update.TotalTests,
			DoneTests:  update.DoneTests,
		},
		Timestamps: model.Timestamps{
			ReceivedAt: update.ReceivedAt,
			FinishedAt: update.FinishedAt,
		},
		Error: update.Error,
	}
	if err := s.persistStatus(ctx, status); err != nil {
		logger.Warn(ctx, "update intermediate status failed", zap.String("session_id", update.SessionID), zap.Error(err))
		return err
	}
	return nil
}

var _ sandbox.StatusReporter = (*Service)(nil)
