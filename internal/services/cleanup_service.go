package services

import (
	"context"
	"log/slog"
	"time"
)

// CleanupService periodically drops tasks past their retention window.
type CleanupService interface {
	Start(ctx context.Context)
}

type cleanupService struct {
	jobs     JobService
	logger   *slog.Logger
	interval time.Duration
}

func NewCleanupService(jobs JobService, logger *slog.Logger, interval time.Duration) CleanupService {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &cleanupService{jobs: jobs, logger: logger, interval: interval}
}

func (s *cleanupService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.jobs.CleanupExpired(ctx, 1000, time.Time{})
			if err != nil {
				s.logger.Warn("task cleanup failed", "err", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("task cleanup removed", "count", removed)
			}
		}
	}
}
