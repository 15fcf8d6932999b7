package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/osvaldoandrade/flagq/internal/repository"
	"github.com/osvaldoandrade/flagq/internal/tracing"
	"github.com/osvaldoandrade/flagq/pkg/domain"
)

var ErrInvalidCommand = errors.New("invalid command")

// JobService is the producer side of the queue: it validates job payloads and
// enqueues them for workers.
type JobService interface {
	Enqueue(ctx context.Context, cmd domain.Command, payload []byte, idempotencyKey string) (*domain.Task, error)
	GetJob(ctx context.Context, id string) (*domain.Task, error)
	QueueStats(ctx context.Context, cmd domain.Command) (*domain.QueueStats, error)
	CleanupExpired(ctx context.Context, limit int, before time.Time) (int, error)
}

type jobService struct {
	repo repository.TaskRepository
	now  func() time.Time
}

func NewJobService(repo repository.TaskRepository, now func() time.Time) JobService {
	if now == nil {
		now = time.Now
	}
	return &jobService{repo: repo, now: now}
}

// Enqueue rejects payloads a worker could not decode. The caller's trace context
// travels with the task.
func (s *jobService) Enqueue(ctx context.Context, cmd domain.Command, payload []byte, idempotencyKey string) (*domain.Task, error) {
	if !cmd.Valid() {
		return nil, ErrInvalidCommand
	}
	if err := domain.DecodeJob(cmd, payload); err != nil {
		return nil, err
	}
	tp, ts := tracing.TraceContextStrings(ctx)
	return s.repo.Enqueue(ctx, repository.EnqueueRequest{
		Command:        cmd,
		Payload:        string(payload),
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
		TraceParent:    tp,
		TraceState:     ts,
	})
}

func (s *jobService) GetJob(ctx context.Context, id string) (*domain.Task, error) {
	return s.repo.Get(ctx, id)
}

func (s *jobService) QueueStats(ctx context.Context, cmd domain.Command) (*domain.QueueStats, error) {
	if !cmd.Valid() {
		return nil, ErrInvalidCommand
	}
	return s.repo.QueueStats(ctx, cmd)
}

func (s *jobService) CleanupExpired(ctx context.Context, limit int, before time.Time) (int, error) {
	if limit <= 0 {
		limit = 1000
	}
	if limit > 10000 {
		return 0, fmt.Errorf("limit %d exceeds 10000", limit)
	}
	if before.IsZero() {
		before = s.now()
	}
	return s.repo.CleanupExpired(ctx, limit, before)
}
