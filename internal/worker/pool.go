// Package worker claims queued jobs from Redis and runs them through a Processor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/osvaldoandrade/flagq/internal/backoff"
	"github.com/osvaldoandrade/flagq/internal/harness"
	"github.com/osvaldoandrade/flagq/internal/repository"
	"github.com/osvaldoandrade/flagq/pkg/domain"

	"golang.org/x/sync/errgroup"
)

// Processor runs one claimed task to completion. Errors follow the harness
// contract: *domain.DecodeError, *harness.CancelledError, or a report failure.
type Processor interface {
	Process(ctx context.Context, task domain.Task) (domain.Result, error)
}

type Config struct {
	// Instance prefixes the worker IDs written into leases.
	Instance     string
	Concurrency  int
	Commands     []domain.Command
	LeaseSeconds int
	InspectLimit int

	IdlePolicy string
	IdleBase   time.Duration
	IdleMax    time.Duration

	// HeartbeatInterval defaults to a third of the lease.
	HeartbeatInterval time.Duration
}

type Pool struct {
	repo   repository.TaskRepository
	proc   Processor
	cfg    Config
	logger *slog.Logger
}

func NewPool(repo repository.TaskRepository, proc Processor, cfg Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if len(cfg.Commands) == 0 {
		cfg.Commands = domain.Commands()
	}
	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = 300
	}
	if cfg.Instance == "" {
		cfg.Instance = "0"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Duration(cfg.LeaseSeconds) * time.Second / 3
	}
	return &Pool{repo: repo, proc: proc, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled and every in-flight job has been settled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		id := fmt.Sprintf("flagq-%s-%d", p.cfg.Instance, i)
		seed := time.Now().UnixNano() + int64(i)
		g.Go(func() error {
			return p.loop(ctx, id, rand.New(rand.NewSource(seed)))
		})
	}
	p.logger.Info("worker pool started", "instance", p.cfg.Instance, "concurrency", p.cfg.Concurrency)
	err := g.Wait()
	p.logger.Info("worker pool stopped", "instance", p.cfg.Instance)
	return err
}

func (p *Pool) loop(ctx context.Context, workerID string, rng *rand.Rand) error {
	misses := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		task, ok, err := p.repo.Claim(ctx, workerID, p.cfg.Commands, p.cfg.LeaseSeconds, p.cfg.InspectLimit)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn("claim failed", "worker", workerID, "err", err)
		}
		if err != nil || !ok {
			if !sleep(ctx, backoff.Delay(p.cfg.IdlePolicy, p.cfg.IdleBase, p.cfg.IdleMax, misses, rng)) {
				return nil
			}
			misses++
			continue
		}
		misses = 0
		p.handle(ctx, workerID, *task)
	}
}

func (p *Pool) handle(ctx context.Context, workerID string, task domain.Task) {
	hbCtx, stop := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		p.heartbeat(hbCtx, workerID, task.ID)
	}()

	res, err := p.proc.Process(ctx, task)
	stop()
	<-hbDone

	p.settle(context.WithoutCancel(ctx), workerID, task, res, err)
}

// settle records the terminal state. Nothing here is retried: a job that ends in
// the dead-letter list stays there.
func (p *Pool) settle(ctx context.Context, workerID string, task domain.Task, res domain.Result, err error) {
	log := p.logger.With("task", task.ID, "operation", string(task.Command), "worker", workerID)

	var (
		decodeErr   *domain.DecodeError
		deliveryErr *harness.DeliveryError
		settleErr   error
	)
	switch {
	case err == nil:
		settleErr = p.repo.Complete(ctx, task.ID, workerID, res)
	case harness.IsCancelled(err):
		log.Info("job abandoned on shutdown")
		settleErr = p.repo.Abandon(ctx, task.ID, workerID)
	case errors.As(err, &decodeErr):
		log.Error("invalid job payload", "err", err)
		settleErr = p.repo.Fail(ctx, task.ID, workerID, repository.Failure{
			Reason: repository.ReasonDecode,
			Detail: err.Error(),
		})
	default:
		reason := repository.ReasonProcessing
		if errors.As(err, &deliveryErr) {
			reason = repository.ReasonReport
		}
		log.Error("job failed", "reason", reason, "err", err)
		f := repository.Failure{Reason: reason, Detail: err.Error()}
		if res.Valid() {
			f.Result = &res
		}
		settleErr = p.repo.Fail(ctx, task.ID, workerID, f)
	}

	if settleErr != nil {
		// The lease expiry sweep will dead-letter the task.
		log.Warn("settle task failed", "err", settleErr)
	}
}

func (p *Pool) heartbeat(ctx context.Context, workerID, taskID string) {
	t := time.NewTicker(p.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := p.repo.Heartbeat(ctx, taskID, workerID, p.cfg.LeaseSeconds)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("lease heartbeat failed", "task", taskID, "worker", workerID, "err", err)
			if errors.Is(err, repository.ErrNotOwner) || errors.Is(err, repository.ErrNotInProgress) || errors.Is(err, repository.ErrNotFound) {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
