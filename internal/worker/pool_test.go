package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/osvaldoandrade/flagq/internal/harness"
	"github.com/osvaldoandrade/flagq/internal/repository"
	"github.com/osvaldoandrade/flagq/pkg/domain"
)

type processorFunc func(ctx context.Context, task domain.Task) (domain.Result, error)

func (f processorFunc) Process(ctx context.Context, task domain.Task) (domain.Result, error) {
	return f(ctx, task)
}

type countingRepo struct {
	repository.TaskRepository
	heartbeats atomic.Int32
}

func (c *countingRepo) Heartbeat(ctx context.Context, taskID, workerID string, extendSeconds int) error {
	c.heartbeats.Add(1)
	return c.TaskRepository.Heartbeat(ctx, taskID, workerID, extendSeconds)
}

func setup(t *testing.T) (*redis.Client, repository.TaskRepository) {
	t.Helper()
	ignore := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, ignore) })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, repository.NewTaskRepository(rdb, time.UTC)
}

func testConfig() Config {
	return Config{
		Instance:     "t",
		Concurrency:  2,
		LeaseSeconds: 30,
		IdlePolicy:   "fixed",
		IdleBase:     5 * time.Millisecond,
		IdleMax:      5 * time.Millisecond,
	}
}

// start runs the pool and returns a stop func that cancels it and waits.
func start(t *testing.T, p *Pool) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Error("pool did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func waitStatus(t *testing.T, repo repository.TaskRepository, id string, want domain.TaskStatus) *domain.Task {
	t.Helper()
	var task *domain.Task
	require.Eventually(t, func() bool {
		got, err := repo.Get(context.Background(), id)
		if err != nil {
			return false
		}
		task = got
		return got.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func enqueue(t *testing.T, repo repository.TaskRepository, cmd domain.Command, payload string) *domain.Task {
	t.Helper()
	task, err := repo.Enqueue(context.Background(), repository.EnqueueRequest{Command: cmd, Payload: payload})
	require.NoError(t, err)
	return task
}

func TestPool_CompletesJobs(t *testing.T) {
	_, repo := setup(t)
	push := enqueue(t, repo, domain.CmdPush, `{"n":1}`)
	pull := enqueue(t, repo, domain.CmdPull, `{"n":2}`)

	var seen sync.Map
	stop := start(t, NewPool(repo, processorFunc(func(_ context.Context, task domain.Task) (domain.Result, error) {
		seen.Store(task.ID, task.Command)
		if task.Command == domain.CmdPull {
			return domain.ResultCorrupt, nil
		}
		return domain.ResultOK, nil
	}), testConfig(), nil))

	got := waitStatus(t, repo, push.ID, domain.StatusCompleted)
	require.NotNil(t, got.Result)
	assert.Equal(t, domain.ResultOK, *got.Result)

	got = waitStatus(t, repo, pull.ID, domain.StatusCompleted)
	assert.Equal(t, domain.ResultCorrupt, *got.Result)
	stop()

	cmd, _ := seen.Load(pull.ID)
	assert.Equal(t, domain.CmdPull, cmd)
}

func TestPool_DecodeErrorDeadLetters(t *testing.T) {
	rdb, repo := setup(t)
	task := enqueue(t, repo, domain.CmdPush, `not json`)

	stop := start(t, NewPool(repo, processorFunc(func(context.Context, domain.Task) (domain.Result, error) {
		return 0, &domain.DecodeError{Field: "params", Err: errors.New("bad")}
	}), testConfig(), nil))

	got := waitStatus(t, repo, task.ID, domain.StatusFailed)
	stop()

	assert.True(t, strings.HasPrefix(got.Error, repository.ReasonDecode), got.Error)
	assert.Nil(t, got.Result)
	n, err := rdb.LLen(context.Background(), repository.KeyQueueDLQ(domain.CmdPush)).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPool_ReportFailureDeadLettersWithResult(t *testing.T) {
	_, repo := setup(t)
	task := enqueue(t, repo, domain.CmdPull, `{}`)

	var calls atomic.Int32
	stop := start(t, NewPool(repo, processorFunc(func(context.Context, domain.Task) (domain.Result, error) {
		calls.Add(1)
		return domain.ResultDown, &harness.DeliveryError{URL: "http://controller", StatusCode: 500}
	}), testConfig(), nil))

	got := waitStatus(t, repo, task.ID, domain.StatusFailed)
	stop()

	assert.True(t, strings.HasPrefix(got.Error, repository.ReasonReport), got.Error)
	require.NotNil(t, got.Result)
	assert.Equal(t, domain.ResultDown, *got.Result)
	assert.EqualValues(t, 1, calls.Load(), "jobs are attempted once")
}

func TestPool_ShutdownAbandonsInFlightJob(t *testing.T) {
	rdb, repo := setup(t)
	task := enqueue(t, repo, domain.CmdPush, `{}`)

	started := make(chan struct{})
	cfg := testConfig()
	cfg.Concurrency = 1
	stop := start(t, NewPool(repo, processorFunc(func(ctx context.Context, _ domain.Task) (domain.Result, error) {
		close(started)
		<-ctx.Done()
		return 0, &harness.CancelledError{Operation: domain.CmdPush, Cause: ctx.Err()}
	}), cfg, nil))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never claimed")
	}
	stop()

	got, err := repo.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Empty(t, got.WorkerID)
	ids, err := rdb.LRange(context.Background(), repository.KeyQueuePending(domain.CmdPush), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, ids)
}

func TestPool_HeartbeatsWhileProcessing(t *testing.T) {
	_, base := setup(t)
	repo := &countingRepo{TaskRepository: base}
	task := enqueue(t, repo, domain.CmdPush, `{}`)

	cfg := testConfig()
	cfg.Concurrency = 1
	cfg.HeartbeatInterval = 10 * time.Millisecond
	stop := start(t, NewPool(repo, processorFunc(func(ctx context.Context, _ domain.Task) (domain.Result, error) {
		deadline := time.After(5 * time.Second)
		for repo.heartbeats.Load() < 3 {
			select {
			case <-deadline:
				return 0, errors.New("no heartbeats")
			case <-time.After(5 * time.Millisecond):
			}
		}
		return domain.ResultOK, nil
	}), cfg, nil))

	got := waitStatus(t, repo, task.ID, domain.StatusCompleted)
	stop()
	assert.Equal(t, domain.ResultOK, *got.Result)
	assert.GreaterOrEqual(t, repo.heartbeats.Load(), int32(3))
}

func TestPool_IdleStopsPromptly(t *testing.T) {
	_, repo := setup(t)
	cfg := testConfig()
	cfg.IdleBase = time.Hour
	cfg.IdleMax = time.Hour
	stop := start(t, NewPool(repo, processorFunc(func(context.Context, domain.Task) (domain.Result, error) {
		t.Error("nothing to process")
		return 0, nil
	}), cfg, nil))
	time.Sleep(20 * time.Millisecond)
	stop()
}
