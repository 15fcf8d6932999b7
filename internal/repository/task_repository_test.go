package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/flagq/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupRepo(t *testing.T) (context.Context, *miniredis.Miniredis, *redis.Client, TaskRepository) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return context.Background(), mr, rdb, NewTaskRepository(rdb, time.UTC)
}

func enqueue(t *testing.T, ctx context.Context, repo TaskRepository, cmd domain.Command, payload string) *domain.Task {
	t.Helper()
	task, err := repo.Enqueue(ctx, EnqueueRequest{Command: cmd, Payload: payload})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return task
}

func TestEnqueueIdempotent(t *testing.T) {
	ctx, _, rdb, repo := setupRepo(t)
	req := EnqueueRequest{Command: domain.CmdPush, Payload: `{"a":1}`, IdempotencyKey: "round-3-team-red"}
	task1, err := repo.Enqueue(ctx, req)
	if err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	task2, err := repo.Enqueue(ctx, req)
	if err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}
	if task1.ID != task2.ID {
		t.Fatalf("expected same task id for idempotency key, got %s vs %s", task1.ID, task2.ID)
	}
	if n, _ := rdb.LLen(ctx, "flagq:q:push:pending").Result(); n != 1 {
		t.Fatalf("expected 1 pending item, got %d", n)
	}
}

func TestEnqueueIdempotent_OtherProcess(t *testing.T) {
	ctx, _, rdb, repo := setupRepo(t)
	req := EnqueueRequest{Command: domain.CmdPull, Payload: `{}`, IdempotencyKey: "k"}
	task1, err := repo.Enqueue(ctx, req)
	if err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	// A second repository has an empty filter and must fall back to SETNX.
	other := NewTaskRepository(rdb, time.UTC)
	task2, err := other.Enqueue(ctx, req)
	if err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}
	if task1.ID != task2.ID {
		t.Fatalf("expected same id across repositories, got %s vs %s", task1.ID, task2.ID)
	}
}

func TestEnqueueRejectsUnknownCommand(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)
	if _, err := repo.Enqueue(ctx, EnqueueRequest{Command: "GENERATE"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestClaimFIFO(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)
	first := enqueue(t, ctx, repo, domain.CmdPush, `{"n":1}`)
	enqueue(t, ctx, repo, domain.CmdPush, `{"n":2}`)

	got, ok, err := repo.Claim(ctx, "worker-1", []domain.Command{domain.CmdPush}, 60, 50)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if got.ID != first.ID {
		t.Fatalf("expected oldest task first, got %s", got.ID)
	}
	if got.Status != domain.StatusInProgress || got.WorkerID != "worker-1" {
		t.Fatalf("unexpected claimed task: %+v", got)
	}
	if got.LastKnownLocation != domain.LocationInProgress {
		t.Fatalf("expected lastKnownLocation=%s, got %s", domain.LocationInProgress, got.LastKnownLocation)
	}
}

func TestClaimEmpty(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)
	_, ok, err := repo.Claim(ctx, "worker-1", domain.Commands(), 60, 50)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ok {
		t.Fatal("expected no task")
	}
}

func TestClaimSkipsCleanedTasks(t *testing.T) {
	ctx, _, rdb, repo := setupRepo(t)
	gone := enqueue(t, ctx, repo, domain.CmdPull, `{}`)
	kept := enqueue(t, ctx, repo, domain.CmdPull, `{}`)
	rdb.HDel(ctx, "flagq:tasks", gone.ID)

	got, ok, err := repo.Claim(ctx, "worker-1", []domain.Command{domain.CmdPull}, 60, 50)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if got.ID != kept.ID {
		t.Fatalf("expected %s, got %s", kept.ID, got.ID)
	}
	if n, _ := rdb.SCard(ctx, "flagq:q:pull:inprog").Result(); n != 1 {
		t.Fatalf("expected only the live task in progress, got %d", n)
	}
}

func TestClaimRepairMovesExpiredLeaseToDLQ(t *testing.T) {
	ctx, mr, rdb, repo := setupRepo(t)
	cmd := domain.CmdPush
	task := enqueue(t, ctx, repo, cmd, `{"x":1}`)

	if _, ok, err := repo.Claim(ctx, "worker-1", []domain.Command{cmd}, 1, 50); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	mr.FastForward(2 * time.Second)

	_, ok, err := repo.Claim(ctx, "worker-2", []domain.Command{cmd}, 60, 50)
	if err != nil {
		t.Fatalf("claim 2: %v", err)
	}
	if ok {
		t.Fatal("expired task must not be handed out again")
	}
	if n, _ := rdb.SCard(ctx, "flagq:q:push:inprog").Result(); n != 0 {
		t.Fatalf("expected inprog size=0 after repair, got %d", n)
	}
	if n, _ := rdb.LLen(ctx, "flagq:q:push:dlq").Result(); n != 1 {
		t.Fatalf("expected 1 item in dlq, got %d", n)
	}
	stored, err := repo.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusFailed || stored.Error != ReasonLeaseExpired {
		t.Fatalf("unexpected stored task: status=%s error=%q", stored.Status, stored.Error)
	}
}

func TestClaimScriptWritesLeaseBeforeSweep(t *testing.T) {
	ctx, mr, rdb, repo := setupRepo(t)
	cmd := domain.CmdPull
	task := enqueue(t, ctx, repo, cmd, `{}`)
	r := repo.(*taskRedisRepo)

	// Pop the ID the way Claim does, then sweep before the task record is updated.
	res, err := claimMoveScript.Run(ctx, rdb, []string{KeyQueuePending(cmd), KeyQueueInprog(cmd)}, 1, leaseKeyPrefix, "worker-1", 60).Result()
	if err != nil {
		t.Fatalf("claim script: %v", err)
	}
	if res.(string) != task.ID {
		t.Fatalf("claimed %v, want %s", res, task.ID)
	}
	if got, _ := mr.Get(keyLease(task.ID)); got != "worker-1" {
		t.Fatalf("lease owner = %q, want worker-1", got)
	}
	if ttl := mr.TTL(keyLease(task.ID)); ttl != 60*time.Second {
		t.Fatalf("lease ttl = %v, want 60s", ttl)
	}

	moved, err := r.failExpired(ctx, cmd, 50)
	if err != nil {
		t.Fatalf("failExpired: %v", err)
	}
	if moved != 0 {
		t.Fatalf("sweep moved %d freshly claimed tasks", moved)
	}
	if ok, _ := rdb.SIsMember(ctx, KeyQueueInprog(cmd), task.ID).Result(); !ok {
		t.Fatal("freshly claimed task must stay tracked in the in-progress set")
	}
}

func TestClaimRejectsNonPositiveLease(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)
	enqueue(t, ctx, repo, domain.CmdPush, `{}`)
	if _, _, err := repo.Claim(ctx, "worker-1", []domain.Command{domain.CmdPush}, 0, 50); err == nil {
		t.Fatal("expected error for zero lease")
	}
}

func TestHeartbeatKeepsLeaseAlive(t *testing.T) {
	ctx, mr, _, repo := setupRepo(t)
	cmd := domain.CmdPull
	enqueue(t, ctx, repo, cmd, `{}`)

	claimed, _, _ := repo.Claim(ctx, "worker-1", []domain.Command{cmd}, 2, 50)
	mr.FastForward(time.Second)
	if err := repo.Heartbeat(ctx, claimed.ID, "worker-1", 10); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	mr.FastForward(5 * time.Second)

	if _, _, err := repo.Claim(ctx, "worker-2", []domain.Command{cmd}, 60, 50); err != nil {
		t.Fatalf("claim 2: %v", err)
	}
	stored, _ := repo.Get(ctx, claimed.ID)
	if stored.Status != domain.StatusInProgress {
		t.Fatalf("heartbeat should have kept task in progress, got %s", stored.Status)
	}
}

func TestHeartbeatNotOwner(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)
	enqueue(t, ctx, repo, domain.CmdPush, `{}`)
	claimed, _, _ := repo.Claim(ctx, "worker-1", domain.Commands(), 60, 50)

	if err := repo.Heartbeat(ctx, claimed.ID, "worker-2", 60); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := repo.Heartbeat(ctx, "missing", "worker-1", 60); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestComplete(t *testing.T) {
	ctx, mr, rdb, repo := setupRepo(t)
	enqueue(t, ctx, repo, domain.CmdPush, `{}`)
	claimed, _, _ := repo.Claim(ctx, "worker-1", domain.Commands(), 60, 50)

	if err := repo.Complete(ctx, claimed.ID, "worker-1", domain.ResultCorrupt); err != nil {
		t.Fatalf("complete: %v", err)
	}
	stored, _ := repo.Get(ctx, claimed.ID)
	if stored.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	if stored.Result == nil || *stored.Result != domain.ResultCorrupt {
		t.Fatalf("expected CORRUPT result, got %v", stored.Result)
	}
	if n, _ := rdb.SCard(ctx, "flagq:q:push:inprog").Result(); n != 0 {
		t.Fatalf("expected empty inprog, got %d", n)
	}
	if mr.Exists("flagq:lease:" + claimed.ID) {
		t.Fatal("lease should be released")
	}
	if err := repo.Complete(ctx, claimed.ID, "worker-1", domain.ResultOK); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress on second completion, got %v", err)
	}
}

func TestFail(t *testing.T) {
	ctx, _, rdb, repo := setupRepo(t)
	enqueue(t, ctx, repo, domain.CmdPull, `{}`)
	claimed, _, _ := repo.Claim(ctx, "worker-1", domain.Commands(), 60, 50)

	res := domain.ResultDown
	err := repo.Fail(ctx, claimed.ID, "worker-1", Failure{Reason: ReasonReport, Detail: "status 502", Result: &res})
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	stored, _ := repo.Get(ctx, claimed.ID)
	if stored.Status != domain.StatusFailed || stored.LastKnownLocation != domain.LocationDLQ {
		t.Fatalf("unexpected stored task: %+v", stored)
	}
	if stored.Error != "REPORT_FAILED: status 502" {
		t.Fatalf("error = %q", stored.Error)
	}
	if stored.Result == nil || *stored.Result != domain.ResultDown {
		t.Fatalf("expected DOWN result recorded, got %v", stored.Result)
	}
	if ids, _ := rdb.LRange(ctx, "flagq:q:pull:dlq", 0, -1).Result(); len(ids) != 1 || ids[0] != claimed.ID {
		t.Fatalf("dlq = %v", ids)
	}
}

func TestAbandonReturnsTaskToPending(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)
	cmd := domain.CmdPush
	enqueue(t, ctx, repo, cmd, `{"n":1}`)
	enqueue(t, ctx, repo, cmd, `{"n":2}`)
	claimed, _, _ := repo.Claim(ctx, "worker-1", []domain.Command{cmd}, 60, 50)

	if err := repo.Abandon(ctx, claimed.ID, "worker-2"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := repo.Abandon(ctx, claimed.ID, "worker-1"); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	stored, _ := repo.Get(ctx, claimed.ID)
	if stored.Status != domain.StatusPending || stored.WorkerID != "" {
		t.Fatalf("unexpected stored task: %+v", stored)
	}
	// Abandoned work goes to the head of the queue.
	again, ok, err := repo.Claim(ctx, "worker-3", []domain.Command{cmd}, 60, 50)
	if err != nil || !ok {
		t.Fatalf("claim again: ok=%v err=%v", ok, err)
	}
	if again.ID != claimed.ID {
		t.Fatalf("expected abandoned task %s first, got %s", claimed.ID, again.ID)
	}
}

func TestQueueStats(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)
	cmd := domain.CmdPush
	enqueue(t, ctx, repo, cmd, `{}`)
	enqueue(t, ctx, repo, cmd, `{}`)
	enqueue(t, ctx, repo, cmd, `{}`)
	c1, _, _ := repo.Claim(ctx, "w", []domain.Command{cmd}, 60, 50)
	repo.Claim(ctx, "w", []domain.Command{cmd}, 60, 50)
	_ = repo.Fail(ctx, c1.ID, "w", Failure{Reason: ReasonDecode})

	stats, err := repo.QueueStats(ctx, cmd)
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	if stats.Ready != 1 || stats.InProgress != 1 || stats.DLQ != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCleanupExpired(t *testing.T) {
	ctx, _, rdb, repo := setupRepo(t)
	task1 := enqueue(t, ctx, repo, domain.CmdPush, `{"x":1}`)
	task2 := enqueue(t, ctx, repo, domain.CmdPull, `{"x":2}`)

	deleted, err := repo.CleanupExpired(ctx, 10, time.Now().Add(25*time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deletions, got %d", deleted)
	}
	for _, id := range []string{task1.ID, task2.ID} {
		if _, err := repo.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected %s to be deleted, got %v", id, err)
		}
	}
	for _, cmd := range domain.Commands() {
		key := "flagq:q:" + strings.ToLower(string(cmd)) + ":pending"
		if n, _ := rdb.LLen(ctx, key).Result(); n != 0 {
			t.Fatalf("expected %s empty, got %d", key, n)
		}
	}
}

func TestCleanupExpired_KeepsFresh(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)
	task := enqueue(t, ctx, repo, domain.CmdPush, `{}`)
	deleted, err := repo.CleanupExpired(ctx, 10, time.Now())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected no deletions, got %d", deleted)
	}
	if _, err := repo.Get(ctx, task.ID); err != nil {
		t.Fatalf("fresh task removed: %v", err)
	}
}
