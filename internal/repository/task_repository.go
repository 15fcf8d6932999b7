package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/flagq/internal/metrics"
	"github.com/osvaldoandrade/flagq/pkg/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("not-found")
	ErrNotOwner      = errors.New("not-owner")
	ErrNotInProgress = errors.New("not-in-progress")
)

// Failure reasons recorded on dead-lettered tasks.
const (
	ReasonDecode       = "DECODE_ERROR"
	ReasonReport       = "REPORT_FAILED"
	ReasonLeaseExpired = "LEASE_EXPIRED"
	ReasonProcessing   = "PROCESSING_ERROR"
)

// Failure describes why a task is moved to the dead-letter list.
type Failure struct {
	Reason string
	Detail string
	Result *domain.Result
}

type EnqueueRequest struct {
	Command        domain.Command
	Payload        string
	IdempotencyKey string
	TraceParent    string
	TraceState     string
}

type TaskRepository interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Task, error)
	Claim(ctx context.Context, workerID string, commands []domain.Command, leaseSeconds int, inspectLimit int) (*domain.Task, bool, error)
	Heartbeat(ctx context.Context, taskID string, workerID string, extendSeconds int) error
	Complete(ctx context.Context, taskID string, workerID string, result domain.Result) error
	Fail(ctx context.Context, taskID string, workerID string, f Failure) error
	Abandon(ctx context.Context, taskID string, workerID string) error
	Get(ctx context.Context, taskID string) (*domain.Task, error)
	QueueStats(ctx context.Context, cmd domain.Command) (*domain.QueueStats, error)
	CleanupExpired(ctx context.Context, limit int, before time.Time) (int, error)
}

type taskRedisRepo struct {
	rdb    *redis.Client
	tz     *time.Location
	dedupe *dedupeFilter
}

func NewTaskRepository(rdb *redis.Client, tz *time.Location) TaskRepository {
	if tz == nil {
		tz = time.UTC
	}
	return &taskRedisRepo{
		rdb:    rdb,
		tz:     tz,
		dedupe: newDedupeFilter(1<<20, 0.01, taskRetention),
	}
}

// Tasks and their dedupe keys are kept for a day after the last touch.
const taskRetention = 24 * time.Hour

const leaseKeyPrefix = "flagq:lease:"

func keyTasksHash() string           { return "flagq:tasks" }
func keyTTLIndex() string            { return "flagq:tasks:ttl" }
func keyLease(id string) string      { return leaseKeyPrefix + id }
func keyIdempotency(k string) string { return "flagq:idempo:" + k }

func KeyQueuePending(cmd domain.Command) string {
	return fmt.Sprintf("flagq:q:%s:pending", strings.ToLower(string(cmd)))
}

func KeyQueueInprog(cmd domain.Command) string {
	return fmt.Sprintf("flagq:q:%s:inprog", strings.ToLower(string(cmd)))
}

func KeyQueueDLQ(cmd domain.Command) string {
	return fmt.Sprintf("flagq:q:%s:dlq", strings.ToLower(string(cmd)))
}

func (r *taskRedisRepo) now() time.Time { return time.Now().In(r.tz) }

func marshal(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalTask(jsonStr string) (*domain.Task, error) {
	var t domain.Task
	if err := json.Unmarshal([]byte(jsonStr), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *taskRedisRepo) load(ctx context.Context, taskID string) (*domain.Task, error) {
	js, err := r.rdb.HGet(ctx, keyTasksHash(), taskID).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("HGET task: %w", err)
	}
	t, err := unmarshalTask(js)
	if err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return t, nil
}

func (r *taskRedisRepo) retentionZ(id string) *redis.Z {
	return &redis.Z{Score: float64(r.now().Add(taskRetention).UTC().Unix()), Member: id}
}

func (r *taskRedisRepo) removeTaskFully(ctx context.Context, id string) error {
	commands := domain.Commands()
	if t, err := r.load(ctx, id); err == nil {
		commands = []domain.Command{t.Command}
	}

	pipe := r.rdb.TxPipeline()
	pipe.HDel(ctx, keyTasksHash(), id)
	pipe.ZRem(ctx, keyTTLIndex(), id)
	pipe.Del(ctx, keyLease(id))
	for _, c := range commands {
		pipe.LRem(ctx, KeyQueuePending(c), 0, id)
		pipe.SRem(ctx, KeyQueueInprog(c), id)
		pipe.LRem(ctx, KeyQueueDLQ(c), 0, id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *taskRedisRepo) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Task, error) {
	if !req.Command.Valid() {
		return nil, fmt.Errorf("unsupported command %q", req.Command)
	}
	if strings.TrimSpace(req.IdempotencyKey) != "" {
		return r.enqueueIdempotent(ctx, req)
	}
	return r.enqueueWithID(ctx, uuid.NewString(), req)
}

func (r *taskRedisRepo) enqueueIdempotent(ctx context.Context, req EnqueueRequest) (*domain.Task, error) {
	idKey := keyIdempotency(req.IdempotencyKey)
	// A filter miss means this process has not seen the key, so the lookup is skipped
	// and SETNX below still guards against other producers.
	if r.dedupe.MaybeHas(req.IdempotencyKey) {
		if existingID, err := r.rdb.Get(ctx, idKey).Result(); err == nil && existingID != "" {
			if task, err := r.Get(ctx, existingID); err == nil {
				return task, nil
			}
			_ = r.rdb.Del(ctx, idKey).Err()
		}
	}
	id := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, idKey, id, taskRetention).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SETNX idempotency: %w", err)
	}
	r.dedupe.Add(req.IdempotencyKey)
	if !ok {
		if existingID, err := r.rdb.Get(ctx, idKey).Result(); err == nil && existingID != "" {
			if task, err := r.Get(ctx, existingID); err == nil {
				return task, nil
			}
		}
		return nil, fmt.Errorf("idempotency conflict")
	}
	task, err := r.enqueueWithID(ctx, id, req)
	if err != nil {
		_ = r.rdb.Del(ctx, idKey).Err()
		return nil, err
	}
	return task, nil
}

func (r *taskRedisRepo) enqueueWithID(ctx context.Context, id string, req EnqueueRequest) (*domain.Task, error) {
	now := r.now()
	task := domain.Task{
		ID:                id,
		Command:           req.Command,
		Payload:           req.Payload,
		TraceParent:       req.TraceParent,
		TraceState:        req.TraceState,
		Status:            domain.StatusPending,
		LastKnownLocation: domain.LocationPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, keyTasksHash(), id, marshal(task))
	pipe.ZAdd(ctx, keyTTLIndex(), r.retentionZ(id))
	pipe.LPush(ctx, KeyQueuePending(req.Command), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis enqueue: %w", err)
	}

	metrics.JobsEnqueuedTotal.WithLabelValues(string(req.Command)).Inc()
	return &task, nil
}

// claimMoveScript atomically pops one ID from the pending list, tracks it in the
// in-progress set and writes its lease, so the expiry sweep never sees a claimed
// ID without a lease. IDs already present in the in-progress set are skipped.
//
// KEYS[1] = pending list key
// KEYS[2] = in-progress set key
// ARGV[1] = max inner iterations (int)
// ARGV[2] = lease key prefix
// ARGV[3] = worker id
// ARGV[4] = lease seconds
var claimMoveScript = redis.NewScript(`
local src = KEYS[1]
local dst = KEYS[2]
local maxIter = tonumber(ARGV[1]) or 1
for i=1,maxIter do
  local id = redis.call("RPOP", src)
  if not id then
    return false
  end
  if redis.call("SADD", dst, id) == 1 then
    redis.call("SET", ARGV[2] .. id, ARGV[3], "EX", tonumber(ARGV[4]))
    return id
  end
end
return false
`)

// failExpired moves in-progress tasks whose lease key is gone to the dead-letter list.
// Jobs are attempted once, so an expired lease is terminal.
func (r *taskRedisRepo) failExpired(ctx context.Context, cmd domain.Command, inspectLimit int) (int, error) {
	inprog := KeyQueueInprog(cmd)
	if inspectLimit <= 0 {
		inspectLimit = 200
	}
	ids, err := r.rdb.SRandMemberN(ctx, inprog, int64(inspectLimit)).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("SRANDMEMBER inprog: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := r.rdb.Pipeline()
	ttlCmds := make([]*redis.DurationCmd, 0, len(ids))
	for _, id := range ids {
		ttlCmds = append(ttlCmds, pipe.TTL(ctx, keyLease(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, fmt.Errorf("pipeline TTL leases: %w", err)
	}

	moved := 0
	for i, id := range ids {
		ttl, err := ttlCmds[i].Result()
		if err != nil && err != redis.Nil {
			return moved, fmt.Errorf("TTL lease: %w", err)
		}
		if ttl > 0 || ttl == -1 {
			continue
		}
		metrics.LeaseExpiredTotal.WithLabelValues(string(cmd)).Inc()
		err = r.Fail(ctx, id, "", Failure{Reason: ReasonLeaseExpired})
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotInProgress) {
			_ = r.rdb.SRem(ctx, inprog, id).Err()
			continue
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (r *taskRedisRepo) Claim(ctx context.Context, workerID string, commands []domain.Command, leaseSeconds int, inspectLimit int) (*domain.Task, bool, error) {
	if inspectLimit <= 0 {
		inspectLimit = 200
	}
	if leaseSeconds <= 0 {
		return nil, false, fmt.Errorf("lease seconds must be > 0, got %d", leaseSeconds)
	}
	for _, cmd := range commands {
		if _, err := r.failExpired(ctx, cmd, inspectLimit); err != nil {
			return nil, false, err
		}
	}

	for _, cmd := range commands {
		src := KeyQueuePending(cmd)
		dst := KeyQueueInprog(cmd)

		for i := 0; i < inspectLimit; i++ {
			res, err := claimMoveScript.Run(ctx, r.rdb, []string{src, dst}, 1, leaseKeyPrefix, workerID, leaseSeconds).Result()
			if err == redis.Nil {
				break
			}
			if err != nil {
				return nil, false, fmt.Errorf("claim move script: %w", err)
			}
			id, ok := res.(string)
			if !ok || id == "" {
				break
			}

			// The task JSON may have been removed by cleanup.
			t, err := r.load(ctx, id)
			if errors.Is(err, ErrNotFound) {
				r.releaseClaim(ctx, dst, id)
				continue
			}
			if err != nil {
				r.releaseClaim(ctx, dst, id)
				return nil, false, err
			}

			lease := time.Duration(leaseSeconds) * time.Second

			t.Status = domain.StatusInProgress
			t.LastKnownLocation = domain.LocationInProgress
			t.WorkerID = workerID
			t.LeaseUntil = r.now().Add(lease).UTC().Format(time.RFC3339)
			t.UpdatedAt = r.now()

			pipe := r.rdb.TxPipeline()
			pipe.HSet(ctx, keyTasksHash(), t.ID, marshal(t))
			pipe.ZAdd(ctx, keyTTLIndex(), r.retentionZ(t.ID))
			if _, err := pipe.Exec(ctx); err != nil {
				return nil, false, fmt.Errorf("HSET task inprogress: %w", err)
			}

			metrics.JobsClaimedTotal.WithLabelValues(string(cmd)).Inc()
			return t, true, nil
		}
	}
	return nil, false, nil
}

func (r *taskRedisRepo) releaseClaim(ctx context.Context, inprog, id string) {
	pipe := r.rdb.TxPipeline()
	pipe.SRem(ctx, inprog, id)
	pipe.Del(ctx, keyLease(id))
	_, _ = pipe.Exec(ctx)
}

func (r *taskRedisRepo) Heartbeat(ctx context.Context, taskID string, workerID string, extendSeconds int) error {
	t, err := r.load(ctx, taskID)
	if err != nil {
		return err
	}
	if t.WorkerID != workerID {
		return ErrNotOwner
	}
	if t.Status != domain.StatusInProgress {
		return ErrNotInProgress
	}

	ext := time.Duration(extendSeconds) * time.Second
	if err := r.rdb.SetEX(ctx, keyLease(taskID), workerID, ext).Err(); err != nil {
		return fmt.Errorf("lease extend: %w", err)
	}
	t.LeaseUntil = r.now().Add(ext).UTC().Format(time.RFC3339)
	t.UpdatedAt = r.now()

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, keyTasksHash(), t.ID, marshal(t))
	pipe.ZAdd(ctx, keyTTLIndex(), r.retentionZ(t.ID))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *taskRedisRepo) Complete(ctx context.Context, taskID string, workerID string, result domain.Result) error {
	t, err := r.load(ctx, taskID)
	if err != nil {
		return err
	}
	if t.WorkerID != workerID {
		return ErrNotOwner
	}
	if t.Status != domain.StatusInProgress {
		return ErrNotInProgress
	}

	res := result
	t.Status = domain.StatusCompleted
	t.LastKnownLocation = domain.LocationNone
	t.Result = &res
	t.LeaseUntil = ""
	t.Error = ""
	t.UpdatedAt = r.now()

	pipe := r.rdb.TxPipeline()
	pipe.SRem(ctx, KeyQueueInprog(t.Command), taskID)
	pipe.Del(ctx, keyLease(taskID))
	pipe.HSet(ctx, keyTasksHash(), t.ID, marshal(t))
	pipe.ZAdd(ctx, keyTTLIndex(), r.retentionZ(t.ID))
	_, err = pipe.Exec(ctx)
	return err
}

// Fail moves an in-progress task to the dead-letter list. An empty workerID skips
// the ownership check.
func (r *taskRedisRepo) Fail(ctx context.Context, taskID string, workerID string, f Failure) error {
	t, err := r.load(ctx, taskID)
	if err != nil {
		return err
	}
	if workerID != "" && t.WorkerID != workerID {
		return ErrNotOwner
	}
	if t.Status != domain.StatusInProgress {
		return ErrNotInProgress
	}
	if f.Reason == "" {
		f.Reason = ReasonProcessing
	}

	t.Status = domain.StatusFailed
	t.LastKnownLocation = domain.LocationDLQ
	t.LeaseUntil = ""
	t.Result = f.Result
	t.Error = f.Reason
	if f.Detail != "" {
		t.Error = f.Reason + ": " + f.Detail
	}
	t.UpdatedAt = r.now()

	pipe := r.rdb.TxPipeline()
	pipe.SRem(ctx, KeyQueueInprog(t.Command), taskID)
	pipe.Del(ctx, keyLease(taskID))
	pipe.LPush(ctx, KeyQueueDLQ(t.Command), taskID)
	pipe.HSet(ctx, keyTasksHash(), t.ID, marshal(t))
	pipe.ZAdd(ctx, keyTTLIndex(), r.retentionZ(t.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	metrics.JobsFailedTotal.WithLabelValues(string(t.Command), f.Reason).Inc()
	return nil
}

// Abandon returns an in-progress task to the pending list. Workers call it on
// shutdown so the job runs again on another instance.
func (r *taskRedisRepo) Abandon(ctx context.Context, taskID string, workerID string) error {
	t, err := r.load(ctx, taskID)
	if err != nil {
		return err
	}
	if t.WorkerID != workerID {
		return ErrNotOwner
	}
	if t.Status != domain.StatusInProgress {
		return ErrNotInProgress
	}

	t.Status = domain.StatusPending
	t.LastKnownLocation = domain.LocationPending
	t.WorkerID = ""
	t.LeaseUntil = ""
	t.UpdatedAt = r.now()

	pipe := r.rdb.TxPipeline()
	pipe.SRem(ctx, KeyQueueInprog(t.Command), taskID)
	pipe.Del(ctx, keyLease(taskID))
	pipe.RPush(ctx, KeyQueuePending(t.Command), taskID)
	pipe.HSet(ctx, keyTasksHash(), t.ID, marshal(t))
	pipe.ZAdd(ctx, keyTTLIndex(), r.retentionZ(t.ID))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *taskRedisRepo) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	return r.load(ctx, taskID)
}

func (r *taskRedisRepo) QueueStats(ctx context.Context, cmd domain.Command) (*domain.QueueStats, error) {
	pipe := r.rdb.Pipeline()
	ready := pipe.LLen(ctx, KeyQueuePending(cmd))
	inprog := pipe.SCard(ctx, KeyQueueInprog(cmd))
	dlq := pipe.LLen(ctx, KeyQueueDLQ(cmd))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	return &domain.QueueStats{
		Command:    cmd,
		Ready:      ready.Val(),
		InProgress: inprog.Val(),
		DLQ:        dlq.Val(),
	}, nil
}

// CleanupExpired removes tasks whose retention elapsed before the given instant.
func (r *taskRedisRepo) CleanupExpired(ctx context.Context, limit int, before time.Time) (int, error) {
	if limit <= 0 {
		limit = 1000
	}
	maxTS := strconv.FormatInt(before.UTC().Unix(), 10)
	zrange := &redis.ZRangeBy{Min: "-inf", Max: maxTS, Offset: 0, Count: int64(limit)}

	ids, err := r.rdb.ZRangeByScore(ctx, keyTTLIndex(), zrange).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		if err := r.removeTaskFully(ctx, id); err == nil {
			deleted++
		}
	}
	return deleted, nil
}
