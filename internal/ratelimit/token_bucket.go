package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Bucket is a refill rate plus a burst capacity. A zero bucket disables limiting.
type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

// Key identifies one bucket. Subjects are hashed before they reach Redis, so
// bearer tokens can be used directly.
type Key struct {
	Scope   string
	Subject string
}

func (k Key) redisKey() string {
	scope := strings.TrimSpace(k.Scope)
	if scope == "" {
		scope = "default"
	}
	subject := strings.TrimSpace(k.Subject)
	if subject == "" {
		subject = "unknown"
	}
	sum := sha256.Sum256([]byte(subject))
	return fmt.Sprintf("flagq:rl:%s:%s", scope, hex.EncodeToString(sum[:]))
}

type Decision struct {
	Allowed bool
	// Remaining is the number of whole tokens left after this call.
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key Key, bucket Bucket) (Decision, error)
}

type TokenBucketLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

type Option func(*TokenBucketLimiter)

// WithClock replaces the wall clock used to compute refills.
func WithClock(now func() time.Time) Option {
	return func(l *TokenBucketLimiter) { l.now = now }
}

func NewTokenBucketLimiter(rdb *redis.Client, opts ...Option) *TokenBucketLimiter {
	l := &TokenBucketLimiter{rdb: rdb, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// KEYS[1] bucket hash. ARGV: rate (tokens/ms), capacity, now (ms), ttl (ms).
// Returns {allowed, remaining, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * rate)
end

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.ceil((1 - tokens) / rate)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", math.max(now, ts))
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {allowed, math.floor(tokens), wait}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, key Key, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	ratePerMS := float64(bucket.RequestsPerMinute) / float64(time.Minute.Milliseconds())
	capacity := float64(bucket.BurstSize)

	res, err := tokenBucketScript.Run(ctx, l.rdb, []string{key.redisKey()},
		ratePerMS, capacity, l.now().UnixMilli(), bucketTTL(bucket).Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key.Scope, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply: %v", res)
	}
	allowed, _ := vals[0].(int64)
	remaining, _ := vals[1].(int64)
	waitMS, _ := vals[2].(int64)

	dec := Decision{Allowed: allowed == 1, Remaining: int(remaining)}
	if !dec.Allowed {
		dec.RetryAfter = time.Duration(waitMS) * time.Millisecond
	}
	return dec, nil
}

// bucketTTL keeps state for two full refill cycles, clamped to [30s, 1h].
func bucketTTL(b Bucket) time.Duration {
	const (
		minTTL = 30 * time.Second
		maxTTL = time.Hour
	)
	fill := time.Duration(math.Ceil(float64(b.BurstSize)/float64(b.RequestsPerMinute)*60)) * time.Second
	ttl := 2*fill + 5*time.Second
	if ttl < minTTL {
		return minTTL
	}
	if ttl > maxTTL {
		return maxTTL
	}
	return ttl
}
