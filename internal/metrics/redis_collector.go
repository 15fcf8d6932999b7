package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/osvaldoandrade/flagq/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

type redisCollector struct {
	rdb    *redis.Client
	logger *slog.Logger

	queueDepthDesc *prometheus.Desc
	dlqDepthDesc   *prometheus.Desc
}

func newRedisCollector(rdb *redis.Client, logger *slog.Logger) *redisCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisCollector{
		rdb:    rdb,
		logger: logger,
		queueDepthDesc: prometheus.NewDesc(
			"flagq_queue_depth",
			"Current queue depth by operation and queue state.",
			[]string{"operation", "queue"},
			nil,
		),
		dlqDepthDesc: prometheus.NewDesc(
			"flagq_dlq_depth",
			"Current dead-letter depth by operation.",
			[]string{"operation"},
			nil,
		),
	}
}

func (c *redisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepthDesc
	ch <- c.dlqDepthDesc
}

func (c *redisCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}

	// Keep Redis reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	commands := domain.Commands()
	pipe := c.rdb.Pipeline()
	readyCmds := make(map[domain.Command]*redis.IntCmd, len(commands))
	inprogCmds := make(map[domain.Command]*redis.IntCmd, len(commands))
	dlqCmds := make(map[domain.Command]*redis.IntCmd, len(commands))

	for _, cmd := range commands {
		readyCmds[cmd] = pipe.LLen(ctx, keyQueuePending(cmd))
		inprogCmds[cmd] = pipe.SCard(ctx, keyQueueInprog(cmd))
		dlqCmds[cmd] = pipe.LLen(ctx, keyQueueDLQ(cmd))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		c.logger.Warn("prometheus redis collector failed", "err", err)
		return
	}

	for _, cmd := range commands {
		op := string(cmd)
		dlq := dlqCmds[cmd].Val()
		emitGauge(ch, c.queueDepthDesc, float64(readyCmds[cmd].Val()), op, "ready")
		emitGauge(ch, c.queueDepthDesc, float64(inprogCmds[cmd].Val()), op, "in_progress")
		emitGauge(ch, c.queueDepthDesc, float64(dlq), op, "dlq")
		emitGauge(ch, c.dlqDepthDesc, float64(dlq), op)
	}
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

// Queue keys mirror internal/repository, which imports this package.
func keyQueuePending(cmd domain.Command) string {
	return fmt.Sprintf("flagq:q:%s:pending", strings.ToLower(string(cmd)))
}

func keyQueueInprog(cmd domain.Command) string {
	return fmt.Sprintf("flagq:q:%s:inprog", strings.ToLower(string(cmd)))
}

func keyQueueDLQ(cmd domain.Command) string {
	return fmt.Sprintf("flagq:q:%s:dlq", strings.ToLower(string(cmd)))
}

var registerRedisCollectorOnce sync.Once

func RegisterRedisCollector(rdb *redis.Client, logger *slog.Logger) {
	registerRedisCollectorOnce.Do(func() {
		prometheus.MustRegister(newRedisCollector(rdb, logger))
	})
}
