package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRedisCollectorReportsDepths(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	rdb.LPush(ctx, "flagq:q:push:pending", "a", "b")
	rdb.SAdd(ctx, "flagq:q:pull:inprog", "c")
	rdb.LPush(ctx, "flagq:q:pull:dlq", "d")

	c := newRedisCollector(rdb, nil)
	expected := `
# HELP flagq_dlq_depth Current dead-letter depth by operation.
# TYPE flagq_dlq_depth gauge
flagq_dlq_depth{operation="PULL"} 1
flagq_dlq_depth{operation="PUSH"} 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "flagq_dlq_depth"); err != nil {
		t.Fatalf("dlq depth: %v", err)
	}
	if n := testutil.CollectAndCount(c, "flagq_queue_depth"); n != 6 {
		t.Fatalf("expected 6 queue depth series, got %d", n)
	}
}

func TestRedisCollectorNilClient(t *testing.T) {
	c := newRedisCollector(nil, nil)
	if n := testutil.CollectAndCount(c); n != 0 {
		t.Fatalf("expected no metrics without redis, got %d", n)
	}
}
