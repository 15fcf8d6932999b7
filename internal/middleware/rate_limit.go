package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/flagq/internal/metrics"
	"github.com/osvaldoandrade/flagq/internal/ratelimit"
	"github.com/osvaldoandrade/flagq/pkg/config"
)

// RateLimitProducer limits enqueue calls per producer token. Both commands share
// one bucket per token.
func RateLimitProducer(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitBearer(lim, "producer", "enqueue", ratelimit.Bucket{
		RequestsPerMinute: cfg.ProducerRateLimitRPM,
		BurstSize:         cfg.ProducerRateLimitBurst,
	})
}

func rateLimitBearer(lim ratelimit.Limiter, scope string, operation string, bucket ratelimit.Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			// Auth middleware will reject; don't rate limit unauthenticated requests here.
			c.Next()
			return
		}

		dec, err := lim.Allow(c.Request.Context(), ratelimit.Key{Scope: scope, Subject: token}, bucket)
		if err != nil {
			// Fail open to avoid turning Redis hiccups into outages.
			requestLogger(c).Warn("rate limit check failed", "scope", scope, "op", operation, "err", err)
			c.Next()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
		if dec.Allowed {
			c.Next()
			return
		}

		retryAfterSeconds := int(math.Ceil(dec.RetryAfter.Seconds()))
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.WithLabelValues(scope).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "rate limit exceeded",
			"scope":             scope,
			"operation":         operation,
			"retryAfterSeconds": retryAfterSeconds,
		})
	}
}

func bearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
