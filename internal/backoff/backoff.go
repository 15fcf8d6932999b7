// Package backoff computes idle delays for workers polling an empty queue.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

const (
	PolicyFixed          = "fixed"
	PolicyLinear         = "linear"
	PolicyExponential    = "exponential"
	PolicyExpEqualJitter = "exp_equal_jitter"
	PolicyExpFullJitter  = "exp_full_jitter"
)

// Policies lists the accepted policy names. Unknown names behave as exp_full_jitter.
func Policies() []string {
	return []string{PolicyFixed, PolicyLinear, PolicyExponential, PolicyExpEqualJitter, PolicyExpFullJitter}
}

// Delay returns the wait before the next poll after attempts consecutive misses.
func Delay(policy string, base, max time.Duration, attempts int, rng *rand.Rand) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if base <= 0 {
		base = time.Millisecond
	}
	if max <= 0 {
		max = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch policy {
	case PolicyFixed:
		return min(base, max)
	case PolicyLinear:
		return capped(float64(base)*float64(maxInt(1, attempts)), max)
	case PolicyExponential:
		return exponential(base, max, attempts)
	case PolicyExpEqualJitter:
		d := exponential(base, max, attempts)
		half := d / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default:
		d := exponential(base, max, attempts)
		if d <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(d) + 1))
	}
}

func exponential(base, max time.Duration, attempts int) time.Duration {
	return capped(float64(base)*math.Pow(2, float64(attempts)), max)
}

// capped converts before comparing so large attempt counts cannot overflow.
func capped(v float64, max time.Duration) time.Duration {
	if v >= float64(max) || math.IsInf(v, 1) {
		return max
	}
	return time.Duration(v)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
