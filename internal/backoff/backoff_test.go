package backoff

import (
	"math/rand"
	"testing"
	"time"
)

const ms = time.Millisecond

func TestDelayFixed(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		max      time.Duration
		attempts int
		want     time.Duration
	}{
		{"base 5 max 10", 5 * ms, 10 * ms, 0, 5 * ms},
		{"many attempts", 5 * ms, 10 * ms, 100, 5 * ms},
		{"base exceeds max", 20 * ms, 10 * ms, 0, 10 * ms},
		{"zero base defaults to 1ms", 0, 10 * ms, 0, ms},
		{"zero max equals base", 5 * ms, 0, 0, 5 * ms},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Delay(PolicyFixed, tt.base, tt.max, tt.attempts, rand.New(rand.NewSource(42)))
			if got != tt.want {
				t.Errorf("Delay(fixed) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayLinear(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{-1, 5 * ms},
		{0, 5 * ms},
		{1, 5 * ms},
		{3, 15 * ms},
		{10, 20 * ms},
	}
	for _, tt := range tests {
		if got := Delay(PolicyLinear, 5*ms, 20*ms, tt.attempts, nil); got != tt.want {
			t.Errorf("Delay(linear, %d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestDelayExponential(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 100 * ms},
		{1, 200 * ms},
		{3, 800 * ms},
		{6, 5000 * ms},
		{10000, 5000 * ms},
	}
	for _, tt := range tests {
		if got := Delay(PolicyExponential, 100*ms, 5000*ms, tt.attempts, nil); got != tt.want {
			t.Errorf("Delay(exponential, %d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for attempts := 0; attempts < 12; attempts++ {
		ceiling := Delay(PolicyExponential, 200*ms, 5000*ms, attempts, nil)
		for i := 0; i < 50; i++ {
			full := Delay(PolicyExpFullJitter, 200*ms, 5000*ms, attempts, rng)
			if full < 0 || full > ceiling {
				t.Fatalf("full jitter %v outside [0, %v]", full, ceiling)
			}
			equal := Delay(PolicyExpEqualJitter, 200*ms, 5000*ms, attempts, rng)
			if equal < ceiling/2 || equal > ceiling {
				t.Fatalf("equal jitter %v outside [%v, %v]", equal, ceiling/2, ceiling)
			}
		}
	}
}

func TestDelayUnknownPolicyIsFullJitter(t *testing.T) {
	a := Delay("bogus", 200*ms, 5000*ms, 3, rand.New(rand.NewSource(9)))
	b := Delay(PolicyExpFullJitter, 200*ms, 5000*ms, 3, rand.New(rand.NewSource(9)))
	if a != b {
		t.Fatalf("unknown policy = %v, full jitter = %v", a, b)
	}
}
