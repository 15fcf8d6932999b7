package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTiming(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tm := Timing{
		Created:   base,
		Delivered: base.Add(1500 * time.Millisecond),
		Processed: base.Add(4 * time.Second),
	}
	assert.InDelta(t, 1.5, tm.DeliveryTime(), 1e-9)
	assert.InDelta(t, 2.5, tm.ProcessingTime(), 1e-9)
}

func TestTiming_ClockSkewIsNotClamped(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tm := Timing{Created: base.Add(2 * time.Second), Delivered: base, Processed: base}
	assert.InDelta(t, -2.0, tm.DeliveryTime(), 1e-9)
	assert.Zero(t, tm.ProcessingTime())
}
