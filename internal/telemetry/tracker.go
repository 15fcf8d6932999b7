// Package telemetry forwards job events to an error-tracking backend.
package telemetry

import (
	"context"
	"time"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is a backend-neutral tracking event.
type Event struct {
	Level   Level
	Message string
	Tags    map[string]string
	Extra   map[string]any
}

// Tracker receives events. Implementations must be safe for concurrent use and
// must not block the caller on network I/O.
type Tracker interface {
	CaptureMessage(ctx context.Context, ev Event)
	CaptureError(ctx context.Context, err error, ev Event)
	Flush(timeout time.Duration) bool
}

// Noop discards everything. It is used when no DSN is configured.
type Noop struct{}

func (Noop) CaptureMessage(context.Context, Event)      {}
func (Noop) CaptureError(context.Context, error, Event) {}
func (Noop) Flush(time.Duration) bool                   { return true }
