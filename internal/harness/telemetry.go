package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/osvaldoandrade/flagq/internal/metrics"
	"github.com/osvaldoandrade/flagq/internal/telemetry"
	"github.com/osvaldoandrade/flagq/pkg/domain"
)

// Outcome is the terminal state of one job. It is consumed by the emitter and the
// reporter and never stored.
type Outcome struct {
	Operation domain.Command
	Result    domain.Result
	Endpoint  string
	Flag      string
	Adjunct   []byte
	// AdjunctText, when set, is logged in place of the re-encoded Adjunct.
	AdjunctText string
	RequestID   json.RawMessage
	Metadata    domain.Metadata
	Timing      Timing
}

// Report builds the controller body for the outcome.
func (o Outcome) Report() any {
	if o.Operation == domain.CmdPull {
		return domain.NewPullReport(o.RequestID, o.Result)
	}
	return domain.NewPushReport(o.Result, o.Flag, o.Adjunct)
}

const flagPrefixLen = 8

func flagPrefix(flag string) string {
	r := []rune(flag)
	if len(r) > flagPrefixLen {
		r = r[:flagPrefixLen]
	}
	return string(r)
}

// Emitter writes the per-job log line and the optional tracking event.
type Emitter struct {
	logger  *slog.Logger
	tracker telemetry.Tracker
}

func NewEmitter(logger *slog.Logger, tracker telemetry.Tracker) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = telemetry.Noop{}
	}
	return &Emitter{logger: logger, tracker: tracker}
}

func (e *Emitter) tags(op domain.Command, status string, md domain.Metadata) map[string]string {
	return map[string]string{
		"operation": strings.ToLower(string(op)),
		"status":    status,
		"team":      md.TeamName,
		"service":   md.ServiceName,
		"round":     strconv.Itoa(md.Round),
	}
}

// Outcome logs push jobs at error level and pull jobs at info level.
func (e *Emitter) Outcome(ctx context.Context, o Outcome) {
	key := o.Result.Key()
	adjunct := o.AdjunctText
	if adjunct == "" {
		adjunct = domain.EncodeAdjunct(o.Adjunct)
	}
	dt, pt := o.Timing.DeliveryTime(), o.Timing.ProcessingTime()
	md := o.Metadata

	level := slog.LevelInfo
	var msg, summary string
	if o.Operation == domain.CmdPush {
		level = slog.LevelError
		msg = fmt.Sprintf("PUSH flag `%s` /%d to `%s`@`%s` (%s) - status %s, adjunct `%s` [delivery %.2fs, processing %.2fs]",
			o.Flag, md.Round, md.ServiceName, md.TeamName, o.Endpoint, key, adjunct, dt, pt)
		summary = fmt.Sprintf("PUSH `%s...` /%d to `%s` - status %s", flagPrefix(o.Flag), md.Round, md.TeamName, key)
	} else {
		msg = fmt.Sprintf("PULL flag `%s` /%d from `%s`@`%s` (%s) with adjunct `%s` - status %s [delivery %.2fs, processing %.2fs]",
			o.Flag, md.Round, md.ServiceName, md.TeamName, o.Endpoint, adjunct, key, dt, pt)
		summary = fmt.Sprintf("PULL `%s...` /%d from `%s` - status %s", flagPrefix(o.Flag), md.Round, md.TeamName, key)
	}

	e.logger.Log(ctx, level, msg,
		"operation", strings.ToLower(string(o.Operation)),
		"flag", o.Flag,
		"round", md.Round,
		"team", md.TeamName,
		"service", md.ServiceName,
		"endpoint", o.Endpoint,
		"status", key,
		"adjunct", adjunct,
		"delivery_time", dt,
		"processing_time", pt,
	)

	e.tracker.CaptureMessage(ctx, telemetry.Event{
		Level:   telemetry.LevelInfo,
		Message: summary,
		Tags:    e.tags(o.Operation, key, md),
		Extra: map[string]any{
			"endpoint":        o.Endpoint,
			"flag":            flagPrefix(o.Flag) + "...",
			"adjunct":         adjunct,
			"delivery_time":   dt,
			"processing_time": pt,
		},
	})
}

// Fault records a recovered checker failure.
func (e *Emitter) Fault(ctx context.Context, f *Fault, endpoint string, md domain.Metadata) {
	metrics.CheckerFaultsTotal.WithLabelValues(string(f.Operation), f.Kind()).Inc()

	attrs := []any{
		"operation", strings.ToLower(string(f.Operation)),
		"kind", f.Kind(),
		"err", f.Error(),
		"round", md.Round,
		"team", md.TeamName,
		"service", md.ServiceName,
		"endpoint", endpoint,
	}
	if len(f.Stack) > 0 {
		attrs = append(attrs, "stack", string(f.Stack))
	}
	e.logger.ErrorContext(ctx, "checker fault", attrs...)

	extra := map[string]any{"endpoint": endpoint, "kind": f.Kind()}
	if len(f.Stack) > 0 {
		extra["stack"] = string(f.Stack)
	}
	e.tracker.CaptureError(ctx, f, telemetry.Event{
		Level: telemetry.LevelError,
		Tags:  e.tags(f.Operation, domain.ResultInternalError.Key(), md),
		Extra: extra,
	})
}
