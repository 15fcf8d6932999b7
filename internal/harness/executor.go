// Package harness runs push and pull jobs against a checker: decode, invoke under
// fault isolation, time, emit telemetry, report. Jobs are attempted once.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/osvaldoandrade/flagq/internal/metrics"
	"github.com/osvaldoandrade/flagq/internal/telemetry"
	"github.com/osvaldoandrade/flagq/internal/tracing"
	"github.com/osvaldoandrade/flagq/pkg/checker"
	"github.com/osvaldoandrade/flagq/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	Checker  checker.Checker
	Reporter Reporter
	Logger   *slog.Logger
	Tracker  telemetry.Tracker
	// Now defaults to time.Now.
	Now func() time.Time
}

type Harness struct {
	boundary *boundary
	emitter  *Emitter
	reporter Reporter
	now      func() time.Time
	tracer   trace.Tracer
}

func New(opts Options) (*Harness, error) {
	if opts.Checker == nil {
		return nil, errors.New("harness: checker is required")
	}
	if opts.Reporter == nil {
		return nil, errors.New("harness: reporter is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	emitter := NewEmitter(opts.Logger, opts.Tracker)
	return &Harness{
		boundary: &boundary{checker: opts.Checker, emitter: emitter},
		emitter:  emitter,
		reporter: opts.Reporter,
		now:      opts.Now,
		tracer:   otel.Tracer("flagq/harness"),
	}, nil
}

// Process dispatches a queued task by command.
func (h *Harness) Process(ctx context.Context, task domain.Task) (domain.Result, error) {
	ctx = tracing.ContextWithRemoteParent(ctx, task.TraceParent, task.TraceState)
	payload := []byte(task.Payload)
	switch task.Command {
	case domain.CmdPush:
		return h.Push(ctx, payload)
	case domain.CmdPull:
		return h.Pull(ctx, payload)
	default:
		return 0, &domain.DecodeError{Field: "command", Err: fmt.Errorf("unsupported %q", task.Command)}
	}
}

func (h *Harness) startSpan(ctx context.Context, op domain.Command, md domain.Metadata) (context.Context, trace.Span) {
	return h.tracer.Start(ctx, "flagq."+strings.ToLower(string(op)),
		trace.WithAttributes(
			attribute.Int("flagq.round", md.Round),
			attribute.String("flagq.team", md.TeamName),
			attribute.String("flagq.service", md.ServiceName),
		),
	)
}

func (h *Harness) finish(ctx context.Context, span trace.Span, o Outcome, target *url.URL) (domain.Result, error) {
	op := string(o.Operation)
	metrics.JobsProcessedTotal.WithLabelValues(op, o.Result.Key()).Inc()
	if d := o.Timing.DeliveryTime(); d >= 0 {
		metrics.DeliveryTimeSeconds.WithLabelValues(op).Observe(d)
	}
	if d := o.Timing.ProcessingTime(); d >= 0 {
		metrics.ProcessingTimeSeconds.WithLabelValues(op).Observe(d)
	}
	span.SetAttributes(attribute.String("flagq.status", o.Result.Key()))

	h.emitter.Outcome(ctx, o)

	if err := h.reporter.Report(ctx, o.Operation, target, o.Report()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report failed")
		return o.Result, err
	}
	return o.Result, nil
}

// Push runs a push job. The returned error is a *domain.DecodeError, a
// *CancelledError, or a report delivery failure.
func (h *Harness) Push(ctx context.Context, payload []byte) (domain.Result, error) {
	job, err := domain.DecodePushJob(payload)
	if err != nil {
		return 0, err
	}
	ctx, span := h.startSpan(ctx, domain.CmdPush, job.Metadata)
	defer span.End()

	timing := Timing{Created: job.Metadata.Timestamp, Delivered: h.now()}
	res, adjunct, err := h.boundary.push(ctx, job)
	if err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return 0, err
	}
	timing.Processed = h.now()

	return h.finish(ctx, span, Outcome{
		Operation: domain.CmdPush,
		Result:    res,
		Endpoint:  job.Endpoint,
		Flag:      job.Flag,
		Adjunct:   adjunct,
		Metadata:  job.Metadata,
		Timing:    timing,
	}, job.ReportURL)
}

// Pull runs a pull job with the same error contract as Push.
func (h *Harness) Pull(ctx context.Context, payload []byte) (domain.Result, error) {
	job, err := domain.DecodePullJob(payload)
	if err != nil {
		return 0, err
	}
	ctx, span := h.startSpan(ctx, domain.CmdPull, job.Metadata)
	defer span.End()

	timing := Timing{Created: job.Metadata.Timestamp, Delivered: h.now()}
	res, err := h.boundary.pull(ctx, job)
	if err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return 0, err
	}
	timing.Processed = h.now()

	return h.finish(ctx, span, Outcome{
		Operation:   domain.CmdPull,
		Result:      res,
		Endpoint:    job.Endpoint,
		Flag:        job.Flag,
		Adjunct:     job.Adjunct,
		AdjunctText: job.AdjunctText,
		RequestID:   job.RequestID,
		Metadata:    job.Metadata,
		Timing:      timing,
	}, job.ReportURL)
}
