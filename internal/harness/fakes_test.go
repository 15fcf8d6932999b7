package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/osvaldoandrade/flagq/internal/telemetry"
	"github.com/osvaldoandrade/flagq/pkg/domain"
)

type fakeChecker struct {
	push func(ctx context.Context, endpoint, flag string, adjunct []byte, md domain.Metadata) (domain.Result, []byte, error)
	pull func(ctx context.Context, endpoint, flag string, adjunct []byte, md domain.Metadata) (domain.Result, error)
}

func (f *fakeChecker) Push(ctx context.Context, endpoint, flag string, adjunct []byte, md domain.Metadata) (domain.Result, []byte, error) {
	return f.push(ctx, endpoint, flag, adjunct, md)
}

func (f *fakeChecker) Pull(ctx context.Context, endpoint, flag string, adjunct []byte, md domain.Metadata) (domain.Result, error) {
	return f.pull(ctx, endpoint, flag, adjunct, md)
}

type capturedEvent struct {
	err error
	ev  telemetry.Event
}

type recordingTracker struct {
	mu       sync.Mutex
	messages []telemetry.Event
	errors   []capturedEvent
}

func (r *recordingTracker) CaptureMessage(_ context.Context, ev telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, ev)
}

func (r *recordingTracker) CaptureError(_ context.Context, err error, ev telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, capturedEvent{err: err, ev: ev})
}

func (r *recordingTracker) Flush(time.Duration) bool { return true }

type sentReport struct {
	op     domain.Command
	target string
	body   []byte
}

type recordingReporter struct {
	mu   sync.Mutex
	sent []sentReport
	err  error
}

func (r *recordingReporter) Report(_ context.Context, op domain.Command, target *url.URL, body any) error {
	b, _ := json.Marshal(body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentReport{op: op, target: target.String(), body: b})
	return r.err
}

func (r *recordingReporter) reports() []sentReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentReport(nil), r.sent...)
}

// logRecords decodes JSON log lines written to buf.
func logRecords(buf *bytes.Buffer) []map[string]any {
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var created = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

// stepClock returns created+1s, created+3s, ... on successive calls.
func stepClock() func() time.Time {
	var mu sync.Mutex
	next := created.Add(time.Second)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(2 * time.Second)
		return t
	}
}

func pushPayload(flag, adjunct string) []byte {
	return []byte(`{"params":{"endpoint":"10.60.3.2","flag":"` + flag + `","adjunct":"` + adjunct + `"},` +
		`"metadata":{"round":7,"service_name":"vault","team_name":"red","timestamp":"2026-10-19T12:00:00Z"},` +
		`"report_url":"http://controller.local/api/checker/v2/report_push"}`)
}

func pullPayload(requestID, flag, adjunct string) []byte {
	return []byte(`{"params":{"request_id":` + requestID + `,"endpoint":"10.60.3.2","flag":"` + flag + `","adjunct":"` + adjunct + `"},` +
		`"metadata":{"round":8,"service_name":"vault","team_name":"blue","timestamp":"2026-10-19T12:00:00Z"},` +
		`"report_url":"http://controller.local/api/checker/v2/report_pull"}`)
}
