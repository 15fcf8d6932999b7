package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/osvaldoandrade/flagq/internal/metrics"
	"github.com/osvaldoandrade/flagq/internal/token"
	"github.com/osvaldoandrade/flagq/internal/tracing"
	"github.com/osvaldoandrade/flagq/pkg/domain"
)

// Reporter delivers an outcome body to the controller.
type Reporter interface {
	Report(ctx context.Context, op domain.Command, target *url.URL, body any) error
}

type httpReporter struct {
	client *http.Client
	header string
	tokens token.Issuer
}

// NewHTTPReporter posts JSON bodies and authenticates each report with a token
// from tokens under the configured header name.
func NewHTTPReporter(client *http.Client, header string, tokens token.Issuer) Reporter {
	if client == nil {
		client = &http.Client{}
	}
	return &httpReporter{client: client, header: header, tokens: tokens}
}

// Report is synchronous. Shutdown of the worker does not abort a report that is
// already underway.
func (r *httpReporter) Report(ctx context.Context, op domain.Command, target *url.URL, body any) error {
	ctx = context.WithoutCancel(ctx)
	kind := strings.ToLower(string(op))

	tok, err := r.tokens.Issue(ctx)
	if err != nil {
		metrics.ReportDeliveriesTotal.WithLabelValues(kind, "token_error").Inc()
		return fmt.Errorf("issue checker token: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return &DeliveryError{URL: target.String(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(r.header, tok)
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := r.client.Do(req)
	if err != nil {
		metrics.ReportDeliveriesTotal.WithLabelValues(kind, "transport_error").Inc()
		return &DeliveryError{URL: target.String(), Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ReportDeliveriesTotal.WithLabelValues(kind, "http_error").Inc()
		return &DeliveryError{URL: target.String(), StatusCode: resp.StatusCode}
	}
	metrics.ReportDeliveriesTotal.WithLabelValues(kind, "success").Inc()
	return nil
}
