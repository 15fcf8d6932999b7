package telemetry

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

type SentryConfig struct {
	DSN         string
	Environment string
	ServerName  string
	// VerifyTLS disables certificate verification when false.
	VerifyTLS bool
	// BeforeSend is passed through to the client; tests use it to intercept events.
	BeforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

type sentryTracker struct {
	hub *sentry.Hub
}

// NewSentry builds a tracker bound to its own hub. Events are delivered by the
// SDK's asynchronous transport.
func NewSentry(cfg SentryConfig) (Tracker, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sentry: dsn is required")
	}
	opts := sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		ServerName:       cfg.ServerName,
		AttachStacktrace: true,
		BeforeSend:       cfg.BeforeSend,
	}
	if !cfg.VerifyTLS {
		opts.HTTPTransport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	}
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &sentryTracker{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// New returns a Sentry tracker when a DSN is configured and Noop otherwise.
func New(cfg SentryConfig) (Tracker, error) {
	if cfg.DSN == "" {
		return Noop{}, nil
	}
	return NewSentry(cfg)
}

func (t *sentryTracker) CaptureMessage(ctx context.Context, ev Event) {
	t.hub.WithScope(func(scope *sentry.Scope) {
		applyScope(scope, ev)
		t.hub.CaptureMessage(ev.Message)
	})
}

func (t *sentryTracker) CaptureError(ctx context.Context, err error, ev Event) {
	if ev.Level == "" {
		ev.Level = LevelError
	}
	t.hub.WithScope(func(scope *sentry.Scope) {
		applyScope(scope, ev)
		t.hub.CaptureException(err)
	})
}

func (t *sentryTracker) Flush(timeout time.Duration) bool {
	return t.hub.Flush(timeout)
}

func applyScope(scope *sentry.Scope, ev Event) {
	scope.SetLevel(sentryLevel(ev.Level))
	if len(ev.Tags) > 0 {
		scope.SetTags(ev.Tags)
	}
	if len(ev.Extra) > 0 {
		scope.SetExtras(ev.Extra)
	}
}

func sentryLevel(l Level) sentry.Level {
	switch l {
	case LevelError:
		return sentry.LevelError
	case LevelWarning:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}
