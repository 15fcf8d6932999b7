package app

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/osvaldoandrade/flagq/internal/harness"
	"github.com/osvaldoandrade/flagq/internal/metrics"
	"github.com/osvaldoandrade/flagq/internal/providers"
	"github.com/osvaldoandrade/flagq/internal/repository"
	"github.com/osvaldoandrade/flagq/internal/telemetry"
	"github.com/osvaldoandrade/flagq/internal/token"
	"github.com/osvaldoandrade/flagq/internal/tracing"
	"github.com/osvaldoandrade/flagq/internal/worker"
	"github.com/osvaldoandrade/flagq/pkg/checker"
	"github.com/osvaldoandrade/flagq/pkg/config"
	"github.com/osvaldoandrade/flagq/pkg/domain"

	"github.com/go-redis/redis/v8"
)

// Worker is the job-processing process: it claims queued jobs and runs them
// through the harness against the configured checker.
type Worker struct {
	Config          *config.Config
	Redis           *redis.Client
	Repo            repository.TaskRepository
	Checker         checker.Checker
	Tokens          token.Issuer
	Tracker         telemetry.Tracker
	HTTPClient      *http.Client
	Harness         *harness.Harness
	Pool            *worker.Pool
	Logger          *slog.Logger
	TracingShutdown func(context.Context) error
}

type WorkerOption func(*Worker) error

// WithChecker bypasses the checker registry.
func WithChecker(c checker.Checker) WorkerOption {
	return func(w *Worker) error {
		w.Checker = c
		return nil
	}
}

func WithTokenIssuer(i token.Issuer) WorkerOption {
	return func(w *Worker) error {
		w.Tokens = i
		return nil
	}
}

func WithTracker(t telemetry.Tracker) WorkerOption {
	return func(w *Worker) error {
		w.Tracker = t
		return nil
	}
}

func WithWorkerRedisClient(rdb *redis.Client) WorkerOption {
	return func(w *Worker) error {
		w.Redis = rdb
		return nil
	}
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) error {
		w.Logger = logger
		return nil
	}
}

func NewWorker(cfg *config.Config, opts ...WorkerOption) (*Worker, error) {
	w := &Worker{Config: cfg}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}

	if w.Logger == nil {
		w.Logger = NewLogger(cfg, "worker")
	}
	if w.Redis == nil {
		w.Redis = providers.NewRedisProvider(cfg)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "flagq-worker",
		Instance:     cfg.QueueInstance,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		SampleRatio:  cfg.TracingSampleRatio,
	}, w.Logger)
	if err != nil {
		return nil, err
	}
	w.TracingShutdown = shutdown

	if w.Checker == nil {
		w.Checker, err = checker.New(cfg.CheckerName, checker.Options(cfg.CheckerOptions))
		if err != nil {
			return nil, err
		}
	}
	if w.Tokens == nil {
		if w.Tokens, err = newTokenIssuer(cfg, w.Logger); err != nil {
			return nil, err
		}
	}
	if w.Tracker == nil {
		host, _ := os.Hostname()
		w.Tracker, err = telemetry.New(telemetry.SentryConfig{
			DSN:         cfg.SentryDSN,
			Environment: cfg.SentryEnvironment,
			ServerName:  host,
			VerifyTLS:   cfg.SentryVerifyTLS,
		})
		if err != nil {
			return nil, err
		}
	}

	timeout := time.Duration(cfg.ReportTimeoutSeconds) * time.Second
	w.HTTPClient = &http.Client{Timeout: timeout}

	w.Harness, err = harness.New(harness.Options{
		Checker:  w.Checker,
		Reporter: harness.NewHTTPReporter(w.HTTPClient, cfg.AuthTokenHeader, w.Tokens),
		Logger:   w.Logger,
		Tracker:  w.Tracker,
	})
	if err != nil {
		return nil, err
	}

	metrics.RegisterRedisCollector(w.Redis, w.Logger)
	w.Repo = repository.NewTaskRepository(w.Redis, loc)
	w.Pool = worker.NewPool(w.Repo, w.Harness, worker.Config{
		Instance:     cfg.QueueInstance,
		Concurrency:  cfg.WorkerConcurrency,
		Commands:     domain.Commands(),
		LeaseSeconds: cfg.LeaseSeconds,
		InspectLimit: cfg.RequeueInspectLimit,
		IdlePolicy:   cfg.IdleBackoffPolicy,
		IdleBase:     time.Duration(cfg.IdleBackoffBaseMs) * time.Millisecond,
		IdleMax:      time.Duration(cfg.IdleBackoffMaxMs) * time.Millisecond,
	}, w.Logger)
	return w, nil
}

// newTokenIssuer falls back to a fixed dev token when no key is configured; Validate
// rejects that outside dev.
func newTokenIssuer(cfg *config.Config, logger *slog.Logger) (token.Issuer, error) {
	if cfg.TokenSigningKey == "" && cfg.TokenPrivateKeyPath == "" {
		logger.Warn("no token signing key configured; reports carry a static dev token")
		return token.Static("dev"), nil
	}
	return token.NewJWTIssuer(token.Config{
		Issuer:         cfg.TokenIssuer,
		Subject:        cfg.CheckerName,
		SigningKey:     cfg.TokenSigningKey,
		PrivateKeyPath: cfg.TokenPrivateKeyPath,
		TTL:            time.Duration(cfg.TokenTTLSeconds) * time.Second,
	})
}

// Run processes jobs until ctx is cancelled, then flushes telemetry and tracing.
func (w *Worker) Run(ctx context.Context) error {
	err := w.Pool.Run(ctx)

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	w.Tracker.Flush(2 * time.Second)
	if w.TracingShutdown != nil {
		_ = w.TracingShutdown(flushCtx)
	}
	return err
}
