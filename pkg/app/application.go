package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/osvaldoandrade/flagq/internal/metrics"
	"github.com/osvaldoandrade/flagq/internal/middleware"
	"github.com/osvaldoandrade/flagq/internal/providers"
	"github.com/osvaldoandrade/flagq/internal/ratelimit"
	"github.com/osvaldoandrade/flagq/internal/repository"
	"github.com/osvaldoandrade/flagq/internal/services"
	"github.com/osvaldoandrade/flagq/internal/tracing"
	"github.com/osvaldoandrade/flagq/pkg/auth"
	"github.com/osvaldoandrade/flagq/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// Application is the producer-facing HTTP service.
type Application struct {
	Config            *config.Config
	Engine            *gin.Engine
	Redis             *redis.Client
	Repo              repository.TaskRepository
	Jobs              services.JobService
	Cleanup           services.CleanupService
	Logger            *slog.Logger
	TZ                *time.Location
	ProducerValidator auth.Validator
	RateLimiter       ratelimit.Limiter
	TracingShutdown   func(context.Context) error
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithProducerValidator sets a custom producer validator
func WithProducerValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.ProducerValidator = validator
		return nil
	}
}

// WithRedisClient reuses an existing client instead of dialing from config.
func WithRedisClient(rdb *redis.Client) ApplicationOption {
	return func(app *Application) error {
		app.Redis = rdb
		return nil
	}
}

func WithLogger(logger *slog.Logger) ApplicationOption {
	return func(app *Application) error {
		app.Logger = logger
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.Logger == nil {
		app.Logger = NewLogger(cfg, "server")
	}
	if app.Redis == nil {
		app.Redis = providers.NewRedisProvider(cfg)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	app.TZ = loc

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "flagq",
		Instance:     cfg.QueueInstance,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		SampleRatio:  cfg.TracingSampleRatio,
	}, app.Logger)
	if err != nil {
		return nil, err
	}
	app.TracingShutdown = shutdown

	if app.ProducerValidator == nil {
		v, err := middleware.NewProducerValidator(cfg)
		if err != nil {
			return nil, err
		}
		if v == nil {
			app.Logger.Warn("producer auth disabled: no producer token configured in dev")
		}
		app.ProducerValidator = v
	}

	metrics.RegisterRedisCollector(app.Redis, app.Logger)

	app.RateLimiter = ratelimit.NewTokenBucketLimiter(app.Redis)
	app.Repo = repository.NewTaskRepository(app.Redis, loc)
	app.Jobs = services.NewJobService(app.Repo, time.Now)
	app.Cleanup = services.NewCleanupService(app.Jobs, app.Logger, time.Minute)

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware("flagq"),
		middleware.LoggerMiddleware(app.Logger),
	)
	app.Engine = engine
	return app, nil
}

// Start runs background maintenance until ctx is done.
func (app *Application) Start(ctx context.Context) {
	go app.Cleanup.Start(ctx)
}
