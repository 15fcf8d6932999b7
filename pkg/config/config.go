package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port          int    `yaml:"port" env:"PORT"`
	RedisHost     string `yaml:"redisHost" env:"REDIS_HOST"`
	RedisPort     int    `yaml:"redisPort" env:"REDIS_PORT"`
	RedisDB       int    `yaml:"redisDb" env:"REDIS_DB"`
	RedisPassword string `yaml:"redisPassword" env:"REDIS_PASSWORD"`
	QueueInstance string `yaml:"queueInstance" env:"QUEUE_INSTANCE"`
	Timezone      string `yaml:"timezone" env:"TZ_NAME"`
	LogLevel      string `yaml:"logLevel" env:"LOG_LEVEL"`
	LogFormat     string `yaml:"logFormat" env:"LOG_FORMAT"`
	Env           string `yaml:"env" env:"APP_ENV"`

	LeaseSeconds        int    `yaml:"leaseSeconds" env:"LEASE_SECONDS"`
	RequeueInspectLimit int    `yaml:"requeueInspectLimit" env:"REQUEUE_INSPECT_LIMIT"`
	WorkerConcurrency   int    `yaml:"workerConcurrency" env:"WORKER_CONCURRENCY"`
	IdleBackoffPolicy   string `yaml:"idleBackoffPolicy" env:"IDLE_BACKOFF_POLICY"`
	IdleBackoffBaseMs   int    `yaml:"idleBackoffBaseMs" env:"IDLE_BACKOFF_BASE_MS"`
	IdleBackoffMaxMs    int    `yaml:"idleBackoffMaxMs" env:"IDLE_BACKOFF_MAX_MS"`

	// AuthTokenHeader names the header that carries the checker token on outcome reports.
	AuthTokenHeader      string            `yaml:"authTokenHeader" env:"AUTH_TOKEN_HEADER"`
	TokenIssuer          string            `yaml:"tokenIssuer" env:"TOKEN_ISSUER"`
	TokenSigningKey      string            `yaml:"tokenSigningKey" env:"TOKEN_SIGNING_KEY"`
	TokenPrivateKeyPath  string            `yaml:"tokenPrivateKeyPath" env:"TOKEN_PRIVATE_KEY_PATH"`
	TokenTTLSeconds      int               `yaml:"tokenTtlSeconds" env:"TOKEN_TTL_SECONDS"`
	ReportTimeoutSeconds int               `yaml:"reportTimeoutSeconds" env:"REPORT_TIMEOUT_SECONDS"`
	CheckerName          string            `yaml:"checkerName" env:"CHECKER_NAME"`
	CheckerOptions       map[string]string `yaml:"checkerOptions" env:"CHECKER_OPTIONS"`

	SentryDSN         string `yaml:"sentryDsn" env:"SENTRY_DSN"`
	SentryEnvironment string `yaml:"sentryEnvironment" env:"SENTRY_ENVIRONMENT"`
	SentryVerifyTLS   bool   `yaml:"sentryVerifyTls" env:"SENTRY_VERIFY_TLS"`

	ProducerAuthProvider string `yaml:"producerAuthProvider" env:"PRODUCER_AUTH_PROVIDER"`
	ProducerToken        string `yaml:"producerToken" env:"PRODUCER_TOKEN"`
	// ProducerAuthConfig is raw provider JSON; when set it replaces ProducerToken.
	ProducerAuthConfig     string `yaml:"producerAuthConfig" env:"PRODUCER_AUTH_CONFIG"`
	ProducerRateLimitRPM   int    `yaml:"producerRateLimitRpm" env:"PRODUCER_RATE_LIMIT_RPM"`
	ProducerRateLimitBurst int    `yaml:"producerRateLimitBurst" env:"PRODUCER_RATE_LIMIT_BURST"`

	TracingEnabled     bool    `yaml:"tracingEnabled" env:"TRACING_ENABLED"`
	OTLPEndpoint       string  `yaml:"otlpEndpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure       bool    `yaml:"otlpInsecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
	TracingSampleRatio float64 `yaml:"tracingSampleRatio" env:"TRACING_SAMPLE_RATIO"`
}

// RedisAddr joins host and port.
func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return finish(&c)
}

// LoadConfigOptional behaves like LoadConfig but tolerates an empty or missing path,
// falling back to environment variables and defaults.
func LoadConfigOptional(filePath string) (*Config, error) {
	if strings.TrimSpace(filePath) == "" {
		return finish(&Config{})
	}
	c, err := LoadConfig(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return finish(&Config{})
	}
	return c, err
}

func finish(c *Config) (*Config, error) {
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	c.applyDefaults()
	log.Printf("Flagq Config: {Port:%d Redis:%s/%d Instance:%s Checker:%s Lease:%ds Workers:%d}\n",
		c.Port, c.RedisAddr(), c.RedisDB, c.QueueInstance, c.CheckerName, c.LeaseSeconds, c.WorkerConcurrency)
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.RedisHost == "" {
		c.RedisHost = "localhost"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.QueueInstance == "" {
		c.QueueInstance = "0"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.LeaseSeconds <= 0 {
		c.LeaseSeconds = 300
	}
	if c.RequeueInspectLimit <= 0 {
		c.RequeueInspectLimit = 200
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 2
	}
	if c.IdleBackoffPolicy == "" {
		c.IdleBackoffPolicy = "exp_full_jitter"
	}
	if c.IdleBackoffBaseMs <= 0 {
		c.IdleBackoffBaseMs = 200
	}
	if c.IdleBackoffMaxMs <= 0 {
		c.IdleBackoffMaxMs = 5000
	}
	if c.AuthTokenHeader == "" {
		c.AuthTokenHeader = "X-Checker-Token"
	}
	if c.TokenIssuer == "" {
		c.TokenIssuer = "flagq"
	}
	if c.TokenTTLSeconds <= 0 {
		c.TokenTTLSeconds = 60
	}
	if c.CheckerName == "" {
		c.CheckerName = "sample"
	}
	if c.SentryEnvironment == "" {
		c.SentryEnvironment = c.Env
	}
	if c.ProducerAuthProvider == "" {
		c.ProducerAuthProvider = "static"
	}
	if c.ProducerRateLimitRPM <= 0 {
		c.ProducerRateLimitRPM = 6000
	}
	if c.ProducerRateLimitBurst <= 0 {
		c.ProducerRateLimitBurst = 200
	}
	if c.TracingSampleRatio <= 0 {
		c.TracingSampleRatio = 1
	}
}

func (c *Config) Validate() error {
	var errs []string
	dev := strings.EqualFold(strings.TrimSpace(c.Env), "dev")

	if strings.TrimSpace(c.AuthTokenHeader) == "" {
		errs = append(errs, "authTokenHeader is required")
	}
	if c.TokenSigningKey == "" && c.TokenPrivateKeyPath == "" && !dev {
		errs = append(errs, "tokenSigningKey or tokenPrivateKeyPath is required in non-dev")
	}
	if c.ProducerToken == "" && strings.TrimSpace(c.ProducerAuthConfig) == "" && !dev {
		errs = append(errs, "producerToken or producerAuthConfig is required in non-dev")
	}
	if c.RedisDB < 0 {
		errs = append(errs, "redisDb must be >= 0")
	}
	if c.ReportTimeoutSeconds < 0 {
		errs = append(errs, "reportTimeoutSeconds must be >= 0")
	}
	if c.TracingSampleRatio > 1 {
		errs = append(errs, "tracingSampleRatio must be in (0,1]")
	}
	if c.TracingEnabled && strings.TrimSpace(c.OTLPEndpoint) == "" {
		errs = append(errs, "otlpEndpoint is required when tracing is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
