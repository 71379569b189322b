package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	gos3 "focusguard/pkg/s3"
)

const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config holds runtime configuration for the focus API service.
type Config struct {
	Addr           string   `env:"ADDR,default=:8080"`
	LogLevel       string   `env:"LOG_LEVEL,default=info"`
	OTLPEndpoint   string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:3000"`
	HTTPRateLimit  int      `env:"HTTP_RATE_LIMIT,default=300"`

	StoreDriver    string `env:"STORE_DRIVER,default=postgres"`
	DBDSN          string `env:"DB_DSN"`
	BadgerPath     string `env:"BADGER_PATH,default=./data/focusguard"`
	BadgerInMemory bool   `env:"BADGER_IN_MEMORY,default=false"`
	NATSURL        string `env:"NATS_URL"`

	PollInterval      time.Duration `env:"POLL_INTERVAL,default=5s"`
	SamplerEnabled    bool          `env:"SAMPLER_ENABLED,default=true"`
	ActivityRulesFile string        `env:"ACTIVITY_RULES_FILE"`
	FocusPushMax      time.Duration `env:"FOCUS_PUSH_MAX,default=60s"`

	VisionMinInterval time.Duration `env:"VISION_MIN_INTERVAL,default=120s"`
	VisionTimeout     time.Duration `env:"VISION_TIMEOUT,default=30s"`
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	OpenAIModel       string        `env:"OPENAI_MODEL,default=gpt-4o-mini"`

	FrameArchiveBucket    string `env:"FRAME_ARCHIVE_BUCKET"`
	FrameArchiveRecipient string `env:"FRAME_ARCHIVE_RECIPIENT"`
	S3                    gos3.Config
}

// VisionEnabled reports whether a remote classifier should be constructed.
func (c Config) VisionEnabled() bool { return strings.TrimSpace(c.OpenAIAPIKey) != "" }

// ArchiveEnabled reports whether analyzed frames should be uploaded.
func (c Config) ArchiveEnabled() bool { return strings.TrimSpace(c.FrameArchiveBucket) != "" }

// Load reads an optional .env file and then the process environment.
func Load(ctx context.Context) (Config, error) {
	_ = godotenv.Load()
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom populates a Config from l and validates it.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverPostgres:
		if strings.TrimSpace(c.DBDSN) == "" {
			errs = append(errs, errors.New("DB_DSN is required for the postgres store"))
		}
	case DriverBadger:
		if !c.BadgerInMemory && strings.TrimSpace(c.BadgerPath) == "" {
			errs = append(errs, errors.New("BADGER_PATH is required unless BADGER_IN_MEMORY is set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be at least 1s, got %s", c.PollInterval))
	}
	if c.VisionMinInterval < time.Second {
		errs = append(errs, fmt.Errorf("VISION_MIN_INTERVAL must be at least 1s, got %s", c.VisionMinInterval))
	}
	if c.VisionTimeout <= 0 {
		errs = append(errs, errors.New("VISION_TIMEOUT must be positive"))
	}
	if c.FocusPushMax <= 0 {
		errs = append(errs, errors.New("FOCUS_PUSH_MAX must be positive"))
	}
	if c.HTTPRateLimit <= 0 {
		errs = append(errs, errors.New("HTTP_RATE_LIMIT must be positive"))
	}
	if c.ArchiveEnabled() && strings.TrimSpace(c.FrameArchiveRecipient) == "" {
		errs = append(errs, errors.New("FRAME_ARCHIVE_RECIPIENT is required with FRAME_ARCHIVE_BUCKET"))
	}

	return errors.Join(errs...)
}
