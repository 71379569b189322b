package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/sethvargo/go-envconfig"

	"focusguard/pkg/bus"
	"focusguard/pkg/db"
	"focusguard/pkg/telemetry"
	"focusguard/services/audit"
)

const serviceName = "focus-audit"

type config struct {
	DBDSN        string `env:"DB_DSN,required"`
	NATSURL      string `env:"NATS_URL,default=nats://127.0.0.1:4222"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`
}

func main() {
	if err := run(); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, _, logger, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
		}
	}()

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	orm, err := db.OpenORM(ctx, pool)
	if err != nil {
		return fmt.Errorf("open orm: %w", err)
	}
	defer func() {
		if err := db.CloseORM(orm); err != nil {
			logger.Error().Err(err).Msg("close orm")
		}
	}()

	b, err := bus.New(cfg.NATSURL, nats.Name(serviceName), nats.MaxReconnects(-1))
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer b.Close()

	if err := b.EnsureStream(bus.SessionsStream, []string{bus.SessionsSubjects}, 30*24*time.Hour); err != nil {
		return fmt.Errorf("ensure sessions stream: %w", err)
	}

	recorder, err := audit.NewRecorder(orm, b, logger)
	if err != nil {
		return err
	}
	if err := recorder.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			logger.Error().Err(err).Msg("close subscriptions")
		}
	}()

	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("audit recorder stopped")
	return nil
}
