package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"focusguard/pkg/bus"
	"focusguard/pkg/db"
	gos3 "focusguard/pkg/s3"
	"focusguard/pkg/telemetry"
	"focusguard/services/api"
	"focusguard/services/api/internal/config"
	"focusguard/services/tracker"
	"focusguard/services/tracker/vision"
)

const serviceName = "focus-api"

func main() {
	if err := run(); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint, cfg.LogLevel)
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

	clock := quartz.NewReal()

	store, ready, closeStore, err := openStore(ctx, cfg, logger, clock)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := tracker.NewMetrics(reg)

	var events tracker.EventPublisher
	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL, nats.Name(serviceName), nats.MaxReconnects(-1))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer b.Close()
		if err := b.EnsureStream(bus.SessionsStream, []string{bus.SessionsSubjects}, 30*24*time.Hour); err != nil {
			return fmt.Errorf("ensure sessions stream: %w", err)
		}
		events = b
	} else {
		logger.Info().Msg("NATS_URL not set; lifecycle events are not published")
	}

	pollers, err := newSupervisor(ctx, cfg, store, clock, logger, metrics)
	if err != nil {
		return err
	}

	manager, err := tracker.NewManager(tracker.ManagerConfig{
		Store:   store,
		Pollers: pollers,
		Events:  events,
		Clock:   clock,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("init session manager: %w", err)
	}
	if _, err := manager.MarkStaleOnStartup(ctx); err != nil {
		return fmt.Errorf("mark stale sessions: %w", err)
	}

	ingestCfg := tracker.IngestConfig{
		Store:             store,
		Clock:             clock,
		FocusPushMax:      cfg.FocusPushMax,
		VisionMinInterval: cfg.VisionMinInterval,
		VisionTimeout:     cfg.VisionTimeout,
		Logger:            logger,
		Metrics:           metrics,
	}
	if cfg.VisionEnabled() {
		classifier, err := vision.New(vision.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("init vision classifier: %w", err)
		}
		ingestCfg.Classifier = classifier
	}
	if cfg.ArchiveEnabled() {
		s3Client, err := gos3.NewClient(ctx, cfg.S3)
		if err != nil {
			return fmt.Errorf("init s3 client: %w", err)
		}
		archive, err := tracker.NewS3FrameArchive(s3Client, cfg.FrameArchiveBucket, cfg.FrameArchiveRecipient)
		if err != nil {
			return fmt.Errorf("init frame archive: %w", err)
		}
		ingestCfg.Archiver = archive
	}
	ingest, err := tracker.NewIngest(ingestCfg)
	if err != nil {
		return fmt.Errorf("init ingest: %w", err)
	}

	handlers, err := api.New(api.Deps{
		Manager:    manager,
		Ingest:     ingest,
		Reports:    tracker.NewReports(store, clock),
		Ready:      ready,
		Gatherer:   reg,
		Middleware: middleware,
		Logger:     logger,
	}, api.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.HTTPRateLimit,
	})
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}
	router, err := handlers.Routes()
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Str("store", cfg.StoreDriver).Bool("vision", ingest.VisionEnabled()).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server shutdown")
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("stop pollers")
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger, clock quartz.Clock) (tracker.Store, func(context.Context) error, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverBadger:
		s, err := tracker.OpenBadger(tracker.BadgerConfig{
			Path:     cfg.BadgerPath,
			InMemory: cfg.BadgerInMemory,
			Logger:   logger,
			Clock:    clock,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return s, nil, func() {
			if err := s.Close(); err != nil {
				logger.Error().Err(err).Msg("close badger")
			}
		}, nil
	default:
		pool, err := db.Open(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect database: %w", err)
		}
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrate database: %w", err)
		}
		if len(applied) > 0 {
			logger.Info().Ints64("versions", applied).Msg("applied migrations")
		}
		ready := func(ctx context.Context) error { return db.Ping(ctx, pool) }
		return tracker.NewPostgresStore(pool), ready, pool.Close, nil
	}
}

// newSupervisor returns nil when local window sampling is disabled or the
// platform has no foreground-window inspector.
func newSupervisor(ctx context.Context, cfg config.Config, store tracker.Store, clock quartz.Clock, logger zerolog.Logger, metrics *tracker.Metrics) (*tracker.Supervisor, error) {
	if !cfg.SamplerEnabled {
		logger.Info().Msg("local window sampler disabled")
		return nil, nil
	}

	inspector := tracker.NewOSInspector()
	if _, err := inspector.ActiveWindow(ctx); errors.Is(err, tracker.ErrInspectorUnsupported) {
		logger.Warn().Msg("foreground window inspection is not supported on this platform; sessions run without a poller")
		return nil, nil
	}

	rules := tracker.DefaultActivityRules()
	if cfg.ActivityRulesFile != "" {
		loaded, err := tracker.LoadActivityRules(cfg.ActivityRulesFile)
		if err != nil {
			return nil, fmt.Errorf("load activity rules: %w", err)
		}
		rules = loaded
	}

	s, err := tracker.NewSupervisor(tracker.SupervisorConfig{
		Clock:    clock,
		Interval: cfg.PollInterval,
		Sampler:  tracker.NewWindowSampler(inspector, rules),
		Store:    store,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("init poller supervisor: %w", err)
	}
	return s, nil
}
