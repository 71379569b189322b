package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"focusguard/services/tracker"
)

const defaultRateLimit = 300

// Config controls runtime behaviour for the API handlers.
type Config struct {
	AllowedOrigins []string
	// RateLimit is the number of requests per minute allowed from one IP.
	RateLimit int
}

// Deps are the engine components the handlers call into.
type Deps struct {
	Manager *tracker.Manager
	Ingest  *tracker.Ingest
	Reports *tracker.Reports
	// Ready reports backing-store health for /readyz. Nil means always ready.
	Ready    func(ctx context.Context) error
	Gatherer prometheus.Gatherer
	// Middleware wraps the whole router, typically the telemetry middleware.
	Middleware func(http.Handler) http.Handler
	Logger     zerolog.Logger
}

// API is the HTTP boundary over the session tracking engine.
type API struct {
	manager    *tracker.Manager
	ingest     *tracker.Ingest
	reports    *tracker.Reports
	ready      func(ctx context.Context) error
	gatherer   prometheus.Gatherer
	middleware func(http.Handler) http.Handler
	config     Config
	logger     zerolog.Logger
}

// New initialises the API layer with sane defaults applied to the provided configuration.
func New(deps Deps, cfg Config) (*API, error) {
	if deps.Manager == nil {
		return nil, errors.New("session manager is required")
	}
	if deps.Ingest == nil {
		return nil, errors.New("ingest gateway is required")
	}
	if deps.Reports == nil {
		return nil, errors.New("reports are required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	return &API{
		manager:    deps.Manager,
		ingest:     deps.Ingest,
		reports:    deps.Reports,
		ready:      deps.Ready,
		gatherer:   deps.Gatherer,
		middleware: deps.Middleware,
		config:     cfg,
		logger:     deps.Logger.With().Str("component", "api").Logger(),
	}, nil
}

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(httprate.LimitByIP(a.config.RateLimit, time.Minute))
		r.Use(requireUser)

		r.Post("/start", a.handleStart)
		r.Get("/current", a.handleCurrent)
		r.Get("/history", a.handleHistory)
		r.Get("/stats", a.handleStats)
		r.Get("/daily", a.handleDaily)
		r.Get("/daily/apps", a.handleDailyApps)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.handleGet)
			r.Post("/stop", a.handleStop)
			r.Post("/resume", a.handleResume)
			r.Post("/focus", a.handleFocus)
			r.Get("/latest-activity", a.handleLatestActivity)
			r.Post("/analysis", a.handleAnalysis)
		})
	})

	if a.middleware != nil {
		return a.middleware(r), nil
	}
	return r, nil
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		if err := a.ready(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("readiness check failed")
			respondMessage(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
