package tracker

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultFocusPushMax caps the duration a single gaze push may credit.
const DefaultFocusPushMax = 60 * time.Second

// ErrVisionDisabled is returned by AnalyzeFrame when no remote classifier is configured.
var ErrVisionDisabled = errors.New("remote vision classifier is not configured")

// FocusReport is one push from the client-side gaze classifier.
type FocusReport struct {
	Focused  bool
	Reason   string
	Duration float64
}

// Frame is a captured image submitted for remote classification.
type Frame struct {
	Data     []byte
	MIMEType string
}

// VisionResult is the remote classifier's judgment of one frame.
type VisionResult struct {
	Focused       bool   `json:"focused"`
	AppLabel      string `json:"appLabel"`
	ActivityLabel string `json:"activityLabel"`
}

// Classifier is the remote vision model. Implementations return *UpstreamError
// for transport failures and ErrValidation for malformed responses.
type Classifier interface {
	Classify(ctx context.Context, f Frame) (VisionResult, error)
}

// FrameArchiver stores analyzed frames. Failures never fail the ingest.
type FrameArchiver interface {
	Archive(ctx context.Context, sessionID uuid.UUID, at time.Time, f Frame) error
}

// Analysis is the outcome of an accepted vision call.
type Analysis struct {
	Focused  bool   `json:"focused"`
	AppName  string `json:"appName"`
	AppKey   string `json:"appKey"`
	Activity string `json:"activity"`
	Credited int64  `json:"credited"`
}

// Ingest is the boundary that accepts gaze pushes and vision frames and routes
// them through the gate and the accumulator.
type Ingest struct {
	store         Store
	gate          *Gate
	classifier    Classifier
	archiver      FrameArchiver
	clock         quartz.Clock
	pushMax       time.Duration
	visionTimeout time.Duration
	logger        zerolog.Logger
	metrics       *Metrics
	tracer        trace.Tracer
}

// IngestConfig bundles the Ingest dependencies. Classifier and Archiver are optional.
type IngestConfig struct {
	Store             Store
	Classifier        Classifier
	Archiver          FrameArchiver
	Clock             quartz.Clock
	FocusPushMax      time.Duration
	VisionMinInterval time.Duration
	VisionTimeout     time.Duration
	Logger            zerolog.Logger
	Metrics           *Metrics
}

func NewIngest(cfg IngestConfig) (*Ingest, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.FocusPushMax <= 0 {
		cfg.FocusPushMax = DefaultFocusPushMax
	}
	if cfg.VisionMinInterval < time.Second {
		return nil, errors.New("vision min interval must be at least one second")
	}
	if cfg.VisionTimeout <= 0 {
		cfg.VisionTimeout = 30 * time.Second
	}
	return &Ingest{
		store:         cfg.Store,
		gate:          NewGate(cfg.Store, cfg.Clock, cfg.VisionMinInterval),
		classifier:    cfg.Classifier,
		archiver:      cfg.Archiver,
		clock:         cfg.Clock,
		pushMax:       cfg.FocusPushMax,
		visionTimeout: cfg.VisionTimeout,
		logger:        cfg.Logger.With().Str("component", "ingest").Logger(),
		metrics:       cfg.Metrics,
		tracer:        otel.Tracer("focusguard/tracker"),
	}, nil
}

// VisionEnabled reports whether AnalyzeFrame can reach a classifier.
func (in *Ingest) VisionEnabled() bool { return in.classifier != nil }

// FocusPush credits a gaze report to the session's focus or distraction time.
// The duration is capped and rounded to whole seconds.
func (in *Ingest) FocusPush(ctx context.Context, sessionID, userID uuid.UUID, r FocusReport) (err error) {
	defer func() { in.metrics.ingested(SourceGaze, resultLabel(err)) }()

	if math.IsNaN(r.Duration) || math.IsInf(r.Duration, 0) || r.Duration < 0 {
		return validationf("invalid focus duration %v", r.Duration)
	}
	capped := math.Min(r.Duration, in.pushMax.Seconds())

	sig := Signal{
		Source:  SourceGaze,
		Focused: boolPtr(r.Focused),
		Seconds: int64(math.Round(capped)),
	}
	d := sig.Delta(sessionID, userID)
	if err := in.store.ApplyDelta(ctx, d); err != nil {
		return persistErr("apply focus push", err)
	}
	in.metrics.credited(d)
	in.logger.Debug().
		Str("session_id", sessionID.String()).
		Bool("focused", r.Focused).
		Str("reason", r.Reason).
		Int64("seconds", d.Seconds).
		Msg("focus push applied")
	return nil
}

// LatestActivity returns the freshness cache of an active session.
func (in *Ingest) LatestActivity(ctx context.Context, sessionID, userID uuid.UUID) (Activity, error) {
	s, err := in.store.Session(ctx, sessionID, userID)
	if err != nil {
		return Activity{}, err
	}
	if !s.Active() {
		return Activity{}, notFoundf("active session %s", sessionID)
	}
	a := Activity{AppName: s.LastDetectedApp, Activity: s.LastDetectedActivity}
	if a.AppName == "" {
		a.AppName = trackingPlaceholder
	}
	if a.Activity == "" {
		a.Activity = trackingPlaceholder
	}
	return a, nil
}

// AnalyzeFrame runs a frame through the gate and the remote classifier and credits
// one gate interval to the judged bucket and app. Rejected or failed calls change nothing.
func (in *Ingest) AnalyzeFrame(ctx context.Context, sessionID, userID uuid.UUID, f Frame) (_ Analysis, err error) {
	defer func() { in.metrics.ingested(SourceVision, resultLabel(err)) }()

	if in.classifier == nil {
		return Analysis{}, ErrVisionDisabled
	}
	if len(f.Data) == 0 {
		return Analysis{}, validationf("image is required")
	}
	if err := in.gate.Check(ctx, sessionID, userID); err != nil {
		return Analysis{}, err
	}

	res, err := in.classify(ctx, sessionID, f)
	if err != nil {
		return Analysis{}, err
	}

	seconds := int64(in.gate.MinInterval() / time.Second)
	sig := Signal{
		Source:   SourceVision,
		Focused:  boolPtr(res.Focused),
		AppLabel: res.AppLabel,
		Activity: res.ActivityLabel,
		Seconds:  seconds,
	}
	if sig.AppLabel == "" {
		sig.AppLabel = UnknownApp
	}
	d := sig.Delta(sessionID, userID)
	commit := in.gate.Commit()
	if err := in.store.ApplyGated(ctx, d, commit); err != nil {
		return Analysis{}, persistErr("apply vision delta", err)
	}
	in.metrics.credited(d)

	if err := in.store.UpdateLastDetected(ctx, sessionID, userID, Activity{
		AppName:  sig.AppLabel,
		Activity: sig.Activity,
	}); err != nil {
		in.logger.Warn().Err(err).Str("session_id", sessionID.String()).Msg("update last detected after analysis")
	}

	if in.archiver != nil {
		if err := in.archiver.Archive(ctx, sessionID, commit.Now, f); err != nil {
			in.logger.Warn().Err(err).Str("session_id", sessionID.String()).Msg("archive frame")
		}
	}

	return Analysis{
		Focused:  res.Focused,
		AppName:  sig.AppLabel,
		AppKey:   d.AppKey,
		Activity: sig.Activity,
		Credited: seconds,
	}, nil
}

func (in *Ingest) classify(ctx context.Context, sessionID uuid.UUID, f Frame) (VisionResult, error) {
	ctx, span := in.tracer.Start(ctx, "vision.classify", trace.WithAttributes(
		attribute.String("session.id", sessionID.String()),
		attribute.Int("image.bytes", len(f.Data)),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, in.visionTimeout)
	defer cancel()

	started := in.clock.Now()
	res, err := in.classifier.Classify(callCtx, f)
	in.metrics.visionCall(in.clock.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// A reply that could not be parsed is still the classifier's fault,
		// not the caller's.
		var ue *UpstreamError
		if errors.As(err, &ue) {
			return VisionResult{}, err
		}
		return VisionResult{}, &UpstreamError{Err: err}
	}
	span.SetAttributes(attribute.Bool("vision.focused", res.Focused))
	return res, nil
}
