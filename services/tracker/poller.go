package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// errPollerStopped ends a poller's ticker loop once its session is gone.
var errPollerStopped = errors.New("session no longer active")

// Sampler produces one local signal per poller tick.
type Sampler interface {
	Sample(ctx context.Context) (Signal, error)
}

// Poller drives a Sampler for one session. Each tick credits the interval just
// elapsed to the sampled app; it never touches focus or distraction time.
type Poller struct {
	sessionID uuid.UUID
	userID    uuid.UUID
	interval  time.Duration
	sampler   Sampler
	store     Store
	logger    zerolog.Logger
	metrics   *Metrics
}

// Tick runs one sampling step. It returns errPollerStopped when the session or
// its user is gone; every other failure is logged and swallowed.
func (p *Poller) Tick(ctx context.Context) error {
	sig, err := p.sampler.Sample(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("window sample failed, skipping tick")
		p.metrics.tick("sampler_error")
		return nil
	}

	s, err := p.store.Session(ctx, p.sessionID, p.userID)
	if err != nil {
		return p.storeFailure(err, "load session")
	}
	if !s.Active() {
		return p.storeFailure(notFoundf("session %s ended", p.sessionID), "load session")
	}
	if _, err := p.store.User(ctx, p.userID); err != nil {
		return p.storeFailure(err, "load user")
	}

	if err := p.store.UpdateLastDetected(ctx, p.sessionID, p.userID, Activity{
		AppName:  sig.AppLabel,
		Activity: sig.Activity,
	}); err != nil {
		return p.storeFailure(err, "update last detected")
	}

	sig.Seconds = int64(p.interval / time.Second)
	d := sig.Delta(p.sessionID, p.userID)
	if err := p.store.ApplyDelta(ctx, d); err != nil {
		return p.storeFailure(err, "apply delta")
	}
	p.metrics.credited(d)
	p.metrics.tick("ok")
	p.logger.Debug().Str("app", d.AppKey).Str("activity", sig.Activity).Int64("seconds", d.Seconds).Msg("tick")
	return nil
}

func (p *Poller) storeFailure(err error, op string) error {
	if IsNotFound(err) {
		p.metrics.tick("stopped")
		p.logger.Info().Str("op", op).Msg("session or user gone, poller stopping")
		return errPollerStopped
	}
	p.metrics.tick("store_error")
	p.logger.Error().Err(err).Str("op", op).Msg("poller tick failed")
	return nil
}
