package tracker

import (
	"context"
	"math"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
)

// Gate is the persisted minimum-interval limiter guarding remote vision calls.
// Its only state is the session's lastApiCallAt, so it survives restarts.
type Gate struct {
	store       Store
	clock       quartz.Clock
	minInterval time.Duration
}

func NewGate(store Store, clock quartz.Clock, minInterval time.Duration) *Gate {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Gate{store: store, clock: clock, minInterval: minInterval}
}

// MinInterval is the time a session must wait between accepted calls.
func (g *Gate) MinInterval() time.Duration { return g.minInterval }

// Check rejects the call with a *RateLimitedError when the session's last accepted
// call is younger than the interval. It never mutates state.
func (g *Gate) Check(ctx context.Context, sessionID, userID uuid.UUID) error {
	last, err := g.store.LastAPICall(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if rl := rateLimit(last, g.clock.Now(), g.minInterval); rl != nil {
		return rl
	}
	return nil
}

// Commit returns the gate write that accompanies an accepted delta.
func (g *Gate) Commit() GateWrite {
	return GateWrite{Now: g.clock.Now(), MinInterval: g.minInterval}
}

// rateLimit returns nil when the gate is open at now.
func rateLimit(last *time.Time, now time.Time, minInterval time.Duration) *RateLimitedError {
	if last == nil {
		return nil
	}
	elapsed := now.Sub(*last)
	if elapsed >= minInterval {
		return nil
	}
	remaining := minInterval - elapsed
	return &RateLimitedError{
		SecondsRemaining: int64(math.Round(remaining.Seconds())),
		RetryAfter:       last.Add(minInterval),
	}
}
