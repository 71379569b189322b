package gaze

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

const (
	DefaultHeartbeat   = 10 * time.Second
	DefaultMaxDuration = 60 * time.Second
)

// Push is the payload sent to the focus endpoint.
type Push struct {
	IsFocused bool    `json:"isFocused"`
	Reason    string  `json:"reason"`
	Duration  float64 `json:"duration"`
}

// Pusher delivers a push for the session it is bound to.
type Pusher interface {
	Push(ctx context.Context, p Push) error
}

// ReporterConfig configures a Reporter. OnStatus is optional.
type ReporterConfig struct {
	Pusher      Pusher
	OnStatus    func(Status)
	Clock       quartz.Clock
	Heartbeat   time.Duration
	MaxDuration time.Duration
	Logger      zerolog.Logger
}

// Reporter fans frame statuses out to two channels: an edge-triggered UI
// callback, and backend pushes sent on a focus flip or after the heartbeat.
type Reporter struct {
	pusher      Pusher
	onStatus    func(Status)
	clock       quartz.Clock
	heartbeat   time.Duration
	maxDuration time.Duration
	logger      zerolog.Logger

	mu         sync.Mutex
	lastStatus *Status
	lastSent   *bool
	lastPushAt time.Time

	inflight sync.WaitGroup
}

func NewReporter(cfg ReporterConfig) (*Reporter, error) {
	if cfg.Pusher == nil {
		return nil, errors.New("pusher is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	return &Reporter{
		pusher:      cfg.Pusher,
		onStatus:    cfg.OnStatus,
		clock:       cfg.Clock,
		heartbeat:   cfg.Heartbeat,
		maxDuration: cfg.MaxDuration,
		logger:      cfg.Logger.With().Str("component", "gaze-reporter").Logger(),
	}, nil
}

// Report handles the status of one frame. Pushes run in the background and a
// failed push is only logged.
func (r *Reporter) Report(ctx context.Context, st Status) {
	r.mu.Lock()
	notify := r.lastStatus == nil || *r.lastStatus != st
	if notify {
		cp := st
		r.lastStatus = &cp
	}

	now := r.clock.Now()
	var since time.Duration
	if !r.lastPushAt.IsZero() {
		since = now.Sub(r.lastPushAt)
	}
	flipped := r.lastSent == nil || *r.lastSent != st.Focused
	var push *Push
	if flipped || since > r.heartbeat {
		if since > r.maxDuration {
			since = r.maxDuration
		}
		push = &Push{IsFocused: st.Focused, Reason: st.Reason, Duration: since.Seconds()}
		focused := st.Focused
		r.lastSent = &focused
		r.lastPushAt = now
	}
	r.mu.Unlock()

	if notify && r.onStatus != nil {
		r.onStatus(st)
	}
	if push == nil {
		return
	}

	r.inflight.Add(1)
	go func(p Push) {
		defer r.inflight.Done()
		if err := r.pusher.Push(ctx, p); err != nil {
			r.logger.Warn().Err(err).Bool("focused", p.IsFocused).Msg("focus push failed")
		}
	}(*push)
}

// Wait blocks until every in-flight push has returned.
func (r *Reporter) Wait() {
	r.inflight.Wait()
}
