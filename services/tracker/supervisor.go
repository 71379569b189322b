package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PollerTag labels the poller ticker for mock clock traps.
const PollerTag = "session-poller"

// ErrSupervisorClosed is returned by Register after Shutdown.
var ErrSupervisorClosed = errors.New("poller supervisor is shut down")

type pollerHandle struct {
	poller *Poller
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the per-session pollers of one process. It is not persisted:
// after a restart it starts empty.
type Supervisor struct {
	clock    quartz.Clock
	interval time.Duration
	sampler  Sampler
	store    Store
	logger   zerolog.Logger
	metrics  *Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pollers map[uuid.UUID]*pollerHandle
	closed  bool
}

// SupervisorConfig bundles the Supervisor's dependencies.
type SupervisorConfig struct {
	Clock    quartz.Clock
	Interval time.Duration
	Sampler  Sampler
	Store    Store
	Logger   zerolog.Logger
	Metrics  *Metrics
}

func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Sampler == nil {
		return nil, errors.New("sampler is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Interval < time.Second {
		return nil, errors.New("poll interval must be at least one second")
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		clock:    cfg.Clock,
		interval: cfg.Interval,
		sampler:  cfg.Sampler,
		store:    cfg.Store,
		logger:   cfg.Logger.With().Str("component", "supervisor").Logger(),
		metrics:  cfg.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		pollers:  make(map[uuid.UUID]*pollerHandle),
	}, nil
}

// Register starts a poller for the session. Registering an id that already has
// a poller is a no-op and reports false.
func (s *Supervisor) Register(sessionID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrSupervisorClosed
	}
	if _, ok := s.pollers[sessionID]; ok {
		return false, nil
	}

	ctx, cancel := context.WithCancel(s.ctx)
	h := &pollerHandle{
		poller: &Poller{
			sessionID: sessionID,
			userID:    userID,
			interval:  s.interval,
			sampler:   s.sampler,
			store:     s.store,
			logger:    s.logger.With().Str("session_id", sessionID.String()).Logger(),
			metrics:   s.metrics,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.pollers[sessionID] = h
	s.metrics.pollers(len(s.pollers))

	w := s.clock.TickerFunc(ctx, s.interval, func() error {
		return h.poller.Tick(ctx)
	}, PollerTag)

	go func() {
		defer close(h.done)
		err := w.Wait()
		if errors.Is(err, errPollerStopped) {
			s.remove(sessionID, h)
		}
	}()

	s.logger.Info().Str("session_id", sessionID.String()).Msg("poller registered")
	return true, nil
}

// Deregister cancels the session's poller and waits for an in-flight tick to
// finish, bounded by ctx. It reports whether a poller was registered.
func (s *Supervisor) Deregister(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	s.mu.Lock()
	h, ok := s.pollers[sessionID]
	if ok {
		delete(s.pollers, sessionID)
		s.metrics.pollers(len(s.pollers))
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
		return true, ctx.Err()
	}
	s.logger.Info().Str("session_id", sessionID.String()).Msg("poller deregistered")
	return true, nil
}

// Active returns the ids of sessions with a running poller.
func (s *Supervisor) Active() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(s.pollers))
	for id := range s.pollers {
		ids = append(ids, id)
	}
	return ids
}

// Has reports whether the session has a running poller.
func (s *Supervisor) Has(sessionID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pollers[sessionID]
	return ok
}

func (s *Supervisor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pollers)
}

// Shutdown cancels every poller and waits for them to exit, bounded by ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	handles := make([]*pollerHandle, 0, len(s.pollers))
	for _, h := range s.pollers {
		handles = append(handles, h)
	}
	s.pollers = make(map[uuid.UUID]*pollerHandle)
	s.metrics.pollers(0)
	s.mu.Unlock()

	s.cancel()
	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.logger.Info().Int("pollers", len(handles)).Msg("supervisor shut down")
	return nil
}

// remove drops the entry for sessionID only if it still belongs to h.
func (s *Supervisor) remove(sessionID uuid.UUID, h *pollerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pollers[sessionID]; ok && cur == h {
		delete(s.pollers, sessionID)
		s.metrics.pollers(len(s.pollers))
		s.logger.Info().Str("session_id", sessionID.String()).Msg("poller removed itself")
	}
}
