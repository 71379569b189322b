package tracker

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	SessionStartedSubject = "focusguard.sessions.started"
	SessionStoppedSubject = "focusguard.sessions.stopped"
	SessionResumedSubject = "focusguard.sessions.resumed"
	SessionStaleSubject   = "focusguard.sessions.stale"
)

// EventPublisher publishes lifecycle events. *bus.Bus satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// SessionEvent is the payload of every lifecycle event.
type SessionEvent struct {
	SessionID uuid.UUID      `json:"session_id"`
	UserID    uuid.UUID      `json:"user_id"`
	Action    string         `json:"action"`
	At        time.Time      `json:"at"`
	Details   map[string]any `json:"details,omitempty"`
}

// MsgID identifies the event for broker-side deduplication.
func (e SessionEvent) MsgID() string {
	return e.SessionID.String() + ":" + e.Action + ":" + strconv.FormatInt(e.At.UnixNano(), 10)
}

// Manager owns session creation and termination and the poller registry.
type Manager struct {
	store   Store
	pollers *Supervisor
	events  EventPublisher
	clock   quartz.Clock
	logger  zerolog.Logger
	newID   func() uuid.UUID
}

// ManagerConfig bundles the Manager's dependencies. Pollers and Events are optional.
type ManagerConfig struct {
	Store   Store
	Pollers *Supervisor
	Events  EventPublisher
	Clock   quartz.Clock
	Logger  zerolog.Logger
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	return &Manager{
		store:   cfg.Store,
		pollers: cfg.Pollers,
		events:  cfg.Events,
		clock:   cfg.Clock,
		logger:  cfg.Logger.With().Str("component", "lifecycle").Logger(),
		newID:   uuid.New,
	}, nil
}

// Start opens a session for the user and registers its poller. It fails with a
// *ConflictError carrying the existing id when the user already has an active session.
func (m *Manager) Start(ctx context.Context, userID uuid.UUID) (StartResult, error) {
	if userID == uuid.Nil {
		return StartResult{}, validationf("user id is required")
	}
	if _, err := m.store.User(ctx, userID); err != nil {
		return StartResult{}, persistErr("load user", err)
	}

	s, err := m.store.CreateSession(ctx, newSession(m.newID(), userID, m.now()))
	if err != nil {
		return StartResult{}, persistErr("create session", err)
	}

	if m.pollers != nil {
		if _, err := m.pollers.Register(s.ID, userID); err != nil {
			if _, endErr := m.store.EndSession(ctx, s.ID, userID, m.now()); endErr != nil {
				m.logger.Error().Err(endErr).Str("session_id", s.ID.String()).Msg("roll back session after failed poller registration")
			}
			return StartResult{}, err
		}
	}

	m.logger.Info().Str("session_id", s.ID.String()).Str("user_id", userID.String()).Msg("session started")
	m.publish(ctx, SessionStartedSubject, s, "session.started", nil)
	return StartResult{SessionID: s.ID, StartTime: s.StartTime}, nil
}

// Stop closes the active session matching id and user with one compare-and-set
// write. The poller is deregistered even when nothing matched.
func (m *Manager) Stop(ctx context.Context, sessionID, userID uuid.UUID) (Session, error) {
	s, endErr := m.store.EndSession(ctx, sessionID, userID, m.now())

	if m.pollers != nil {
		if _, err := m.pollers.Deregister(ctx, sessionID); err != nil {
			m.logger.Warn().Err(err).Str("session_id", sessionID.String()).Msg("poller did not exit before deadline")
		}
	}

	if endErr != nil {
		return Session{}, persistErr("end session", endErr)
	}

	m.logger.Info().Str("session_id", s.ID.String()).Msg("session stopped")
	m.publish(ctx, SessionStoppedSubject, s, "session.stopped", map[string]any{
		"focus_time":       s.FocusTime,
		"distraction_time": s.DistractionTime,
	})
	return s, nil
}

// Resume re-attaches a poller to an active session, typically one flagged stale
// after a restart.
func (m *Manager) Resume(ctx context.Context, sessionID, userID uuid.UUID) (Session, error) {
	s, err := m.store.ClearStale(ctx, sessionID, userID)
	if err != nil {
		return Session{}, persistErr("resume session", err)
	}
	if m.pollers != nil {
		if _, err := m.pollers.Register(s.ID, s.UserID); err != nil {
			return Session{}, err
		}
	}
	m.logger.Info().Str("session_id", s.ID.String()).Msg("session resumed")
	m.publish(ctx, SessionResumedSubject, s, "session.resumed", nil)
	return s, nil
}

// MarkStaleOnStartup flags every session left active by a previous process.
// No poller is started for them until a client calls Resume.
func (m *Manager) MarkStaleOnStartup(ctx context.Context) (int, error) {
	stale, err := m.store.MarkStale(ctx)
	if err != nil {
		return 0, persistErr("mark stale", err)
	}
	for _, s := range stale {
		m.publish(ctx, SessionStaleSubject, s, "session.stale", nil)
	}
	if len(stale) > 0 {
		m.logger.Warn().Int("sessions", len(stale)).Msg("active sessions from a previous run marked stale")
	}
	return len(stale), nil
}

func (m *Manager) Active(ctx context.Context, userID uuid.UUID) (Session, error) {
	return m.store.ActiveSession(ctx, userID)
}

func (m *Manager) History(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	return m.store.History(ctx, userID)
}

func (m *Manager) Get(ctx context.Context, sessionID, userID uuid.UUID) (Session, error) {
	return m.store.Session(ctx, sessionID, userID)
}

// Shutdown cancels every running poller.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.pollers == nil {
		return nil
	}
	return m.pollers.Shutdown(ctx)
}

func (m *Manager) now() time.Time {
	return m.clock.Now().UTC().Truncate(time.Millisecond)
}

func (m *Manager) publish(ctx context.Context, subj string, s Session, action string, details map[string]any) {
	if m.events == nil {
		return
	}
	evt := SessionEvent{
		SessionID: s.ID,
		UserID:    s.UserID,
		Action:    action,
		At:        m.now(),
		Details:   details,
	}
	if err := m.events.Publish(ctx, subj, evt); err != nil {
		m.logger.Warn().Err(err).Str("subject", subj).Msg("publish lifecycle event")
	}
}
