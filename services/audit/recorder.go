// Package audit persists session lifecycle events from the bus into session_audit.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"focusguard/services/tracker"
)

// Subscriber is the consuming half of the event bus. *bus.Bus satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// Recorder consumes lifecycle events and writes one audit row per event.
type Recorder struct {
	orm    *gorm.DB
	bus    Subscriber
	logger zerolog.Logger

	subsMu sync.Mutex
	subs   []io.Closer
}

func NewRecorder(orm *gorm.DB, bus Subscriber, logger zerolog.Logger) (*Recorder, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	if bus == nil {
		return nil, errors.New("bus is required")
	}
	return &Recorder{
		orm:    orm,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}, nil
}

// Start registers a durable consumer per lifecycle subject.
func (r *Recorder) Start(ctx context.Context) error {
	specs := []struct {
		subject string
		durable string
	}{
		{tracker.SessionStartedSubject, "audit-sessions-started"},
		{tracker.SessionStoppedSubject, "audit-sessions-stopped"},
		{tracker.SessionResumedSubject, "audit-sessions-resumed"},
		{tracker.SessionStaleSubject, "audit-sessions-stale"},
	}

	for _, spec := range specs {
		closer, err := r.bus.Subscribe(ctx, spec.subject, spec.durable, r.handle)
		if err != nil {
			_ = r.Close()
			return fmt.Errorf("subscribe %s: %w", spec.subject, err)
		}
		r.subsMu.Lock()
		r.subs = append(r.subs, closer)
		r.subsMu.Unlock()
	}
	r.logger.Info().Int("subjects", len(specs)).Msg("audit recorder started")
	return nil
}

// Close tears down active subscriptions.
func (r *Recorder) Close() error {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	var firstErr error
	for _, sub := range r.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.subs = nil
	return firstErr
}

func (r *Recorder) handle(ctx context.Context, data []byte) error {
	model, err := decodeEvent(data)
	if err != nil {
		// Redelivery can not fix a malformed payload; ack it and move on.
		r.logger.Warn().Err(err).Msg("dropping malformed lifecycle event")
		return nil
	}
	if err := r.orm.WithContext(ctx).Create(&model).Error; err != nil {
		r.logger.Error().Err(err).Str("session_id", model.SessionID.String()).Msg("insert audit row")
		return err
	}
	return nil
}

func decodeEvent(data []byte) (auditModel, error) {
	var evt tracker.SessionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return auditModel{}, err
	}
	if evt.SessionID == uuid.Nil {
		return auditModel{}, errors.New("session_id missing from event")
	}
	if evt.Action == "" {
		return auditModel{}, errors.New("action missing from event")
	}

	details := map[string]any{}
	for k, v := range evt.Details {
		details[k] = v
	}
	details["user_id"] = evt.UserID.String()

	m := auditModel{
		Actor:     "user:" + evt.UserID.String(),
		Action:    evt.Action,
		SessionID: evt.SessionID,
		Details:   toJSONMap(details),
	}
	if !evt.At.IsZero() {
		m.At = evt.At.UTC()
	}
	return m, nil
}

// Trail returns the audit entries of one session, oldest first.
func Trail(ctx context.Context, orm *gorm.DB, sessionID uuid.UUID) ([]Entry, error) {
	var rows []auditModel
	if err := orm.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntry())
	}
	return out, nil
}
