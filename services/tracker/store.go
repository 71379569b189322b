package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// GateWrite carries the rate-limit gate state committed together with a gated delta.
// The write only lands when the gate is still open at Now.
type GateWrite struct {
	Now         time.Time
	MinInterval time.Duration
}

// Store persists sessions and users. Every mutation of an active session is
// conditional on the session still being active, and every delta updates the
// session and its user in one atomic write.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	User(ctx context.Context, id uuid.UUID) (User, error)

	// CreateSession inserts s unless the user already has an active session,
	// in which case it returns a *ConflictError naming that session.
	CreateSession(ctx context.Context, s Session) (Session, error)
	// EndSession sets endTime on the active session matching id and userID.
	// It returns ErrNotFound when no such active session exists.
	EndSession(ctx context.Context, id, userID uuid.UUID, at time.Time) (Session, error)
	ActiveSession(ctx context.Context, userID uuid.UUID) (Session, error)
	Session(ctx context.Context, id, userID uuid.UUID) (Session, error)
	History(ctx context.Context, userID uuid.UUID) ([]Session, error)
	SessionsSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]Session, error)

	UpdateLastDetected(ctx context.Context, id, userID uuid.UUID, a Activity) error
	ApplyDelta(ctx context.Context, d Delta) error
	// ApplyGated applies d and sets lastApiCallAt to g.Now in one write. It
	// returns a *RateLimitedError if another call committed inside the interval.
	ApplyGated(ctx context.Context, d Delta, g GateWrite) error
	LastAPICall(ctx context.Context, id, userID uuid.UUID) (*time.Time, error)

	// MarkStale flags every active session as stale and returns them.
	MarkStale(ctx context.Context) ([]Session, error)
	ClearStale(ctx context.Context, id, userID uuid.UUID) (Session, error)
	StaleSessions(ctx context.Context) ([]Session, error)

	Close() error
}
