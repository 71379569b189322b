package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"focusguard/pkg/db"
)

const sessionColumns = `id, user_id, start_time, end_time, focus_time, distraction_time, app_usage,
	last_api_call_at, last_detected_app, last_detected_activity, stale`

// appUsageIncrement adds $n seconds to app_usage[$k] unless $k is empty.
const appUsageIncrement = `CASE WHEN %[1]s::text = '' THEN app_usage
	ELSE jsonb_set(app_usage, ARRAY[%[1]s::text], to_jsonb(COALESCE((app_usage->>%[1]s::text)::bigint, 0) + %[2]s::bigint))
	END`

var (
	sessionDeltaSQL = `UPDATE sessions SET
	focus_time = focus_time + $3,
	distraction_time = distraction_time + $4,
	app_usage = ` + fmt.Sprintf(appUsageIncrement, "$5", "$6") + `
WHERE id = $1 AND user_id = $2 AND end_time IS NULL`

	sessionGatedDeltaSQL = `UPDATE sessions SET
	focus_time = focus_time + $3,
	distraction_time = distraction_time + $4,
	app_usage = ` + fmt.Sprintf(appUsageIncrement, "$5", "$6") + `,
	last_api_call_at = $7
WHERE id = $1 AND user_id = $2 AND end_time IS NULL
	AND (last_api_call_at IS NULL OR last_api_call_at <= $7::timestamptz - make_interval(secs => $8::double precision))`

	userDeltaSQL = `UPDATE users SET
	total_focus_time = total_focus_time + $2,
	total_distraction_time = total_distraction_time + $3,
	app_usage = ` + fmt.Sprintf(appUsageIncrement, "$4", "$5") + `
WHERE id = $1`
)

type sessionRow struct {
	ID                   uuid.UUID        `db:"id"`
	UserID               uuid.UUID        `db:"user_id"`
	StartTime            time.Time        `db:"start_time"`
	EndTime              *time.Time       `db:"end_time"`
	FocusTime            int64            `db:"focus_time"`
	DistractionTime      int64            `db:"distraction_time"`
	AppUsage             map[string]int64 `db:"app_usage"`
	LastAPICallAt        *time.Time       `db:"last_api_call_at"`
	LastDetectedApp      string           `db:"last_detected_app"`
	LastDetectedActivity string           `db:"last_detected_activity"`
	Stale                bool             `db:"stale"`
}

func (r sessionRow) toSession() Session {
	usage := r.AppUsage
	if usage == nil {
		usage = map[string]int64{}
	}
	return Session{
		ID:                   r.ID,
		UserID:               r.UserID,
		StartTime:            r.StartTime.UTC(),
		EndTime:              r.EndTime,
		FocusTime:            r.FocusTime,
		DistractionTime:      r.DistractionTime,
		AppUsage:             usage,
		LastAPICallAt:        r.LastAPICallAt,
		LastDetectedApp:      r.LastDetectedApp,
		LastDetectedActivity: r.LastDetectedActivity,
		Stale:                r.Stale,
	}
}

func toSessions(rows []sessionRow) []Session {
	out := make([]Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toSession())
	}
	return out
}

type userRow struct {
	ID                   uuid.UUID        `db:"id"`
	TotalFocusTime       int64            `db:"total_focus_time"`
	TotalDistractionTime int64            `db:"total_distraction_time"`
	AppUsage             map[string]int64 `db:"app_usage"`
}

// deltaArgs splits a delta into the per-column increments used by the update statements.
func deltaArgs(d Delta) (focus, distraction, app int64) {
	switch d.Bucket {
	case BucketFocus:
		focus = d.Seconds
	case BucketDistraction:
		distraction = d.Seconds
	}
	if d.AppKey != "" {
		app = d.Seconds
	}
	return focus, distraction, app
}

// PostgresStore persists sessions and users in Postgres. Deltas update both rows
// with in-place increments inside one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	if u.ID == uuid.Nil {
		return validationf("user id is required")
	}
	usage, err := json.Marshal(nonNilUsage(u.AppUsage))
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, s.pool, `INSERT INTO users (id, total_focus_time, total_distraction_time, app_usage)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (id) DO NOTHING`,
		u.ID, u.TotalFocusTime, u.TotalDistractionTime, string(usage))
	return err
}

func (s *PostgresStore) User(ctx context.Context, id uuid.UUID) (User, error) {
	var row userRow
	err := db.Get(ctx, s.pool, &row, `SELECT id, total_focus_time, total_distraction_time, app_usage
		FROM users WHERE id = $1`, id)
	if err != nil {
		if db.IsNoRows(err) {
			return User{}, notFoundf("user %s", id)
		}
		return User{}, err
	}
	return User{
		ID:                   row.ID,
		TotalFocusTime:       row.TotalFocusTime,
		TotalDistractionTime: row.TotalDistractionTime,
		AppUsage:             nonNilUsage(row.AppUsage),
	}, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	var row sessionRow
	err := db.Get(ctx, s.pool, &row, `INSERT INTO sessions (id, user_id, start_time, app_usage, last_detected_activity)
		VALUES ($1, $2, $3, '{}'::jsonb, $4)
		ON CONFLICT (user_id) WHERE end_time IS NULL DO NOTHING
		RETURNING `+sessionColumns,
		sess.ID, sess.UserID, sess.StartTime, sess.LastDetectedActivity)
	if err == nil {
		return row.toSession(), nil
	}
	if !db.IsNoRows(err) {
		return Session{}, err
	}

	existing, err := s.ActiveSession(ctx, sess.UserID)
	if err != nil {
		return Session{}, err
	}
	return Session{}, &ConflictError{SessionID: existing.ID}
}

func (s *PostgresStore) EndSession(ctx context.Context, id, userID uuid.UUID, at time.Time) (Session, error) {
	var row sessionRow
	err := db.Get(ctx, s.pool, &row, `UPDATE sessions SET end_time = $3, stale = false
		WHERE id = $1 AND user_id = $2 AND end_time IS NULL
		RETURNING `+sessionColumns, id, userID, at)
	if err != nil {
		if db.IsNoRows(err) {
			return Session{}, notFoundf("active session %s", id)
		}
		return Session{}, err
	}
	return row.toSession(), nil
}

func (s *PostgresStore) ActiveSession(ctx context.Context, userID uuid.UUID) (Session, error) {
	var row sessionRow
	err := db.Get(ctx, s.pool, &row, `SELECT `+sessionColumns+`
		FROM sessions WHERE user_id = $1 AND end_time IS NULL`, userID)
	if err != nil {
		if db.IsNoRows(err) {
			return Session{}, notFoundf("no active session for user %s", userID)
		}
		return Session{}, err
	}
	return row.toSession(), nil
}

func (s *PostgresStore) Session(ctx context.Context, id, userID uuid.UUID) (Session, error) {
	var row sessionRow
	err := db.Get(ctx, s.pool, &row, `SELECT `+sessionColumns+`
		FROM sessions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		if db.IsNoRows(err) {
			return Session{}, notFoundf("session %s", id)
		}
		return Session{}, err
	}
	return row.toSession(), nil
}

func (s *PostgresStore) History(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	var rows []sessionRow
	if err := db.Select(ctx, s.pool, &rows, `SELECT `+sessionColumns+`
		FROM sessions WHERE user_id = $1 ORDER BY start_time DESC`, userID); err != nil {
		return nil, err
	}
	return toSessions(rows), nil
}

func (s *PostgresStore) SessionsSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]Session, error) {
	var rows []sessionRow
	if err := db.Select(ctx, s.pool, &rows, `SELECT `+sessionColumns+`
		FROM sessions WHERE user_id = $1 AND start_time >= $2 ORDER BY start_time DESC`, userID, since); err != nil {
		return nil, err
	}
	return toSessions(rows), nil
}

func (s *PostgresStore) UpdateLastDetected(ctx context.Context, id, userID uuid.UUID, a Activity) error {
	tag, err := db.Exec(ctx, s.pool, `UPDATE sessions SET last_detected_app = $3, last_detected_activity = $4
		WHERE id = $1 AND user_id = $2 AND end_time IS NULL`, id, userID, a.AppName, a.Activity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFoundf("active session %s", id)
	}
	return nil
}

func (s *PostgresStore) ApplyDelta(ctx context.Context, d Delta) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		focus, distraction, app := deltaArgs(d)
		tag, err := tx.Exec(ctx, sessionDeltaSQL, d.SessionID, d.UserID, focus, distraction, d.AppKey, app)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return notFoundf("active session %s", d.SessionID)
		}
		return applyUserDelta(ctx, tx, d)
	})
}

func (s *PostgresStore) ApplyGated(ctx context.Context, d Delta, g GateWrite) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		focus, distraction, app := deltaArgs(d)
		tag, err := tx.Exec(ctx, sessionGatedDeltaSQL, d.SessionID, d.UserID, focus, distraction, d.AppKey, app,
			g.Now, g.MinInterval.Seconds())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return gateRejection(ctx, tx, d, g)
		}
		return applyUserDelta(ctx, tx, d)
	})
}

func applyUserDelta(ctx context.Context, tx pgx.Tx, d Delta) error {
	focus, distraction, app := deltaArgs(d)
	tag, err := tx.Exec(ctx, userDeltaSQL, d.UserID, focus, distraction, d.AppKey, app)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFoundf("user %s", d.UserID)
	}
	return nil
}

// gateRejection explains why a gated update matched no row.
func gateRejection(ctx context.Context, tx pgx.Tx, d Delta, g GateWrite) error {
	var last struct {
		At *time.Time `db:"last_api_call_at"`
	}
	err := db.Get(ctx, tx, &last, `SELECT last_api_call_at FROM sessions
		WHERE id = $1 AND user_id = $2 AND end_time IS NULL`, d.SessionID, d.UserID)
	if err != nil {
		if db.IsNoRows(err) {
			return notFoundf("active session %s", d.SessionID)
		}
		return err
	}
	if rl := rateLimit(last.At, g.Now, g.MinInterval); rl != nil {
		return rl
	}
	return errors.New("gated update matched no row")
}

func (s *PostgresStore) LastAPICall(ctx context.Context, id, userID uuid.UUID) (*time.Time, error) {
	var last struct {
		At *time.Time `db:"last_api_call_at"`
	}
	err := db.Get(ctx, s.pool, &last, `SELECT last_api_call_at FROM sessions
		WHERE id = $1 AND user_id = $2 AND end_time IS NULL`, id, userID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, notFoundf("active session %s", id)
		}
		return nil, err
	}
	return last.At, nil
}

func (s *PostgresStore) MarkStale(ctx context.Context) ([]Session, error) {
	var rows []sessionRow
	if err := db.Select(ctx, s.pool, &rows, `UPDATE sessions SET stale = true
		WHERE end_time IS NULL
		RETURNING `+sessionColumns); err != nil {
		return nil, err
	}
	return toSessions(rows), nil
}

func (s *PostgresStore) ClearStale(ctx context.Context, id, userID uuid.UUID) (Session, error) {
	var row sessionRow
	err := db.Get(ctx, s.pool, &row, `UPDATE sessions SET stale = false
		WHERE id = $1 AND user_id = $2 AND end_time IS NULL
		RETURNING `+sessionColumns, id, userID)
	if err != nil {
		if db.IsNoRows(err) {
			return Session{}, notFoundf("active session %s", id)
		}
		return Session{}, err
	}
	return row.toSession(), nil
}

func (s *PostgresStore) StaleSessions(ctx context.Context) ([]Session, error) {
	var rows []sessionRow
	if err := db.Select(ctx, s.pool, &rows, `SELECT `+sessionColumns+`
		FROM sessions WHERE end_time IS NULL AND stale ORDER BY start_time`); err != nil {
		return nil, err
	}
	return toSessions(rows), nil
}

func nonNilUsage(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}
