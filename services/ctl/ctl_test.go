package ctl

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusguard/pkg/render"
	"focusguard/services/audit"
	"focusguard/services/tracker"
)

type memReader struct {
	sessions []tracker.Session
	err      error
}

func (m memReader) History(_ context.Context, userID uuid.UUID) ([]tracker.Session, error) {
	var out []tracker.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, m.err
}

func (m memReader) Session(_ context.Context, id, userID uuid.UUID) (tracker.Session, error) {
	for _, s := range m.sessions {
		if s.ID == id && s.UserID == userID {
			return s, nil
		}
	}
	return tracker.Session{}, tracker.ErrNotFound
}

func (m memReader) StaleSessions(context.Context) ([]tracker.Session, error) { return nil, nil }

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func sampleSession(userID uuid.UUID) tracker.Session {
	end := t0.Add(time.Hour)
	return tracker.Session{
		ID:                   uuid.New(),
		UserID:               userID,
		StartTime:            t0,
		EndTime:              &end,
		FocusTime:            2700,
		DistractionTime:      900,
		AppUsage:             map[string]int64{"Code_exe": 3000, "Chrome": 600},
		LastDetectedApp:      "Code.exe",
		LastDetectedActivity: "Coding",
	}
}

func TestExportRoundTrip(t *testing.T) {
	uid := uuid.New()
	store := memReader{sessions: []tracker.Session{sampleSession(uid), sampleSession(uid), sampleSession(uuid.New())}}

	var buf bytes.Buffer
	n, err := ExportSessions(context.Background(), store, uid, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := ReadExport(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, store.sessions[0].ID, got[0].ID)
	assert.Equal(t, store.sessions[0].AppUsage, got[0].AppUsage)
	assert.True(t, got[0].EndTime.Equal(*store.sessions[0].EndTime))
}

func TestExportErrors(t *testing.T) {
	tests := []struct {
		name  string
		store memReader
		user  uuid.UUID
	}{
		{name: "nil user", user: uuid.Nil},
		{name: "store failure", store: memReader{err: errors.New("closed")}, user: uuid.New()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := ExportSessions(context.Background(), tt.store, tt.user, &buf)
			assert.Error(t, err)
		})
	}

	_, err := ReadExport(bytes.NewReader([]byte("not zstd")))
	assert.Error(t, err)
}

func TestBuildReport(t *testing.T) {
	engine, err := render.New()
	require.NoError(t, err)

	uid := uuid.New()
	s := sampleSession(uid)
	store := memReader{sessions: []tracker.Session{s}}
	trail := func(_ context.Context, sid uuid.UUID) ([]audit.Entry, error) {
		return []audit.Entry{
			{Action: "session.started", Actor: "user:" + uid.String(), SessionID: sid, At: t0},
			{Action: "session.stopped", Actor: "user:" + uid.String(), SessionID: sid, At: t0.Add(time.Hour)},
		}, nil
	}

	out, err := BuildReport(context.Background(), engine, store, trail, s.ID, uid)
	require.NoError(t, err)
	assert.Contains(t, out, s.ID.String())
	assert.Contains(t, out, "ended")
	assert.Contains(t, out, "45m0s (75%)")
	assert.Contains(t, out, "2026-03-02T10:00:00Z")
	assert.Contains(t, out, "Code_exe")
	assert.Contains(t, out, "Audit trail")
	assert.Contains(t, out, "session.stopped")

	out, err = BuildReport(context.Background(), engine, store, nil, s.ID, uid)
	require.NoError(t, err)
	assert.NotContains(t, out, "Audit trail")

	_, err = BuildReport(context.Background(), engine, store, nil, s.ID, uuid.New())
	assert.ErrorIs(t, err, tracker.ErrNotFound)
}
