package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"focusguard/services/tracker"
)

func TestDecodeEvent(t *testing.T) {
	sid, uid := uuid.New(), uuid.New()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name    string
		event   any
		wantErr bool
		check   func(t *testing.T, m auditModel)
	}{
		{
			name: "started",
			event: tracker.SessionEvent{
				SessionID: sid,
				UserID:    uid,
				Action:    "session.started",
				At:        at,
				Details:   map[string]any{"stale": false},
			},
			check: func(t *testing.T, m auditModel) {
				assert.Equal(t, "user:"+uid.String(), m.Actor)
				assert.Equal(t, "session.started", m.Action)
				assert.Equal(t, sid, m.SessionID)
				assert.Equal(t, at.UTC(), m.At)
				assert.Equal(t, uid.String(), m.Details["user_id"])
				assert.Equal(t, false, m.Details["stale"])
			},
		},
		{
			name:  "zero time left for the database default",
			event: tracker.SessionEvent{SessionID: sid, UserID: uid, Action: "session.stopped"},
			check: func(t *testing.T, m auditModel) {
				assert.True(t, m.At.IsZero())
			},
		},
		{name: "missing session", event: tracker.SessionEvent{UserID: uid, Action: "session.stopped"}, wantErr: true},
		{name: "missing action", event: tracker.SessionEvent{SessionID: sid, UserID: uid}, wantErr: true},
		{name: "not an event", event: "garbage", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.event)
			require.NoError(t, err)

			m, err := decodeEvent(raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, m)
		})
	}
}

func TestAuditModelToEntry(t *testing.T) {
	sid := uuid.New()
	m := auditModel{
		ID:        7,
		Actor:     "user:x",
		Action:    "session.resumed",
		SessionID: sid,
		Details:   toJSONMap(map[string]any{"user_id": "x"}),
	}
	e := m.toEntry()
	assert.Equal(t, int64(7), e.ID)
	assert.Equal(t, sid, e.SessionID)
	assert.Equal(t, map[string]any{"user_id": "x"}, e.Details)
	assert.Equal(t, "session_audit", auditModel{}.TableName())
}

func TestNewRecorderRequiresDependencies(t *testing.T) {
	_, err := NewRecorder(nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

type fakeSub struct {
	closed bool
}

func (f *fakeSub) Close() error {
	f.closed = true
	return nil
}

type fakeSubscriber struct {
	subjects []string
	subs     []*fakeSub
	failOn   string
}

func (f *fakeSubscriber) Subscribe(_ context.Context, subj, durable string, _ func(context.Context, []byte) error) (io.Closer, error) {
	if subj == f.failOn {
		return nil, errors.New("no stream")
	}
	f.subjects = append(f.subjects, subj+"|"+durable)
	s := &fakeSub{}
	f.subs = append(f.subs, s)
	return s, nil
}

func TestRecorderSubscriptions(t *testing.T) {
	sub := &fakeSubscriber{}
	r, err := NewRecorder(&gorm.DB{}, sub, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, []string{
		tracker.SessionStartedSubject + "|audit-sessions-started",
		tracker.SessionStoppedSubject + "|audit-sessions-stopped",
		tracker.SessionResumedSubject + "|audit-sessions-resumed",
		tracker.SessionStaleSubject + "|audit-sessions-stale",
	}, sub.subjects)

	// Malformed payloads are acknowledged without touching the database.
	assert.NoError(t, r.handle(context.Background(), []byte("{")))

	require.NoError(t, r.Close())
	for _, s := range sub.subs {
		assert.True(t, s.closed)
	}
}

func TestRecorderStartFailureClosesEarlierSubscriptions(t *testing.T) {
	sub := &fakeSubscriber{failOn: tracker.SessionResumedSubject}
	r, err := NewRecorder(&gorm.DB{}, sub, zerolog.Nop())
	require.NoError(t, err)

	err = r.Start(context.Background())
	require.Error(t, err)
	require.Len(t, sub.subs, 2)
	for _, s := range sub.subs {
		assert.True(t, s.closed)
	}
}
