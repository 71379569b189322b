package tracker

import (
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(ago time.Duration) *time.Time {
		v := now.Add(-ago)
		return &v
	}

	tests := []struct {
		name        string
		last        *time.Time
		wantLimited bool
		wantSeconds int64
	}{
		{name: "never called", last: nil},
		{name: "exactly at interval", last: at(120 * time.Second)},
		{name: "past interval", last: at(10 * time.Minute)},
		{name: "just called", last: at(0), wantLimited: true, wantSeconds: 120},
		{name: "thirty seconds ago", last: at(30 * time.Second), wantLimited: true, wantSeconds: 90},
		{name: "rounds to nearest", last: at(30*time.Second + 600*time.Millisecond), wantLimited: true, wantSeconds: 89},
		{name: "rounds up at half", last: at(119*time.Second + 500*time.Millisecond), wantLimited: true, wantSeconds: 1},
		{name: "under half a second rounds to zero", last: at(119*time.Second + 600*time.Millisecond), wantLimited: true, wantSeconds: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := rateLimit(tt.last, now, 120*time.Second)
			if !tt.wantLimited {
				assert.Nil(t, rl)
				return
			}
			require.NotNil(t, rl)
			assert.Equal(t, tt.wantSeconds, rl.SecondsRemaining)
			assert.Equal(t, tt.last.Add(120*time.Second), rl.RetryAfter)
		})
	}
}

func TestGateCheckReadsPersistedState(t *testing.T) {
	ctx := testContext(t)
	store := newTestStore(t)
	mClock := quartz.NewMock(t)
	gate := NewGate(store, mClock, 2*time.Minute)

	uid := seedUser(t, store)
	sess := seedSession(t, store, uid, mClock.Now())

	require.NoError(t, gate.Check(ctx, sess.ID, uid))

	commit := gate.Commit()
	require.NoError(t, store.ApplyGated(ctx, Delta{SessionID: sess.ID, UserID: uid}, commit))

	// A fresh gate over the same store sees the persisted timestamp.
	restarted := NewGate(store, mClock, 2*time.Minute)
	err := restarted.Check(ctx, sess.ID, uid)
	rl, ok := AsRateLimited(err)
	require.True(t, ok, "expected rate limit, got %v", err)
	assert.EqualValues(t, 120, rl.SecondsRemaining)

	mClock.Advance(2 * time.Minute).MustWait(ctx)
	require.NoError(t, restarted.Check(ctx, sess.ID, uid))
}
