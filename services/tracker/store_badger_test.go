package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestBadgerCreateSessionConflict(t *testing.T) {
	ctx := testContext(t)
	store := newTestStore(t)
	uid := seedUser(t, store)

	first := seedSession(t, store, uid, t0)

	_, err := store.CreateSession(ctx, newSession(uuid.New(), uid, t0.Add(time.Minute)))
	ce, ok := AsConflict(err)
	require.True(t, ok, "expected conflict, got %v", err)
	assert.Equal(t, first.ID, ce.SessionID)

	active, err := store.ActiveSession(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
	assert.Equal(t, initialActivity, active.LastDetectedActivity)
}

func TestBadgerEndSessionIsCompareAndSet(t *testing.T) {
	ctx := testContext(t)
	store := newTestStore(t)
	uid := seedUser(t, store)
	sess := seedSession(t, store, uid, t0)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ended  int
		missed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.EndSession(ctx, sess.ID, uid, t0.Add(time.Hour))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ended++
			case IsNotFound(err):
				missed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ended)
	assert.Equal(t, 7, missed)

	got, err := store.Session(ctx, sess.ID, uid)
	require.NoError(t, err)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, "ended", got.State())

	_, err = store.ActiveSession(ctx, uid)
	assert.True(t, IsNotFound(err))

	// The user may start again once the previous session ended.
	seedSession(t, store, uid, t0.Add(2*time.Hour))
}

func TestBadgerSessionScopedToOwner(t *testing.T) {
	ctx := testContext(t)
	store := newTestStore(t)
	owner := seedUser(t, store)
	other := seedUser(t, store)
	sess := seedSession(t, store, owner, t0)

	_, err := store.Session(ctx, sess.ID, other)
	assert.True(t, IsNotFound(err))

	_, err = store.EndSession(ctx, sess.ID, other, t0)
	assert.True(t, IsNotFound(err))

	err = store.ApplyDelta(ctx, Delta{SessionID: sess.ID, UserID: other, Bucket: BucketFocus, Seconds: 5})
	assert.True(t, IsNotFound(err))
}

func TestBadgerApplyDeltaUpdatesBothDocuments(t *testing.T) {
	ctx := testContext(t)
	store := newTestStore(t)
	uid := seedUser(t, store)
	sess := seedSession(t, store, uid, t0)

	require.NoError(t, store.ApplyDelta(ctx, Delta{SessionID: sess.ID, UserID: uid, Bucket: BucketFocus, Seconds: 120, AppKey: "VSCode"}))
	require.NoError(t, store.ApplyDelta(ctx, Delta{SessionID: sess.ID, UserID: uid, Bucket: BucketNone, Seconds: 5, AppKey: "Chrome"}))

	got, err := store.Session(ctx, sess.ID, uid)
	require.NoError(t, err)
	assert.EqualValues(t, 120, got.FocusTime)
	assert.EqualValues(t, 0, got.DistractionTime)
	assert.Equal(t, map[string]int64{"VSCode": 120, "Chrome": 5}, got.AppUsage)

	u, err := store.User(ctx, uid)
	require.NoError(t, err)
	assert.EqualValues(t, 120, u.TotalFocusTime)
	assert.Equal(t, map[string]int64{"VSCode": 120, "Chrome": 5}, u.AppUsage)

	_, err = store.EndSession(ctx, sess.ID, uid, t0.Add(time.Hour))
	require.NoError(t, err)
	err = store.ApplyDelta(ctx, Delta{SessionID: sess.ID, UserID: uid, Bucket: BucketFocus, Seconds: 1})
	assert.True(t, IsNotFound(err), "ended sessions accept no deltas")
}

func TestBadgerApplyDeltaConcurrentWriters(t *testing.T) {
	ctx := testContext(t)
	store := newTestStore(t)
	uid := seedUser(t, store)
	sess := seedSession(t, store, uid, t0)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				assert.NoError(t, store.ApplyDelta(ctx, Delta{SessionID: sess.ID, UserID: uid, Bucket: BucketDistraction, Seconds: 1, AppKey: "Chrome"}))
			}
		}()
	}
	wg.Wait()

	got, err := store.Session(ctx, sess.ID, uid)
	require.NoError(t, err)
	u, err := store.User(ctx, uid)
	require.NoError(t, err)
	assert.EqualValues(t, 15, got.DistractionTime)
	assert.EqualValues(t, got.DistractionTime, u.TotalDistractionTime)
	assert.Equal(t, got.AppUsage, u.AppUsage)
}

func TestBadgerManyWritersOneSession(t *testing.T) {
	ctx := testContext(t)
	store := newTestStore(t)
	uid := seedUser(t, store)
	sess := seedSession(t, store, uid, t0)
	other := seedUser(t, store)
	otherSess := seedSession(t, store, other, t0)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.ApplyDelta(ctx, Delta{SessionID: sess.ID, UserID: uid, Bucket: BucketFocus, Seconds: 1, AppKey: "Chrome"}))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, store.UpdateLastDetected(ctx, sess.ID, uid, Activity{AppName: "Chrome", Activity: "Browsing"}))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, store.ApplyDelta(ctx, Delta{SessionID: otherSess.ID, UserID: other, Bucket: BucketDistraction, Seconds: 1, AppKey: "Slack"}))
		}()
	}
	wg.Wait()

	got, err := store.Session(ctx, sess.ID, uid)
	require.NoError(t, err)
	u, err := store.User(ctx, uid)
	require.NoError(t, err)
	assert.EqualValues(t, writers, got.FocusTime)
	assert.EqualValues(t, writers, got.AppUsage["Chrome"])
	assert.EqualValues(t, writers, u.TotalFocusTime)
	assert.Equal(t, "Chrome", got.LastDetectedApp)

	o, err := store.User(ctx, other)
	require.NoError(t, err)
	assert.EqualValues(t, writers, o.TotalDistractionTime)
}

func TestBadgerApplyGated(t *testing.T) {
	ctx := testContext(t)
	store := newTestStore(t)
	uid := seedUser(t, store)
	sess := seedSession(t, store, uid, t0)
	d := Delta{SessionID: sess.ID, UserID: uid, Bucket: BucketFocus, Seconds: 120, AppKey: "Figma"}

	require.NoError(t, store.ApplyGated(ctx, d, GateWrite{Now: t0, MinInterval: 2 * time.Minute}))

	err := store.ApplyGated(ctx, d, GateWrite{Now: t0.Add(30 * time.Second), MinInterval: 2 * time.Minute})
	rl, ok := AsRateLimited(err)
	require.True(t, ok, "expected rate limit, got %v", err)
	assert.EqualValues(t, 90, rl.SecondsRemaining)

	got, err := store.Session(ctx, sess.ID, uid)
	require.NoError(t, err)
	assert.EqualValues(t, 120, got.FocusTime, "rejected call must not be counted")
	require.NotNil(t, got.LastAPICallAt)
	assert.True(t, got.LastAPICallAt.Equal(t0))

	require.NoError(t, store.ApplyGated(ctx, d, GateWrite{Now: t0.Add(2 * time.Minute), MinInterval: 2 * time.Minute}))
	got, err = store.Session(ctx, sess.ID, uid)
	require.NoError(t, err)
	assert.EqualValues(t, 240, got.FocusTime)
	assert.EqualValues(t, 240, got.AppUsage["Figma"])
}

func TestBadgerStaleLifecycle(t *testing.T) {
	ctx := testContext(t)
	store := newTestStore(t)
	u1 := seedUser(t, store)
	u2 := seedUser(t, store)
	open := seedSession(t, store, u1, t0)
	closed := seedSession(t, store, u2, t0)
	_, err := store.EndSession(ctx, closed.ID, u2, t0.Add(time.Minute))
	require.NoError(t, err)

	marked, err := store.MarkStale(ctx)
	require.NoError(t, err)
	require.Len(t, marked, 1)
	assert.Equal(t, open.ID, marked[0].ID)

	stale, err := store.StaleSessions(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.True(t, stale[0].Stale)

	resumed, err := store.ClearStale(ctx, open.ID, u1)
	require.NoError(t, err)
	assert.False(t, resumed.Stale)

	stale, err = store.StaleSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)

	_, err = store.ClearStale(ctx, closed.ID, u2)
	assert.True(t, IsNotFound(err))
}

func TestBadgerHistoryNewestFirst(t *testing.T) {
	ctx := testContext(t)
	store := newTestStore(t)
	uid := seedUser(t, store)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		start := t0.Add(time.Duration(i) * 24 * time.Hour)
		s := seedSession(t, store, uid, start)
		_, err := store.EndSession(ctx, s.ID, uid, start.Add(time.Hour))
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	history, err := store.History(ctx, uid)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []uuid.UUID{ids[2], ids[1], ids[0]}, []uuid.UUID{history[0].ID, history[1].ID, history[2].ID})

	recent, err := store.SessionsSince(ctx, uid, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
