package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger(BadgerConfig{InMemory: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s Store) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, s.CreateUser(testContext(t), User{ID: id}))
	return id
}

func seedSession(t *testing.T, s Store, userID uuid.UUID, start time.Time) Session {
	t.Helper()
	sess, err := s.CreateSession(testContext(t), newSession(uuid.New(), userID, start))
	require.NoError(t, err)
	return sess
}

// fakeSampler reports a fixed window on every call.
type fakeSampler struct {
	mu    sync.Mutex
	sig   Signal
	err   error
	calls atomic.Int64
}

func (f *fakeSampler) Sample(context.Context) (Signal, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sig, f.err
}

func (f *fakeSampler) set(sig Signal, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sig, f.err = sig, err
}

func windowSignal(app, activity string) Signal {
	return Signal{Source: SourceWindow, AppLabel: app, Activity: activity}
}
