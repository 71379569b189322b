package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	badgerMaxRetries  = 8
	badgerLockStripes = 64
	badgerGCInterval  = 5 * time.Minute
	badgerGCRatio     = 0.5
)

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	Path     string
	InMemory bool
	Logger   zerolog.Logger
	Clock    quartz.Clock
}

// BadgerStore keeps sessions and users in an embedded badger database. Each
// mutation runs in one serializable transaction. Writers touching the same
// user take that user's stripe lock first, so optimistic conflicts only come
// from the rare cross-user sweep and are retried.
type BadgerStore struct {
	db       *badger.DB
	cancelGC context.CancelFunc
	locks    [badgerLockStripes]sync.Mutex
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens (or creates) the embedded store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required for a persistent store")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(badgerLogger{cfg.Logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{db: db}
	if !cfg.InMemory {
		clock := cfg.Clock
		if clock == nil {
			clock = quartz.NewReal()
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.cancelGC = cancel
		logger := cfg.Logger
		clock.TickerFunc(ctx, badgerGCInterval, func() error {
			if err := db.RunValueLogGC(badgerGCRatio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logger.Warn().Err(err).Msg("badger value log gc")
			}
			return nil
		}, "badger-gc")
	}
	return s, nil
}

func (s *BadgerStore) Close() error {
	if s.cancelGC != nil {
		s.cancelGC()
	}
	return s.db.Close()
}

func userKey(id uuid.UUID) []byte    { return []byte("user/" + id.String()) }
func sessionKey(id uuid.UUID) []byte { return []byte("session/" + id.String()) }
func activeKey(userID uuid.UUID) []byte {
	return []byte("active/" + userID.String())
}
func userSessionKey(userID, sessionID uuid.UUID) []byte {
	return []byte("usess/" + userID.String() + "/" + sessionID.String())
}
func userSessionPrefix(userID uuid.UUID) []byte {
	return []byte("usess/" + userID.String() + "/")
}

func (s *BadgerStore) userLock(userID uuid.UUID) *sync.Mutex {
	return &s.locks[int(userID[len(userID)-1])%badgerLockStripes]
}

// updateUser runs fn under userID's stripe lock.
func (s *BadgerStore) updateUser(ctx context.Context, userID uuid.UUID, fn func(txn *badger.Txn) error) error {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()
	return s.update(ctx, fn)
}

// updateAll runs fn with every stripe held, in index order.
func (s *BadgerStore) updateAll(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for i := range s.locks {
		s.locks[i].Lock()
	}
	defer func() {
		for i := range s.locks {
			s.locks[i].Unlock()
		}
	}()
	return s.update(ctx, fn)
}

func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < badgerMaxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func loadUser(txn *badger.Txn, id uuid.UUID) (User, error) {
	var u User
	if err := getJSON(txn, userKey(id), &u); err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, notFoundf("user %s", id)
		}
		return User{}, err
	}
	return u, nil
}

// loadSession returns the session only if it belongs to userID.
func loadSession(txn *badger.Txn, id, userID uuid.UUID) (Session, error) {
	var sess Session
	if err := getJSON(txn, sessionKey(id), &sess); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, notFoundf("session %s", id)
		}
		return Session{}, err
	}
	if sess.UserID != userID {
		return Session{}, notFoundf("session %s", id)
	}
	return sess, nil
}

func loadActive(txn *badger.Txn, id, userID uuid.UUID) (Session, error) {
	sess, err := loadSession(txn, id, userID)
	if err != nil {
		return Session{}, err
	}
	if !sess.Active() {
		return Session{}, notFoundf("active session %s", id)
	}
	return sess, nil
}

func (s *BadgerStore) CreateUser(ctx context.Context, u User) error {
	if u.ID == uuid.Nil {
		return validationf("user id is required")
	}
	if u.AppUsage == nil {
		u.AppUsage = map[string]int64{}
	}
	return s.updateUser(ctx, u.ID, func(txn *badger.Txn) error {
		return setJSON(txn, userKey(u.ID), u)
	})
}

func (s *BadgerStore) User(_ context.Context, id uuid.UUID) (User, error) {
	var u User
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		u, err = loadUser(txn, id)
		return err
	})
	return u, err
}

func (s *BadgerStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	err := s.updateUser(ctx, sess.UserID, func(txn *badger.Txn) error {
		item, err := txn.Get(activeKey(sess.UserID))
		switch {
		case err == nil:
			var existing uuid.UUID
			if err := item.Value(func(val []byte) error {
				existing, err = uuid.FromBytes(val)
				return err
			}); err != nil {
				return err
			}
			return &ConflictError{SessionID: existing}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if err := setJSON(txn, sessionKey(sess.ID), sess); err != nil {
			return err
		}
		if err := txn.Set(activeKey(sess.UserID), sess.ID[:]); err != nil {
			return err
		}
		return txn.Set(userSessionKey(sess.UserID, sess.ID), nil)
	})
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *BadgerStore) EndSession(ctx context.Context, id, userID uuid.UUID, at time.Time) (Session, error) {
	var out Session
	err := s.updateUser(ctx, userID, func(txn *badger.Txn) error {
		sess, err := loadActive(txn, id, userID)
		if err != nil {
			return err
		}
		sess.EndTime = &at
		sess.Stale = false
		if err := setJSON(txn, sessionKey(id), sess); err != nil {
			return err
		}
		if err := txn.Delete(activeKey(userID)); err != nil {
			return err
		}
		out = sess
		return nil
	})
	return out, err
}

func (s *BadgerStore) ActiveSession(_ context.Context, userID uuid.UUID) (Session, error) {
	var out Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(activeKey(userID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return notFoundf("no active session for user %s", userID)
			}
			return err
		}
		var id uuid.UUID
		if err := item.Value(func(val []byte) error {
			id, err = uuid.FromBytes(val)
			return err
		}); err != nil {
			return err
		}
		out, err = loadActive(txn, id, userID)
		return err
	})
	return out, err
}

func (s *BadgerStore) Session(_ context.Context, id, userID uuid.UUID) (Session, error) {
	var out Session
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = loadSession(txn, id, userID)
		return err
	})
	return out, err
}

func (s *BadgerStore) History(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	return s.SessionsSince(ctx, userID, time.Time{})
}

// SessionsSince returns the user's sessions started at or after since, newest first.
func (s *BadgerStore) SessionsSince(_ context.Context, userID uuid.UUID, since time.Time) ([]Session, error) {
	var out []Session
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := userSessionPrefix(userID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			id, err := uuid.ParseBytes(key[len(prefix):])
			if err != nil {
				return fmt.Errorf("corrupt session index key %q: %w", key, err)
			}
			sess, err := loadSession(txn, id, userID)
			if err != nil {
				return err
			}
			if sess.StartTime.Before(since) {
				continue
			}
			out = append(out, sess)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (s *BadgerStore) UpdateLastDetected(ctx context.Context, id, userID uuid.UUID, a Activity) error {
	return s.updateUser(ctx, userID, func(txn *badger.Txn) error {
		sess, err := loadActive(txn, id, userID)
		if err != nil {
			return err
		}
		sess.LastDetectedApp = a.AppName
		sess.LastDetectedActivity = a.Activity
		return setJSON(txn, sessionKey(id), sess)
	})
}

func (s *BadgerStore) ApplyDelta(ctx context.Context, d Delta) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return s.updateUser(ctx, d.UserID, func(txn *badger.Txn) error {
		return applyInTxn(txn, d)
	})
}

func (s *BadgerStore) ApplyGated(ctx context.Context, d Delta, g GateWrite) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return s.updateUser(ctx, d.UserID, func(txn *badger.Txn) error {
		sess, err := loadActive(txn, d.SessionID, d.UserID)
		if err != nil {
			return err
		}
		if rl := rateLimit(sess.LastAPICallAt, g.Now, g.MinInterval); rl != nil {
			return rl
		}
		now := g.Now
		sess.LastAPICallAt = &now
		if err := setJSON(txn, sessionKey(sess.ID), sess); err != nil {
			return err
		}
		return applyInTxn(txn, d)
	})
}

// applyInTxn reads both documents, applies d and writes them back in txn.
func applyInTxn(txn *badger.Txn, d Delta) error {
	sess, err := loadActive(txn, d.SessionID, d.UserID)
	if err != nil {
		return err
	}
	u, err := loadUser(txn, d.UserID)
	if err != nil {
		return err
	}
	if d.Empty() {
		return nil
	}
	d.Apply(&sess, &u)
	if err := setJSON(txn, sessionKey(sess.ID), sess); err != nil {
		return err
	}
	return setJSON(txn, userKey(u.ID), u)
}

func (s *BadgerStore) LastAPICall(_ context.Context, id, userID uuid.UUID) (*time.Time, error) {
	var out *time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		sess, err := loadActive(txn, id, userID)
		if err != nil {
			return err
		}
		out = sess.LastAPICallAt
		return nil
	})
	return out, err
}

func (s *BadgerStore) MarkStale(ctx context.Context) ([]Session, error) {
	var out []Session
	err := s.updateAll(ctx, func(txn *badger.Txn) error {
		out = out[:0]
		sessions, err := activeSessions(txn)
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			sess.Stale = true
			if err := setJSON(txn, sessionKey(sess.ID), sess); err != nil {
				return err
			}
			out = append(out, sess)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) ClearStale(ctx context.Context, id, userID uuid.UUID) (Session, error) {
	var out Session
	err := s.updateUser(ctx, userID, func(txn *badger.Txn) error {
		sess, err := loadActive(txn, id, userID)
		if err != nil {
			return err
		}
		sess.Stale = false
		out = sess
		return setJSON(txn, sessionKey(id), sess)
	})
	return out, err
}

func (s *BadgerStore) StaleSessions(_ context.Context) ([]Session, error) {
	var out []Session
	err := s.db.View(func(txn *badger.Txn) error {
		sessions, err := activeSessions(txn)
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			if sess.Stale {
				out = append(out, sess)
			}
		}
		return nil
	})
	return out, err
}

func activeSessions(txn *badger.Txn) ([]Session, error) {
	prefix := []byte("active/")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []Session
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		userID, err := uuid.ParseBytes(item.Key()[len(prefix):])
		if err != nil {
			return nil, fmt.Errorf("corrupt active key %q: %w", item.Key(), err)
		}
		var id uuid.UUID
		if err := item.Value(func(val []byte) error {
			id, err = uuid.FromBytes(val)
			return err
		}); err != nil {
			return nil, err
		}
		sess, err := loadSession(txn, id, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Trace().Msgf(format, args...)
}
