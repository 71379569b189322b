package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// SessionsStream holds every session lifecycle subject.
const (
	SessionsStream   = "FOCUSGUARD_SESSIONS"
	SessionsSubjects = "focusguard.sessions.>"
)

// Bus wraps a NATS JetStream connection for publishing and consuming events.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to NATS at url and opens a JetStream context.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}

	js, err := nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	return &Bus{conn: nc, js: js}, nil
}

// Close drains in-flight messages and closes the connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Connected reports whether the underlying connection is up.
func (b *Bus) Connected() bool {
	return b != nil && b.conn.IsConnected()
}

// EnsureStream creates the stream if it does not exist yet. Events are kept
// for maxAge.
func (b *Bus) EnsureStream(name string, subjects []string, maxAge time.Duration) error {
	if b == nil {
		return errors.New("nil bus")
	}
	_, err := b.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}
	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    maxAge,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	return nil
}

// Identified is implemented by events that carry a stable deduplication id.
type Identified interface {
	MsgID() string
}

// MsgID returns the Nats-Msg-Id for v: its own id when it has one, otherwise a
// fresh random one.
func MsgID(v any) string {
	if ev, ok := v.(Identified); ok {
		if id := ev.MsgID(); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// Publish encodes v as JSON and publishes it to the given subject. Republishing
// an Identified event within the stream's duplicate window is dropped by the
// server.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return errors.New("nil bus")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subj, err)
	}

	if _, err := b.js.Publish(subj, data, nats.Context(ctx), nats.MsgId(MsgID(v))); err != nil {
		return fmt.Errorf("publish %s: %w", subj, err)
	}
	return nil
}

// Redelivery limits for durable consumers. A message that keeps failing is
// dropped by the broker after MaxDeliver attempts.
const (
	MaxDeliver = 5
	nakDelay   = 2 * time.Second
	ackWait    = 30 * time.Second
)

type subscription struct {
	sub  *nats.Subscription
	once sync.Once
	err  error
}

func (s *subscription) Close() error {
	s.once.Do(func() { s.err = s.sub.Drain() })
	return s.err
}

// Subscribe creates a durable consumer on subj and invokes fn for each message,
// replaying the stream from its first retained event. A handler error naks the
// message for delayed redelivery, up to MaxDeliver attempts.
func (b *Bus) Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}
	if durable == "" {
		return nil, errors.New("durable name is required")
	}

	handler := func(msg *nats.Msg) {
		handlerCtx, cancel := context.WithTimeout(ctx, ackWait)
		defer cancel()

		if err := fn(handlerCtx, msg.Data); err != nil {
			_ = msg.NakWithDelay(nakDelay)
			return
		}
		_ = msg.Ack()
	}

	sub, err := b.js.Subscribe(subj, handler,
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(MaxDeliver),
		nats.DeliverAll(),
	)
	if err != nil {
		return nil, fmt.Errorf("jetstream subscribe: %w", err)
	}

	s := &subscription{sub: sub}
	context.AfterFunc(ctx, func() { _ = s.Close() })
	return s, nil
}
