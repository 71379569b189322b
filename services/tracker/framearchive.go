package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
)

// ObjectPutter uploads one object. *s3.Client satisfies it.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// S3FrameArchive encrypts analyzed frames to an age recipient and uploads them
// under frames/{sessionId}/{unixnano}.jpg.age.
type S3FrameArchive struct {
	putter    ObjectPutter
	bucket    string
	recipient age.Recipient
}

func NewS3FrameArchive(putter ObjectPutter, bucket, recipient string) (*S3FrameArchive, error) {
	if putter == nil {
		return nil, errors.New("object putter is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	r, err := age.ParseX25519Recipient(strings.TrimSpace(recipient))
	if err != nil {
		return nil, fmt.Errorf("parse archive recipient: %w", err)
	}
	return &S3FrameArchive{putter: putter, bucket: bucket, recipient: r}, nil
}

// FrameKey is the object key for a frame captured at at.
func FrameKey(sessionID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("frames/%s/%d.jpg.age", sessionID, at.UnixNano())
}

func (a *S3FrameArchive) Archive(ctx context.Context, sessionID uuid.UUID, at time.Time, f Frame) error {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, a.recipient)
	if err != nil {
		return fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := w.Write(f.Data); err != nil {
		return fmt.Errorf("age write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("age close: %w", err)
	}
	return a.putter.PutObject(ctx, a.bucket, FrameKey(sessionID, at), buf.Bytes(), "application/age-encryption")
}
