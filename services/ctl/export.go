// Package ctl holds the operator tasks behind focusctl.
package ctl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"focusguard/services/tracker"
)

// SessionReader is the slice of tracker.Store used by the operator tasks.
type SessionReader interface {
	History(ctx context.Context, userID uuid.UUID) ([]tracker.Session, error)
	Session(ctx context.Context, id, userID uuid.UUID) (tracker.Session, error)
	StaleSessions(ctx context.Context) ([]tracker.Session, error)
}

// ExportSessions writes every session of the user to w as zstd-compressed JSON
// lines, newest first, and returns how many were written.
func ExportSessions(ctx context.Context, store SessionReader, userID uuid.UUID, w io.Writer) (int, error) {
	if userID == uuid.Nil {
		return 0, errors.New("user id is required")
	}
	sessions, err := store.History(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load sessions: %w", err)
	}

	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("zstd writer: %w", err)
	}

	bw := bufio.NewWriter(encoder)
	enc := json.NewEncoder(bw)
	for i, s := range sessions {
		if err := ctx.Err(); err != nil {
			_ = encoder.Close()
			return i, err
		}
		if err := enc.Encode(s); err != nil {
			_ = encoder.Close()
			return i, fmt.Errorf("encode session %s: %w", s.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		_ = encoder.Close()
		return len(sessions), fmt.Errorf("flush export: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return len(sessions), fmt.Errorf("close zstd writer: %w", err)
	}
	return len(sessions), nil
}

// ReadExport decodes a stream written by ExportSessions.
func ReadExport(r io.Reader) ([]tracker.Session, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	var out []tracker.Session
	dec := json.NewDecoder(decoder)
	for {
		var s tracker.Session
		if err := dec.Decode(&s); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, s)
	}
}
