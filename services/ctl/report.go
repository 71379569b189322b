package ctl

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"focusguard/pkg/render"
	"focusguard/services/audit"
	"focusguard/services/tracker"
)

const sessionReportTemplate = "session_report.tmpl"

// SessionReport is the data passed to the session report template.
type SessionReport struct {
	Session tracker.Session
	Apps    []tracker.AppTotal
	Audit   []audit.Entry
}

// TrailFunc loads the audit trail of a session. It may be nil when no audit
// database is available.
type TrailFunc func(ctx context.Context, sessionID uuid.UUID) ([]audit.Entry, error)

// BuildReport loads a session and renders its report.
func BuildReport(ctx context.Context, engine *render.Engine, store SessionReader, trail TrailFunc, sessionID, userID uuid.UUID) (string, error) {
	s, err := store.Session(ctx, sessionID, userID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	report := SessionReport{
		Session: s,
		Apps:    tracker.AppTotals([]tracker.Session{s}),
	}
	if trail != nil {
		entries, err := trail(ctx, sessionID)
		if err != nil {
			return "", fmt.Errorf("load audit trail: %w", err)
		}
		report.Audit = entries
	}
	return engine.Render(sessionReportTemplate, report)
}
