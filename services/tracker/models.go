package tracker

import (
	"time"

	"github.com/google/uuid"
)

// Placeholder values reported before the first sample lands.
const (
	initialActivity     = "Initializing..."
	trackingPlaceholder = "Tracking..."
)

// Session is one focus session. It is active while EndTime is nil.
type Session struct {
	ID                   uuid.UUID        `json:"id"`
	UserID               uuid.UUID        `json:"userId"`
	StartTime            time.Time        `json:"startTime"`
	EndTime              *time.Time       `json:"endTime"`
	FocusTime            int64            `json:"focusTime"`
	DistractionTime      int64            `json:"distractionTime"`
	AppUsage             map[string]int64 `json:"appUsage"`
	LastAPICallAt        *time.Time       `json:"lastApiCallAt,omitempty"`
	LastDetectedApp      string           `json:"lastDetectedApp,omitempty"`
	LastDetectedActivity string           `json:"lastDetectedActivity,omitempty"`
	Stale                bool             `json:"stale"`
}

// Active reports whether the session has not been stopped.
func (s Session) Active() bool { return s.EndTime == nil }

// State returns the derived lifecycle state name.
func (s Session) State() string {
	if s.Active() {
		return "active"
	}
	return "ended"
}

// User carries the per-user rollup of every session's aggregates.
type User struct {
	ID                   uuid.UUID        `json:"id"`
	TotalFocusTime       int64            `json:"totalFocusTime"`
	TotalDistractionTime int64            `json:"totalDistractionTime"`
	AppUsage             map[string]int64 `json:"appUsage"`
}

// StartResult is returned by a successful Start.
type StartResult struct {
	SessionID uuid.UUID `json:"sessionId"`
	StartTime time.Time `json:"startTime"`
}

// Activity is the freshness cache polled by clients.
type Activity struct {
	AppName  string `json:"appName"`
	Activity string `json:"activity"`
}

func newSession(id, userID uuid.UUID, start time.Time) Session {
	return Session{
		ID:                   id,
		UserID:               userID,
		StartTime:            start,
		AppUsage:             map[string]int64{},
		LastDetectedActivity: initialActivity,
	}
}

func copyUsage(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
