package tracker

import (
	"github.com/google/uuid"
)

// Bucket selects which focus counter a delta credits.
type Bucket int

const (
	// BucketNone credits app usage only.
	BucketNone Bucket = iota
	BucketFocus
	BucketDistraction
)

func (b Bucket) String() string {
	switch b {
	case BucketFocus:
		return "focus"
	case BucketDistraction:
		return "distraction"
	default:
		return "none"
	}
}

// Delta is one accumulation step against a session and its owning user.
// An empty AppKey leaves both appUsage maps untouched.
type Delta struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	Bucket    Bucket
	Seconds   int64
	AppKey    string
}

// Validate rejects deltas that would break the aggregate invariants.
func (d Delta) Validate() error {
	if d.SessionID == uuid.Nil || d.UserID == uuid.Nil {
		return validationf("delta requires session and user ids")
	}
	if d.Seconds < 0 {
		return validationf("negative delta %d", d.Seconds)
	}
	if d.Bucket < BucketNone || d.Bucket > BucketDistraction {
		return validationf("unknown bucket %d", d.Bucket)
	}
	if d.AppKey != "" && !isSanitizedKey(d.AppKey) {
		return validationf("app key %q is not sanitized", d.AppKey)
	}
	return nil
}

// Empty reports whether applying the delta changes nothing.
func (d Delta) Empty() bool {
	return d.Seconds == 0 || (d.Bucket == BucketNone && d.AppKey == "")
}

// Apply adds the delta to both documents in memory. Stores persist the same
// effect atomically; Apply is the reference they must agree with.
func (d Delta) Apply(s *Session, u *User) {
	switch d.Bucket {
	case BucketFocus:
		s.FocusTime += d.Seconds
		u.TotalFocusTime += d.Seconds
	case BucketDistraction:
		s.DistractionTime += d.Seconds
		u.TotalDistractionTime += d.Seconds
	}
	if d.AppKey == "" {
		return
	}
	if s.AppUsage == nil {
		s.AppUsage = map[string]int64{}
	}
	if u.AppUsage == nil {
		u.AppUsage = map[string]int64{}
	}
	s.AppUsage[d.AppKey] += d.Seconds
	u.AppUsage[d.AppKey] += d.Seconds
}
