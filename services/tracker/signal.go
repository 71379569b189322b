package tracker

import "github.com/google/uuid"

// Source names the producer of a focus signal.
type Source string

const (
	SourceWindow Source = "window"
	SourceGaze   Source = "gaze"
	SourceVision Source = "vision"
)

// Signal is the common output of every focus signal source.
//
// Focused is nil when the source makes no focus judgment (the window sampler).
// AppLabel is empty when the source makes no app attribution (gaze pushes).
type Signal struct {
	Source   Source
	Focused  *bool
	AppLabel string
	Activity string
	Seconds  int64
}

// Delta converts the signal into an accumulation step for one session.
func (s Signal) Delta(sessionID, userID uuid.UUID) Delta {
	d := Delta{
		SessionID: sessionID,
		UserID:    userID,
		Seconds:   s.Seconds,
	}
	if s.Focused != nil && s.Source != SourceWindow {
		if *s.Focused {
			d.Bucket = BucketFocus
		} else {
			d.Bucket = BucketDistraction
		}
	}
	if s.AppLabel != "" {
		d.AppKey = SanitizeAppKey(s.AppLabel)
	}
	return d
}

func boolPtr(v bool) *bool { return &v }
