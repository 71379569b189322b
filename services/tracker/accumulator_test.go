package tracker

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaApply(t *testing.T) {
	sid, uid := uuid.New(), uuid.New()
	s := Session{ID: sid, UserID: uid, FocusTime: 10, DistractionTime: 5, AppUsage: map[string]int64{"Chrome": 30}}
	u := User{ID: uid, TotalFocusTime: 100, TotalDistractionTime: 50, AppUsage: map[string]int64{"Chrome": 300}}

	d := Delta{SessionID: sid, UserID: uid, Bucket: BucketFocus, Seconds: 120, AppKey: "VSCode"}
	require.NoError(t, d.Validate())
	d.Apply(&s, &u)

	assert.EqualValues(t, 130, s.FocusTime)
	assert.EqualValues(t, 5, s.DistractionTime)
	assert.EqualValues(t, 220, u.TotalFocusTime)
	assert.EqualValues(t, 50, u.TotalDistractionTime)
	assert.Equal(t, map[string]int64{"Chrome": 30, "VSCode": 120}, s.AppUsage)
	assert.Equal(t, map[string]int64{"Chrome": 300, "VSCode": 120}, u.AppUsage)
}

func TestDeltaApplyBuckets(t *testing.T) {
	tests := []struct {
		name            string
		delta           Delta
		wantFocus       int64
		wantDistraction int64
		wantUsage       map[string]int64
	}{
		{
			name:      "app only",
			delta:     Delta{Bucket: BucketNone, Seconds: 5, AppKey: "Chrome"},
			wantUsage: map[string]int64{"Chrome": 5},
		},
		{
			name:            "distraction without app",
			delta:           Delta{Bucket: BucketDistraction, Seconds: 12},
			wantDistraction: 12,
			wantUsage:       map[string]int64{},
		},
		{
			name:      "focus with app",
			delta:     Delta{Bucket: BucketFocus, Seconds: 7, AppKey: "Slack"},
			wantFocus: 7,
			wantUsage: map[string]int64{"Slack": 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Session{AppUsage: map[string]int64{}}
			u := User{}
			tt.delta.Apply(&s, &u)
			assert.Equal(t, tt.wantFocus, s.FocusTime)
			assert.Equal(t, tt.wantFocus, u.TotalFocusTime)
			assert.Equal(t, tt.wantDistraction, s.DistractionTime)
			assert.Equal(t, tt.wantDistraction, u.TotalDistractionTime)
			assert.Equal(t, tt.wantUsage, s.AppUsage)
		})
	}
}

func TestDeltaValidate(t *testing.T) {
	sid, uid := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		delta   Delta
		wantErr bool
	}{
		{name: "valid", delta: Delta{SessionID: sid, UserID: uid, Bucket: BucketFocus, Seconds: 1, AppKey: "Code_exe"}},
		{name: "zero seconds", delta: Delta{SessionID: sid, UserID: uid, Seconds: 0}},
		{name: "negative", delta: Delta{SessionID: sid, UserID: uid, Seconds: -1}, wantErr: true},
		{name: "unsanitized key", delta: Delta{SessionID: sid, UserID: uid, Seconds: 1, AppKey: "Code.exe"}, wantErr: true},
		{name: "dollar key", delta: Delta{SessionID: sid, UserID: uid, Seconds: 1, AppKey: "$x"}, wantErr: true},
		{name: "missing session", delta: Delta{UserID: uid, Seconds: 1}, wantErr: true},
		{name: "unknown bucket", delta: Delta{SessionID: sid, UserID: uid, Bucket: Bucket(9), Seconds: 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.delta.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSignalDelta(t *testing.T) {
	sid, uid := uuid.New(), uuid.New()

	tests := []struct {
		name       string
		signal     Signal
		wantBucket Bucket
		wantKey    string
	}{
		{
			name:       "window never judges focus",
			signal:     Signal{Source: SourceWindow, Focused: boolPtr(true), AppLabel: "Code.exe", Seconds: 5},
			wantBucket: BucketNone,
			wantKey:    "Code_exe",
		},
		{
			name:       "gaze push has no app",
			signal:     Signal{Source: SourceGaze, Focused: boolPtr(false), Seconds: 12},
			wantBucket: BucketDistraction,
		},
		{
			name:       "vision credits both",
			signal:     Signal{Source: SourceVision, Focused: boolPtr(true), AppLabel: "Figma", Seconds: 120},
			wantBucket: BucketFocus,
			wantKey:    "Figma",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.signal.Delta(sid, uid)
			assert.Equal(t, sid, d.SessionID)
			assert.Equal(t, uid, d.UserID)
			assert.Equal(t, tt.wantBucket, d.Bucket)
			assert.Equal(t, tt.wantKey, d.AppKey)
			assert.Equal(t, tt.signal.Seconds, d.Seconds)
		})
	}
}
