package tracker

import (
	"context"
	"errors"
)

// ErrInspectorUnsupported is returned by the foreground-window inspector on
// platforms without an implementation.
var ErrInspectorUnsupported = errors.New("foreground window inspection is not supported on this platform")

// Window describes the foreground window at sampling time.
type Window struct {
	Title     string
	OwnerName string
	OwnerPath string
	PID       uint32
}

// WindowInspector queries the operating system for the foreground window.
// A nil window with a nil error means nothing is in the foreground.
type WindowInspector interface {
	ActiveWindow(ctx context.Context) (*Window, error)
}

// WindowInspectorFunc adapts a function to WindowInspector.
type WindowInspectorFunc func(ctx context.Context) (*Window, error)

func (f WindowInspectorFunc) ActiveWindow(ctx context.Context) (*Window, error) { return f(ctx) }

// WindowSampler is the local focus signal source: it attributes time to the
// foreground application and guesses an activity, but never judges focus.
type WindowSampler struct {
	inspector WindowInspector
	rules     *ActivityRules
}

func NewWindowSampler(inspector WindowInspector, rules *ActivityRules) *WindowSampler {
	if rules == nil {
		rules = DefaultActivityRules()
	}
	return &WindowSampler{inspector: inspector, rules: rules}
}

// Sample inspects the foreground window once. Seconds is left for the caller.
func (s *WindowSampler) Sample(ctx context.Context) (Signal, error) {
	if s.inspector == nil {
		return Signal{}, ErrInspectorUnsupported
	}
	w, err := s.inspector.ActiveWindow(ctx)
	if err != nil {
		return Signal{}, err
	}
	app, activity := s.rules.Guess(w)
	return Signal{Source: SourceWindow, AppLabel: app, Activity: activity}, nil
}
