//go:build !windows

package tracker

import "context"

type osInspector struct{}

// NewOSInspector returns the platform foreground-window inspector.
func NewOSInspector() WindowInspector { return osInspector{} }

func (osInspector) ActiveWindow(context.Context) (*Window, error) {
	return nil, ErrInspectorUnsupported
}
