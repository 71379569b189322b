package tracker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityGuess(t *testing.T) {
	rules := DefaultActivityRules()

	tests := []struct {
		name         string
		window       *Window
		wantApp      string
		wantActivity string
	}{
		{name: "no window", window: nil, wantApp: UnknownApp, wantActivity: "Idle"},
		{name: "editor", window: &Window{OwnerName: "Code.exe"}, wantApp: "Code.exe", wantActivity: "Coding"},
		{name: "word processor", window: &Window{OwnerName: "WINWORD.EXE"}, wantApp: "WINWORD.EXE", wantActivity: "Writing"},
		{name: "design", window: &Window{OwnerName: "Figma"}, wantApp: "Figma", wantActivity: "Designing"},
		{name: "spreadsheet", window: &Window{OwnerName: "EXCEL.EXE"}, wantApp: "EXCEL.EXE", wantActivity: "Spreadsheet Work"},
		{name: "browser", window: &Window{OwnerName: "chrome.exe"}, wantApp: "chrome.exe", wantActivity: "Browsing"},
		{name: "chat", window: &Window{OwnerName: "Slack"}, wantApp: "Slack", wantActivity: "Communicating"},
		{name: "other app", window: &Window{OwnerName: "Spotify"}, wantApp: "Spotify", wantActivity: "Using Spotify"},
		{name: "no owner", window: &Window{Title: "untitled"}, wantApp: UnknownApp, wantActivity: "Active"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, activity := rules.Guess(tt.window)
			assert.Equal(t, tt.wantApp, app)
			assert.Equal(t, tt.wantActivity, activity)
		})
	}
}

func TestLoadActivityRules(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(valid, []byte("rules:\n  - activity: Gaming\n    keywords: [Steam]\n"), 0o600))
	rules, err := LoadActivityRules(valid)
	require.NoError(t, err)
	_, activity := rules.Guess(&Window{OwnerName: "steamwebhelper"})
	assert.Equal(t, "Gaming", activity)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("rules: []\n"), 0o600))
	_, err = LoadActivityRules(empty)
	assert.Error(t, err)

	noKeywords := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(noKeywords, []byte("rules:\n  - activity: Gaming\n"), 0o600))
	_, err = LoadActivityRules(noKeywords)
	assert.Error(t, err)

	_, err = LoadActivityRules(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	defaults, err := LoadActivityRules("")
	require.NoError(t, err)
	assert.NotEmpty(t, defaults.Rules)
}

func TestWindowSampler(t *testing.T) {
	ctx := context.Background()

	sampler := NewWindowSampler(WindowInspectorFunc(func(context.Context) (*Window, error) {
		return &Window{OwnerName: "firefox", Title: "News"}, nil
	}), nil)
	sig, err := sampler.Sample(ctx)
	require.NoError(t, err)
	assert.Equal(t, Signal{Source: SourceWindow, AppLabel: "firefox", Activity: "Browsing"}, sig)
	assert.Nil(t, sig.Focused)

	failing := NewWindowSampler(WindowInspectorFunc(func(context.Context) (*Window, error) {
		return nil, errors.New("access denied")
	}), nil)
	_, err = failing.Sample(ctx)
	assert.Error(t, err)

	_, err = NewWindowSampler(nil, nil).Sample(ctx)
	assert.ErrorIs(t, err, ErrInspectorUnsupported)
}
