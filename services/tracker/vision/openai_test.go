package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusguard/services/tracker"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    tracker.VisionResult
		wantErr bool
	}{
		{
			name:    "plain json",
			content: `{"focused": true, "appLabel": "VS Code", "activityLabel": "Coding"}`,
			want:    tracker.VisionResult{Focused: true, AppLabel: "VS Code", ActivityLabel: "Coding"},
		},
		{
			name:    "fenced",
			content: "```json\n{\"focused\": false, \"appLabel\": \"YouTube\", \"activityLabel\": \"Watching\"}\n```",
			want:    tracker.VisionResult{Focused: false, AppLabel: "YouTube", ActivityLabel: "Watching"},
		},
		{
			name:    "non-string labels ignored",
			content: `{"focused": true, "appLabel": 7, "activityLabel": null}`,
			want:    tracker.VisionResult{Focused: true},
		},
		{name: "missing focused", content: `{"appLabel": "Chrome"}`, wantErr: true},
		{name: "not json", content: "I think they are focused", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResult(tt.content)
			if tt.wantErr {
				assert.True(t, tracker.IsValidation(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeDataURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantMIME string
		wantData string
		wantErr  bool
	}{
		{name: "data url", input: "data:image/jpeg;base64,aGVsbG8=", wantMIME: "image/jpeg", wantData: "hello"},
		{name: "bare base64", input: "aGVsbG8=", wantMIME: "text/plain; charset=utf-8", wantData: "hello"},
		{name: "empty", input: "", wantErr: true},
		{name: "not base64 url", input: "data:image/png,raw", wantErr: true},
		{name: "not an image", input: "data:text/html;base64,aGVsbG8=", wantErr: true},
		{name: "bad payload", input: "data:image/png;base64,***", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := DecodeDataURL(tt.input)
			if tt.wantErr {
				assert.True(t, tracker.IsValidation(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMIME, f.MIMEType)
			assert.Equal(t, tt.wantData, string(f.Data))
		})
	}
}

func TestDataURLRoundTrip(t *testing.T) {
	in := tracker.Frame{Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"}
	out, err := DecodeDataURL(DataURL(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func newFakeOpenAI(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		handler(w, body)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1/", Logger: zerolog.Nop()})
	require.NoError(t, err)
	return c
}

func completion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   DefaultModel,
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func TestClassify(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	c := newFakeOpenAI(t, func(w http.ResponseWriter, body map[string]any) {
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion(`{"focused": false, "appLabel": "Netflix", "activityLabel": "Streaming"}`))
	})

	res, err := c.Classify(context.Background(), tracker.Frame{Data: []byte("img"), MIMEType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, tracker.VisionResult{Focused: false, AppLabel: "Netflix", ActivityLabel: "Streaming"}, res)

	seen := <-bodies
	assert.Equal(t, DefaultModel, seen["model"])
	raw, err := json.Marshal(seen["messages"])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "data:image/jpeg;base64,aW1n"))
	assert.Equal(t, map[string]any{"type": "json_object"}, seen["response_format"])
}

func TestClassifyFailures(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         any
		wantUpstream bool
		wantInvalid  bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: map[string]any{"error": map[string]any{"message": "boom"}}, wantUpstream: true},
		{name: "no choices", status: http.StatusOK, body: map[string]any{"id": "x", "choices": []any{}}, wantUpstream: true},
		{name: "empty content", status: http.StatusOK, body: completion("  "), wantUpstream: true},
		{name: "malformed reply", status: http.StatusOK, body: completion(`{"app": "x"}`), wantInvalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeOpenAI(t, func(w http.ResponseWriter, _ map[string]any) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(tt.body)
			})
			_, err := c.Classify(context.Background(), tracker.Frame{Data: []byte("img")})
			require.Error(t, err)
			assert.Equal(t, tt.wantUpstream, tracker.IsUpstream(err))
			assert.Equal(t, tt.wantInvalid, tracker.IsValidation(err))
		})
	}
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
