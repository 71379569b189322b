package gaze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPPusher posts focus pushes to the session API.
type HTTPPusher struct {
	client    *http.Client
	endpoint  string
	userID    string
	authToken string
}

// NewHTTPPusher binds a pusher to one session. baseURL is the API root, e.g. http://localhost:8080.
func NewHTTPPusher(baseURL, sessionID, userID, authToken string) *HTTPPusher {
	return &HTTPPusher{
		client:    &http.Client{Timeout: 10 * time.Second},
		endpoint:  fmt.Sprintf("%s/v1/sessions/%s/focus", strings.TrimRight(baseURL, "/"), sessionID),
		userID:    userID,
		authToken: authToken,
	}
}

func (p *HTTPPusher) Push(ctx context.Context, push Push) error {
	body, err := json.Marshal(push)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", p.userID)
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("focus push: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
