// Package vision classifies webcam and screen captures with an
// OpenAI-compatible multimodal chat model.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"focusguard/services/tracker"
)

const DefaultModel = "gpt-4o-mini"

const instructions = `You are judging whether a person at a computer is focused on work.
The image shows the webcam view next to a screenshot of the screen.
Reply with a single JSON object and nothing else:
{"focused": true|false, "appLabel": "<name of the foreground application>", "activityLabel": "<short description of what the person is doing>"}
Treat looking away from the screen, sleeping, phone use or entertainment sites as not focused.`

// Config configures the classifier. An empty BaseURL uses the OpenAI API.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  zerolog.Logger
}

// Client implements tracker.Classifier.
type Client struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

var _ tracker.Classifier = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("vision: api key is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		client: openai.NewClientWithConfig(oc),
		model:  model,
		logger: cfg.Logger.With().Str("component", "vision").Str("model", model).Logger(),
	}, nil
}

func (c *Client) Classify(ctx context.Context, f tracker.Frame) (tracker.VisionResult, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: instructions},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    DataURL(f),
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Error().Err(err).Msg("vision call failed")
		return tracker.VisionResult{}, &tracker.UpstreamError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return tracker.VisionResult{}, &tracker.UpstreamError{Err: errors.New("no choices returned")}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return tracker.VisionResult{}, &tracker.UpstreamError{Err: errors.New("empty response content")}
	}
	c.logger.Debug().Str("finish_reason", string(resp.Choices[0].FinishReason)).Msg("vision response")
	return ParseResult(content)
}

type rawResult struct {
	Focused       *bool `json:"focused"`
	AppLabel      any   `json:"appLabel"`
	ActivityLabel any   `json:"activityLabel"`
}

// ParseResult decodes the model's JSON reply. Replies wrapped in a markdown
// code fence are accepted.
func ParseResult(content string) (tracker.VisionResult, error) {
	content = stripFence(content)
	var raw rawResult
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return tracker.VisionResult{}, fmt.Errorf("%w: decode vision reply: %v", tracker.ErrValidation, err)
	}
	if raw.Focused == nil {
		return tracker.VisionResult{}, fmt.Errorf("%w: vision reply has no focused field", tracker.ErrValidation)
	}
	res := tracker.VisionResult{Focused: *raw.Focused}
	if s, ok := raw.AppLabel.(string); ok {
		res.AppLabel = strings.TrimSpace(s)
	}
	if s, ok := raw.ActivityLabel.(string); ok {
		res.ActivityLabel = strings.TrimSpace(s)
	}
	return res, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// DataURL encodes a frame as a base64 data URL.
func DataURL(f tracker.Frame) string {
	mime := f.MIMEType
	if mime == "" {
		mime = http.DetectContentType(f.Data)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// DecodeDataURL accepts either a data URL or bare base64 and returns the frame.
func DecodeDataURL(s string) (tracker.Frame, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return tracker.Frame{}, fmt.Errorf("%w: image is required", tracker.ErrValidation)
	}
	var mime string
	if strings.HasPrefix(s, "data:") {
		header, payload, ok := strings.Cut(s, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return tracker.Frame{}, fmt.Errorf("%w: image must be a base64 data URL", tracker.ErrValidation)
		}
		mime = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		if !strings.HasPrefix(mime, "image/") {
			return tracker.Frame{}, fmt.Errorf("%w: unsupported media type %q", tracker.ErrValidation, mime)
		}
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return tracker.Frame{}, fmt.Errorf("%w: decode image: %v", tracker.ErrValidation, err)
	}
	if len(data) == 0 {
		return tracker.Frame{}, fmt.Errorf("%w: image is empty", tracker.ErrValidation)
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return tracker.Frame{Data: data, MIMEType: mime}, nil
}
