// Package genai implements the optional interfaces.LLMService adapter over
// Google's Gemini API for free-text chat replies.
package genai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/bobmcallan/gatewayd/internal/common"
)

const DefaultModel = "gemini-3-flash-preview"

// Client implements interfaces.LLMService.
type Client struct {
	client *genai.Client
	model  string
	logger *common.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithModel overrides the default model.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithLogger sets the logger used for generation diagnostics.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient constructs a genai-backed client. Returns an error if apiKey is
// empty — callers should treat an empty key as "LLM disabled" and not call
// NewClient at all.
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	c := &Client{
		client: genaiClient,
		model:  DefaultModel,
		logger: common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GenerateText implements interfaces.LLMService. authPreference is currently
// unused — it is named for the §6 AuthPreference field on inbound messages,
// reserved for routing between a user-supplied key and the gateway's own.
func (c *Client) GenerateText(ctx context.Context, sessionID, input string, authPreference string) (string, bool, error) {
	c.logger.Debug().Str("session", sessionID).Str("model", c.model).Msg("generating chat reply")

	contents := genai.Text(input)
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", false, fmt.Errorf("gemini generation failed: %w", err)
	}

	text, ok := extractText(result)
	if !ok {
		return "", false, nil
	}
	return text, true, nil
}

func extractText(result *genai.GenerateContentResponse) (string, bool) {
	if result == nil || len(result.Candidates) == 0 {
		return "", false
	}
	candidate := result.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", false
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	return text, text != ""
}
