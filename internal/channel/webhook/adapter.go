// Package webhook implements a generic HTTP ChannelAdapter that POSTs
// outbound notifications to a configured endpoint — the default adapter for
// any channel that speaks plain JSON-over-HTTP instead of a dedicated SDK.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/gatewayd/internal/common"
)

const (
	DefaultTimeout   = 15 * time.Second
	DefaultRateLimit = 5 // requests per second
)

// Adapter implements interfaces.ChannelAdapter by POSTing a JSON envelope to
// a single configured URL per delivery.
type Adapter struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// Option configures the adapter.
type Option func(*Adapter)

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(logger *common.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithTimeout overrides the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(a *Adapter) { a.httpClient.Timeout = timeout }
}

// WithRateLimit overrides the outbound requests-per-second cap.
func WithRateLimit(requestsPerSecond int) Option {
	return func(a *Adapter) { a.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond) }
}

// NewAdapter constructs a webhook Adapter that POSTs to baseURL.
func NewAdapter(baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type outboundEnvelope struct {
	SessionID string `json:"sessionId"`
	Kind      string `json:"kind"`
	Text      string `json:"text,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	Caption   string `json:"caption,omitempty"`
	FileData  []byte `json:"fileData,omitempty"`
}

// SendText implements interfaces.ChannelAdapter.
func (a *Adapter) SendText(ctx context.Context, sessionID, text string) error {
	return a.post(ctx, outboundEnvelope{SessionID: sessionID, Kind: "text", Text: text})
}

// SendFile implements interfaces.ChannelAdapter. filePath is read from local
// disk and embedded as base64 (the stdlib json encoder's default for []byte).
func (a *Adapter) SendFile(ctx context.Context, sessionID, filePath string, fileName, mimeType, caption string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read file for webhook delivery: %w", err)
	}
	if fileName == "" {
		fileName = filepath.Base(filePath)
	}
	return a.post(ctx, outboundEnvelope{
		SessionID: sessionID,
		Kind:      "file",
		FileName:  fileName,
		MimeType:  mimeType,
		Caption:   caption,
		FileData:  data,
	})
}

func (a *Adapter) post(ctx context.Context, env outboundEnvelope) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit wait: %w", err)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode webhook envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", common.UserAgent())

	a.logger.Debug().Str("session", env.SessionID).Str("kind", env.Kind).Msg("delivering webhook notification")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
