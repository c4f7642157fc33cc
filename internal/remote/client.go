// Package remote implements the HTTP client for the remote preference
// endpoint consumed by the preference synchronizer.
//
// The endpoint speaks a small JSON protocol: GET returns
// {"success": bool, "data": object?, "code": string?}; POST accepts the
// preference payload and returns {"success": bool, "error": string?}.
// Transport failures are classified into the synchronizer's error taxonomy so
// callers never see raw net/http errors.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/movierec/movierec/internal/models"
)

// DefaultTimeout bounds a single HTTP round trip.
const DefaultTimeout = 10 * time.Second

// TokenSource supplies the bearer token attached to each request. It is
// consulted per call so the surrounding app can rotate tokens.
type TokenSource func() string

// Opts holds configuration options for the remote preference client.
type Opts struct {
	BaseURL     string
	Timeout     time.Duration
	TokenSource TokenSource
	HTTPClient  *http.Client
}

// Option defines a configuration option for the remote preference client.
type Option func(*Opts)

// WithBaseURL sets the endpoint base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithTokenSource sets the bearer token supplier.
func WithTokenSource(ts TokenSource) Option {
	return func(o *Opts) { o.TokenSource = ts }
}

// WithHTTPClient injects an http.Client, primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the remote preference endpoint.
type Client struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
}

// NewClient creates a remote preference client. The base URL falls back to
// the MOVIEREC_REMOTE_URL environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("MOVIEREC_REMOTE_URL")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL must be provided")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	slog.Debug("Remote client config loaded", "baseURL", cfg.BaseURL, "timeout", cfg.Timeout)

	return &Client{
		baseURL: cfg.BaseURL,
		client:  cfg.HTTPClient,
		tokens:  cfg.TokenSource,
	}, nil
}

// fetchEnvelope is the GET response shape.
type fetchEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// storeEnvelope is the POST response shape.
type storeEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// FetchPreferences retrieves the raw preference payload for an identity.
// A successful response with no data is reported as NO_DATA_FOUND.
func (c *Client) FetchPreferences(ctx context.Context, identity string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, c.preferencesURL(identity), nil)
	if err != nil {
		return nil, err
	}

	var envelope fetchEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, models.NewSyncError(models.ErrorCodeServer, "remote returned malformed response", err)
	}
	if !envelope.Success {
		return nil, classifyCode(envelope.Code, "remote fetch rejected")
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, models.NewSyncError(models.ErrorCodeNoDataFound, "remote holds no preferences for identity", nil)
	}
	slog.Debug("Client.FetchPreferences: fetched", "identity", identity, "bytes", len(envelope.Data))
	return envelope.Data, nil
}

// StorePreferences writes the full preference payload for an identity.
func (c *Client) StorePreferences(ctx context.Context, identity, payloadJSON string) error {
	body, err := c.do(ctx, http.MethodPost, c.preferencesURL(identity), []byte(payloadJSON))
	if err != nil {
		return err
	}

	var envelope storeEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return models.NewSyncError(models.ErrorCodeServer, "remote returned malformed response", err)
	}
	if !envelope.Success {
		return models.NewSyncError(models.ErrorCodeServer,
			fmt.Sprintf("remote store rejected: %s", envelope.Error), nil)
	}
	slog.Debug("Client.StorePreferences: stored", "identity", identity)
	return nil
}

func (c *Client) preferencesURL(identity string) string {
	return fmt.Sprintf("%s/preferences/%s", c.baseURL, identity)
}

// do runs one round trip and maps transport and status failures into the
// synchronizer taxonomy.
func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, models.NewSyncError(models.ErrorCodeNetwork, "failed to build remote request", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Warn("Client.do: transport failure", "method", method, "url", url, "error", err)
		return nil, models.NewSyncError(models.ErrorCodeNetwork, "remote endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewSyncError(models.ErrorCodeNetwork, "failed to read remote response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, models.NewSyncError(models.ErrorCodeAuth,
			fmt.Sprintf("remote rejected credentials (status %d)", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusNotFound:
		return nil, models.NewSyncError(models.ErrorCodeNoDataFound, "remote holds no preferences for identity", nil)
	case resp.StatusCode >= 500:
		return nil, models.NewSyncError(models.ErrorCodeServer,
			fmt.Sprintf("remote server error (status %d)", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, models.NewSyncError(models.ErrorCodeServer,
			fmt.Sprintf("remote rejected request (status %d)", resp.StatusCode), nil)
	}
	return body, nil
}

// classifyCode maps an explicit error code from the response envelope onto
// the taxonomy, passing recognized codes through unchanged.
func classifyCode(code, message string) *models.SyncError {
	switch models.ErrorCode(code) {
	case models.ErrorCodeNoDataFound, models.ErrorCodeAuth, models.ErrorCodeNetwork, models.ErrorCodeServer:
		return models.NewSyncError(models.ErrorCode(code), message, nil)
	}
	return models.NewSyncError(models.ErrorCodeServer, fmt.Sprintf("%s (code %q)", message, code), nil)
}
