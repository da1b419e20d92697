package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Errors reported by the cloud client.
var (
	ErrCloudUnauthorized = errors.New("cloud: token rejected")
	ErrCloudUnavailable  = errors.New("cloud: all endpoints unavailable")
	ErrTriggerFailed     = errors.New("cloud: trigger request failed")
)

const cloudUserAgent = "antigravity/1.11.5 windows/amd64"

// quotaEndpoints are tried in order; the daily endpoint serves most accounts,
// the others cover sandbox and older plans.
var quotaEndpoints = []string{
	"https://daily-cloudcode-pa.googleapis.com/v1internal:fetchAvailableModels",
	"https://daily-cloudcode-pa.sandbox.googleapis.com/v1internal:fetchAvailableModels",
	"https://cloudcode-pa.googleapis.com/v1internal:fetchAvailableModels",
}

var triggerEndpoint = "https://daily-cloudcode-pa.googleapis.com/v1internal:generateContent"

// CloudClient talks to the Antigravity cloud API with per-account bearer
// tokens. Account credentials are always passed per call; the client itself
// holds no account state.
type CloudClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoints  []string
	triggerURL string
}

// CloudOption configures a CloudClient.
type CloudOption func(*CloudClient)

// WithCloudEndpoints overrides the quota endpoints (for testing).
func WithCloudEndpoints(urls ...string) CloudOption {
	return func(c *CloudClient) {
		c.endpoints = urls
	}
}

// WithTriggerEndpoint overrides the trigger endpoint (for testing).
func WithTriggerEndpoint(url string) CloudOption {
	return func(c *CloudClient) {
		c.triggerURL = url
	}
}

// WithCloudTimeout sets a custom request timeout.
func WithCloudTimeout(d time.Duration) CloudOption {
	return func(c *CloudClient) {
		c.httpClient.Timeout = d
	}
}

// NewCloudClient creates a client for the Antigravity cloud API.
func NewCloudClient(logger *slog.Logger, opts ...CloudOption) *CloudClient {
	if logger == nil {
		logger = slog.Default()
	}
	client := &CloudClient{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
		endpoints:  quotaEndpoints,
		triggerURL: triggerEndpoint,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// FetchQuota retrieves the quota snapshot for the account behind the token.
func (c *CloudClient) FetchQuota(ctx context.Context, token string) (*QuotaSnapshot, error) {
	var lastErr error
	for _, endpoint := range c.endpoints {
		snapshot, err := c.fetchFrom(ctx, endpoint, token)
		if err == nil {
			return snapshot, nil
		}
		if errors.Is(err, ErrCloudUnauthorized) || ctx.Err() != nil {
			return nil, err
		}
		c.logger.Debug("cloud quota endpoint failed", "endpoint", endpoint, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrCloudUnavailable
	}
	return nil, fmt.Errorf("%w: %v", ErrCloudUnavailable, lastErr)
}

func (c *CloudClient) fetchFrom(ctx context.Context, endpoint, token string) (*QuotaSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte(`{}`)))
	if err != nil {
		return nil, fmt.Errorf("cloud: creating request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloud: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrCloudUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("cloud: unexpected status code %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("cloud: reading body: %w", err)
	}

	parsed, err := ParseAvailableModelsResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("cloud: parsing response: %w", err)
	}

	snapshot := parsed.ToSnapshot(time.Now().UTC())
	c.logger.Debug("fetched cloud quota snapshot", "models", len(snapshot.Models))
	return snapshot, nil
}

// TriggerModel issues a minimal generation request against a model, consuming
// a token or two of the fresh quota so the reset cycle counts as touched.
func (c *CloudClient) TriggerModel(ctx context.Context, token, modelID string) error {
	payload := map[string]any{
		"model": modelID,
		"request": map[string]any{
			"contents": []map[string]any{
				{"role": "user", "parts": []map[string]string{{"text": "hi"}}},
			},
			"generationConfig": map[string]any{"maxOutputTokens": 1},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cloud: encoding trigger payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.triggerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cloud: creating trigger request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTriggerFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrCloudUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status code %d", ErrTriggerFailed, resp.StatusCode)
	}

	c.logger.Debug("trigger request completed", "model", modelID)
	return nil
}

func (c *CloudClient) setHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", cloudUserAgent)
}
