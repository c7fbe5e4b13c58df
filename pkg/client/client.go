// Package client talks to a running shell's bridge API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL matches the default bridge address and base path.
const DefaultBaseURL = "http://127.0.0.1:8765/api"

// Client provides HTTP access to the bridge.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	token   string
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration // transcriptions can take minutes
	Logger  *slog.Logger  // Optional logger for client operations
	Token   string        // bearer token when the bridge requires auth
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: 5 * time.Minute}
}

// New creates a new bridge client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
		token:   config.Token,
	}
}

// APIError is a non-2xx bridge answer.
type APIError struct {
	Status   int
	Message  string
	Degraded bool // the backend is absent
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
}

// IsReachable checks if a shell is serving the bridge.
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	c.logger.Debug("bridge reachability check", "reachable", err == nil, "error", err)
	return err == nil
}

func (c *Client) Settings(ctx context.Context) (Settings, error) {
	var out Settings
	err := c.do(ctx, http.MethodGet, "/settings", nil, &out)
	return out, err
}

// MergeSettings applies a partial update and returns the merged settings.
func (c *Client) MergeSettings(ctx context.Context, p SettingsPatch) (Settings, error) {
	var out Settings
	err := c.do(ctx, http.MethodPost, "/settings", p, &out)
	return out, err
}

func (c *Client) BackendStatus(ctx context.Context) (BackendStatus, error) {
	var out BackendStatus
	err := c.do(ctx, http.MethodGet, "/backend/status", nil, &out)
	return out, err
}

// Transcribe runs a transcription in the shell. Engine failures come back
// as a Result with Error set, not as an error.
func (c *Client) Transcribe(ctx context.Context, req TranscribeRequest) (Result, error) {
	var out Result
	err := c.do(ctx, http.MethodPost, "/stt/transcribe", req, &out)
	return out, err
}

// Abort stops the active transcription, reporting whether one was running.
func (c *Client) Abort(ctx context.Context) (bool, error) {
	var out AbortResponse
	if err := c.do(ctx, http.MethodPost, "/stt/abort", nil, &out); err != nil {
		return false, err
	}
	return out.Aborted, nil
}

func (c *Client) RunMapping(ctx context.Context, info ClientInfo) (MappingResult, error) {
	var out MappingResult
	err := c.do(ctx, http.MethodPost, "/mapping/run", map[string]any{"client": info}, &out)
	return out, err
}

func (c *Client) SystemContext(ctx context.Context) (SystemContext, error) {
	var out SystemContext
	err := c.do(ctx, http.MethodGet, "/context", nil, &out)
	return out, err
}

// do performs a JSON request and decodes a 2xx answer into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Message: errorResp.Error, Degraded: errorResp.Degraded}
}
