// Package backend is the typed HTTP client for the local backend service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cypherdesk/cypher/internal/sysctx"
)

// DefaultURL is where the backend listens.
const DefaultURL = "http://127.0.0.1:8080"

// Client talks to the backend.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration // per request; mapping and execute calls can be slow
	Logger  *slog.Logger
}

// New creates a backend client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultURL
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// BaseURL returns the backend root URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Models lists the model identifiers the backend can use.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var out modelsResponse
	if err := c.do(ctx, http.MethodGet, "/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Execute submits a goal.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error) {
	if req.Timestamp == "" {
		req.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	c.logger.Debug("executing goal", "model", req.Model, "vision", req.UseVision)
	var out ExecuteResponse
	err := c.do(ctx, http.MethodPost, "/execute", req, &out)
	return out, err
}

// MapSystem fetches the consolidated system information.
func (c *Client) MapSystem(ctx context.Context) (sysctx.BackendData, error) {
	var out sysctx.BackendData
	err := c.do(ctx, http.MethodPost, "/map-system", nil, &out)
	return out, err
}

// MapTopic runs one topic-scoped mapping step.
func (c *Client) MapTopic(ctx context.Context, topic string) (TopicResult, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/map-system/"+url.PathEscape(topic), nil, &raw); err != nil {
		return TopicResult{}, err
	}
	var res TopicResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return TopicResult{}, fmt.Errorf("decode %s step: %w", topic, err)
	}
	if err := json.Unmarshal(raw, &res.Data); err != nil {
		return TopicResult{}, fmt.Errorf("decode %s data: %w", topic, err)
	}
	return res, nil
}

// LoadModel asks the backend to pull or load a model.
func (c *Client) LoadModel(ctx context.Context, model string) (ModelResponse, error) {
	var out ModelResponse
	err := c.do(ctx, http.MethodPost, "/load-model", ModelRequest{Model: model}, &out)
	return out, err
}

// UnloadModel asks the backend to release a model.
func (c *Client) UnloadModel(ctx context.Context, model string) (ModelResponse, error) {
	var out ModelResponse
	err := c.do(ctx, http.MethodPost, "/unload-model", ModelRequest{Model: model}, &out)
	return out, err
}

// do sends body as JSON and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
