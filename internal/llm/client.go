// Package llm talks to the external reasoning service. The service takes
// task instructions plus a structured payload and returns JSON matching a
// requested shape; callers always validate the shape before acting on it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pharmasentinel/orchestrator/internal/circuitbreaker"
	"github.com/pharmasentinel/orchestrator/internal/metrics"
)

// ErrInvalidResponse marks a reasoning reply that came back 200 but did
// not match the expected shape. Callers fall back to deterministic logic
// instead of failing the task.
var ErrInvalidResponse = errors.New("reasoning response failed validation")

// Config holds the reasoning service settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client is an HTTP client for the reasoning service, circuit-breaker
// protected. One instance is shared by all tasks.
type Client struct {
	config Config
	http   *circuitbreaker.HTTPWrapper
	logger *zap.Logger
}

// NewClient creates a reasoning client.
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 45 * time.Second
	}
	httpClient := &http.Client{Timeout: config.Timeout}
	return &Client{
		config: config,
		http:   circuitbreaker.NewHTTPWrapper(httpClient, "reasoning", "reasoning", logger),
		logger: logger,
	}
}

type analyzeRequest struct {
	Model        string          `json:"model,omitempty"`
	Instructions string          `json:"instructions"`
	Input        json.RawMessage `json:"input"`
}

type analyzeResponse struct {
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error,omitempty"`
}

// Analyze sends instructions and a payload, then unmarshals the reply into
// dest. A reply that cannot be unmarshaled into dest returns
// ErrInvalidResponse; transport and non-2xx failures return ordinary
// errors. Timeouts come from the request context plus the client timeout.
func (c *Client) Analyze(ctx context.Context, instructions string, payload interface{}, dest interface{}) error {
	input, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	body, err := json.Marshal(analyzeRequest{
		Model:        c.config.Model,
		Instructions: instructions,
		Input:        input,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ReasoningCalls.WithLabelValues("error").Inc()
		return fmt.Errorf("reasoning request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		metrics.ReasoningCalls.WithLabelValues("error").Inc()
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.ReasoningCalls.WithLabelValues("error").Inc()
		return fmt.Errorf("reasoning service returned %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		metrics.ReasoningCalls.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if parsed.Error != "" {
		metrics.ReasoningCalls.WithLabelValues("error").Inc()
		return fmt.Errorf("reasoning service error: %s", parsed.Error)
	}
	if len(parsed.Output) == 0 {
		metrics.ReasoningCalls.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: empty output", ErrInvalidResponse)
	}

	if err := json.Unmarshal(parsed.Output, dest); err != nil {
		metrics.ReasoningCalls.WithLabelValues("invalid").Inc()
		c.logger.Warn("Reasoning output failed validation",
			zap.String("output", string(truncate(parsed.Output, 200))),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	metrics.ReasoningCalls.WithLabelValues("ok").Inc()
	return nil
}

// Healthy pings the service health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reasoning health returned %d", resp.StatusCode)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
