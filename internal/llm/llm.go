// Package llm synthesizes answers through an Ollama-compatible generation
// provider.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

// Defaults for the generation client.
const (
	DefaultModel   = "llama3.1:8b"
	DefaultTimeout = 120 * time.Second
)

// Service produces answer text from a fully built prompt.
type Service interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Available(ctx context.Context) bool
	ModelName() string
}

// ClientConfig configures the generation client.
type ClientConfig struct {
	Host        string
	Model       string
	Temperature float64
	MaxAttempts int
	Timeout     time.Duration
}

// Client calls the provider's generate endpoint with the shared retry
// policy. Transient provider failures (429/5xx/network) are retried.
type Client struct {
	http  *http.Client
	cfg   ClientConfig
	retry lenserr.RetryConfig
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		http: &http.Client{},
		cfg:  cfg,
		retry: lenserr.RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    8 * time.Second,
			Jitter:      0.2,
		},
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate produces the answer for a prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", lenserr.New(lenserr.ErrCodeQueryEmpty, "prompt must not be empty", nil)
	}
	return lenserr.RetryWithResult(ctx, c.retry, func() (string, error) {
		return c.generateOnce(ctx, prompt)
	})
}

func (c *Client) generateOnce(ctx context.Context, prompt string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload := generateRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Stream: false,
	}
	if c.cfg.Temperature > 0 {
		payload.Options = map[string]any{"temperature": c.cfg.Temperature}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", lenserr.Wrap(lenserr.ErrCodeInternal, err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", lenserr.Wrap(lenserr.ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", lenserr.New(lenserr.ErrCodeNetworkUnavailable, err.Error(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if lenserr.RetryableFromStatus(resp.StatusCode) {
			return "", lenserr.New(lenserr.ErrCodeProviderOverloaded, msg, nil)
		}
		return "", lenserr.New(lenserr.ErrCodeInternal, msg, nil)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", lenserr.Wrap(lenserr.ErrCodeInternal, err)
	}
	if strings.TrimSpace(result.Response) == "" {
		return "", lenserr.New(lenserr.ErrCodeInternal, "provider returned empty response", nil)
	}
	return result.Response, nil
}

// Available checks provider reachability.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string { return c.cfg.Model }

var _ Service = (*Client)(nil)
