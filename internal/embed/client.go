package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

// ClientConfig configures the HTTP embedding client.
type ClientConfig struct {
	Host        string
	Model       string
	Dimensions  int
	MaxAttempts int
	Timeout     time.Duration
	BatchSize   int

	// TokensPerSecond / TokensPerMinute enforce provider-side rate limits.
	// Zero disables the corresponding bucket.
	TokensPerSecond int
	TokensPerMinute int

	// Concurrency bounds parallel provider calls within a batch.
	Concurrency int
}

// Client generates embeddings through an Ollama-compatible HTTP provider.
// Transient provider failures (429/5xx/network) are retried with exponential
// backoff and jitter; permanent failures are recorded in the failure log and
// surface as nil slots in batch results.
type Client struct {
	http     *http.Client
	cfg      ClientConfig
	retry    lenserr.RetryConfig
	failures *FailureLog

	secLimiter *rate.Limiter
	minLimiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

// NewClient creates an embedding client. The failure log may be shared with
// the vector store so failures persist alongside the index.
func NewClient(cfg ClientConfig, failures *FailureLog) *Client {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if failures == nil {
		failures = NewFailureLog()
	}

	c := &Client{
		http:     &http.Client{}, // per-request timeouts come from context
		cfg:      cfg,
		failures: failures,
		retry: lenserr.RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    16 * time.Second,
			Jitter:      0.2,
		},
	}
	if cfg.TokensPerSecond > 0 {
		c.secLimiter = rate.NewLimiter(rate.Limit(cfg.TokensPerSecond), cfg.TokensPerSecond)
	}
	if cfg.TokensPerMinute > 0 {
		c.minLimiter = rate.NewLimiter(rate.Limit(float64(cfg.TokensPerMinute)/60.0), cfg.TokensPerMinute)
	}
	return c
}

// Failures exposes the failure log.
func (c *Client) Failures() *FailureLog { return c.failures }

// Embed generates an embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return make([]float32, c.Dimensions()), nil
	}

	vec, err := c.embedWithRetry(ctx, text)
	if err != nil {
		c.failures.Record(text, err)
		return nil, err
	}
	c.failures.Resolve(text)
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts. Output order equals
// input order; slots for permanently failed texts are nil and recorded in
// the failure log. One text's failure never aborts its siblings.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	results := make([][]float32, len(texts))
	if len(texts) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	var mu sync.Mutex // guards failure log ordering only
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, c.Dimensions())
			continue
		}
		g.Go(func() error {
			vec, err := c.embedWithRetry(gctx, text)
			if err != nil {
				// Context cancellation aborts the batch; everything else is
				// a per-slot failure.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				c.failures.Record(text, err)
				mu.Unlock()
				return nil
			}
			mu.Lock()
			c.failures.Resolve(text)
			mu.Unlock()
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// embedWithRetry performs one embedding with the retry policy applied.
func (c *Client) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	return lenserr.RetryWithResult(ctx, c.retry, func() ([]float32, error) {
		return c.embedOnce(ctx, text)
	})
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// embedOnce performs one provider round trip for one text.
func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	if err := c.waitRateLimit(ctx, text); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: []string{text}})
	if err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeEmbeddingFailed, err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeEmbeddingFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Network errors are transient.
		return nil, lenserr.New(lenserr.ErrCodeNetworkUnavailable, err.Error(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if lenserr.RetryableFromStatus(resp.StatusCode) {
			return nil, lenserr.New(lenserr.ErrCodeProviderOverloaded, msg, nil)
		}
		return nil, lenserr.New(lenserr.ErrCodeEmbeddingFailed, msg, nil)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeEmbeddingFailed, err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, lenserr.New(lenserr.ErrCodeEmbeddingFailed, "provider returned empty embedding", nil)
	}

	vec := result.Embeddings[0]
	if hasNaN(vec) {
		return nil, lenserr.New(lenserr.ErrCodeEmbeddingFailed, "provider returned non-finite embedding", nil)
	}
	if c.cfg.Dimensions > 0 && len(vec) != c.cfg.Dimensions {
		return nil, lenserr.New(lenserr.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected dimension %d, got %d", c.cfg.Dimensions, len(vec)), nil)
	}
	return vec, nil
}

// waitRateLimit blocks until both token buckets admit the text.
// Token cost is approximated from character count.
func (c *Client) waitRateLimit(ctx context.Context, text string) error {
	tokens := len(text)/charsPerToken + 1
	if c.secLimiter != nil {
		n := min(tokens, c.secLimiter.Burst())
		if err := c.secLimiter.WaitN(ctx, n); err != nil {
			return err
		}
	}
	if c.minLimiter != nil {
		n := min(tokens, c.minLimiter.Burst())
		if err := c.minLimiter.WaitN(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// Dimensions returns the configured embedding dimension.
func (c *Client) Dimensions() int {
	if c.cfg.Dimensions > 0 {
		return c.cfg.Dimensions
	}
	return 768
}

// ModelName returns the model identifier.
func (c *Client) ModelName() string { return c.cfg.Model }

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

// Close releases resources.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

var _ Embedder = (*Client)(nil)
