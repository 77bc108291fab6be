// Package preflight validates the environment before indexing or
// serving: data directory writability, disk space, file descriptor
// limits, and reachability of the embedding and LLM hosts.
package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Status is the outcome of one check.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Result is the outcome of a single check. Required results that fail
// block startup; optional ones only degrade functionality.
type Result struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
	Required bool   `json:"required"`
}

// IsCritical reports whether this is a required check that failed.
func (r Result) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Config names the environment to validate.
type Config struct {
	DataDir       string
	EmbeddingHost string
	LLMHost       string
	HostTimeout   time.Duration
}

// Checker runs the preflight checks.
type Checker struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Checker {
	if cfg.HostTimeout <= 0 {
		cfg.HostTimeout = 3 * time.Second
	}
	return &Checker{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HostTimeout},
	}
}

// RunAll runs every check and returns the results in a stable order.
func (c *Checker) RunAll(ctx context.Context) []Result {
	results := []Result{
		c.CheckDataDir(),
		c.CheckDiskSpace(),
		c.CheckFileDescriptors(),
	}
	if c.cfg.EmbeddingHost != "" {
		results = append(results, c.checkHost(ctx, "embedding_host", c.cfg.EmbeddingHost,
			"embedding generation falls back to the static provider"))
	}
	if c.cfg.LLMHost != "" {
		results = append(results, c.checkHost(ctx, "llm_host", c.cfg.LLMHost,
			"answers degrade to extractive snippets"))
	}
	return results
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []Result) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// Summary collapses results into ready, ready_with_warnings, or failed.
func Summary(results []Result) string {
	warned := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || r.Status == StatusFail {
			warned = true
		}
	}
	if warned {
		return "ready_with_warnings"
	}
	return "ready"
}

// CheckDataDir verifies the data directory exists and is writable.
func (c *Checker) CheckDataDir() Result {
	result := Result{Name: "data_dir", Required: true}

	if err := os.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", c.cfg.DataDir, err)
		return result
	}
	probe := filepath.Join(c.cfg.DataDir, ".preflight")
	f, err := os.Create(probe)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot write to %s: %v", c.cfg.DataDir, err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(probe)

	result.Status = StatusPass
	result.Message = c.cfg.DataDir + " is writable"
	return result
}

func (c *Checker) checkHost(ctx context.Context, name, host, consequence string) Result {
	result := Result{Name: name}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host, nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("bad host %q: %v", host, err)
		result.Details = consequence
		return result
	}
	resp, err := c.client.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s unreachable: %v", host, err)
		result.Details = consequence
		return result
	}
	_ = resp.Body.Close()

	result.Status = StatusPass
	result.Message = host + " reachable"
	return result
}
