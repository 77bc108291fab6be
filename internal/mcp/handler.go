package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

// Handler defaults.
const (
	DefaultWorkerPool    = 64
	DefaultMaxQueueDepth = 256
	DefaultToolTimeout   = 30 * time.Second
)

// HandlerConfig sizes the worker pool and sets the shared retry and timeout
// discipline for tool execution.
type HandlerConfig struct {
	WorkerPool    int
	MaxQueueDepth int
	ToolTimeout   time.Duration
	Retry         lenserr.RetryConfig
}

func (c HandlerConfig) withDefaults() HandlerConfig {
	if c.WorkerPool <= 0 {
		c.WorkerPool = DefaultWorkerPool
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = lenserr.DefaultRetryConfig()
	}
	return c
}

// Handler executes tools from a registry on a bounded worker pool with
// per-tool timeouts and retry of transient failures.
type Handler struct {
	registry *Registry
	cfg      HandlerConfig
	workers  *semaphore.Weighted
	queued   atomic.Int64
	logger   *slog.Logger
}

func NewHandler(registry *Registry, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Handler{
		registry: registry,
		cfg:      cfg,
		workers:  semaphore.NewWeighted(int64(cfg.WorkerPool)),
		logger:   logger,
	}
}

// Registry exposes the underlying tool registry.
func (h *Handler) Registry() *Registry { return h.registry }

// Execute runs the named tool under the handler's retry and timeout policy.
// The returned Execution records the attempt history even when the call
// fails.
func (h *Handler) Execute(ctx context.Context, toolName string, params map[string]any) (*ToolResponse, *Execution, error) {
	exec := newExecution(toolName)

	tool, err := h.registry.Get(toolName)
	if err != nil {
		exec.transition(StateRunning)
		exec.transition(StateFailedPermanent)
		return nil, exec, err
	}

	if h.queued.Load() >= int64(h.cfg.MaxQueueDepth) {
		return nil, exec, lenserr.New(lenserr.ErrCodeQueueFull,
			fmt.Sprintf("tool queue is full (depth %d)", h.cfg.MaxQueueDepth), nil)
	}
	h.queued.Add(1)
	err = h.workers.Acquire(ctx, 1)
	h.queued.Add(-1)
	if err != nil {
		return nil, exec, lenserr.Wrap(lenserr.ErrCodeInternal, err)
	}
	defer h.workers.Release(1)

	var lastErr error
	for attempt := 0; attempt < h.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				exec.transition(StateFailedPermanent)
				return nil, exec, ctx.Err()
			case <-time.After(h.cfg.Retry.Delay(attempt - 1)):
			}
		}
		exec.transition(StateRunning)

		resp, attemptErr := h.runOnce(ctx, tool, params)
		if attemptErr == nil {
			exec.transition(StateSuccess)
			return resp, exec, nil
		}
		lastErr = attemptErr

		last := attempt == h.cfg.Retry.MaxAttempts-1
		switch {
		case isTimeout(attemptErr) && last:
			exec.transition(StateTimedOut)
			return nil, exec, attemptErr
		case errors.Is(attemptErr, context.Canceled), !lenserr.IsRetryable(attemptErr):
			exec.transition(StateFailedPermanent)
			return nil, exec, attemptErr
		case last:
			exec.transition(StateFailedPermanent)
			return nil, exec, attemptErr
		}
		exec.transition(StateFailedRetryable)
		h.logger.Debug("retrying tool",
			"tool", toolName, "attempt", exec.Attempts, "error", attemptErr)
	}
	return nil, exec, lastErr
}

// runOnce executes a single attempt under the per-tool timeout. A deadline
// hit is reported as a retryable timeout error.
func (h *Handler) runOnce(ctx context.Context, tool Tool, params map[string]any) (*ToolResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, h.cfg.ToolTimeout)
	defer cancel()

	type outcome struct {
		resp *ToolResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := tool.Execute(attemptCtx, params)
		done <- outcome{resp, err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, lenserr.TimeoutError(fmt.Sprintf("tool %s exceeded %s", tool.Name(), h.cfg.ToolTimeout))
		}
		return out.resp, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, lenserr.TimeoutError(fmt.Sprintf("tool %s exceeded %s", tool.Name(), h.cfg.ToolTimeout))
	}
}

func isTimeout(err error) bool {
	return lenserr.GetCode(err) == lenserr.ErrCodeToolTimeout
}

// Process executes the request's plan in ascending priority order. Steps
// with equal priority run concurrently. A permanent failure of a required
// step aborts every remaining step; the skipped steps are recorded as not
// executed and the response degrades to partial success.
func (h *Handler) Process(ctx context.Context, req *MCPRequest) (*MCPResponse, error) {
	if req == nil || req.Query == "" {
		return nil, lenserr.ValidationError("request query must not be empty", nil)
	}

	start := time.Now()
	resp := &MCPResponse{
		RequestID:   req.ID,
		ToolResults: make(map[string]*ToolResponse, len(req.ExecutionPlan)),
		Metadata:    ResponseMetadata{ToolsPlanned: len(req.ExecutionPlan)},
	}

	plan := make([]PlanStep, len(req.ExecutionPlan))
	copy(plan, req.ExecutionPlan)
	sort.SliceStable(plan, func(i, j int) bool { return plan[i].Priority < plan[j].Priority })

	var mu sync.Mutex
	requiredFailed := false

	for i := 0; i < len(plan); {
		j := i
		for j < len(plan) && plan[j].Priority == plan[i].Priority {
			j++
		}

		var wg sync.WaitGroup
		for _, step := range plan[i:j] {
			if requiredFailed {
				resp.Metadata.ToolsSkipped++
				resp.ToolResults[step.ToolName] = &ToolResponse{
					Success: false,
					Message: "skipped after required tool failure",
				}
				continue
			}

			wg.Add(1)
			go func(step PlanStep) {
				defer wg.Done()
				result, exec, err := h.Execute(ctx, step.ToolName, step.Params)

				mu.Lock()
				defer mu.Unlock()
				resp.Metadata.ToolsExecuted++
				if err != nil {
					resp.Metadata.ToolsFailed++
					resp.ToolResults[step.ToolName] = &ToolResponse{
						Success: false,
						Message: fmt.Sprintf("tool failed in state %s after %d attempts", exec.State, exec.Attempts),
						Errors:  []string{err.Error()},
					}
					if step.Required {
						requiredFailed = true
					}
					h.logger.Warn("tool execution failed",
						"request", req.ID, "tool", step.ToolName,
						"state", string(exec.State), "error", err)
					return
				}
				resp.Metadata.ToolsSucceeded++
				resp.ToolResults[step.ToolName] = result
			}(step)
		}
		wg.Wait()
		i = j
	}

	resp.Metadata.Elapsed = time.Since(start)
	switch {
	case resp.Metadata.ToolsFailed == 0 && resp.Metadata.ToolsSkipped == 0:
		resp.Status = StatusSuccess
	case resp.Metadata.ToolsSucceeded > 0 || resp.Metadata.ToolsSkipped > 0:
		resp.Status = StatusPartialSuccess
	default:
		resp.Status = StatusError
	}
	return resp, nil
}
