// Package httpapi exposes the question-answering engine, the tool
// handler, and the ingestion pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/codelens-ai/codelens/internal/engine"
	lenserr "github.com/codelens-ai/codelens/internal/errors"
	"github.com/codelens-ai/codelens/internal/index"
	"github.com/codelens-ai/codelens/internal/llm"
	"github.com/codelens-ai/codelens/internal/mcp"
	"github.com/codelens-ai/codelens/internal/store"
	"github.com/codelens-ai/codelens/internal/telemetry"
)

const (
	requestSizeLimit = 1 << 20
	requestTimeout   = 120 * time.Second
)

// Server routes HTTP requests to the engine and its collaborators.
type Server struct {
	engine   *engine.Engine
	handler  *mcp.Handler
	pipeline *index.Pipeline
	store    *store.Store
	llm      llm.Service
	metrics  *telemetry.Recorder
	logger   *slog.Logger
	mux      *chi.Mux
}

// Config carries the server's collaborators. Engine, handler, and store
// are required; the rest degrade gracefully when absent.
type Config struct {
	Engine   *engine.Engine
	Handler  *mcp.Handler
	Pipeline *index.Pipeline
	Store    *store.Store
	LLM      llm.Service
	Metrics  *telemetry.Recorder
	Logger   *slog.Logger
}

// NewServer builds the router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil || cfg.Handler == nil || cfg.Store == nil {
		return nil, lenserr.ValidationError("http server requires engine, handler, and store", nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		engine:   cfg.Engine,
		handler:  cfg.Handler,
		pipeline: cfg.Pipeline,
		store:    cfg.Store,
		llm:      cfg.LLM,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.Use(chimiddleware.Recoverer)
	s.mux.Use(chimiddleware.RequestID)
	s.mux.Use(chimiddleware.Timeout(requestTimeout))
	s.mux.Use(chimiddleware.RequestSize(requestSizeLimit))
	s.mux.Use(chimiddleware.Heartbeat("/ping"))

	s.mux.Get("/health", s.handleHealth)
	s.mux.Get("/metrics", s.handleMetrics)
	s.mux.Post("/chat", s.handleChat)
	s.mux.Post("/mcp/query", s.handleMCPQuery)
	s.mux.Post("/mcp/request", s.handleMCPRequest)
	s.mux.Post("/hybrid/query", s.handleHybridQuery)
	s.mux.Post("/hybrid/tools", s.handleHybridTools)
	s.mux.Post("/generate-embeddings", s.handleGenerateEmbeddings)
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type chatRequest struct {
	Query            string `json:"query"`
	ContextType      string `json:"contextType,omitempty"`
	ContextID        string `json:"contextId,omitempty"`
	IncludeFullFiles bool   `json:"includeFullFiles,omitempty"`
}

type chatSources struct {
	Articles      int `json:"articles"`
	CodeSnippets  int `json:"code_snippets"`
	Relationships int `json:"relationships"`
	WorkflowSteps int `json:"workflow_steps"`
}

type chatResponse struct {
	Query                 string            `json:"query"`
	Answer                string            `json:"answer"`
	Success               bool              `json:"success"`
	Sources               chatSources       `json:"sources"`
	ProcessingTimeMillis  int64             `json:"processing_time_ms"`
	Confidence            float64           `json:"confidence"`
	ConfidenceRating      string            `json:"confidence_rating"`
	ConfidenceExplanation string            `json:"confidence_explanation"`
	ToolErrors            map[string]string `json:"tool_errors,omitempty"`
	FallbackUsed          bool              `json:"fallback_used,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, lenserr.ErrCodeInvalidInput, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, lenserr.ErrCodeQueryEmpty, "query is required")
		return
	}

	opts := engine.Options{IncludeFullFiles: req.IncludeFullFiles}
	if req.ContextType == "repository" && req.ContextID != "" {
		opts.Namespaces = []string{req.ContextID}
	}

	result, err := s.engine.Query(r.Context(), req.Query, opts)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.record(req.Query, result)

	s.writeJSON(w, http.StatusOK, chatResponse{
		Query:                 result.Query,
		Answer:                result.Answer,
		Success:               result.Success,
		Sources:               chatSources{CodeSnippets: len(result.Snippets)},
		ProcessingTimeMillis:  result.ProcessingTime.Milliseconds(),
		Confidence:            result.Confidence.Value,
		ConfidenceRating:      result.Confidence.Rating,
		ConfidenceExplanation: result.Confidence.Explanation,
		ToolErrors:            result.ToolErrors,
		FallbackUsed:          result.FallbackUsed,
	})
}

func (s *Server) handleMCPQuery(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		s.writeError(w, http.StatusBadRequest, lenserr.ErrCodeQueryEmpty, "query parameter is required")
		return
	}

	plan := s.engine.Plan(query, nil)
	resp, err := s.handler.Process(r.Context(), mcp.NewRequest(query, plan))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMCPRequest(w http.ResponseWriter, r *http.Request) {
	var req mcp.MCPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, lenserr.ErrCodeInvalidInput, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, lenserr.ErrCodeQueryEmpty, "query is required")
		return
	}
	if req.ID == "" {
		req.ID = mcp.NewRequest(req.Query, nil).ID
	}

	resp, err := s.handler.Process(r.Context(), &req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type hybridRequest struct {
	Query   string   `json:"query"`
	Context []string `json:"context,omitempty"`
}

func (s *Server) handleHybridQuery(w http.ResponseWriter, r *http.Request) {
	var req hybridRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, lenserr.ErrCodeInvalidInput, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, lenserr.ErrCodeQueryEmpty, "query is required")
		return
	}

	result, err := s.engine.Query(r.Context(), req.Query, engine.Options{Namespaces: req.Context})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.record(req.Query, result)
	s.writeJSON(w, http.StatusOK, result)
}

type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []mcp.Parameter `json:"parameters,omitempty"`
}

func (s *Server) handleHybridTools(w http.ResponseWriter, r *http.Request) {
	tools := s.engine.Tools()
	infos := make([]toolInfo, 0, len(tools))
	for _, t := range tools {
		infos = append(infos, toolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": infos})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	sizes := s.store.Sizes()
	total := 0
	for _, n := range sizes {
		total += n
	}

	payload := map[string]any{
		"namespaces":         sizes,
		"total_chunks":       total,
		"embedding_failures": s.store.Failures().Count(),
	}
	if s.llm != nil {
		payload["llm"] = map[string]any{
			"model":     s.llm.ModelName(),
			"available": s.llm.Available(r.Context()),
		}
	}
	if s.metrics != nil {
		payload["queries"] = s.metrics.Snapshot()
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleGenerateEmbeddings(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.writeError(w, http.StatusServiceUnavailable, lenserr.ErrCodeInternal, "ingestion pipeline is not configured")
		return
	}
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		s.writeError(w, http.StatusBadRequest, lenserr.ErrCodeInvalidInput, "path parameter is required")
		return
	}
	recursive := r.URL.Query().Get("recursive") != "false"

	report, err := s.pipeline.Run(r.Context(), path, recursive)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// record feeds the telemetry recorder; absent recorder means no-op.
func (s *Server) record(query string, result *engine.QueryResult) {
	if s.metrics == nil {
		return
	}
	categories := make([]string, len(result.Categories))
	for i, c := range result.Categories {
		categories[i] = string(c)
	}
	failures := 0
	for _, tr := range result.ToolResults {
		if !tr.Success {
			failures++
		}
	}
	s.metrics.Record(telemetry.QuestionEvent{
		Query:        query,
		Categories:   categories,
		Confidence:   result.Confidence.Value,
		SnippetCount: len(result.Snippets),
		ToolFailures: failures,
		FallbackUsed: result.FallbackUsed,
		Latency:      result.ProcessingTime,
		Timestamp:    time.Now(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("writing response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

// writeEngineError maps structured error codes to HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	code := lenserr.GetCode(err)
	status := http.StatusInternalServerError
	switch {
	case code == lenserr.ErrCodeQueueFull:
		status = http.StatusTooManyRequests
	case lenserr.IsNotFound(err):
		status = http.StatusNotFound
	case strings.HasPrefix(code, "ERR_4"):
		status = http.StatusBadRequest
	}
	s.writeError(w, status, code, err.Error())
}
