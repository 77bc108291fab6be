package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codelens-ai/codelens/pkg/version"
)

// Server exposes the registered analysis tools over the Model Context
// Protocol so AI clients can drive them directly. Every call still goes
// through the Handler's retry and timeout discipline.
type Server struct {
	mcp     *mcp.Server
	handler *Handler
	logger  *slog.Logger
}

// CallPathInput defines the input schema for the call-path tool.
type CallPathInput struct {
	Method         string `json:"method" jsonschema:"method key to start from, e.g. com.app.OrderService.place"`
	MaxDepth       int    `json:"max_depth,omitempty" jsonschema:"traversal depth bound, default from configuration"`
	IncludeCallers bool   `json:"include_callers,omitempty" jsonschema:"also list direct callers of the method"`
}

// ErrorChainInput defines the input schema for the error-chain tool.
type ErrorChainInput struct {
	ExceptionClass     string `json:"exception_class" jsonschema:"fully qualified or simple exception class name"`
	IncludeHierarchy   bool   `json:"include_hierarchy,omitempty" jsonschema:"include the class hierarchy up to Throwable"`
	IncludePropagation bool   `json:"include_propagation,omitempty" jsonschema:"include propagation chains through the call graph"`
}

// ConfigImpactInput defines the input schema for the config-impact tool.
type ConfigImpactInput struct {
	ConfigKey  string   `json:"config_key" jsonschema:"configuration key to trace, e.g. payment.gateway.timeout"`
	Namespaces []string `json:"namespaces,omitempty" jsonschema:"restrict to these repository namespaces"`
}

// CrossRepoInput defines the input schema for the cross-repo tool.
type CrossRepoInput struct {
	Query      string   `json:"query" jsonschema:"search text"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Namespaces []string `json:"namespaces,omitempty" jsonschema:"restrict to these repository namespaces"`
}

// ToolOutput is the shared output schema: the uniform tool envelope.
type ToolOutput struct {
	Success  bool           `json:"success" jsonschema:"whether the tool completed"`
	Message  string         `json:"message,omitempty" jsonschema:"one-line summary of the result"`
	Data     map[string]any `json:"data,omitempty" jsonschema:"tool-specific result payload"`
	Warnings []string       `json:"warnings,omitempty" jsonschema:"non-fatal findings"`
	Errors   []string       `json:"errors,omitempty" jsonschema:"failure details"`
}

// NewServer creates the MCP server and registers every tool currently in
// the handler's registry.
func NewServer(handler *Handler, logger *slog.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		handler: handler,
		logger:  logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "CodeLens",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	for _, tool := range s.handler.Registry().List() {
		switch tool.Name() {
		case ToolCallPath:
			mcp.AddTool(s.mcp, &mcp.Tool{
				Name:        tool.Name(),
				Description: tool.Description(),
			}, s.callPathHandler)
		case ToolErrorChain:
			mcp.AddTool(s.mcp, &mcp.Tool{
				Name:        tool.Name(),
				Description: tool.Description(),
			}, s.errorChainHandler)
		case ToolConfigImpact:
			mcp.AddTool(s.mcp, &mcp.Tool{
				Name:        tool.Name(),
				Description: tool.Description(),
			}, s.configImpactHandler)
		case ToolCrossRepo:
			mcp.AddTool(s.mcp, &mcp.Tool{
				Name:        tool.Name(),
				Description: tool.Description(),
			}, s.crossRepoHandler)
		default:
			s.logger.Warn("tool has no MCP schema, skipping", "name", tool.Name())
			continue
		}
		s.logger.Debug("registered MCP tool", slog.String("name", tool.Name()))
	}
	s.logger.Info("MCP tools registered", slog.Int("count", s.handler.Registry().Len()))
}

func (s *Server) callPathHandler(ctx context.Context, req *mcp.CallToolRequest, input CallPathInput) (*mcp.CallToolResult, ToolOutput, error) {
	params := map[string]any{
		"method":          input.Method,
		"max_depth":       input.MaxDepth,
		"include_callers": input.IncludeCallers,
	}
	return s.dispatch(ctx, ToolCallPath, params)
}

func (s *Server) errorChainHandler(ctx context.Context, req *mcp.CallToolRequest, input ErrorChainInput) (*mcp.CallToolResult, ToolOutput, error) {
	params := map[string]any{
		"exception_class":     input.ExceptionClass,
		"include_hierarchy":   input.IncludeHierarchy,
		"include_propagation": input.IncludePropagation,
	}
	return s.dispatch(ctx, ToolErrorChain, params)
}

func (s *Server) configImpactHandler(ctx context.Context, req *mcp.CallToolRequest, input ConfigImpactInput) (*mcp.CallToolResult, ToolOutput, error) {
	params := map[string]any{
		"config_key": input.ConfigKey,
	}
	if len(input.Namespaces) > 0 {
		params["namespaces"] = input.Namespaces
	}
	return s.dispatch(ctx, ToolConfigImpact, params)
}

func (s *Server) crossRepoHandler(ctx context.Context, req *mcp.CallToolRequest, input CrossRepoInput) (*mcp.CallToolResult, ToolOutput, error) {
	params := map[string]any{
		"query": input.Query,
		"limit": input.Limit,
	}
	if len(input.Namespaces) > 0 {
		params["namespaces"] = input.Namespaces
	}
	return s.dispatch(ctx, ToolCrossRepo, params)
}

// dispatch runs the named tool through the handler and converts the
// envelope to the MCP output schema. Tool failures are reported in-band
// rather than as protocol errors.
func (s *Server) dispatch(ctx context.Context, name string, params map[string]any) (*mcp.CallToolResult, ToolOutput, error) {
	resp, exec, err := s.handler.Execute(ctx, name, params)
	if err != nil {
		return nil, ToolOutput{
			Success: false,
			Message: fmt.Sprintf("tool failed in state %s after %d attempts", exec.State, exec.Attempts),
			Errors:  []string{err.Error()},
		}, nil
	}
	return nil, ToolOutput{
		Success:  resp.Success,
		Message:  resp.Message,
		Data:     resp.Data,
		Warnings: resp.Warnings,
		Errors:   resp.Errors,
	}, nil
}

// Serve runs the server over the given transport until the context is
// cancelled. Only stdio is supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
