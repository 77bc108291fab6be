package cmd

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/codelens-ai/codelens/internal/callgraph"
	"github.com/codelens-ai/codelens/internal/chunk"
	"github.com/codelens-ai/codelens/internal/config"
	"github.com/codelens-ai/codelens/internal/confidence"
	"github.com/codelens-ai/codelens/internal/embed"
	"github.com/codelens-ai/codelens/internal/engine"
	"github.com/codelens-ai/codelens/internal/errorchain"
	"github.com/codelens-ai/codelens/internal/index"
	"github.com/codelens-ai/codelens/internal/llm"
	"github.com/codelens-ai/codelens/internal/mcp"
	"github.com/codelens-ai/codelens/internal/search"
	"github.com/codelens-ai/codelens/internal/store"
	"github.com/codelens-ai/codelens/internal/telemetry"
)

// app wires the full component graph from one Config. Every command
// builds the subset it needs through this type.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	embedder embed.Embedder
	pipeline *index.Pipeline
	graph    *callgraph.Analyzer
	chains   *errorchain.Analyzer
	handler  *mcp.Handler
	engine   *engine.Engine
	llm      llm.Service
	metrics  *telemetry.Recorder
	metricDB *telemetry.SQLiteStore
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	failures := embed.NewFailureLog()
	s, err := store.Open(store.Config{
		Dir:                   cfg.DataDir,
		Dimensions:            embedderDimensions(cfg),
		MaxResidentNamespaces: cfg.VectorStore.MaxResidentNamespaces,
	}, failures, logger)
	if err != nil {
		return nil, err
	}
	a.store = s
	a.embedder = buildEmbedder(cfg, failures)

	a.pipeline, err = index.NewPipeline(index.Config{
		DataDir: cfg.DataDir,
		Chunking: chunk.Options{
			MaxChunkSize:             cfg.Chunking.MaxChunkSize,
			OverlapSize:              cfg.Chunking.OverlapSize,
			MinChunkSize:             cfg.Chunking.MinChunkSize,
			ContextOverlapPercentage: cfg.Chunking.ContextOverlapPercentage,
		},
		BatchSize: cfg.VectorStore.BatchSize,
	}, a.embedder, s, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.graph = callgraph.NewAnalyzer(callgraph.Config{
		ClassRoots:  cfg.CallPath.ClassPaths,
		BasePackage: cfg.CallPath.BasePackage,
		MaxDepth:    cfg.CallPath.MaxDepth,
		MaxNodes:    cfg.CallPath.MaxNodes,
		CachePath:   filepath.Join(cfg.DataDir, "graph", "call-graph.bin"),
	}, logger)
	a.chains = errorchain.NewAnalyzer(cfg.ErrorChain.ScanPaths, a.graph,
		cfg.ErrorChain.MaxPropagationDepth, logger)

	strategy := search.NewHybridStrategy(
		search.NewSemanticStrategy(s),
		search.NewKeywordStrategy(s),
	)

	registry := mcp.NewRegistry()
	for _, tool := range []mcp.Tool{
		mcp.NewCallPathTool(a.graph),
		mcp.NewErrorChainTool(a.chains),
		mcp.NewConfigImpactTool(s),
		mcp.NewCrossRepoTool(strategy, a.embedder),
	} {
		if err := registry.Register(tool); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.handler = mcp.NewHandler(registry, mcp.HandlerConfig{
		WorkerPool:    cfg.MCP.WorkerPool,
		MaxQueueDepth: cfg.MCP.MaxQueueDepth,
		ToolTimeout:   cfg.MCP.ToolTimeout,
		Retry:         cfg.RetryConfigFor(),
	}, logger)

	a.llm = llm.NewClient(llm.ClientConfig{
		Host:    cfg.LLM.Host,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})

	calc, err := confidence.NewCalculator(confidence.Weights{
		Vector:   cfg.Confidence.VectorWeight,
		Tool:     cfg.Confidence.ToolWeight,
		Evidence: cfg.Confidence.EvidenceWeight,
		Query:    cfg.Confidence.QueryWeight,
	}, confidence.Thresholds{
		VeryHigh: cfg.Confidence.VeryHighThreshold,
		High:     cfg.Confidence.HighThreshold,
		Medium:   cfg.Confidence.MediumThreshold,
		Low:      cfg.Confidence.LowThreshold,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.engine, err = engine.New(a.embedder, buildClassifier(cfg), strategy, a.handler,
		nil, a.llm, calc, engine.Config{
			MaxExecutionTime: time.Duration(cfg.Hybrid.MaxExecutionTimeSeconds) * time.Second,
		}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.metricDB, err = telemetry.OpenSQLite(filepath.Join(cfg.DataDir, "metrics.db"))
	if err != nil {
		logger.Warn("metrics store unavailable, keeping metrics in memory", "error", err)
		a.metrics = telemetry.NewRecorder(nil, telemetry.DefaultConfig())
	} else {
		a.metrics = telemetry.NewRecorder(a.metricDB, telemetry.DefaultConfig())
	}
	return a, nil
}

// startAnalyzers kicks off call-graph construction in the background.
func (a *app) startAnalyzers(ctx context.Context) {
	a.graph.Start(ctx)
}

func (a *app) Close() {
	if a.metrics != nil {
		_ = a.metrics.Close()
	}
	if a.metricDB != nil {
		_ = a.metricDB.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func buildEmbedder(cfg *config.Config, failures *embed.FailureLog) embed.Embedder {
	if cfg.Embeddings.Provider == "static" {
		return embed.NewStaticEmbedder()
	}
	return embed.NewClient(embed.ClientConfig{
		Host:            cfg.Embeddings.Host,
		Model:           cfg.Embeddings.Model,
		Dimensions:      cfg.VectorStore.Dimensions,
		MaxAttempts:     cfg.Embeddings.MaxAttempts,
		Timeout:         cfg.Embeddings.Timeout,
		BatchSize:       cfg.VectorStore.BatchSize,
		TokensPerSecond: cfg.Embeddings.TokensPerSecond,
		TokensPerMinute: cfg.Embeddings.TokensPerMinute,
	}, failures)
}

func embedderDimensions(cfg *config.Config) int {
	if cfg.Embeddings.Provider == "static" {
		return embed.StaticDimensions
	}
	return cfg.VectorStore.Dimensions
}

func buildClassifier(cfg *config.Config) search.Classifier {
	if cfg.Hybrid.Classifier == "llm" {
		return search.NewHybridClassifier(search.NewLLMClassifier(search.ClassifierConfig{
			Host:  cfg.LLM.Host,
			Model: cfg.LLM.Model,
		}), 256)
	}
	return search.NewPatternClassifier()
}
