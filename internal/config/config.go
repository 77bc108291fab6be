// Package config loads and validates the CodeLens configuration.
//
// Configuration is a single immutable value loaded at startup from an
// optional YAML file, then overridden by CODELENS_* environment variables.
// Later overrides rebuild a new Config; the live value is never mutated.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

// Config is the complete CodeLens configuration.
type Config struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Chunking    ChunkingConfig    `yaml:"chunking" json:"chunking"`
	VectorStore VectorStoreConfig `yaml:"vector_store" json:"vector_store"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	CallPath    CallPathConfig    `yaml:"callpath" json:"callpath"`
	ErrorChain  ErrorChainConfig  `yaml:"errorchain" json:"errorchain"`
	MCP         MCPConfig         `yaml:"mcp" json:"mcp"`
	Hybrid      HybridConfig      `yaml:"hybrid" json:"hybrid"`
	Confidence  ConfidenceConfig  `yaml:"confidence" json:"confidence"`
	LLM         LLMConfig         `yaml:"llm" json:"llm"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// ChunkingConfig controls deterministic file partitioning.
type ChunkingConfig struct {
	MaxChunkSize             int `yaml:"max_chunk_size" json:"max_chunk_size"`
	OverlapSize              int `yaml:"overlap_size" json:"overlap_size"`
	MinChunkSize             int `yaml:"min_chunk_size" json:"min_chunk_size"`
	ContextOverlapPercentage int `yaml:"context_overlap_percentage" json:"context_overlap_percentage"`
}

// VectorStoreConfig controls the per-namespace ANN index.
type VectorStoreConfig struct {
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Engine selects the ANN backend. Only "hnsw" is supported.
	Engine string `yaml:"engine" json:"engine"`
	// Dimensions is the embedding dimension D, fixed at ingest.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// FlushInterval is the fsync batching window for persistence.
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	// MaxResidentNamespaces bounds namespaces held in memory; least-recently-
	// queried namespaces beyond this are evicted (index persisted, metadata kept).
	MaxResidentNamespaces int `yaml:"max_resident_namespaces" json:"max_resident_namespaces"`
}

// EmbeddingsConfig configures the embedding provider client.
type EmbeddingsConfig struct {
	Provider         string        `yaml:"provider" json:"provider"` // "http" or "static"
	Host             string        `yaml:"host" json:"host"`
	Model            string        `yaml:"model" json:"model"`
	MaxAttempts      int           `yaml:"max_attempts" json:"max_attempts"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	TokensPerSecond  int           `yaml:"tokens_per_second" json:"tokens_per_second"`
	TokensPerMinute  int           `yaml:"tokens_per_minute" json:"tokens_per_minute"`
}

// CallPathConfig controls the bytecode call-graph analyzer.
type CallPathConfig struct {
	MaxDepth         int      `yaml:"max_depth" json:"max_depth"`
	MaxNodes         int      `yaml:"max_nodes" json:"max_nodes"`
	IncludeLibraries bool     `yaml:"include_libraries" json:"include_libraries"`
	BasePackage      string   `yaml:"base_package" json:"base_package"`
	ClassPaths       []string `yaml:"class_paths" json:"class_paths"`
}

// ErrorChainConfig controls the source-level exception analyzer.
type ErrorChainConfig struct {
	ScanPaths           []string `yaml:"scan_paths" json:"scan_paths"`
	CacheEnabled        bool     `yaml:"cache_enabled" json:"cache_enabled"`
	MaxPropagationDepth int      `yaml:"max_propagation_depth" json:"max_propagation_depth"`
}

// MCPConfig controls tool execution under the registry handler.
type MCPConfig struct {
	Retry         RetryConfig   `yaml:"retry" json:"retry"`
	WorkerPool    int           `yaml:"worker_pool" json:"worker_pool"`
	MaxQueueDepth int           `yaml:"max_queue_depth" json:"max_queue_depth"`
	ToolTimeout   time.Duration `yaml:"tool_timeout" json:"tool_timeout"`
}

// RetryConfig mirrors mcp.retry.* keys.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts" json:"max_attempts"`
	BaseDelayMS int     `yaml:"base_delay_ms" json:"base_delay_ms"`
	Jitter      float64 `yaml:"jitter" json:"jitter"`
}

// HybridConfig controls the hybrid query engine.
type HybridConfig struct {
	MaxExecutionTimeSeconds int `yaml:"max_execution_time_seconds" json:"max_execution_time_seconds"`
	// Classifier selects the query-type classifier: "pattern" (default) or "llm".
	Classifier string `yaml:"classifier" json:"classifier"`
}

// ConfidenceConfig holds component weights and rating thresholds.
// Weights must sum to 1.0; violations are fatal at load.
type ConfidenceConfig struct {
	VectorWeight   float64 `yaml:"vector_weight" json:"vector_weight"`
	ToolWeight     float64 `yaml:"tool_weight" json:"tool_weight"`
	EvidenceWeight float64 `yaml:"evidence_weight" json:"evidence_weight"`
	QueryWeight    float64 `yaml:"query_weight" json:"query_weight"`

	VeryHighThreshold float64 `yaml:"very_high_threshold" json:"very_high_threshold"`
	HighThreshold     float64 `yaml:"high_threshold" json:"high_threshold"`
	MediumThreshold   float64 `yaml:"medium_threshold" json:"medium_threshold"`
	LowThreshold      float64 `yaml:"low_threshold" json:"low_threshold"`
}

// LLMConfig configures the answer-synthesis LLM client (external collaborator).
type LLMConfig struct {
	Host    string        `yaml:"host" json:"host"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir: ".codelens",
		Chunking: ChunkingConfig{
			MaxChunkSize:             8000,
			OverlapSize:              200,
			MinChunkSize:             500,
			ContextOverlapPercentage: 10,
		},
		VectorStore: VectorStoreConfig{
			BatchSize:             32,
			Engine:                "hnsw",
			Dimensions:            768,
			FlushInterval:         30 * time.Second,
			MaxResidentNamespaces: 16,
		},
		Embeddings: EmbeddingsConfig{
			Provider:        "http",
			Host:            "http://localhost:11434",
			Model:           "nomic-embed-text",
			MaxAttempts:     3,
			Timeout:         60 * time.Second,
			TokensPerSecond: 0, // 0 disables the limiter
			TokensPerMinute: 0,
		},
		CallPath: CallPathConfig{
			MaxDepth:         10,
			MaxNodes:         500,
			IncludeLibraries: false,
		},
		ErrorChain: ErrorChainConfig{
			CacheEnabled:        true,
			MaxPropagationDepth: 10,
		},
		MCP: MCPConfig{
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelayMS: 500,
				Jitter:      0.2,
			},
			WorkerPool:    64,
			MaxQueueDepth: 256,
			ToolTimeout:   30 * time.Second,
		},
		Hybrid: HybridConfig{
			MaxExecutionTimeSeconds: 60,
			Classifier:              "pattern",
		},
		Confidence: ConfidenceConfig{
			VectorWeight:      0.40,
			ToolWeight:        0.30,
			EvidenceWeight:    0.20,
			QueryWeight:       0.10,
			VeryHighThreshold: 0.90,
			HighThreshold:     0.75,
			MediumThreshold:   0.50,
			LowThreshold:      0.25,
		},
		LLM: LLMConfig{
			Host:    "http://localhost:11434",
			Model:   "llama3.1:8b",
			Timeout: 120 * time.Second,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from an optional YAML file and applies
// environment overrides. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, lenserr.Wrap(lenserr.ErrCodeConfigNotFound, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, lenserr.ConfigError(fmt.Sprintf("parse %s", path), err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey builds the environment variable name for a config key, e.g.
// "chunking.max-chunk-size" -> CODELENS_CHUNKING_MAX_CHUNK_SIZE.
func envKey(key string) string {
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return "CODELENS_" + strings.ToUpper(key)
}

func envStr(key string, dst *string) {
	if v, ok := os.LookupEnv(envKey(key)); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(envKey(key)); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(envKey(key)); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(envKey(key)); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envList(key string, dst *[]string) {
	if v, ok := os.LookupEnv(envKey(key)); ok {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

// applyEnvOverrides applies CODELENS_* environment variables.
// Every documented configuration key can be overridden.
func (c *Config) applyEnvOverrides() {
	envStr("data-dir", &c.DataDir)

	envInt("chunking.max-chunk-size", &c.Chunking.MaxChunkSize)
	envInt("chunking.overlap-size", &c.Chunking.OverlapSize)
	envInt("chunking.min-chunk-size", &c.Chunking.MinChunkSize)
	envInt("chunking.context-overlap-percentage", &c.Chunking.ContextOverlapPercentage)

	envInt("vector-store.batch-size", &c.VectorStore.BatchSize)
	envStr("vector-store.engine", &c.VectorStore.Engine)
	envInt("vector-store.dimensions", &c.VectorStore.Dimensions)

	envStr("embeddings.provider", &c.Embeddings.Provider)
	envStr("embeddings.host", &c.Embeddings.Host)
	envStr("embeddings.model", &c.Embeddings.Model)
	envInt("embeddings.max-attempts", &c.Embeddings.MaxAttempts)
	envInt("embeddings.tokens-per-second", &c.Embeddings.TokensPerSecond)
	envInt("embeddings.tokens-per-minute", &c.Embeddings.TokensPerMinute)

	envInt("callpath.max-depth", &c.CallPath.MaxDepth)
	envInt("callpath.max-nodes", &c.CallPath.MaxNodes)
	envBool("callpath.include-libraries", &c.CallPath.IncludeLibraries)
	envStr("callpath.base-package", &c.CallPath.BasePackage)
	envList("callpath.class-paths", &c.CallPath.ClassPaths)

	envList("errorchain.scan-paths", &c.ErrorChain.ScanPaths)
	envBool("errorchain.cache-enabled", &c.ErrorChain.CacheEnabled)
	envInt("errorchain.max-propagation-depth", &c.ErrorChain.MaxPropagationDepth)

	envInt("mcp.retry.max-attempts", &c.MCP.Retry.MaxAttempts)
	envInt("mcp.retry.base-delay-ms", &c.MCP.Retry.BaseDelayMS)
	envFloat("mcp.retry.jitter", &c.MCP.Retry.Jitter)
	envInt("mcp.worker-pool", &c.MCP.WorkerPool)
	envInt("mcp.max-queue-depth", &c.MCP.MaxQueueDepth)

	envInt("hybrid.max-execution-time-seconds", &c.Hybrid.MaxExecutionTimeSeconds)
	envStr("hybrid.classifier", &c.Hybrid.Classifier)

	envFloat("confidence.vector-weight", &c.Confidence.VectorWeight)
	envFloat("confidence.tool-weight", &c.Confidence.ToolWeight)
	envFloat("confidence.evidence-weight", &c.Confidence.EvidenceWeight)
	envFloat("confidence.query-weight", &c.Confidence.QueryWeight)
	envFloat("confidence.very-high-threshold", &c.Confidence.VeryHighThreshold)
	envFloat("confidence.high-threshold", &c.Confidence.HighThreshold)
	envFloat("confidence.medium-threshold", &c.Confidence.MediumThreshold)
	envFloat("confidence.low-threshold", &c.Confidence.LowThreshold)

	envStr("llm.host", &c.LLM.Host)
	envStr("llm.model", &c.LLM.Model)

	envStr("server.host", &c.Server.Host)
	envInt("server.port", &c.Server.Port)

	envStr("logging.level", &c.Logging.Level)
	envStr("logging.file-path", &c.Logging.FilePath)
}

// Validate checks invariants that must hold at startup.
// Violations are ConfigurationErrors and fatal.
func (c *Config) Validate() error {
	if c.Chunking.MaxChunkSize <= 0 {
		return lenserr.ConfigError("chunking.max-chunk-size must be positive", nil)
	}
	if c.Chunking.OverlapSize < 0 || c.Chunking.OverlapSize >= c.Chunking.MaxChunkSize {
		return lenserr.ConfigError("chunking.overlap-size must be in [0, max-chunk-size)", nil)
	}
	if c.Chunking.MinChunkSize < 0 || c.Chunking.MinChunkSize > c.Chunking.MaxChunkSize {
		return lenserr.ConfigError("chunking.min-chunk-size must be in [0, max-chunk-size]", nil)
	}
	if p := c.Chunking.ContextOverlapPercentage; p < 0 || p > 100 {
		return lenserr.ConfigError("chunking.context-overlap-percentage must be in [0, 100]", nil)
	}

	if c.VectorStore.Engine != "hnsw" {
		return lenserr.ConfigError(fmt.Sprintf("vector-store.engine %q is not supported", c.VectorStore.Engine), nil)
	}
	if c.VectorStore.Dimensions <= 0 {
		return lenserr.ConfigError("vector-store.dimensions must be positive", nil)
	}
	if c.VectorStore.BatchSize <= 0 {
		return lenserr.ConfigError("vector-store.batch-size must be positive", nil)
	}

	sum := c.Confidence.VectorWeight + c.Confidence.ToolWeight +
		c.Confidence.EvidenceWeight + c.Confidence.QueryWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return lenserr.New(lenserr.ErrCodeWeightsInvalid,
			fmt.Sprintf("confidence weights must sum to 1.0, got %.4f", sum), nil)
	}
	th := c.Confidence
	if !(th.VeryHighThreshold > th.HighThreshold &&
		th.HighThreshold > th.MediumThreshold &&
		th.MediumThreshold > th.LowThreshold &&
		th.LowThreshold > 0) {
		return lenserr.ConfigError("confidence thresholds must be strictly decreasing and positive", nil)
	}

	if c.MCP.Retry.MaxAttempts <= 0 {
		return lenserr.ConfigError("mcp.retry.max-attempts must be positive", nil)
	}
	if j := c.MCP.Retry.Jitter; j < 0 || j >= 1 {
		return lenserr.ConfigError("mcp.retry.jitter must be in [0, 1)", nil)
	}
	if c.Hybrid.MaxExecutionTimeSeconds <= 0 {
		return lenserr.ConfigError("hybrid.max-execution-time-seconds must be positive", nil)
	}
	switch c.Hybrid.Classifier {
	case "pattern", "llm":
	default:
		return lenserr.ConfigError(fmt.Sprintf("hybrid.classifier %q is not supported", c.Hybrid.Classifier), nil)
	}

	for _, p := range c.ErrorChain.ScanPaths {
		if _, err := os.Stat(p); err != nil {
			return lenserr.New(lenserr.ErrCodeScanPathMissing,
				fmt.Sprintf("errorchain.scan-paths: %s", p), err)
		}
	}

	return nil
}

// RetryConfigFor converts the mcp.retry keys to the runtime retry policy.
func (c *Config) RetryConfigFor() lenserr.RetryConfig {
	return lenserr.RetryConfig{
		MaxAttempts: c.MCP.Retry.MaxAttempts,
		BaseDelay:   time.Duration(c.MCP.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      c.MCP.Retry.Jitter,
	}
}
