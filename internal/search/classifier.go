package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Default classifier configuration values.
const (
	DefaultClassifierModel     = "llama3.2:1b"
	DefaultClassifierTimeout   = 2 * time.Second
	DefaultClassifierCacheSize = 10000
	DefaultOllamaHost          = "http://localhost:11434"
)

// conceptualTriggers mark questions about purpose and design.
var conceptualTriggers = []string{
	"how to", "what is", "explain", "purpose", "architecture", "capability",
}

// implementationTriggers mark questions about concrete code artifacts.
var implementationTriggers = []string{
	"implementation", "code for", "where is", "method", "class", "interface",
}

// PatternClassifier labels queries by substring matching. Both sets hitting,
// or neither, yields MIXED.
type PatternClassifier struct{}

// NewPatternClassifier creates a pattern-based classifier.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

// Classify labels the query by trigger substrings.
func (c *PatternClassifier) Classify(ctx context.Context, query string) (QueryType, error) {
	lower := strings.ToLower(query)

	conceptual := containsAny(lower, conceptualTriggers)
	implementation := containsAny(lower, implementationTriggers)

	switch {
	case conceptual && !implementation:
		return QueryTypeConceptual, nil
	case implementation && !conceptual:
		return QueryTypeImplementation, nil
	default:
		return QueryTypeMixed, nil
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var _ Classifier = (*PatternClassifier)(nil)

// ClassifierConfig holds configuration for the LLM classifier.
type ClassifierConfig struct {
	Model     string
	Timeout   time.Duration
	CacheSize int
	Host      string
}

// classificationPrompt asks the model for exactly one label.
const classificationPrompt = `You are a code search query classifier. Classify the query into exactly ONE category:

CONCEPTUAL - asks about purpose, design, or architecture ("how does auth work", "explain the retry policy")
IMPLEMENTATION - asks for concrete code ("where is UserService.save", "code for the HNSW index")
MIXED - benefits from both, or is ambiguous

Respond with ONLY one word: CONCEPTUAL, IMPLEMENTATION, or MIXED.

Query: %s`

// LLMClassifier asks a small local model to label the query.
type LLMClassifier struct {
	client *http.Client
	config ClassifierConfig
}

// NewLLMClassifier creates an LLM-backed classifier.
func NewLLMClassifier(config ClassifierConfig) *LLMClassifier {
	if config.Model == "" {
		config.Model = DefaultClassifierModel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultClassifierTimeout
	}
	if config.Host == "" {
		config.Host = DefaultOllamaHost
	}
	return &LLMClassifier{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Classify labels the query via the model. Any failure is returned so the
// caller can fall back to patterns.
func (c *LLMClassifier) Classify(ctx context.Context, query string) (QueryType, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.config.Model,
		Prompt: fmt.Sprintf(classificationPrompt, query),
		Stream: false,
	})
	if err != nil {
		return QueryTypeMixed, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return QueryTypeMixed, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return QueryTypeMixed, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return QueryTypeMixed, fmt.Errorf("classifier status %d", resp.StatusCode)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return QueryTypeMixed, err
	}
	return parseLabel(result.Response)
}

// parseLabel extracts the label from a model response, tolerating extra
// prose around the keyword.
func parseLabel(response string) (QueryType, error) {
	upper := strings.ToUpper(strings.TrimSpace(response))
	switch {
	case strings.Contains(upper, string(QueryTypeConceptual)):
		return QueryTypeConceptual, nil
	case strings.Contains(upper, string(QueryTypeImplementation)):
		return QueryTypeImplementation, nil
	case strings.Contains(upper, string(QueryTypeMixed)):
		return QueryTypeMixed, nil
	default:
		return QueryTypeMixed, fmt.Errorf("unrecognized classifier response: %q", response)
	}
}

var _ Classifier = (*LLMClassifier)(nil)

// HybridClassifier tries the LLM first and falls back to patterns.
// Results are cached in an LRU cache keyed by the normalized query.
type HybridClassifier struct {
	llm      *LLMClassifier
	patterns *PatternClassifier
	cache    *lru.Cache[string, QueryType]
}

// NewHybridClassifier creates a classifier with pattern fallback.
// Pass nil llm to run pattern-only with caching.
func NewHybridClassifier(llm *LLMClassifier, cacheSize int) *HybridClassifier {
	if cacheSize <= 0 {
		cacheSize = DefaultClassifierCacheSize
	}
	cache, _ := lru.New[string, QueryType](cacheSize)
	return &HybridClassifier{
		llm:      llm,
		patterns: NewPatternClassifier(),
		cache:    cache,
	}
}

// Classify returns the cached label or computes one.
func (h *HybridClassifier) Classify(ctx context.Context, query string) (QueryType, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if key == "" {
		return QueryTypeMixed, nil
	}
	if qt, ok := h.cache.Get(key); ok {
		return qt, nil
	}

	if h.llm != nil {
		if qt, err := h.llm.Classify(ctx, query); err == nil {
			h.cache.Add(key, qt)
			return qt, nil
		}
	}

	qt, err := h.patterns.Classify(ctx, query)
	if err == nil {
		h.cache.Add(key, qt)
	}
	return qt, err
}

var _ Classifier = (*HybridClassifier)(nil)
