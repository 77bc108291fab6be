package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens-ai/codelens/internal/confidence"
	"github.com/codelens-ai/codelens/internal/embed"
	lenserr "github.com/codelens-ai/codelens/internal/errors"
	"github.com/codelens-ai/codelens/internal/mcp"
	"github.com/codelens-ai/codelens/internal/search"
	"github.com/codelens-ai/codelens/internal/store"
)

type stubTool struct {
	name string
	fn   func(ctx context.Context, params map[string]any) (*mcp.ToolResponse, error)
}

func (t *stubTool) Name() string                { return t.name }
func (t *stubTool) Description() string         { return "stub" }
func (t *stubTool) Parameters() []mcp.Parameter { return nil }

func (t *stubTool) Execute(ctx context.Context, params map[string]any) (*mcp.ToolResponse, error) {
	if t.fn == nil {
		return &mcp.ToolResponse{Success: true, Message: "ok"}, nil
	}
	return t.fn(ctx, params)
}

type stubLLM struct {
	answer string
	err    error
}

func (s *stubLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return s.answer, s.err
}
func (s *stubLLM) Available(ctx context.Context) bool { return s.err == nil }
func (s *stubLLM) ModelName() string                  { return "stub" }

type engineFixture struct {
	engine   *Engine
	store    *store.Store
	embedder embed.Embedder
}

func newFixture(t *testing.T, generator *stubLLM, tools ...mcp.Tool) *engineFixture {
	t.Helper()

	embedder := embed.NewStaticEmbedder()
	s, err := store.Open(store.Config{Dir: t.TempDir(), Dimensions: embedder.Dimensions()}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	registry := mcp.NewRegistry()
	for _, tool := range tools {
		require.NoError(t, registry.Register(tool))
	}
	handler := mcp.NewHandler(registry, mcp.HandlerConfig{
		Retry: lenserr.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond},
	}, nil)

	calc, err := confidence.NewCalculator(confidence.DefaultWeights(), confidence.DefaultThresholds())
	require.NoError(t, err)

	strategy := search.NewHybridStrategy(search.NewSemanticStrategy(s), search.NewKeywordStrategy(s))
	eng, err := New(embedder, nil, strategy, handler, nil, generator, calc, Config{}, nil)
	require.NoError(t, err)

	return &engineFixture{engine: eng, store: s, embedder: embedder}
}

func (f *engineFixture) seed(t *testing.T, id, ns, file, content string) {
	t.Helper()
	ctx := context.Background()
	vec, err := f.embedder.Embed(ctx, content)
	require.NoError(t, err)
	meta := &store.EmbeddingMetadata{
		FilePath:       file,
		StartLine:      1,
		EndLine:        30,
		Content:        content,
		Language:       "java",
		PurposeSummary: "handles payments",
	}
	require.NoError(t, f.store.Store(ctx, id, vec, meta, ns))
}

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		query string
		want  []Category
	}{
		{"where is the payment gateway defined", []Category{CategoryCodeLocation}},
		{"how does OrderService.place() work", []Category{CategoryMethodBehavior}},
		{"why does checkout throw PaymentException", []Category{CategoryErrorDiagnosis}},
		{"what reads the payment.gateway.timeout config", []Category{CategoryConfigImpact}},
		{"trace an order across services end to end", []Category{CategoryCrossComponent}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyCategories(tt.query), tt.query)
	}
}

func TestClassifyCategories_MultiLabel(t *testing.T) {
	got := ClassifyCategories("how does OrderService.place() behave when PaymentException is thrown")
	assert.Contains(t, got, CategoryMethodBehavior)
	assert.Contains(t, got, CategoryErrorDiagnosis)
}

func TestExtractors(t *testing.T) {
	assert.Equal(t, "OrderService.place", extractMethodKey("how does OrderService.place() work"))
	assert.Equal(t, "com.app.OrderService.place", extractMethodKey("explain com.app.OrderService.place()"))
	assert.Empty(t, extractMethodKey("how does ordering work"))

	assert.Equal(t, "PaymentException", extractExceptionClass("why is PaymentException thrown"))
	assert.Empty(t, extractExceptionClass("why do payments fail sometimes"))

	assert.Equal(t, "payment.gateway.timeout", extractConfigKey("who reads payment.gateway.timeout"))
	assert.Empty(t, extractConfigKey("who reads the timeout"))
}

func TestQuery_EmptyRejected(t *testing.T) {
	f := newFixture(t, &stubLLM{answer: "x"})
	_, err := f.engine.Query(context.Background(), "  ", Options{})
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeQueryEmpty, lenserr.GetCode(err))
}

func TestQuery_RetrievalOnlyPlan(t *testing.T) {
	f := newFixture(t, &stubLLM{answer: "the gateway charges cards"})
	f.seed(t, "c1", "payments", "src/Gateway.java",
		"public class PaymentGateway { void charge(Card card) { bank.charge(card); } }")

	result, err := f.engine.Query(context.Background(), "where is the payment gateway charge implemented", Options{})
	require.NoError(t, err)

	assert.Equal(t, []Category{CategoryCodeLocation}, result.Categories)
	assert.Equal(t, "the gateway charges cards", result.Answer)
	assert.Empty(t, result.ToolResults)
	assert.False(t, result.FallbackUsed)
	assert.NotEmpty(t, result.Snippets)
	assert.NotEmpty(t, result.Confidence.Rating)
	assert.Greater(t, result.ProcessingTime, time.Duration(0))
}

func TestQuery_RunsPlannedTool(t *testing.T) {
	var gotMethod string
	tool := &stubTool{name: mcp.ToolCallPath, fn: func(ctx context.Context, params map[string]any) (*mcp.ToolResponse, error) {
		gotMethod, _ = params["method"].(string)
		return &mcp.ToolResponse{Success: true, Message: "traced"}, nil
	}}
	f := newFixture(t, &stubLLM{answer: "answer"}, tool)

	result, err := f.engine.Query(context.Background(), "how does OrderService.place() work", Options{})
	require.NoError(t, err)

	assert.Equal(t, "OrderService.place", gotMethod)
	require.Contains(t, result.ToolResults, mcp.ToolCallPath)
	assert.True(t, result.ToolResults[mcp.ToolCallPath].Success)
	assert.False(t, result.FallbackUsed)
}

func TestQuery_ToolFailureSetsFallback(t *testing.T) {
	tool := &stubTool{name: mcp.ToolErrorChain, fn: func(ctx context.Context, params map[string]any) (*mcp.ToolResponse, error) {
		return nil, lenserr.ValidationError("no sources", nil)
	}}
	f := newFixture(t, &stubLLM{answer: "partial answer"}, tool)

	result, err := f.engine.Query(context.Background(), "why is PaymentException thrown", Options{})
	require.NoError(t, err)

	assert.True(t, result.FallbackUsed)
	assert.Equal(t, "partial answer", result.Answer)
}

func TestQuery_LLMFailureFallsBackToRetrieval(t *testing.T) {
	f := newFixture(t, &stubLLM{err: lenserr.New(lenserr.ErrCodeNetworkUnavailable, "down", nil)})
	f.seed(t, "c1", "payments", "src/Gateway.java",
		"public class PaymentGateway { void charge(Card card) {} }")

	result, err := f.engine.Query(context.Background(), "where is the payment gateway charge implemented", Options{})
	require.NoError(t, err)

	assert.True(t, result.FallbackUsed)
	assert.Contains(t, result.Answer, "src/Gateway.java")
}

func TestPlan_CrossComponentImpliesErrorChain(t *testing.T) {
	f := newFixture(t, &stubLLM{answer: "x"})

	snippets := []search.Result{{
		ID:       "s1",
		Score:    0.9,
		Metadata: &store.EmbeddingMetadata{Content: "throw new SettlementException(msg)"},
	}}
	plan := f.engine.plan("trace settlement across services end to end",
		[]Category{CategoryCrossComponent}, snippets, nil)

	names := make(map[string]int)
	for _, step := range plan {
		names[step.ToolName] = step.Priority
	}
	assert.Contains(t, names, mcp.ToolCrossRepo)
	assert.Contains(t, names, mcp.ToolErrorChain)
}

func TestPlan_NoParamsNoStep(t *testing.T) {
	f := newFixture(t, &stubLLM{answer: "x"})
	plan := f.engine.plan("how does it work", []Category{CategoryMethodBehavior}, nil, nil)
	assert.Empty(t, plan)
}

func TestTools_ListsRegistry(t *testing.T) {
	f := newFixture(t, &stubLLM{answer: "x"}, &stubTool{name: mcp.ToolCrossRepo})
	tools := f.engine.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, mcp.ToolCrossRepo, tools[0].Name())
}

type fixedStrategy struct {
	results []search.Result
}

func (s *fixedStrategy) Retrieve(ctx context.Context, q search.Query, k int) ([]search.Result, error) {
	return s.results, nil
}

func TestQuery_ConceptualIdentifierQueryRatesHigh(t *testing.T) {
	strategy := &fixedStrategy{results: []search.Result{{
		ID:    "c1",
		Score: 0.80,
		Metadata: &store.EmbeddingMetadata{
			FilePath:  "src/CustomerService.java",
			StartLine: 10,
			EndLine:   40,
			Content:   "public Customer findById(long id) { return repository.findById(id); }",
		},
	}}}

	calc, err := confidence.NewCalculator(confidence.DefaultWeights(), confidence.DefaultThresholds())
	require.NoError(t, err)
	handler := mcp.NewHandler(mcp.NewRegistry(), mcp.HandlerConfig{}, nil)
	eng, err := New(embed.NewStaticEmbedder(), nil, strategy, handler,
		nil, &stubLLM{answer: "CustomerService.findById loads the customer"}, calc, Config{}, nil)
	require.NoError(t, err)

	result, err := eng.Query(context.Background(),
		"How does the CustomerService retrieve customer information?", Options{})
	require.NoError(t, err)

	require.NotEmpty(t, result.Snippets)
	assert.Equal(t, "src/CustomerService.java", result.Snippets[0].Metadata.FilePath)
	assert.GreaterOrEqual(t, result.Confidence.Components["vector"].Raw, 0.8)
	assert.GreaterOrEqual(t, result.Confidence.Value, 0.75)
	rating := result.Confidence.Rating
	assert.True(t, rating == confidence.RatingHigh || rating == confidence.RatingVeryHigh,
		"got rating %s (score %.3f)", rating, result.Confidence.Value)
}

func TestQuery_ResultCarriesQueryAndSuccess(t *testing.T) {
	tool := &stubTool{name: mcp.ToolCallPath}
	f := newFixture(t, &stubLLM{answer: "traced"}, tool)

	result, err := f.engine.Query(context.Background(), "how does OrderService.place() work", Options{})
	require.NoError(t, err)

	assert.Equal(t, "how does OrderService.place() work", result.Query)
	assert.True(t, result.Success)
	assert.Empty(t, result.ToolErrors)
}

func TestQuery_ToolFailureRecordsToolErrors(t *testing.T) {
	tool := &stubTool{name: mcp.ToolErrorChain, fn: func(ctx context.Context, params map[string]any) (*mcp.ToolResponse, error) {
		return nil, lenserr.ValidationError("no sources configured", nil)
	}}
	f := newFixture(t, &stubLLM{answer: "partial answer"}, tool)

	result, err := f.engine.Query(context.Background(), "why is PaymentException thrown", Options{})
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Contains(t, result.ToolErrors, mcp.ToolErrorChain)
	assert.Contains(t, result.ToolErrors[mcp.ToolErrorChain], "no sources configured")
}
