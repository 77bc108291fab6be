// Package telemetry records question-answering metrics for local
// inspection. Nothing leaves the machine: aggregates live in memory and
// are periodically flushed to a SQLite file in the data directory.
package telemetry

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is one histogram bucket for end-to-end answer latency.
type LatencyBucket string

const (
	BucketUnder1s  LatencyBucket = "lt1s"
	BucketUnder5s  LatencyBucket = "lt5s"
	BucketUnder15s LatencyBucket = "lt15s"
	BucketUnder30s LatencyBucket = "lt30s"
	BucketOver30s  LatencyBucket = "ge30s"
)

// LatencyToBucket maps a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < time.Second:
		return BucketUnder1s
	case d < 5*time.Second:
		return BucketUnder5s
	case d < 15*time.Second:
		return BucketUnder15s
	case d < 30*time.Second:
		return BucketUnder30s
	default:
		return BucketOver30s
	}
}

// QuestionEvent captures one answered question.
type QuestionEvent struct {
	Query        string
	Categories   []string
	Confidence   float64
	SnippetCount int
	ToolFailures int
	FallbackUsed bool
	Latency      time.Duration
	Timestamp    time.Time
}

// TermCount pairs a query term with its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ExtractTerms lowercases a query and keeps words of three or more
// characters for frequency tracking.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(strings.TrimSpace(query))) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// Snapshot is an immutable view of the collected metrics.
type Snapshot struct {
	TotalQuestions      int64                   `json:"total_questions"`
	CategoryCounts      map[string]int64        `json:"category_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	FallbackCount       int64                   `json:"fallback_count"`
	FallbackQuestions   []string                `json:"fallback_questions"`
	ToolFailureCount    int64                   `json:"tool_failure_count"`
	AverageConfidence   float64                 `json:"average_confidence"`
	Since               time.Time               `json:"since"`
}

// FallbackPercentage returns the share of questions answered without
// the full tool-assisted path.
func (s *Snapshot) FallbackPercentage() float64 {
	if s.TotalQuestions == 0 {
		return 0
	}
	return float64(s.FallbackCount) / float64(s.TotalQuestions) * 100
}

// Store defines persistence for recorded metrics.
type Store interface {
	SaveCategoryCounts(date string, counts map[string]int64) error
	GetCategoryCounts(from, to string) (map[string]int64, error)
	UpsertTermCounts(terms map[string]int64) error
	GetTopTerms(limit int) ([]TermCount, error)
	AddFallbackQuestion(query string, timestamp time.Time) error
	GetFallbackQuestions(limit int) ([]string, error)
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// Config tunes the in-memory recorder.
type Config struct {
	TopTermsCapacity int           // default 100
	FallbackCapacity int           // default 100
	FlushInterval    time.Duration // default 60s, 0 disables auto-flush
}

// DefaultConfig returns the recorder defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity: 100,
		FallbackCapacity: 100,
		FlushInterval:    60 * time.Second,
	}
}

// Recorder aggregates question events in memory and flushes them to a
// Store. Safe for concurrent use.
type Recorder struct {
	mu sync.RWMutex

	total         int64
	categories    map[string]int64
	terms         *lru.Cache[string, int64]
	latencies     map[LatencyBucket]int64
	fallbacks     []string
	fallbackCount int64
	toolFailures  int64
	confidenceSum float64
	startTime     time.Time

	store       Store
	cfg         Config
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewRecorder creates a recorder. A nil store keeps metrics in memory
// only.
func NewRecorder(store Store, cfg Config) *Recorder {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.FallbackCapacity <= 0 {
		cfg.FallbackCapacity = 100
	}
	terms, _ := lru.New[string, int64](cfg.TopTermsCapacity)

	r := &Recorder{
		categories: make(map[string]int64),
		terms:      terms,
		latencies:  make(map[LatencyBucket]int64),
		startTime:  time.Now(),
		store:      store,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
	}
	if cfg.FlushInterval > 0 && store != nil {
		r.flushTicker = time.NewTicker(cfg.FlushInterval)
		go r.flushLoop()
	}
	return r
}

func (r *Recorder) flushLoop() {
	for {
		select {
		case <-r.flushTicker.C:
			_ = r.Flush()
		case <-r.stopCh:
			return
		}
	}
}

// Record captures one question event.
func (r *Recorder) Record(event QuestionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.total++
	r.confidenceSum += event.Confidence
	for _, c := range event.Categories {
		r.categories[c]++
	}
	for _, term := range ExtractTerms(event.Query) {
		count, _ := r.terms.Get(term)
		r.terms.Add(term, count+1)
	}
	r.latencies[LatencyToBucket(event.Latency)]++
	r.toolFailures += int64(event.ToolFailures)

	if event.FallbackUsed {
		r.fallbackCount++
		r.fallbacks = append(r.fallbacks, event.Query)
		if len(r.fallbacks) > r.cfg.FallbackCapacity {
			r.fallbacks = r.fallbacks[len(r.fallbacks)-r.cfg.FallbackCapacity:]
		}
	}
}

// Snapshot returns a copy of the current aggregates.
func (r *Recorder) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	categories := make(map[string]int64, len(r.categories))
	for k, v := range r.categories {
		categories[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(r.latencies))
	for k, v := range r.latencies {
		latencies[k] = v
	}

	var topTerms []TermCount
	for _, key := range r.terms.Keys() {
		if count, ok := r.terms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	for i := 0; i < len(topTerms); i++ {
		for j := i + 1; j < len(topTerms); j++ {
			if topTerms[j].Count > topTerms[i].Count {
				topTerms[i], topTerms[j] = topTerms[j], topTerms[i]
			}
		}
	}

	fallbacks := make([]string, len(r.fallbacks))
	copy(fallbacks, r.fallbacks)

	var avgConfidence float64
	if r.total > 0 {
		avgConfidence = r.confidenceSum / float64(r.total)
	}

	return &Snapshot{
		TotalQuestions:      r.total,
		CategoryCounts:      categories,
		TopTerms:            topTerms,
		LatencyDistribution: latencies,
		FallbackCount:       r.fallbackCount,
		FallbackQuestions:   fallbacks,
		ToolFailureCount:    r.toolFailures,
		AverageConfidence:   avgConfidence,
		Since:               r.startTime,
	}
}

// Flush persists aggregates to the store. Safe with a nil store.
func (r *Recorder) Flush() error {
	if r.store == nil {
		return nil
	}
	snapshot := r.Snapshot()
	today := time.Now().Format("2006-01-02")

	if err := r.store.SaveCategoryCounts(today, snapshot.CategoryCounts); err != nil {
		return err
	}
	termCounts := make(map[string]int64, len(snapshot.TopTerms))
	for _, tc := range snapshot.TopTerms {
		termCounts[tc.Term] = tc.Count
	}
	if err := r.store.UpsertTermCounts(termCounts); err != nil {
		return err
	}
	return r.store.SaveLatencyCounts(today, snapshot.LatencyDistribution)
}

// Close flushes once more and stops the auto-flush loop.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.flushTicker != nil {
		r.flushTicker.Stop()
		close(r.stopCh)
	}
	return r.Flush()
}
