package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codelens-ai/codelens/internal/embed"
	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

// namespace holds the in-memory state for one repository namespace.
// The index may be evicted (nil) while metadata stays resident.
type namespace struct {
	mu          sync.RWMutex
	index       *nsIndex
	metadata    map[string]*EmbeddingMetadata
	lastQueried time.Time
	dirty       bool
}

// Store is the namespaced vector store. Writes are serialized per namespace;
// persistence is eventually consistent (interval flush plus flush on close).
type Store struct {
	mu         sync.RWMutex
	cfg        Config
	namespaces map[string]*namespace
	failures   *embed.FailureLog
	logger     *slog.Logger
	closed     bool

	flushStop chan struct{}
	flushDone chan struct{}
	flushOnce sync.Once
}

// Open creates a store rooted at cfg.Dir. Existing namespace metadata is
// loaded eagerly; indices load lazily on first query.
func Open(cfg Config, failures *embed.FailureLog, logger *slog.Logger) (*Store, error) {
	if cfg.Dimensions <= 0 {
		return nil, lenserr.ValidationError("store dimensions must be positive", nil)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	if failures == nil {
		failures = embed.NewFailureLog()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		cfg:        cfg,
		namespaces: make(map[string]*namespace),
		failures:   failures,
		logger:     logger,
		flushStop:  make(chan struct{}),
		flushDone:  make(chan struct{}),
	}

	if err := s.discover(); err != nil {
		return nil, err
	}
	if err := s.failures.Load(s.failuresPath()); err != nil {
		return nil, fmt.Errorf("load failure log: %w", err)
	}
	return s, nil
}

func (s *Store) vectorsDir() string   { return filepath.Join(s.cfg.Dir, "vectors") }
func (s *Store) failuresPath() string { return filepath.Join(s.vectorsDir(), "failures.json") }

func (s *Store) nsDir(ns string) string {
	return filepath.Join(s.vectorsDir(), url.PathEscape(ns))
}

// discover scans the vectors directory and loads metadata for each
// persisted namespace.
func (s *Store) discover() error {
	entries, err := os.ReadDir(s.vectorsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan vectors directory: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ns, err := url.PathUnescape(e.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable namespace directory", "dir", e.Name())
			continue
		}
		meta, err := loadMetadataFile(filepath.Join(s.vectorsDir(), e.Name(), "metadata.json"))
		if err != nil {
			return fmt.Errorf("load metadata for namespace %q: %w", ns, err)
		}
		s.namespaces[ns] = &namespace{metadata: meta}
	}
	return nil
}

// Failures exposes the shared embedding failure log.
func (s *Store) Failures() *embed.FailureLog { return s.failures }

// Store upserts a vector with its metadata under a namespace.
// Vectors with the wrong dimension are rejected.
func (s *Store) Store(ctx context.Context, id string, vec []float32, meta *EmbeddingMetadata, ns string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ns == "" {
		return lenserr.ValidationError("namespace must be non-empty", nil)
	}
	if len(vec) != s.cfg.Dimensions {
		return lenserr.New(lenserr.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected dimension %d, got %d", s.cfg.Dimensions, len(vec)), nil)
	}
	if meta == nil {
		return lenserr.ValidationError("metadata must be non-nil", nil)
	}

	n, err := s.resident(ns, true)
	if err != nil {
		return err
	}

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeVectorInPlace(normalized)

	m := *meta
	m.RepositoryNamespace = ns

	n.mu.Lock()
	n.index.add(id, normalized)
	n.metadata[id] = &m
	n.dirty = true
	n.lastQueried = time.Now()
	n.mu.Unlock()

	s.maybeEvict(ns)
	return nil
}

// FindSimilar returns up to k results with cosine similarity >= minSim,
// descending by score. An empty namespace list searches the union.
func (s *Store) FindSimilar(ctx context.Context, query []float32, k int, minSim float32, namespaces []string) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != s.cfg.Dimensions {
		return nil, lenserr.New(lenserr.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected dimension %d, got %d", s.cfg.Dimensions, len(query)), nil)
	}
	if k <= 0 {
		return nil, nil
	}

	targets := namespaces
	if len(targets) == 0 {
		targets = s.Namespaces()
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	var all []SearchResult
	for _, ns := range targets {
		n, err := s.resident(ns, false)
		if err != nil {
			if lenserr.IsNotFound(err) {
				continue
			}
			return nil, err
		}

		n.mu.Lock()
		n.lastQueried = time.Now()
		results := n.index.search(normalized, k)
		for i := range results {
			results[i].Namespace = ns
			results[i].Metadata = n.metadata[results[i].ID]
		}
		n.mu.Unlock()

		for _, r := range results {
			if r.Score >= minSim {
				all = append(all, r)
			}
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

// FindByFilePath returns metadata for all chunks whose file path equals or
// ends with the given path. An empty namespace searches every namespace.
func (s *Store) FindByFilePath(filePath, ns string) []*EmbeddingMetadata {
	targets := []string{ns}
	if ns == "" {
		targets = s.Namespaces()
	}

	var out []*EmbeddingMetadata
	for _, target := range targets {
		s.mu.RLock()
		n, ok := s.namespaces[target]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		n.mu.RLock()
		for _, m := range n.metadata {
			if m.FilePath == filePath || strings.HasSuffix(m.FilePath, filePath) {
				out = append(out, m)
			}
		}
		n.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FilePath != out[j].FilePath {
			return out[i].FilePath < out[j].FilePath
		}
		return out[i].StartLine < out[j].StartLine
	})
	return out
}

// AllMetadata returns the metadata map across the given namespaces.
// An empty list covers every namespace. Used by keyword retrieval, which
// scores metadata text rather than vectors.
func (s *Store) AllMetadata(namespaces []string) map[string]*EmbeddingMetadata {
	targets := namespaces
	if len(targets) == 0 {
		targets = s.Namespaces()
	}

	out := make(map[string]*EmbeddingMetadata)
	for _, ns := range targets {
		s.mu.RLock()
		n, ok := s.namespaces[ns]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		n.mu.RLock()
		for id, m := range n.metadata {
			out[id] = m
		}
		n.mu.RUnlock()
	}
	return out
}

// Delete removes the index entry and metadata for an ID atomically.
func (s *Store) Delete(ctx context.Context, id, ns string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := s.resident(ns, false)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.metadata[id]; !ok {
		return lenserr.NotFoundError(fmt.Sprintf("id %q in namespace %q", id, ns))
	}
	n.index.remove(id)
	delete(n.metadata, id)
	n.dirty = true
	return nil
}

// Size returns the entry count for one namespace.
func (s *Store) Size(ns string) int {
	s.mu.RLock()
	n, ok := s.namespaces[ns]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.metadata)
}

// Sizes returns entry counts for every namespace.
func (s *Store) Sizes() map[string]int {
	out := make(map[string]int)
	for _, ns := range s.Namespaces() {
		out[ns] = s.Size(ns)
	}
	return out
}

// Namespaces lists known namespaces in sorted order.
func (s *Store) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.namespaces))
	for ns := range s.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// resident returns the namespace with its index loaded, creating it when
// create is true, loading from disk when evicted.
func (s *Store) resident(ns string, create bool) (*namespace, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("store is closed")
	}
	n, ok := s.namespaces[ns]
	if !ok {
		if !create {
			s.mu.Unlock()
			return nil, lenserr.NotFoundError(fmt.Sprintf("namespace %q", ns))
		}
		n = &namespace{
			index:    newNSIndex(s.cfg),
			metadata: make(map[string]*EmbeddingMetadata),
		}
		s.namespaces[ns] = n
	}
	s.mu.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.index != nil {
		return n, nil
	}

	indexPath := filepath.Join(s.nsDir(ns), "index")
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		// Metadata without a persisted index: start fresh.
		n.index = newNSIndex(s.cfg)
		return n, nil
	}
	ix, err := loadNSIndex(indexPath, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("load namespace %q: %w", ns, err)
	}
	n.index = ix
	s.logger.Debug("namespace index loaded", "namespace", ns, "vectors", ix.count())
	return n, nil
}

// maybeEvict drops the least-recently-queried resident index when the
// resident count exceeds the configured cap. Metadata stays in memory.
func (s *Store) maybeEvict(keep string) {
	if s.cfg.MaxResidentNamespaces <= 0 {
		return
	}

	s.mu.RLock()
	type candidate struct {
		ns string
		n  *namespace
		at time.Time
	}
	var resident []candidate
	for ns, n := range s.namespaces {
		n.mu.RLock()
		if n.index != nil {
			resident = append(resident, candidate{ns, n, n.lastQueried})
		}
		n.mu.RUnlock()
	}
	s.mu.RUnlock()

	if len(resident) <= s.cfg.MaxResidentNamespaces {
		return
	}
	sort.Slice(resident, func(i, j int) bool { return resident[i].at.Before(resident[j].at) })

	remaining := len(resident)
	for _, c := range resident {
		if remaining <= s.cfg.MaxResidentNamespaces {
			break
		}
		if c.ns == keep {
			continue
		}
		if err := s.evict(c.ns, c.n); err != nil {
			s.logger.Warn("namespace eviction failed", "namespace", c.ns, "error", err)
			continue
		}
		remaining--
	}
}

func (s *Store) evict(ns string, n *namespace) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.index == nil {
		return nil
	}
	if n.dirty {
		if err := s.persistLocked(ns, n); err != nil {
			return err
		}
	}
	n.index = nil
	s.logger.Debug("namespace index evicted", "namespace", ns)
	return nil
}

// Flush persists all dirty namespaces and the failure log.
func (s *Store) Flush() error {
	var firstErr error
	for _, ns := range s.Namespaces() {
		s.mu.RLock()
		n := s.namespaces[ns]
		s.mu.RUnlock()

		n.mu.Lock()
		if n.dirty && n.index != nil {
			if err := s.persistLocked(ns, n); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		n.mu.Unlock()
	}
	if err := s.failures.Save(s.failuresPath()); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// persistLocked writes index and metadata for one namespace.
// Caller holds n.mu.
func (s *Store) persistLocked(ns string, n *namespace) error {
	dir := s.nsDir(ns)
	if err := n.index.save(filepath.Join(dir, "index"), s.cfg.Dimensions); err != nil {
		return err
	}
	if err := saveMetadataFile(filepath.Join(dir, "metadata.json"), n.metadata); err != nil {
		return err
	}
	n.dirty = false
	return nil
}

// StartAutoFlush persists dirty state on an interval until the context is
// cancelled or the store is closed.
func (s *Store) StartAutoFlush(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		defer close(s.flushDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.flushStop:
				return
			case <-ticker.C:
				if err := s.Flush(); err != nil {
					s.logger.Warn("periodic flush failed", "error", err)
				}
			}
		}
	}()
}

// Close flushes all state and marks the store closed.
func (s *Store) Close() error {
	s.flushOnce.Do(func() { close(s.flushStop) })

	err := s.Flush()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

func saveMetadataFile(path string, metadata map[string]*EmbeddingMetadata) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return os.Rename(tmp, path)
}

func loadMetadataFile(path string) (map[string]*EmbeddingMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*EmbeddingMetadata), nil
		}
		return nil, err
	}
	var metadata map[string]*EmbeddingMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = make(map[string]*EmbeddingMetadata)
	}
	return metadata, nil
}
