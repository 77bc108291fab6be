// Package index is the ingestion pipeline: it scans source trees, chunks
// and filters files, embeds the chunks, and writes them to the vector
// store under the repository's namespace. Re-ingesting the same tree is
// idempotent because chunk identities are deterministic.
package index

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/codelens-ai/codelens/internal/chunk"
	"github.com/codelens-ai/codelens/internal/embed"
	lenserr "github.com/codelens-ai/codelens/internal/errors"
	"github.com/codelens-ai/codelens/internal/gitignore"
	"github.com/codelens-ai/codelens/internal/store"
)

// maxFileSize guards against embedding generated or binary-ish blobs.
const maxFileSize = 1 << 20

// alwaysSkippedDirs are never worth indexing regardless of .gitignore.
var alwaysSkippedDirs = map[string]bool{
	".git":         true,
	".idea":        true,
	".vscode":      true,
	"node_modules": true,
	"target":       true,
	"build":        true,
	"dist":         true,
	"vendor":       true,
}

// Config configures the pipeline.
type Config struct {
	// DataDir holds the cross-process ingestion lock.
	DataDir string

	// Chunking overrides the default chunk parameters.
	Chunking chunk.Options

	// BatchSize caps texts per embedding call.
	BatchSize int
}

// Report summarizes one ingestion run.
type Report struct {
	Namespace      string        `json:"namespace"`
	FilesScanned   int           `json:"files_scanned"`
	FilesSkipped   int           `json:"files_skipped"`
	ChunksTotal    int           `json:"chunks_total"`
	ChunksFiltered int           `json:"chunks_filtered"`
	ChunksStored   int           `json:"chunks_stored"`
	ChunksFailed   int           `json:"chunks_failed"`
	Duration       time.Duration `json:"duration"`
}

// Pipeline wires scanner, chunker, filter, embedder, and store together.
type Pipeline struct {
	cfg      Config
	chunker  *chunk.Chunker
	filter   *chunk.BoilerplateFilter
	embedder embed.Embedder
	store    *store.Store
	lock     *flock.Flock
	logger   *slog.Logger
}

func NewPipeline(cfg Config, embedder embed.Embedder, s *store.Store, logger *slog.Logger) (*Pipeline, error) {
	if embedder == nil || s == nil {
		return nil, lenserr.ValidationError("pipeline requires embedder and store", nil)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embed.DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeFilePermission, err)
	}
	return &Pipeline{
		cfg:      cfg,
		chunker:  chunk.NewChunker(cfg.Chunking),
		filter:   chunk.NewBoilerplateFilter(nil),
		embedder: embedder,
		store:    s,
		lock:     flock.New(filepath.Join(cfg.DataDir, ".ingest.lock")),
		logger:   logger,
	}, nil
}

// Run ingests the tree rooted at path into the namespace derived from its
// directory name. Only one ingestion may run per data directory; a second
// caller gets a retryable error instead of corrupting the index.
func (p *Pipeline) Run(ctx context.Context, path string, recursive bool) (*Report, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, lenserr.New(lenserr.ErrCodeInvalidPath, fmt.Sprintf("bad path %q", path), err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, lenserr.New(lenserr.ErrCodeInvalidPath, fmt.Sprintf("path %q does not exist", path), err)
	}
	if !info.IsDir() {
		return nil, lenserr.New(lenserr.ErrCodeInvalidPath, fmt.Sprintf("path %q is not a directory", path), nil)
	}

	locked, err := p.lock.TryLock()
	if err != nil {
		return nil, lenserr.Wrap(lenserr.ErrCodeInternal, err)
	}
	if !locked {
		return nil, lenserr.New(lenserr.ErrCodeQueueFull, "another ingestion is already running", nil)
	}
	defer func() { _ = p.lock.Unlock() }()

	start := time.Now()
	report := &Report{Namespace: filepath.Base(root)}

	files, skipped, err := p.scan(root, recursive)
	if err != nil {
		return nil, err
	}
	report.FilesSkipped = skipped

	for _, file := range files {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		p.ingestFile(ctx, root, file, report)
	}

	if err := p.store.Flush(); err != nil {
		return report, err
	}
	report.Duration = time.Since(start)
	p.logger.Info("ingestion complete",
		"namespace", report.Namespace,
		"files", report.FilesScanned,
		"chunks_stored", report.ChunksStored,
		"chunks_failed", report.ChunksFailed,
		"duration", report.Duration)
	return report, nil
}

// scan walks the tree, honoring .gitignore files and the built-in skip
// list, and returns relative file paths.
func (p *Pipeline) scan(root string, recursive bool) (files []string, skipped int, err error) {
	ignore := gitignore.New()
	if err := addGitignore(ignore, root, ""); err != nil {
		p.logger.Debug("no root gitignore", "root", root)
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if !recursive {
				return fs.SkipDir
			}
			if alwaysSkippedDirs[d.Name()] || ignore.Match(rel, true) {
				return fs.SkipDir
			}
			_ = addGitignore(ignore, path, rel)
			return nil
		}

		if ignore.Match(rel, false) {
			skipped++
			return nil
		}
		if fi, err := d.Info(); err != nil || fi.Size() > maxFileSize {
			skipped++
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if walkErr != nil {
		return nil, 0, lenserr.Wrap(lenserr.ErrCodeInternal, walkErr)
	}
	return files, skipped, nil
}

func addGitignore(m *gitignore.Matcher, dir, base string) error {
	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return m.AddFile(path, base)
}

// ingestFile chunks, filters, embeds, and stores one file. Per-chunk
// failures are counted, never fatal.
func (p *Pipeline) ingestFile(ctx context.Context, root, rel string, report *Report) {
	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		p.logger.Warn("skipping unreadable file", "path", rel, "error", err)
		report.FilesSkipped++
		return
	}
	report.FilesScanned++

	chunks := p.chunker.Chunk(rel, string(content))
	report.ChunksTotal += len(chunks)

	var kept []*chunk.Chunk
	for _, c := range chunks {
		if p.filter.IsBoilerplate(c) {
			report.ChunksFiltered++
			continue
		}
		kept = append(kept, c)
	}

	for batchStart := 0; batchStart < len(kept); batchStart += p.cfg.BatchSize {
		batchEnd := min(batchStart+p.cfg.BatchSize, len(kept))
		batch := kept[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			report.ChunksFailed += len(batch)
			p.logger.Warn("embedding batch failed", "file", rel, "error", err)
			continue
		}

		for i, c := range batch {
			if vectors[i] == nil {
				report.ChunksFailed++
				continue
			}
			meta := metadataFor(c)
			if err := p.store.Store(ctx, c.ID(), vectors[i], meta, report.Namespace); err != nil {
				report.ChunksFailed++
				p.logger.Warn("storing chunk failed", "chunk", c.ID(), "error", err)
				continue
			}
			report.ChunksStored++
		}
	}
}

func metadataFor(c *chunk.Chunk) *store.EmbeddingMetadata {
	meta := &store.EmbeddingMetadata{
		Source:    c.FilePath,
		Type:      string(c.Type),
		FilePath:  c.FilePath,
		StartLine: c.StartLine,
		EndLine:   c.EndLine,
		Content:   c.Content,
		Language:  c.Language,
	}
	if len(c.Logs) > 0 {
		levels := make(map[string]bool)
		for _, l := range c.Logs {
			levels[l.Level] = true
		}
		caps := make([]string, 0, len(levels))
		for level := range levels {
			caps = append(caps, "logs:"+level)
		}
		sort.Strings(caps)
		meta.Capabilities = caps
	}
	return meta
}

// DeriveNamespace maps an ingestion root to its repository namespace.
func DeriveNamespace(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return strings.TrimSuffix(filepath.Base(path), "/")
	}
	return filepath.Base(abs)
}
