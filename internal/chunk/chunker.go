package chunk

import (
	"regexp"
	"strings"
)

// Chunker deterministically partitions file text into overlapping chunks.
// The same input always produces the same chunk boundaries and identities.
type Chunker struct {
	opts Options
}

// NewChunker creates a chunker with the given options.
// Zero-value fields fall back to defaults.
func NewChunker(opts Options) *Chunker {
	def := DefaultOptions()
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = def.MaxChunkSize
	}
	if opts.OverlapSize < 0 || opts.OverlapSize >= opts.MaxChunkSize {
		opts.OverlapSize = def.OverlapSize
	}
	if opts.MinChunkSize < 0 {
		opts.MinChunkSize = def.MinChunkSize
	}
	if opts.ContextOverlapPercentage < 0 || opts.ContextOverlapPercentage > 100 {
		opts.ContextOverlapPercentage = def.ContextOverlapPercentage
	}
	return &Chunker{opts: opts}
}

// Chunk partitions content into ordered chunks with line ranges and context
// overlap. It never fails: malformed input degrades to plaintext chunks.
func (c *Chunker) Chunk(filePath, content string) []*Chunk {
	if content == "" {
		return nil
	}

	lang := DetectLanguage(filePath)

	// Small files become a single whole-file chunk.
	if len(content) <= c.opts.MaxChunkSize {
		ck := &Chunk{
			FilePath:  filePath,
			Index:     0,
			StartLine: 1,
			EndLine:   lineAt(content, len(content)-1),
			Language:  lang,
			Type:      TypeFile,
			Content:   content,
		}
		c.attachLogs(content, lang, []*Chunk{ck})
		return []*Chunk{ck}
	}

	stride := c.opts.MaxChunkSize - c.opts.OverlapSize
	var chunks []*Chunk

	for start := 0; start < len(content); start += stride {
		end := start + c.opts.MaxChunkSize
		if end > len(content) {
			end = len(content)
		}

		// Merge a too-small trailing segment into the previous chunk.
		if end == len(content) && end-start < c.opts.MinChunkSize && len(chunks) > 0 {
			prev := chunks[len(chunks)-1]
			prevStart := (len(chunks) - 1) * stride
			prev.Content = content[prevStart:end]
			prev.EndLine = lineAt(content, end-1)
			break
		}

		chunks = append(chunks, &Chunk{
			FilePath:  filePath,
			Index:     len(chunks),
			StartLine: lineAt(content, start),
			EndLine:   lineAt(content, end-1),
			Language:  lang,
			Type:      TypeChunk,
			Content:   content[start:end],
		})

		if end == len(content) {
			break
		}
	}

	c.populateContext(chunks)
	c.attachLogs(content, lang, chunks)
	return chunks
}

// lineAt returns the 1-indexed line number containing the byte at pos.
// Counts newline bytes, which is UTF-8 agnostic.
func lineAt(content string, pos int) int {
	if pos < 0 {
		return 1
	}
	if pos > len(content) {
		pos = len(content)
	}
	return 1 + strings.Count(content[:pos], "\n")
}

// populateContext fills ContextBefore/ContextAfter from neighbouring chunks
// using the configured percentage of the neighbour's content.
func (c *Chunker) populateContext(chunks []*Chunk) {
	pct := c.opts.ContextOverlapPercentage
	if pct == 0 {
		return
	}
	for i, ck := range chunks {
		if i > 0 {
			prev := chunks[i-1].Content
			n := len(prev) * pct / 100
			ck.ContextBefore = prev[len(prev)-n:]
		}
		if i < len(chunks)-1 {
			next := chunks[i+1].Content
			n := len(next) * pct / 100
			ck.ContextAfter = next[:n]
		}
	}
}

// logPattern matches logger invocations in JVM-family sources.
var logPattern = regexp.MustCompile(`\b(log|logger)\.(trace|debug|info|warn|error)\s*\(([^;]+)\);`)

// attachLogs scans content for logging statements and attaches each match to
// the chunks whose line range covers the match line. A regex mismatch yields
// an empty list, never an error.
func (c *Chunker) attachLogs(content, lang string, chunks []*Chunk) {
	if !IsJVMLanguage(lang) {
		return
	}
	matches := logPattern.FindAllStringSubmatchIndex(content, -1)
	for _, m := range matches {
		line := lineAt(content, m[0])
		level := content[m[4]:m[5]]
		message := content[m[6]:m[7]]
		for _, ck := range chunks {
			if ck.StartLine <= line && line <= ck.EndLine {
				ck.Logs = append(ck.Logs, LogStatement{
					Level:   level,
					Message: message,
					Line:    line,
				})
			}
		}
	}
}
