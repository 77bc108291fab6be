// Package chunk partitions source files into deterministic, line-addressable
// chunks used as the unit of embedding. Chunks from the same file overlap by a
// configured number of characters so retrieval never loses boundary context.
package chunk

import "fmt"

// ChunkType distinguishes whole-file chunks from window chunks.
type ChunkType string

const (
	// TypeFile marks a chunk covering the entire file (content fit in one window).
	TypeFile ChunkType = "file"
	// TypeChunk marks a sliding-window chunk of a larger file.
	TypeChunk ChunkType = "chunk"
)

// LogStatement is a logging call extracted from a JVM-language chunk.
type LogStatement struct {
	Level   string // trace, debug, info, warn, error
	Message string // raw argument text
	Line    int    // 1-indexed line of the match
}

// Chunk is a contiguous, line-addressable slice of a source file.
// Identity is FilePath + "#" + Index.
type Chunk struct {
	FilePath      string
	Index         int
	StartLine     int // 1-indexed
	EndLine       int // inclusive
	Language      string
	Type          ChunkType
	Content       string
	ContextBefore string
	ContextAfter  string
	Logs          []LogStatement
}

// ID returns the chunk identifier: fileRelativePath "#" ordinalIndex.
func (c *Chunk) ID() string {
	return fmt.Sprintf("%s#%d", c.FilePath, c.Index)
}

// Options configures the chunker.
type Options struct {
	MaxChunkSize             int
	OverlapSize              int
	MinChunkSize             int
	ContextOverlapPercentage int
}

// DefaultOptions returns the default chunking parameters.
func DefaultOptions() Options {
	return Options{
		MaxChunkSize:             8000,
		OverlapSize:              200,
		MinChunkSize:             500,
		ContextOverlapPercentage: 10,
	}
}
