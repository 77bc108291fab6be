package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeContent(lines, lineLen int) string {
	var b strings.Builder
	for i := 0; i < lines; i++ {
		b.WriteString(strings.Repeat("a", lineLen-1))
		b.WriteString("\n")
	}
	return b.String()
}

func TestChunk_SmallFileSingleChunk(t *testing.T) {
	c := NewChunker(Options{MaxChunkSize: 100, OverlapSize: 10, MinChunkSize: 5, ContextOverlapPercentage: 10})
	content := "line one\nline two\nline three"

	chunks := c.Chunk("src/main.py", content)
	require.Len(t, chunks, 1)
	assert.Equal(t, TypeFile, chunks[0].Type)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[0].EndLine)
	assert.Equal(t, content, chunks[0].Content)
	assert.Equal(t, "src/main.py#0", chunks[0].ID())
	assert.Equal(t, "py", chunks[0].Language)
}

func TestChunk_ExactlyMaxSizeSingleChunk(t *testing.T) {
	c := NewChunker(Options{MaxChunkSize: 50, OverlapSize: 5, MinChunkSize: 2})
	content := strings.Repeat("x", 50)

	chunks := c.Chunk("a.txt", content)
	require.Len(t, chunks, 1)
	assert.Equal(t, TypeFile, chunks[0].Type)
}

func TestChunk_MaxSizePlusOneProducesTwoChunks(t *testing.T) {
	c := NewChunker(Options{MaxChunkSize: 50, OverlapSize: 5, MinChunkSize: 2})
	content := strings.Repeat("x", 51)

	chunks := c.Chunk("a.txt", content)
	require.Len(t, chunks, 2)
	assert.Equal(t, 50, len(chunks[0].Content))
	// Second chunk starts at stride 45, overlapping 5 chars.
	assert.Equal(t, 6, len(chunks[1].Content))
}

func TestChunk_TooSmallTailMergedIntoPrevious(t *testing.T) {
	// stride = 45; tail of 6 chars < MinChunkSize 20 -> merged.
	c := NewChunker(Options{MaxChunkSize: 50, OverlapSize: 5, MinChunkSize: 20})
	content := strings.Repeat("x", 51)

	chunks := c.Chunk("a.txt", content)
	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Content)
}

func TestChunk_20000CharsCoversEveryLine(t *testing.T) {
	// 200 lines of 100 chars = 20000 chars; maxChunkSize 8000, overlap 200.
	content := makeContent(200, 100)
	require.Equal(t, 20000, len(content))

	c := NewChunker(Options{MaxChunkSize: 8000, OverlapSize: 200, MinChunkSize: 500, ContextOverlapPercentage: 10})
	chunks := c.Chunk("src/A.java", content)

	require.Len(t, chunks, 3)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 200, chunks[2].EndLine)

	// Every line from 1..200 is covered by some chunk.
	covered := make(map[int]bool)
	for _, ck := range chunks {
		for l := ck.StartLine; l <= ck.EndLine; l++ {
			covered[l] = true
		}
	}
	for l := 1; l <= 200; l++ {
		assert.True(t, covered[l], "line %d not covered", l)
	}

	// Adjacent chunks overlap: next StartLine falls inside previous range.
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].StartLine, chunks[i-1].EndLine)
		assert.Greater(t, chunks[i].StartLine, chunks[i-1].StartLine)
	}
}

func TestChunk_CoverageReconstruction(t *testing.T) {
	content := makeContent(100, 80)
	opts := Options{MaxChunkSize: 1000, OverlapSize: 100, MinChunkSize: 50}
	c := NewChunker(opts)
	chunks := c.Chunk("file.txt", content)
	require.Greater(t, len(chunks), 1)

	// Concatenating chunk contents minus the overlap reproduces the file.
	var rebuilt strings.Builder
	rebuilt.WriteString(chunks[0].Content)
	for i := 1; i < len(chunks); i++ {
		rebuilt.WriteString(chunks[i].Content[opts.OverlapSize:])
	}
	assert.Equal(t, content, rebuilt.String())
}

func TestChunk_Determinism(t *testing.T) {
	content := makeContent(150, 60)
	c := NewChunker(Options{MaxChunkSize: 2000, OverlapSize: 150, MinChunkSize: 100})

	a := c.Chunk("x.ts", content)
	b := c.Chunk("x.ts", content)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Content, b[i].Content)
		assert.Equal(t, a[i].StartLine, b[i].StartLine)
		assert.Equal(t, a[i].EndLine, b[i].EndLine)
		assert.Equal(t, a[i].ID(), b[i].ID())
	}
}

func TestChunk_ContextOverlap(t *testing.T) {
	content := makeContent(100, 80)
	c := NewChunker(Options{MaxChunkSize: 1000, OverlapSize: 100, MinChunkSize: 50, ContextOverlapPercentage: 10})
	chunks := c.Chunk("f.txt", content)
	require.Greater(t, len(chunks), 2)

	assert.Empty(t, chunks[0].ContextBefore)
	assert.Empty(t, chunks[len(chunks)-1].ContextAfter)

	mid := chunks[1]
	prev := chunks[0].Content
	assert.Equal(t, prev[len(prev)-len(prev)*10/100:], mid.ContextBefore)
	next := chunks[2].Content
	assert.Equal(t, next[:len(next)*10/100], mid.ContextAfter)
}

func TestChunk_EmptyContent(t *testing.T) {
	c := NewChunker(DefaultOptions())
	assert.Nil(t, c.Chunk("empty.go", ""))
}

func TestAttachLogs_JavaLogStatements(t *testing.T) {
	content := "public class A {\n" +
		"  void run() {\n" +
		"    log.info(\"starting run\");\n" +
		"    logger.error(\"failed: \" + e.getMessage());\n" +
		"  }\n" +
		"}\n"
	c := NewChunker(Options{MaxChunkSize: 10000})
	chunks := c.Chunk("src/A.java", content)
	require.Len(t, chunks, 1)

	logs := chunks[0].Logs
	require.Len(t, logs, 2)
	assert.Equal(t, "info", logs[0].Level)
	assert.Equal(t, 3, logs[0].Line)
	assert.Equal(t, "error", logs[1].Level)
	assert.Contains(t, logs[1].Message, "e.getMessage()")
}

func TestAttachLogs_NonJVMLanguageSkipped(t *testing.T) {
	content := "log.info(\"not java\");\n"
	c := NewChunker(Options{MaxChunkSize: 10000})
	chunks := c.Chunk("script.py", content)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Logs)
}

func TestAttachLogs_NoMatchYieldsEmpty(t *testing.T) {
	c := NewChunker(Options{MaxChunkSize: 10000})
	chunks := c.Chunk("src/B.java", "public class B {}\n")
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Logs)
}

func TestDetectLanguage(t *testing.T) {
	tests := map[string]string{
		"Foo.java":       "java",
		"app.py":         "py",
		"index.js":       "js",
		"main.ts":        "ts",
		"page.html":      "html",
		"style.css":      "css",
		"pom.xml":        "xml",
		"data.json":      "json",
		"cfg.yaml":       "yaml",
		"cfg.yml":        "yaml",
		"app.properties": "properties",
		"README.md":      "plaintext",
		"Makefile":       "plaintext",
	}
	for path, want := range tests {
		assert.Equal(t, want, DetectLanguage(path), path)
	}
}

func TestBoilerplateFilter_ImportOnlyJavaChunk(t *testing.T) {
	f := NewBoilerplateFilter(nil)
	ck := &Chunk{
		Language: "java",
		Content:  "package com.example;\nimport java.util.List;\nimport java.io.File;\n",
	}
	assert.True(t, f.IsBoilerplate(ck))
}

func TestBoilerplateFilter_RealCodeNotBoilerplate(t *testing.T) {
	f := NewBoilerplateFilter(nil)
	ck := &Chunk{
		Language: "java",
		Content:  "package com.example;\npublic class Foo { void bar() {} }\n",
	}
	assert.False(t, f.IsBoilerplate(ck))
}

func TestBoilerplateFilter_LicenseHeader(t *testing.T) {
	f := NewBoilerplateFilter(nil)
	ck := &Chunk{
		Language: "js",
		Content:  "/*\n * Copyright 2024 Example Corp.\n * Licensed under the Apache License.\n */\n",
	}
	assert.True(t, f.IsBoilerplate(ck))
}

func TestBoilerplateFilter_FailsOpenOnBadPattern(t *testing.T) {
	f := NewBoilerplateFilter(map[string][]string{
		"java": {"([unclosed"},
	})
	ck := &Chunk{Language: "java", Content: "some content"}
	assert.False(t, f.IsBoilerplate(ck))
}

func TestBoilerplateFilter_EmptyChunk(t *testing.T) {
	f := NewBoilerplateFilter(nil)
	assert.True(t, f.IsBoilerplate(&Chunk{Content: "   \n"}))
	assert.True(t, f.IsBoilerplate(nil))
}
