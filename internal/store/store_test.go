package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

const testDims = 4

func openTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = testDims
	}
	s, err := Open(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func meta(filePath string, startLine int) *EmbeddingMetadata {
	return &EmbeddingMetadata{
		Source:    "test",
		Type:      "chunk",
		FilePath:  filePath,
		StartLine: startLine,
		EndLine:   startLine + 10,
		Content:   "content of " + filePath,
		Language:  "java",
	}
}

func TestStore_AndFindSimilar(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "a.java#0", []float32{1, 0, 0, 0}, meta("a.java", 1), "repo-a"))
	require.NoError(t, s.Store(ctx, "b.java#0", []float32{0, 1, 0, 0}, meta("b.java", 1), "repo-a"))

	results, err := s.FindSimilar(ctx, []float32{1, 0, 0, 0}, 2, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.java#0", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
	assert.Equal(t, "repo-a", results[0].Namespace)
	require.NotNil(t, results[0].Metadata)
	assert.Equal(t, "a.java", results[0].Metadata.FilePath)
}

func TestStore_DimensionMismatchRejected(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()

	err := s.Store(ctx, "x#0", []float32{1, 0}, meta("x", 1), "ns")
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeDimensionMismatch, lenserr.GetCode(err))

	require.NoError(t, s.Store(ctx, "x#0", []float32{1, 0, 0, 0}, meta("x", 1), "ns"))
	_, err = s.FindSimilar(ctx, []float32{1, 0}, 5, 0, nil)
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeDimensionMismatch, lenserr.GetCode(err))
}

func TestStore_UpsertReplacesVector(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "f#0", []float32{1, 0, 0, 0}, meta("f", 1), "ns"))
	require.NoError(t, s.Store(ctx, "f#0", []float32{0, 0, 0, 1}, meta("f", 5), "ns"))

	assert.Equal(t, 1, s.Size("ns"))

	results, err := s.FindSimilar(ctx, []float32{0, 0, 0, 1}, 1, 0.99, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "f#0", results[0].ID)
	assert.Equal(t, 5, results[0].Metadata.StartLine)
}

func TestStore_NamespaceIsolation(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "only-a#0", []float32{1, 0, 0, 0}, meta("a", 1), "ns-a"))
	require.NoError(t, s.Store(ctx, "only-b#0", []float32{1, 0, 0, 0}, meta("b", 1), "ns-b"))

	results, err := s.FindSimilar(ctx, []float32{1, 0, 0, 0}, 10, 0, []string{"ns-a"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "only-a#0", results[0].ID)

	// Union search sees both.
	results, err = s.FindSimilar(ctx, []float32{1, 0, 0, 0}, 10, 0, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestStore_MinSimilarityFilter(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "near#0", []float32{1, 0, 0, 0}, meta("near", 1), "ns"))
	require.NoError(t, s.Store(ctx, "far#0", []float32{-1, 0, 0, 0}, meta("far", 1), "ns"))

	results, err := s.FindSimilar(ctx, []float32{1, 0, 0, 0}, 10, 0.9, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near#0", results[0].ID)
}

func TestStore_ResultsDescendingByScore(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "v1", []float32{1, 0, 0, 0}, meta("v1", 1), "ns"))
	require.NoError(t, s.Store(ctx, "v2", []float32{1, 1, 0, 0}, meta("v2", 1), "ns"))
	require.NoError(t, s.Store(ctx, "v3", []float32{0, 1, 0, 0}, meta("v3", 1), "ns"))

	results, err := s.FindSimilar(ctx, []float32{1, 0, 0, 0}, 3, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.Equal(t, "v1", results[0].ID)
}

func TestStore_FindByFilePathSuffixMatch(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "c1", []float32{1, 0, 0, 0}, meta("src/main/java/App.java", 1), "ns"))
	require.NoError(t, s.Store(ctx, "c2", []float32{0, 1, 0, 0}, meta("src/main/java/App.java", 20), "ns"))
	require.NoError(t, s.Store(ctx, "c3", []float32{0, 0, 1, 0}, meta("src/other/Util.java", 1), "ns"))

	matches := s.FindByFilePath("App.java", "ns")
	require.Len(t, matches, 2)
	assert.Equal(t, 1, matches[0].StartLine)
	assert.Equal(t, 20, matches[1].StartLine)

	assert.Len(t, s.FindByFilePath("src/other/Util.java", "ns"), 1)
	assert.Empty(t, s.FindByFilePath("Missing.java", "ns"))
}

func TestStore_StoreThenFindByFilePath(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "id#0", []float32{1, 0, 0, 0}, meta("pkg/File.java", 1), "ns"))
	matches := s.FindByFilePath("pkg/File.java", "ns")
	require.Len(t, matches, 1)
	assert.Equal(t, "ns", matches[0].RepositoryNamespace)
}

func TestStore_DeleteRemovesBothViews(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "gone#0", []float32{1, 0, 0, 0}, meta("gone.java", 1), "ns"))
	require.NoError(t, s.Delete(ctx, "gone#0", "ns"))

	assert.Zero(t, s.Size("ns"))
	assert.Empty(t, s.FindByFilePath("gone.java", "ns"))

	results, err := s.FindSimilar(ctx, []float32{1, 0, 0, 0}, 10, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	err = s.Delete(ctx, "gone#0", "ns")
	assert.True(t, lenserr.IsNotFound(err))
}

func TestStore_SizeAndNamespaces(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "a", []float32{1, 0, 0, 0}, meta("a", 1), "ns-b"))
	require.NoError(t, s.Store(ctx, "b", []float32{0, 1, 0, 0}, meta("b", 1), "ns-a"))
	require.NoError(t, s.Store(ctx, "c", []float32{0, 0, 1, 0}, meta("c", 1), "ns-a"))

	assert.Equal(t, []string{"ns-a", "ns-b"}, s.Namespaces())
	assert.Equal(t, 2, s.Size("ns-a"))
	assert.Equal(t, map[string]int{"ns-a": 2, "ns-b": 1}, s.Sizes())
	assert.Zero(t, s.Size("unknown"))
}

func TestStore_PersistAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openTestStore(t, Config{Dir: dir})
	require.NoError(t, s.Store(ctx, "p#0", []float32{1, 0, 0, 0}, meta("p.java", 1), "repo"))
	require.NoError(t, s.Store(ctx, "p#1", []float32{0, 1, 0, 0}, meta("p.java", 12), "repo"))
	require.NoError(t, s.Close())

	reopened := openTestStore(t, Config{Dir: dir})
	assert.Equal(t, 2, reopened.Size("repo"))

	results, err := reopened.FindSimilar(ctx, []float32{1, 0, 0, 0}, 1, 0.9, []string{"repo"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p#0", results[0].ID)

	matches := reopened.FindByFilePath("p.java", "repo")
	assert.Len(t, matches, 2)
}

func TestStore_PersistedLayout(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openTestStore(t, Config{Dir: dir})
	require.NoError(t, s.Store(ctx, "x#0", []float32{1, 0, 0, 0}, meta("x.java", 1), "myrepo"))
	require.NoError(t, s.Flush())

	assert.FileExists(t, filepath.Join(dir, "vectors", "myrepo", "index"))
	assert.FileExists(t, filepath.Join(dir, "vectors", "myrepo", "metadata.json"))
	assert.FileExists(t, filepath.Join(dir, "vectors", "failures.json"))
}

func TestStore_EvictionKeepsMetadataAndReloads(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openTestStore(t, Config{Dir: dir, MaxResidentNamespaces: 1})
	require.NoError(t, s.Store(ctx, "a#0", []float32{1, 0, 0, 0}, meta("a.java", 1), "ns-a"))
	require.NoError(t, s.Store(ctx, "b#0", []float32{0, 1, 0, 0}, meta("b.java", 1), "ns-b"))

	// ns-a was evicted to honor the cap; metadata is still served.
	assert.Len(t, s.FindByFilePath("a.java", "ns-a"), 1)

	// Querying ns-a transparently reloads its index from disk.
	results, err := s.FindSimilar(ctx, []float32{1, 0, 0, 0}, 1, 0.9, []string{"ns-a"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a#0", results[0].ID)
}

func TestStore_EmptyStoreSearch(t *testing.T) {
	s := openTestStore(t, Config{})
	results, err := s.FindSimilar(context.Background(), []float32{1, 0, 0, 0}, 5, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_UnknownNamespaceSearchSkipped(t *testing.T) {
	s := openTestStore(t, Config{})
	results, err := s.FindSimilar(context.Background(), []float32{1, 0, 0, 0}, 5, 0, []string{"nope"})
	require.NoError(t, err)
	assert.Empty(t, results)
}
