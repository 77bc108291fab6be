package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coder/hnsw"
)

// nsIndex is the HNSW index for one namespace. String chunk IDs are mapped
// to uint64 graph keys; deletion is lazy (mappings removed, node orphaned)
// because coder/hnsw misbehaves when the last node is deleted.
type nsIndex struct {
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// indexMeta holds the ID mappings persisted next to the graph.
type indexMeta struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
}

func newNSIndex(cfg Config) *nsIndex {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return &nsIndex{
		graph:  g,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// add upserts one vector. The caller normalizes and validates dimensions.
func (ix *nsIndex) add(id string, vec []float32) {
	if existing, ok := ix.idMap[id]; ok {
		delete(ix.keyMap, existing)
		delete(ix.idMap, id)
	}
	key := ix.nextKey
	ix.nextKey++
	ix.graph.Add(hnsw.MakeNode(key, vec))
	ix.idMap[id] = key
	ix.keyMap[key] = id
}

// remove drops the ID mappings; the graph node is orphaned.
func (ix *nsIndex) remove(id string) bool {
	key, ok := ix.idMap[id]
	if !ok {
		return false
	}
	delete(ix.keyMap, key)
	delete(ix.idMap, id)
	return true
}

func (ix *nsIndex) contains(id string) bool {
	_, ok := ix.idMap[id]
	return ok
}

func (ix *nsIndex) count() int { return len(ix.idMap) }

// search returns up to k matches with similarity scores, skipping orphans.
func (ix *nsIndex) search(query []float32, k int) []SearchResult {
	if ix.graph.Len() == 0 {
		return nil
	}
	// Over-fetch so lazily deleted nodes do not shrink the result set.
	fetch := k + (ix.graph.Len() - len(ix.idMap))
	nodes := ix.graph.Search(query, fetch)

	results := make([]SearchResult, 0, k)
	for _, node := range nodes {
		id, ok := ix.keyMap[node.Key]
		if !ok {
			continue
		}
		results = append(results, SearchResult{
			ID:    id,
			Score: distanceToScore(ix.graph.Distance(query, node.Value)),
		})
		if len(results) == k {
			break
		}
	}
	return results
}

// save writes the graph and ID mappings atomically (temp file + rename).
func (ix *nsIndex) save(path string, dims int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := ix.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename index file: %w", err)
	}
	return ix.saveMeta(path+".meta", dims)
}

func (ix *nsIndex) saveMeta(path string, dims int) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index meta: %w", err)
	}
	meta := indexMeta{IDMap: ix.idMap, NextKey: ix.nextKey, Dimensions: dims}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode index meta: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close index meta: %w", err)
	}
	return os.Rename(tmp, path)
}

// loadNSIndex restores a namespace index from disk.
func loadNSIndex(path string, cfg Config) (*nsIndex, error) {
	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return nil, fmt.Errorf("open index meta: %w", err)
	}
	defer func() { _ = metaFile.Close() }()

	var meta indexMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode index meta: %w", err)
	}

	ix := newNSIndex(cfg)
	ix.idMap = meta.IDMap
	ix.nextKey = meta.NextKey
	for id, key := range ix.idMap {
		ix.keyMap[key] = id
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// coder/hnsw Import requires an io.ByteReader.
	if err := ix.graph.Import(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	return ix, nil
}
