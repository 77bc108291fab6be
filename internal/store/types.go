// Package store provides the namespaced vector store: one HNSW index and
// one metadata map per repository namespace, with lazy loading, periodic
// persistence, and least-recently-queried eviction under memory pressure.
package store

import (
	"math"
)

// EmbeddingMetadata describes a stored chunk. It is kept alongside the
// vector and returned with search results.
type EmbeddingMetadata struct {
	Source              string   `json:"source"`
	Type                string   `json:"type"`
	FilePath            string   `json:"file_path"`
	StartLine           int      `json:"start_line"`
	EndLine             int      `json:"end_line"`
	Content             string   `json:"content"`
	Language            string   `json:"language"`
	RepositoryNamespace string   `json:"repository_namespace"`
	Description         string   `json:"description,omitempty"`
	PurposeSummary      string   `json:"purpose_summary,omitempty"`
	Capabilities        []string `json:"capabilities,omitempty"`
	UsageExamples       []string `json:"usage_examples,omitempty"`
}

// SearchResult is one similarity match.
type SearchResult struct {
	ID        string
	Score     float32
	Namespace string
	Metadata  *EmbeddingMetadata
}

// Config controls store behaviour.
type Config struct {
	// Dir is the root data directory; vectors live under Dir/vectors/<ns>/.
	Dir string

	// Dimensions is fixed at ingest; mismatched vectors are rejected.
	Dimensions int

	// M and EfSearch tune the HNSW graphs.
	M        int
	EfSearch int

	// MaxResidentNamespaces caps in-memory indices. Zero means unlimited.
	// When exceeded, the least-recently-queried namespace index is persisted
	// and dropped from memory; its metadata stays resident.
	MaxResidentNamespaces int
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts cosine distance (0..2) to similarity (0..1).
func distanceToScore(distance float32) float32 {
	return 1.0 - distance/2.0
}
