package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"

	"github.com/google/uuid"

	"github/itish2003/pdfqa/config"
)

// Metric is the similarity function an index ranks by.
type Metric string

const MetricCosine Metric = "cosine"

// Record is the persisted unit of the index.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]any
}

// Match is one search hit. Score is cosine similarity, higher is closer.
type Match struct {
	ID       string
	Text     string
	Score    float64
	Metadata map[string]any
}

// VectorIndex is the capability set the pipelines need from a vector
// database. Every read and write is scoped to exactly one namespace.
type VectorIndex interface {
	// EnsureIndex creates the index if it does not exist yet.
	EnsureIndex(ctx context.Context, name string, dimension int, metric Metric) error
	// Upsert writes records. Any failure is an *IndexWriteError telling
	// which IDs were written and which were not.
	Upsert(ctx context.Context, indexName, namespace string, records []Record) error
	// Search returns up to topK records ranked by descending similarity.
	// An empty namespace yields an empty result, not an error.
	Search(ctx context.Context, indexName, namespace string, vector []float32, topK int) ([]Match, error)
	// DeleteBySource removes every record of one source file from a
	// namespace.
	DeleteBySource(ctx context.Context, indexName, namespace, source string) error
}

// Metadata keys written with every chunk.
const (
	MetaSource    = "source"
	MetaPage      = "page"
	MetaChunk     = "chunk"
	MetaNamespace = "namespace"
)

// RecordIDFunc assigns an ID to a chunk about to be written.
type RecordIDFunc func(namespace string, c Chunk) string

// NewRecordIDFunc returns the ID scheme for the configured policy.
func NewRecordIDFunc(policy config.RecordIDPolicy) RecordIDFunc {
	if policy == config.RecordIDRandom {
		return func(string, Chunk) string { return uuid.New().String() }
	}
	return ContentHashID
}

// ContentHashID is stable for identical chunk content and position, so
// upserting an unchanged document again overwrites its records.
func ContentHashID(namespace string, c Chunk) string {
	h := sha256.New()
	for _, part := range []string{namespace, c.Source, strconv.Itoa(c.Page), strconv.Itoa(c.Index), c.Text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CosineSimilarity returns 0 for mismatched or zero-length vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
