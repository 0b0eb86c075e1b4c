package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is an in-process VectorIndex with exact cosine ranking.
// It backs VECTOR_STORE=memory and the package tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	indexes map[string]*memoryCollection
}

type memoryCollection struct {
	dimension  int
	namespaces map[string]map[string]Record
}

var _ VectorIndex = (*MemoryIndex)(nil)

// NewMemoryIndex returns an empty index with no collections.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{indexes: make(map[string]*memoryCollection)}
}

func (m *MemoryIndex) EnsureIndex(_ context.Context, name string, dimension int, metric Metric) error {
	if metric != MetricCosine {
		return &IndexProvisioningError{Index: name, Err: fmt.Errorf("%w: %q", ErrUnsupportedMetric, metric)}
	}
	if dimension <= 0 {
		return &IndexProvisioningError{Index: name, Err: fmt.Errorf("dimension must be positive, got %d", dimension)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.indexes[name]; ok {
		if existing.dimension != dimension {
			return &IndexProvisioningError{Index: name, Err: fmt.Errorf("exists with dimension %d, want %d", existing.dimension, dimension)}
		}
		return nil
	}
	m.indexes[name] = &memoryCollection{dimension: dimension, namespaces: make(map[string]map[string]Record)}
	return nil
}

func (m *MemoryIndex) Upsert(_ context.Context, indexName, namespace string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	werr := &IndexWriteError{Index: indexName, Namespace: namespace}
	col, ok := m.indexes[indexName]
	if !ok {
		for _, r := range records {
			werr.Failed = append(werr.Failed, r.ID)
		}
		werr.Err = fmt.Errorf("index %q does not exist", indexName)
		return werr
	}

	ns, ok := col.namespaces[namespace]
	if !ok {
		ns = make(map[string]Record)
		col.namespaces[namespace] = ns
	}
	for _, r := range records {
		if len(r.Vector) != col.dimension {
			werr.Failed = append(werr.Failed, r.ID)
			werr.Err = fmt.Errorf("vector dimension %d does not match index dimension %d", len(r.Vector), col.dimension)
			continue
		}
		ns[r.ID] = copyRecord(r)
		werr.Succeeded = append(werr.Succeeded, r.ID)
	}
	if len(werr.Failed) > 0 {
		return werr
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, indexName, namespace string, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, &IndexQueryError{Index: indexName, Namespace: namespace, Err: ErrInvalidTopK}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.indexes[indexName]
	if !ok {
		return nil, &IndexQueryError{Index: indexName, Namespace: namespace, Err: fmt.Errorf("index %q does not exist", indexName)}
	}
	if len(vector) != col.dimension {
		return nil, &IndexQueryError{Index: indexName, Namespace: namespace,
			Err: fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), col.dimension)}
	}

	ns := col.namespaces[namespace]
	matches := make([]Match, 0, len(ns))
	for _, r := range ns {
		matches = append(matches, Match{
			ID:       r.ID,
			Text:     r.Text,
			Score:    CosineSimilarity(vector, r.Vector),
			Metadata: r.Metadata,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *MemoryIndex) DeleteBySource(_ context.Context, indexName, namespace, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.indexes[indexName]
	if !ok {
		return nil
	}
	ns := col.namespaces[namespace]
	for id, r := range ns {
		if src, _ := r.Metadata[MetaSource].(string); src == source {
			delete(ns, id)
		}
	}
	return nil
}

// Count returns the number of records stored in one namespace.
func (m *MemoryIndex) Count(indexName, namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if col, ok := m.indexes[indexName]; ok {
		return len(col.namespaces[namespace])
	}
	return 0
}

func copyRecord(r Record) Record {
	out := r
	out.Vector = append([]float32(nil), r.Vector...)
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
