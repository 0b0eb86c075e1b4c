package services

import (
	"context"
	"errors"
	"sync"

	"github/itish2003/pdfqa/config"
)

// testConfig is a valid OpenAI/memory configuration for unit tests.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.OpenAIAPIKey = "sk-test"
	cfg.VectorStore = config.VectorStoreMemory
	cfg.IndexName = "test-index"
	cfg.Namespace = "test-ns"
	return cfg
}

// unitVector returns a dim-length vector with 1 at position i.
func unitVector(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i%dim] = 1
	return v
}

// fakeEmbedder maps known texts to fixed vectors and everything else to a
// vector derived from the text length. Texts in fail produce an error.
type fakeEmbedder struct {
	mu      sync.Mutex
	dim     int
	vectors map[string][]float32
	fail    map[string]error
	calls   int
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{dim: dim, vectors: map[string][]float32{}, fail: map[string]error{}}
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	out, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err, ok := f.fail[t]; ok {
			return nil, newEmbeddingError("fake", t, err)
		}
		if v, ok := f.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = unitVector(f.dim, len(t))
	}
	return out, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// countingIndex wraps a MemoryIndex, counting calls and optionally failing
// them.
type countingIndex struct {
	*MemoryIndex

	mu          sync.Mutex
	ensureCalls int
	upsertCalls int
	searchCalls int
	ensureErr   error
	searchErr   error
	// upsertFail fails the upsert of any batch containing a record from
	// this source file.
	upsertFail map[string]bool
}

func newCountingIndex() *countingIndex {
	return &countingIndex{MemoryIndex: NewMemoryIndex(), upsertFail: map[string]bool{}}
}

func (c *countingIndex) EnsureIndex(ctx context.Context, name string, dimension int, metric Metric) error {
	c.mu.Lock()
	c.ensureCalls++
	err := c.ensureErr
	c.mu.Unlock()
	if err != nil {
		return &IndexProvisioningError{Index: name, Err: err}
	}
	return c.MemoryIndex.EnsureIndex(ctx, name, dimension, metric)
}

func (c *countingIndex) Upsert(ctx context.Context, indexName, namespace string, records []Record) error {
	c.mu.Lock()
	c.upsertCalls++
	c.mu.Unlock()
	for _, r := range records {
		if src, _ := r.Metadata[MetaSource].(string); c.upsertFail[src] {
			werr := &IndexWriteError{Index: indexName, Namespace: namespace, Err: errors.New("rejected")}
			for _, rec := range records {
				werr.Failed = append(werr.Failed, rec.ID)
			}
			return werr
		}
	}
	return c.MemoryIndex.Upsert(ctx, indexName, namespace, records)
}

func (c *countingIndex) Search(ctx context.Context, indexName, namespace string, vector []float32, topK int) ([]Match, error) {
	c.mu.Lock()
	c.searchCalls++
	err := c.searchErr
	c.mu.Unlock()
	if err != nil {
		return nil, &IndexQueryError{Index: indexName, Namespace: namespace, Err: err}
	}
	return c.MemoryIndex.Search(ctx, indexName, namespace, vector, topK)
}

func (c *countingIndex) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureCalls + c.upsertCalls
}
