package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/sirupsen/logrus"

	"github/itish2003/pdfqa/config"
)

// ChromaIndex maps an index onto a Chroma collection and a namespace onto
// a metadata field that every query filters on.
type ChromaIndex struct {
	client    chromago.Client
	batchSize int

	mu          sync.Mutex
	collections map[string]chromaCollection

	// writeBatch performs one remote upsert; replaced in tests.
	writeBatch func(ctx context.Context, col chromago.Collection, namespace string, batch []Record) error
}

type chromaCollection struct {
	col       chromago.Collection
	dimension int // 0 when the collection was opened without EnsureIndex
}

var _ VectorIndex = (*ChromaIndex)(nil)

// NewChromaIndex connects to CHROMA_URL, with a bearer token when one is
// configured.
func NewChromaIndex(cfg *config.Config) (*ChromaIndex, error) {
	var (
		client chromago.Client
		err    error
	)
	if cfg.ChromaToken != "" {
		client, err = chromago.NewHTTPClient(
			chromago.WithBaseURL(cfg.ChromaURL),
			chromago.WithDefaultHeaders(map[string]string{"Authorization": "Bearer " + cfg.ChromaToken}),
		)
	} else {
		client, err = chromago.NewHTTPClient(chromago.WithBaseURL(cfg.ChromaURL))
	}
	if err != nil {
		return nil, fmt.Errorf("create chroma client: %w", err)
	}

	return &ChromaIndex{
		client:      client,
		batchSize:   cfg.UpsertBatchSize,
		collections: make(map[string]chromaCollection),
		writeBatch:  upsertChromaBatch,
	}, nil
}

// Close releases the client's resources.
func (c *ChromaIndex) Close() error {
	return c.client.Close()
}

// EnsureIndex gets or creates the collection and checks that an existing
// one was built for the same metric and dimension.
func (c *ChromaIndex) EnsureIndex(ctx context.Context, name string, dimension int, metric Metric) error {
	if metric != MetricCosine {
		return &IndexProvisioningError{Index: name, Err: fmt.Errorf("%w: %q", ErrUnsupportedMetric, metric)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.collections[name]; ok && existing.dimension == dimension {
		return nil
	}

	col, err := c.client.GetOrCreateCollection(ctx, name,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("hnsw:space", string(metric)),
				chromago.NewIntAttribute("dimension", int64(dimension)),
				chromago.NewStringAttribute("created_by", "pdfqa"),
			),
		),
	)
	if err != nil {
		return &IndexProvisioningError{Index: name, Err: err}
	}
	if err := checkCollectionMetadata(col.Metadata(), metric, dimension); err != nil {
		return &IndexProvisioningError{Index: name, Err: err}
	}
	c.collections[name] = chromaCollection{col: col, dimension: dimension}

	logrus.WithFields(logrus.Fields{"index": name, "dimension": dimension}).Info("index ready")
	return nil
}

// checkCollectionMetadata rejects an existing collection built for another
// distance function or dimension. Keys the collection does not carry are
// accepted.
func checkCollectionMetadata(md chromago.CollectionMetadata, metric Metric, dimension int) error {
	if md == nil {
		return nil
	}
	if impl, ok := md.(*chromago.CollectionMetadataImpl); ok && impl == nil {
		return nil
	}
	if space, ok := md.GetString("hnsw:space"); ok && space != string(metric) {
		return fmt.Errorf("%w: collection uses %q, want %q", ErrUnsupportedMetric, space, metric)
	}
	if dim, ok := md.GetInt("dimension"); ok && int(dim) != dimension {
		return fmt.Errorf("exists with dimension %d, want %d", dim, dimension)
	}
	return nil
}

func (c *ChromaIndex) collection(ctx context.Context, name string) (chromaCollection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.collections[name]; ok {
		return existing, nil
	}
	col, err := c.client.GetCollection(ctx, name)
	if err != nil {
		return chromaCollection{}, err
	}
	entry := chromaCollection{col: col}
	c.collections[name] = entry
	return entry, nil
}

// Upsert writes records in sub-batches. A rejected sub-batch is retried
// once; if it fails again all of its IDs are reported as failed while the
// remaining sub-batches are still attempted.
func (c *ChromaIndex) Upsert(ctx context.Context, indexName, namespace string, records []Record) error {
	werr := &IndexWriteError{Index: indexName, Namespace: namespace}
	if len(records) == 0 {
		return nil
	}

	entry, err := c.collection(ctx, indexName)
	if err != nil {
		for _, r := range records {
			werr.Failed = append(werr.Failed, r.ID)
		}
		werr.Err = err
		return werr
	}

	valid := make([]Record, 0, len(records))
	for _, r := range records {
		if entry.dimension > 0 && len(r.Vector) != entry.dimension {
			werr.Failed = append(werr.Failed, r.ID)
			werr.Err = fmt.Errorf("vector dimension %d does not match index dimension %d", len(r.Vector), entry.dimension)
			continue
		}
		valid = append(valid, r)
	}

	for start := 0; start < len(valid); start += c.batchSize {
		batch := valid[start:min(start+c.batchSize, len(valid))]
		err := c.writeBatch(ctx, entry.col, namespace, batch)
		if err != nil && ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{"index": indexName, "records": len(batch)}).WithError(err).Warn("upsert batch rejected, retrying once")
			err = c.writeBatch(ctx, entry.col, namespace, batch)
		}
		for _, r := range batch {
			if err != nil {
				werr.Failed = append(werr.Failed, r.ID)
			} else {
				werr.Succeeded = append(werr.Succeeded, r.ID)
			}
		}
		if err != nil {
			werr.Err = err
		}
	}

	if len(werr.Failed) > 0 {
		return werr
	}
	return nil
}

func upsertChromaBatch(ctx context.Context, col chromago.Collection, namespace string, batch []Record) error {
	ids := make([]chromago.DocumentID, len(batch))
	texts := make([]string, len(batch))
	vectors := make([]embeddings.Embedding, len(batch))
	metas := make([]chromago.DocumentMetadata, len(batch))
	for i, r := range batch {
		ids[i] = chromago.DocumentID(r.ID)
		texts[i] = r.Text
		vectors[i] = embeddings.NewEmbeddingFromFloat32(r.Vector)
		metas[i] = chromaMetadata(namespace, r.Metadata)
	}
	return col.Upsert(ctx,
		chromago.WithIDs(ids...),
		chromago.WithTexts(texts...),
		chromago.WithEmbeddings(vectors...),
		chromago.WithMetadatas(metas...),
	)
}

// chromaMetadata keeps integers as ints and renders everything else as a
// string, plus the namespace field used for filtering.
func chromaMetadata(namespace string, md map[string]any) chromago.DocumentMetadata {
	attrs := []*chromago.MetaAttribute{chromago.NewStringAttribute(MetaNamespace, namespace)}
	for k, v := range md {
		if k == MetaNamespace {
			continue
		}
		switch val := v.(type) {
		case int:
			attrs = append(attrs, chromago.NewIntAttribute(k, int64(val)))
		case int64:
			attrs = append(attrs, chromago.NewIntAttribute(k, val))
		case string:
			attrs = append(attrs, chromago.NewStringAttribute(k, val))
		default:
			attrs = append(attrs, chromago.NewStringAttribute(k, fmt.Sprint(val)))
		}
	}
	return chromago.NewDocumentMetadata(attrs...)
}

func (c *ChromaIndex) Search(ctx context.Context, indexName, namespace string, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, &IndexQueryError{Index: indexName, Namespace: namespace, Err: ErrInvalidTopK}
	}

	entry, err := c.collection(ctx, indexName)
	if err != nil {
		return nil, &IndexQueryError{Index: indexName, Namespace: namespace, Err: err}
	}
	if entry.dimension > 0 && len(vector) != entry.dimension {
		return nil, &IndexQueryError{Index: indexName, Namespace: namespace,
			Err: fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), entry.dimension)}
	}

	results, err := entry.col.Query(ctx,
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chromago.WithNResults(topK),
		chromago.WithWhereQuery(chromago.EqString(MetaNamespace, namespace)),
	)
	if err != nil {
		return nil, &IndexQueryError{Index: indexName, Namespace: namespace, Err: err}
	}

	idGroups := results.GetIDGroups()
	docGroups := results.GetDocumentsGroups()
	metaGroups := results.GetMetadatasGroups()
	distGroups := results.GetDistancesGroups()
	if len(idGroups) == 0 {
		return []Match{}, nil
	}

	matches := make([]Match, 0, len(idGroups[0]))
	for i, id := range idGroups[0] {
		m := Match{ID: string(id)}
		if len(docGroups) > 0 && i < len(docGroups[0]) {
			m.Text = docGroups[0][i].ContentString()
		}
		if len(metaGroups) > 0 && i < len(metaGroups[0]) {
			m.Metadata = metadataToMap(metaGroups[0][i])
		}
		if len(distGroups) > 0 && i < len(distGroups[0]) {
			// cosine distance in [0, 2]
			m.Score = 1 - float64(distGroups[0][i])
		}
		matches = append(matches, m)
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteBySource removes the records whose namespace and source fields both
// match.
func (c *ChromaIndex) DeleteBySource(ctx context.Context, indexName, namespace, source string) error {
	entry, err := c.collection(ctx, indexName)
	if err != nil {
		return fmt.Errorf("delete %s from %s/%s: %w", source, indexName, namespace, err)
	}
	where := chromago.And(
		chromago.EqString(MetaNamespace, namespace),
		chromago.EqString(MetaSource, source),
	)
	if err := entry.col.Delete(ctx, chromago.WithWhereDelete(where)); err != nil {
		return fmt.Errorf("delete %s from %s/%s: %w", source, indexName, namespace, err)
	}
	logrus.WithFields(logrus.Fields{"index": indexName, "namespace": namespace, "file": source}).Debug("deleted records")
	return nil
}

// metadataToMap goes through JSON because DocumentMetadata exposes no
// accessor for its full key set.
func metadataToMap(md chromago.DocumentMetadata) map[string]any {
	if md == nil {
		return nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		logrus.WithError(err).Warn("could not marshal chroma metadata")
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		logrus.WithError(err).Warn("could not unmarshal chroma metadata")
		return nil
	}
	return out
}
