package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github/itish2003/pdfqa/config"
	"github/itish2003/pdfqa/telemetry"
)

// Outcome is the overall result of a directory ingestion.
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomePartial  Outcome = "partial"
	OutcomeNoFiles  Outcome = "no_files"
)

// IngestReport summarizes a directory ingestion. FailedFiles holds base
// names, ordered by name.
type IngestReport struct {
	Outcome     Outcome
	Processed   int
	FailedFiles []string
}

// IndexingService turns a directory of PDFs into records in one namespace.
type IndexingService struct {
	extractor PageExtractor
	splitter  *Splitter
	embedder  Embedder
	index     VectorIndex
	metrics   *telemetry.Metrics
	recordID  RecordIDFunc

	indexName string
	namespace string
	dimension int
	workers   int
}

// NewIndexingService reads the index, namespace, dimension, worker count and
// record ID policy from cfg.
func NewIndexingService(cfg *config.Config, extractor PageExtractor, splitter *Splitter, embedder Embedder, index VectorIndex, metrics *telemetry.Metrics) *IndexingService {
	return &IndexingService{
		extractor: extractor,
		splitter:  splitter,
		embedder:  embedder,
		index:     index,
		metrics:   metrics,
		recordID:  NewRecordIDFunc(cfg.RecordIDs),
		indexName: cfg.IndexName,
		namespace: cfg.Namespace,
		dimension: cfg.Dimension(),
		workers:   cfg.IngestWorkers,
	}
}

// IngestDirectory ingests every *.pdf directly inside dir. A file that
// fails is logged and reported; it never stops the batch. The returned
// error is non-nil only when the directory is invalid or the index could
// not be provisioned.
func (s *IndexingService) IngestDirectory(ctx context.Context, dir string) (*IngestReport, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &InvalidDirectoryError{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &InvalidDirectoryError{Path: dir}
	}

	files, err := listPDFs(dir)
	if err != nil {
		return nil, &InvalidDirectoryError{Path: dir, Err: err}
	}
	if len(files) == 0 {
		logrus.WithField("directory", dir).Info("no PDF files found")
		return &IngestReport{Outcome: OutcomeNoFiles}, nil
	}

	ctx, span := otel.Tracer("pdfqa/ingestion").Start(ctx, "ingest_directory")
	defer span.End()
	span.SetAttributes(attribute.String("directory", dir), attribute.Int("files", len(files)))

	if err := s.EnsureIndex(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"directory": dir, "files": len(files), "workers": s.workers}).Info("starting ingestion")

	results := make([]error, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, path := range files {
		g.Go(func() error {
			// Per-file errors are collected, not returned, so one bad file
			// does not cancel the others.
			results[i] = s.IngestFile(gctx, path)
			return nil
		})
	}
	_ = g.Wait()

	report := &IngestReport{}
	for i, err := range results {
		name := filepath.Base(files[i])
		s.metrics.RecordIngestedFile(ctx, err == nil)
		if err != nil {
			logrus.WithField("file", name).WithError(err).Error("failed to ingest file")
			report.FailedFiles = append(report.FailedFiles, name)
			continue
		}
		report.Processed++
	}

	report.Outcome = OutcomeComplete
	if len(report.FailedFiles) > 0 {
		report.Outcome = OutcomePartial
	}
	logrus.WithFields(logrus.Fields{
		"directory": dir,
		"processed": report.Processed,
		"failed":    len(report.FailedFiles),
	}).Info("ingestion finished")
	return report, nil
}

// EnsureIndex provisions the configured index for the embedding model's
// dimension.
func (s *IndexingService) EnsureIndex(ctx context.Context) error {
	return s.index.EnsureIndex(ctx, s.indexName, s.dimension, MetricCosine)
}

// IngestFile extracts, splits, embeds and upserts a single PDF. The index
// must already exist.
func (s *IndexingService) IngestFile(ctx context.Context, path string) error {
	name := filepath.Base(path)

	pages, err := s.extractor.ExtractPages(ctx, path)
	if err != nil {
		return fmt.Errorf("extract %s: %w", name, err)
	}

	chunks, err := s.splitter.SplitPages(pages)
	if err != nil {
		return fmt.Errorf("split %s: %w", name, err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("split %s: %w", name, ErrNoText)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", name, err)
	}

	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{
			ID:     s.recordID(s.namespace, c),
			Vector: vectors[i],
			Text:   c.Text,
			Metadata: map[string]any{
				MetaSource: c.Source,
				MetaPage:   c.Page,
				MetaChunk:  c.Index,
			},
		}
	}

	if err := s.index.Upsert(ctx, s.indexName, s.namespace, records); err != nil {
		var werr *IndexWriteError
		if errors.As(err, &werr) && werr.Partial() {
			return fmt.Errorf("upsert %s: %d of %d chunks written: %w", name, len(werr.Succeeded), len(records), err)
		}
		return fmt.Errorf("upsert %s: %w", name, err)
	}

	logrus.WithFields(logrus.Fields{"file": name, "pages": len(pages), "chunks": len(chunks)}).Info("ingested file")
	return nil
}

// RemoveFile deletes every record ingested from the file at path.
func (s *IndexingService) RemoveFile(ctx context.Context, path string) error {
	name := filepath.Base(path)
	if err := s.index.DeleteBySource(ctx, s.indexName, s.namespace, name); err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// ReplaceFile drops the records of a previous version of the file before
// ingesting it again, so no stale chunks stay searchable.
func (s *IndexingService) ReplaceFile(ctx context.Context, path string) error {
	if err := s.RemoveFile(ctx, path); err != nil {
		return err
	}
	return s.IngestFile(ctx, path)
}

// listPDFs returns the regular *.pdf files directly inside dir, sorted.
func listPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !isPDF(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
