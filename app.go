package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github/itish2003/pdfqa/config"
	"github/itish2003/pdfqa/logger"
	"github/itish2003/pdfqa/services"
	"github/itish2003/pdfqa/telemetry"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg     *config.Config
	indexer *services.IndexingService
	rag     *services.RAGService

	closers []func(context.Context)
}

// loadApp reads the configuration named by --config and builds every
// component from it. Configuration problems are reported before any client
// is created.
func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg)
	return newApp(cmd.Context(), cfg)
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.closers = append(a.closers, shutdownTracer)

	shutdownMeter, err := telemetry.InitMeter(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("init meter: %w", err)
	}
	a.closers = append(a.closers, shutdownMeter)

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	index, err := newVectorIndex(a, cfg)
	if err != nil {
		return nil, err
	}

	embedder, err := services.NewEmbedder(ctx, cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	if cfg.RedisURL != "" {
		rdb, err := services.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init embedding cache: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) { _ = rdb.Close() })
		embedder = services.NewCachedEmbedder(embedder, services.NewRedisEmbeddingCache(rdb, cfg.EmbedCacheTTL), string(cfg.EmbeddingModel))
		logrus.Info("embedding cache enabled")
	}

	extractor, err := services.NewPDFExtractor(cfg.UnidocLicenseKey)
	if err != nil {
		return nil, err
	}
	splitter, err := services.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap, cfg.ChunkSeparator)
	if err != nil {
		return nil, err
	}
	generator, err := services.NewGenerator(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init generator: %w", err)
	}

	a.indexer = services.NewIndexingService(cfg, extractor, splitter, embedder, index, metrics)
	a.rag = services.NewRAGService(cfg, embedder, index, generator, services.NewPromptTemplate(), metrics)

	logrus.WithFields(logrus.Fields{
		"vector_store":     cfg.VectorStore,
		"index":            cfg.IndexName,
		"namespace":        cfg.Namespace,
		"embedding_model":  cfg.EmbeddingModel,
		"generation_model": cfg.GenerationModel,
	}).Debug("components ready")
	return a, nil
}

func newVectorIndex(a *app, cfg *config.Config) (services.VectorIndex, error) {
	switch cfg.VectorStore {
	case config.VectorStoreChroma:
		index, err := services.NewChromaIndex(cfg)
		if err != nil {
			return nil, fmt.Errorf("init chroma client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) {
			if err := index.Close(); err != nil {
				logrus.WithError(err).Warn("failed to close chroma client")
			}
		})
		return index, nil
	case config.VectorStoreMemory:
		logrus.Warn("using the in-memory vector store; records are lost on exit")
		return services.NewMemoryIndex(), nil
	default:
		return nil, fmt.Errorf("unsupported vector store %q", cfg.VectorStore)
	}
}

// Close releases clients in reverse order of creation.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}
