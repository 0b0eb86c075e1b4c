package services

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github/itish2003/pdfqa/config"
	"github/itish2003/pdfqa/telemetry"
)

// contextSeparator joins retrieved chunk texts into the prompt context.
const contextSeparator = "\n\n"

// Answer is the result of a successful question.
type Answer struct {
	Answer string
	// SourceDocuments is the exact context string given to the model.
	SourceDocuments string
	Matches         []Match
}

// RAGService answers questions from the chunks stored in one namespace.
type RAGService struct {
	embedder  Embedder
	index     VectorIndex
	generator Generator
	prompt    *PromptTemplate
	metrics   *telemetry.Metrics

	indexName string
	namespace string
	topK      int
}

// NewRAGService reads the index, namespace and top_k from cfg. metrics may
// be nil.
func NewRAGService(cfg *config.Config, embedder Embedder, index VectorIndex, generator Generator, prompt *PromptTemplate, metrics *telemetry.Metrics) *RAGService {
	return &RAGService{
		embedder:  embedder,
		index:     index,
		generator: generator,
		prompt:    prompt,
		metrics:   metrics,
		indexName: cfg.IndexName,
		namespace: cfg.Namespace,
		topK:      cfg.TopK,
	}
}

// Answer embeds the question, retrieves the closest chunks and asks the
// model to answer from them. Any failure along the way is returned as a
// *RetrievalError; no partial answer is produced.
func (s *RAGService) Answer(ctx context.Context, question string) (answer *Answer, err error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	ctx, span := otel.Tracer("pdfqa/retrieval").Start(ctx, "answer",
		trace.WithAttributes(attribute.String("index", s.indexName), attribute.String("namespace", s.namespace)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		s.metrics.RecordQuery(ctx, time.Since(start).Seconds(), err == nil)
		if err != nil {
			span.RecordError(err)
		}
	}()

	vector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, &RetrievalError{Stage: StageEmbed, Err: err}
	}

	matches, err := s.index.Search(ctx, s.indexName, s.namespace, vector, s.topK)
	if err != nil {
		return nil, &RetrievalError{Stage: StageSearch, Err: err}
	}

	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	contextText := strings.Join(texts, contextSeparator)

	prompt, err := s.prompt.Render(contextText, question)
	if err != nil {
		return nil, &RetrievalError{Stage: StagePrompt, Err: err}
	}

	reply, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, &RetrievalError{Stage: StageGenerate, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"namespace": s.namespace,
		"matches":   len(matches),
		"elapsed":   time.Since(start).Round(time.Millisecond).String(),
	}).Info("answered question")

	return &Answer{
		Answer:          reply,
		SourceDocuments: contextText,
		Matches:         matches,
	}, nil
}
