package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github/itish2003/pdfqa/config"
	"github/itish2003/pdfqa/telemetry"
)

// Embedder turns text into vectors of a fixed dimension.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// embedBatchFunc performs one remote call for a batch of inputs.
type embedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// RemoteEmbedder adds batching, rate limiting, bounded retry, per-call
// timeouts and response validation around a provider call.
type RemoteEmbedder struct {
	model     string
	dimension int
	batchSize int
	maxTries  uint
	timeout   time.Duration
	limiter   *rate.Limiter
	metrics   *telemetry.Metrics
	call      embedBatchFunc
	backOff   func() backoff.BackOff
}

var _ Embedder = (*RemoteEmbedder)(nil)

func newRemoteEmbedder(cfg *config.Config, metrics *telemetry.Metrics, call embedBatchFunc) *RemoteEmbedder {
	e := &RemoteEmbedder{
		model:     string(cfg.EmbeddingModel),
		dimension: cfg.Dimension(),
		batchSize: cfg.EmbedBatchSize,
		maxTries:  uint(cfg.EmbedMaxRetries),
		timeout:   cfg.RequestTimeout,
		metrics:   metrics,
		call:      call,
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	if cfg.EmbedRPS > 0 {
		burst := int(cfg.EmbedRPS)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.EmbedRPS), burst)
	}
	return e
}

// NewOpenAIEmbedder embeds through the OpenAI embeddings endpoint.
func NewOpenAIEmbedder(cfg *config.Config, metrics *telemetry.Metrics) *RemoteEmbedder {
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}
	client := openai.NewClientWithConfig(clientCfg)
	model := openai.EmbeddingModel(cfg.EmbeddingModel)

	return newRemoteEmbedder(cfg, metrics, func(ctx context.Context, texts []string) ([][]float32, error) {
		resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: model,
		})
		if err != nil {
			return nil, err
		}
		data := resp.Data
		sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
		out := make([][]float32, len(data))
		for i, d := range data {
			out[i] = d.Embedding
		}
		return out, nil
	})
}

// NewGeminiEmbedder embeds through the Gemini API, pinning the output
// dimension to the one the configured model is registered with.
func NewGeminiEmbedder(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*RemoteEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := string(cfg.EmbeddingModel)
	dim := int32(cfg.Dimension())

	return newRemoteEmbedder(cfg, metrics, func(ctx context.Context, texts []string) ([][]float32, error) {
		contents := make([]*genai.Content, 0, len(texts))
		for _, t := range texts {
			contents = append(contents, genai.Text(t)...)
		}
		resp, err := client.Models.EmbedContent(ctx, model, contents, &genai.EmbedContentConfig{
			OutputDimensionality: &dim,
		})
		if err != nil {
			return nil, err
		}
		out := make([][]float32, 0, len(resp.Embeddings))
		for _, e := range resp.Embeddings {
			if e == nil {
				return nil, fmt.Errorf("%w: nil embedding", ErrMalformedResponse)
			}
			out = append(out, e.Values)
		}
		return out, nil
	}), nil
}

// NewEmbedder picks the client for the configured model's provider.
func NewEmbedder(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (Embedder, error) {
	switch cfg.EmbeddingModel.Provider() {
	case config.ProviderOpenAI:
		return NewOpenAIEmbedder(cfg, metrics), nil
	case config.ProviderGemini:
		return NewGeminiEmbedder(ctx, cfg, metrics)
	default:
		return nil, fmt.Errorf("no embedding client for model %q", cfg.EmbeddingModel)
	}
}

func (e *RemoteEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *RemoteEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *RemoteEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	attempt := 0
	op := func() ([][]float32, error) {
		attempt++
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		vectors, err := e.call(callCtx, texts)
		if err == nil {
			err = e.validate(vectors, len(texts))
		}
		e.metrics.RecordEmbedCall(ctx, e.model, err == nil)
		if err != nil {
			if !retryable(ctx, err) {
				return nil, backoff.Permanent(err)
			}
			logrus.WithFields(logrus.Fields{
				"model":   e.model,
				"attempt": attempt,
			}).WithError(err).Warn("embedding call failed, retrying")
			return nil, err
		}
		return vectors, nil
	}

	vectors, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(e.backOff()),
		backoff.WithMaxTries(e.maxTries),
	)
	if err != nil {
		return nil, newEmbeddingError(e.model, texts[0], err)
	}
	return vectors, nil
}

func (e *RemoteEmbedder) validate(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: got %d embeddings for %d inputs", ErrMalformedResponse, len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) != e.dimension {
			return fmt.Errorf("%w: embedding %d has dimension %d, want %d", ErrMalformedResponse, i, len(v), e.dimension)
		}
	}
	return nil
}

// retryable reports whether a failed call may succeed on another try:
// rate limiting, server errors, timeouts and transport failures.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrMalformedResponse) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	// Transport failures, timeouts and errors from providers without typed
	// status codes are retried within the bounded budget.
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500 || code == 0
}
