package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"

	"github/itish2003/pdfqa/config"
)

// Generator produces an answer for a rendered prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// LLMGenerator drives any langchaingo chat model; the OpenAI models are
// served through it.
type LLMGenerator struct {
	llm         llms.Model
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

var _ Generator = (*LLMGenerator)(nil)

func NewOpenAIGenerator(cfg *config.Config) (*LLMGenerator, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.OpenAIAPIKey),
		openai.WithModel(string(cfg.GenerationModel)),
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewLLMGenerator(llm, cfg), nil
}

func NewLLMGenerator(llm llms.Model, cfg *config.Config) *LLMGenerator {
	return &LLMGenerator{
		llm:         llm,
		model:       string(cfg.GenerationModel),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.RequestTimeout,
	}
}

func (g *LLMGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	ctx, span := otel.Tracer("pdfqa/generation").Start(ctx, "generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", g.model))

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, p.System),
			llms.TextParts(llms.ChatMessageTypeHuman, p.User),
		},
		llms.WithTemperature(g.temperature),
		llms.WithMaxTokens(g.maxTokens),
	)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("generate with %s: %w", g.model, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", fmt.Errorf("generate with %s: %w: no content", g.model, ErrMalformedResponse)
	}
	return resp.Choices[0].Content, nil
}

// GeminiGenerator calls the Gemini API with the prompt's system part as
// the system instruction.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	timeout     time.Duration
}

var _ Generator = (*GeminiGenerator)(nil)

func NewGeminiGenerator(ctx context.Context, cfg *config.Config) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{
		client:      client,
		model:       string(cfg.GenerationModel),
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
		timeout:     cfg.RequestTimeout,
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	ctx, span := otel.Tracer("pdfqa/generation").Start(ctx, "generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", g.model))

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	temperature := g.temperature
	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(p.User), &genai.GenerateContentConfig{
		SystemInstruction: genai.Text(p.System)[0],
		Temperature:       &temperature,
		MaxOutputTokens:   g.maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("generate with %s: %w", g.model, err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("generate with %s: %w: no candidates", g.model, ErrMalformedResponse)
	}

	var answer strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			answer.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(answer.String()) == "" {
		return "", fmt.Errorf("generate with %s: %w: empty answer", g.model, ErrMalformedResponse)
	}
	return answer.String(), nil
}

// NewGenerator builds the client for the configured model, guarded by a
// circuit breaker.
func NewGenerator(ctx context.Context, cfg *config.Config) (Generator, error) {
	var (
		gen Generator
		err error
	)
	switch cfg.GenerationModel.Provider() {
	case config.ProviderOpenAI:
		gen, err = NewOpenAIGenerator(cfg)
	case config.ProviderGemini:
		gen, err = NewGeminiGenerator(ctx, cfg)
	default:
		err = fmt.Errorf("no generation client for model %q", cfg.GenerationModel)
	}
	if err != nil {
		return nil, err
	}
	return NewBreakerGenerator(gen, string(cfg.GenerationModel)), nil
}

// BreakerGenerator stops calling a failing model for a while instead of
// letting every request wait for its timeout.
type BreakerGenerator struct {
	next    Generator
	breaker *gobreaker.CircuitBreaker
}

var _ Generator = (*BreakerGenerator)(nil)

// NewBreakerGenerator wraps next in a circuit breaker named name.
func NewBreakerGenerator(next Generator, name string) *BreakerGenerator {
	return &BreakerGenerator{
		next: next,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				// A caller giving up is not the model's fault.
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logrus.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
			},
		}),
	}
}

func (b *BreakerGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, p)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}
