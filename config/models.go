package config

import (
	"fmt"
	"sort"
	"strings"
)

// Provider identifies the remote API family a model is served by.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// EmbeddingModel is one of the supported embedding model identifiers.
// Values outside the set are rejected by ParseEmbeddingModel, so a loaded
// Config never carries an unknown model.
type EmbeddingModel string

const (
	EmbeddingAda002       EmbeddingModel = "text-embedding-ada-002"
	Embedding3Small       EmbeddingModel = "text-embedding-3-small"
	Embedding3Large       EmbeddingModel = "text-embedding-3-large"
	EmbeddingGemini001    EmbeddingModel = "gemini-embedding-001"
	DefaultEmbeddingModel                = EmbeddingAda002
)

type embeddingSpec struct {
	provider  Provider
	dimension int
}

var embeddingModels = map[EmbeddingModel]embeddingSpec{
	EmbeddingAda002:    {ProviderOpenAI, 1536},
	Embedding3Small:    {ProviderOpenAI, 1536},
	Embedding3Large:    {ProviderOpenAI, 3072},
	EmbeddingGemini001: {ProviderGemini, 1536},
}

// ParseEmbeddingModel maps a configured string onto the closed set.
func ParseEmbeddingModel(s string) (EmbeddingModel, error) {
	m := EmbeddingModel(strings.TrimSpace(s))
	if _, ok := embeddingModels[m]; !ok {
		return "", fmt.Errorf("unsupported embedding model %q (supported: %s)", s, strings.Join(EmbeddingModelNames(), ", "))
	}
	return m, nil
}

// Dimension is the vector length produced by the model.
func (m EmbeddingModel) Dimension() int { return embeddingModels[m].dimension }

func (m EmbeddingModel) Provider() Provider { return embeddingModels[m].provider }

func EmbeddingModelNames() []string {
	names := make([]string, 0, len(embeddingModels))
	for m := range embeddingModels {
		names = append(names, string(m))
	}
	sort.Strings(names)
	return names
}

// GenerationModel is one of the supported chat model identifiers.
type GenerationModel string

const (
	GenerationGPT4oMini     GenerationModel = "gpt-4o-mini"
	GenerationGPT4o         GenerationModel = "gpt-4o"
	GenerationGPT35Turbo    GenerationModel = "gpt-3.5-turbo"
	GenerationGemini25Flash GenerationModel = "gemini-2.5-flash"
	DefaultGenerationModel                  = GenerationGPT4oMini
)

var generationModels = map[GenerationModel]Provider{
	GenerationGPT4oMini:     ProviderOpenAI,
	GenerationGPT4o:         ProviderOpenAI,
	GenerationGPT35Turbo:    ProviderOpenAI,
	GenerationGemini25Flash: ProviderGemini,
}

func ParseGenerationModel(s string) (GenerationModel, error) {
	m := GenerationModel(strings.TrimSpace(s))
	if _, ok := generationModels[m]; !ok {
		return "", fmt.Errorf("unsupported generation model %q (supported: %s)", s, strings.Join(GenerationModelNames(), ", "))
	}
	return m, nil
}

func (m GenerationModel) Provider() Provider { return generationModels[m] }

func GenerationModelNames() []string {
	names := make([]string, 0, len(generationModels))
	for m := range generationModels {
		names = append(names, string(m))
	}
	sort.Strings(names)
	return names
}

// VectorStore selects the index adapter.
type VectorStore string

const (
	VectorStoreChroma VectorStore = "chroma"
	VectorStoreMemory VectorStore = "memory"
)

// RecordIDPolicy decides how ingested records are identified.
type RecordIDPolicy string

const (
	// RecordIDHash derives the ID from namespace, source, page and text, so
	// re-ingesting an unchanged document overwrites instead of duplicating.
	RecordIDHash RecordIDPolicy = "hash"
	// RecordIDRandom assigns a fresh UUID to every record.
	RecordIDRandom RecordIDPolicy = "random"
)
