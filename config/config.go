package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is loaded once at start-up and handed to every component
// constructor. It is not mutated after Load returns.
type Config struct {
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	GeminiAPIKey  string `yaml:"gemini_api_key"`

	EmbeddingModel  EmbeddingModel  `yaml:"embedding_model"`
	GenerationModel GenerationModel `yaml:"generation_model"`

	VectorStore VectorStore `yaml:"vector_store"`
	ChromaURL   string      `yaml:"chroma_url"`
	ChromaToken string      `yaml:"chroma_token"`
	IndexName   string      `yaml:"index_name"`
	Namespace   string      `yaml:"namespace"`

	ChunkSize      int    `yaml:"chunk_size"`
	ChunkOverlap   int    `yaml:"chunk_overlap"`
	ChunkSeparator string `yaml:"chunk_separator"`

	TopK        int     `yaml:"top_k"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	RequestTimeout  time.Duration  `yaml:"request_timeout"`
	EmbedMaxRetries int            `yaml:"embed_max_retries"`
	EmbedRPS        float64        `yaml:"embed_rps"`
	EmbedBatchSize  int            `yaml:"embed_batch_size"`
	IngestWorkers   int            `yaml:"ingest_workers"`
	UpsertBatchSize int            `yaml:"upsert_batch_size"`
	RecordIDs       RecordIDPolicy `yaml:"record_ids"`

	RedisURL      string        `yaml:"redis_url"`
	EmbedCacheTTL time.Duration `yaml:"embed_cache_ttl"`

	UnidocLicenseKey string `yaml:"unidoc_license_key"`

	Port        string   `yaml:"port"`
	GinMode     string   `yaml:"gin_mode"`
	CORSOrigins []string `yaml:"cors_origins"`

	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	OTelEndpoint string `yaml:"otel_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		EmbeddingModel:  DefaultEmbeddingModel,
		GenerationModel: DefaultGenerationModel,
		VectorStore:     VectorStoreChroma,
		ChromaURL:       "http://localhost:8000",
		ChunkSize:       2000,
		ChunkOverlap:    50,
		ChunkSeparator:  "\n",
		TopK:            3,
		Temperature:     0.7,
		MaxTokens:       500,
		RequestTimeout:  30 * time.Second,
		EmbedMaxRetries: 3,
		EmbedBatchSize:  100,
		IngestWorkers:   1,
		UpsertBatchSize: 100,
		RecordIDs:       RecordIDHash,
		EmbedCacheTTL:   24 * time.Hour,
		Port:            "8080",
		GinMode:         "release",
		CORSOrigins:     []string{"*"},
		LogLevel:        "info",
		LogFormat:       "text",
		ServiceName:     "pdfqa",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file in the working directory and the process environment,
// in that order of increasing precedence, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	env := &envReader{}
	env.apply(cfg)
	if err := cfg.Validate(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Problems = append(env.problems, verr.Problems...)
			return nil, verr
		}
		return nil, err
	}
	if len(env.problems) > 0 {
		return nil, &ValidationError{Problems: env.problems}
	}
	return cfg, nil
}

// ValidationError lists every problem found, so one start-up attempt
// reports all of them.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks ranges, enums and required credentials. Model names are
// normalized to their canonical form.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if m, err := ParseEmbeddingModel(string(c.EmbeddingModel)); err != nil {
		add("%v", err)
	} else {
		c.EmbeddingModel = m
	}
	if m, err := ParseGenerationModel(string(c.GenerationModel)); err != nil {
		add("%v", err)
	} else {
		c.GenerationModel = m
	}

	needs := map[Provider]bool{}
	if _, ok := embeddingModels[c.EmbeddingModel]; ok {
		needs[c.EmbeddingModel.Provider()] = true
	}
	if _, ok := generationModels[c.GenerationModel]; ok {
		needs[c.GenerationModel.Provider()] = true
	}
	if needs[ProviderOpenAI] && c.OpenAIAPIKey == "" {
		add("OPENAI_API_KEY is required for the selected models")
	}
	if needs[ProviderGemini] && c.GeminiAPIKey == "" {
		add("GEMINI_API_KEY is required for the selected models")
	}

	switch c.VectorStore {
	case VectorStoreChroma:
		if c.ChromaURL == "" {
			add("CHROMA_URL is required when VECTOR_STORE=chroma")
		}
	case VectorStoreMemory:
	default:
		add("unsupported vector store %q (supported: chroma, memory)", c.VectorStore)
	}
	if strings.TrimSpace(c.IndexName) == "" {
		add("INDEX_NAME is required")
	}
	if strings.TrimSpace(c.Namespace) == "" {
		add("INDEX_NAMESPACE is required")
	}

	if c.ChunkSize <= 0 {
		add("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		add("CHUNK_OVERLAP must not be negative, got %d", c.ChunkOverlap)
	}
	if c.ChunkSize > 0 && c.ChunkOverlap >= c.ChunkSize {
		add("CHUNK_OVERLAP (%d) must be less than CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.TopK <= 0 {
		add("TOP_K must be positive, got %d", c.TopK)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		add("TEMPERATURE must be within [0, 2], got %g", c.Temperature)
	}
	if c.MaxTokens <= 0 {
		add("MAX_TOKENS must be positive, got %d", c.MaxTokens)
	}
	if c.RequestTimeout <= 0 {
		add("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.EmbedMaxRetries < 1 {
		add("EMBED_MAX_RETRIES must be at least 1, got %d", c.EmbedMaxRetries)
	}
	if c.EmbedRPS < 0 {
		add("EMBED_RPS must not be negative, got %g", c.EmbedRPS)
	}
	if c.EmbedBatchSize <= 0 {
		add("EMBED_BATCH_SIZE must be positive, got %d", c.EmbedBatchSize)
	}
	if c.IngestWorkers < 1 {
		add("INGEST_WORKERS must be at least 1, got %d", c.IngestWorkers)
	}
	if c.UpsertBatchSize <= 0 {
		add("UPSERT_BATCH_SIZE must be positive, got %d", c.UpsertBatchSize)
	}
	switch c.RecordIDs {
	case RecordIDHash, RecordIDRandom:
	default:
		add("unsupported RECORD_IDS policy %q (supported: hash, random)", c.RecordIDs)
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		add("unsupported GIN_MODE %q (supported: debug, release, test)", c.GinMode)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		add("unsupported LOG_LEVEL %q", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		add("unsupported LOG_FORMAT %q (supported: text, json)", c.LogFormat)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Dimension is the vector length of the configured embedding model.
func (c *Config) Dimension() int { return c.EmbeddingModel.Dimension() }

// String renders the configuration with credentials redacted.
func (c *Config) String() string {
	return fmt.Sprintf(
		"embedding=%s generation=%s store=%s index=%s namespace=%s chunk=%d/%d top_k=%d openai_key=%s gemini_key=%s chroma_token=%s",
		c.EmbeddingModel, c.GenerationModel, c.VectorStore, c.IndexName, c.Namespace,
		c.ChunkSize, c.ChunkOverlap, c.TopK,
		redact(c.OpenAIAPIKey), redact(c.GeminiAPIKey), redact(c.ChromaToken),
	)
}

func redact(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return "<redacted>"
}

// envReader overlays environment variables onto a Config and remembers
// values that failed to parse instead of silently keeping the default.
type envReader struct {
	problems []string
}

func (r *envReader) apply(cfg *Config) {
	cfg.OpenAIAPIKey = r.getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = r.getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.GeminiAPIKey = r.getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)

	cfg.EmbeddingModel = EmbeddingModel(r.getEnv("EMBEDDING_MODEL", string(cfg.EmbeddingModel)))
	cfg.GenerationModel = GenerationModel(r.getEnv("LLM_MODEL", string(cfg.GenerationModel)))

	cfg.VectorStore = VectorStore(strings.ToLower(r.getEnv("VECTOR_STORE", string(cfg.VectorStore))))
	cfg.ChromaURL = r.getEnv("CHROMA_URL", cfg.ChromaURL)
	cfg.ChromaToken = r.getEnv("CHROMA_TOKEN", cfg.ChromaToken)
	cfg.IndexName = r.getEnv("INDEX_NAME", cfg.IndexName)
	cfg.Namespace = r.getEnv("INDEX_NAMESPACE", cfg.Namespace)

	cfg.ChunkSize = r.getEnvInt("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = r.getEnvInt("CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.ChunkSeparator = r.getEnv("CHUNK_SEPARATOR", cfg.ChunkSeparator)

	cfg.TopK = r.getEnvInt("TOP_K", cfg.TopK)
	cfg.Temperature = r.getEnvFloat("TEMPERATURE", cfg.Temperature)
	cfg.MaxTokens = r.getEnvInt("MAX_TOKENS", cfg.MaxTokens)

	cfg.RequestTimeout = r.getEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.EmbedMaxRetries = r.getEnvInt("EMBED_MAX_RETRIES", cfg.EmbedMaxRetries)
	cfg.EmbedRPS = r.getEnvFloat("EMBED_RPS", cfg.EmbedRPS)
	cfg.EmbedBatchSize = r.getEnvInt("EMBED_BATCH_SIZE", cfg.EmbedBatchSize)
	cfg.IngestWorkers = r.getEnvInt("INGEST_WORKERS", cfg.IngestWorkers)
	cfg.UpsertBatchSize = r.getEnvInt("UPSERT_BATCH_SIZE", cfg.UpsertBatchSize)
	cfg.RecordIDs = RecordIDPolicy(strings.ToLower(r.getEnv("RECORD_IDS", string(cfg.RecordIDs))))

	cfg.RedisURL = r.getEnv("REDIS_URL", cfg.RedisURL)
	cfg.EmbedCacheTTL = r.getEnvDuration("EMBED_CACHE_TTL", cfg.EmbedCacheTTL)

	cfg.UnidocLicenseKey = r.getEnv("UNIDOC_LICENSE_KEY", cfg.UnidocLicenseKey)

	cfg.Port = r.getEnv("PORT", cfg.Port)
	cfg.GinMode = r.getEnv("GIN_MODE", cfg.GinMode)
	if origins := r.getEnv("CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	cfg.LogLevel = r.getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = r.getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.OTelEndpoint = r.getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTelEndpoint)
	cfg.ServiceName = r.getEnv("OTEL_SERVICE_NAME", cfg.ServiceName)
}

func (r *envReader) getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) getEnvInt(key string, defaultValue int) int {
	value := r.getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		r.problems = append(r.problems, fmt.Sprintf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return n
}

func (r *envReader) getEnvFloat(key string, defaultValue float64) float64 {
	value := r.getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		r.problems = append(r.problems, fmt.Sprintf("%s must be a number, got %q", key, value))
		return defaultValue
	}
	return f
}

func (r *envReader) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := r.getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		r.problems = append(r.problems, fmt.Sprintf("%s must be a duration like 30s, got %q", key, value))
		return defaultValue
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
