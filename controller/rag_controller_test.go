package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/itish2003/pdfqa/config"
	"github/itish2003/pdfqa/services"
)

type fakeAnswerer struct {
	answer   *services.Answer
	err      error
	question string
}

func (f *fakeAnswerer) Answer(_ context.Context, question string) (*services.Answer, error) {
	f.question = question
	return f.answer, f.err
}

type fakeIngester struct {
	report *services.IngestReport
	err    error
	dir    string
}

func (f *fakeIngester) IngestDirectory(_ context.Context, dir string) (*services.IngestReport, error) {
	f.dir = dir
	return f.report, f.err
}

type nopEmbedder struct{ dim int }

func (e nopEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return make([]float32, e.dim), nil
}

func (e nopEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.OpenAIAPIKey = "sk-test"
	cfg.VectorStore = config.VectorStoreMemory
	cfg.IndexName = "test-index"
	cfg.Namespace = "test-ns"
	cfg.GinMode = "test"
	return cfg
}

func newTestRouter(rag Answerer, indexer DirectoryIngester) http.Handler {
	cfg := testConfig()
	return NewRouter(cfg, NewRAGController(rag, indexer, cfg.ServiceName))
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestEmbedDirectory_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		report *services.IngestReport
		want   map[string]any
	}{
		{
			name:   "complete",
			report: &services.IngestReport{Outcome: services.OutcomeComplete, Processed: 3},
			want:   map[string]any{"message": "Successfully processed all files", "processed_files": float64(3)},
		},
		{
			name:   "partial",
			report: &services.IngestReport{Outcome: services.OutcomePartial, Processed: 1, FailedFiles: []string{"bad.pdf"}},
			want: map[string]any{
				"message":          "Completed with some failures",
				"failed_files":     []any{"bad.pdf"},
				"successful_files": float64(1),
			},
		},
		{
			name:   "no files",
			report: &services.IngestReport{Outcome: services.OutcomeNoFiles},
			want:   map[string]any{"message": "No PDF files found in the directory", "processed_files": float64(0)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingester := &fakeIngester{report: tt.report}
			rec, body := do(t, newTestRouter(&fakeAnswerer{}, ingester), http.MethodPost, "/embed_directory", `{"directory":"/data/pdfs"}`)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, body)
			assert.Equal(t, "/data/pdfs", ingester.dir)
		})
	}
}

func TestEmbedDirectory_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		detail string
	}{
		{"invalid directory", `{"directory":"/nope"}`, &services.InvalidDirectoryError{Path: "/nope"}, http.StatusBadRequest, "Invalid directory path"},
		{"empty directory field", `{"directory":"  "}`, nil, http.StatusBadRequest, "Invalid directory path"},
		{"malformed body", `{"directory":`, nil, http.StatusBadRequest, "Invalid request body"},
		{
			"provisioning failure",
			`{"directory":"/data"}`,
			&services.IndexProvisioningError{Index: "docs", Err: errors.New("quota exceeded")},
			http.StatusInternalServerError,
			"Internal server error: provision index \"docs\": quota exceeded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingester := &fakeIngester{err: tt.err}
			rec, body := do(t, newTestRouter(&fakeAnswerer{}, ingester), http.MethodPost, "/embed_directory", tt.body)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, body["detail"], tt.detail)
		})
	}
}

func TestEmbedDirectory_RealPipeline(t *testing.T) {
	cfg := testConfig()
	splitter, err := services.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap, cfg.ChunkSeparator)
	require.NoError(t, err)
	extractor, err := services.NewPDFExtractor("")
	require.NoError(t, err)
	indexer := services.NewIndexingService(cfg, extractor, splitter, nopEmbedder{dim: cfg.Dimension()}, services.NewMemoryIndex(), nil)
	h := newTestRouter(&fakeAnswerer{}, indexer)

	empty := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(empty, "readme.txt"), []byte("hi"), 0o644))
	rec, body := do(t, h, http.MethodPost, "/embed_directory", `{"directory":"`+empty+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No PDF files found in the directory", body["message"])
	assert.Equal(t, float64(0), body["processed_files"])

	broken := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(broken, "bad.pdf"), []byte("not a pdf"), 0o644))
	rec, body = do(t, h, http.MethodPost, "/embed_directory", `{"directory":"`+broken+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"bad.pdf"}, body["failed_files"])
	assert.Equal(t, float64(0), body["successful_files"])

	rec, body = do(t, h, http.MethodPost, "/embed_directory", `{"directory":"`+filepath.Join(empty, "missing")+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid directory path", body["detail"])
}

func TestQueryRAG(t *testing.T) {
	rag := &fakeAnswerer{answer: &services.Answer{
		Answer:          "Refunds are issued within 30 days.",
		SourceDocuments: "Refunds are issued within 30 days of purchase.",
		Matches: []services.Match{
			{ID: "a1", Text: "Refunds are issued within 30 days of purchase.", Score: 0.92, Metadata: map[string]any{"source": "policy.pdf"}},
		},
	}}
	h := newTestRouter(rag, &fakeIngester{})

	rec, body := do(t, h, http.MethodPost, "/query", `{"query":"What is the refund window?"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{
		"answer":           "Refunds are issued within 30 days.",
		"source_documents": "Refunds are issued within 30 days of purchase.",
	}, body)
	assert.Equal(t, "What is the refund window?", rag.question)

	rec, body = do(t, h, http.MethodPost, "/query", `{"query":"What is the refund window?","include_matches":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["matches"], 1)
	match := body["matches"].([]any)[0].(map[string]any)
	assert.Equal(t, "a1", match["id"])
	assert.Equal(t, 0.92, match["score"])
}

func TestQueryRAG_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		detail string
	}{
		{"empty query", `{"query":"   "}`, nil, http.StatusBadRequest, "Query must not be empty"},
		{"missing query", `{}`, nil, http.StatusBadRequest, "Query must not be empty"},
		{"malformed body", `not json`, nil, http.StatusBadRequest, "Invalid request body"},
		{
			"retrieval failure",
			`{"query":"q"}`,
			&services.RetrievalError{Stage: services.StageGenerate, Err: errors.New("model overloaded")},
			http.StatusInternalServerError,
			"Internal server error: retrieval failed at generate: model overloaded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, newTestRouter(&fakeAnswerer{err: tt.err}, &fakeIngester{}), http.MethodPost, "/query", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, body["detail"], tt.detail)
		})
	}
}

func TestHomeAndHealth(t *testing.T) {
	h := newTestRouter(&fakeAnswerer{}, &fakeIngester{})

	rec, body := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "healthy", "service": "pdfqa", "version": Version}, body)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec, body = do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "endpoints")
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newTestRouter(&fakeAnswerer{}, &fakeIngester{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}
