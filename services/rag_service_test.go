package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ragDim = 8

type ragFixture struct {
	index     *countingIndex
	embedder  *fakeEmbedder
	generator *fakeGenerator
	service   *RAGService
}

func newRAGFixture(t *testing.T) *ragFixture {
	t.Helper()
	cfg := testConfig()
	f := &ragFixture{
		index:     newCountingIndex(),
		embedder:  newFakeEmbedder(ragDim),
		generator: &fakeGenerator{},
	}
	require.NoError(t, f.index.EnsureIndex(context.Background(), cfg.IndexName, ragDim, MetricCosine))
	f.service = NewRAGService(cfg, f.embedder, f.index, f.generator, NewPromptTemplate(), nil)
	return f
}

func (f *ragFixture) store(t *testing.T, namespace string, texts ...string) {
	t.Helper()
	records := make([]Record, len(texts))
	for i, text := range texts {
		vec, err := f.embedder.EmbedQuery(context.Background(), text)
		require.NoError(t, err)
		records[i] = Record{ID: text, Vector: vec, Text: text}
	}
	require.NoError(t, f.index.Upsert(context.Background(), "test-index", namespace, records))
}

func TestRAGService_RefundPolicy(t *testing.T) {
	f := newRAGFixture(t)
	refund := "Refunds are issued within 30 days of purchase."
	f.embedder.vectors[refund] = unitVector(ragDim, 0)
	f.embedder.vectors["What is the refund window?"] = unitVector(ragDim, 0)
	f.embedder.vectors["Shipping is free on orders over $50."] = unitVector(ragDim, 1)
	f.embedder.vectors["Support is open on weekdays."] = unitVector(ragDim, 2)
	f.store(t, "test-ns", refund, "Shipping is free on orders over $50.", "Support is open on weekdays.")

	f.generator.answer = func(p Prompt) string {
		if strings.Contains(p.User, "30 days") {
			return "Refunds are issued within 30 days."
		}
		return InsufficientInformation
	}

	ans, err := f.service.Answer(context.Background(), "  What is the refund window?  ")
	require.NoError(t, err)

	assert.Contains(t, ans.Answer, "30 days")
	assert.True(t, strings.HasPrefix(ans.SourceDocuments, refund+"\n\n"))
	require.Len(t, ans.Matches, 3)
	assert.Equal(t, refund, ans.Matches[0].Text)
	assert.InDelta(t, 1.0, ans.Matches[0].Score, 1e-6)

	require.Equal(t, 1, f.generator.calls())
	sent := f.generator.prompts[0]
	assert.Equal(t, "Context: "+ans.SourceDocuments+"\n\nQuestion: What is the refund window?", sent.User)
	assert.Contains(t, sent.System, InsufficientInformation)
}

func TestRAGService_JoinsContextInRankOrder(t *testing.T) {
	f := newRAGFixture(t)
	q := "question"
	f.embedder.vectors[q] = []float32{1, 1, 0, 0, 0, 0, 0, 0}
	f.embedder.vectors["closest"] = []float32{1, 1, 0, 0, 0, 0, 0, 0}
	f.embedder.vectors["middle"] = []float32{1, 0, 0, 0, 0, 0, 0, 0}
	f.embedder.vectors["far"] = []float32{0, 0, 1, 0, 0, 0, 0, 0}
	f.embedder.vectors["dropped"] = []float32{0, 0, 0, 1, 0, 0, 0, 0}
	f.store(t, "test-ns", "far", "dropped", "middle", "closest")

	ans, err := f.service.Answer(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "closest\n\nmiddle\n\ndropped", ans.SourceDocuments)
	assert.Len(t, ans.Matches, 3)
}

func TestRAGService_EmptyNamespaceStillAnswers(t *testing.T) {
	f := newRAGFixture(t)
	f.store(t, "other-ns", "Refunds are issued within 30 days of purchase.")
	f.generator.answer = func(Prompt) string { return InsufficientInformation }

	ans, err := f.service.Answer(context.Background(), "What is the refund window?")
	require.NoError(t, err)
	assert.Equal(t, InsufficientInformation, ans.Answer)
	assert.Empty(t, ans.SourceDocuments)
	assert.Empty(t, ans.Matches)
	assert.Equal(t, "Context: \n\nQuestion: What is the refund window?", f.generator.prompts[0].User)
}

func TestRAGService_EmptyQuestion(t *testing.T) {
	f := newRAGFixture(t)
	_, err := f.service.Answer(context.Background(), " \n\t ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Equal(t, 0, f.embedder.callCount())
}

func TestRAGService_FailuresBecomeRetrievalErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *ragFixture)
		stage string
	}{
		{
			name:  "embedding fails",
			setup: func(f *ragFixture) { f.embedder.fail["q"] = errors.New("quota exceeded") },
			stage: StageEmbed,
		},
		{
			name:  "search fails",
			setup: func(f *ragFixture) { f.index.searchErr = errors.New("connection refused") },
			stage: StageSearch,
		},
		{
			name:  "generation fails",
			setup: func(f *ragFixture) { f.generator.err = errors.New("model overloaded") },
			stage: StageGenerate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRAGFixture(t)
			tt.setup(f)

			ans, err := f.service.Answer(context.Background(), "q")
			assert.Nil(t, ans)

			var rerr *RetrievalError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tt.stage, rerr.Stage)
		})
	}
}

func TestRAGService_SearchErrorKeepsCause(t *testing.T) {
	f := newRAGFixture(t)
	f.index.searchErr = errors.New("connection refused")

	_, err := f.service.Answer(context.Background(), "q")
	var qerr *IndexQueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "test-ns", qerr.Namespace)
	assert.Equal(t, 0, f.generator.calls())
}
