package rag

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/lexical"
	"github.com/parley-chat/parley/pkg/observability"
	"github.com/parley-chat/parley/pkg/vector"
)

func retrievalConfig(hybrid bool) *config.RetrievalConfig {
	return &config.RetrievalConfig{
		Hybrid:             config.BoolPtr(hybrid),
		TopK:               5,
		VectorK:            10,
		LexicalK:           10,
		RRFConstant:        60,
		ContextTokenBudget: 4000,
	}
}

// retrievalFixture builds three indexed chunks: two from document A, one
// from document B. Vector ranking is scripted; the lexical index is real.
func retrievalFixture(t *testing.T, hybrid bool) (*Retriever, *fakeVectorStore) {
	t.Helper()

	store := newFakeVectorStore()
	lex := lexical.NewIndex()

	texts := map[string]string{
		"docA:0": "rank fusion merges vector and keyword results",
		"docA:1": "cosine similarity measures embedding distance",
		"docB:0": "keyword fusion with reciprocal rank scoring",
	}
	for id, text := range texts {
		lex.Upsert("kb", id, text, map[string]string{"document_id": id[:4], "tokens": "10"})
	}

	store.results["kb"] = []vector.Result{
		{ID: "docA:0", Score: 0.9, Content: texts["docA:0"], Metadata: map[string]string{"document_id": "docA", "tokens": "10"}},
		{ID: "docB:0", Score: 0.8, Content: texts["docB:0"], Metadata: map[string]string{"document_id": "docB", "tokens": "10"}},
		{ID: "docA:1", Score: 0.7, Content: texts["docA:1"], Metadata: map[string]string{"document_id": "docA", "tokens": "10"}},
	}

	return NewRetriever(&fakeEmbedder{}, store, lex, retrievalConfig(hybrid)), store
}

func TestRetrieveRecordsMetrics(t *testing.T) {
	r, _ := retrievalFixture(t, true)
	metrics := observability.NewMetrics()
	r.Instrument(metrics)

	_, _, err := r.Retrieve(context.Background(), []string{"kb"}, "rank fusion", 0)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RetrievalQueries))
	assert.Equal(t, uint64(1), histogramSamples(t, metrics, "parley_retrieval_duration_seconds"))
	assert.Equal(t, uint64(1), histogramSamples(t, metrics, "parley_retrieval_results"))
}

func histogramSamples(t *testing.T, metrics *observability.Metrics, name string) uint64 {
	t.Helper()
	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func TestRetrieveHybridRanking(t *testing.T) {
	r, _ := retrievalFixture(t, true)

	results, warnings, err := r.Retrieve(context.Background(), []string{"kb"}, "rank fusion", 0)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.NotEmpty(t, results)

	// docA:0 leads the vector list and matches both query terms, so it
	// tops both rankings and must come out first.
	assert.Equal(t, "docA:0", results[0].ChunkID)
	assert.Equal(t, "docB:0", results[1].ChunkID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, "docA", results[0].DocumentID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestRetrieveDeduplicates(t *testing.T) {
	r, _ := retrievalFixture(t, true)

	results, _, err := r.Retrieve(context.Background(), []string{"kb"}, "fusion similarity keyword", 0)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, res := range results {
		assert.False(t, seen[res.ChunkID], "chunk %s returned twice", res.ChunkID)
		seen[res.ChunkID] = true
	}
}

func TestRetrieveSourceAttribution(t *testing.T) {
	r, _ := retrievalFixture(t, true)

	results, _, err := r.Retrieve(context.Background(), []string{"kb"}, "fusion", 0)
	require.NoError(t, err)

	bySource := make(map[string]string)
	for _, res := range results {
		bySource[res.ChunkID] = res.Source
	}
	// docA:0 and docB:0 match "fusion" lexically and sit in the vector
	// list, docA:1 only in the vector list.
	assert.Equal(t, SourceHybrid, bySource["docA:0"])
	assert.Equal(t, SourceHybrid, bySource["docB:0"])
	assert.Equal(t, SourceVector, bySource["docA:1"])
}

func TestRetrieveVectorOnly(t *testing.T) {
	r, _ := retrievalFixture(t, false)

	results, warnings, err := r.Retrieve(context.Background(), []string{"kb"}, "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, results, 3)

	// With hybrid off the order is the vector ranking untouched.
	assert.Equal(t, "docA:0", results[0].ChunkID)
	assert.Equal(t, "docB:0", results[1].ChunkID)
	assert.Equal(t, "docA:1", results[2].ChunkID)
	for _, res := range results {
		assert.Equal(t, SourceVector, res.Source)
	}
}

func TestRetrieveTopKLimit(t *testing.T) {
	r, _ := retrievalFixture(t, true)

	results, _, err := r.Retrieve(context.Background(), []string{"kb"}, "fusion", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetrieveBudgetTrim(t *testing.T) {
	r, _ := retrievalFixture(t, true)

	full, _, err := r.Retrieve(context.Background(), []string{"kb"}, "fusion", 0)
	require.NoError(t, err)
	require.Len(t, full, 3)

	r.cfg.ContextTokenBudget = 25
	trimmed, _, err := r.Retrieve(context.Background(), []string{"kb"}, "fusion", 0)
	require.NoError(t, err)

	// Each chunk reports ten tokens, so a budget of 25 keeps the top two.
	require.Len(t, trimmed, 2)
	total := 0
	for i, res := range trimmed {
		assert.Equal(t, full[i].ChunkID, res.ChunkID, "trim must keep the best-ranked prefix")
		total += res.TokenCount
	}
	assert.LessOrEqual(t, total, 25)
}

func TestRetrieveEmptyCollection(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{}, newFakeVectorStore(), lexical.NewIndex(), retrievalConfig(true))

	results, warnings, err := r.Retrieve(context.Background(), []string{"empty"}, "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, warnings)
}

func TestRetrieveVectorDownDegradesToLexical(t *testing.T) {
	lex := lexical.NewIndex()
	lex.Upsert("kb", "docA:0", "rank fusion merges results", map[string]string{"tokens": "5"})
	broken := newFakeVectorStore()
	broken.failAll = true
	r := NewRetriever(&fakeEmbedder{}, broken, lex, retrievalConfig(true))

	results, warnings, err := r.Retrieve(context.Background(), []string{"kb"}, "fusion", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, SourceLexical, results[0].Source)
	assert.NotEmpty(t, warnings)
}

func TestRetrieveEmbedderDownVectorOnly(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{failOn: "fusion"}, newFakeVectorStore(), lexical.NewIndex(), retrievalConfig(false))

	results, warnings, err := r.Retrieve(context.Background(), []string{"kb"}, "fusion query", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "vector retrieval unavailable")
}

func TestRetrieveEmbedderDownHybridKeepsLexical(t *testing.T) {
	lex := lexical.NewIndex()
	lex.Upsert("kb", "docA:0", "rank fusion merges results", map[string]string{"tokens": "5"})
	r := NewRetriever(&fakeEmbedder{failOn: "fusion"}, newFakeVectorStore(), lex, retrievalConfig(true))

	results, warnings, err := r.Retrieve(context.Background(), []string{"kb"}, "fusion", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "docA:0", results[0].ChunkID)
	assert.NotEmpty(t, warnings)
}
