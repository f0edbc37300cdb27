package rag

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/embedders"
	"github.com/parley-chat/parley/pkg/lexical"
	"github.com/parley-chat/parley/pkg/observability"
	"github.com/parley-chat/parley/pkg/tokens"
	"github.com/parley-chat/parley/pkg/vector"
)

// Retriever answers a query with a ranked, deduplicated context set.
// In hybrid mode both indices are queried per collection in parallel and
// their rankings merged with reciprocal rank fusion; with hybrid off only
// the vector ranking is returned. An unreachable index degrades the
// result set instead of failing the retrieval.
type Retriever struct {
	embedder embedders.Embedder
	vectors  vector.Store
	lexical  *lexical.Index
	cfg      *config.RetrievalConfig
	metrics  *observability.Metrics
}

func NewRetriever(embedder embedders.Embedder, vectors vector.Store, lex *lexical.Index, cfg *config.RetrievalConfig) *Retriever {
	return &Retriever{
		embedder: embedder,
		vectors:  vectors,
		lexical:  lex,
		cfg:      cfg,
	}
}

// Instrument enables query counters and duration/result histograms.
func (r *Retriever) Instrument(metrics *observability.Metrics) {
	r.metrics = metrics
}

// Retrieve returns up to topK results across collections, trimmed to the
// context token budget. Warnings report degraded index sides; the error
// is reserved for conditions that make the query itself impossible.
func (r *Retriever) Retrieve(ctx context.Context, collections []string, query string, topK int) ([]RetrievalResult, []string, error) {
	if r.metrics != nil {
		r.metrics.RetrievalQueries.Inc()
		start := time.Now()
		defer func() {
			r.metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
		}()
	}

	if topK <= 0 {
		topK = r.cfg.TopK
	}
	hybrid := r.cfg.Hybrid != nil && *r.cfg.Hybrid

	var warnings []string

	// The query is embedded exactly once regardless of collection count.
	queryVec, err := r.embedQuery(ctx, query)
	if err != nil {
		warnings = append(warnings, "vector retrieval unavailable: "+err.Error())
		if !hybrid {
			r.observeResults(0)
			return []RetrievalResult{}, warnings, nil
		}
	}

	vectorList, lexicalList, queryWarnings := r.queryIndices(ctx, collections, query, queryVec, hybrid)
	warnings = append(warnings, queryWarnings...)

	if len(vectorList) == 0 && len(lexicalList) == 0 {
		r.observeResults(0)
		return []RetrievalResult{}, warnings, nil
	}

	var fused []RetrievalResult
	if hybrid {
		fused = fuse(vectorList, lexicalList, r.cfg.RRFConstant)
	} else {
		fused = vectorOnly(vectorList)
	}

	if len(fused) > topK {
		fused = fused[:topK]
	}
	fused = trimToBudget(fused, r.cfg.ContextTokenBudget)

	for i := range fused {
		fused[i].Rank = i + 1
	}
	r.observeResults(len(fused))
	return fused, warnings, nil
}

func (r *Retriever) observeResults(count int) {
	if r.metrics != nil {
		r.metrics.RetrievalResults.Observe(float64(count))
	}
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, &IndexUnavailableError{Index: "vector", Err: err}
	}
	return vecs[0], nil
}

// queryIndices fans out one vector and one lexical query per collection,
// then merges each side into a single ranked list. Per-collection scores
// are comparable within a side because both indices normalize to [0,1].
func (r *Retriever) queryIndices(ctx context.Context, collections []string, query string, queryVec []float32, hybrid bool) ([]vector.Result, []lexical.Result, []string) {
	var mu sync.Mutex
	var vectorList []vector.Result
	var lexicalList []lexical.Result
	vectorErrs := 0

	g, ctx := errgroup.WithContext(ctx)

	for _, collection := range collections {
		if queryVec != nil {
			g.Go(func() error {
				results, err := r.vectors.Query(ctx, collection, queryVec, r.cfg.VectorK, nil)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					vectorErrs++
					slog.Warn("vector index query failed, degrading",
						"collection", collection, "error", err)
					return nil
				}
				vectorList = append(vectorList, results...)
				return nil
			})
		}
		if hybrid {
			g.Go(func() error {
				results := r.lexical.Query(collection, query, r.cfg.LexicalK)
				mu.Lock()
				lexicalList = append(lexicalList, results...)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	var warnings []string
	if vectorErrs == len(collections) && len(collections) > 0 && queryVec != nil {
		warnings = append(warnings, "vector retrieval unavailable for all requested collections")
	}

	sort.SliceStable(vectorList, func(i, j int) bool {
		if vectorList[i].Score != vectorList[j].Score {
			return vectorList[i].Score > vectorList[j].Score
		}
		return vectorList[i].ID < vectorList[j].ID
	})
	sort.SliceStable(lexicalList, func(i, j int) bool {
		if lexicalList[i].Score != lexicalList[j].Score {
			return lexicalList[i].Score > lexicalList[j].Score
		}
		return lexicalList[i].ID < lexicalList[j].ID
	})

	return vectorList, lexicalList, warnings
}

type fusionCandidate struct {
	id          string
	content     string
	metadata    map[string]string
	fusedScore  float64
	vectorScore float64
	inVector    bool
	inLexical   bool
}

// fuse merges the two ranked lists by reciprocal rank fusion: each list
// contributes 1/(rank+constant) per chunk, ranks 1-based. A chunk found
// in both lists appears once with the summed score. Ties break by the
// smaller raw vector distance, then by id for determinism.
func fuse(vectorList []vector.Result, lexicalList []lexical.Result, constant int) []RetrievalResult {
	candidates := make(map[string]*fusionCandidate)

	get := func(id string) *fusionCandidate {
		c, ok := candidates[id]
		if !ok {
			c = &fusionCandidate{id: id}
			candidates[id] = c
		}
		return c
	}

	for rank, res := range vectorList {
		c := get(res.ID)
		c.fusedScore += 1.0 / float64(rank+1+constant)
		c.vectorScore = res.Score
		c.inVector = true
		c.content = res.Content
		c.metadata = res.Metadata
	}
	for rank, res := range lexicalList {
		c := get(res.ID)
		c.fusedScore += 1.0 / float64(rank+1+constant)
		c.inLexical = true
		if c.content == "" {
			c.content = res.Content
		}
		if c.metadata == nil {
			c.metadata = res.Metadata
		}
	}

	ordered := make([]*fusionCandidate, 0, len(candidates))
	for _, c := range candidates {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].fusedScore != ordered[j].fusedScore {
			return ordered[i].fusedScore > ordered[j].fusedScore
		}
		if ordered[i].vectorScore != ordered[j].vectorScore {
			return ordered[i].vectorScore > ordered[j].vectorScore
		}
		return ordered[i].id < ordered[j].id
	})

	maxScore := 0.0
	if len(ordered) > 0 {
		maxScore = ordered[0].fusedScore
	}

	results := make([]RetrievalResult, 0, len(ordered))
	for _, c := range ordered {
		source := SourceHybrid
		switch {
		case c.inVector && !c.inLexical:
			source = SourceVector
		case c.inLexical && !c.inVector:
			source = SourceLexical
		}
		score := c.fusedScore
		if maxScore > 0 {
			score /= maxScore
		}
		results = append(results, RetrievalResult{
			ChunkID:    c.id,
			DocumentID: c.metadata["document_id"],
			Content:    c.content,
			Score:      score,
			Source:     source,
			TokenCount: tokenCount(c.metadata, c.content),
		})
	}
	return results
}

func vectorOnly(vectorList []vector.Result) []RetrievalResult {
	seen := make(map[string]bool, len(vectorList))
	results := make([]RetrievalResult, 0, len(vectorList))
	for _, res := range vectorList {
		if seen[res.ID] {
			continue
		}
		seen[res.ID] = true
		results = append(results, RetrievalResult{
			ChunkID:    res.ID,
			DocumentID: res.Metadata["document_id"],
			Content:    res.Content,
			Score:      res.Score,
			Source:     SourceVector,
			TokenCount: tokenCount(res.Metadata, res.Content),
		})
	}
	return results
}

// trimToBudget keeps results in rank order until the next chunk would
// push the total token count past the ceiling. A ceiling of zero
// disables trimming.
func trimToBudget(results []RetrievalResult, budget int) []RetrievalResult {
	if budget <= 0 {
		return results
	}
	total := 0
	for i, res := range results {
		if total+res.TokenCount > budget {
			return results[:i]
		}
		total += res.TokenCount
	}
	return results
}

func tokenCount(metadata map[string]string, content string) int {
	if metadata != nil {
		if n, err := strconv.Atoi(metadata["tokens"]); err == nil && n > 0 {
			return n
		}
	}
	return tokens.Estimate(content)
}
