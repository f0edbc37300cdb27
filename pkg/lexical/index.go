// Package lexical provides an in-memory inverted index with BM25 scoring.
// Entries are keyed by chunk id within named collections; re-upserting an
// id replaces its postings rather than duplicating them.
package lexical

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// BM25 parameters. k1 controls term-frequency saturation, b controls
// document-length normalization.
const (
	k1 = 1.5
	b  = 0.75
)

// Result is one scored match from a lexical query. Scores are normalized
// to [0,1] within a result set (best match scores 1).
type Result struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]string
}

type entry struct {
	content  string
	metadata map[string]string
	terms    map[string]int
	length   int
}

type collectionIndex struct {
	// postings maps term -> chunk id -> term frequency.
	postings    map[string]map[string]int
	entries     map[string]*entry
	totalLength int
}

func newCollectionIndex() *collectionIndex {
	return &collectionIndex{
		postings: make(map[string]map[string]int),
		entries:  make(map[string]*entry),
	}
}

// Index is a thread-safe lexical index with per-collection namespaces.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*collectionIndex
}

func NewIndex() *Index {
	return &Index{collections: make(map[string]*collectionIndex)}
}

// Upsert indexes content under id in collection, replacing any previous
// entry for the same id.
func (idx *Index) Upsert(collection, id, content string, metadata map[string]string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	col, ok := idx.collections[collection]
	if !ok {
		col = newCollectionIndex()
		idx.collections[collection] = col
	}

	col.remove(id)

	terms := Tokenize(content)
	termFreq := make(map[string]int, len(terms))
	for _, term := range terms {
		termFreq[term]++
	}

	for term := range termFreq {
		if col.postings[term] == nil {
			col.postings[term] = make(map[string]int)
		}
		col.postings[term][id] = termFreq[term]
	}

	col.entries[id] = &entry{
		content:  content,
		metadata: metadata,
		terms:    termFreq,
		length:   len(terms),
	}
	col.totalLength += len(terms)
}

// Query scores collection entries against text with BM25 and returns up
// to k results by descending score. An unknown or empty collection yields
// an empty result set. Ties break by id so rankings are deterministic.
func (idx *Index) Query(collection, text string, k int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	col, ok := idx.collections[collection]
	if !ok || len(col.entries) == 0 || k <= 0 {
		return []Result{}
	}

	queryTerms := Tokenize(text)
	if len(queryTerms) == 0 {
		return []Result{}
	}

	numDocs := float64(len(col.entries))
	avgLength := float64(col.totalLength) / numDocs

	scores := make(map[string]float64)
	for _, term := range queryTerms {
		posting := col.postings[term]
		df := float64(len(posting))
		if df == 0 {
			continue
		}
		idf := math.Log((numDocs - df + 0.5) / (df + 0.5))
		if idf <= 0 {
			// Terms in most documents carry no signal; a tiny floor
			// keeps them from zeroing out single-term queries.
			idf = 0.01
		}

		for id, tf := range posting {
			docLength := float64(col.entries[id].length)
			numerator := float64(tf) * (k1 + 1)
			denominator := float64(tf) + k1*(1-b+b*docLength/avgLength)
			scores[id] += idf * (numerator / denominator)
		}
	}

	if len(scores) == 0 {
		return []Result{}
	}

	results := make([]Result, 0, len(scores))
	maxScore := 0.0
	for id, score := range scores {
		if score > maxScore {
			maxScore = score
		}
		e := col.entries[id]
		results = append(results, Result{
			ID:       id,
			Score:    score,
			Content:  e.content,
			Metadata: e.metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Score /= maxScore
	}
	return results
}

// Delete removes the entry for id. Unknown ids are ignored.
func (idx *Index) Delete(collection, id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if col, ok := idx.collections[collection]; ok {
		col.remove(id)
	}
}

// DeleteCollection drops a collection namespace entirely.
func (idx *Index) DeleteCollection(collection string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.collections, collection)
}

// Count returns the number of entries indexed in collection.
func (idx *Index) Count(collection string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if col, ok := idx.collections[collection]; ok {
		return len(col.entries)
	}
	return 0
}

func (c *collectionIndex) remove(id string) {
	e, ok := c.entries[id]
	if !ok {
		return
	}
	for term := range e.terms {
		delete(c.postings[term], id)
		if len(c.postings[term]) == 0 {
			delete(c.postings, term)
		}
	}
	c.totalLength -= e.length
	delete(c.entries, id)
}

// Tokenize lowercases text, splits on non-alphanumeric runes and drops
// stopwords and single-rune fragments. The same tokenizer scores queries
// and documents so term matches stay human-explainable.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	filtered := make([]string, 0, len(words))
	for _, word := range words {
		if len(word) > 1 && !stopWords[word] {
			filtered = append(filtered, word)
		}
	}
	return filtered
}

var stopWords = map[string]bool{
	"the": true, "is": true, "at": true, "which": true, "on": true,
	"and": true, "an": true, "as": true, "are": true,
	"was": true, "for": true, "with": true, "this": true, "that": true,
	"of": true, "to": true, "in": true, "it": true, "be": true,
}
