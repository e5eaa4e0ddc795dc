package engine

import (
	"math"
	"sort"
	"strings"

	"github.com/evermemos/evermemos/internal/storage"
	"github.com/evermemos/evermemos/pkg/types"
)

// Okapi BM25 parameters.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// BM25Index is a snapshot lexical index over the concatenated atomic-fact
// text of each cell. It is built from the full corpus and never updated
// incrementally; callers rebuild it after ingestion.
type BM25Index struct {
	cells     []*types.MemCell
	termFreqs []map[string]int
	docLens   []int
	docFreq   map[string]int
	avgDocLen float64
}

// NewBM25Index builds an index over the given cells. Cells without atomic
// facts contribute empty documents and never match.
func NewBM25Index(cells []*types.MemCell) *BM25Index {
	idx := &BM25Index{
		cells:     cells,
		termFreqs: make([]map[string]int, len(cells)),
		docLens:   make([]int, len(cells)),
		docFreq:   make(map[string]int),
	}

	totalLen := 0
	for i, cell := range cells {
		tokens := tokenize(strings.Join(cell.AtomicFacts, " "))
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		idx.termFreqs[i] = tf
		idx.docLens[i] = len(tokens)
		totalLen += len(tokens)
		for term := range tf {
			idx.docFreq[term]++
		}
	}
	if len(cells) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(cells))
	}
	return idx
}

// Len returns the number of indexed cells.
func (idx *BM25Index) Len() int {
	return len(idx.cells)
}

// Search ranks indexed cells against the tokenized query, returning up to
// limit cells with a positive score, descending. Exact ties rank by
// ascending cell ID.
func (idx *BM25Index) Search(query string, limit int) []storage.ScoredCell {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || len(idx.cells) == 0 {
		return nil
	}

	n := float64(len(idx.cells))
	var results []storage.ScoredCell
	for i, cell := range idx.cells {
		if idx.docLens[i] == 0 {
			continue
		}
		score := 0.0
		for _, term := range queryTokens {
			tf := float64(idx.termFreqs[i][term])
			if tf == 0 {
				continue
			}
			df := float64(idx.docFreq[term])
			idf := math.Log((n-df+0.5)/(df+0.5) + 1)
			norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(idx.docLens[i])/idx.avgDocLen))
			score += idf * norm
		}
		if score > 0 {
			results = append(results, storage.ScoredCell{Cell: cell, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Cell.ID < results[j].Cell.ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
