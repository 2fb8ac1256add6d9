package storage

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// FTSIndex is an inverted index with BM25 ranking over one or more text
// columns. It is persisted as JSON under indices/ and rebuilt when stale.
type FTSIndex struct {
	Columns []string `json:"columns"`
	// Postings maps term -> uuid -> term frequency.
	Postings map[string]map[string]int `json:"postings"`
	// DocLens maps uuid -> token count across indexed columns.
	DocLens map[string]int `json:"doc_lens"`
	NumDocs int            `json:"num_docs"`
	AvgLen  float64        `json:"avg_len"`
}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// NewFTSIndex builds an empty index over the given columns.
func NewFTSIndex(columns []string) *FTSIndex {
	return &FTSIndex{
		Columns:  columns,
		Postings: make(map[string]map[string]int),
		DocLens:  make(map[string]int),
	}
}

// AddDocument indexes one document's text.
func (ix *FTSIndex) AddDocument(uuid string, texts ...string) {
	total := 0
	for _, text := range texts {
		for _, term := range Tokenize(text) {
			m := ix.Postings[term]
			if m == nil {
				m = make(map[string]int)
				ix.Postings[term] = m
			}
			m[uuid]++
			total++
		}
	}
	if _, seen := ix.DocLens[uuid]; !seen {
		ix.NumDocs++
	}
	ix.DocLens[uuid] += total
	ix.recomputeAvg()
}

func (ix *FTSIndex) recomputeAvg() {
	if ix.NumDocs == 0 {
		ix.AvgLen = 0
		return
	}
	total := 0
	for _, n := range ix.DocLens {
		total += n
	}
	ix.AvgLen = float64(total) / float64(ix.NumDocs)
}

// TextHit is one scored full-text match.
type TextHit struct {
	UUID  string
	Score float64
}

// Search ranks documents against the query by BM25. Results are sorted by
// descending score with uuid as the deterministic tie-break.
func (ix *FTSIndex) Search(query string, limit int) []TextHit {
	terms := Tokenize(query)
	if len(terms) == 0 || ix.NumDocs == 0 {
		return nil
	}
	scores := make(map[string]float64)
	for _, term := range terms {
		postings := ix.Postings[term]
		if len(postings) == 0 {
			continue
		}
		idf := math.Log(1 + (float64(ix.NumDocs)-float64(len(postings))+0.5)/(float64(len(postings))+0.5))
		for uuid, tf := range postings {
			dl := float64(ix.DocLens[uuid])
			denom := float64(tf) + bm25K1*(1-bm25B+bm25B*dl/ix.AvgLen)
			scores[uuid] += idf * float64(tf) * (bm25K1 + 1) / denom
		}
	}
	hits := make([]TextHit, 0, len(scores))
	for uuid, score := range scores {
		hits = append(hits, TextHit{UUID: uuid, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].UUID < hits[j].UUID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Tokenize lowercases and splits on non-alphanumeric runes.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
