package embedding

import (
	"context"
	"errors"
	"math"
	"sort"

	"archivist/internal/audit"
)

// TFIDF is a local TF-IDF vectorizer. Prepare builds the vocabulary and
// smoothed IDF weights; vectors are L2 normalised.
type TFIDF struct {
	vocabulary map[string]int
	idf        []float64
	prepared   bool
}

func NewTFIDF() *TFIDF {
	return &TFIDF{vocabulary: make(map[string]int)}
}

func (e *TFIDF) Name() string   { return "tfidf" }
func (e *TFIDF) Model() string  { return "tfidf" }
func (e *TFIDF) Dimension() int { return len(e.idf) }

// Prepare builds the vocabulary from corpus in sorted term order.
func (e *TFIDF) Prepare(corpus []string) error {
	if len(corpus) == 0 {
		return errors.New("empty corpus for TF-IDF prepare")
	}
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]bool)
		for _, tok := range audit.Tokenize(text) {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}
	if len(df) == 0 {
		return errors.New("no tokens found in corpus")
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	n := float64(len(corpus))
	e.vocabulary = make(map[string]int, len(terms))
	e.idf = make([]float64, len(terms))
	for i, term := range terms {
		e.vocabulary[term] = i
		e.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	e.prepared = true
	return nil
}

// Embed vectorizes texts against the prepared vocabulary. Unknown words are
// ignored; a text with no known words yields a zero vector.
func (e *TFIDF) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.prepared {
		return nil, ErrNotPrepared
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *TFIDF) embed(text string) []float32 {
	vec := make([]float32, len(e.idf))
	tf := make(map[int]int)
	total := 0
	for _, tok := range audit.Tokenize(text) {
		if idx, ok := e.vocabulary[tok]; ok {
			tf[idx]++
			total++
		}
	}
	if total == 0 {
		return vec
	}

	var norm float64
	weights := make(map[int]float64, len(tf))
	for idx, count := range tf {
		w := float64(count) / float64(total) * e.idf[idx]
		weights[idx] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for idx, w := range weights {
		vec[idx] = float32(w / norm)
	}
	return vec
}
