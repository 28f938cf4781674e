package trainer

import (
	"fmt"
	"math"
	"sort"

	"github.com/cortexlab/fedhub/pkg/errdefs"
)

// Vectorizer is a TF-IDF vectorizer over unigrams and bigrams with a
// frequency-capped vocabulary. All fields are exported for gob encoding.
type Vectorizer struct {
	Vocabulary  map[string]int // term → column
	IDF         []float64
	MaxFeatures int
	NGramMax    int
}

// NewVectorizer returns an unfitted vectorizer.
func NewVectorizer(maxFeatures, ngramMax int) *Vectorizer {
	return &Vectorizer{MaxFeatures: maxFeatures, NGramMax: ngramMax}
}

// ngrams expands a token slice into 1..NGramMax grams.
func (v *Vectorizer) ngrams(tokens []string) []string {
	out := make([]string, 0, len(tokens)*v.NGramMax)
	for n := 1; n <= v.NGramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			if n == 1 {
				out = append(out, tokens[i])
				continue
			}
			gram := tokens[i]
			for j := 1; j < n; j++ {
				gram += " " + tokens[i+j]
			}
			out = append(out, gram)
		}
	}
	return out
}

// Fit learns the vocabulary and IDF weights from tokenized documents.
func (v *Vectorizer) Fit(docs [][]string) error {
	if len(docs) == 0 {
		return fmt.Errorf("%w: no documents to fit", errdefs.ErrInvariant)
	}

	termFreq := make(map[string]int) // corpus-wide term count
	docFreq := make(map[string]int)  // documents containing term
	for _, tokens := range docs {
		seen := make(map[string]struct{})
		for _, g := range v.ngrams(tokens) {
			termFreq[g]++
			if _, dup := seen[g]; !dup {
				docFreq[g]++
				seen[g] = struct{}{}
			}
		}
	}

	// Cap the vocabulary by corpus frequency, then index terms in sorted
	// order so fits are deterministic.
	terms := make([]string, 0, len(termFreq))
	for t := range termFreq {
		terms = append(terms, t)
	}
	if v.MaxFeatures > 0 && len(terms) > v.MaxFeatures {
		sort.Slice(terms, func(i, j int) bool {
			if termFreq[terms[i]] != termFreq[terms[j]] {
				return termFreq[terms[i]] > termFreq[terms[j]]
			}
			return terms[i] < terms[j]
		})
		terms = terms[:v.MaxFeatures]
	}
	sort.Strings(terms)

	v.Vocabulary = make(map[string]int, len(terms))
	v.IDF = make([]float64, len(terms))
	n := float64(len(docs))
	for i, t := range terms {
		v.Vocabulary[t] = i
		// Smoothed IDF, matching the usual tf-idf formulation.
		v.IDF[i] = math.Log((1+n)/(1+float64(docFreq[t]))) + 1
	}
	return nil
}

// Transform maps tokenized text to an L2-normalized TF-IDF row. Terms
// outside the vocabulary are ignored; text with no known terms yields the
// zero vector.
func (v *Vectorizer) Transform(tokens []string) []float64 {
	row := make([]float64, len(v.IDF))
	for _, g := range v.ngrams(tokens) {
		if col, ok := v.Vocabulary[g]; ok {
			row[col]++
		}
	}
	var norm float64
	for i := range row {
		if row[i] > 0 {
			row[i] *= v.IDF[i]
			norm += row[i] * row[i]
		}
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range row {
			row[i] /= norm
		}
	}
	return row
}

// Features returns the vocabulary size.
func (v *Vectorizer) Features() int {
	return len(v.IDF)
}
