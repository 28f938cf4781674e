package trainer

import (
	"strings"
	"sync"
	"unicode"
)

// defaultStopwords is the embedded English stopword list. It can be
// overridden at runtime from nltk_data/stopwords_english.txt in the blob
// store (one word per line).
var defaultStopwords = []string{
	"i", "me", "my", "myself", "we", "our", "ours", "ourselves",
	"you", "your", "yours", "yourself", "yourselves",
	"he", "him", "his", "himself", "she", "her", "hers", "herself",
	"it", "its", "itself", "they", "them", "their", "theirs", "themselves",
	"what", "which", "who", "whom", "this", "that", "these", "those",
	"am", "is", "are", "was", "were", "be", "been", "being",
	"have", "has", "had", "having", "do", "does", "did", "doing",
	"a", "an", "the", "and", "but", "if", "or", "because", "as", "until",
	"while", "of", "at", "by", "for", "with", "about", "against", "between",
	"into", "through", "during", "before", "after", "above", "below",
	"to", "from", "up", "down", "in", "out", "on", "off", "over", "under",
	"again", "further", "then", "once", "here", "there", "when", "where",
	"why", "how", "all", "any", "both", "each", "few", "more", "most",
	"other", "some", "such", "no", "nor", "not", "only", "own", "same",
	"so", "than", "too", "very", "s", "t", "can", "will", "just", "don",
	"should", "now",
}

// Preprocessor normalizes raw text into the token stream the vectorizer
// consumes: lowercase, alphanumeric tokens only, stopwords removed, light
// suffix lemmatization.
type Preprocessor struct {
	mu        sync.RWMutex
	stopwords map[string]struct{}
}

// NewPreprocessor returns a preprocessor with the embedded stopword list.
func NewPreprocessor() *Preprocessor {
	p := &Preprocessor{}
	p.SetStopwords(defaultStopwords)
	return p
}

// SetStopwords replaces the stopword list (blob-store override).
func (p *Preprocessor) SetStopwords(words []string) {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			set[w] = struct{}{}
		}
	}
	p.mu.Lock()
	p.stopwords = set
	p.mu.Unlock()
}

// Process normalizes text and returns the space-joined processed tokens.
// Empty input or input with no surviving tokens returns "".
func (p *Preprocessor) Process(text string) string {
	return strings.Join(p.Tokens(text), " ")
}

// Tokens returns the processed token slice for text.
func (p *Preprocessor) Tokens(text string) []string {
	if text == "" {
		return nil
	}

	p.mu.RLock()
	stop := p.stopwords
	p.mu.RUnlock()

	var tokens []string
	for _, raw := range splitAlnum(strings.ToLower(text)) {
		if _, skip := stop[raw]; skip {
			continue
		}
		tokens = append(tokens, lemmatize(raw))
	}
	return tokens
}

// splitAlnum tokenizes on any non-alphanumeric boundary, which also drops
// punctuation-only tokens.
func splitAlnum(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// lemmatize applies light English suffix stripping: plural nouns and the
// common verbal suffixes. Not a dictionary lemmatizer, but stable and
// dependency-free, and the vectorizer only needs consistency between
// training and inference.
func lemmatize(w string) string {
	n := len(w)
	switch {
	case n > 4 && strings.HasSuffix(w, "ies"):
		return w[:n-3] + "y"
	case n > 4 && strings.HasSuffix(w, "sses"):
		return w[:n-2]
	case n > 3 && strings.HasSuffix(w, "s") &&
		!strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us") && !strings.HasSuffix(w, "is"):
		return w[:n-1]
	case n > 5 && strings.HasSuffix(w, "ing"):
		return w[:n-3]
	case n > 4 && strings.HasSuffix(w, "ed"):
		return w[:n-2]
	}
	return w
}
