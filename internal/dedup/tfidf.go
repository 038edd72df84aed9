package dedup

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// maxFeatures caps the joint vocabulary size.
const maxFeatures = 10000

// tokenRe matches word tokens of at least two characters.
var tokenRe = regexp.MustCompile(`\w\w+`)

// vectorizer builds a joint TF-IDF feature space of word unigrams and
// adjacent-word bigrams over a document corpus. Stop words are filtered
// before bigrams are formed, and the vocabulary is capped at maxFeatures
// terms by total corpus frequency.
type vectorizer struct {
	vocab map[string]int
	idf   []float64
}

// tokenize lowercases text and returns its non-stopword tokens.
func tokenize(text string) []string {
	raw := tokenRe.FindAllString(strings.ToLower(text), -1)
	tokens := raw[:0]
	for _, tok := range raw {
		if _, stop := englishStopWords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// terms returns the unigram and bigram terms of a document.
func terms(text string) []string {
	tokens := tokenize(text)
	out := make([]string, 0, 2*len(tokens))
	out = append(out, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}

// fitVectorizer learns the vocabulary and IDF weights from docs.
func fitVectorizer(docs []string) *vectorizer {
	termDocs := make(map[string]int)   // document frequency
	termTotal := make(map[string]int)  // corpus frequency, for the cap
	docTerms := make([]map[string]int, len(docs))

	for i, doc := range docs {
		counts := make(map[string]int)
		for _, term := range terms(doc) {
			counts[term]++
		}
		docTerms[i] = counts
		for term, n := range counts {
			termDocs[term]++
			termTotal[term] += n
		}
	}

	// Cap the vocabulary at the most frequent terms, ties alphabetical.
	vocabTerms := make([]string, 0, len(termTotal))
	for term := range termTotal {
		vocabTerms = append(vocabTerms, term)
	}
	sort.Slice(vocabTerms, func(a, b int) bool {
		ta, tb := vocabTerms[a], vocabTerms[b]
		if termTotal[ta] != termTotal[tb] {
			return termTotal[ta] > termTotal[tb]
		}
		return ta < tb
	})
	if len(vocabTerms) > maxFeatures {
		vocabTerms = vocabTerms[:maxFeatures]
	}

	v := &vectorizer{
		vocab: make(map[string]int, len(vocabTerms)),
		idf:   make([]float64, len(vocabTerms)),
	}
	n := float64(len(docs))
	for i, term := range vocabTerms {
		v.vocab[term] = i
		// Smoothed IDF, as if every term appeared in one extra document.
		v.idf[i] = math.Log((1+n)/(1+float64(termDocs[term]))) + 1
	}
	return v
}

// transform maps a document onto an L2-normalized sparse TF-IDF vector.
func (v *vectorizer) transform(doc string) map[int]float64 {
	counts := make(map[string]int)
	for _, term := range terms(doc) {
		counts[term]++
	}

	vec := make(map[int]float64, len(counts))
	var norm float64
	for term, n := range counts {
		idx, ok := v.vocab[term]
		if !ok {
			continue
		}
		w := float64(n) * v.idf[idx]
		vec[idx] = w
		norm += w * w
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for idx := range vec {
		vec[idx] /= norm
	}
	return vec
}

// cosine returns the cosine similarity of two L2-normalized sparse vectors.
func cosine(a, b map[int]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for idx, w := range a {
		dot += w * b[idx]
	}
	return dot
}
