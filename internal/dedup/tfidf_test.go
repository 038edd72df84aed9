package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeFiltersStopWordsAndShortTokens(t *testing.T) {
	got := tokenize("A PhD in marine biology at Oxford")
	assert.Equal(t, []string{"phd", "marine", "biology", "oxford"}, got)
}

func TestTermsBigramsSpanRemovedStopWords(t *testing.T) {
	// "in" drops out before bigram construction, so "marine biology"
	// bridges the gap.
	got := terms("marine in biology")
	assert.Equal(t, []string{"marine", "biology", "marine biology"}, got)
}

func TestIdenticalDocumentsScoreOne(t *testing.T) {
	docs := []string{
		"PhD position marine biology Oxford deadline March",
		"PhD position marine biology Oxford deadline March",
	}
	v := fitVectorizer(docs)
	a := v.transform(docs[0])
	b := v.transform(docs[1])
	assert.InDelta(t, 1.0, cosine(a, b), 1e-9)
}

func TestDisjointDocumentsScoreZero(t *testing.T) {
	docs := []string{
		"quantum computing fellowship Amsterdam",
		"medieval literature assistantship Florence",
	}
	v := fitVectorizer(docs)
	assert.Equal(t, 0.0, cosine(v.transform(docs[0]), v.transform(docs[1])))
}

func TestPartialOverlapScoresBetween(t *testing.T) {
	docs := []string{
		"PhD in marine biology at Oxford, apply by March",
		"PhD position marine biology, Oxford, deadline March",
	}
	v := fitVectorizer(docs)
	score := cosine(v.transform(docs[0]), v.transform(docs[1]))
	assert.Greater(t, score, llmThreshold)
	assert.Less(t, score, autoAcceptThreshold)
}

func TestRareTermsWeighHeavierThanCommonOnes(t *testing.T) {
	docs := []string{
		"biology biology hydrothermal",
		"biology fieldwork",
		"biology genomics",
	}
	v := fitVectorizer(docs)
	vec := v.transform(docs[0])
	common := vec[v.vocab["biology"]]
	rare := vec[v.vocab["hydrothermal"]]
	// "biology" appears twice here but in every document; the one-document
	// term still outweighs it per occurrence.
	assert.Greater(t, rare, common/2)
}

func TestTransformIgnoresUnknownTerms(t *testing.T) {
	v := fitVectorizer([]string{"marine biology postdoc"})
	vec := v.transform("volcanology fellowship")
	assert.Empty(t, vec)
	assert.Equal(t, 0.0, cosine(vec, v.transform("marine biology postdoc")))
}

func TestTransformIsL2Normalized(t *testing.T) {
	v := fitVectorizer([]string{
		"deep sea ecology position",
		"coastal ecology survey position",
	})
	vec := v.transform("deep sea ecology position")
	var norm float64
	for _, w := range vec {
		norm += w * w
	}
	assert.InDelta(t, 1.0, norm, 1e-9)
}
