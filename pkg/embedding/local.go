package embedding

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
)

// localEmbedder is an in-process hashed bag-of-words vectorizer. Token
// counts are signed-hashed into a fixed number of dimensions, so the
// vector space is stable across restarts without building a vocabulary
// from the corpus first.
type localEmbedder struct {
	dims         int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

const defaultLocalDimensions = 384

// NewLocal creates the local backend with the given dimensionality.
func NewLocal(dims int) Embedder {
	if dims <= 0 {
		dims = defaultLocalDimensions
	}
	return &localEmbedder{
		dims:         dims,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords:    defaultStopwords(),
	}
}

func (e *localEmbedder) Dimensions() int { return e.dims }

func (e *localEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *localEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embedOne(text)
	}
	return vectors, nil
}

func (e *localEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dims)
	for _, tok := range e.tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dims))
		// The bit above the bucket selects the sign, which spreads
		// colliding tokens instead of always stacking them.
		if (sum>>63)&1 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}
	l2Normalize(vec)
	return vec
}

func (e *localEmbedder) tokenize(text string) []string {
	raw := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for",
		"to", "of", "in", "on", "at", "by", "with", "as", "is", "are",
		"was", "were", "be", "been", "being", "it", "this", "that",
		"these", "those", "from", "up", "down", "over", "under", "than",
		"so", "such", "into", "about", "between", "through", "during",
		"before", "after", "above", "below", "out", "off", "own", "same",
		"too", "very", "can", "will", "just", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
