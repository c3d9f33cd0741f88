package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestLocalEmbedderDimensions(t *testing.T) {
	e := NewLocal(0)
	assert.Equal(t, defaultLocalDimensions, e.Dimensions())

	e = NewLocal(256)
	assert.Equal(t, 256, e.Dimensions())

	vec, err := e.EmbedOne(context.Background(), "hand hygiene before resident contact")
	require.NoError(t, err)
	assert.Len(t, vec, 256)
}

func TestLocalEmbedderUnitNorm(t *testing.T) {
	e := NewLocal(384)
	vec, err := e.EmbedOne(context.Background(), "medication administration requires a second signature")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vectorNorm(vec), 1e-5)
}

func TestLocalEmbedderDeterministic(t *testing.T) {
	e := NewLocal(384)
	a, err := e.EmbedOne(context.Background(), "fall prevention protocol")
	require.NoError(t, err)
	b, err := e.EmbedOne(context.Background(), "fall prevention protocol")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLocalEmbedderBatchMatchesSingle(t *testing.T) {
	e := NewLocal(128)
	texts := []string{"infection control", "dietary restrictions", "visitor policy"}

	batch, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, err := e.EmbedOne(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestLocalEmbedderStopwordsIgnored(t *testing.T) {
	e := NewLocal(384)
	a, err := e.EmbedOne(context.Background(), "the medication for the resident")
	require.NoError(t, err)
	b, err := e.EmbedOne(context.Background(), "medication resident")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLocalEmbedderEmptyText(t *testing.T) {
	e := NewLocal(64)
	vec, err := e.EmbedOne(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, vec, 64)
	assert.Zero(t, vectorNorm(vec))
}
