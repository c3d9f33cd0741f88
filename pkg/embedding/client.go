// Package embedding converts text into fixed-length, L2-normalized
// vectors. Two interchangeable backends exist: a remote
// OpenAI-compatible endpoint and a local in-process vectorizer. The
// backend is selected once at configuration time; ingestion and query
// embeddings must come from the same backend and model or retrieval
// breaks, which is an operator responsibility.
package embedding

import (
	"context"
	"fmt"
	"math"

	"carenotes-go/internal/config"
)

// Embedder is the common capability of both backends.
type Embedder interface {
	// Embed vectorizes a batch of texts in one call.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedOne vectorizes a single query text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	// Dimensions reports the fixed vector length of this deployment.
	Dimensions() int
}

// ProviderError reports a non-2xx response from the remote backend.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider returned status %d: %s", e.StatusCode, e.Body)
}

// New selects the backend named by cfg.Provider.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "local":
		return NewLocal(cfg.Dimensions), nil
	case "remote", "":
		return NewRemote(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// l2Normalize scales the vector to unit length in place.
func l2Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}
