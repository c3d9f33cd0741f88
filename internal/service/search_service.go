// Package service holds the business logic layer.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"carenotes-go/internal/model"
	"carenotes-go/pkg/embedding"
	"carenotes-go/pkg/es"
	"carenotes-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// ErrEmptyQuery rejects empty or whitespace-only query text.
var ErrEmptyQuery = errors.New("query text is empty")

const (
	minTopK = 1
	maxTopK = 50

	embeddingCacheTTL = 24 * time.Hour
)

// VectorStore is the store contract the retriever depends on: vector
// similarity plus a lexical search over the same scope.
type VectorStore interface {
	VectorSearch(ctx context.Context, vector []float32, k int, scope model.SearchScope) ([]model.ScoredChunk, error)
	LexicalSearch(ctx context.Context, queryText string, k int, scope model.SearchScope) ([]model.ScoredChunk, error)
}

// SearchService retrieves scored chunks for a query.
type SearchService interface {
	// Retrieve runs hybrid retrieval: vector similarity first, lexical
	// fallback when the vector path errors or comes back empty.
	Retrieve(ctx context.Context, query string, scope model.SearchScope, topK int) ([]model.ScoredChunk, error)
	// SmartSearch applies the caller-aware priority partition on top of
	// raw retrieval order.
	SmartSearch(ctx context.Context, query string, scope model.SearchScope, topK int, caller *model.CallerProfile) ([]model.ScoredChunk, error)
}

type searchService struct {
	embedder  embedding.Embedder
	store     VectorStore
	builder   *ContextBuilder
	cache     *redis.Client
	modelName string
}

// NewSearchService creates a SearchService. cache may be nil to skip
// query-embedding caching.
func NewSearchService(embedder embedding.Embedder, store VectorStore, builder *ContextBuilder, cache *redis.Client, modelName string) SearchService {
	return &searchService{
		embedder:  embedder,
		store:     store,
		builder:   builder,
		cache:     cache,
		modelName: modelName,
	}
}

func clampTopK(topK int) int {
	if topK < minTopK {
		return minTopK
	}
	if topK > maxTopK {
		return maxTopK
	}
	return topK
}

func (s *searchService) Retrieve(ctx context.Context, query string, scope model.SearchScope, topK int) ([]model.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	topK = clampTopK(topK)

	var hits []model.ScoredChunk
	var vecErr error

	vector, embErr := s.queryVector(ctx, query)
	if embErr != nil {
		// The lexical path does not need the vector, so an embedding
		// failure degrades to lexical search instead of failing the
		// retrieval.
		log.Warnf("query embedding failed, falling back to lexical search: %v", embErr)
		vecErr = embErr
	} else {
		hits, vecErr = s.store.VectorSearch(ctx, vector, topK, scope)
		if vecErr != nil {
			log.Warnf("vector search failed, falling back to lexical search: %v", vecErr)
		}
	}

	if vecErr != nil || len(hits) == 0 {
		lexHits, lexErr := s.store.LexicalSearch(ctx, query, topK, scope)
		if lexErr != nil {
			// Both legs failing on transport means the store itself is
			// down; everything else is absorbed because a missing index
			// must never block the caller from getting some answer.
			if vecErr != nil && errors.Is(vecErr, es.ErrStoreUnavailable) && errors.Is(lexErr, es.ErrStoreUnavailable) {
				return nil, es.ErrStoreUnavailable
			}
			log.Warnf("lexical fallback failed, returning empty result: %v", lexErr)
			return []model.ScoredChunk{}, nil
		}
		hits = lexHits
	}

	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits, nil
}

func (s *searchService) SmartSearch(ctx context.Context, query string, scope model.SearchScope, topK int, caller *model.CallerProfile) ([]model.ScoredChunk, error) {
	topK = clampTopK(topK)
	hits, err := s.Retrieve(ctx, query, scope, topK)
	if err != nil {
		return nil, err
	}
	prioritized := s.builder.Prioritize(hits, caller, topK)
	for i := range prioritized {
		prioritized[i].Rank = i + 1
	}
	return prioritized, nil
}

// queryVector embeds the query, consulting the Redis cache first so
// repeated questions skip the provider round trip.
func (s *searchService) queryVector(ctx context.Context, query string) ([]float32, error) {
	key := ""
	if s.cache != nil {
		sum := sha256.Sum256([]byte(query))
		key = fmt.Sprintf("emb:%s:%x", s.modelName, sum)
		if cached, err := s.cache.Get(ctx, key).Result(); err == nil {
			var vector []float32
			if err := json.Unmarshal([]byte(cached), &vector); err == nil && len(vector) == s.embedder.Dimensions() {
				return vector, nil
			}
		}
	}

	vector, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(vector); err == nil {
			if err := s.cache.Set(ctx, key, encoded, embeddingCacheTTL).Err(); err != nil {
				log.Warnf("failed to cache query embedding: %v", err)
			}
		}
	}
	return vector, nil
}
