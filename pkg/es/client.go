// Package es implements the document store contract on Elasticsearch:
// a dense-vector kNN query for similarity search and a BM25 match
// query for the lexical fallback.
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"carenotes-go/internal/config"
	"carenotes-go/internal/model"
	"carenotes-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// ErrStoreUnavailable marks transport-level failures: the engine could
// not be reached at all, as opposed to rejecting a query.
var ErrStoreUnavailable = errors.New("document store unavailable")

// Store wraps an Elasticsearch client bound to one index.
type Store struct {
	client *elasticsearch.Client
	index  string
	dims   int
}

// NewStore connects the Elasticsearch client. dims is the corpus-wide
// embedding dimensionality baked into the index mapping.
func NewStore(cfg config.ElasticsearchConfig, dims int) (*Store, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Addresses},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, err
	}
	return &Store{client: client, index: cfg.IndexName, dims: dims}, nil
}

// EnsureIndex creates the chunk index if it does not exist yet.
func (s *Store) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unexpected status %d while checking index %q", res.StatusCode, s.index)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_key":     { "type": "keyword" },
				"row_id":        { "type": "long" },
				"doc_digest":    { "type": "keyword" },
				"chunk_index":   { "type": "integer" },
				"facility_id":   { "type": "keyword" },
				"is_global":     { "type": "boolean" },
				"category":      { "type": "keyword" },
				"title":         { "type": "text" },
				"content":       { "type": "text" },
				"embedding": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"source_url":    { "type": "keyword" },
				"last_updated":  { "type": "date" },
				"model_version": { "type": "keyword" },
				"metadata":      { "type": "object", "enabled": false }
			}
		}
	}`, s.dims)

	createRes, err := s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return fmt.Errorf("failed to create index %q: %s", s.index, createRes.String())
	}
	log.Infof("created index %q (dims=%d)", s.index, s.dims)
	return nil
}

// BulkIndex writes all documents in a single bulk request.
func (s *Store) BulkIndex(ctx context.Context, docs []model.IndexedChunk) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		meta := map[string]map[string]string{
			"index": {"_index": s.index, "_id": doc.ChunkKey},
		}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		docBytes, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		buf.Write(metaBytes)
		buf.WriteByte('\n')
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}

	res, err := s.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index failed: %s", res.String())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		return errors.New("bulk index reported per-item failures")
	}
	return nil
}

// DeleteByDigest removes every indexed chunk of one source document.
func (s *Store) DeleteByDigest(ctx context.Context, digest string) error {
	query := fmt.Sprintf(`{"query":{"term":{"doc_digest":%q}}}`, digest)
	res, err := s.client.DeleteByQuery(
		[]string{s.index},
		strings.NewReader(query),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete by digest failed: %s", res.String())
	}
	return nil
}

// VectorSearch runs a kNN similarity query scoped by the filter,
// returning up to k hits ordered by descending similarity.
func (s *Store) VectorSearch(ctx context.Context, vector []float32, k int, scope model.SearchScope) ([]model.ScoredChunk, error) {
	knn := map[string]interface{}{
		"field":          "embedding",
		"query_vector":   vector,
		"k":              k,
		"num_candidates": k * 10,
	}
	if filter := scopeFilter(scope); filter != nil {
		knn["filter"] = filter
	}
	query := map[string]interface{}{
		"knn":  knn,
		"size": k,
	}
	return s.search(ctx, query)
}

// LexicalSearch runs a BM25 full-text query over the same scope,
// ordered by the engine's native relevance ranking.
func (s *Store) LexicalSearch(ctx context.Context, queryText string, k int, scope model.SearchScope) ([]model.ScoredChunk, error) {
	boolQuery := map[string]interface{}{
		"must": map[string]interface{}{
			"match": map[string]interface{}{
				"content": queryText,
			},
		},
	}
	if filter := scopeFilter(scope); filter != nil {
		boolQuery["filter"] = filter
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": boolQuery,
		},
		"size": k,
	}
	return s.search(ctx, query)
}

// scopeFilter builds the visibility clause: a facility-scoped query
// sees that facility's chunks plus globally visible ones.
func scopeFilter(scope model.SearchScope) map[string]interface{} {
	var clauses []map[string]interface{}
	if scope.FacilityID != nil {
		clauses = append(clauses, map[string]interface{}{
			"bool": map[string]interface{}{
				"should": []map[string]interface{}{
					{"term": map[string]interface{}{"facility_id": *scope.FacilityID}},
					{"term": map[string]interface{}{"is_global": true}},
				},
				"minimum_should_match": 1,
			},
		})
	}
	if scope.Category != nil {
		clauses = append(clauses, map[string]interface{}{
			"term": map[string]interface{}{"category": *scope.Category},
		})
	}
	if len(clauses) == 0 {
		return nil
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{"filter": clauses},
	}
}

func (s *Store) search(ctx context.Context, query map[string]interface{}) ([]model.ScoredChunk, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search returned an error: %s", res.String())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.IndexedChunk `json:"_source"`
				Score  float64            `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]model.ScoredChunk, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.ScoredChunk{
			ID:        hit.Source.ChunkKey,
			Category:  hit.Source.Category,
			Title:     hit.Source.Title,
			Content:   hit.Source.Content,
			SourceURL: hit.Source.SourceURL,
			Score:     hit.Score,
		})
	}
	return results, nil
}
