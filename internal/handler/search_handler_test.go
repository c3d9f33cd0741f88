package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"carenotes-go/internal/model"
	"carenotes-go/internal/service"
	"carenotes-go/pkg/es"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeSearchService struct {
	hits     []model.ScoredChunk
	err      error
	lastTopK int
}

func (f *fakeSearchService) Retrieve(_ context.Context, _ string, _ model.SearchScope, topK int) ([]model.ScoredChunk, error) {
	f.lastTopK = topK
	return f.hits, f.err
}

func (f *fakeSearchService) SmartSearch(ctx context.Context, query string, scope model.SearchScope, topK int, _ *model.CallerProfile) ([]model.ScoredChunk, error) {
	return f.Retrieve(ctx, query, scope, topK)
}

func newSearchRouter(svc service.SearchService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewSearchHandler(svc)
	r.GET("/api/v1/search", h.Search)
	r.GET("/api/v1/search/smart", h.SmartSearch)
	return r
}

func TestSearchSuccess(t *testing.T) {
	svc := &fakeSearchService{hits: []model.ScoredChunk{{ID: "a", Title: "T", Rank: 1}}}
	r := newSearchRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/search?query=policy&topK=5", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"a"`)
	assert.Equal(t, 5, svc.lastTopK)
}

func TestSearchEmptyQuery(t *testing.T) {
	r := newSearchRouter(&fakeSearchService{err: service.ErrEmptyQuery})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/search?query=", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchStoreUnavailable(t *testing.T) {
	r := newSearchRouter(&fakeSearchService{err: es.ErrStoreUnavailable})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/search?query=policy", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSearchDefaultsTopK(t *testing.T) {
	svc := &fakeSearchService{}
	r := newSearchRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/search?query=policy", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, svc.lastTopK)
}

func TestSmartSearchSuccess(t *testing.T) {
	svc := &fakeSearchService{hits: []model.ScoredChunk{{ID: "a"}}}
	r := newSearchRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/search/smart?query=policy", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
