package handler

import (
	"errors"
	"net/http"
	"strconv"

	"carenotes-go/internal/model"
	"carenotes-go/internal/service"
	"carenotes-go/pkg/es"
	"carenotes-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler serves the retrieval entry points.
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler creates a SearchHandler.
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// Search handles a plain retrieval request.
func (h *SearchHandler) Search(c *gin.Context) {
	query, scope, topK, ok := h.parseQuery(c)
	if !ok {
		return
	}
	log.Infof("[SearchHandler] search request, query: %s, topK: %d", query, topK)

	results, err := h.searchService.Retrieve(c.Request.Context(), query, scope, topK)
	if err != nil {
		h.writeSearchError(c, err)
		return
	}

	log.Infof("[SearchHandler] search done, query: %q, hits: %d", query, len(results))
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": results, "message": "success"})
}

// SmartSearch handles retrieval with caller-aware re-ranking.
func (h *SearchHandler) SmartSearch(c *gin.Context) {
	query, scope, topK, ok := h.parseQuery(c)
	if !ok {
		return
	}

	caller := callerFromContext(c)
	log.Infof("[SearchHandler] smart search request, query: %s, topK: %d", query, topK)

	results, err := h.searchService.SmartSearch(c.Request.Context(), query, scope, topK, caller)
	if err != nil {
		h.writeSearchError(c, err)
		return
	}

	log.Infof("[SearchHandler] smart search done, query: %q, hits: %d", query, len(results))
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": results, "message": "success"})
}

func (h *SearchHandler) parseQuery(c *gin.Context) (string, model.SearchScope, int, bool) {
	query := c.Query("query")

	topK, err := strconv.Atoi(c.DefaultQuery("topK", "10"))
	if err != nil {
		topK = 10
	}

	var scope model.SearchScope
	if v := c.Query("category"); v != "" {
		scope.Category = &v
	}
	if v := c.Query("facilityId"); v != "" {
		scope.FacilityID = &v
	} else if caller := callerFromContext(c); caller != nil && caller.FacilityID != "" {
		facility := caller.FacilityID
		scope.FacilityID = &facility
	}
	return query, scope, topK, true
}

func (h *SearchHandler) writeSearchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyQuery):
		log.Warnf("[SearchHandler] rejected empty query")
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "data": nil, "message": "query must not be empty"})
	case errors.Is(err, es.ErrStoreUnavailable):
		log.Errorf("[SearchHandler] search store unavailable: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": 503, "data": nil, "message": "search store unavailable"})
	default:
		log.Errorf("[SearchHandler] search failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "data": nil, "message": "search failed"})
	}
}

func callerFromContext(c *gin.Context) *model.CallerProfile {
	v, exists := c.Get("caller")
	if !exists {
		return nil
	}
	caller, ok := v.(*model.CallerProfile)
	if !ok {
		return nil
	}
	return caller
}
