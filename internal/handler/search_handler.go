package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/imgidx/internal/pkg/errcode"
	"github.com/xxxsen/imgidx/internal/pkg/response"
	"github.com/xxxsen/imgidx/internal/service"
)

type SearchHandler struct {
	search *service.SearchService
}

func NewSearchHandler(search *service.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

type searchRequest struct {
	Query    string  `json:"query"`
	TopK     int     `json:"top_k"`
	MinScore float32 `json:"min_score"`
}

type similarRequest struct {
	Path string `json:"path"`
	TopK int    `json:"top_k"`
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	hits, err := h.search.SemanticSearch(c.Request.Context(), req.Query, req.TopK, req.MinScore)
	if err != nil {
		if errors.Is(err, service.ErrAIUnavailable) {
			response.Error(c, errcode.ErrAIUnavailable, "embedder unavailable")
			return
		}
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"hits": hits, "total": len(hits)})
}

func (h *SearchHandler) Similar(c *gin.Context) {
	var req similarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	hits, err := h.search.SimilarByPath(c.Request.Context(), req.Path, req.TopK)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"hits": hits, "total": len(hits)})
}
