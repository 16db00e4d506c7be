package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/imgidx/internal/pkg/response"
	"github.com/xxxsen/imgidx/internal/service"
)

type StatsHandler struct {
	search *service.SearchService
}

func NewStatsHandler(search *service.SearchService) *StatsHandler {
	return &StatsHandler{search: search}
}

func (h *StatsHandler) Stats(c *gin.Context) {
	stats, err := h.search.Stats(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, stats)
}

func (h *StatsHandler) Healthz(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}
