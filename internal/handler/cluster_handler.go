package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/imgidx/internal/cluster"
	"github.com/xxxsen/imgidx/internal/pkg/errcode"
	"github.com/xxxsen/imgidx/internal/pkg/response"
	"github.com/xxxsen/imgidx/internal/service"
)

type ClusterHandler struct {
	search *service.SearchService
}

func NewClusterHandler(search *service.SearchService) *ClusterHandler {
	return &ClusterHandler{search: search}
}

// Clusters serves GET /clusters. Absent query params fall back to the
// configured defaults; cosine distance tops out at 2, so larger radii are
// rejected.
func (h *ClusterHandler) Clusters(c *gin.Context) {
	var params cluster.Params
	if v := c.Query("min_cluster_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.Error(c, errcode.ErrInvalid, "invalid min_cluster_size")
			return
		}
		params.MinClusterSize = n
	}
	if v := c.Query("neighborhood_radius"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil || f < 0 || f > 2 {
			response.Error(c, errcode.ErrInvalid, "invalid neighborhood_radius")
			return
		}
		params.NeighborhoodRadius = float32(f)
	}
	result, err := h.search.Clusters(c.Request.Context(), params)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}
