package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/imgidx/internal/middleware"
)

type RouterDeps struct {
	Search   *SearchHandler
	Clusters *ClusterHandler
	Ingest   *IngestHandler
	Stats    *StatsHandler
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/search", deps.Search.Search)
	api.POST("/similar", deps.Search.Similar)
	api.GET("/clusters", deps.Clusters.Clusters)

	// One trigger per client per window; the pipeline single-flights the rest.
	api.POST("/ingest", middleware.RateLimit(time.Second), deps.Ingest.Trigger)
	api.GET("/ingest/status", deps.Ingest.Status)

	api.GET("/stats", deps.Stats.Stats)
	api.GET("/healthz", deps.Stats.Healthz)
}
