package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/imgidx/internal/ingest"
	"github.com/xxxsen/imgidx/internal/pkg/errcode"
	appErr "github.com/xxxsen/imgidx/internal/pkg/errors"
	"github.com/xxxsen/imgidx/internal/pkg/response"
)

type IngestHandler struct {
	pipeline *ingest.Pipeline
}

func NewIngestHandler(pipeline *ingest.Pipeline) *IngestHandler {
	return &IngestHandler{pipeline: pipeline}
}

type ingestRequest struct {
	Background bool `json:"background"`
}

// Trigger runs a full ingestion pass over the configured sources. The
// default is synchronous and returns the finished report; background=true
// kicks the run off and returns immediately, with progress served from
// /ingest/status.
func (h *IngestHandler) Trigger(c *gin.Context) {
	var req ingestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errcode.ErrInvalid, "invalid request")
			return
		}
	}

	if req.Background {
		if h.pipeline.Status().Running {
			response.Error(c, errcode.ErrIngestRunning, "ingest already running")
			return
		}
		// Detach from the request: the run must not die with the connection.
		runCtx := context.WithoutCancel(c.Request.Context())
		go func() {
			if _, err := h.pipeline.Run(runCtx); err != nil && !appErr.IsIngestRunning(err) {
				logutil.GetLogger(runCtx).Error("background ingest failed", zap.Error(err))
			}
		}()
		response.Success(c, gin.H{"accepted": true})
		return
	}

	report, err := h.pipeline.Run(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, report)
}

func (h *IngestHandler) Status(c *gin.Context) {
	response.Success(c, h.pipeline.Status())
}
