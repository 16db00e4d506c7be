package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/imgidx/internal/middleware"
	"github.com/xxxsen/imgidx/internal/pkg/errcode"
	appErr "github.com/xxxsen/imgidx/internal/pkg/errors"
	"github.com/xxxsen/imgidx/internal/pkg/response"
	"github.com/xxxsen/imgidx/internal/service"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("request_id", middleware.RequestIDFrom(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrIngestRunning):
		response.Error(c, errcode.ErrIngestRunning, "ingest already running")
	case errors.Is(err, appErr.ErrIndexEmpty):
		response.Error(c, errcode.ErrIndexEmpty, "index is empty")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, errcode.ErrConflict, "conflict")
	case errors.Is(err, appErr.ErrTooMany):
		response.Error(c, errcode.ErrTooMany, "too many requests")
	case errors.Is(err, appErr.ErrSourceUnreachable):
		response.Error(c, errcode.ErrStorageFailed, "source unreachable")
	case errors.Is(err, service.ErrAIUnavailable):
		response.Error(c, errcode.ErrAIUnavailable, "embedder unavailable")
	case errors.Is(err, appErr.ErrEmbedderDim):
		response.Error(c, errcode.ErrEmbedFailed, "embedding failed")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
