package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/imgidx/internal/ingest"
	appErr "github.com/xxxsen/imgidx/internal/pkg/errors"
)

// IngestJob reruns the full ingestion pipeline on schedule. It covers what
// the fs watcher cannot: remote buckets and changes made while the process
// was down.
type IngestJob struct {
	pipeline *ingest.Pipeline
}

func NewIngestJob(pipeline *ingest.Pipeline) *IngestJob {
	return &IngestJob{pipeline: pipeline}
}

func (j *IngestJob) Name() string {
	return "ingest_rescan"
}

func (j *IngestJob) Run(ctx context.Context) error {
	report, err := j.pipeline.Run(ctx)
	if err != nil {
		if appErr.IsIngestRunning(err) {
			logutil.GetLogger(ctx).Info("rescan skipped: ingest already running")
			return nil
		}
		return err
	}
	logutil.GetLogger(ctx).Info("scheduled rescan done",
		zap.Int("added", report.Added),
		zap.Int("updated", report.Updated),
		zap.Int("removed", report.Removed),
		zap.Int("embedded", report.Embedded),
		zap.Int("failed", report.Failed))
	return nil
}
