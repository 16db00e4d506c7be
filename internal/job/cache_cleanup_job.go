package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/imgidx/internal/repo"
)

// CacheCleanupJob drops cached vectors left behind by an embedding model
// switch. Lookups key on the active model version, so the old rows can never
// be hit again.
type CacheCleanupJob struct {
	cache        *repo.EmbeddingCacheRepo
	modelVersion string
}

func NewCacheCleanupJob(cache *repo.EmbeddingCacheRepo, modelVersion string) *CacheCleanupJob {
	return &CacheCleanupJob{cache: cache, modelVersion: modelVersion}
}

func (j *CacheCleanupJob) Name() string {
	return "embedding_cache_cleanup"
}

func (j *CacheCleanupJob) Run(ctx context.Context) error {
	if j.cache == nil {
		return nil
	}
	n, err := j.cache.DeleteOtherModels(ctx, j.modelVersion)
	if err != nil {
		return err
	}
	if n > 0 {
		logutil.GetLogger(ctx).Info("stale cache entries removed",
			zap.Int64("count", n), zap.String("keep_model", j.modelVersion))
	}
	return nil
}
