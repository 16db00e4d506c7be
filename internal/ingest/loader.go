package ingest

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/imgidx/internal/index"
	"github.com/xxxsen/imgidx/internal/repo"
)

// LoadSnapshot rebuilds an index snapshot from the persisted records and
// cached vectors without touching any storage provider. It backs process
// startup and the read-only CLI verbs: whatever the last successful run
// stored becomes queryable again. Rows without a cached vector under the
// active model, typically after a model switch, are left out until the next
// run re-embeds them.
func LoadSnapshot(ctx context.Context, images *repo.ImageRepo, cache *repo.EmbeddingCacheRepo, modelVersion string) (*index.Snapshot, error) {
	rows, err := images.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load image records: %w", err)
	}
	builder := index.NewBuilder(modelVersion)
	if len(rows) == 0 {
		return builder.Build(), nil
	}

	digests := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, rec := range rows {
		if _, ok := seen[rec.ContentDigest]; ok {
			continue
		}
		seen[rec.ContentDigest] = struct{}{}
		digests = append(digests, rec.ContentDigest)
	}
	vectors, err := cache.GetBatch(ctx, modelVersion, digests)
	if err != nil {
		return nil, fmt.Errorf("load cached embeddings: %w", err)
	}

	skipped := 0
	for _, rec := range rows {
		vec, ok := vectors[rec.ContentDigest]
		if !ok {
			skipped++
			continue
		}
		builder.Add(rec.ContentDigest, vec, rec.Path)
	}
	if skipped > 0 {
		logutil.GetLogger(ctx).Warn("records without cached embedding skipped",
			zap.Int("skipped", skipped), zap.String("model_version", modelVersion))
	}
	return builder.Build(), nil
}
