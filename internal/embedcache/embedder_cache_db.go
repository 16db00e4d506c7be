// Package embedcache layers caches around an embedder. The DB decorator makes
// image embeddings durable across runs keyed by (content_digest,
// model_version); the LRU decorator keeps hot query-text vectors in memory.
package embedcache

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/imgidx/internal/ai"
	"github.com/xxxsen/imgidx/internal/fingerprint"
	"github.com/xxxsen/imgidx/internal/model"
	"github.com/xxxsen/imgidx/internal/repo"
)

// WrapDBCacheToEmbedder caches image embeddings in the database. Text goes
// straight through: query text is cheap to re-embed and is handled by the LRU
// layer instead.
func WrapDBCacheToEmbedder(e ai.IEmbedder, cacheRepo *repo.EmbeddingCacheRepo) ai.IEmbedder {
	if e == nil || cacheRepo == nil {
		return e
	}
	return &dbEmbedder{next: e, repo: cacheRepo}
}

type dbEmbedder struct {
	next ai.IEmbedder
	repo *repo.EmbeddingCacheRepo
}

func (d *dbEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return d.next.EmbedText(ctx, text)
}

func (d *dbEmbedder) EmbedImage(ctx context.Context, data []byte, mimeType string) ([]float32, error) {
	digest := fingerprint.DigestBytes(data)
	modelVersion := d.next.ModelVersion()
	values, ok, err := d.repo.Get(ctx, digest, modelVersion)
	if err != nil {
		return nil, err
	}
	if ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (db)", zap.String("content_digest", digest))
		return cloneEmbedding(values), nil
	}
	res, err := d.next.EmbedImage(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	if err := d.repo.Save(ctx, &model.EmbeddingCache{
		ContentDigest: digest,
		ModelVersion:  modelVersion,
		Dim:           len(res),
		Embedding:     res,
		Ctime:         time.Now().Unix(),
	}); err != nil {
		logutil.GetLogger(ctx).Warn("failed to cache embedding", zap.Error(err))
	}
	return res, nil
}

func (d *dbEmbedder) ModelVersion() string {
	return d.next.ModelVersion()
}
