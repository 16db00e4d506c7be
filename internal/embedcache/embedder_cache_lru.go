package embedcache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"

	"github.com/xxxsen/imgidx/internal/ai"
	"github.com/xxxsen/imgidx/internal/fingerprint"
)

// WrapLruCacheToEmbedder memoizes text embeddings. Repeated searches for the
// same query skip the provider round trip entirely.
func WrapLruCacheToEmbedder(e ai.IEmbedder, size int, ttl time.Duration) ai.IEmbedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next  ai.IEmbedder
	cache *expirable.LRU[string, []float32]
}

func (l *lruEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	cacheKey := buildTextCacheKey(l.next.ModelVersion(), text)
	if cached, ok := l.cache.Get(cacheKey); ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (lru)")
		return cloneEmbedding(cached), nil
	}
	res, err := l.next.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	l.cache.Add(cacheKey, cloneEmbedding(res))
	return res, nil
}

func (l *lruEmbedder) EmbedImage(ctx context.Context, data []byte, mimeType string) ([]float32, error) {
	return l.next.EmbedImage(ctx, data, mimeType)
}

func (l *lruEmbedder) ModelVersion() string {
	return l.next.ModelVersion()
}

func buildTextCacheKey(modelVersion, text string) string {
	modelVersion = strings.TrimSpace(modelVersion)
	if modelVersion == "" {
		modelVersion = "unknown"
	}
	return "embed:" + modelVersion + ":text:" + fingerprint.DigestBytes([]byte(text))
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
