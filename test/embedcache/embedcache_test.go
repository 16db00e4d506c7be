package embedcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/imgidx/internal/embedcache"
	"github.com/xxxsen/imgidx/internal/fingerprint"
	"github.com/xxxsen/imgidx/internal/repo"
	"github.com/xxxsen/imgidx/test/testutil"
)

func TestDBCacheSkipsRepeatEmbeds(t *testing.T) {
	db, driver := testutil.OpenSQLiteTestDB(t)
	cache := repo.NewEmbeddingCacheRepo(db, driver)
	stub := testutil.NewStubEmbedder("stub-v1", 4)
	embedder := embedcache.WrapDBCacheToEmbedder(stub, cache)
	ctx := context.Background()

	content := []byte("image-bytes")
	first, err := embedder.EmbedImage(ctx, content, "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, 1, stub.ImageCalls())

	second, err := embedder.EmbedImage(ctx, content, "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, stub.ImageCalls())

	// The row is keyed by digest and model version.
	vec, ok, err := cache.Get(ctx, fingerprint.DigestBytes(content), "stub-v1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first, vec)

	// Different content misses and goes to the model.
	_, err = embedder.EmbedImage(ctx, []byte("other-bytes"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, 2, stub.ImageCalls())
}

func TestDBCachePassesTextThrough(t *testing.T) {
	db, driver := testutil.OpenSQLiteTestDB(t)
	cache := repo.NewEmbeddingCacheRepo(db, driver)
	stub := testutil.NewStubEmbedder("stub-v1", 4)
	embedder := embedcache.WrapDBCacheToEmbedder(stub, cache)
	ctx := context.Background()

	_, err := embedder.EmbedText(ctx, "query")
	require.NoError(t, err)
	_, err = embedder.EmbedText(ctx, "query")
	require.NoError(t, err)
	require.Equal(t, 2, stub.TextCalls())

	n, err := cache.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestLRUCacheMemoizesText(t *testing.T) {
	stub := testutil.NewStubEmbedder("stub-v1", 4)
	embedder := embedcache.WrapLruCacheToEmbedder(stub, 8, time.Minute)
	ctx := context.Background()

	first, err := embedder.EmbedText(ctx, "sunset over water")
	require.NoError(t, err)
	second, err := embedder.EmbedText(ctx, "sunset over water")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, stub.TextCalls())

	_, err = embedder.EmbedText(ctx, "another query")
	require.NoError(t, err)
	require.Equal(t, 2, stub.TextCalls())

	// Images are not memoized here; that is the db layer's job.
	_, err = embedder.EmbedImage(ctx, []byte("img"), "image/jpeg")
	require.NoError(t, err)
	_, err = embedder.EmbedImage(ctx, []byte("img"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, 2, stub.ImageCalls())
}

func TestLRUCacheDisabledByZeroConfig(t *testing.T) {
	stub := testutil.NewStubEmbedder("stub-v1", 4)
	require.Same(t, stub, embedcache.WrapLruCacheToEmbedder(stub, 0, time.Minute))
	require.Same(t, stub, embedcache.WrapLruCacheToEmbedder(stub, 8, 0))
}

func TestCachedVectorsAreIsolatedCopies(t *testing.T) {
	db, driver := testutil.OpenSQLiteTestDB(t)
	cache := repo.NewEmbeddingCacheRepo(db, driver)
	stub := testutil.NewStubEmbedder("stub-v1", 4)
	embedder := embedcache.WrapDBCacheToEmbedder(stub, cache)
	ctx := context.Background()

	content := []byte("shared")
	first, err := embedder.EmbedImage(ctx, content, "image/jpeg")
	require.NoError(t, err)
	first[0] = -42

	// A caller scribbling on its result must not poison later hits.
	second, err := embedder.EmbedImage(ctx, content, "image/jpeg")
	require.NoError(t, err)
	require.NotEqual(t, float32(-42), second[0])
}
