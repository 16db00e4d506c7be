package ingest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/imgidx/internal/config"
	"github.com/xxxsen/imgidx/internal/embedcache"
	"github.com/xxxsen/imgidx/internal/index"
	"github.com/xxxsen/imgidx/internal/ingest"
	"github.com/xxxsen/imgidx/internal/model"
	appErr "github.com/xxxsen/imgidx/internal/pkg/errors"
	"github.com/xxxsen/imgidx/internal/repo"
	"github.com/xxxsen/imgidx/internal/storage"
	"github.com/xxxsen/imgidx/test/testutil"
)

type pipelineEnv struct {
	root    string
	stub    *testutil.StubEmbedder
	images  *repo.ImageRepo
	cache   *repo.EmbeddingCacheRepo
	holder  *index.Holder
	sources []ingest.Source
	pl      *ingest.Pipeline
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()
	db, driver := testutil.OpenSQLiteTestDB(t)
	env := &pipelineEnv{
		root:   t.TempDir(),
		stub:   testutil.NewStubEmbedder("stub-v1", 8),
		images: repo.NewImageRepo(db, driver),
		cache:  repo.NewEmbeddingCacheRepo(db, driver),
		holder: index.NewHolder(nil),
	}
	sources, err := ingest.BuildSources(context.Background(), []config.SourceConfig{
		{Name: "photos", Type: storage.TypeLocal, Args: map[string]interface{}{"root": env.root}},
	}, []string{"jpg", "png"})
	require.NoError(t, err)
	env.sources = sources
	env.pl = env.pipelineFor(env.stub)
	return env
}

// pipelineFor builds a pipeline over the shared repos and holder, with the
// stub wrapped in the persistent cache decorator the way the app wires it.
func (e *pipelineEnv) pipelineFor(stub *testutil.StubEmbedder) *ingest.Pipeline {
	embedder := embedcache.WrapDBCacheToEmbedder(stub, e.cache)
	return ingest.New(e.sources, e.images, e.cache, embedder, e.holder, 2)
}

func (e *pipelineEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	full := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

// touch pushes a file's mtime to a distinct value; mtimes are compared at
// second granularity, so writes within the same second would otherwise hide.
func (e *pipelineEnv) touch(t *testing.T, rel string, at time.Time) {
	t.Helper()
	full := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.Chtimes(full, at, at))
}

func (e *pipelineEnv) remove(t *testing.T, rel string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(e.root, filepath.FromSlash(rel))))
}

func (e *pipelineEnv) run(t *testing.T) *model.IngestReport {
	t.Helper()
	report, err := e.pl.Run(context.Background())
	require.NoError(t, err)
	return report
}

func TestPipelineFirstRunDedupesByDigest(t *testing.T) {
	env := newPipelineEnv(t)
	env.write(t, "a.jpg", "red")
	env.write(t, "b.jpg", "blue")
	env.write(t, "sub/c.jpg", "red")
	env.write(t, "notes.txt", "not an image")

	report := env.run(t)
	require.Equal(t, 3, report.Listed)
	require.Equal(t, 3, report.Added)
	require.Equal(t, 0, report.Updated)
	require.Equal(t, 0, report.Unchanged)
	require.Equal(t, 2, report.Embedded)
	require.Equal(t, 0, report.Reused)
	require.Equal(t, 0, report.Failed)
	require.Equal(t, 2, report.Digests)
	require.Equal(t, 3, report.Paths)

	// Two distinct contents, two model calls: the duplicate rides along.
	require.Equal(t, 2, env.stub.ImageCalls())

	snap := env.holder.Load()
	digA, ok := snap.DigestByPath("photos/a.jpg")
	require.True(t, ok)
	digC, ok := snap.DigestByPath("photos/sub/c.jpg")
	require.True(t, ok)
	require.Equal(t, digA, digC)
	digB, ok := snap.DigestByPath("photos/b.jpg")
	require.True(t, ok)
	require.NotEqual(t, digA, digB)

	vec, ok := snap.VectorByPath("photos/b.jpg")
	require.True(t, ok)
	require.Equal(t, env.stub.Vector([]byte("blue")), vec)

	ctx := context.Background()
	nImages, err := env.images.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), nImages)
	nCache, err := env.cache.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), nCache)
}

func TestPipelineRerunIsIdempotent(t *testing.T) {
	env := newPipelineEnv(t)
	env.write(t, "a.jpg", "red")
	env.write(t, "b.jpg", "blue")
	env.run(t)
	calls := env.stub.ImageCalls()

	report := env.run(t)
	require.Equal(t, 2, report.Listed)
	require.Equal(t, 2, report.Unchanged)
	require.Equal(t, 0, report.Added)
	require.Equal(t, 0, report.Updated)
	require.Equal(t, 0, report.Embedded)
	require.Equal(t, 0, report.Reused)
	require.Equal(t, 0, report.Failed)
	require.Equal(t, 0, report.Removed)
	require.Equal(t, calls, env.stub.ImageCalls())
	require.Equal(t, 2, env.holder.Load().Paths())
}

func TestPipelineMtimeTouchDoesNotReembed(t *testing.T) {
	env := newPipelineEnv(t)
	env.write(t, "a.jpg", "red")
	env.run(t)
	require.Equal(t, 1, env.stub.ImageCalls())

	env.touch(t, "a.jpg", time.Now().Add(time.Hour))
	report := env.run(t)
	require.Equal(t, 1, report.Unchanged)
	require.Equal(t, 0, report.Added)
	require.Equal(t, 0, report.Updated)
	require.Equal(t, 0, report.Embedded)
	require.Equal(t, 1, env.stub.ImageCalls())

	// The row was refreshed, so the next run takes the fast path again.
	report = env.run(t)
	require.Equal(t, 1, report.Unchanged)
	require.Equal(t, 1, env.stub.ImageCalls())
}

func TestPipelineContentChangeReembeds(t *testing.T) {
	env := newPipelineEnv(t)
	env.write(t, "a.jpg", "red-1")
	env.run(t)

	env.write(t, "a.jpg", "red-2")
	env.touch(t, "a.jpg", time.Now().Add(time.Hour))
	report := env.run(t)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, 0, report.Added)
	require.Equal(t, 0, report.Unchanged)
	require.Equal(t, 1, report.Embedded)
	require.Equal(t, 2, env.stub.ImageCalls())

	vec, ok := env.holder.Load().VectorByPath("photos/a.jpg")
	require.True(t, ok)
	require.Equal(t, env.stub.Vector([]byte("red-2")), vec)

	// The superseded digest keeps its cache row; only the image row moved.
	ctx := context.Background()
	nCache, err := env.cache.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), nCache)
	nImages, err := env.images.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), nImages)
}

func TestPipelineRemoval(t *testing.T) {
	env := newPipelineEnv(t)
	env.write(t, "a.jpg", "red")
	env.write(t, "b.jpg", "blue")
	env.write(t, "c.jpg", "red")
	env.run(t)
	require.Equal(t, 3, env.holder.Load().Paths())

	// Dropping one carrier of a shared digest keeps the digest alive.
	env.remove(t, "c.jpg")
	report := env.run(t)
	require.Equal(t, 1, report.Removed)
	require.Equal(t, 2, report.Unchanged)
	require.Equal(t, 2, report.Paths)
	require.Equal(t, 2, report.Digests)

	env.remove(t, "b.jpg")
	report = env.run(t)
	require.Equal(t, 1, report.Removed)
	require.Equal(t, 1, report.Paths)
	require.Equal(t, 1, report.Digests)

	ctx := context.Background()
	_, err := env.images.GetByPath(ctx, "photos/b.jpg")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	nImages, err := env.images.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), nImages)

	// Cached vectors outlive the paths that produced them.
	nCache, err := env.cache.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), nCache)
}

func TestPipelineEmbedFailureSkipsPath(t *testing.T) {
	env := newPipelineEnv(t)
	env.write(t, "ok.jpg", "fine")
	env.write(t, "bad.jpg", "broken")
	env.stub.FailContent([]byte("broken"), errors.New("model rejected image"))

	report := env.run(t)
	require.Equal(t, 2, report.Listed)
	require.Equal(t, 1, report.Added)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.Embedded)
	require.Len(t, report.Errors, 1)
	require.Contains(t, report.Errors[0], "photos/bad.jpg")
	require.Contains(t, report.Errors[0], "embed")

	snap := env.holder.Load()
	require.Equal(t, 1, snap.Paths())
	_, ok := snap.DigestByPath("photos/bad.jpg")
	require.False(t, ok)

	ctx := context.Background()
	nImages, err := env.images.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), nImages)

	// Once the model accepts the content, the next run picks the path up.
	env.stub.HealContent([]byte("broken"))
	report = env.run(t)
	require.Equal(t, 1, report.Added)
	require.Equal(t, 1, report.Embedded)
	require.Equal(t, 0, report.Failed)
	require.Equal(t, 2, env.holder.Load().Paths())
	require.Equal(t, 3, env.stub.ImageCalls())
}

func TestPipelineUnreachableRootAbortsRun(t *testing.T) {
	env := newPipelineEnv(t)
	env.write(t, "a.jpg", "red")
	env.run(t)

	require.NoError(t, os.RemoveAll(env.root))
	_, err := env.pl.Run(context.Background())
	require.ErrorIs(t, err, appErr.ErrSourceUnreachable)
	require.Contains(t, err.Error(), "photos")

	// Nothing was published or deleted: the missing root reads as an
	// outage, not as a mass removal.
	require.Equal(t, 1, env.holder.Load().Paths())
	nImages, dbErr := env.images.Count(context.Background())
	require.NoError(t, dbErr)
	require.Equal(t, int64(1), nImages)

	status := env.pl.Status()
	require.False(t, status.Running)
	require.NotEmpty(t, status.LastError)

	// Restoring the root with the same content needs no new embed.
	require.NoError(t, os.MkdirAll(env.root, 0o755))
	env.write(t, "a.jpg", "red")
	report := env.run(t)
	require.Equal(t, 1, report.Unchanged)
	require.Equal(t, 0, report.Embedded)
	require.Equal(t, 1, env.stub.ImageCalls())
}

func TestPipelineRejectsConcurrentRun(t *testing.T) {
	env := newPipelineEnv(t)
	env.write(t, "a.jpg", "first")
	env.run(t)

	gate := env.stub.GateContent([]byte("slow"))
	release := sync.OnceFunc(func() { close(gate) })
	defer release()
	env.write(t, "slow.jpg", "slow")

	var (
		report *model.IngestReport
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		report, runErr = env.pl.Run(context.Background())
	}()
	require.Eventually(t, func() bool {
		return env.pl.Status().State == model.IngestStateEmbedding
	}, 5*time.Second, 10*time.Millisecond)

	// Queries still see the previous snapshot until the run publishes.
	require.Equal(t, 1, env.holder.Load().Paths())

	_, err := env.pl.Run(context.Background())
	require.ErrorIs(t, err, appErr.ErrIngestRunning)

	release()
	<-done
	require.NoError(t, runErr)
	require.Equal(t, 2, report.Paths)
	require.Equal(t, 2, env.holder.Load().Paths())
	require.False(t, env.pl.Status().Running)
}

func TestPipelineCancelledRunKeepsOldState(t *testing.T) {
	env := newPipelineEnv(t)
	env.write(t, "a.jpg", "keep")
	env.run(t)

	gate := env.stub.GateContent([]byte("pending"))
	release := sync.OnceFunc(func() { close(gate) })
	defer release()
	env.write(t, "b.jpg", "pending")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, runErr = env.pl.Run(ctx)
	}()
	require.Eventually(t, func() bool {
		return env.pl.Status().State == model.IngestStateEmbedding
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	release()
	<-done
	require.ErrorIs(t, runErr, context.Canceled)
	require.Equal(t, 1, env.holder.Load().Paths())
	nImages, err := env.images.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), nImages)

	report := env.run(t)
	require.Equal(t, 1, report.Added)
	require.Equal(t, 2, env.holder.Load().Paths())
}

func TestPipelineModelSwitchReembeds(t *testing.T) {
	env := newPipelineEnv(t)
	env.write(t, "a.jpg", "red")
	env.run(t)
	require.Equal(t, "stub-v1", env.holder.Load().ModelVersion())

	stub2 := testutil.NewStubEmbedder("stub-v2", 8)
	pl2 := env.pipelineFor(stub2)
	report, err := pl2.Run(context.Background())
	require.NoError(t, err)

	// The file itself is unchanged, but the new model has no cache row for
	// its digest yet.
	require.Equal(t, 1, report.Unchanged)
	require.Equal(t, 1, report.Embedded)
	require.Equal(t, 0, report.Reused)
	require.Equal(t, 1, stub2.ImageCalls())
	require.Equal(t, "stub-v2", env.holder.Load().ModelVersion())

	nCache, err := env.cache.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), nCache)
}

func TestPipelineMultiSourceNamespace(t *testing.T) {
	db, driver := testutil.OpenSQLiteTestDB(t)
	rootA := t.TempDir()
	rootB := t.TempDir()
	sources, err := ingest.BuildSources(context.Background(), []config.SourceConfig{
		{Name: "photos", Type: storage.TypeLocal, Args: map[string]interface{}{"root": rootA}},
		{Name: "scans", Type: storage.TypeLocal, Args: map[string]interface{}{"root": rootB}},
	}, []string{"jpg"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(rootA, "x.jpg"), []byte("shared"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(rootB, "y.jpg"), []byte("shared"), 0o644))

	images := repo.NewImageRepo(db, driver)
	cache := repo.NewEmbeddingCacheRepo(db, driver)
	stub := testutil.NewStubEmbedder("stub-v1", 8)
	holder := index.NewHolder(nil)
	pl := ingest.New(sources, images, cache, embedcache.WrapDBCacheToEmbedder(stub, cache), holder, 2)

	report, err := pl.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Listed)
	require.Equal(t, 2, report.Added)
	require.Equal(t, 1, report.Embedded)
	require.Equal(t, 1, report.Digests)
	require.Equal(t, 2, report.Paths)

	// Identical bytes in different sources share one digest entry.
	snap := holder.Load()
	digX, ok := snap.DigestByPath("photos/x.jpg")
	require.True(t, ok)
	digY, ok := snap.DigestByPath("scans/y.jpg")
	require.True(t, ok)
	require.Equal(t, digX, digY)
}

func TestLoadSnapshotWarmStart(t *testing.T) {
	env := newPipelineEnv(t)
	env.write(t, "a.jpg", "red")
	env.write(t, "b.jpg", "blue")
	env.run(t)

	ctx := context.Background()
	snap, err := ingest.LoadSnapshot(ctx, env.images, env.cache, "stub-v1")
	require.NoError(t, err)
	require.Equal(t, 2, snap.Digests())
	require.Equal(t, 2, snap.Paths())
	vec, ok := snap.VectorByPath("photos/a.jpg")
	require.True(t, ok)
	require.Equal(t, env.stub.Vector([]byte("red")), vec)

	// Rows without a cache entry under the requested model are left out and
	// picked up again by the next ingest run.
	snap, err = ingest.LoadSnapshot(ctx, env.images, env.cache, "stub-v9")
	require.NoError(t, err)
	require.Equal(t, 0, snap.Paths())
}
