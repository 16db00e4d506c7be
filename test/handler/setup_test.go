package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/imgidx/internal/config"
	"github.com/xxxsen/imgidx/internal/embedcache"
	"github.com/xxxsen/imgidx/internal/handler"
	"github.com/xxxsen/imgidx/internal/index"
	"github.com/xxxsen/imgidx/internal/ingest"
	"github.com/xxxsen/imgidx/internal/middleware"
	"github.com/xxxsen/imgidx/internal/repo"
	"github.com/xxxsen/imgidx/internal/service"
	"github.com/xxxsen/imgidx/internal/storage"
	"github.com/xxxsen/imgidx/test/testutil"
)

type routerEnv struct {
	root     string
	stub     *testutil.StubEmbedder
	images   *repo.ImageRepo
	cache    *repo.EmbeddingCacheRepo
	holder   *index.Holder
	pipeline *ingest.Pipeline
}

func (e *routerEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	full := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

// setupRouter wires the full HTTP stack over a throwaway sqlite database, a
// temp image root and the stub embedder, the same way the app assembles it.
func setupRouter(t *testing.T) (http.Handler, *routerEnv) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, driver := testutil.OpenSQLiteTestDB(t)
	env := &routerEnv{
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

	embedder := embedcache.WrapDBCacheToEmbedder(env.stub, env.cache)
	env.pipeline = ingest.New(sources, env.images, env.cache, embedder, env.holder, 2)
	search := service.NewSearchService(env.holder, embedder, env.images, env.cache,
		config.SearchConfig{DefaultTopK: 10, MaxTopK: 50, MinScore: 0},
		config.ClusterConfig{MinClusterSize: 2, NeighborhoodRadius: 0.05})

	deps := handler.RouterDeps{
		Search:   handler.NewSearchHandler(search),
		Clusters: handler.NewClusterHandler(search),
		Ingest:   handler.NewIngestHandler(env.pipeline),
		Stats:    handler.NewStatsHandler(search),
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	return engine, env
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	return resp
}

// decodeEnvelope unpacks the {code, msg, data} envelope, filling data into
// out when given, and returns the business code.
func decodeEnvelope(t *testing.T, resp *httptest.ResponseRecorder, out interface{}) int {
	t.Helper()
	var envelope struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	if out != nil && len(envelope.Data) > 0 {
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
	return envelope.Code
}
