package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/imgidx/internal/model"
)

func TestStatsEndpoint(t *testing.T) {
	router, env := setupRouter(t)
	ingestFixtures(t, env)

	resp := doRequest(t, router, http.MethodGet, "/api/v1/stats", "")
	var stats model.IndexStats
	require.Equal(t, 0, decodeEnvelope(t, resp, &stats))
	require.Equal(t, 2, stats.Digests)
	require.Equal(t, 3, stats.Paths)
	require.Equal(t, "stub-v1", stats.ModelVersion)
	require.Equal(t, int64(3), stats.ImageRows)
	require.Equal(t, int64(2), stats.CachedVecs)
}

func TestHealthzEndpoint(t *testing.T) {
	router, _ := setupRouter(t)

	resp := doRequest(t, router, http.MethodGet, "/api/v1/healthz", "")
	var data struct {
		Status string `json:"status"`
	}
	require.Equal(t, 0, decodeEnvelope(t, resp, &data))
	require.Equal(t, "ok", data.Status)
	require.NotEmpty(t, resp.Header().Get("X-Request-Id"))
}

func TestRequestIDPassthrough(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil)
	req.Header.Set("X-Request-Id", "fixed-id-123")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "fixed-id-123", resp.Header().Get("X-Request-Id"))
}
