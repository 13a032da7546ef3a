package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/loadgen/internal/observability"
	"github.com/odyssey-erp/loadgen/internal/platform/httpx"
)

func newTestRouter(t *testing.T) (http.Handler, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics()
	return NewRouter(RouterParams{Config: &Config{}, Metrics: metrics}), metrics
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestRouterHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := serve(router, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestRouterProgress(t *testing.T) {
	router, metrics := newTestRouter(t)

	rr := serve(router, http.MethodGet, "/progress")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	metrics.WorkerStarted(2, "20240101_000000_1_2")
	metrics.WorkerStarted(1, "20240101_000000_1_1")
	require.NoError(t, metrics.Track("array", 1).End(observability.IterationStats{Records: 80}, nil))
	metrics.WorkerFinished(2, errors.New("connection refused"))

	rr = serve(router, http.MethodGet, "/progress")
	require.Equal(t, http.StatusOK, rr.Code)
	var workers []observability.WorkerProgress
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &workers))
	require.Len(t, workers, 2)
	assert.Equal(t, 1, workers[0].Thread)
	assert.Equal(t, 80, workers[0].Records)
	assert.Equal(t, "failed", workers[1].State)
	assert.Equal(t, "connection refused", workers[1].Error)

	rr = serve(router, http.MethodGet, "/progress/1")
	require.Equal(t, http.StatusOK, rr.Code)
	var one observability.WorkerProgress
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &one))
	assert.Equal(t, "20240101_000000_1_1", one.RunID)

	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/progress/9").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/progress/first").Code)
}

func TestRouterMetricsAndFallbacks(t *testing.T) {
	router, _ := newTestRouter(t)

	serve(router, http.MethodGet, "/healthz")
	rr := serve(router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `loadgen_http_requests_total{code="200",route="/healthz"} 1`)

	rr = serve(router, http.MethodGet, "/nowhere")
	require.Equal(t, http.StatusNotFound, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "/nowhere", problem.Detail)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(router, http.MethodPost, "/healthz").Code)
}

func TestRouterWithoutMetrics(t *testing.T) {
	router := NewRouter(RouterParams{})

	assert.Equal(t, http.StatusServiceUnavailable, serve(router, http.MethodGet, "/metrics").Code)
	rr := serve(router, http.MethodGet, "/progress")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestStatusServerLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)
	cfg := &Config{MetricsAddr: "127.0.0.1:0", MetricsReadTimeout: time.Second, MetricsWriteTimeout: time.Second}

	server, err := StartStatusServer(cfg, router, nil)
	require.NoError(t, err)

	resp, err := http.Get("http://" + server.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))
}

func TestStatusServerBindFailure(t *testing.T) {
	_, err := StartStatusServer(&Config{MetricsAddr: "256.0.0.1:bad"}, http.NotFoundHandler(), nil)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "app: listen"))
}
