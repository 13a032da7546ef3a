package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/loadgen/internal/observability"
	"github.com/odyssey-erp/loadgen/internal/platform/httpx"
	"github.com/odyssey-erp/loadgen/internal/shared"
)

// RouterParams groups dependencies for building the status router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// NewRouter exposes /healthz, /metrics and the live worker table under
// /progress.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" "+r.URL.Path)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	progress := params.Metrics.Progress()
	r.Get("/progress", func(w http.ResponseWriter, r *http.Request) {
		workers := progress.Snapshot()
		if workers == nil {
			workers = []observability.WorkerProgress{}
		}
		httpx.JSON(w, http.StatusOK, workers)
	})
	r.Get("/progress/{thread}", func(w http.ResponseWriter, r *http.Request) {
		thread, err := strconv.Atoi(chi.URLParam(r, "thread"))
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: thread must be an integer", shared.ErrConfiguration))
			return
		}
		for _, worker := range progress.Snapshot() {
			if worker.Thread == thread {
				httpx.JSON(w, http.StatusOK, worker)
				return
			}
		}
		httpx.RespondError(w, fmt.Errorf("worker %d: %w", thread, httpx.ErrNotFound))
	})

	return r
}
