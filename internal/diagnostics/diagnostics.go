// Package diagnostics exposes a small operator-facing HTTP surface:
// /healthz (store reachability), /metrics (Prometheus) and /descriptors (a
// JSON dump of every managed service's core.Descriptor). The task-submission
// API is a separate caller of the kernel and does not live here.
package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	core "github.com/atomrun/kernel/internal/app/core/service"
	"github.com/atomrun/kernel/internal/app/metrics"
)

// Pinger is implemented by a storage backend that can verify reachability
// (e.g. *sql.DB.PingContext). In-memory stores are always healthy.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Router builds the diagnostics mux.
func Router(m *metrics.Metrics, store Pinger, descriptors func() []core.Descriptor) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
		defer cancel()

		if store != nil {
			if err := store.PingContext(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}

	r.Get("/descriptors", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(descriptors())
	})

	return r
}
