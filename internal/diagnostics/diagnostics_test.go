package diagnostics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	core "github.com/atomrun/kernel/internal/app/core/service"
	"github.com/atomrun/kernel/internal/app/metrics"
)

func TestHealthzOKWithNoPinger(t *testing.T) {
	r := Router(metrics.New(), nil, func() []core.Descriptor { return nil })
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsServesPrometheusFormat(t *testing.T) {
	m := metrics.New()
	// Labeled vectors expose no samples until a child exists; record one
	// dispatch so the registry has something to serve.
	m.ExecutionHooks().OnComplete(context.Background(), nil, nil, time.Millisecond)
	r := Router(m, nil, func() []core.Descriptor { return nil })
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "taskrun_")
}

func TestDescriptorsReturnsJSONArray(t *testing.T) {
	r := Router(metrics.New(), nil, func() []core.Descriptor {
		return []core.Descriptor{{Name: "execution-engine", Layer: core.LayerEngine}}
	})
	req := httptest.NewRequest(http.MethodGet, "/descriptors", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "execution-engine")
}
