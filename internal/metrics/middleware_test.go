package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/sources/{source_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/proposals/{proposal_id}/approve", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	conflictBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "409"))
	seriesBefore := testutil.CollectAndCount(httpRequestDurationSeconds)

	for _, target := range []string{"/v1/sources/1", "/v1/sources/2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/proposals/abc/approve", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	assert.InDelta(t, okBefore+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")), 0)
	assert.InDelta(t, conflictBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "409")), 0)
	// Both GETs land in one series: the label is the pattern, not the path.
	assert.Equal(t, seriesBefore+2, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestMiddlewareUnknownRoute(t *testing.T) {
	Init()
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.CollectAndCount(httpRequestDurationSeconds)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/whatever", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("DELETE", "418")), 0)
	assert.Equal(t, before+1, testutil.CollectAndCount(httpRequestDurationSeconds))
}
