package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics())
	r.Get("/things/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	matched := httpRequestsTotal.WithLabelValues(http.MethodGet, "/things/{name}", "202")
	unmatched := httpRequestsTotal.WithLabelValues(http.MethodGet, unmatchedPath, "404")
	matchedBefore := testutil.ToFloat64(matched)
	unmatchedBefore := testutil.ToFloat64(unmatched)

	for _, path := range []string{"/things/a", "/things/b", "/nothing-here"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, 2, testutil.ToFloat64(matched)-matchedBefore, 0, "raw path has to be folded into route pattern")
	require.InDelta(t, 1, testutil.ToFloat64(unmatched)-unmatchedBefore, 0)
}
