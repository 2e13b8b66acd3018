package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newMetricsRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(Middleware("user", "post"))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/collections/{collection}", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "collection") == "ghost" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte("ok"))
		})
		r.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
	})
	return r
}

func TestMiddleware_LabelsRouteAndCollection(t *testing.T) {
	r := newMetricsRouter()

	tests := []struct {
		method     string
		path       string
		route      string
		collection string
		code       string
	}{
		{"GET", "/health", "/health", "", "200"},
		{"GET", "/collections/user/status", "/collections/{collection}/status", "user", "200"},
		{"POST", "/collections/post/sync", "/collections/{collection}/sync", "post", "202"},
		{"GET", "/collections/ghost/status", "/collections/{collection}/status", "other", "404"},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			counter := APIRequestsTotal.WithLabelValues(tc.method, tc.route, tc.collection, tc.code)
			before := testutil.ToFloat64(counter)

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, http.NoBody))

			if got := testutil.ToFloat64(counter) - before; got != 1 {
				t.Errorf("Expected one request counted, got %f", got)
			}
		})
	}

	if testutil.CollectAndCount(APIRequestDuration) == 0 {
		t.Error("Expected request durations to be observed")
	}
	if got := testutil.ToFloat64(APIRequestsInFlight); got != 0 {
		t.Errorf("Expected no requests in flight, got %f", got)
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	r := newMetricsRouter()
	counter := APIRequestsTotal.WithLabelValues("GET", "unknown", "", "404")
	before := testutil.ToFloat64(counter)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/nowhere", http.NoBody))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("Expected unmatched request under the unknown route, got %f", got)
	}
}

func TestCollectionLabel(t *testing.T) {
	known := map[string]struct{}{"user": {}}
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"user", "user"},
		{"ghost", "other"},
	}

	for _, tc := range tests {
		if got := collectionLabel(tc.input, known); got != tc.expected {
			t.Errorf("collectionLabel(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}
