package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// otherCollection labels requests naming a collection that is not configured.
const otherCollection = "other"

// API request metrics, labelled by chi route pattern and configured collection.
var (
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"method", "route", "collection"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests by response code",
		},
		[]string{"method", "route", "collection", "code"},
	)

	APIRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of API requests being served",
		},
	)
)

func init() {
	prometheus.MustRegister(APIRequestDuration, APIRequestsTotal, APIRequestsInFlight)
}

// Middleware records API requests. Only the given collection names are used
// as label values, anything else under {collection} counts as "other".
func Middleware(collections ...string) func(next http.Handler) http.Handler {
	known := make(map[string]struct{}, len(collections))
	for _, name := range collections {
		known[name] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			APIRequestsInFlight.Inc()
			defer APIRequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route, collection := "unknown", ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = routeLabel(rctx.RoutePattern())
				collection = collectionLabel(rctx.URLParam("collection"), known)
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			APIRequestDuration.WithLabelValues(r.Method, route, collection).Observe(time.Since(start).Seconds())
			APIRequestsTotal.WithLabelValues(r.Method, route, collection, strconv.Itoa(status)).Inc()
		})
	}
}

func routeLabel(pattern string) string {
	if pattern == "" {
		return "unknown"
	}
	return pattern
}

func collectionLabel(name string, known map[string]struct{}) string {
	if name == "" {
		return ""
	}
	if _, ok := known[name]; ok {
		return name
	}
	return otherCollection
}
