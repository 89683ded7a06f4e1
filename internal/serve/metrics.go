package serve

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsNamespace is the Prometheus namespace for the file server.
const metricsNamespace = "berth"

// metrics holds the Prometheus metrics for one server instance. Each
// server carries its own registry so spawning several instances in one
// process never trips duplicate registration.
type metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	bytesServed     prometheus.Counter
}

func newMetrics(registry *prometheus.Registry) *metrics {
	factory := promauto.With(registry)

	return &metrics{
		registry: registry,

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests served",
		}, []string{"code"}),

		requestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		bytesServed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_served_total",
			Help:      "Total number of response body bytes served",
		}),
	}
}

// middleware records request count by status code, duration, and bytes
// served.
func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
		m.requestDuration.Observe(time.Since(start).Seconds())
		m.bytesServed.Add(float64(ww.BytesWritten()))
	})
}
