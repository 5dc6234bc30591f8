package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailvault_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mailvault_http_request_duration_ms",
		Help:    "HTTP request latency in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"method", "route"})
)

// RegisterHTTP registers the HTTP metrics on the given registry (or the
// default if nil).
func RegisterHTTP(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{HTTPRequests, HTTPDuration} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// InstrumentHTTP observes counts and latency per route. The route label is
// the registered pattern, not the raw path, to keep cardinality bounded.
func InstrumentHTTP(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		HTTPDuration.WithLabelValues(r.Method, route).Observe(float64(time.Since(start).Milliseconds()))
	})
}
