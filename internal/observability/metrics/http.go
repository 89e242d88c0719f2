package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	httpRequests = newCounterVec("zkrebalance_http_requests_total",
		"Total number of HTTP requests processed.",
		"handler", "method", "code")
	httpErrors = newCounterVec("zkrebalance_http_request_errors_total",
		"Total number of HTTP requests that resulted in a server error.",
		"handler", "method")
	httpLatency = newHistogramVec("zkrebalance_http_request_duration_seconds",
		"HTTP request duration in seconds.",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		"handler", "method")
)

// registry fixes the order instrument families appear in on /metrics.
var registry = []renderer{
	httpRequests,
	httpErrors,
	httpLatency,
	runOutcomes,
	validationVerdicts,
	validationScores,
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.inc(handler, method, strconv.Itoa(status))
	if status >= 500 {
		httpErrors.inc(handler, method)
	}
	httpLatency.observe(duration.Seconds(), handler, method)
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		var b strings.Builder
		b.Grow(2048)
		for _, instrument := range registry {
			instrument.render(&b)
		}
		_, _ = w.Write([]byte(b.String()))
	})
}
