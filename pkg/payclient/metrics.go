package payclient

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payclient_auth_attempts_total",
			Help: "Client-credentials exchanges by endpoint family and result",
		},
		[]string{"family", "result"},
	)

	persistFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payclient_token_persist_failures_total",
			Help: "Token records that could not be written to the store",
		},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payclient_requests_total",
			Help: "Outbound API requests by endpoint family, method and status class",
		},
		[]string{"family", "method", "status_class"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payclient_request_duration_seconds",
			Help:    "Outbound API request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"family", "method"},
	)
)

// statusClass buckets a status code as "2xx", "4xx", ... and uses "error"
// when no response was received.
func statusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}
