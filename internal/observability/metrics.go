package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "xspressctl"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Control requests by endpoint, command and outcome.",
		},
		[]string{"endpoint", "command", "outcome"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Control request round-trip time in seconds.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 20},
		},
		[]string{"endpoint", "command", "outcome"},
	)
	rpcDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "dropped_replies_total",
			Help:      "Replies dropped as malformed or uncorrelated.",
		},
		[]string{"endpoint", "reason"},
	)
	pollRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "runs_total",
			Help:      "Periodic job executions by job and result.",
		},
		[]string{"job", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, rpcRequests, rpcDuration, rpcDropped, pollRuns)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordRPC counts one send_recv. outcome is ack, nack, timeout or error.
func RecordRPC(endpoint, command, outcome string, duration time.Duration) {
	RegisterMetrics()
	rpcRequests.WithLabelValues(endpoint, command, outcome).Inc()
	rpcDuration.WithLabelValues(endpoint, command, outcome).Observe(duration.Seconds())
}

func RecordDroppedReply(endpoint, reason string) {
	RegisterMetrics()
	rpcDropped.WithLabelValues(endpoint, reason).Inc()
}

func RecordPoll(job string, success bool) {
	RegisterMetrics()
	pollRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
}
