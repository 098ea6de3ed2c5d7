package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MetricRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "honeyguard", Name: "requests_total", Help: "Number of requests seen by the honeypot"},
		[]string{"endpoint"},
	)
	MetricAttacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "honeyguard", Name: "attacks_total", Help: "Number of detected attacks"},
		[]string{"type", "risk"},
	)
	MetricPollTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "honeyguard", Name: "poll_total", Help: "Dashboard polls by resource and outcome"},
		[]string{"resource", "result"},
	)
	MetricHttpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "honeyguard",
			Name:      "http_duration_seconds",
			Help:      "Latency of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
	MetricRedisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "honeyguard",
			Name:      "redis_op_duration_seconds",
			Help:      "Latency of Redis operations in seconds",
			Buckets:   []float64{.001, .002, .005, .01, .02, .05, .1},
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(MetricRequestsTotal)
	prometheus.MustRegister(MetricAttacksTotal)
	prometheus.MustRegister(MetricPollTotal)
	prometheus.MustRegister(MetricHttpDuration)
	prometheus.MustRegister(MetricRedisDuration)
}
