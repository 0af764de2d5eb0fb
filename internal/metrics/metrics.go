package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	GateDecision = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_gate_decision_total",
			Help: "Count of authentication gate decisions (allow/deny)",
		},
		[]string{"action"},
	)
	LoginOutcome = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_login_outcome_total",
			Help: "Login attempts by outcome reason",
		},
		[]string{"reason"},
	)
	ForwardedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_forwarded_requests_total",
			Help: "Requests relayed to an upstream, by target and method",
		},
		[]string{"target", "method"},
	)
	ForwardErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_forward_errors_total",
			Help: "Forwarding failures by target and error type",
		},
		[]string{"target", "error_type"},
	)
	ForwardDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authgate_forward_duration_seconds",
			Help:    "Latency of upstream forwards",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"target"},
	)
	SessionsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "authgate_sessions_evicted_total",
			Help: "Idle sessions removed by the store janitor",
		},
	)
	BuildInfo = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "authgate_build_info",
			Help:        "Build info gauge with const labels",
			ConstLabels: prometheus.Labels{"version": "0.1.0"},
		},
	)
)

func MustRegister() {
	prometheus.MustRegister(GateDecision, LoginOutcome, ForwardedRequests, ForwardErrors, ForwardDuration, SessionsEvicted, BuildInfo)
}
