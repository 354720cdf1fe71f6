// services/metrics.go
package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry holds the service's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "light_mint",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "light_mint",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	mintTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "light_mint",
			Subsystem: "mint",
			Name:      "transitions_total",
			Help:      "Mint request state transitions by target status.",
		},
		[]string{"status"},
	)

	mintedAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "light_mint",
			Subsystem: "mint",
			Name:      "confirmed_amount_total",
			Help:      "Whole tokens confirmed on-chain.",
		},
	)

	capRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "light_mint",
			Subsystem: "epoch",
			Name:      "capacity_rejections_total",
			Help:      "Mint requests refused for lack of capacity.",
		},
		[]string{"scope"},
	)

	actionsScored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "light_mint",
			Subsystem: "ledger",
			Name:      "actions_total",
			Help:      "Evaluated light actions by outcome.",
		},
		[]string{"outcome"},
	)

	fraudSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "light_mint",
			Subsystem: "fraud",
			Name:      "signals_total",
			Help:      "Fraud signals raised by type.",
		},
		[]string{"type"},
	)

	gateDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "light_mint",
			Subsystem: "fraud",
			Name:      "gate_denials_total",
			Help:      "Mint and claim attempts refused by the account gate.",
		},
		[]string{"reason"},
	)

	bans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "light_mint",
			Subsystem: "containment",
			Name:      "bans_total",
			Help:      "Ban cascade outcomes per user.",
		},
		[]string{"result"},
	)

	externalCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "light_mint",
			Subsystem: "external",
			Name:      "call_duration_seconds",
			Help:      "Duration of relay, RPC and scoring calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"service", "success"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests, httpDuration,
		mintTransitions, mintedAmount, capRejections,
		actionsScored, fraudSignals, gateDenials, bans, externalCalls,
	)
}

// RecordHTTPRequest is called by the metrics middleware after each request.
func RecordHTTPRequest(method, route, status string, seconds float64) {
	httpRequests.WithLabelValues(method, route, status).Inc()
	httpDuration.WithLabelValues(method, route).Observe(seconds)
}

func observeExternal(service string, ok bool, seconds float64) {
	label := "false"
	if ok {
		label = "true"
	}
	externalCalls.WithLabelValues(service, label).Observe(seconds)
}
