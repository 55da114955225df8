// Package telemetry exposes Prometheus instrumentation for the control
// plane.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ApplyAttempts counts apply attempts, successful or not.
	ApplyAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tunnelctl",
		Name:      "apply_attempts_total",
		Help:      "Number of tunnel apply attempts.",
	})

	// ApplyFailures counts applies that ended in an error status.
	ApplyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tunnelctl",
		Name:      "apply_failures_total",
		Help:      "Number of tunnel apply attempts that failed.",
	})

	// QuotaBreaches counts quota enforcement shutoffs.
	QuotaBreaches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tunnelctl",
		Name:      "quota_breaches_total",
		Help:      "Number of tunnels shut off for exceeding quota.",
	})

	// NodesActive tracks currently active nodes.
	NodesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tunnelctl",
		Name:      "nodes_active",
		Help:      "Number of nodes inside the liveness window.",
	})

	// TunnelsActive tracks tunnels in active status.
	TunnelsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tunnelctl",
		Name:      "tunnels_active",
		Help:      "Number of tunnels in active status.",
	})
)
