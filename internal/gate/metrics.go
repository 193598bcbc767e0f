// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import "github.com/prometheus/client_golang/prometheus"

// GateDecisions counts gate verdicts.
// Use RegisterMetrics to register this with a Prometheus registry.
var GateDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_gate_decisions_total",
		Help: "Total number of request gate decisions",
	},
	[]string{"mode", "outcome"},
)

// RegisterMetrics registers gate metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(GateDecisions)
}

// RecordDecision increments the decision counter.
func RecordDecision(mode Mode, outcome Outcome) {
	label := string(mode)
	if mode == ModeDisabled {
		label = "disabled"
	}
	GateDecisions.WithLabelValues(label, outcome.String()).Inc()
}
