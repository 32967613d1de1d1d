// Package stats exports runner, instance, and control-plane counters and
// gauges via github.com/prometheus/client_golang, a direct teacher
// dependency. Grounded on the shape of the teacher's coreStats tracker (one
// registry, named counters/gauges, a thin wrapper api) without its
// StatsD/Prometheus build-tag duality — this repo only ever runs in the
// Prometheus configuration.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Tracker is the set of metrics one daemon process registers.
type Tracker struct {
	Iterations       *prometheus.CounterVec
	IterationErrors  *prometheus.CounterVec
	IterationLatency *prometheus.HistogramVec
	RunnerState      *prometheus.GaugeVec
	InstancesByPhase *prometheus.GaugeVec
	FanOutRequests   *prometheus.CounterVec
	FanOutPeerErrs   *prometheus.CounterVec
	ControlRequests  *prometheus.CounterVec
}

// New registers every metric against registry and returns the tracker.
// cmd/zenohd passes its own prometheus.NewRegistry(), which it also serves
// on /metrics.
func New(reg prometheus.Registerer) *Tracker {
	t := &Tracker{
		Iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zenohd",
			Name:      "node_iterations_total",
			Help:      "Total node iteration calls, by node id.",
		}, []string{"node"}),
		IterationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zenohd",
			Name:      "node_iteration_errors_total",
			Help:      "Total failed node iteration calls, by node id.",
		}, []string{"node"}),
		IterationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zenohd",
			Name:      "node_iteration_seconds",
			Help:      "Node iteration wall time, measured with the monotonic clock, by node id.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"}),
		RunnerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zenohd",
			Name:      "runner_state",
			Help:      "Current runner state (0=Idle,1=Running,2=Failed), by node id.",
		}, []string{"node"}),
		InstancesByPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zenohd",
			Name:      "instances",
			Help:      "Number of instances currently in each lifecycle phase.",
		}, []string{"phase"}),
		FanOutRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zenohd",
			Name:      "fanout_requests_total",
			Help:      "Total orchestration fan-out requests issued, by request type.",
		}, []string{"type"}),
		FanOutPeerErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zenohd",
			Name:      "fanout_peer_errors_total",
			Help:      "Total fan-out peer errors, by error kind.",
		}, []string{"kind"}),
		ControlRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zenohd",
			Name:      "control_requests_total",
			Help:      "Total control-plane requests handled, by selector and request type.",
		}, []string{"selector", "type"}),
	}
	reg.MustRegister(
		t.Iterations, t.IterationErrors, t.IterationLatency, t.RunnerState, t.InstancesByPhase,
		t.FanOutRequests, t.FanOutPeerErrs, t.ControlRequests,
	)
	return t
}

// IterationOK, IterationErr, ObserveIterationLatency, and SetState satisfy
// package runner's Metrics collaborator interface.
func (t *Tracker) IterationOK(node string)  { t.Iterations.WithLabelValues(node).Inc() }
func (t *Tracker) IterationErr(node string) { t.IterationErrors.WithLabelValues(node).Inc() }
func (t *Tracker) ObserveIterationLatency(node string, seconds float64) {
	t.IterationLatency.WithLabelValues(node).Observe(seconds)
}
func (t *Tracker) SetState(node string, state int) {
	t.RunnerState.WithLabelValues(node).Set(float64(state))
}

// IncPhase and DecPhase track package runtime's instance phase transitions.
func (t *Tracker) IncPhase(phase string) { t.InstancesByPhase.WithLabelValues(phase).Inc() }
func (t *Tracker) DecPhase(phase string) { t.InstancesByPhase.WithLabelValues(phase).Dec() }

// IncFanOutRequest and IncFanOutPeerErr are called from package orch around
// each peer replication attempt.
func (t *Tracker) IncFanOutRequest(typ string) { t.FanOutRequests.WithLabelValues(typ).Inc() }
func (t *Tracker) IncFanOutPeerErr(kind string) { t.FanOutPeerErrs.WithLabelValues(kind).Inc() }

// IncControlRequest is called from package control once per decoded
// queryable request.
func (t *Tracker) IncControlRequest(selector, typ string) {
	t.ControlRequests.WithLabelValues(selector, typ).Inc()
}
