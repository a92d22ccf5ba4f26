// Package resilience provides the health-tracking state machine used by
// ServerInstance and a generic retry helper for outbound HTTP calls.
package resilience

import (
	"context"

	"go.opentelemetry.io/otel"
)

// HealthStatus mirrors ServerRuntimeState.status from the data model.
type HealthStatus string

const (
	StatusInitializing HealthStatus = "initializing"
	StatusOnline        HealthStatus = "online"
	StatusDegraded      HealthStatus = "degraded"
	StatusOffline        HealthStatus = "offline"
	StatusMaintenance    HealthStatus = "maintenance"
)

const (
	minHealthScore = 0
	maxHealthScore = 100
	scoreGain      = 5
	scoreLoss      = 10

	degradedToOnlineSuccesses = 3
	onlineToOfflineFailures   = 3
)

// HealthTracker implements the exact deterministic health loop of spec
// section 4.2: score saturating at 0/100, consecutive counters gating the
// degraded/online/offline transitions, and an adaptive check interval
// bounded by [minInterval, maxInterval].
//
// This intentionally does not reuse the adaptive EMA-threshold circuit
// breaker shape from the teacher's sliding-window breaker: the spec's
// numbers are exact and must not drift.
type HealthTracker struct {
	status HealthStatus

	score int

	consecutiveFailures int
	consecutiveSuccesses int

	interval    int64 // milliseconds
	minInterval int64
	maxInterval int64

	serverID string
}

// NewHealthTracker starts a tracker in the initializing state with the
// interval floor as its first check interval.
func NewHealthTracker(serverID string, minIntervalMs, maxIntervalMs int64) *HealthTracker {
	return &HealthTracker{
		status:      StatusInitializing,
		score:       100,
		interval:    minIntervalMs,
		minInterval: minIntervalMs,
		maxInterval: maxIntervalMs,
		serverID:    serverID,
	}
}

// MarkOnline transitions out of initializing, used by ServerInstance.initialize.
func (h *HealthTracker) MarkOnline() {
	h.status = StatusOnline
}

// RecordSuccess applies the successful-check transition rules and returns
// the resulting status and next check interval.
func (h *HealthTracker) RecordSuccess() (HealthStatus, int64) {
	h.consecutiveFailures = 0
	h.consecutiveSuccesses++

	h.score += scoreGain
	if h.score > maxHealthScore {
		h.score = maxHealthScore
	}

	if h.status == StatusDegraded && h.consecutiveSuccesses >= degradedToOnlineSuccesses {
		h.status = StatusOnline
	}

	h.interval = scaleInterval(h.interval, 1.2, h.minInterval, h.maxInterval)
	h.emitTransitionMetric("health_check_success")
	return h.status, h.interval
}

// RecordFailure applies the failed-check transition rules and returns the
// resulting status and next check interval.
func (h *HealthTracker) RecordFailure() (HealthStatus, int64) {
	h.consecutiveSuccesses = 0
	h.consecutiveFailures++

	h.score -= scoreLoss
	if h.score < minHealthScore {
		h.score = minHealthScore
	}

	switch {
	case h.consecutiveFailures >= onlineToOfflineFailures:
		h.status = StatusOffline
	case h.consecutiveFailures >= 1:
		h.status = StatusDegraded
	}

	h.interval = scaleInterval(h.interval, 1.0/1.5, h.minInterval, h.maxInterval)
	h.emitTransitionMetric("health_check_failure")
	return h.status, h.interval
}

// SetMaintenance and ClearMaintenance implement the explicit maintenance
// toggle, independent of the health-check counters.
func (h *HealthTracker) SetMaintenance() { h.status = StatusMaintenance }
func (h *HealthTracker) ClearMaintenance() {
	if h.status == StatusMaintenance {
		h.status = StatusOnline
	}
}

func (h *HealthTracker) SetOffline() { h.status = StatusOffline }

func (h *HealthTracker) Status() HealthStatus { return h.status }
func (h *HealthTracker) Score() int           { return h.score }
func (h *HealthTracker) Interval() int64      { return h.interval }

func scaleInterval(current int64, factor float64, min, max int64) int64 {
	scaled := int64(float64(current) * factor)
	if scaled < min {
		return min
	}
	if scaled > max {
		return max
	}
	return scaled
}

func (h *HealthTracker) emitTransitionMetric(event string) {
	meter := otel.GetMeterProvider().Meter("swarmguard-gateway")
	counter, _ := meter.Int64Counter("gateway_server_health_transitions_total")
	counter.Add(context.Background(), 1)
	_ = event // event kind is carried in the audit log, not as a metric label, to keep cardinality low
}
