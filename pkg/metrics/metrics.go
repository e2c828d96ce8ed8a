// Package metrics holds the scheduler's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	modeSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thinkgate_mode_selections_total",
		Help: "Mode decisions by selected mode",
	}, []string{"mode"})

	budgetTiers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thinkgate_budget_allocations_total",
		Help: "Budget allocations by tier and whether the minimal fallback was used",
	}, []string{"tier", "fallback"})

	budgetTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "thinkgate_budget_total_tokens",
		Help:    "Total tokens allocated per request",
		Buckets: []float64{750, 1000, 1500, 2000, 2750, 3500, 4250},
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "thinkgate_sessions_active",
		Help: "Sessions currently reasoning",
	})

	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thinkgate_sessions_finished_total",
		Help: "Finished sessions by terminal status and error kind",
	}, []string{"status", "kind", "degraded"})

	sessionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thinkgate_sessions_rejected_total",
		Help: "Sessions refused because the dispatcher was at capacity",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "thinkgate_session_duration_seconds",
		Help:    "Wall time from session start to terminal event",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	chainSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "thinkgate_chain_steps",
		Help:    "Reasoning steps per sealed chain",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 7, 10},
	})

	tokensUsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thinkgate_reasoning_tokens_used_total",
		Help: "Reasoning tokens consumed across sessions",
	})

	generationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thinkgate_generation_failures_total",
		Help: "Failed step generation attempts, including retries",
	})

	stepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thinkgate_step_errors_total",
		Help: "Step generation failures by class",
	}, []string{"class"})

	sinkWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thinkgate_sink_writes_total",
		Help: "Session sink writes by result",
	}, []string{"result"})
)

// ObserveDecision records a mode decision and its budget.
func ObserveDecision(mode, tier string, totalTokens int, fallback bool) {
	modeSelections.WithLabelValues(mode).Inc()
	budgetTiers.WithLabelValues(tier, boolLabel(fallback)).Inc()
	budgetTokens.Observe(float64(totalTokens))
}

// SessionStarted marks a session as in flight.
func SessionStarted() {
	sessionsActive.Inc()
}

// SessionRejected counts an admission refusal.
func SessionRejected() {
	sessionsRejected.Inc()
}

// SessionFinished records a terminal session.
func SessionFinished(status, kind string, degraded bool, elapsed time.Duration, steps, tokens, failures int) {
	sessionsActive.Dec()
	sessionsFinished.WithLabelValues(status, kind, boolLabel(degraded)).Inc()
	sessionDuration.Observe(elapsed.Seconds())
	chainSteps.Observe(float64(steps))
	tokensUsed.Add(float64(tokens))
	generationFailures.Add(float64(failures))
}

// StepFailed counts one failed generation attempt.
func StepFailed(class string) {
	stepErrors.WithLabelValues(class).Inc()
}

// SinkWrite records a sink result.
func SinkWrite(err error) {
	if err != nil {
		sinkWrites.WithLabelValues("error").Inc()
		return
	}
	sinkWrites.WithLabelValues("ok").Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
