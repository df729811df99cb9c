// Package metrics exposes the process metrics named in SPEC_FULL.md's
// ambient stack (active sessions, billed seconds, idle VAD pool instances),
// grounded on BaSui01-agentflow's use of github.com/prometheus/client_golang
// for task-store gauges/counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the gauges/counters the gateway updates as sessions
// come and go and as requests are billed.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	BilledSeconds    prometheus.Counter
	VADQueueDepth    prometheus.Gauge
	SessionsEvicted  prometheus.Counter
	UtterancesClosed prometheus.Counter
}

// New registers every metric against reg (pass prometheus.NewRegistry()
// in tests to avoid the global default registry's duplicate-registration
// panics across parallel test runs).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicegate_active_sessions",
			Help: "Number of currently connected voice sessions.",
		}),
		BilledSeconds: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicegate_billed_seconds_total",
			Help: "Total seconds debited from user balances.",
		}),
		VADQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicegate_vad_pool_idle",
			Help: "Number of idle VAD detector instances currently available in the pool.",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicegate_sessions_evicted_total",
			Help: "Total sessions evicted by the reaper for missed heartbeats.",
		}),
		UtterancesClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicegate_utterances_total",
			Help: "Total utterances closed out by the VAD state machine.",
		}),
	}
}
