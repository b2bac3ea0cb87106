package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the workflow core.
type Metrics struct {
	TransitionsTotal      *prometheus.CounterVec
	TransitionFailures    *prometheus.CounterVec
	TokenConflictsTotal   prometheus.Counter
	ChangeRequestsTotal   *prometheus.CounterVec
	HistoryAppendRetries  prometheus.Counter
	IdempotentReplaysHits prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "granta_transitions_total",
			Help: "Committed phase transitions by action.",
		}, []string{"action"}),
		TransitionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "granta_transition_failures_total",
			Help: "Rejected or failed transition attempts by error code.",
		}, []string{"code"}),
		TokenConflictsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "granta_token_conflicts_total",
			Help: "Uniqueness claims lost to a competing application.",
		}),
		ChangeRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "granta_change_requests_total",
			Help: "Change request outcomes by decision (proposed, approved, rejected, stale).",
		}, []string{"decision"}),
		HistoryAppendRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "granta_history_append_retries_total",
			Help: "History appends retried after a sequence race.",
		}),
		IdempotentReplaysHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "granta_idempotent_replays_total",
			Help: "Mutating calls short-circuited by a seen idempotency key.",
		}),
	}
}
