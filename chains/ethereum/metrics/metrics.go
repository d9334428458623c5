package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PromNamespace        = "feerelay"
	FlowMetricsSubsystem = "flow"
)

type Metrics struct {
	FlowSuccess      *prometheus.CounterVec
	FlowFailure      *prometheus.CounterVec
	FlowUnconfirmed  prometheus.Counter
	Transitions      *prometheus.CounterVec
	TxInclusion      prometheus.Histogram
	RelayLatency     *prometheus.HistogramVec
	BroadcastFailure prometheus.Counter
	BroadcastSuccess prometheus.Counter
	NonceRefresh     prometheus.Counter
}

// NewMetrics creates the flow metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FlowSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: PromNamespace,
			Subsystem: FlowMetricsSubsystem,
			Name:      "flow_confirmed",
			Help:      "Number of flows whose sponsored tx was included, by outcome.",
		}, []string{"outcome"}),
		FlowFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: PromNamespace,
			Subsystem: FlowMetricsSubsystem,
			Name:      "flow_failed",
			Help:      "Number of flows that ended in a failed state, by reason.",
		}, []string{"reason"}),
		FlowUnconfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: PromNamespace,
			Subsystem: FlowMetricsSubsystem,
			Name:      "flow_unconfirmed",
			Help:      "Number of flows whose sponsored tx was broadcast but not seen in time.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: PromNamespace,
			Subsystem: FlowMetricsSubsystem,
			Name:      "state_transitions",
			Help:      "Number of state machine transitions, by target state.",
		}, []string{"state"}),
		TxInclusion: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: PromNamespace,
			Subsystem: FlowMetricsSubsystem,
			Name:      "tx_inclusion",
			Help:      "Histogram of milliseconds between broadcast and receipt.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 1500, 2000, 5000, 10000, 15000, 20000, 30000, 60000, 90000, 120000, 300000},
		}),
		RelayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: PromNamespace,
			Subsystem: FlowMetricsSubsystem,
			Name:      "relay_request",
			Help:      "Histogram of milliseconds spent on relayer sponsorship requests, by result.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"result"}),
		BroadcastFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: PromNamespace,
			Subsystem: FlowMetricsSubsystem,
			Name:      "broadcast_failure",
			Help:      "Number of failed tx broadcasts.",
		}),
		BroadcastSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: PromNamespace,
			Subsystem: FlowMetricsSubsystem,
			Name:      "broadcast_success",
			Help:      "Number of successful tx broadcasts.",
		}),
		NonceRefresh: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: PromNamespace,
			Subsystem: FlowMetricsSubsystem,
			Name:      "nonce_refresh",
			Help:      "Number of rebuilds after a node rejected a stale nonce.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FlowSuccess,
			m.FlowFailure,
			m.FlowUnconfirmed,
			m.Transitions,
			m.TxInclusion,
			m.RelayLatency,
			m.BroadcastFailure,
			m.BroadcastSuccess,
			m.NonceRefresh,
		)
	}
	return m
}
