// Package metrics holds the prometheus collectors shared by the store, the
// live mirrors and the stats engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ecole"

var (
	StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_writes_total",
		Help:      "Committed document store writes by collection and operation.",
	}, []string{"collection", "op"})

	Subscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_subscriptions",
		Help:      "Live collection subscriptions.",
	})

	SnapshotsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mirror_snapshots_total",
		Help:      "Full snapshots applied to a local mirror, by collection.",
	}, []string{"collection"})

	SubscriptionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mirror_subscription_errors_total",
		Help:      "Subscription failures reported to a local mirror, by collection.",
	}, []string{"collection"})

	StatsRecomputed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stats_recomputed_total",
		Help:      "Dashboard stats recomputations.",
	})

	StatsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stats_published_total",
		Help:      "Dashboard stats snapshots published to subscribers.",
	})

	JoinGaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "join_resolution_gaps_total",
		Help:      "Dangling weak references met while enriching students, by reference kind.",
	}, []string{"ref"})

	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_transitions_total",
		Help:      "Session state broadcasts by resulting state.",
	}, []string{"state"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
