package merkavl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are optional store instrumentation. Register one per store; const
// labels distinguish stores sharing a registry.
type Metrics struct {
	LeafCount      prometheus.Counter
	NodesCreated   prometheus.Counter
	OrphansCreated prometheus.Counter
	CommitSeconds  prometheus.Histogram
	TreeSize       prometheus.Gauge
	TreeHeight     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer, labels prometheus.Labels) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LeafCount: factory.NewCounter(prometheus.CounterOpts{
			Name:        "merkavl_leaf_count",
			Help:        "number of leaf nodes written to the tree",
			ConstLabels: labels,
		}),
		NodesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name:        "merkavl_nodes_created",
			Help:        "number of nodes allocated, leaves and inners",
			ConstLabels: labels,
		}),
		OrphansCreated: factory.NewCounter(prometheus.CounterOpts{
			Name:        "merkavl_orphans_created",
			Help:        "number of orphan records written across commits",
			ConstLabels: labels,
		}),
		CommitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "merkavl_commit_seconds",
			Help:        "commit latency in seconds",
			ConstLabels: labels,
		}),
		TreeSize: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "merkavl_tree_size",
			Help:        "number of keys in the working tree",
			ConstLabels: labels,
		}),
		TreeHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "merkavl_tree_height",
			Help:        "height of the working tree",
			ConstLabels: labels,
		}),
	}
}
