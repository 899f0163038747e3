package replication

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the replication counters, labelled by direction.
type Metrics struct {
	// Documents counts documents written to the destination.
	Documents *prometheus.CounterVec
	// Conflicts counts conflicts passed to the conflict handler.
	Conflicts *prometheus.CounterVec
	// CheckpointWrites counts successful checkpoint writes.
	CheckpointWrites *prometheus.CounterVec
	// Errors counts iterations that failed and were retried.
	Errors *prometheus.CounterVec
}

// NewMetrics creates the replication counters and registers them on reg.
// A nil registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	labels := []string{"direction"}
	return &Metrics{
		Documents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_replication_documents_total",
			Help: "Documents written to the replication destination",
		}, labels),
		Conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_replication_conflicts_total",
			Help: "Write conflicts resolved by the conflict handler",
		}, labels),
		CheckpointWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_replication_checkpoint_writes_total",
			Help: "Checkpoint documents written",
		}, labels),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsync_replication_errors_total",
			Help: "Replication iterations that failed",
		}, labels),
	}
}
