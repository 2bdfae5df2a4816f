// Package metrics exposes the ambient operational counters for the
// store and queue core, in the same spirit as klistr's structured logs
// but for the small set of numbers an operator actually wants on a
// dashboard: queue traffic (items enqueued, dequeued, and orphans
// purged), timeline churn, actor-cache outcomes, and upgrade progress.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TimelineWrites counts timeline files written by the write-and-relink
	// protocol, labeled by protocol step: "insert" for the entry's own
	// file (Add and Admire alike), "parent-relink" for the rewritten parent.
	TimelineWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fedcore_timeline_writes_total",
		Help: "Timeline file writes, by write-and-relink step.",
	}, []string{"op"})

	// QueueEnqueued counts items published to the queue, by item type.
	QueueEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fedcore_queue_enqueued_total",
		Help: "Queue items published, by type (input/output).",
	}, []string{"type"})

	// QueueDequeued counts successful dequeues (the unlink-wins case).
	QueueDequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fedcore_queue_dequeued_total",
		Help: "Queue items successfully dequeued.",
	})

	// QueueOrphansPurged counts .tmp files removed by the purge loop.
	QueueOrphansPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fedcore_queue_orphans_purged_total",
		Help: "Orphaned queue .tmp files removed by the purger.",
	})

	// ActorCacheStatus counts actor_get outcomes by HTTP-style status code.
	ActorCacheStatus = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fedcore_actor_cache_status_total",
		Help: "actor_get results, labeled by status code.",
	}, []string{"status"})

	// UpgradeStepsApplied counts layout upgrade steps applied at startup.
	UpgradeStepsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fedcore_upgrade_steps_applied_total",
		Help: "Layout upgrade steps applied at startup.",
	})
)

// Registry is the collector registry the admin status mux serves.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		TimelineWrites,
		QueueEnqueued,
		QueueDequeued,
		QueueOrphansPurged,
		ActorCacheStatus,
		UpgradeStepsApplied,
	)
}
