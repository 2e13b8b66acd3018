package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "searchsync"

// Outcome label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Synchronization and hook metrics.
var (
	SyncBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_batches_total",
			Help:      "Total number of synchronization batches by outcome",
		},
		[]string{"collection", "status"},
	)

	SyncDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_documents_total",
			Help:      "Total number of documents acknowledged by bulk synchronization",
		},
		[]string{"collection"},
	)

	HookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_events_total",
			Help:      "Total number of incremental index and remove operations by outcome",
		},
		[]string{"collection", "event", "status"},
	)
)

func init() {
	prometheus.MustRegister(SyncBatchesTotal)
	prometheus.MustRegister(SyncDocumentsTotal)
	prometheus.MustRegister(HookEventsTotal)
}

// ObserveBatch records the outcome of one synchronization batch.
func ObserveBatch(collection string, indexed int, err error) {
	if err != nil {
		SyncBatchesTotal.WithLabelValues(collection, StatusError).Inc()
		return
	}
	SyncBatchesTotal.WithLabelValues(collection, StatusOK).Inc()
	SyncDocumentsTotal.WithLabelValues(collection).Add(float64(indexed))
}

// ObserveHookEvent records the outcome of one incremental operation.
func ObserveHookEvent(collection, event string, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	HookEventsTotal.WithLabelValues(collection, event, status).Inc()
}
