package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Shared watcher metrics.
var (
	DirWatchersGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fswatcher",
		Subsystem: "watcher",
		Name:      "directories",
		Help:      "The current number of open directory watchers",
	}, []string{"engine"})

	EventsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fswatcher",
		Subsystem: "watcher",
		Name:      "events_total",
		Help:      "The number of file events emitted",
	}, []string{"type"})

	PendingEventsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fswatcher",
		Subsystem: "watcher",
		Name:      "pending_events",
		Help:      "The current size of the debounced pending queue",
	})

	PollScansCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fswatcher",
		Subsystem: "watcher",
		Name:      "poll_scans_total",
		Help:      "The number of directory reconciliation scans performed by the polling engine",
	})
)
