// Package observability exposes the Prometheus instrumentation of the
// messaging core.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	FeedInserts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dm_feed_inserts_total",
		Help: "Live feed insert events applied to the local collection.",
	})
	FeedUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dm_feed_updates_total",
		Help: "Live feed update events applied to the local collection.",
	})
	DuplicatesSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dm_feed_duplicates_total",
		Help: "Inserts that confirmed an existing record instead of appending.",
	})
	FeedInterruptions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dm_feed_interruptions_total",
		Help: "Live feed subscription drops.",
	})
	Resyncs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dm_resyncs_total",
		Help: "Full history re-fetches after an outage or on open.",
	})
	DroppedRows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dm_dropped_rows_total",
		Help: "Malformed store rows dropped at the decode boundary.",
	})
	SendsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dm_sends_failed_total",
		Help: "Sends that ended in the failed state after retries.",
	})
	MarkReadRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dm_mark_read_retries_total",
		Help: "Opportunistic retries of partially failed mark-read batches.",
	})

	TotalUnread = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dm_total_unread",
		Help: "Unread inbound messages across all conversations.",
	})
	ProcessRSS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dm_process_rss_bytes",
		Help: "Resident memory of the daemon process.",
	})
	ProcessCPU = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dm_process_cpu_percent",
		Help: "CPU usage of the daemon process.",
	})
)

func Register() {
	prometheus.MustRegister(
		FeedInserts, FeedUpdates, DuplicatesSuppressed,
		FeedInterruptions, Resyncs, DroppedRows,
		SendsFailed, MarkReadRetries,
		TotalUnread, ProcessRSS, ProcessCPU,
	)
}
