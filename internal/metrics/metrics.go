package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	FeedPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedkeeper_feed_polls_total",
			Help: "Total number of feed polls",
		},
		[]string{"feed", "status"},
	)

	ArticlesDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedkeeper_articles_discovered_total",
			Help: "Total number of newly stored articles",
		},
		[]string{"feed"},
	)

	// Backlog metrics
	ArticleFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedkeeper_article_fetches_total",
			Help: "Total number of article fetch attempts by HTTP status",
		},
		[]string{"feed", "status_code"},
	)

	ArticleFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedkeeper_article_fetch_duration_seconds",
			Help:    "Article fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"feed"},
	)

	BacklogPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedkeeper_backlog_pending",
			Help: "Articles still waiting for a successful fetch",
		},
		[]string{"feed"},
	)

	// Run metrics
	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedkeeper_last_run_timestamp_seconds",
			Help: "Unix time the last full run finished",
		},
	)

	ApplicationInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "application_info",
			Help: "Application information",
		},
		[]string{"service", "version"},
	)
)

// Init records static application info.
func Init(version string) {
	ApplicationInfo.WithLabelValues("feedkeeper", version).Set(1)
}
