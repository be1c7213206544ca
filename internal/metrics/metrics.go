package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedrelay"

// Metrics holds the Prometheus collectors of a relay node.
type Metrics struct {
	// Write path
	Submissions   *prometheus.CounterVec
	VerifyLatency prometheus.Histogram

	// Feed ledger
	RecordsAppended *prometheus.CounterVec
	FeedRecords     *prometheus.GaugeVec
	LatestTimestamp *prometheus.GaugeVec

	// Read path
	Reads *prometheus.CounterVec

	// Guard gate
	Paused      prometheus.Gauge
	GuardEvents *prometheus.CounterVec

	// Gossip
	GossipMessages *prometheus.CounterVec
	Peers          prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the metrics registered on the global registry (singleton).
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})

	return defaultMetrics
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Submissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "submissions_total",
				Help:      "Oracle submissions by outcome and rejection reason",
			},
			[]string{"outcome", "reason"},
		),
		VerifyLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "verify_seconds",
				Help:      "Time spent verifying a submission",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
		),
		RecordsAppended: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "records_appended_total",
				Help:      "Aggregate records appended per feed",
			},
			[]string{"feed"},
		),
		FeedRecords: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "records",
				Help:      "Number of stored records per feed",
			},
			[]string{"feed"},
		),
		LatestTimestamp: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "latest_aggregate_timestamp_seconds",
				Help:      "Aggregate timestamp of the latest record per feed",
			},
			[]string{"feed"},
		),
		Reads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "adapter",
				Name:      "reads_total",
				Help:      "Round data reads by adapter policy and outcome",
			},
			[]string{"policy", "outcome"},
		),
		Paused: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "guard",
				Name:      "paused",
				Help:      "1 while guarded reads are paused",
			},
		),
		GuardEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "guard",
				Name:      "events_total",
				Help:      "Applied guard transitions by kind",
			},
			[]string{"kind"},
		),
		GossipMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gossip",
				Name:      "messages_total",
				Help:      "Gossiped submissions by direction",
			},
			[]string{"direction"},
		),
		Peers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gossip",
				Name:      "peers",
				Help:      "Connected gossip peers",
			},
		),
	}
}
