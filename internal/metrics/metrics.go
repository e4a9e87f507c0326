// Package metrics holds the Prometheus collectors of the journal service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	JournalsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_entries_appended_total",
		Help: "Journal entries appended, by journable kind",
	}, []string{"kind"})

	JournalsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_saves_skipped_total",
		Help: "Saves that produced no journal because nothing changed",
	}, []string{"kind"})

	VersionCollisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_version_collisions_total",
		Help: "Version collisions by outcome (retried or fatal)",
	}, []string{"outcome"})

	ChecksumDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "journal_checksum_query_duration_seconds",
		Help:    "Duration of bulk checksum queries",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"kind"})

	OutboxDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_outbox_deliveries_total",
		Help: "Outbox delivery attempts by result (sent, queued, retried, dropped)",
	}, []string{"result"})

	ActorRewrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journal_actor_rewrites_total",
		Help: "Journal entries whose author was replaced by the tombstone actor",
	})
)

// Handler serves the default registry on fasthttp.
func Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
}
