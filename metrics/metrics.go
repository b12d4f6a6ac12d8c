// Package metrics holds the prometheus counters of the registry.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ban_registry"

var (
	compositionsAsked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compositions_asked_total",
			Help:      "Count of composition requests persisted.",
		},
		[]string{},
	)
	compositionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compositions_finished_total",
			Help:      "Count of compositions marked finished.",
		},
		[]string{},
	)
	enqueueFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "composition_enqueue_failures_total",
			Help:      "Count of composition jobs that could not be enqueued after the commune was flagged.",
		},
		[]string{},
	)
	forceCertificationChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "force_certification_changes_total",
			Help:      "Count of communes whose force certification flag flipped.",
		},
		[]string{"op"},
	)
	communeDataSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commune_data_saved_total",
			Help:      "Count of wholesale commune data replacements.",
		},
		[]string{},
	)
	bulkInsertFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_insert_failed_rows_total",
			Help:      "Count of rows rejected by unordered bulk inserts.",
		},
		[]string{"collection"},
	)
	tileRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_requests_total",
			Help:      "Count of tile feature extractions, by cache outcome.",
		},
		[]string{"cache"},
	)
	orphanNumeros = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_orphan_numeros_total",
			Help:      "Count of numeros dropped from tiles because their voie is missing.",
		},
		[]string{},
	)
)

var registerMetrics sync.Once

// Register all metrics on the default registry.
func Register() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(compositionsAsked)
		prometheus.MustRegister(compositionsFinished)
		prometheus.MustRegister(enqueueFailures)
		prometheus.MustRegister(forceCertificationChanges)
		prometheus.MustRegister(communeDataSaved)
		prometheus.MustRegister(bulkInsertFailures)
		prometheus.MustRegister(tileRequests)
		prometheus.MustRegister(orphanNumeros)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCompositionAsked records a persisted composition request.
func RecordCompositionAsked() {
	compositionsAsked.WithLabelValues().Inc()
}

// RecordCompositionFinished records a finished composition.
func RecordCompositionFinished() {
	compositionsFinished.WithLabelValues().Inc()
}

// RecordEnqueueFailure records a job lost between flag and queue.
func RecordEnqueueFailure() {
	enqueueFailures.WithLabelValues().Inc()
}

// RecordForceCertificationChanges records flag flips. op is "add" or "remove".
func RecordForceCertificationChanges(op string, n int) {
	forceCertificationChanges.WithLabelValues(op).Add(float64(n))
}

// RecordCommuneDataSaved records a commune data replacement.
func RecordCommuneDataSaved() {
	communeDataSaved.WithLabelValues().Inc()
}

// RecordBulkInsertFailures records rows rejected for a collection.
func RecordBulkInsertFailures(collection string, n int) {
	bulkInsertFailures.WithLabelValues(collection).Add(float64(n))
}

// RecordTileRequest records a tile extraction. cache is "hit" or "miss".
func RecordTileRequest(cache string) {
	tileRequests.WithLabelValues(cache).Inc()
}

// RecordOrphanNumeros records numeros dropped from a tile.
func RecordOrphanNumeros(n int) {
	orphanNumeros.WithLabelValues().Add(float64(n))
}
