package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts the operations operators watch during ingestion and chat.
type Metrics struct {
	Queries      *prometheus.CounterVec
	Uploads      prometheus.Counter
	URLFetches   *prometheus.CounterVec
	Rebuilds     *prometheus.CounterVec
	ChunksStored prometheus.Counter
}

// NewMetrics registers the service counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Queries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthassist_queries_total",
			Help: "Chat queries answered, by outcome.",
		}, []string{"outcome"}),
		Uploads: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthassist_document_uploads_total",
			Help: "PDF documents uploaded.",
		}),
		URLFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthassist_url_fetches_total",
			Help: "URL fetch attempts, by outcome.",
		}, []string{"outcome"}),
		Rebuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthassist_index_rebuilds_total",
			Help: "Index rebuild jobs, by outcome.",
		}, []string{"outcome"}),
		ChunksStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthassist_chunks_indexed_total",
			Help: "Chunks written to the vector store by incremental updates.",
		}),
	}
}
