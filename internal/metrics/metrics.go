package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Catalog lookup sources
const (
	SourceCache  = "cache"
	SourceRemote = "remote"
	SourceLegacy = "legacy"
	SourceStale  = "stale"
	SourceFailed = "failed"
)

// Metrics holds the Prometheus collectors of the library. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Operations            *prometheus.CounterVec
	OperationDuration     *prometheus.HistogramVec
	CatalogLookups        *prometheus.CounterVec
	ProviderConstructions *prometheus.CounterVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nfse_operations_total",
			Help: "Total number of operations wrapped by the response handler",
		}, []string{"operation", "outcome"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nfse_operation_duration_seconds",
			Help:    "Duration of operations wrapped by the response handler",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		CatalogLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nfse_catalog_lookups_total",
			Help: "Catalog lookups by the source that answered them",
		}, []string{"source"}),
		ProviderConstructions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nfse_provider_constructions_total",
			Help: "Provider instances constructed by the registry",
		}, []string{"key"}),
	}
}

// ObserveOperation records one finished operation
func (m *Metrics) ObserveOperation(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncCatalogLookup records which source answered a catalog lookup
func (m *Metrics) IncCatalogLookup(source string) {
	if m == nil {
		return
	}
	m.CatalogLookups.WithLabelValues(source).Inc()
}

// IncProviderConstruction records a provider construction for key
func (m *Metrics) IncProviderConstruction(key string) {
	if m == nil {
		return
	}
	m.ProviderConstructions.WithLabelValues(key).Inc()
}
