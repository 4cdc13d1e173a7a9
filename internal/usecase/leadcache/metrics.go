package leadcache

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics receives cache lifecycle events.
type Metrics interface {
	Hit(ns Namespace)
	Miss(ns Namespace)
	Expire(ns Namespace)
	Evict(ns Namespace, count int)
	Clear(reason string)
	WriteFailure(ns Namespace)
}

type NoopMetrics struct{}

func (NoopMetrics) Hit(Namespace)          {}
func (NoopMetrics) Miss(Namespace)         {}
func (NoopMetrics) Expire(Namespace)       {}
func (NoopMetrics) Evict(Namespace, int)   {}
func (NoopMetrics) Clear(string)           {}
func (NoopMetrics) WriteFailure(Namespace) {}

// PrometheusMetrics registers its counters on a private registry so several
// stores (and tests) can coexist in one process.
type PrometheusMetrics struct {
	registry      *prometheus.Registry
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	expirations   *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	clears        *prometheus.CounterVec
	writeFailures *prometheus.CounterVec
}

var _ Metrics = (*PrometheusMetrics)(nil)

func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	byNamespace := []string{"namespace"}

	return &PrometheusMetrics{
		registry: registry,
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_cache_hits_total",
			Help: "Cache reads served from storage.",
		}, byNamespace),
		misses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_cache_misses_total",
			Help: "Cache reads that found nothing usable.",
		}, byNamespace),
		expirations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_cache_expirations_total",
			Help: "Entries dropped because their TTL elapsed.",
		}, byNamespace),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_cache_evictions_total",
			Help: "Entries dropped by the per-namespace bound.",
		}, byNamespace),
		clears: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_cache_clears_total",
			Help: "Full cache clears by reason.",
		}, []string{"reason"}),
		writeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_cache_write_failures_total",
			Help: "Cache writes swallowed after the quota retry failed.",
		}, byNamespace),
	}
}

func (m *PrometheusMetrics) Registry() *prometheus.Registry { return m.registry }

func (m *PrometheusMetrics) Hit(ns Namespace)    { m.hits.WithLabelValues(string(ns)).Inc() }
func (m *PrometheusMetrics) Miss(ns Namespace)   { m.misses.WithLabelValues(string(ns)).Inc() }
func (m *PrometheusMetrics) Expire(ns Namespace) { m.expirations.WithLabelValues(string(ns)).Inc() }
func (m *PrometheusMetrics) Clear(reason string) { m.clears.WithLabelValues(reason).Inc() }

func (m *PrometheusMetrics) Evict(ns Namespace, count int) {
	if count > 0 {
		m.evictions.WithLabelValues(string(ns)).Add(float64(count))
	}
}

func (m *PrometheusMetrics) WriteFailure(ns Namespace) {
	m.writeFailures.WithLabelValues(string(ns)).Inc()
}

// Sample is one counter value from Snapshot.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// Snapshot gathers current counter values, sorted by name.
func (m *PrometheusMetrics) Snapshot() ([]Sample, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	var samples []Sample
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := make(map[string]string, len(metric.GetLabel()))
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			samples = append(samples, Sample{
				Name:   family.GetName(),
				Labels: labels,
				Value:  metric.GetCounter().GetValue(),
			})
		}
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })
	return samples, nil
}

// Total sums every sample of the named counter.
func (m *PrometheusMetrics) Total(name string) float64 {
	samples, err := m.Snapshot()
	if err != nil {
		return 0
	}
	var total float64
	for _, sample := range samples {
		if sample.Name == name {
			total += sample.Value
		}
	}
	return total
}
