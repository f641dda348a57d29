// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates the query-path metrics.
type Collector struct {
	queriesTotal   *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	violationsSeen prometheus.Counter
	tokensUsed     *prometheus.CounterVec

	schemaCacheHits   prometheus.Counter
	schemaCacheMisses prometheus.Counter
	resultCacheHits   prometheus.Counter
	resultCacheMisses prometheus.Counter
}

// NewCollector creates a Collector registering its metrics on reg.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		queriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total structured queries by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),
		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "End-to-end query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"transport"},
		),
		violationsSeen: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_violations_total",
				Help:      "Total field-level validation violations observed",
			},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_used_total",
				Help:      "Tokens consumed by direction",
			},
			[]string{"direction"},
		),
		schemaCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schema_cache_hits_total",
				Help:      "Normalized schema cache hits",
			},
		),
		schemaCacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schema_cache_misses_total",
				Help:      "Normalized schema cache misses",
			},
		),
		resultCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "result_cache_hits_total",
				Help:      "Query result cache hits",
			},
		),
		resultCacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "result_cache_misses_total",
				Help:      "Query result cache misses",
			},
		),
	}
}

// RecordQuery records one completed query.
func (c *Collector) RecordQuery(transport, outcome string, duration time.Duration) {
	c.queriesTotal.WithLabelValues(transport, outcome).Inc()
	c.queryDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

// RecordViolations adds observed validation violations.
func (c *Collector) RecordViolations(n int) {
	if n > 0 {
		c.violationsSeen.Add(float64(n))
	}
}

// RecordTokens adds token usage.
func (c *Collector) RecordTokens(input, output int) {
	if input > 0 {
		c.tokensUsed.WithLabelValues("input").Add(float64(input))
	}
	if output > 0 {
		c.tokensUsed.WithLabelValues("output").Add(float64(output))
	}
}

// RecordSchemaCache records a schema cache lookup.
func (c *Collector) RecordSchemaCache(hit bool) {
	if hit {
		c.schemaCacheHits.Inc()
	} else {
		c.schemaCacheMisses.Inc()
	}
}

// RecordResultCache records a result cache lookup.
func (c *Collector) RecordResultCache(hit bool) {
	if hit {
		c.resultCacheHits.Inc()
	} else {
		c.resultCacheMisses.Inc()
	}
}
