package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorRecordQuery(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("structquery", reg)

	c.RecordQuery("anthropic", "conforming", 120*time.Millisecond)
	c.RecordQuery("anthropic", "conforming", 80*time.Millisecond)
	c.RecordQuery("anthropic", "violations", 50*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(
		c.queriesTotal.WithLabelValues("anthropic", "conforming")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.queriesTotal.WithLabelValues("anthropic", "violations")))
}

func TestCollectorRecordViolationsAndTokens(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("structquery", reg)

	c.RecordViolations(3)
	c.RecordViolations(0)
	c.RecordTokens(100, 40)
	c.RecordTokens(0, 10)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.violationsSeen))
	assert.Equal(t, 100.0, testutil.ToFloat64(c.tokensUsed.WithLabelValues("input")))
	assert.Equal(t, 50.0, testutil.ToFloat64(c.tokensUsed.WithLabelValues("output")))
}

func TestCollectorCacheCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("structquery", reg)

	c.RecordSchemaCache(true)
	c.RecordSchemaCache(true)
	c.RecordSchemaCache(false)
	c.RecordResultCache(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.schemaCacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.schemaCacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.resultCacheMisses))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.resultCacheHits))
}
