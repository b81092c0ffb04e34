package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScopeRecordsDuration(t *testing.T) {
	p := New()
	stop := p.Scope("fire")
	time.Sleep(time.Millisecond)
	stop()

	stats := p.Stats("fire")
	assert.Equal(t, 1, stats.Count)
	assert.Greater(t, stats.Total, time.Duration(0))
}

func TestCacheHitRate(t *testing.T) {
	p := New()
	p.CacheHit("calculator_result")
	p.CacheHit("calculator_result")
	p.CacheMiss("calculator_result")

	report := p.CacheReport()
	stats := report["calculator_result"]
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 0.0001)
}

func TestBottleneckPicksHighestTotal(t *testing.T) {
	p := New()
	p.Record("cheap", time.Millisecond)
	p.Record("expensive", 100*time.Millisecond)

	op, _, ok := p.Bottleneck()
	assert.True(t, ok)
	assert.Equal(t, "expensive", op)
}

func TestBottleneckEmptyWhenNothingRecorded(t *testing.T) {
	p := New()
	_, _, ok := p.Bottleneck()
	assert.False(t, ok)
}

func TestReportComputesPercentiles(t *testing.T) {
	p := New()
	for i := 1; i <= 10; i++ {
		p.Record("op", time.Duration(i)*time.Millisecond)
	}
	stats := p.Report()["op"]
	assert.Equal(t, 10, stats.Count)
	assert.Equal(t, time.Millisecond, stats.Min)
	assert.Equal(t, 10*time.Millisecond, stats.Max)
	// percentile picks sorted[int(p*(n-1))]: index 8 for both p95 and p99.
	assert.Equal(t, 9*time.Millisecond, stats.P95)
	assert.Equal(t, 9*time.Millisecond, stats.P99)
}
