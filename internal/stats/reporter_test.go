package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/hip3/dislocated/internal/values"
)

func TestHistogramPercentileInterpolatesWithinBucket(t *testing.T) {
	t.Parallel()
	h := NewHistogram([]float64{10, 20, 30, 40, 50})
	for _, v := range []float64{5, 15, 15, 25, 45} {
		h.Observe(v)
	}
	p50 := h.Percentile(50)
	if p50 <= 0 {
		t.Errorf("p50 should be positive, got %v", p50)
	}
	if p100 := h.Percentile(100); p100 != 50 {
		t.Errorf("p100 should land in the top bucket (50), got %v", p100)
	}
}

func TestHistogramEmptyReturnsZero(t *testing.T) {
	t.Parallel()
	h := NewHistogram([]float64{10, 20})
	if got := h.Percentile(50); got != 0 {
		t.Errorf("empty histogram percentile = %v, want 0", got)
	}
	if got := h.Mean(); got != 0 {
		t.Errorf("empty histogram mean = %v, want 0", got)
	}
}

func TestCountersAccumulateBySideAndGate(t *testing.T) {
	t.Parallel()
	c := NewCounters()
	c.RecordCross(values.Buy)
	c.RecordCross(values.Buy)
	c.RecordCross(values.Sell)
	c.RecordBbo(true)
	c.RecordBbo(false)
	c.RecordGateBlock("freshness")

	crosses, bboTotal, bboNull, gates := c.snapshot()
	if crosses[values.Buy] != 2 || crosses[values.Sell] != 1 {
		t.Errorf("crosses = %v, want buy=2 sell=1", crosses)
	}
	if bboTotal != 2 || bboNull != 1 {
		t.Errorf("bbo total/null = %d/%d, want 2/1", bboTotal, bboNull)
	}
	if gates["freshness"] != 1 {
		t.Errorf("gate blocked[freshness] = %d, want 1", gates["freshness"])
	}
}

func TestSummarizeIncludesAllSections(t *testing.T) {
	t.Parallel()
	c := NewCounters()
	c.RecordCross(values.Buy)
	c.RecordBbo(false)
	c.RecordGateBlock("oi_cap")

	bboAge := NewHistogram([]float64{5, 10, 50, 100, 500})
	bboAge.Observe(8)
	ctxAge := NewHistogram([]float64{5, 10, 50, 100, 500})
	ctxAge.Observe(12)
	crossDur := NewHistogram([]float64{100, 1000, 10000})
	crossDur.Observe(500)

	r := NewReporter(c, bboAge, ctxAge, crossDur)
	out := r.Summarize(time.Minute)

	for _, want := range []string{"crosses[buy]", "bbo null rate", "bbo age", "ctx age", "mean cross duration", "gate_blocked[oi_cap]"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
