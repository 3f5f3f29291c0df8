// Package stats aggregates per-period counters and age histograms into a
// human-readable summary. Grounded on the teacher's internal/api/snapshot.go
// aggregate-then-format shape, generalized from a dashboard snapshot to a
// periodic text report and formatted with github.com/dustin/go-humanize
// (the pack's human-readable-output dependency, also carried by
// NimbleMarkets-dbn-go and stadam23-Eve-flipper).
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hip3/dislocated/internal/values"
)

// Histogram is a minimal fixed-bucket latency/age histogram (Prometheus-
// style: cumulative bucket boundaries with a total count), queried via
// linear interpolation within the bucket that straddles the target rank.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64 // sorted upper bounds, ms
	counts  []uint64  // counts[i] = observations <= buckets[i]
	total   uint64
	sum     float64
}

func NewHistogram(buckets []float64) *Histogram {
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &Histogram{buckets: sorted, counts: make([]uint64, len(sorted))}
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

// Percentile returns the interpolated value at rank p (0-100) within the
// bucket boundaries, per the spec's "linear interpolation within histogram
// buckets" requirement.
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.total == 0 || len(h.buckets) == 0 {
		return 0
	}
	target := uint64((p / 100) * float64(h.total))

	prevCount := uint64(0)
	prevBound := 0.0
	for i, count := range h.counts {
		if count >= target {
			bound := h.buckets[i]
			if count == prevCount {
				return bound
			}
			frac := float64(target-prevCount) / float64(count-prevCount)
			return prevBound + frac*(bound-prevBound)
		}
		prevCount = count
		prevBound = h.buckets[i]
	}
	return h.buckets[len(h.buckets)-1]
}

func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.total == 0 {
		return 0
	}
	return h.sum / float64(h.total)
}

// Counters tracks per-side cross counts, BBO-null observations, and gate
// blocks — the raw material for a period summary.
type Counters struct {
	mu sync.Mutex

	crossesBySide map[values.Side]uint64
	bboTotal      uint64
	bboNull       uint64
	gateBlocked   map[string]uint64
}

func NewCounters() *Counters {
	return &Counters{
		crossesBySide: make(map[values.Side]uint64),
		gateBlocked:   make(map[string]uint64),
	}
}

func (c *Counters) RecordCross(side values.Side) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crossesBySide[side]++
}

func (c *Counters) RecordBbo(isNull bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bboTotal++
	if isNull {
		c.bboNull++
	}
}

func (c *Counters) RecordGateBlock(gate string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gateBlocked[gate]++
}

// Snapshot returns a deep copy of the current counters, for external
// consumers like the telemetry HTTP surface.
func (c *Counters) Snapshot() (crosses map[values.Side]uint64, bboTotal, bboNull uint64, gates map[string]uint64) {
	return c.snapshot()
}

func (c *Counters) snapshot() (crosses map[values.Side]uint64, bboTotal, bboNull uint64, gates map[string]uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	crosses = make(map[values.Side]uint64, len(c.crossesBySide))
	for k, v := range c.crossesBySide {
		crosses[k] = v
	}
	gates = make(map[string]uint64, len(c.gateBlocked))
	for k, v := range c.gateBlocked {
		gates[k] = v
	}
	return crosses, c.bboTotal, c.bboNull, gates
}

// Reporter formats a period summary from Counters plus BBO-age/ctx-age/
// cross-duration histograms.
type Reporter struct {
	counters     *Counters
	bboAge       *Histogram
	ctxAge       *Histogram
	crossDur     *Histogram
}

func NewReporter(counters *Counters, bboAge, ctxAge, crossDur *Histogram) *Reporter {
	return &Reporter{counters: counters, bboAge: bboAge, ctxAge: ctxAge, crossDur: crossDur}
}

// Summarize renders the human-readable period report.
func (r *Reporter) Summarize(period time.Duration) string {
	crosses, bboTotal, bboNull, gates := r.counters.snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "=== period summary (%s) ===\n", humanize.RelTime(time.Now().Add(-period), time.Now(), "ago", ""))

	sides := make([]values.Side, 0, len(crosses))
	for s := range crosses {
		sides = append(sides, s)
	}
	sort.Slice(sides, func(i, j int) bool { return sides[i] < sides[j] })
	for _, s := range sides {
		fmt.Fprintf(&b, "crosses[%s] = %s\n", s, humanize.Comma(int64(crosses[s])))
	}

	nullRate := 0.0
	if bboTotal > 0 {
		nullRate = float64(bboNull) / float64(bboTotal) * 100
	}
	fmt.Fprintf(&b, "bbo null rate = %.2f%% (%s / %s)\n", nullRate, humanize.Comma(int64(bboNull)), humanize.Comma(int64(bboTotal)))

	fmt.Fprintf(&b, "bbo age p50/p95/p99 = %.1f/%.1f/%.1f ms\n",
		r.bboAge.Percentile(50), r.bboAge.Percentile(95), r.bboAge.Percentile(99))
	fmt.Fprintf(&b, "ctx age p50/p95/p99 = %.1f/%.1f/%.1f ms\n",
		r.ctxAge.Percentile(50), r.ctxAge.Percentile(95), r.ctxAge.Percentile(99))
	fmt.Fprintf(&b, "mean cross duration = %s\n", humanize.SIWithDigits(r.crossDur.Mean()/1e6, 2, "s"))

	gateNames := make([]string, 0, len(gates))
	for g := range gates {
		gateNames = append(gateNames, g)
	}
	sort.Strings(gateNames)
	for _, g := range gateNames {
		fmt.Fprintf(&b, "gate_blocked[%s] = %s\n", g, humanize.Comma(int64(gates[g])))
	}

	return b.String()
}
