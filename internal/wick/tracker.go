// Package wick tracks per-second oracle-price wicks (intra-second high/low
// excursions) per market and derives a dynamic minimum quote offset from
// their recent distribution. Grounded on the teacher's
// internal/strategy/flow_tracker.go: a fixed-capacity rolling buffer with
// evict-on-write, here keyed by second buckets instead of a time window,
// plus a cache keyed off a generation counter in place of a cooldown timer.
package wick

import (
	"sort"
	"sync"
	"time"

	"github.com/hip3/dislocated/internal/values"
)

const maxWickBps = 500

var percentileLevels = []float64{90, 95, 99, 99.5, 99.8, 99.9, 100}

type second struct {
	unixSec int64
	high    float64
	low     float64
	hasData bool
}

type percentileCache struct {
	generation int64
	values     map[float64]float64
	optimal    float64
}

// Config tunes the tracker's ring buffer size and the cliff-detection
// threshold used to pick optimal_wick_bps.
type Config struct {
	RingSize      int
	MinJumpRatio  float64 // ratio between adjacent percentiles to call a "cliff"
	CacheTTL      time.Duration
}

type marketState struct {
	mu sync.Mutex

	cur second
	ring []float64 // wick_bps values, oldest first, capped at RingSize

	cache      percentileCache
	generation int64
	cachedAt   time.Time
}

// Tracker owns per-market wick state. Single-writer (orchestrator/MM task),
// multi-reader (dashboard) per the spec's concurrency model.
type Tracker struct {
	cfg Config

	mu      sync.RWMutex
	markets map[values.MarketKey]*marketState
}

func New(cfg Config) *Tracker {
	if cfg.RingSize <= 0 {
		cfg.RingSize = 300
	}
	if cfg.MinJumpRatio <= 0 {
		cfg.MinJumpRatio = 2.0
	}
	return &Tracker{cfg: cfg, markets: make(map[values.MarketKey]*marketState)}
}

func (t *Tracker) stateFor(key values.MarketKey) *marketState {
	t.mu.RLock()
	st, ok := t.markets[key]
	t.mu.RUnlock()
	if ok {
		return st
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.markets[key]; ok {
		return st
	}
	st = &marketState{ring: make([]float64, 0, t.cfg.RingSize)}
	t.markets[key] = st
	return st
}

// Observe records one oracle price observation, bucketed by whole second.
// mid is used to normalize the finalized wick into bps. now should be a
// wall-clock timestamp (the spec buckets by UTC second, not monotonic time).
func (t *Tracker) Observe(key values.MarketKey, px, mid values.Price, now time.Time) {
	st := t.stateFor(key)
	pxF, _ := px.Decimal().Float64()
	midF, _ := mid.Decimal().Float64()
	sec := now.Unix()

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.cur.hasData || st.cur.unixSec != sec {
		if st.cur.hasData {
			st.finalizeLocked(midF, t.cfg.RingSize)
		}
		st.cur = second{unixSec: sec, high: pxF, low: pxF, hasData: true}
		return
	}

	if pxF > st.cur.high {
		st.cur.high = pxF
	}
	if pxF < st.cur.low {
		st.cur.low = pxF
	}
}

// finalizeLocked must be called with st.mu held.
func (st *marketState) finalizeLocked(mid float64, ringSize int) {
	if mid == 0 {
		return
	}
	wickBps := (st.cur.high - st.cur.low) / mid * 10000
	if wickBps > maxWickBps {
		wickBps = maxWickBps
	}
	if wickBps < 0 {
		wickBps = -wickBps
	}

	st.ring = append(st.ring, wickBps)
	if ringSize > 0 && len(st.ring) > ringSize {
		st.ring = st.ring[len(st.ring)-ringSize:]
	}
	st.generation++
}

// Percentiles returns the configured percentile set, computed lazily and
// cached until the next push invalidates the cache.
func (t *Tracker) Percentiles(key values.MarketKey) map[float64]float64 {
	st := t.stateFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.percentilesLocked(t.cfg)
}

func (st *marketState) percentilesLocked(cfg Config) map[float64]float64 {
	if st.cache.generation == st.generation && st.cache.values != nil {
		return st.cache.values
	}
	sorted := append([]float64(nil), st.ring...)
	sort.Float64s(sorted)

	result := make(map[float64]float64, len(percentileLevels))
	for _, p := range percentileLevels {
		result[p] = percentile(sorted, p)
	}
	st.cache = percentileCache{generation: st.generation, values: result, optimal: optimalFromPercentiles(result, cfg.MinJumpRatio)}
	return result
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := (p / 100) * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// OptimalWickBps selects the dynamic-offset floor by scanning adjacent
// percentile pairs for the largest ratio at or above MinJumpRatio (a
// "cliff"); falling back to P99 when no such jump exists.
func (t *Tracker) OptimalWickBps(key values.MarketKey) float64 {
	st := t.stateFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.percentilesLocked(t.cfg)
	return st.cache.optimal
}

func optimalFromPercentiles(byLevel map[float64]float64, minJumpRatio float64) float64 {
	bestRatio := 0.0
	bestValue := byLevel[99]
	found := false

	for i := 0; i < len(percentileLevels)-1; i++ {
		lo := byLevel[percentileLevels[i]]
		hi := byLevel[percentileLevels[i+1]]
		if lo <= 0 {
			continue
		}
		ratio := hi / lo
		if ratio >= minJumpRatio && ratio > bestRatio {
			bestRatio = ratio
			bestValue = lo
			found = true
		}
	}
	if !found {
		return byLevel[99]
	}
	return bestValue
}

// SampleCount returns how many finalized wicks are currently in the ring
// (for tests and dashboard reporting).
func (t *Tracker) SampleCount(key values.MarketKey) int {
	st := t.stateFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.ring)
}
