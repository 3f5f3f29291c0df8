// Package marketstate owns the per-market BBO and asset-context state. Each
// market's entry is guarded by its own lock so readers and writers across
// different markets never contend, mirroring the per-book locking the
// teacher used for a single market's order book.
package marketstate

import (
	"sync"
	"time"

	"github.com/hip3/dislocated/internal/values"
)

// entry is the aggregator's exclusive, mutable per-market record. Readers
// only ever see an immutable MarketSnapshot copy via GetSnapshot.
type entry struct {
	mu sync.RWMutex

	hasBbo bool
	hasCtx bool

	bbo values.Bbo
	ctx values.AssetCtx

	bboRecvMono time.Time
	ctxRecvMono time.Time

	hasOracle       bool
	lastOraclePx    values.Price
	oracleChangedAt time.Time

	hasServerTime bool
	bboServerTime time.Time
}

// nowMonotonic is overridable in tests; defaults to the monotonic clock
// reading embedded in time.Now().
var nowMonotonic = time.Now

// Aggregator is a concurrent map of per-market state, each entry
// individually locked.
type Aggregator struct {
	mu      sync.RWMutex
	entries map[values.MarketKey]*entry
}

func New() *Aggregator {
	return &Aggregator{entries: make(map[values.MarketKey]*entry)}
}

func (a *Aggregator) entryFor(key values.MarketKey) *entry {
	a.mu.RLock()
	e, ok := a.entries[key]
	a.mu.RUnlock()
	if ok {
		return e
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[key]; ok {
		return e
	}
	e = &entry{}
	a.entries[key] = e
	return e
}

// UpdateBbo stamps bbo_recv_mono and stores the new top of book. serverTime,
// if present, is recorded for the time-regression gate.
func (a *Aggregator) UpdateBbo(key values.MarketKey, bbo values.Bbo, serverTime *time.Time) {
	e := a.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.hasBbo = true
	e.bbo = bbo
	e.bboRecvMono = nowMonotonic()
	if serverTime != nil {
		e.hasServerTime = true
		e.bboServerTime = *serverTime
	}
}

// UpdateCtx stamps ctx_recv_mono on every call; oracle_changed_at only
// advances when the oracle price differs from the previous observation.
func (a *Aggregator) UpdateCtx(key values.MarketKey, ctx values.AssetCtx) {
	e := a.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if !e.hasOracle || !e.lastOraclePx.Equal(ctx.Oracle.OraclePx) {
		e.oracleChangedAt = now
		e.hasOracle = true
		e.lastOraclePx = ctx.Oracle.OraclePx
	}
	ctx.Oracle.OracleUpdated = e.oracleChangedAt
	ctx.ReceivedAt = now
	ctx.Oracle.ReceivedAt = now

	e.hasCtx = true
	e.ctx = ctx
	e.ctxRecvMono = nowMonotonic()
}

// GetSnapshot returns a snapshot iff both BBO and ctx have been observed.
func (a *Aggregator) GetSnapshot(key values.MarketKey) (values.MarketSnapshot, bool) {
	a.mu.RLock()
	e, ok := a.entries[key]
	a.mu.RUnlock()
	if !ok {
		return values.MarketSnapshot{}, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.hasBbo || !e.hasCtx {
		return values.MarketSnapshot{}, false
	}
	return values.MarketSnapshot{Bbo: e.bbo, Ctx: e.ctx, Timestamp: time.Now()}, true
}

// BboAgeMs returns milliseconds since the last BBO was received, derived
// from the monotonic clock so it never goes negative under wall-clock
// jumps. ok is false if no BBO has ever been observed.
func (a *Aggregator) BboAgeMs(key values.MarketKey) (int64, bool) {
	a.mu.RLock()
	e, ok := a.entries[key]
	a.mu.RUnlock()
	if !ok {
		return 0, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.hasBbo {
		return 0, false
	}
	return ageMs(e.bboRecvMono), true
}

// CtxAgeMs mirrors BboAgeMs for the asset-context channel.
func (a *Aggregator) CtxAgeMs(key values.MarketKey) (int64, bool) {
	a.mu.RLock()
	e, ok := a.entries[key]
	a.mu.RUnlock()
	if !ok {
		return 0, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.hasCtx {
		return 0, false
	}
	return ageMs(e.ctxRecvMono), true
}

// OracleAgeMs returns the time in milliseconds since the oracle price last
// *changed* (wall clock), not since the last ctx receive. This distinction
// is load-bearing: a market whose ctx channel is noisy but whose oracle
// price is stale must still be flagged as stale.
func (a *Aggregator) OracleAgeMs(key values.MarketKey) (int64, bool) {
	a.mu.RLock()
	e, ok := a.entries[key]
	a.mu.RUnlock()
	if !ok {
		return 0, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.hasOracle {
		return 0, false
	}
	return ageMs(e.oracleChangedAt), true
}

// BboServerTime returns the last BBO envelope server timestamp used by the
// time-regression gate.
func (a *Aggregator) BboServerTime(key values.MarketKey) (time.Time, bool) {
	a.mu.RLock()
	e, ok := a.entries[key]
	a.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bboServerTime, e.hasServerTime
}

func ageMs(since time.Time) int64 {
	d := time.Since(since)
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}
