// Package riskgate implements the nine-gate risk chain that every market
// snapshot must clear before the dislocation detector runs. Gates execute
// in a fixed order; any block aborts the chain immediately, which is what
// guarantees that stateful gates (the spread-shock EWMA) never observe
// stale or invalid input. This mirrors the teacher's risk manager's
// latch-with-cooldown shape, restructured into an explicit ordered chain.
package riskgate

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hip3/dislocated/internal/values"
)

// reduceSizeFactor is the hard-coded size reduction applied on a mild
// spread shock. The source's magic constant; whether it should be
// configurable is unspecified, so it stays a constant here too.
const reduceSizeFactor = 0.2

const spreadEwmaAlpha = 0.05

// Outcome is the chain's verdict.
type Outcome int

const (
	OutcomePass Outcome = iota
	OutcomeBlock
	OutcomeReduceSize
)

// Result is returned by Evaluate.
type Result struct {
	Outcome    Outcome
	Gate       string
	Reason     string
	SizeFactor decimal.Decimal // only meaningful when Outcome == OutcomeReduceSize
}

func pass() Result { return Result{Outcome: OutcomePass} }

func block(gate, reason string) Result {
	return Result{Outcome: OutcomeBlock, Gate: gate, Reason: reason}
}

// BlackoutWindow is a UTC [start, end) time-of-day window; end may be
// numerically before start to express a wrap across midnight.
type BlackoutWindow struct {
	Start time.Duration // offset from UTC midnight
	End   time.Duration
}

func (w BlackoutWindow) contains(tod time.Duration) bool {
	if w.Start <= w.End {
		return tod >= w.Start && tod < w.End
	}
	// wraps midnight, e.g. 23:00 -> 01:00
	return tod >= w.Start || tod < w.End
}

// Config holds every gate's tunables.
type Config struct {
	MaxBboAgeMs            int64 // 0 disables
	MaxCtxAgeMs             int64
	MaxMarkMidDivergenceBps decimal.Decimal // 0 disables
	SpreadShockMultiplier   decimal.Decimal
	OiCap                   values.Size
	BlackoutWindows         []BlackoutWindow
}

// AggregatorView is the subset of marketstate.Aggregator the chain needs;
// kept as an interface so gates can be tested without the full aggregator.
type AggregatorView interface {
	BboAgeMs(key values.MarketKey) (int64, bool)
	CtxAgeMs(key values.MarketKey) (int64, bool)
	BboServerTime(key values.MarketKey) (time.Time, bool)
}

type marketLatches struct {
	mu sync.Mutex

	timeRegressionLatched bool
	lastServerTime        time.Time
	hasLastServerTime     bool

	spreadEwma    decimal.Decimal
	hasSpreadEwma bool

	paramChangeLatched bool
	haltLatched        bool
}

// Chain evaluates the nine gates in order for one market at a time.
type Chain struct {
	cfg Config
	agg AggregatorView

	mu       sync.Mutex
	latches  map[values.MarketKey]*marketLatches
	now      func() time.Time
}

func NewChain(cfg Config, agg AggregatorView) *Chain {
	return &Chain{cfg: cfg, agg: agg, latches: make(map[values.MarketKey]*marketLatches), now: time.Now}
}

func (c *Chain) latchesFor(key values.MarketKey) *marketLatches {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.latches[key]
	if !ok {
		l = &marketLatches{}
		c.latches[key] = l
	}
	return l
}

// ResetTimeRegression clears the time-regression latch and the last seen
// server time for a market. Nothing in this module calls it, so once the
// latch is set the market stays blocked until the process restarts.
func (c *Chain) ResetTimeRegression(key values.MarketKey) {
	l := c.latchesFor(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeRegressionLatched = false
	l.hasLastServerTime = false
}

// NotifyParamChange latches gate 7 permanently for this market (until
// process restart).
func (c *Chain) NotifyParamChange(key values.MarketKey) {
	l := c.latchesFor(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paramChangeLatched = true
}

// SetHalted latches or clears gate 8's halt flag.
func (c *Chain) SetHalted(key values.MarketKey, halted bool) {
	l := c.latchesFor(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.haltLatched = halted
}

// Evaluate runs all nine gates for key against snap and spec, in order.
func (c *Chain) Evaluate(key values.MarketKey, snap values.MarketSnapshot, spec values.MarketSpec, isActive bool) Result {
	l := c.latchesFor(key)

	// Gate 1: BBO freshness.
	if c.cfg.MaxBboAgeMs > 0 {
		if age, ok := c.agg.BboAgeMs(key); ok && age > c.cfg.MaxBboAgeMs {
			return block("bbo_freshness", fmt.Sprintf("bbo_age_ms=%d exceeds max=%d", age, c.cfg.MaxBboAgeMs))
		}
	}

	// Gate 2: Ctx freshness (also covers oracle freshness).
	if c.cfg.MaxCtxAgeMs > 0 {
		if age, ok := c.agg.CtxAgeMs(key); ok && age > c.cfg.MaxCtxAgeMs {
			return block("ctx_freshness", fmt.Sprintf("ctx_age_ms=%d exceeds max=%d", age, c.cfg.MaxCtxAgeMs))
		}
	}

	// Gate 3: time regression, latched.
	l.mu.Lock()
	if l.timeRegressionLatched {
		l.mu.Unlock()
		return block("time_regression", "latched until reconnect")
	}
	if serverTime, ok := c.agg.BboServerTime(key); ok {
		if l.hasLastServerTime && l.lastServerTime.After(serverTime) {
			l.timeRegressionLatched = true
			l.mu.Unlock()
			return block("time_regression", "server time moved backwards")
		}
		l.lastServerTime = serverTime
		l.hasLastServerTime = true
	}
	l.mu.Unlock()

	// Gate 4: mark-mid divergence.
	mid, midOk := snap.Bbo.MidPrice()
	if !c.cfg.MaxMarkMidDivergenceBps.IsZero() && midOk && !mid.IsZero() {
		diff := snap.Ctx.Oracle.MarkPx.Decimal().Sub(mid.Decimal()).Abs()
		divergenceBps := diff.Div(mid.Decimal()).Mul(decimal.NewFromInt(10000))
		if divergenceBps.GreaterThan(c.cfg.MaxMarkMidDivergenceBps) {
			return block("mark_mid_divergence", fmt.Sprintf("divergence=%s bps exceeds max=%s", divergenceBps, c.cfg.MaxMarkMidDivergenceBps))
		}
	}

	// Gate 5: spread shock (stateful). EWMA updates only after gates 1-4 pass.
	if midOk && !mid.IsZero() {
		spreadBps, ok := snap.Bbo.SpreadBps()
		if ok {
			l.mu.Lock()
			if !l.hasSpreadEwma {
				l.spreadEwma = spreadBps
				l.hasSpreadEwma = true
			}
			prevEwma := l.spreadEwma
			newEwma := decimal.NewFromFloat(spreadEwmaAlpha).Mul(spreadBps).
				Add(decimal.NewFromFloat(1 - spreadEwmaAlpha).Mul(prevEwma))
			l.spreadEwma = newEwma
			l.mu.Unlock()

			hardMult := c.cfg.SpreadShockMultiplier.Mul(decimal.NewFromInt(2))
			if !prevEwma.IsZero() {
				if spreadBps.GreaterThan(prevEwma.Mul(hardMult)) {
					return block("spread_shock", fmt.Sprintf("spread=%s exceeds 2x shock ewma=%s", spreadBps, prevEwma))
				}
				if spreadBps.GreaterThan(prevEwma.Mul(c.cfg.SpreadShockMultiplier)) {
					return Result{Outcome: OutcomeReduceSize, Gate: "spread_shock", Reason: "mild spread shock", SizeFactor: decimal.NewFromFloat(reduceSizeFactor)}
				}
			}
		}
	}

	// Gate 6: open-interest cap.
	if spec.OiCap.IsPositive() && snap.Ctx.OpenInterest.Decimal().GreaterThanOrEqual(spec.OiCap.Decimal()) {
		return block("oi_cap", fmt.Sprintf("open_interest=%s at/above cap=%s", snap.Ctx.OpenInterest, spec.OiCap))
	}

	// Gate 7: parameter change, latched.
	l.mu.Lock()
	paramChanged := l.paramChangeLatched
	l.mu.Unlock()
	if paramChanged {
		return block("param_change", "material spec change observed; latched until restart")
	}

	// Gate 8: halt.
	l.mu.Lock()
	halted := l.haltLatched
	l.mu.Unlock()
	if !isActive || halted {
		return block("halt", "spec inactive or halt latched")
	}

	// Gate 9: time-of-day blackout.
	now := c.now().UTC()
	tod := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute + time.Duration(now.Second())*time.Second
	for _, w := range c.cfg.BlackoutWindows {
		if w.contains(tod) {
			return block("blackout", fmt.Sprintf("time-of-day %s within blackout window", tod))
		}
	}

	return pass()
}
