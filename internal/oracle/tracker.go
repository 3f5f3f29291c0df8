// Package oracle tracks, per market, the direction and velocity of the
// oracle price so the detector can require a confirmed trend before
// emitting a signal. Grounded on the teacher's rolling-window flow tracker:
// a single mutex guards a small per-market state struct that is classified
// and updated in one step.
package oracle

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/hip3/dislocated/internal/values"
)

// Movement is the classification of a single oracle price observation.
type Movement int

const (
	Unchanged Movement = iota
	Up
	Down
)

type state struct {
	mu sync.Mutex

	hasPrev bool
	prevPx  values.Price

	consecutiveUp   int
	consecutiveDown int
	velocityBps     decimal.Decimal
}

// Tracker holds per-market oracle movement state.
type Tracker struct {
	minMoveBps decimal.Decimal

	mu      sync.RWMutex
	markets map[values.MarketKey]*state
}

// New creates a tracker. minMoveBps is the threshold below which a price
// change is considered noise (Unchanged).
func New(minMoveBps decimal.Decimal) *Tracker {
	return &Tracker{minMoveBps: minMoveBps, markets: make(map[values.MarketKey]*state)}
}

func (t *Tracker) stateFor(key values.MarketKey) *state {
	t.mu.RLock()
	s, ok := t.markets[key]
	t.mu.RUnlock()
	if ok {
		return s
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.markets[key]; ok {
		return s
	}
	s = &state{}
	t.markets[key] = s
	return s
}

// RecordMove classifies and applies a new oracle price observation,
// returning the classification.
func (t *Tracker) RecordMove(key values.MarketKey, px values.Price) Movement {
	s := t.stateFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasPrev {
		s.hasPrev = true
		s.prevPx = px
		return Unchanged
	}

	prev := s.prevPx.Decimal()
	if prev.IsZero() {
		s.prevPx = px
		return Unchanged
	}

	delta := px.Decimal().Sub(prev)
	changeBps := delta.Div(prev).Abs().Mul(decimal.NewFromInt(10000))

	s.prevPx = px

	if changeBps.LessThan(t.minMoveBps) {
		// Unchanged: counts preserved, velocity cleared. A pause does not
		// negate the trend; the opposite-direction side just gets more
		// time to catch up.
		s.velocityBps = decimal.Zero
		return Unchanged
	}

	if delta.IsPositive() {
		s.consecutiveUp++
		s.consecutiveDown = 0
		s.velocityBps = changeBps
		return Up
	}

	s.consecutiveDown++
	s.consecutiveUp = 0
	s.velocityBps = changeBps
	return Down
}

// ConsecutiveWith returns the streak length in the same direction as side
// (Buy implies Rising/Up, Sell implies Falling/Down).
func (t *Tracker) ConsecutiveWith(key values.MarketKey, side values.Side) int {
	s := t.stateFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if side == values.Buy {
		return s.consecutiveUp
	}
	return s.consecutiveDown
}

// ConsecutiveAgainst returns the streak length in the opposite direction of side.
func (t *Tracker) ConsecutiveAgainst(key values.MarketKey, side values.Side) int {
	return t.ConsecutiveWith(key, side.Opposite())
}

// VelocityBps returns the magnitude in bps of the last non-trivial move.
func (t *Tracker) VelocityBps(key values.MarketKey) decimal.Decimal {
	s := t.stateFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.velocityBps
}

// Direction reports the current trend direction, or Unchanged if no move
// has ever been recorded (including the first tick, which always has no
// previous oracle to compare against).
func (t *Tracker) Direction(key values.MarketKey) Movement {
	s := t.stateFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.consecutiveUp > 0:
		return Up
	case s.consecutiveDown > 0:
		return Down
	default:
		return Unchanged
	}
}

// HasPrevious reports whether at least one oracle observation has been
// recorded for key; the detector's direction filter always fails on the
// first tick when this is false.
func (t *Tracker) HasPrevious(key values.MarketKey) bool {
	s := t.stateFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasPrev
}
