package quoting

import (
	"sync"
	"time"

	"github.com/hip3/dislocated/internal/values"
)

// InventoryLevel classifies how exposed a market's inventory is.
type InventoryLevel int

const (
	InventoryNormal InventoryLevel = iota
	InventoryWarn
	InventoryEmergency
)

// ManagerConfig tunes one market's quote lifecycle.
type ManagerConfig struct {
	RequoteIntervalMs     int64
	MinRequoteChangeBps   float64
	InventoryWarnRatio    float64 // abs(ratio) threshold
	InventoryEmergencyRatio float64

	StaleCancelTimeoutMs int64

	AdverseConsecutiveFills int
	AdverseSpreadMultiplier float64

	CounterOrderEnabled  bool
	CounterOrderBasePct  float64
	CounterOrderPerLevel float64
}

// Manager owns one market's quote lifecycle state: single-writer (the
// orchestrator or MM task), multi-reader (dashboard) per spec §5 — the
// mutex here protects against the dashboard read path, not concurrent
// writers.
type Manager struct {
	cfg ManagerConfig

	mu sync.RWMutex

	lastQuoteAt    time.Time
	lastQuoteOracle values.Price
	hasQuoted      bool

	pendingCancels map[string]time.Time
	halted         bool

	adverseSide  values.Side
	adverseCount int
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:            cfg,
		pendingCancels: make(map[string]time.Time),
	}
}

// ShouldRequote reports whether a new ladder must be generated: either the
// requote interval elapsed or the oracle moved by at least the configured
// threshold since the last quote.
func (m *Manager) ShouldRequote(now time.Time, oracle values.Price) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasQuoted {
		return true
	}
	if now.Sub(m.lastQuoteAt) >= time.Duration(m.cfg.RequoteIntervalMs)*time.Millisecond {
		return true
	}
	changeBps := changeBps(m.lastQuoteOracle, oracle)
	return changeBps >= m.cfg.MinRequoteChangeBps
}

func changeBps(prev, cur values.Price) float64 {
	if prev.IsZero() {
		return 0
	}
	diff := cur.Sub(prev).Decimal()
	ratio, _ := diff.Div(prev.Decimal()).Abs().Float64()
	return ratio * 10000
}

// RecordQuoted marks that a ladder was just (re)generated at oracle.
func (m *Manager) RecordQuoted(now time.Time, oracle values.Price) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuoteAt = now
	m.lastQuoteOracle = oracle
	m.hasQuoted = true
}

// InventoryThreshold classifies the current inventory ratio (in [-1, 1]).
func (m *Manager) InventoryThreshold(ratio float64) InventoryLevel {
	abs := ratio
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= m.cfg.InventoryEmergencyRatio:
		return InventoryEmergency
	case abs >= m.cfg.InventoryWarnRatio:
		return InventoryWarn
	default:
		return InventoryNormal
	}
}

// SideToReduce returns which side to drop under an inventory-warn condition:
// the side that would increase exposure further (a long position should
// stop adding bids; a short position should stop adding asks).
func SideToReduce(ratio float64) values.Side {
	if ratio > 0 {
		return values.Buy
	}
	return values.Sell
}

// RecordCancelSent tracks an unacknowledged cancel for stale-cancel
// detection.
func (m *Manager) RecordCancelSent(orderID string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingCancels[orderID] = now
}

// RecordCancelAcked clears a pending cancel. Quoting resumes once every
// pending cancel is acked.
func (m *Manager) RecordCancelAcked(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pendingCancels, orderID)
	if len(m.pendingCancels) == 0 {
		m.halted = false
	}
}

// CheckStaleCancels halts quoting for this Manager's market if any pending
// cancel has gone unacknowledged longer than the configured timeout. The
// halt is per Manager; Managers of other markets keep quoting.
func (m *Manager) CheckStaleCancels(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	timeout := time.Duration(m.cfg.StaleCancelTimeoutMs) * time.Millisecond
	for _, sentAt := range m.pendingCancels {
		if now.Sub(sentAt) > timeout {
			m.halted = true
			break
		}
	}
	return m.halted
}

// Halted reports whether quoting is currently suspended for stale cancels.
func (m *Manager) Halted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted
}

// RecordFill updates the adverse-selection consecutive-fill counter and
// returns the spread multiplier to apply to the next ladder. A fill on the
// same side as the running streak extends it; a fill on the other side
// resets the counter to 1 under the new direction.
func (m *Manager) RecordFill(side values.Side) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.adverseCount > 0 && m.adverseSide == side {
		m.adverseCount++
	} else {
		m.adverseSide = side
		m.adverseCount = 1
	}

	if m.adverseCount >= m.cfg.AdverseConsecutiveFills {
		return m.cfg.AdverseSpreadMultiplier
	}
	return 1
}

// CounterOrder computes the optional reduce-price counter-order placed on
// the opposite side after a fill: fill_px ± distance*reversion_pct, with
// reversion_pct = base + per_level*filledQuote.Level capped at 95%.
// filledQuote is the originally stored ladder quote that just filled;
// since BuildLadder never populates Level with its ladder index (see
// ladder.go), filledQuote.Level always reads 0 here, so in practice only
// the base reversion percentage ever applies. Preserved as observed rather
// than "fixed" — the spec flags the intended per-level behavior as
// ambiguous.
func (m *Manager) CounterOrder(filledQuote Quote, fillPx values.Price, distance values.Price, size values.Size) Quote {
	reversionPct := m.cfg.CounterOrderBasePct + m.cfg.CounterOrderPerLevel*float64(filledQuote.Level)
	if reversionPct > 0.95 {
		reversionPct = 0.95
	}

	move := distance.Mul(values.DecimalFromFloat(reversionPct))
	counterSide := filledQuote.Side.Opposite()

	var price values.Price
	if counterSide == values.Sell {
		price = fillPx.Add(move)
	} else {
		price = fillPx.Sub(move)
	}

	return Quote{Side: counterSide, Price: price, Size: size}
}
