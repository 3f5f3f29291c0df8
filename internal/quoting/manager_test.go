package quoting

import (
	"testing"
	"time"

	"github.com/hip3/dislocated/internal/values"
)

func baseManagerConfig() ManagerConfig {
	return ManagerConfig{
		RequoteIntervalMs:       1000,
		MinRequoteChangeBps:     5,
		InventoryWarnRatio:      0.5,
		InventoryEmergencyRatio: 0.9,
		StaleCancelTimeoutMs:    2000,
		AdverseConsecutiveFills: 3,
		AdverseSpreadMultiplier: 2,
		CounterOrderBasePct:     0.3,
		CounterOrderPerLevel:    0.4,
	}
}

func TestAdverseSelectionAppliesMultiplierAtThreshold(t *testing.T) {
	t.Parallel()
	m := NewManager(baseManagerConfig())

	if mult := m.RecordFill(values.Buy); mult != 1 {
		t.Errorf("fill 1: multiplier = %v, want 1", mult)
	}
	if mult := m.RecordFill(values.Buy); mult != 1 {
		t.Errorf("fill 2: multiplier = %v, want 1", mult)
	}
	if mult := m.RecordFill(values.Buy); mult != 2 {
		t.Errorf("fill 3 (threshold): multiplier = %v, want 2", mult)
	}

	// A sell fill resets the counter to 1 under the new direction.
	if mult := m.RecordFill(values.Sell); mult != 1 {
		t.Errorf("fill after direction flip: multiplier = %v, want 1", mult)
	}
	if m.adverseCount != 1 || m.adverseSide != values.Sell {
		t.Errorf("adverse state after flip = (%d, %v), want (1, sell)", m.adverseCount, m.adverseSide)
	}
}

func TestCounterOrderReadsLevelFromStoredQuote(t *testing.T) {
	t.Parallel()
	m := NewManager(baseManagerConfig()) // base=0.3, perLevel=0.4
	fillPx := mustPrice(t, "50000")
	distance := mustPrice(t, "100")

	// A ladder-built quote's Level always reads 0 (see BuildLadder), so
	// even an order from a deep ladder rung yields only the base percentage.
	filled := Quote{Side: values.Buy, Price: fillPx, Size: mustSize(t, "1")}

	q := m.CounterOrder(filled, fillPx, distance, mustSize(t, "1"))

	want := fillPx.Add(distance.Mul(values.DecimalFromFloat(0.3)))
	if !q.Price.Equal(want) {
		t.Errorf("counter price = %s, want %s (base reversion only, level always 0)", q.Price, want)
	}
	if q.Side != values.Sell {
		t.Errorf("counter side = %v, want sell (opposite of the buy fill)", q.Side)
	}
}

func TestCounterOrderReversionCappedAt95Percent(t *testing.T) {
	t.Parallel()
	m := NewManager(baseManagerConfig())
	fillPx := mustPrice(t, "50000")
	distance := mustPrice(t, "100")

	// Even if a caller somehow has a quote with a nonzero Level, the
	// reversion percentage must still cap at 95%.
	filled := Quote{Side: values.Buy, Level: 3, Price: fillPx, Size: mustSize(t, "1")}
	q := m.CounterOrder(filled, fillPx, distance, mustSize(t, "1"))

	want := fillPx.Add(distance.Mul(values.DecimalFromFloat(0.95)))
	if !q.Price.Equal(want) {
		t.Errorf("counter price = %s, want %s (95%% cap)", q.Price, want)
	}
}

func TestStaleCancelHaltsUntilAllAcked(t *testing.T) {
	t.Parallel()
	m := NewManager(baseManagerConfig())
	start := time.Now()

	m.RecordCancelSent("order-1", start)
	if m.CheckStaleCancels(start.Add(500 * time.Millisecond)) {
		t.Fatal("should not halt before timeout")
	}
	if !m.CheckStaleCancels(start.Add(3 * time.Second)) {
		t.Fatal("should halt once a cancel exceeds the stale timeout")
	}
	m.RecordCancelAcked("order-1")
	if m.Halted() {
		t.Error("should resume once the only pending cancel is acked")
	}
}

func TestShouldRequoteOnIntervalOrChange(t *testing.T) {
	t.Parallel()
	m := NewManager(baseManagerConfig())
	oracle := mustPrice(t, "50000")
	now := time.Now()

	if !m.ShouldRequote(now, oracle) {
		t.Fatal("first call with no prior quote should always requote")
	}
	m.RecordQuoted(now, oracle)

	if m.ShouldRequote(now.Add(100*time.Millisecond), mustPrice(t, "50001")) {
		t.Error("small change within the interval should not requote")
	}
	if !m.ShouldRequote(now.Add(2*time.Second), oracle) {
		t.Error("elapsed interval alone should trigger a requote")
	}
	if !m.ShouldRequote(now.Add(10*time.Millisecond), mustPrice(t, "50100")) {
		t.Error("oracle move beyond min_requote_change_bps should trigger a requote")
	}
}

func TestInventoryThresholdClassification(t *testing.T) {
	t.Parallel()
	m := NewManager(baseManagerConfig())
	if lvl := m.InventoryThreshold(0.2); lvl != InventoryNormal {
		t.Errorf("ratio 0.2 = %v, want Normal", lvl)
	}
	if lvl := m.InventoryThreshold(-0.6); lvl != InventoryWarn {
		t.Errorf("ratio -0.6 = %v, want Warn", lvl)
	}
	if lvl := m.InventoryThreshold(0.95); lvl != InventoryEmergency {
		t.Errorf("ratio 0.95 = %v, want Emergency", lvl)
	}
	if got := SideToReduce(0.6); got != values.Buy {
		t.Errorf("net long should reduce the Buy side, got %v", got)
	}
	if got := SideToReduce(-0.6); got != values.Sell {
		t.Errorf("net short should reduce the Sell side, got %v", got)
	}
}
