package tradeready

import (
	"testing"
	"time"
)

func TestReadyClosesOnlyWhenAllFourConditionsTrue(t *testing.T) {
	t.Parallel()
	l := New()

	select {
	case <-l.Ready():
		t.Fatal("should not be ready with no conditions set")
	default:
	}

	l.Set(MarketDataReady, true)
	l.Set(SpecsLoaded, true)
	l.Set(PreflightComplete, true)
	select {
	case <-l.Ready():
		t.Fatal("should not be ready with one condition still unset")
	default:
	}

	l.Set(NonceSynced, true)
	select {
	case <-l.Ready():
	case <-time.After(time.Second):
		t.Fatal("expected Ready() to close once all four conditions are true")
	}
	if !l.IsReady() {
		t.Error("IsReady() should report true")
	}
}

func TestClearingAConditionAfterReadyDoesNotReopenTheChannel(t *testing.T) {
	t.Parallel()
	l := New()
	for c := Condition(0); c < numConditions; c++ {
		l.Set(c, true)
	}
	<-l.Ready() // already closed

	l.Set(MarketDataReady, false)
	select {
	case <-l.Ready():
		// still closed, as expected: a single-shot latch never reopens.
	default:
		t.Fatal("Ready() channel should remain closed after a flap")
	}
	if l.IsReady() {
		t.Error("IsReady() should reflect the current flag state, not the latch")
	}
}
