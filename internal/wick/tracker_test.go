package wick

import (
	"testing"
	"time"

	"github.com/hip3/dislocated/internal/values"
)

func mustPrice(t *testing.T, s string) values.Price {
	t.Helper()
	p, err := values.ParsePrice(s)
	if err != nil {
		t.Fatalf("ParsePrice(%q): %v", s, err)
	}
	return p
}

func testKey() values.MarketKey { return values.MarketKey{Dex: 1, Asset: 1} }

func TestObserveFinalizesOnSecondBoundary(t *testing.T) {
	t.Parallel()
	tr := New(Config{RingSize: 10, MinJumpRatio: 2})
	key := testKey()
	mid := mustPrice(t, "50000")
	base := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	tr.Observe(key, mustPrice(t, "50000"), mid, base)
	tr.Observe(key, mustPrice(t, "50050"), mid, base) // same second, raises high
	tr.Observe(key, mustPrice(t, "49980"), mid, base) // same second, lowers low
	if tr.SampleCount(key) != 0 {
		t.Fatalf("no wick should finalize within the same second, got %d samples", tr.SampleCount(key))
	}

	tr.Observe(key, mustPrice(t, "50000"), mid, base.Add(time.Second)) // next second finalizes the first
	if tr.SampleCount(key) != 1 {
		t.Fatalf("expected 1 finalized wick after crossing a second boundary, got %d", tr.SampleCount(key))
	}
}

func TestRingBufferCapsAtConfiguredSize(t *testing.T) {
	t.Parallel()
	tr := New(Config{RingSize: 3, MinJumpRatio: 2})
	key := testKey()
	mid := mustPrice(t, "50000")
	base := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		tr.Observe(key, mustPrice(t, "50000"), mid, base.Add(time.Duration(i)*time.Second))
	}
	if got := tr.SampleCount(key); got != 3 {
		t.Errorf("ring size = %d, want capped at 3", got)
	}
}

func TestPercentilesComputedFromSortedRing(t *testing.T) {
	t.Parallel()
	tr := New(Config{RingSize: 100, MinJumpRatio: 2})
	key := testKey()
	mid := mustPrice(t, "50000")
	base := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	// Observe a flat sequence except one wide second to create a known
	// distribution: most wicks 0 bps, one larger.
	for i := 0; i < 50; i++ {
		px := "50000"
		if i == 25 {
			px = "50500" // one second with a much larger high
		}
		tr.Observe(key, mustPrice(t, px), mid, base.Add(time.Duration(i)*time.Second))
		if i == 25 {
			// a second observation in the same second gives it a low of 50000
			tr.Observe(key, mustPrice(t, "50000"), mid, base.Add(time.Duration(i)*time.Second))
		}
	}
	tr.Observe(key, mustPrice(t, "50000"), mid, base.Add(51*time.Second))

	pcts := tr.Percentiles(key)
	if pcts[100] <= pcts[90] {
		t.Errorf("P100 (%v) should exceed P90 (%v) given one outlier second", pcts[100], pcts[90])
	}
}

func TestOptimalWickFallsBackToP99WithNoCliff(t *testing.T) {
	t.Parallel()
	tr := New(Config{RingSize: 100, MinJumpRatio: 1000}) // impossibly high bar, no cliff will qualify
	key := testKey()
	mid := mustPrice(t, "50000")
	base := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		tr.Observe(key, mustPrice(t, "50010"), mid, base.Add(time.Duration(i)*time.Second))
	}
	tr.Observe(key, mustPrice(t, "50000"), mid, base.Add(21*time.Second))

	pcts := tr.Percentiles(key)
	if got := tr.OptimalWickBps(key); got != pcts[99] {
		t.Errorf("optimal wick = %v, want P99 (%v) fallback since no cliff qualifies", got, pcts[99])
	}
}

func TestWickClampedAt500Bps(t *testing.T) {
	t.Parallel()
	tr := New(Config{RingSize: 10, MinJumpRatio: 2})
	key := testKey()
	mid := mustPrice(t, "50000")
	base := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	tr.Observe(key, mustPrice(t, "40000"), mid, base) // huge swing, > 500bps
	tr.Observe(key, mustPrice(t, "60000"), mid, base)
	tr.Observe(key, mustPrice(t, "50000"), mid, base.Add(time.Second))

	pcts := tr.Percentiles(key)
	if pcts[100] != maxWickBps {
		t.Errorf("wick should clamp to %v bps, got %v", maxWickBps, pcts[100])
	}
}
