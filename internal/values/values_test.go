package values

import (
	"testing"

	"github.com/shopspring/decimal"
)

func mustPrice(t *testing.T, s string) Price {
	t.Helper()
	p, err := ParsePrice(s)
	if err != nil {
		t.Fatalf("ParsePrice(%q): %v", s, err)
	}
	return p
}

func mustSize(t *testing.T, s string) Size {
	t.Helper()
	sz, err := ParseSize(s)
	if err != nil {
		t.Fatalf("ParseSize(%q): %v", s, err)
	}
	return sz
}

func TestBboStateTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		bid, ask string
		want     BboState
	}{
		{"empty", "0", "0", BboEmpty},
		{"no_ask", "10", "0", BboNoAsk},
		{"no_bid", "0", "10", BboNoBid},
		{"valid", "9", "10", BboValid},
		{"invalid_crossed", "11", "10", BboInvalid},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			b := Bbo{
				Bid: BboLevel{Price: mustPrice(t, c.bid), Size: mustSize(t, "1")},
				Ask: BboLevel{Price: mustPrice(t, c.ask), Size: mustSize(t, "1")},
			}
			if c.bid == "0" {
				b.Bid.Size = ZeroSize
			}
			if c.ask == "0" {
				b.Ask.Size = ZeroSize
			}
			if got := b.State(); got != c.want {
				t.Errorf("State() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestMidPriceOnlyDefinedWhenValid(t *testing.T) {
	t.Parallel()

	valid := Bbo{
		Bid: BboLevel{Price: mustPrice(t, "9"), Size: mustSize(t, "1")},
		Ask: BboLevel{Price: mustPrice(t, "11"), Size: mustSize(t, "1")},
	}
	mid, ok := valid.MidPrice()
	if !ok {
		t.Fatal("expected mid price to be defined for a valid book")
	}
	if !mid.Equal(mustPrice(t, "10")) {
		t.Errorf("mid = %v, want 10", mid)
	}

	invalid := Bbo{
		Bid: BboLevel{Price: mustPrice(t, "11"), Size: mustSize(t, "1")},
		Ask: BboLevel{Price: mustPrice(t, "9"), Size: mustSize(t, "1")},
	}
	if _, ok := invalid.MidPrice(); ok {
		t.Error("expected mid price to be undefined for an invalid book")
	}
}

func TestRoundToTickFavorsUnfavorableDirection(t *testing.T) {
	t.Parallel()

	tick := mustPrice(t, "0.01")
	p := mustPrice(t, "10.004")

	buy := p.RoundToTick(tick, Buy)
	if !buy.Equal(mustPrice(t, "10.01")) {
		t.Errorf("buy round = %v, want 10.01", buy)
	}

	sell := p.RoundToTick(tick, Sell)
	if !sell.Equal(mustPrice(t, "10.00")) {
		t.Errorf("sell round = %v, want 10.00", sell)
	}
}

func TestTickDecimals(t *testing.T) {
	t.Parallel()
	if got := TickDecimals(mustPrice(t, "0.01")); got != 2 {
		t.Errorf("TickDecimals(0.01) = %d, want 2", got)
	}
	if got := TickDecimals(mustPrice(t, "1")); got != 0 {
		t.Errorf("TickDecimals(1) = %d, want 0", got)
	}
}

func TestClassifyStrengthBoundaries(t *testing.T) {
	t.Parallel()
	threshold := decimal.NewFromInt(10)

	if got := ClassifyStrength(decimal.NewFromInt(10), threshold); got != StrengthNone {
		t.Errorf("at threshold = %v, want None", got)
	}
	if got := ClassifyStrength(decimal.NewFromInt(12), threshold); got != StrengthWeak {
		t.Errorf("1.2x threshold = %v, want Weak", got)
	}
	if got := ClassifyStrength(decimal.NewFromInt(25), threshold); got != StrengthModerate {
		t.Errorf("2.5x threshold = %v, want Moderate", got)
	}
	if got := ClassifyStrength(decimal.NewFromInt(100), threshold); got != StrengthStrong {
		t.Errorf("10x threshold = %v, want Strong", got)
	}
}

func TestExternalAssetId(t *testing.T) {
	t.Parallel()
	if got := ExternalAssetId(2, 5); got != 120005 {
		t.Errorf("ExternalAssetId(2,5) = %d, want 120005", got)
	}
}
