package marketstate

import (
	"testing"
	"time"

	"github.com/hip3/dislocated/internal/values"
)

func TestGetSnapshotRequiresBothBboAndCtx(t *testing.T) {
	t.Parallel()
	a := New()
	key := values.MarketKey{Dex: 0, Asset: 1}

	if _, ok := a.GetSnapshot(key); ok {
		t.Fatal("expected no snapshot before any update")
	}

	a.UpdateBbo(key, values.Bbo{}, nil)
	if _, ok := a.GetSnapshot(key); ok {
		t.Fatal("expected no snapshot with only BBO present")
	}

	a.UpdateCtx(key, values.AssetCtx{})
	if _, ok := a.GetSnapshot(key); !ok {
		t.Fatal("expected snapshot once both BBO and ctx are present")
	}
}

func TestBboAgeDecreasesBetweenObservations(t *testing.T) {
	t.Parallel()
	a := New()
	key := values.MarketKey{Dex: 0, Asset: 1}

	a.UpdateBbo(key, values.Bbo{}, nil)
	time.Sleep(5 * time.Millisecond)
	age1, ok := a.BboAgeMs(key)
	if !ok {
		t.Fatal("expected age to be defined")
	}
	time.Sleep(5 * time.Millisecond)
	age2, _ := a.BboAgeMs(key)
	if age2 <= age1 {
		t.Errorf("age did not increase: age1=%d age2=%d", age1, age2)
	}

	a.UpdateBbo(key, values.Bbo{}, nil)
	age3, _ := a.BboAgeMs(key)
	if age3 >= age2 {
		t.Errorf("age did not reset on re-update: age2=%d age3=%d", age2, age3)
	}
}

func TestOracleChangedAtOnlyAdvancesOnChange(t *testing.T) {
	t.Parallel()
	a := New()
	key := values.MarketKey{Dex: 0, Asset: 1}

	px, _ := values.ParsePrice("100")
	ctx := values.AssetCtx{Oracle: values.OracleData{OraclePx: px}}

	a.UpdateCtx(key, ctx)
	age1, _ := a.OracleAgeMs(key)

	time.Sleep(5 * time.Millisecond)
	a.UpdateCtx(key, ctx) // same price: oracle_changed_at must not advance
	age2, _ := a.OracleAgeMs(key)
	if age2 < age1 {
		t.Errorf("oracle age should only grow while price is unchanged: age1=%d age2=%d", age1, age2)
	}

	px2, _ := values.ParsePrice("101")
	a.UpdateCtx(key, values.AssetCtx{Oracle: values.OracleData{OraclePx: px2}})
	age3, _ := a.OracleAgeMs(key)
	if age3 >= age2 {
		t.Errorf("oracle age should reset when price changes: age2=%d age3=%d", age2, age3)
	}
}
