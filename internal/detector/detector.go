// Package detector implements the dislocation-detection algorithm: for a
// market snapshot that has already cleared the risk-gate chain, compute the
// raw edge against the oracle on each side, apply the configured filters,
// and if a side qualifies, size and emit a Signal.
package detector

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hip3/dislocated/internal/fees"
	"github.com/hip3/dislocated/internal/oracle"
	"github.com/hip3/dislocated/internal/values"
)

// Config holds the detector's tunables.
type Config struct {
	OracleDirectionFilter     bool
	MinOracleChangeBps        decimal.Decimal
	MinConsecutiveOracleMoves int
	MinQuoteLagMs             int64 // 0 disables
	MaxQuoteLagMs             int64 // 0 disables

	SizingAlpha       decimal.Decimal
	MinBookNotional   decimal.Decimal
	NormalBookNotional decimal.Decimal
	MaxNotional       decimal.Decimal
	MinOrderNotional  decimal.Decimal
}

// Detector evaluates snapshots for dislocation signals.
type Detector struct {
	cfg  Config
	fees *fees.Calculator
	now  func() uuid.UUID
}

func New(cfg Config, feeCalc *fees.Calculator) *Detector {
	return &Detector{cfg: cfg, fees: feeCalc, now: uuid.New}
}

// Check evaluates both sides, buy first, and returns at most one signal.
// thresholdOverride, if non-nil, replaces the fee calculator's total cost
// as the edge threshold. tracker and oracleAgeMs are optional (nil to
// disable the filters that depend on them).
func (d *Detector) Check(
	key values.MarketKey,
	snap values.MarketSnapshot,
	spec values.MarketSpec,
	thresholdOverride *decimal.Decimal,
	tracker *oracle.Tracker,
	oracleAgeMs *int64,
) (*values.Signal, error) {
	if snap.Bbo.State() != values.BboValid {
		return nil, nil
	}

	mid, ok := snap.Bbo.MidPrice()
	if !ok || mid.IsZero() {
		return nil, nil
	}

	for _, side := range []values.Side{values.Buy, values.Sell} {
		sig, err := d.checkSide(key, side, snap, spec, mid, thresholdOverride, tracker, oracleAgeMs)
		if err != nil {
			return nil, err
		}
		if sig != nil {
			return sig, nil
		}
	}
	return nil, nil
}

func (d *Detector) checkSide(
	key values.MarketKey,
	side values.Side,
	snap values.MarketSnapshot,
	spec values.MarketSpec,
	mid values.Price,
	thresholdOverride *decimal.Decimal,
	tracker *oracle.Tracker,
	oracleAgeMs *int64,
) (*values.Signal, error) {
	oraclePx := snap.Ctx.Oracle.OraclePx
	if oraclePx.IsZero() {
		return nil, nil
	}

	var bestPx values.Price
	var bestSize values.Size
	var rawEdge decimal.Decimal

	switch side {
	case values.Buy:
		bestPx = snap.Bbo.Ask.Price
		bestSize = snap.Bbo.Ask.Size
		rawEdge = oraclePx.Decimal().Sub(bestPx.Decimal()).Div(oraclePx.Decimal()).Mul(decimal.NewFromInt(10000))
	default:
		bestPx = snap.Bbo.Bid.Price
		bestSize = snap.Bbo.Bid.Size
		rawEdge = bestPx.Decimal().Sub(oraclePx.Decimal()).Div(oraclePx.Decimal()).Mul(decimal.NewFromInt(10000))
	}

	if !rawEdge.IsPositive() {
		return nil, nil
	}

	threshold, meta := d.fees.TotalCostBps(spec.TakerFeeBps)
	if thresholdOverride != nil {
		threshold = *thresholdOverride
	}

	strength := values.ClassifyStrength(rawEdge, threshold)
	if strength == values.StrengthNone {
		return nil, nil
	}

	if d.cfg.OracleDirectionFilter {
		if tracker == nil || !tracker.HasPrevious(key) {
			return nil, nil // first tick always fails the direction filter
		}
		needed := oracle.Up
		if side == values.Sell {
			needed = oracle.Down
		}
		if tracker.Direction(key) != needed {
			return nil, nil
		}
	}

	if tracker != nil && tracker.VelocityBps(key).LessThan(d.cfg.MinOracleChangeBps) {
		return nil, nil
	}

	if d.cfg.MinConsecutiveOracleMoves > 0 && tracker != nil {
		if tracker.ConsecutiveWith(key, side) < d.cfg.MinConsecutiveOracleMoves {
			return nil, nil
		}
	}

	if oracleAgeMs != nil {
		age := *oracleAgeMs
		if d.cfg.MinQuoteLagMs > 0 && age < d.cfg.MinQuoteLagMs {
			return nil, nil
		}
		if d.cfg.MaxQuoteLagMs > 0 && age > d.cfg.MaxQuoteLagMs {
			return nil, nil
		}
	}

	suggestedSize, ok := d.computeSize(bestPx, bestSize, mid)
	if !ok {
		return nil, nil
	}

	return &values.Signal{
		SignalId:      d.now().String(),
		MarketKey:     key,
		Side:          side,
		RawEdgeBps:    rawEdge,
		NetEdgeBps:    rawEdge.Sub(threshold),
		Strength:      strength,
		OraclePx:      oraclePx,
		BestPx:        bestPx,
		BestSize:      bestSize,
		SuggestedSize: suggestedSize,
		FeeMeta:       meta,
	}, nil
}

// computeSize implements the liquidity-aware sizing algorithm in §4.G. The
// 1% buffer on max_notional is computed against mid_price (one of two
// unspecified interpretations in the source; see DESIGN.md open question 3).
func (d *Detector) computeSize(sidePrice values.Price, bookSize values.Size, mid values.Price) (values.Size, bool) {
	bookNotional := bookSize.Decimal().Mul(sidePrice.Decimal())

	spread := d.cfg.NormalBookNotional.Sub(d.cfg.MinBookNotional)
	var liquidityFactor decimal.Decimal
	if spread.IsZero() {
		if bookNotional.GreaterThanOrEqual(d.cfg.NormalBookNotional) {
			liquidityFactor = decimal.NewFromInt(1)
		}
	} else {
		lf := bookNotional.Sub(d.cfg.MinBookNotional).Div(spread)
		liquidityFactor = clamp(lf, decimal.Zero, decimal.NewFromInt(1))
	}
	if liquidityFactor.IsZero() {
		return values.ZeroSize, false
	}

	alphaSize := bookSize.Decimal().Mul(d.cfg.SizingAlpha).Mul(liquidityFactor)

	maxSize := d.cfg.MaxNotional.Mul(decimal.NewFromFloat(0.99)).Div(mid.Decimal())
	minSize := d.cfg.MinOrderNotional.Div(mid.Decimal())

	suggested := clamp(alphaSize, minSize, maxSize)
	if !suggested.IsPositive() {
		return values.ZeroSize, false
	}
	return values.NewSize(suggested), true
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
