// Package fees computes the total cost threshold a dislocation must clear.
// The tenant applies a 2x multiplier on the base taker fee relative to the
// outer exchange's tier rate; this package is the single source of truth
// for that multiplier and the audit trail it produces.
package fees

import (
	"github.com/shopspring/decimal"

	"github.com/hip3/dislocated/internal/values"
)

// TakerMultiplier is the tenant-specific multiplier applied to the base
// taker fee rate.
var TakerMultiplier = decimal.NewFromInt(2)

// Calculator computes effective and total cost bps from the configured
// slippage and minimum-edge buffers.
type Calculator struct {
	SlippageBps decimal.Decimal
	MinEdgeBps  decimal.Decimal
}

func New(slippageBps, minEdgeBps decimal.Decimal) *Calculator {
	return &Calculator{SlippageBps: slippageBps, MinEdgeBps: minEdgeBps}
}

// TotalCostBps returns the total bps a raw edge must exceed, plus the full
// audit record of how it was derived.
func (c *Calculator) TotalCostBps(baseTakerBps decimal.Decimal) (decimal.Decimal, values.FeeMetadata) {
	effective := baseTakerBps.Mul(TakerMultiplier)
	total := effective.Add(c.SlippageBps).Add(c.MinEdgeBps)
	meta := values.FeeMetadata{
		BaseTakerBps:      baseTakerBps,
		Multiplier:        TakerMultiplier,
		EffectiveTakerBps: effective,
		SlippageBps:       c.SlippageBps,
		MinEdgeBps:        c.MinEdgeBps,
		TotalCostBps:      total,
	}
	return total, meta
}

// Crosses reports whether the given side's best price has crossed the
// oracle by enough to cover totalCostBps.
//
// Buy crosses when ask <= oracle * (1 - total/10000).
// Sell crosses when bid >= oracle * (1 + total/10000).
func Crosses(side values.Side, bestPx, oraclePx values.Price, totalCostBps decimal.Decimal) bool {
	factor := totalCostBps.Div(decimal.NewFromInt(10000))
	oracle := oraclePx.Decimal()
	switch side {
	case values.Buy:
		threshold := oracle.Mul(decimal.NewFromInt(1).Sub(factor))
		return bestPx.Decimal().LessThanOrEqual(threshold)
	default:
		threshold := oracle.Mul(decimal.NewFromInt(1).Add(factor))
		return bestPx.Decimal().GreaterThanOrEqual(threshold)
	}
}
