// Package quoting builds oracle-centered multi-level quote ladders and owns
// the per-market quote lifecycle (re-quote timing, inventory thresholds,
// stale-cancel halt, adverse-selection widening, counter-orders).
// Grounded on the teacher's internal/strategy/maker.go computeQuotes (single
// bid/ask Avellaneda-Stoikov pair, generalized here to an N-level ladder)
// and inventory.go's NetDelta skew term.
package quoting

import (
	"math"

	"github.com/hip3/dislocated/internal/values"
)

type OffsetGrowth int

const (
	Linear OffsetGrowth = iota
	Exponential
)

type SizeDistribution int

const (
	Uniform SizeDistribution = iota
	Convex
)

// LadderConfig parameterizes one ladder-build call. SpreadMultiplier is the
// adverse-selection widening factor (1.0 under normal conditions).
type LadderConfig struct {
	Levels        int
	OffsetGrowth  OffsetGrowth
	MinOffsetBps  float64
	RangeUpperBps float64
	FeeBufferBps  float64

	DynamicOffsetEnabled    bool
	DynamicOffsetMultiplier float64

	InventoryK      float64
	VelocitySkewOn  bool
	VelocityV       float64
	SpreadMultiplier float64

	SizeDistribution SizeDistribution
	BaseSize         values.Size
	ConvexGrowth     float64 // extra fraction of base size added per outer level
}

// Quote is one rung of the ladder. BuildLadder does not set Level, so it
// stays at its zero value, which is what the counter-order path in Manager
// reads.
type Quote struct {
	Side  values.Side
	Level int
	Price values.Price
	Size  values.Size
}

// EffectiveMinOffsetBps is effective_min_offset from the spec: when dynamic
// offset is enabled it is the largest of the wick-derived floor, the
// configured minimum, and the fee buffer; otherwise it is just the
// configured minimum.
func EffectiveMinOffsetBps(cfg LadderConfig, optimalWickBps float64) float64 {
	if !cfg.DynamicOffsetEnabled {
		return cfg.MinOffsetBps
	}
	eff := optimalWickBps * cfg.DynamicOffsetMultiplier
	if cfg.MinOffsetBps > eff {
		eff = cfg.MinOffsetBps
	}
	if cfg.FeeBufferBps > eff {
		eff = cfg.FeeBufferBps
	}
	return eff
}

// BuildLadder generates the bid and ask ladders around oracle. inventoryRatio
// is in [-1, 1] (positive = net long); trend is in [-1, 1] and only applied
// when VelocitySkewOn.
func BuildLadder(oracle values.Price, cfg LadderConfig, optimalWickBps, inventoryRatio, trend float64) []Quote {
	if cfg.Levels <= 0 {
		return nil
	}
	effMin := EffectiveMinOffsetBps(cfg, optimalWickBps)
	spreadMult := cfg.SpreadMultiplier
	if spreadMult <= 0 {
		spreadMult = 1
	}

	quotes := make([]Quote, 0, cfg.Levels*2)
	for i := 0; i < cfg.Levels; i++ {
		base := growthOffset(i, cfg.Levels, effMin, cfg.RangeUpperBps, cfg.OffsetGrowth)
		size := sizeForLevel(i, cfg)

		bidBps := base * (1 + cfg.InventoryK*inventoryRatio)
		askBps := base * (1 - cfg.InventoryK*inventoryRatio)
		if cfg.VelocitySkewOn {
			bidBps *= 1 + cfg.VelocityV*trend
			askBps *= 1 - cfg.VelocityV*trend
		}
		bidBps *= spreadMult
		askBps *= spreadMult

		bidBps = math.Max(bidBps, 1)
		askBps = math.Max(askBps, 1)

		// Quote.Level is never set to i here: the stored quote's level
		// always reads 0 downstream, which is what the counter-order path
		// observes when a fill references this order (see Manager.CounterOrder).
		quotes = append(quotes,
			Quote{Side: values.Buy, Price: offsetPrice(oracle, bidBps, values.Buy), Size: size},
			Quote{Side: values.Sell, Price: offsetPrice(oracle, askBps, values.Sell), Size: size},
		)
	}
	return quotes
}

func growthOffset(level, levels int, effMin, rangeUpper float64, growth OffsetGrowth) float64 {
	if levels == 1 {
		return effMin
	}
	frac := float64(level) / float64(levels-1)
	switch growth {
	case Exponential:
		if effMin <= 0 {
			effMin = 1
		}
		ratio := rangeUpper / effMin
		if ratio <= 0 {
			ratio = 1
		}
		return effMin * math.Pow(ratio, frac)
	default:
		return effMin + frac*(rangeUpper-effMin)
	}
}

func sizeForLevel(level int, cfg LadderConfig) values.Size {
	if cfg.SizeDistribution != Convex || cfg.ConvexGrowth == 0 {
		return cfg.BaseSize
	}
	factor := 1 + float64(level)*cfg.ConvexGrowth
	return cfg.BaseSize.Mul(values.DecimalFromFloat(factor))
}

func offsetPrice(oracle values.Price, bps float64, side values.Side) values.Price {
	factor := bps / 10000
	if side == values.Buy {
		return oracle.Mul(values.DecimalFromFloat(1 - factor))
	}
	return oracle.Mul(values.DecimalFromFloat(1 + factor))
}
