// Package values defines the shared value types used across all packages:
// fixed-precision Price/Size, market identifiers, and the top-of-book and
// oracle-context data model. It has no dependency on any internal package
// so it can be imported from any layer.
package values

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a signal or quote.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Price is a fixed-precision rational value used for every price field.
// It is never converted to a binary float on the pricing hot path.
type Price struct{ d decimal.Decimal }

// Size is a fixed-precision rational value used for every quantity field.
type Size struct{ d decimal.Decimal }

func NewPrice(d decimal.Decimal) Price { return Price{d} }
func NewSize(d decimal.Decimal) Size   { return Size{d} }

// ZeroPrice and ZeroSize are the canonical zero values, returned when a
// book level is absent on the wire.
var (
	ZeroPrice = Price{decimal.Zero}
	ZeroSize  = Size{decimal.Zero}
)

// ParsePrice parses a decimal string. No intermediate float conversion.
func ParsePrice(s string) (Price, error) {
	if s == "" {
		return ZeroPrice, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("parse price %q: %w", s, err)
	}
	return Price{d}, nil
}

// ParseSize parses a decimal string. No intermediate float conversion.
func ParseSize(s string) (Size, error) {
	if s == "" {
		return ZeroSize, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Size{}, fmt.Errorf("parse size %q: %w", s, err)
	}
	return Size{d}, nil
}

// DecimalFromFloat converts a basis-point ratio or skew multiplier (values
// that are inherently float arithmetic, e.g. inventory/velocity factors)
// into a decimal for use against Price/Size. Never used on the wire-parsing
// path, only on derived multipliers.
func DecimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func (p Price) Decimal() decimal.Decimal { return p.d }
func (s Size) Decimal() decimal.Decimal  { return s.d }

func (p Price) IsZero() bool     { return p.d.IsZero() }
func (p Price) IsPositive() bool { return p.d.IsPositive() }
func (p Price) String() string   { return p.d.String() }

func (s Size) IsZero() bool     { return s.d.IsZero() }
func (s Size) IsPositive() bool { return s.d.IsPositive() }
func (s Size) String() string   { return s.d.String() }

func (p Price) Add(o Price) Price { return Price{p.d.Add(o.d)} }
func (p Price) Sub(o Price) Price { return Price{p.d.Sub(o.d)} }
func (p Price) Mul(f decimal.Decimal) Price { return Price{p.d.Mul(f)} }
func (p Price) Div(f decimal.Decimal) Price { return Price{p.d.Div(f)} }
func (p Price) Cmp(o Price) int   { return p.d.Cmp(o.d) }
func (p Price) GreaterThan(o Price) bool      { return p.d.GreaterThan(o.d) }
func (p Price) GreaterThanOrEqual(o Price) bool { return p.d.GreaterThanOrEqual(o.d) }
func (p Price) LessThan(o Price) bool         { return p.d.LessThan(o.d) }
func (p Price) LessThanOrEqual(o Price) bool  { return p.d.LessThanOrEqual(o.d) }
func (p Price) Equal(o Price) bool            { return p.d.Equal(o.d) }

func (s Size) Mul(f decimal.Decimal) Size { return Size{s.d.Mul(f)} }
func (s Size) Add(o Size) Size            { return Size{s.d.Add(o.d)} }

// RoundToTick rounds p to a multiple of tick in the direction side makes
// unfavorable for the taker: buy orders round up, sell orders round down.
func (p Price) RoundToTick(tick Price, side Side) Price {
	if tick.d.IsZero() {
		return p
	}
	quotient := p.d.Div(tick.d)
	var rounded decimal.Decimal
	if side == Buy {
		rounded = quotient.Ceil()
	} else {
		rounded = quotient.Floor()
	}
	return Price{rounded.Mul(tick.d)}
}

// FormatForSubmission implements MarketSpec.format_price: truncate to at
// most maxSigFigs significant figures, then truncate to at most
// maxPriceDecimals places (never round up), strip trailing zeros, then
// round in the unfavorable direction when snapping to tick.
func (p Price) FormatForSubmission(maxSigFigs, maxPriceDecimals int32, tick Price, side Side) Price {
	truncated := truncateSigFigs(p.d, maxSigFigs)
	truncated = truncated.Truncate(maxPriceDecimals)
	return Price{truncated}.RoundToTick(tick, side)
}

func truncateSigFigs(d decimal.Decimal, sigFigs int32) decimal.Decimal {
	if d.IsZero() || sigFigs <= 0 {
		return d
	}
	abs := d.Abs()
	exp := int32(0)
	// integer part digit count
	intPart := abs.Truncate(0)
	digits := int32(len(intPart.String()))
	if intPart.IsZero() {
		digits = 0
	}
	if digits >= sigFigs {
		exp = digits - sigFigs
		return d.Truncate(0).Div(decimal.New(1, exp)).Truncate(0).Mul(decimal.New(1, exp))
	}
	// fractional digits needed to reach sigFigs significant digits
	fracDigits := sigFigs - digits
	return d.Truncate(fracDigits)
}

// DexId is a 16-bit tenant index.
type DexId uint16

// AssetId is a 32-bit in-tenant asset index.
type AssetId uint32

// ExternalAssetId is the submission-facing asset id for a given tenant+local index.
func ExternalAssetId(dex DexId, local AssetId) uint64 {
	return 100000 + uint64(dex)*10000 + uint64(local)
}

// MarketKey identifies a market within a tenant DEX. Hashable and totally
// ordered so it can be used as a map key and sorted for deterministic
// iteration.
type MarketKey struct {
	Dex   DexId
	Asset AssetId
}

func (k MarketKey) Less(o MarketKey) bool {
	if k.Dex != o.Dex {
		return k.Dex < o.Dex
	}
	return k.Asset < o.Asset
}

// String renders the numeric "<dex>:<asset>" identity; the dex name is
// supplied by the caller through FormatWithDexName. MarketKey itself only
// carries the numeric identity so it stays a trivially comparable, hashable
// struct suitable as a map key.
func (k MarketKey) String() string {
	return fmt.Sprintf("%d:%d", k.Dex, k.Asset)
}

// FormatWithDexName renders "<dex_name>:<asset_idx>" as required for logs.
func (k MarketKey) FormatWithDexName(dexName string) string {
	return fmt.Sprintf("%s:%d", dexName, k.Asset)
}

// ClientOrderId is an opaque, locally-generated unique identifier.
type ClientOrderId string

// BboLevel is one side of the top of book. A present-but-empty level has
// zero price and zero size (the wire encodes absence as null).
type BboLevel struct {
	Price Price
	Size  Size
}

func (l BboLevel) present() bool { return l.Price.IsPositive() && l.Size.IsPositive() }

// Bbo is the best bid / best offer for a market at a point in time.
type Bbo struct {
	Bid        BboLevel
	Ask        BboLevel
	ReceivedAt time.Time
}

// BboState classifies a Bbo per the has_bid/has_ask/bid<ask contract.
type BboState int

const (
	BboEmpty BboState = iota
	BboNoBid
	BboNoAsk
	BboValid
	BboInvalid
)

func (s BboState) String() string {
	switch s {
	case BboEmpty:
		return "empty"
	case BboNoBid:
		return "no_bid"
	case BboNoAsk:
		return "no_ask"
	case BboValid:
		return "valid"
	case BboInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// State classifies the Bbo per the table in the data model.
func (b Bbo) State() BboState {
	hasBid := b.Bid.present()
	hasAsk := b.Ask.present()
	switch {
	case !hasBid && !hasAsk:
		return BboEmpty
	case hasBid && !hasAsk:
		return BboNoAsk
	case !hasBid && hasAsk:
		return BboNoBid
	case b.Bid.Price.LessThan(b.Ask.Price):
		return BboValid
	default:
		return BboInvalid
	}
}

// MidPrice returns the mid price; ok is false unless State() == BboValid.
func (b Bbo) MidPrice() (Price, bool) {
	if b.State() != BboValid {
		return ZeroPrice, false
	}
	sum := b.Bid.Price.d.Add(b.Ask.Price.d)
	return Price{sum.Div(decimal.NewFromInt(2))}, true
}

// SpreadBps returns the bid/ask spread in basis points; ok mirrors MidPrice.
func (b Bbo) SpreadBps() (decimal.Decimal, bool) {
	mid, ok := b.MidPrice()
	if !ok || mid.IsZero() {
		return decimal.Zero, false
	}
	spread := b.Ask.Price.d.Sub(b.Bid.Price.d)
	return spread.Div(mid.d).Mul(decimal.NewFromInt(10000)), true
}

// OracleData is the oracle/mark price pair carried by the asset-context
// channel. OracleUpdatedAt only advances when the oracle price changes;
// ReceivedAt advances on every ctx update regardless.
type OracleData struct {
	OraclePx      Price
	MarkPx        Price
	OracleUpdated time.Time
	ReceivedAt    time.Time
}

// AssetCtx is the full asset-context payload for a market.
type AssetCtx struct {
	Oracle       OracleData
	FundingRate  decimal.Decimal
	OpenInterest Size
	Premium      decimal.Decimal
	ReceivedAt   time.Time
}

// MarketSnapshot is an immutable (Bbo, AssetCtx, timestamp) triple handed
// to consumers by value.
type MarketSnapshot struct {
	Bbo       Bbo
	Ctx       AssetCtx
	Timestamp time.Time
}

// MarketSpec describes a market's trading parameters.
type MarketSpec struct {
	Name             string
	TickSize         Price
	LotSize          Size
	MinSize          Size
	MaxLeverage      decimal.Decimal
	TakerFeeBps      decimal.Decimal
	MakerFeeBps      decimal.Decimal
	OiCap            Size
	IsActive         bool
	SzDecimals       int32
	MaxSigFigs       int32 // constant 5 for this tenant
	MaxPriceDecimals int32
}

// HasMaterialChange reports whether tick, lot, fee or size-decimals differ.
func (s MarketSpec) HasMaterialChange(o MarketSpec) bool {
	return !s.TickSize.Equal(o.TickSize) ||
		s.LotSize.d.Cmp(o.LotSize.d) != 0 ||
		s.TakerFeeBps.Cmp(o.TakerFeeBps) != 0 ||
		s.MakerFeeBps.Cmp(o.MakerFeeBps) != 0 ||
		s.SzDecimals != o.SzDecimals
}

// TickDecimals returns the number of decimal places implied by a tick size,
// e.g. "0.01" -> 2.
func TickDecimals(tick Price) int32 {
	s := tick.d.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

// SignalStrength classifies how far raw edge clears the cost threshold.
type SignalStrength int

const (
	StrengthNone SignalStrength = iota
	StrengthWeak
	StrengthModerate
	StrengthStrong
)

// ClassifyStrength buckets rawEdge against threshold: at or below threshold
// is None; up to 1.5x is Weak; up to 3x is Moderate; beyond is Strong.
func ClassifyStrength(rawEdgeBps, thresholdBps decimal.Decimal) SignalStrength {
	if rawEdgeBps.LessThanOrEqual(thresholdBps) {
		return StrengthNone
	}
	oneFive := thresholdBps.Mul(decimal.NewFromFloat(1.5))
	three := thresholdBps.Mul(decimal.NewFromInt(3))
	switch {
	case rawEdgeBps.LessThanOrEqual(oneFive):
		return StrengthWeak
	case rawEdgeBps.LessThanOrEqual(three):
		return StrengthModerate
	default:
		return StrengthStrong
	}
}

// FeeMetadata captures every input to the total-cost calculation for the
// audit log.
type FeeMetadata struct {
	BaseTakerBps      decimal.Decimal
	Multiplier        decimal.Decimal
	EffectiveTakerBps decimal.Decimal
	SlippageBps       decimal.Decimal
	MinEdgeBps        decimal.Decimal
	TotalCostBps      decimal.Decimal
}

// Signal is an immutable emitted dislocation record.
type Signal struct {
	SignalId      string
	DetectedAt    time.Time
	MarketKey     MarketKey
	Side          Side
	RawEdgeBps    decimal.Decimal
	NetEdgeBps    decimal.Decimal
	Strength      SignalStrength
	OraclePx      Price
	BestPx        Price
	BestSize      Size
	SuggestedSize Size
	FeeMeta       FeeMetadata
}
