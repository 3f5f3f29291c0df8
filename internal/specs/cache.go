// Package specs caches per-market trading parameters and detects material
// changes, which Update reports as an ErrParamChange while keeping the
// previous spec. The cache holds no latch of its own, and nothing in this
// module passes ErrParamChange on to the risk-gate chain's param-change
// latch (riskgate.Chain.NotifyParamChange). Grounded on the teacher's
// wire-metadata-to-domain-struct translation in the market scanner.
package specs

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hip3/dislocated/internal/values"
)

// ErrParamChange is returned by Update when a material change is detected.
type ErrParamChange struct {
	Key values.MarketKey
}

func (e *ErrParamChange) Error() string {
	return fmt.Sprintf("material spec change for market %s", e.Key)
}

type record struct {
	spec      values.MarketSpec
	version   uint64
	updatedAt time.Time
}

// Cache holds the latest MarketSpec per market.
type Cache struct {
	mu      sync.RWMutex
	entries map[values.MarketKey]*record
}

func New() *Cache {
	return &Cache{entries: make(map[values.MarketKey]*record)}
}

// Update installs a new spec for key. If a previous spec exists and differs
// materially, the update is rejected with ErrParamChange and the cache
// retains the previous spec; the caller is expected to latch gate 7.
func (c *Cache) Update(key values.MarketKey, newSpec values.MarketSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.entries[key]
	if ok && prev.spec.HasMaterialChange(newSpec) {
		return &ErrParamChange{Key: key}
	}

	version := uint64(1)
	if ok {
		version = prev.version + 1
	}
	c.entries[key] = &record{spec: newSpec, version: version, updatedAt: time.Now()}
	return nil
}

// Get returns the cached spec for key.
func (c *Cache) Get(key values.MarketKey) (values.MarketSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[key]
	if !ok {
		return values.MarketSpec{}, false
	}
	return r.spec, true
}

// WireSpec is the raw per-market metadata as published by the preflight
// collaborator, prior to derivation of lot/tick/decimals.
type WireSpec struct {
	Name        string
	SzDecimals  int32
	TickSize    *decimal.Decimal // nil => default to 0.01
	TakerFeeBps decimal.Decimal
	MakerFeeBps decimal.Decimal
	OiCap       decimal.Decimal
	MaxLeverage decimal.Decimal
	IsActive    bool
}

// ParseFromWire derives a MarketSpec from preflight metadata: lot_size :=
// 10^(-sz_decimals); tick_size defaults to 0.01 when absent;
// max_price_decimals is derived from tick_size, falling back to
// max(0, 6 - sz_decimals) when tick is absent.
func ParseFromWire(w WireSpec) values.MarketSpec {
	lot := decimal.New(1, -w.SzDecimals)

	var tick decimal.Decimal
	var maxPriceDecimals int32
	if w.TickSize != nil {
		tick = *w.TickSize
		maxPriceDecimals = values.TickDecimals(values.NewPrice(tick))
	} else {
		tick = decimal.NewFromFloat(0.01)
		maxPriceDecimals = 6 - w.SzDecimals
		if maxPriceDecimals < 0 {
			maxPriceDecimals = 0
		}
	}

	minSize := lot

	return values.MarketSpec{
		Name:             w.Name,
		TickSize:         values.NewPrice(tick),
		LotSize:          values.NewSize(lot),
		MinSize:          values.NewSize(minSize),
		MaxLeverage:       w.MaxLeverage,
		TakerFeeBps:      w.TakerFeeBps,
		MakerFeeBps:      w.MakerFeeBps,
		OiCap:            values.NewSize(w.OiCap),
		IsActive:         w.IsActive,
		SzDecimals:       w.SzDecimals,
		MaxSigFigs:       5,
		MaxPriceDecimals: maxPriceDecimals,
	}
}
