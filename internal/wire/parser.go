// Package wire decodes inbound gateway envelopes into typed market events.
// Two wire shapes are supported: the internal "channel:kind:index" form used
// by batch/replay tooling, and the external per-coin form published by the
// tenant DEX feed. Spot-market channels are rejected outright; this is the
// one place that distinction is enforced.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/hip3/dislocated/internal/values"
)

// EventKind discriminates the two event shapes the parser can produce.
type EventKind int

const (
	EventBbo EventKind = iota
	EventCtx
)

// Event is the parser's output: either a BboUpdate or a CtxUpdate.
type Event struct {
	Kind EventKind
	Key  values.MarketKey
	Bbo  values.Bbo
	Ctx  values.AssetCtx
}

// ErrSpotRejected is returned when a channel's kind is "spot".
type ErrSpotRejected struct{ Channel string }

func (e *ErrSpotRejected) Error() string {
	return fmt.Sprintf("spot channel rejected: %s", e.Channel)
}

// CoinIndex resolves a coin name to its MarketKey for the coin-keyed
// envelope shape. A miss is a parse error.
type CoinIndex interface {
	Lookup(coin string) (values.MarketKey, bool)
}

// Parser decodes raw inbound payloads into Events.
type Parser struct {
	coins CoinIndex

	acceptedCount uint64
	rejectedCount uint64
}

func NewParser(coins CoinIndex) *Parser {
	return &Parser{coins: coins}
}

func (p *Parser) AcceptedCount() uint64 { return atomic.LoadUint64(&p.acceptedCount) }
func (p *Parser) RejectedCount() uint64 { return atomic.LoadUint64(&p.rejectedCount) }

// internalEnvelope is the "channel:kind:index" batch/replay shape.
type internalEnvelope struct {
	Channel string          `json:"channel"`
	Index   values.AssetId  `json:"index"`
	Dex     values.DexId    `json:"dex"`
	Bbo     *wireBboLevels  `json:"bbo"`
	Ctx     *wireCtx        `json:"ctx"`
}

// coinEnvelope is the external per-coin shape.
type coinEnvelope struct {
	Coin string         `json:"coin"`
	Time *int64         `json:"time"`
	Bbo  *wireBboLevels `json:"bbo"`
	Ctx  *wireCtx       `json:"ctx"`
}

type wireBboLevels [2]*wireLevel

type wireLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

// UnmarshalJSON accepts [px, sz, n] or null.
func (l *wireLevel) UnmarshalJSON(data []byte) error {
	var triple [3]json.RawMessage
	if err := json.Unmarshal(data, &triple); err != nil {
		return err
	}
	var px, sz string
	var n int
	if err := json.Unmarshal(triple[0], &px); err != nil {
		return err
	}
	if err := json.Unmarshal(triple[1], &sz); err != nil {
		return err
	}
	_ = json.Unmarshal(triple[2], &n)
	l.Px, l.Sz, l.N = px, sz, n
	return nil
}

type wireCtx struct {
	OraclePx     string `json:"oraclePx"`
	MarkPx       string `json:"markPx"`
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
	Premium      string `json:"premium"`
}

// ParseInternal decodes the "channel:kind:index" envelope shape. The kind
// segment of the channel string is checked against spot/perp.
func (p *Parser) ParseInternal(raw []byte) (*Event, error) {
	var env internalEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode internal envelope: %w", err)
	}

	parts := strings.Split(env.Channel, ":")
	kind := ""
	if len(parts) >= 2 {
		kind = strings.ToLower(parts[1])
	}

	if kind == "spot" {
		atomic.AddUint64(&p.rejectedCount, 1)
		return nil, &ErrSpotRejected{Channel: env.Channel}
	}
	if kind != "perp" {
		// Unknown kind: no event, no failure.
		return nil, nil
	}

	key := values.MarketKey{Dex: env.Dex, Asset: env.Index}
	evt, err := decodeBody(key, env.Bbo, env.Ctx)
	if err != nil {
		return nil, err
	}
	if evt != nil {
		atomic.AddUint64(&p.acceptedCount, 1)
	}
	return evt, nil
}

// ParseCoinKeyed decodes the external per-coin envelope shape.
func (p *Parser) ParseCoinKeyed(raw []byte) (*Event, error) {
	var env coinEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode coin envelope: %w", err)
	}

	key, ok := p.coins.Lookup(env.Coin)
	if !ok {
		return nil, fmt.Errorf("unknown coin %q", env.Coin)
	}

	evt, err := decodeBody(key, env.Bbo, env.Ctx)
	if err != nil {
		return nil, err
	}
	if evt != nil {
		atomic.AddUint64(&p.acceptedCount, 1)
	}
	return evt, nil
}

func decodeBody(key values.MarketKey, bbo *wireBboLevels, ctx *wireCtx) (*Event, error) {
	switch {
	case bbo != nil:
		b, err := decodeBbo(*bbo)
		if err != nil {
			return nil, err
		}
		return &Event{Kind: EventBbo, Key: key, Bbo: b}, nil
	case ctx != nil:
		c, err := decodeCtx(*ctx)
		if err != nil {
			return nil, err
		}
		return &Event{Kind: EventCtx, Key: key, Ctx: c}, nil
	default:
		return nil, nil
	}
}

func decodeBbo(levels wireBboLevels) (values.Bbo, error) {
	bid, err := decodeLevel(levels[0])
	if err != nil {
		return values.Bbo{}, fmt.Errorf("decode bid: %w", err)
	}
	ask, err := decodeLevel(levels[1])
	if err != nil {
		return values.Bbo{}, fmt.Errorf("decode ask: %w", err)
	}
	return values.Bbo{Bid: bid, Ask: ask}, nil
}

func decodeLevel(l *wireLevel) (values.BboLevel, error) {
	if l == nil {
		return values.BboLevel{Price: values.ZeroPrice, Size: values.ZeroSize}, nil
	}
	px, err := values.ParsePrice(l.Px)
	if err != nil {
		return values.BboLevel{}, err
	}
	sz, err := values.ParseSize(l.Sz)
	if err != nil {
		return values.BboLevel{}, err
	}
	return values.BboLevel{Price: px, Size: sz}, nil
}

func decodeCtx(c wireCtx) (values.AssetCtx, error) {
	oraclePx, err := values.ParsePrice(c.OraclePx)
	if err != nil {
		return values.AssetCtx{}, fmt.Errorf("oraclePx: %w", err)
	}
	markPx, err := values.ParsePrice(c.MarkPx)
	if err != nil {
		return values.AssetCtx{}, fmt.Errorf("markPx: %w", err)
	}
	funding, err := values.ParsePrice(c.Funding)
	if err != nil {
		return values.AssetCtx{}, fmt.Errorf("funding: %w", err)
	}
	oi, err := values.ParseSize(c.OpenInterest)
	if err != nil {
		return values.AssetCtx{}, fmt.Errorf("openInterest: %w", err)
	}
	premium, err := values.ParsePrice(c.Premium)
	if err != nil {
		return values.AssetCtx{}, fmt.Errorf("premium: %w", err)
	}
	return values.AssetCtx{
		Oracle:       values.OracleData{OraclePx: oraclePx, MarkPx: markPx},
		FundingRate:  funding.Decimal(),
		OpenInterest: oi,
		Premium:      premium.Decimal(),
	}, nil
}
