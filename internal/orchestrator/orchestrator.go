// Package orchestrator wires the connection manager, wire parser,
// market-state aggregator, spec cache, risk-gate chain, detector and
// signal writer together and drives the event loop that ties them.
// Grounded on the teacher's internal/engine/engine.go: a central struct
// owning every subsystem, a context/cancel pair, and a biased select loop
// (there: scanner results + kill signals; here: inbound messages + a
// stats tick), with Run spawning one goroutine per task via
// golang.org/x/sync/errgroup in place of the teacher's bare
// sync.WaitGroup (NimbleMarkets-dbn-go also pulls errgroup directly for
// its multi-stage pipeline).
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/hip3/dislocated/internal/detector"
	"github.com/hip3/dislocated/internal/fees"
	"github.com/hip3/dislocated/internal/gateway"
	"github.com/hip3/dislocated/internal/marketstate"
	"github.com/hip3/dislocated/internal/oracle"
	"github.com/hip3/dislocated/internal/riskgate"
	"github.com/hip3/dislocated/internal/signalwriter"
	"github.com/hip3/dislocated/internal/specs"
	"github.com/hip3/dislocated/internal/stats"
	"github.com/hip3/dislocated/internal/values"
	"github.com/hip3/dislocated/internal/wick"
	"github.com/hip3/dislocated/internal/wire"
)

// Config bundles the tuning knobs owned directly by the orchestrator; the
// subsystems it wires each take their own Config (riskgate.Config,
// detector.Config, ...).
type Config struct {
	Markets           []values.MarketKey
	StatsInterval     time.Duration
	SignalDataDir     string
	SignalBufferSize  int
	OracleMinMoveBps  decimal.Decimal
	FeeSlippageBps    decimal.Decimal
	FeeMinEdgeBps     decimal.Decimal
	RiskConfig        riskgate.Config
	DetectorConfig    detector.Config
	WickConfig        wick.Config
	BboAgeBucketsMs   []float64
	CtxAgeBucketsMs   []float64
	CrossDurBucketsUs []float64
}

// connection is the subset of *gateway.Manager the orchestrator drives, cut
// as an interface so the event loop is testable without a live socket.
type connection interface {
	Run(ctx context.Context) error
	Inbound() <-chan gateway.InboundMessage
	ReadyPhase() gateway.ReadyPhase
}

// Orchestrator owns every subsystem's lifetime and drives the event loop.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	gw     connection
	parser *wire.Parser
	agg    *marketstate.Aggregator
	specCache *specs.Cache
	risk   *riskgate.Chain
	det    *detector.Detector
	oracleTracker *oracle.Tracker
	wickTracker   *wick.Tracker
	writer *signalwriter.Writer

	counters *stats.Counters
	bboAge   *stats.Histogram
	ctxAge   *stats.Histogram
	crossDur *stats.Histogram
	reporter *stats.Reporter

	blockedGates map[values.MarketKey]map[string]bool
}

// New wires every subsystem. gw and coins are constructed by the caller
// (cmd/dislocated) since they depend on connection and market-discovery
// config that this package does not own.
func New(cfg Config, gw connection, coins wire.CoinIndex, logger *slog.Logger) *Orchestrator {
	agg := marketstate.New()
	risk := riskgate.NewChain(cfg.RiskConfig, agg)
	feeCalc := fees.New(cfg.FeeSlippageBps, cfg.FeeMinEdgeBps)
	det := detector.New(cfg.DetectorConfig, feeCalc)

	writer := signalwriter.New(cfg.SignalDataDir, cfg.SignalBufferSize)

	counters := stats.NewCounters()
	bboAge := stats.NewHistogram(cfg.BboAgeBucketsMs)
	ctxAge := stats.NewHistogram(cfg.CtxAgeBucketsMs)
	crossDur := stats.NewHistogram(cfg.CrossDurBucketsUs)

	return &Orchestrator{
		cfg:           cfg,
		logger:        logger.With("component", "orchestrator"),
		gw:            gw,
		parser:        wire.NewParser(coins),
		agg:           agg,
		specCache:     specs.New(),
		risk:          risk,
		det:           det,
		oracleTracker: oracle.New(cfg.OracleMinMoveBps),
		wickTracker:   wick.New(cfg.WickConfig),
		writer:        writer,
		counters:      counters,
		bboAge:        bboAge,
		ctxAge:        ctxAge,
		crossDur:      crossDur,
		reporter:      stats.NewReporter(counters, bboAge, ctxAge, crossDur),
		blockedGates:  make(map[values.MarketKey]map[string]bool),
	}
}

// SpecCache exposes the spec cache so the preflight collaborator can push
// updates into it.
func (o *Orchestrator) SpecCache() *specs.Cache { return o.specCache }

// Counters exposes the counters so an external surface (internal/telemetry)
// can read them without reaching into the orchestrator's internals.
func (o *Orchestrator) Counters() *stats.Counters { return o.counters }

// Run spawns the connection task and drives the event loop until ctx is
// canceled, then closes the writer (final footer) and returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return o.gw.Run(gctx)
	})

	g.Go(func() error {
		return o.eventLoop(gctx)
	})

	err := g.Wait()
	if closeErr := o.writer.Close(); closeErr != nil {
		o.logger.Error("signal writer close failed on shutdown", "error", closeErr)
	}
	if err != nil && ctx.Err() != nil {
		// Shutdown was requested; a context-canceled error from the
		// connection task or event loop is expected, not a failure.
		return nil
	}
	return err
}

func (o *Orchestrator) eventLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-o.gw.Inbound():
			if !ok {
				return nil
			}
			o.handleMessage(msg)
		case <-ticker.C:
			o.logger.Info(o.reporter.Summarize(o.cfg.StatsInterval))
		}
	}
}

// handleMessage implements spec step 3: parse, apply to the aggregator,
// then evaluate every configured market's snapshot through the risk chain
// and detector. The live feed only ever publishes the coin-keyed envelope
// shape (spec.md's external per-coin style); the parser's internal
// "channel:kind:index" form exists for batch/replay tooling, which reads
// messages out of band rather than through this event loop, so
// ParseInternal has no call site here.
func (o *Orchestrator) handleMessage(msg gateway.InboundMessage) {
	if !o.gw.ReadyPhase().CanObserve() {
		// Subscriptions for the configured markets haven't all acked yet;
		// a message delivered this early belongs to a feed the aggregator
		// isn't ready to trust.
		return
	}

	evt, err := o.parser.ParseCoinKeyed(msg.Raw)
	if err != nil {
		o.logger.Debug("dropped inbound message", "channel", msg.Channel, "error", err)
		return
	}
	if evt == nil {
		return
	}

	switch evt.Kind {
	case wire.EventBbo:
		o.agg.UpdateBbo(evt.Key, evt.Bbo, nil)
		o.counters.RecordBbo(evt.Bbo.State() != values.BboValid)
	case wire.EventCtx:
		o.agg.UpdateCtx(evt.Key, evt.Ctx)
		o.oracleTracker.RecordMove(evt.Key, evt.Ctx.Oracle.OraclePx)
	}

	for _, key := range o.cfg.Markets {
		o.evaluateMarket(key)
	}
}

func (o *Orchestrator) evaluateMarket(key values.MarketKey) {
	snap, ok := o.agg.GetSnapshot(key)
	if !ok {
		return
	}
	spec, ok := o.specCache.Get(key)
	if !ok {
		return
	}

	if ageMs, ok := o.agg.BboAgeMs(key); ok {
		o.bboAge.Observe(float64(ageMs))
	}
	if ageMs, ok := o.agg.CtxAgeMs(key); ok {
		o.ctxAge.Observe(float64(ageMs))
	}

	if !snap.Ctx.Oracle.OraclePx.IsZero() {
		if mid, ok := snap.Bbo.MidPrice(); ok && !mid.IsZero() {
			o.wickTracker.Observe(key, snap.Ctx.Oracle.OraclePx, mid, snap.Ctx.Oracle.ReceivedAt)
		}
	}

	result := o.risk.Evaluate(key, snap, spec, spec.IsActive)
	o.trackGateTransition(key, result)
	if result.Outcome == riskgate.OutcomeBlock {
		return
	}

	var oracleAgeMs *int64
	if age, ok := o.agg.OracleAgeMs(key); ok {
		oracleAgeMs = &age
	}

	start := time.Now()
	sig, err := o.det.Check(key, snap, spec, nil, o.oracleTracker, oracleAgeMs)
	o.crossDur.Observe(float64(time.Since(start).Microseconds()))
	if err != nil {
		o.logger.Warn("detector check failed", "market", key, "error", err)
		return
	}
	if sig == nil {
		return
	}

	if result.Outcome == riskgate.OutcomeReduceSize && !result.SizeFactor.IsZero() {
		sig.SuggestedSize = values.NewSize(sig.SuggestedSize.Decimal().Mul(result.SizeFactor))
	}

	o.emitSignal(key, sig)
}

// emitSignal implements "on signal: log, emit metric, persist" (the
// hand-off to a trading executor is out of scope).
func (o *Orchestrator) emitSignal(key values.MarketKey, sig *values.Signal) {
	o.counters.RecordCross(sig.Side)
	o.logger.Info("dislocation signal",
		"market", key,
		"side", sig.Side,
		"raw_edge_bps", sig.RawEdgeBps,
		"net_edge_bps", sig.NetEdgeBps,
		"strength", sig.Strength,
	)
	if err := o.writer.Add(*sig); err != nil {
		o.logger.Error("failed to persist signal", "market", key, "signal_id", sig.SignalId, "error", err)
	}
}

// trackGateTransition implements spec step 4: log once on transition into
// a blocked gate, but always bump the counter so repeated blocks are
// never silently free.
func (o *Orchestrator) trackGateTransition(key values.MarketKey, result riskgate.Result) {
	if result.Outcome != riskgate.OutcomeBlock {
		if blocked, ok := o.blockedGates[key]; ok {
			for g := range blocked {
				delete(blocked, g)
			}
		}
		return
	}

	o.counters.RecordGateBlock(result.Gate)

	blocked, ok := o.blockedGates[key]
	if !ok {
		blocked = make(map[string]bool)
		o.blockedGates[key] = blocked
	}
	if !blocked[result.Gate] {
		blocked[result.Gate] = true
		o.logger.Info("market blocked", "market", key, "gate", result.Gate, "reason", result.Reason)
	}
}
