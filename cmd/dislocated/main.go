// dislocated is a real-time dislocation-detection pipeline for a
// perpetual-futures exchange built on a tenant DEX.
//
// Architecture:
//
//	main.go                  — entry point: loads config, resolves the tenant via
//	                            preflight, starts the orchestrator, waits for SIGINT/SIGTERM
//	internal/preflight        — resolves the tenant and its asset universe over REST
//	internal/gateway          — WebSocket connection manager (subscribe, heartbeat, reconnect)
//	internal/wire             — decodes inbound BBO/ctx envelopes into typed events
//	internal/marketstate      — per-market (Bbo, AssetCtx) aggregator with freshness accounting
//	internal/specs            — per-market trading-parameter cache
//	internal/riskgate         — the nine-gate risk chain every snapshot must clear
//	internal/detector         — the dislocation-detection algorithm
//	internal/signalwriter     — daily columnar (parquet) signal log
//	internal/orchestrator     — wires all of the above into the event loop
//	internal/telemetry        — /healthz and /metrics HTTP surface
//
// Modeled on the teacher's cmd/bot/main.go: load config, build the
// orchestrator, start it, block on SIGINT/SIGTERM, shut down in order.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hip3/dislocated/internal/config"
	"github.com/hip3/dislocated/internal/detector"
	"github.com/hip3/dislocated/internal/gateway"
	"github.com/hip3/dislocated/internal/orchestrator"
	"github.com/hip3/dislocated/internal/preflight"
	"github.com/hip3/dislocated/internal/riskgate"
	"github.com/hip3/dislocated/internal/telemetry"
	"github.com/hip3/dislocated/internal/values"
	"github.com/hip3/dislocated/internal/wick"
)

// assetIndex resolves a coin name to its MarketKey, built from the
// preflight-fetched asset universe (slice position == local AssetId).
type assetIndex struct {
	dex    values.DexId
	byName map[string]values.AssetId
}

func (a assetIndex) Lookup(coin string) (values.MarketKey, bool) {
	id, ok := a.byName[coin]
	if !ok {
		return values.MarketKey{}, false
	}
	return values.MarketKey{Dex: a.dex, Asset: id}, true
}

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("DISLOC_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Telemetry.LogLevel)}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pf := preflight.New(cfg.InfoURL)
	dex, dexName, err := pf.ResolveTenant(ctx, cfg.XyzPattern)
	cancel()
	if err != nil {
		logger.Error("preflight tenant resolution failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	universe, err := pf.FetchAssetUniverse(ctx, dexName)
	cancel()
	if err != nil {
		logger.Error("preflight asset universe fetch failed", "error", err)
		os.Exit(1)
	}

	idx := assetIndex{dex: dex, byName: make(map[string]values.AssetId, len(universe))}
	markets := make([]values.MarketKey, 0, len(universe))
	subs := make([]gateway.Subscription, 0, len(universe)*2)
	for i, asset := range universe {
		idx.byName[asset.Name] = values.AssetId(i)
		key := values.MarketKey{Dex: dex, Asset: values.AssetId(i)}
		markets = append(markets, key)
		subs = append(subs,
			gateway.Subscription{Channel: "bbo", Coin: asset.Name},
			gateway.Subscription{Channel: "activeAssetCtx", Coin: asset.Name},
		)
	}
	logger.Info("resolved tenant", "dex", dexName, "assets", len(universe))

	gw := gateway.NewManager(gateway.Config{
		URL:                  cfg.WsURL,
		MaxReconnectAttempts: cfg.WebSocket.MaxReconnectAttempts,
		ReconnectBaseDelay:   time.Duration(cfg.WebSocket.ReconnectBaseDelayMs) * time.Millisecond,
		HeartbeatInterval:    time.Duration(cfg.WebSocket.HeartbeatIntervalMs) * time.Millisecond,
		MarketSubscriptions:  subs,
	}, logger)

	orch := orchestrator.New(buildOrchestratorConfig(cfg, markets), gw, idx, logger)

	// Until full per-market spec ingestion is wired (the tenant's meta
	// response doesn't carry tick/lot/fee data in the preflight shape this
	// spec defines), seed every discovered market as active with permissive
	// defaults so the risk chain and detector can run end-to-end.
	for _, key := range markets {
		_ = orch.SpecCache().Update(key, values.MarketSpec{
			Name:             dexName,
			TickSize:         values.NewPrice(decimal.NewFromFloat(0.01)),
			LotSize:          values.NewSize(decimal.NewFromFloat(0.001)),
			MinSize:          values.NewSize(decimal.NewFromFloat(0.001)),
			TakerFeeBps:      decimal.NewFromFloat(cfg.Detector.TakerFeeBps),
			IsActive:         true,
			SzDecimals:       3,
			MaxSigFigs:       5,
			MaxPriceDecimals: 6,
		})
	}

	telemetrySrv := telemetry.NewServer(cfg.Telemetry.MetricsPort, orch.Counters(), logger)
	go func() {
		if err := telemetrySrv.Start(); err != nil {
			logger.Error("telemetry server failed", "error", err)
		}
	}()

	runCtx, runCancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(runCtx) }()

	logger.Info("dislocated started", "mode", cfg.Mode, "ws_url", cfg.WsURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		runCancel()
		<-done
	case err := <-done:
		if err != nil {
			logger.Error("orchestrator exited with error", "error", err)
		}
	}

	if err := telemetrySrv.Stop(); err != nil {
		logger.Error("failed to stop telemetry server", "error", err)
	}
	logger.Info("shutdown complete")
}

func buildOrchestratorConfig(cfg *config.Config, markets []values.MarketKey) orchestrator.Config {
	blackouts := make([]riskgate.BlackoutWindow, 0, len(cfg.Risk.BlackoutWindows))
	for _, w := range cfg.Risk.BlackoutWindows {
		start, errS := parseHHMM(w.Start)
		end, errE := parseHHMM(w.End)
		if errS != nil || errE != nil {
			continue
		}
		blackouts = append(blackouts, riskgate.BlackoutWindow{Start: start, End: end})
	}

	return orchestrator.Config{
		Markets:          markets,
		StatsInterval:    time.Minute,
		SignalDataDir:    cfg.Persistence.DataDir,
		SignalBufferSize: cfg.Persistence.BufferSize,
		OracleMinMoveBps: decimal.NewFromFloat(cfg.Detector.MinOracleChangeBps),
		FeeSlippageBps:   decimal.NewFromFloat(cfg.Detector.SlippageBps),
		FeeMinEdgeBps:    decimal.NewFromFloat(cfg.Detector.MinEdgeBps),
		RiskConfig: riskgate.Config{
			MaxBboAgeMs:             cfg.Risk.MaxBboAgeMs,
			MaxCtxAgeMs:             cfg.Risk.MaxCtxAgeMs,
			MaxMarkMidDivergenceBps: decimal.NewFromFloat(cfg.Risk.MaxMarkMidDivergenceBps),
			SpreadShockMultiplier:   decimal.NewFromFloat(cfg.Risk.SpreadShockMultiplier),
			BlackoutWindows:         blackouts,
		},
		DetectorConfig: detector.Config{
			OracleDirectionFilter:     cfg.Detector.OracleDirectionFilter,
			MinOracleChangeBps:        decimal.NewFromFloat(cfg.Detector.MinOracleChangeBps),
			MinConsecutiveOracleMoves: cfg.Detector.MinConsecutiveOracleMoves,
			MinQuoteLagMs:             cfg.Detector.MinQuoteLagMs,
			MaxQuoteLagMs:             cfg.Detector.MaxQuoteLagMs,
			SizingAlpha:               decimal.NewFromFloat(cfg.Detector.SizingAlpha),
			MinBookNotional:           decimal.NewFromFloat(cfg.Detector.MinBookNotional),
			NormalBookNotional:        decimal.NewFromFloat(cfg.Detector.NormalBookNotional),
			MaxNotional:               decimal.NewFromFloat(cfg.Detector.MaxNotional),
			MinOrderNotional:          decimal.NewFromFloat(cfg.Detector.MinOrderNotional),
		},
		WickConfig:        wick.Config{RingSize: 300, MinJumpRatio: 2.0},
		BboAgeBucketsMs:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000},
		CtxAgeBucketsMs:   []float64{10, 50, 100, 250, 500, 1000, 2000, 5000, 10000},
		CrossDurBucketsUs: []float64{10, 50, 100, 250, 500, 1000, 5000, 10000},
	}
}

func parseHHMM(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
