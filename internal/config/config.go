// Package config defines all configuration for the dislocation-detection
// service. Config is loaded from a YAML file with select fields
// overridable via DISLOC_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Mode selects whether the core only observes (emits signals) or also
// hands signals off to a trading executor.
type Mode string

const (
	ModeObserve Mode = "observe"
	ModeTrade   Mode = "trade"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure, one section per named config table in the spec's external-
// interfaces configuration surface.
type Config struct {
	Mode        Mode              `mapstructure:"mode"`
	WsURL       string            `mapstructure:"ws_url"`
	InfoURL     string            `mapstructure:"info_url"`
	XyzPattern  string            `mapstructure:"xyz_pattern"`
	Markets     []string          `mapstructure:"markets"` // not read by cmd/dislocated, which always auto-discovers via preflight
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Detector    DetectorConfig    `mapstructure:"detector"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// WebSocketConfig tunes the gateway connection manager.
type WebSocketConfig struct {
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts"` // 0 => infinite
	ReconnectBaseDelayMs int `mapstructure:"reconnect_base_delay_ms"`
	HeartbeatIntervalMs  int `mapstructure:"heartbeat_interval_ms"`
}

// BlackoutWindow is a UTC [start, end) time-of-day window expressed as
// "HH:MM" in YAML; parsed into riskgate.BlackoutWindow at wiring time.
type BlackoutWindow struct {
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

// RiskConfig mirrors the nine-gate risk chain's tunables (spec.md §4.F).
type RiskConfig struct {
	MaxOracleAgeMs          int64            `mapstructure:"max_oracle_age_ms"` // legacy; covered by ctx gate, kept but ignored
	MaxBboAgeMs             int64            `mapstructure:"max_bbo_age_ms"`
	MaxCtxAgeMs             int64            `mapstructure:"max_ctx_age_ms"`
	MaxMarkMidDivergenceBps float64          `mapstructure:"max_mark_mid_divergence_bps"`
	SpreadShockMultiplier   float64          `mapstructure:"spread_shock_multiplier"`
	MinBufferRatio          float64          `mapstructure:"min_buffer_ratio"`
	MaxOiFraction           float64          `mapstructure:"max_oi_fraction"`
	BlackoutWindows         []BlackoutWindow `mapstructure:"blackout_windows"`
}

// DetectorConfig mirrors the dislocation detector's tunables (spec.md §4.G).
type DetectorConfig struct {
	TakerFeeBps               float64 `mapstructure:"taker_fee_bps"`
	SlippageBps               float64 `mapstructure:"slippage_bps"`
	MinEdgeBps                float64 `mapstructure:"min_edge_bps"`
	OracleDirectionFilter     bool    `mapstructure:"oracle_direction_filter"`
	MinOracleChangeBps        float64 `mapstructure:"min_oracle_change_bps"`
	MinConsecutiveOracleMoves int     `mapstructure:"min_consecutive_oracle_moves"`
	MinQuoteLagMs             int64   `mapstructure:"min_quote_lag_ms"`
	MaxQuoteLagMs             int64   `mapstructure:"max_quote_lag_ms"`
	SizingAlpha               float64 `mapstructure:"sizing_alpha"`
	MinBookNotional           float64 `mapstructure:"min_book_notional"`
	NormalBookNotional        float64 `mapstructure:"normal_book_notional"`
	MaxNotional               float64 `mapstructure:"max_notional"`
	MinOrderNotional          float64 `mapstructure:"min_order_notional"`
}

// PersistenceConfig controls the daily signal writer.
type PersistenceConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	BufferSize int    `mapstructure:"buffer_size"`
}

// TelemetryConfig controls the metrics/health HTTP surface and logging.
type TelemetryConfig struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	LogLevel    string `mapstructure:"log_level"`
}

// Load reads config from a YAML file with env var overrides for the
// fields an operator is most likely to need to override per-deployment
// (gateway URL, data dir, mode) without editing the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DISLOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if url := os.Getenv("DISLOC_WS_URL"); url != "" {
		cfg.WsURL = url
	}
	if url := os.Getenv("DISLOC_INFO_URL"); url != "" {
		cfg.InfoURL = url
	}
	if dir := os.Getenv("DISLOC_DATA_DIR"); dir != "" {
		cfg.Persistence.DataDir = dir
	}
	if mode := os.Getenv("DISLOC_MODE"); mode != "" {
		cfg.Mode = Mode(mode)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeObserve)
	v.SetDefault("websocket.heartbeat_interval_ms", 45000)
	v.SetDefault("websocket.reconnect_base_delay_ms", 500)
	v.SetDefault("risk.max_bbo_age_ms", 2000)
	v.SetDefault("risk.max_ctx_age_ms", 8000)
	v.SetDefault("risk.max_mark_mid_divergence_bps", 50)
	v.SetDefault("risk.spread_shock_multiplier", 3)
	v.SetDefault("risk.min_buffer_ratio", 0.15)
	v.SetDefault("risk.max_oi_fraction", 0.01)
	v.SetDefault("persistence.buffer_size", 5000)
	v.SetDefault("telemetry.log_level", "info")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeObserve, ModeTrade:
	default:
		return fmt.Errorf("mode must be one of: observe, trade")
	}
	if c.WsURL == "" {
		return fmt.Errorf("ws_url is required")
	}
	if c.InfoURL == "" {
		return fmt.Errorf("info_url is required")
	}
	if c.Risk.MaxBboAgeMs < 0 {
		return fmt.Errorf("risk.max_bbo_age_ms must be >= 0")
	}
	if c.Risk.MaxCtxAgeMs < 0 {
		return fmt.Errorf("risk.max_ctx_age_ms must be >= 0")
	}
	if c.Risk.SpreadShockMultiplier <= 0 {
		return fmt.Errorf("risk.spread_shock_multiplier must be > 0")
	}
	if c.Detector.SizingAlpha < 0 {
		return fmt.Errorf("detector.sizing_alpha must be >= 0")
	}
	if c.Persistence.DataDir == "" {
		return fmt.Errorf("persistence.data_dir is required")
	}
	if c.Persistence.BufferSize <= 0 {
		return fmt.Errorf("persistence.buffer_size must be > 0")
	}
	return nil
}
