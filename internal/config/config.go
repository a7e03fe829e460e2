// Package config defines all configuration for a backtest run. Config
// is loaded from a YAML file (default: configs/config.yaml) with
// selected fields overridable via BACKTEST_* environment variables.
//
// A single viper-backed struct unmarshalled with mapstructure tags,
// env-prefixed overrides for the fields most likely to vary per
// invocation, and a Validate pass that rejects an unusable
// configuration before anything is wired.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/0xtitan6/backtest-engine/internal/costmodel"
	"github.com/0xtitan6/backtest-engine/internal/risk"
	"github.com/0xtitan6/backtest-engine/pkg/types"
)

// Config is the top-level configuration for one backtest invocation.
type Config struct {
	TickSource TickSourceConfig `mapstructure:"tick_source"`
	Latency    LatencyConfig    `mapstructure:"latency"`
	CostModel  CostModelConfig  `mapstructure:"cost_model"`
	Risk       RiskLimitsConfig `mapstructure:"risk"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
}

// TickSourceConfig points at the CSV (or other external) feed that
// supplies ticks; reading it is an external collaborator's job, but the
// engine needs to know where to look and which range to replay.
type TickSourceConfig struct {
	Path           string `mapstructure:"path"`
	Instrument     string `mapstructure:"instrument"`
	RangeStartUnix int64  `mapstructure:"range_start_unix"`
	RangeEndUnix   int64  `mapstructure:"range_end_unix"`
}

// LatencyConfig sets the two simulated delays the execution handler
// applies between an event firing and its effect landing, in
// nanoseconds of simulated time.
type LatencyConfig struct {
	MarketDataNanos int64 `mapstructure:"market_data_nanos"`
	OrderNanos      int64 `mapstructure:"order_nanos"`
}

// CommissionTableConfig is one venue/instrument's commission schedule,
// expressed in plain floats for YAML ergonomics; Build converts it to
// the decimal-backed costmodel.CommissionTable.
type CommissionTableConfig struct {
	MakerRate     float64 `mapstructure:"maker_rate"`
	TakerRate     float64 `mapstructure:"taker_rate"`
	FixedFee      float64 `mapstructure:"fixed_fee"`
	MinCommission float64 `mapstructure:"min_commission"`
	MaxCommission float64 `mapstructure:"max_commission"`
}

// Build converts c to a costmodel.CommissionTable.
func (c CommissionTableConfig) Build() costmodel.CommissionTable {
	return costmodel.CommissionTable{
		MakerRate:     c.MakerRate,
		TakerRate:     c.TakerRate,
		FixedFee:      types.NewPrice(c.FixedFee),
		MinCommission: types.NewPrice(c.MinCommission),
		MaxCommission: types.NewPrice(c.MaxCommission),
	}
}

// SlippageConfig selects and tunes one of the two built-in slippage
// curves.
type SlippageConfig struct {
	Model  string  `mapstructure:"model"` // "linear" or "sqrt"
	Base   float64 `mapstructure:"base"`
	Impact float64 `mapstructure:"impact"` // linear only
	Coeff  float64 `mapstructure:"coeff"`  // sqrt only
}

// Build resolves c to a costmodel.SlippageModel. An unrecognized or
// empty model name is treated as "linear", using the configured Base
// and Impact.
func (c SlippageConfig) Build() costmodel.SlippageModel {
	switch strings.ToLower(c.Model) {
	case "sqrt", "square_root", "square-root":
		return costmodel.SquareRootSlippage{Base: c.Base, Coeff: c.Coeff}
	default:
		return costmodel.LinearSlippage{Base: c.Base, Impact: c.Impact}
	}
}

// CostModelConfig configures the default commission table and the
// active slippage curve, plus any per-instrument overrides.
type CostModelConfig struct {
	Default      CommissionTableConfig            `mapstructure:"default"`
	ByInstrument map[string]CommissionTableConfig `mapstructure:"by_instrument"`
	Slippage     SlippageConfig                   `mapstructure:"slippage"`
}

// Build assembles a fully-wired costmodel.Model from c.
func (c CostModelConfig) Build() *costmodel.Model {
	model := costmodel.New(c.Default.Build(), c.Slippage.Build())
	for instrument, table := range c.ByInstrument {
		model.SetInstrumentTable(types.InstrumentId(instrument), table.Build())
	}
	return model
}

// PositionLimitsConfig mirrors risk.PositionLimits for YAML loading.
type PositionLimitsConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	MaxPositionSize uint64 `mapstructure:"max_position_size"`
	MaxOrderSize    uint64 `mapstructure:"max_order_size"`
}

// ExposureLimitsConfig mirrors risk.ExposureLimits for YAML loading.
type ExposureLimitsConfig struct {
	Enabled                  bool    `mapstructure:"enabled"`
	MaxNotionalPerInstrument float64 `mapstructure:"max_notional_per_instrument"`
	MaxPortfolioNotional     float64 `mapstructure:"max_portfolio_notional"`
}

// LossLimitsConfig mirrors risk.LossLimits for YAML loading; cooldown
// fields are seconds of simulated time.
type LossLimitsConfig struct {
	Enabled                  bool    `mapstructure:"enabled"`
	MaxDailyLoss             float64 `mapstructure:"max_daily_loss"`
	MaxTotalLoss             float64 `mapstructure:"max_total_loss"`
	MaxDrawdownPct           float64 `mapstructure:"max_drawdown_pct"`
	SignificantLossThreshold float64 `mapstructure:"significant_loss_threshold"`
	LossCooldownSec          int64   `mapstructure:"loss_cooldown_sec"`
	DrawdownCooldownSec      int64   `mapstructure:"drawdown_cooldown_sec"`
}

// RateLimitsConfig mirrors risk.RateLimits for YAML loading.
type RateLimitsConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxOrdersPerMinute int  `mapstructure:"max_orders_per_minute"`
	MaxOrdersPerDay    int  `mapstructure:"max_orders_per_day"`
}

// RiskLimitsConfig is the global risk.Limits plus any per-strategy
// overrides, keyed by strategy id.
type RiskLimitsConfig struct {
	Position   PositionLimitsConfig        `mapstructure:"position"`
	Exposure   ExposureLimitsConfig        `mapstructure:"exposure"`
	Loss       LossLimitsConfig            `mapstructure:"loss"`
	Rate       RateLimitsConfig            `mapstructure:"rate"`
	ByStrategy map[string]RiskLimitsConfig `mapstructure:"by_strategy"`
}

const nanosPerSecond = 1_000_000_000

// Build converts c to risk.Limits. ByStrategy overrides are not
// traversed here — the engine looks each one up by strategy id via
// BuildStrategyOverrides.
func (c RiskLimitsConfig) Build() risk.Limits {
	return risk.Limits{
		Position: risk.PositionLimits{
			Enabled:         c.Position.Enabled,
			MaxPositionSize: types.Volume(c.Position.MaxPositionSize),
			MaxOrderSize:    types.Volume(c.Position.MaxOrderSize),
		},
		Exposure: risk.ExposureLimits{
			Enabled:                  c.Exposure.Enabled,
			MaxNotionalPerInstrument: types.NewPrice(c.Exposure.MaxNotionalPerInstrument),
			MaxPortfolioNotional:     types.NewPrice(c.Exposure.MaxPortfolioNotional),
		},
		Loss: risk.LossLimits{
			Enabled:                  c.Loss.Enabled,
			MaxDailyLoss:             types.NewPrice(c.Loss.MaxDailyLoss),
			MaxTotalLoss:             types.NewPrice(c.Loss.MaxTotalLoss),
			MaxDrawdownPct:           c.Loss.MaxDrawdownPct,
			SignificantLossThreshold: types.NewPrice(c.Loss.SignificantLossThreshold),
			LossCooldown:             types.Duration(c.Loss.LossCooldownSec * nanosPerSecond),
			DrawdownCooldown:         types.Duration(c.Loss.DrawdownCooldownSec * nanosPerSecond),
		},
		Rate: risk.RateLimits{
			Enabled:            c.Rate.Enabled,
			MaxOrdersPerMinute: c.Rate.MaxOrdersPerMinute,
			MaxOrdersPerDay:    c.Rate.MaxOrdersPerDay,
		},
	}
}

// BuildStrategyOverrides converts the ByStrategy map to the form
// Engine.SetStrategyRiskLimits expects.
func (c RiskLimitsConfig) BuildStrategyOverrides() map[types.StrategyId]risk.Limits {
	out := make(map[types.StrategyId]risk.Limits, len(c.ByStrategy))
	for id, limits := range c.ByStrategy {
		out[types.StrategyId(id)] = limits.Build()
	}
	return out
}

// LoggingConfig controls the engine's structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// MonitorConfig controls the optional websocket + Prometheus progress
// dashboard (internal/monitor). Disabled by default — a backtest is a
// batch job, not a live service.
type MonitorConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// BACKTEST_TICK_SOURCE_PATH, BACKTEST_LOGGING_LEVEL, and
// BACKTEST_MONITOR_ADDR are read directly since they're the fields most
// often supplied at invocation time rather than checked into YAML.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if p := os.Getenv("BACKTEST_TICK_SOURCE_PATH"); p != "" {
		cfg.TickSource.Path = p
	}
	if lvl := os.Getenv("BACKTEST_LOGGING_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if addr := os.Getenv("BACKTEST_MONITOR_ADDR"); addr != "" {
		cfg.Monitor.Addr = addr
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges before any
// component is built from cfg.
func (c *Config) Validate() error {
	if c.TickSource.Path == "" {
		return fmt.Errorf("tick_source.path is required")
	}
	if c.TickSource.Instrument == "" {
		return fmt.Errorf("tick_source.instrument is required")
	}
	if c.Latency.MarketDataNanos < 0 {
		return fmt.Errorf("latency.market_data_nanos must be >= 0")
	}
	if c.Latency.OrderNanos < 0 {
		return fmt.Errorf("latency.order_nanos must be >= 0")
	}
	if c.CostModel.Default.MaxCommission < c.CostModel.Default.MinCommission {
		return fmt.Errorf("cost_model.default.max_commission must be >= min_commission")
	}
	if c.Monitor.Enabled && c.Monitor.Addr == "" {
		return fmt.Errorf("monitor.addr is required when monitor.enabled is true")
	}
	return nil
}
