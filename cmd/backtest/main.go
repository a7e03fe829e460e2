// Command backtest is a demo entry point: it loads a YAML config, wires
// a synthetic tick series and a trivial moving-average-cross strategy
// through the engine, optionally serves a live progress dashboard, and
// prints the resulting BacktestResults.
//
// A real invocation would replace syntheticTicks with a CSV-backed
// ingestion path and smaCrossStrategy with a user-authored strategy —
// both are explicitly out of this repository's scope.
package main

import (
	"fmt"
	"log/slog"
	"os"

	humanize "github.com/dustin/go-humanize"

	"github.com/0xtitan6/backtest-engine/internal/config"
	"github.com/0xtitan6/backtest-engine/internal/engine"
	"github.com/0xtitan6/backtest-engine/internal/monitor"
	"github.com/0xtitan6/backtest-engine/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BACKTEST_CONFIG"); p != "" {
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

	logger := newLogger(cfg.Logging)

	eng := engine.New(logger)
	eng.SetCostModel(cfg.CostModel.Build())
	eng.SetRiskLimits(cfg.Risk.Build())
	for id, limits := range cfg.Risk.BuildStrategyOverrides() {
		eng.SetStrategyRiskLimits(id, limits)
	}
	eng.ConfigureLatency(types.Duration(cfg.Latency.MarketDataNanos), types.Duration(cfg.Latency.OrderNanos))

	instrument := types.InstrumentId(cfg.TickSource.Instrument)
	eng.AddTicks(instrument, syntheticTicks(instrument, 5_000, types.Timestamp(cfg.TickSource.RangeStartUnix), 60_000_000_000, 42))
	eng.AddStrategy(newSMACrossStrategy("sma-cross", instrument, 5, 20))

	var mon *monitor.Server
	if cfg.Monitor.Enabled {
		mon = monitor.NewServer(cfg.Monitor.Addr, cfg.Monitor.AllowedOrigins, logger)
		if err := mon.Start(); err != nil {
			logger.Error("monitor server failed to start", "error", err)
			os.Exit(1)
		}
		// The engine fires the progress callback, then the update
		// callback, from the same goroutine, so the fraction recorded by
		// the first is current when the second builds the snapshot.
		var fraction float64
		eng.SetProgressCallback(func(f float64) { fraction = f })
		eng.SetUpdateCallback(func(results engine.BacktestResults) {
			mon.Report(buildSnapshot(fraction, results))
			mon.SetEventsPerSecond(eng.Stats().EventsPerSecond)
		})
		logger.Info("monitor started", "addr", cfg.Monitor.Addr)
		defer mon.Stop()
	}

	start := types.Timestamp(cfg.TickSource.RangeStartUnix)
	end := types.Timestamp(cfg.TickSource.RangeEndUnix)
	var results engine.BacktestResults
	if start == 0 && end == 0 {
		results, err = eng.Run()
	} else {
		results, err = eng.RunRange(start, end)
	}
	if err != nil {
		logger.Error("backtest failed", "error", err)
		os.Exit(1)
	}

	stats := eng.Stats()
	pnl, _ := results.TotalPnL.Float64()
	commission, _ := results.TotalCommission.Float64()
	logger.Info("backtest complete",
		"trades", results.TradeCount,
		"total_pnl", humanize.FormatFloat("#,###.##", pnl),
		"total_commission", humanize.FormatFloat("#,###.##", commission),
		"win_rate", fmt.Sprintf("%.1f%%", results.WinRate*100),
		"sharpe", fmt.Sprintf("%.2f", results.SharpeRatio),
		"events_processed", humanize.Comma(stats.EventsProcessed),
		"events_per_second", humanize.FormatFloat("#,###.", stats.EventsPerSecond),
		"processing_time", stats.ProcessingTime,
	)
}

func buildSnapshot(fraction float64, results engine.BacktestResults) monitor.ProgressSnapshot {
	pnl, _ := results.TotalPnL.Float64()
	commission, _ := results.TotalCommission.Float64()
	slippage, _ := results.TotalSlippage.Float64()
	drawdown, _ := results.MaxDrawdown.Float64()

	perStrategy := make(map[string]float64, len(results.PerStrategyPnL))
	for id, v := range results.PerStrategyPnL {
		f, _ := v.Float64()
		perStrategy[string(id)] = f
	}

	return monitor.ProgressSnapshot{
		Fraction:        fraction,
		TotalPnL:        pnl,
		TotalCommission: commission,
		TotalSlippage:   slippage,
		TradeCount:      results.TradeCount,
		WinRate:         results.WinRate,
		MaxDrawdown:     drawdown,
		SharpeRatio:     results.SharpeRatio,
		PerStrategyPnL:  perStrategy,
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
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
