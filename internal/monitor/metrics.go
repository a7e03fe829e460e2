package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of Prometheus gauges a running backtest exports.
// Grounded on the execution-service-style gauge/histogram vectors used
// across the pack's trading-bot examples (e.g. autovant-trading-bot's
// tradingMode/signalAckLatency gauges): a handful of named gauges,
// registered once at startup. UpdateProgress sets all of them except the
// events-per-second gauge, which SetEventsPerSecond sets.
type Metrics struct {
	progress     prometheus.Gauge
	totalPnL     prometheus.Gauge
	commission   prometheus.Gauge
	slippage     prometheus.Gauge
	tradeCount   prometheus.Gauge
	winRate      prometheus.Gauge
	maxDrawdown  prometheus.Gauge
	sharpeRatio  prometheus.Gauge
	eventsPerSec prometheus.Gauge
}

// NewMetrics creates an unregistered set of backtest gauges.
func NewMetrics() *Metrics {
	return &Metrics{
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_progress_fraction",
			Help: "Fraction of ticks processed so far, in [0, 1].",
		}),
		totalPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_total_pnl",
			Help: "Running total profit and loss across all strategies.",
		}),
		commission: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_total_commission",
			Help: "Running total commission paid.",
		}),
		slippage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_total_slippage",
			Help: "Running total slippage cost.",
		}),
		tradeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_trade_count",
			Help: "Number of fills recorded so far.",
		}),
		winRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_win_rate",
			Help: "Fraction of closed trades that were profitable.",
		}),
		maxDrawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_max_drawdown",
			Help: "Largest peak-to-trough equity decline observed so far.",
		}),
		sharpeRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_sharpe_ratio",
			Help: "Annualized Sharpe ratio of per-trade returns observed so far.",
		}),
		eventsPerSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_events_per_second",
			Help: "Event bus throughput for the current run.",
		}),
	}
}

// Register adds every gauge to reg. Safe to call once per Metrics
// instance; registering the same Metrics twice panics, matching
// client_golang's own contract.
func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.progress, m.totalPnL, m.commission, m.slippage,
		m.tradeCount, m.winRate, m.maxDrawdown, m.sharpeRatio, m.eventsPerSec,
	)
}

// UpdateProgress sets every gauge from one progress snapshot.
func (m *Metrics) UpdateProgress(s ProgressSnapshot) {
	m.progress.Set(s.Fraction)
	m.totalPnL.Set(s.TotalPnL)
	m.commission.Set(s.TotalCommission)
	m.slippage.Set(s.TotalSlippage)
	m.tradeCount.Set(float64(s.TradeCount))
	m.winRate.Set(s.WinRate)
	m.maxDrawdown.Set(s.MaxDrawdown)
	m.sharpeRatio.Set(s.SharpeRatio)
}

// SetEventsPerSecond records the engine's most recent throughput figure.
func (m *Metrics) SetEventsPerSecond(v float64) { m.eventsPerSec.Set(v) }
