package engine

import (
	"testing"

	"github.com/0xtitan6/backtest-engine/internal/eventbus"
	"github.com/0xtitan6/backtest-engine/internal/execution"
	"github.com/0xtitan6/backtest-engine/internal/risk"
	"github.com/0xtitan6/backtest-engine/internal/strategy"
	"github.com/0xtitan6/backtest-engine/pkg/types"
)

const second types.Duration = 1_000_000_000

// scriptedStrategy drives the engine from a test: onTick receives every
// market event with a 1-based counter, onFill every fill.
type scriptedStrategy struct {
	strategy.NopLifecycle
	id     types.StrategyId
	onTick func(ctx *strategy.Context, tick types.Tick, n int)
	onFill func(evt eventbus.FillEvent)
	n      int
}

func (s *scriptedStrategy) ID() types.StrategyId { return s.id }

func (s *scriptedStrategy) OnMarketData(ctx *strategy.Context, evt eventbus.MarketEvent) {
	s.n++
	if s.onTick != nil {
		s.onTick(ctx, evt.Tick, s.n)
	}
}

func (s *scriptedStrategy) OnFill(_ *strategy.Context, evt eventbus.FillEvent) {
	if s.onFill != nil {
		s.onFill(evt)
	}
}

// risingTicks builds n ticks with last price 100, 101, ... and a fixed
// one-unit spread around it, deep enough that unit orders always fill.
func risingTicks(instrument types.InstrumentId, n int, start types.Timestamp, step types.Duration) []types.Tick {
	ticks := make([]types.Tick, 0, n)
	ts := start
	for i := 0; i < n; i++ {
		price := float64(100 + i)
		ticks = append(ticks, types.Tick{
			Timestamp:  ts,
			Instrument: instrument,
			BidPrice:   types.NewPrice(price - 0.5),
			BidSize:    100,
			AskPrice:   types.NewPrice(price + 0.5),
			AskSize:    100,
			LastPrice:  types.NewPrice(price),
		})
		ts = ts.Add(step)
	}
	return ticks
}

// A buy on the first tick and a close on the sixth must round-trip
// through signal, risk gate, latency, book match, and P&L accounting.
func TestRunExecutesRoundTrip(t *testing.T) {
	t.Parallel()
	const inst = types.InstrumentId("TEST")

	eng := New(nil)
	eng.AddTicks(inst, risingTicks(inst, 10, 0, second))
	eng.AddStrategy(&scriptedStrategy{
		id: "s1",
		onTick: func(ctx *strategy.Context, _ types.Tick, n int) {
			switch n {
			case 1:
				ctx.EmitSignal(inst, types.SignalBuy, 1.0)
			case 6:
				ctx.EmitSignal(inst, types.SignalClose, 1.0)
			}
		},
	})

	results, err := eng.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if results.TradeCount != 2 {
		t.Fatalf("TradeCount = %d, want 2 (entry + exit)", results.TradeCount)
	}
	buy, sell := results.Trades[0], results.Trades[1]
	if buy.Side != types.Buy || !buy.Price.Equal(types.NewPrice(100.5)) {
		t.Fatalf("entry = %+v, want buy at 100.5 (first tick's ask)", buy)
	}
	if sell.Side != types.Sell || !sell.Price.Equal(types.NewPrice(104.5)) {
		t.Fatalf("exit = %+v, want sell at 104.5 (sixth tick's bid)", sell)
	}
	if !sell.Closing || buy.Closing {
		t.Fatalf("closing flags = (entry %v, exit %v), want (false, true)", buy.Closing, sell.Closing)
	}

	// Commission-free default cost model: P&L is exactly the spread walk.
	if !results.TotalPnL.Equal(types.NewPrice(4)) {
		t.Fatalf("TotalPnL = %v, want 4", results.TotalPnL)
	}
	if results.WinRate != 1.0 {
		t.Fatalf("WinRate = %v, want 1.0", results.WinRate)
	}

	stats := eng.Stats()
	if stats.OrdersSubmitted != 2 || stats.OrdersFilled != 2 {
		t.Fatalf("stats = %+v, want 2 submitted and 2 filled", stats)
	}
}

// Determinism: identical inputs produce identical results across runs.
func TestRunIsDeterministicAcrossRepeats(t *testing.T) {
	t.Parallel()
	const inst = types.InstrumentId("TEST")

	build := func() *Engine {
		eng := New(nil)
		eng.AddTicks(inst, risingTicks(inst, 50, 0, second))
		eng.AddStrategy(&scriptedStrategy{
			id: "s1",
			onTick: func(ctx *strategy.Context, _ types.Tick, n int) {
				switch n % 10 {
				case 1:
					ctx.EmitSignal(inst, types.SignalBuy, 1.0)
				case 6:
					ctx.EmitSignal(inst, types.SignalClose, 1.0)
				}
			},
		})
		return eng
	}

	eng := build()
	first, err := eng.Run()
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	rerun, err := eng.Run()
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if first.TradeCount != rerun.TradeCount {
		t.Fatalf("TradeCount differs across runs: %d vs %d", first.TradeCount, rerun.TradeCount)
	}
	if !first.TotalPnL.Equal(rerun.TotalPnL) {
		t.Fatalf("TotalPnL differs across runs: %v vs %v", first.TotalPnL, rerun.TotalPnL)
	}
	if !first.TotalCommission.Equal(rerun.TotalCommission) {
		t.Fatalf("TotalCommission differs across runs: %v vs %v", first.TotalCommission, rerun.TotalCommission)
	}
}

func TestRunRangeReplaysOnlyTicksInRange(t *testing.T) {
	t.Parallel()
	const inst = types.InstrumentId("TEST")

	eng := New(nil)
	eng.AddTicks(inst, risingTicks(inst, 10, 0, second))

	seen := 0
	eng.AddStrategy(&scriptedStrategy{
		id:     "counter",
		onTick: func(_ *strategy.Context, _ types.Tick, _ int) { seen++ },
	})

	if _, err := eng.RunRange(2*types.Timestamp(second), 5*types.Timestamp(second)); err != nil {
		t.Fatalf("RunRange: %v", err)
	}
	if seen != 4 {
		t.Fatalf("strategy saw %d ticks, want 4 (timestamps 2s..5s inclusive)", seen)
	}
}

// Market events must reach strategies in non-decreasing timestamp
// order even when ticks arrive closer together than the market-data
// latency, and across interleaved instruments.
func TestMarketEventTimestampsNonDecreasing(t *testing.T) {
	t.Parallel()
	const a = types.InstrumentId("AAA")
	const b = types.InstrumentId("BBB")

	// 500ns tick spacing vs. the 1000ns default market-data latency.
	eng := New(nil)
	eng.AddTicks(a, risingTicks(a, 20, 0, 500))
	eng.AddTicks(b, risingTicks(b, 20, 250, 500))

	var delivered []types.Timestamp
	eng.AddStrategy(&scriptedStrategy{
		id: "watch",
		onTick: func(ctx *strategy.Context, _ types.Tick, _ int) {
			delivered = append(delivered, ctx.Now())
		},
	})

	if _, err := eng.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(delivered) != 40 {
		t.Fatalf("delivered %d market events, want 40", len(delivered))
	}
	for i := 1; i < len(delivered); i++ {
		if delivered[i] < delivered[i-1] {
			t.Fatalf("market event %d at %d delivered after %d (order violated)", i, delivered[i], delivered[i-1])
		}
	}
}

func TestFillTimestampRespectsOrderLatency(t *testing.T) {
	t.Parallel()
	const inst = types.InstrumentId("TEST")
	const orderLatency types.Duration = 7_000

	eng := New(nil)
	eng.ConfigureLatency(1_000, orderLatency)
	eng.AddTicks(inst, risingTicks(inst, 5, 0, second))

	var signalAt types.Timestamp
	var fills []types.Fill
	eng.AddStrategy(&scriptedStrategy{
		id: "s1",
		onTick: func(ctx *strategy.Context, _ types.Tick, n int) {
			if n == 1 {
				signalAt = ctx.Now()
				ctx.EmitSignal(inst, types.SignalBuy, 1.0)
			}
		},
		onFill: func(evt eventbus.FillEvent) { fills = append(fills, evt.Fill) },
	})

	if _, err := eng.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fills) != 1 {
		t.Fatalf("got %d fills, want 1", len(fills))
	}
	if fills[0].Timestamp < signalAt.Add(orderLatency) {
		t.Fatalf("fill at %d, want >= signal time %d + order latency %d", fills[0].Timestamp, signalAt, orderLatency)
	}
}

func TestStopHaltsAfterCurrentTick(t *testing.T) {
	t.Parallel()
	const inst = types.InstrumentId("TEST")

	eng := New(nil)
	eng.AddTicks(inst, risingTicks(inst, 100, 0, second))

	seen := 0
	eng.AddStrategy(&scriptedStrategy{
		id: "s1",
		onTick: func(*strategy.Context, types.Tick, int) {
			seen++
			eng.Stop()
		},
	})

	if _, err := eng.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seen != 1 {
		t.Fatalf("strategy saw %d ticks after Stop on the first, want 1", seen)
	}
	if eng.IsRunning() {
		t.Fatal("IsRunning() must be false after Run returns")
	}
}

func TestPausedStrategyReceivesNoMarketData(t *testing.T) {
	t.Parallel()
	const inst = types.InstrumentId("TEST")

	eng := New(nil)
	eng.AddTicks(inst, risingTicks(inst, 5, 0, second))

	seen := 0
	eng.AddStrategy(&scriptedStrategy{
		id:     "sleeper",
		onTick: func(*strategy.Context, types.Tick, int) { seen++ },
	})
	eng.PauseStrategy("sleeper")

	if _, err := eng.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seen != 0 {
		t.Fatalf("paused strategy saw %d ticks, want 0", seen)
	}

	eng.ResumeStrategy("sleeper")
	if _, err := eng.Run(); err != nil {
		t.Fatalf("Run after resume: %v", err)
	}
	if seen != 5 {
		t.Fatalf("resumed strategy saw %d ticks, want 5", seen)
	}
}

func TestRiskRejectionEmitsNoFills(t *testing.T) {
	t.Parallel()
	const inst = types.InstrumentId("TEST")

	eng := New(nil)
	eng.AddTicks(inst, risingTicks(inst, 5, 0, second))
	eng.SetSizer(execution.StrengthSizer{BaseQuantity: 10})
	eng.SetRiskLimits(risk.Limits{Position: risk.PositionLimits{Enabled: true, MaxOrderSize: 5}})

	fills := 0
	eng.AddStrategy(&scriptedStrategy{
		id: "s1",
		onTick: func(ctx *strategy.Context, _ types.Tick, n int) {
			if n == 1 {
				ctx.EmitSignal(inst, types.SignalBuy, 1.0)
			}
		},
		onFill: func(eventbus.FillEvent) { fills++ },
	})

	if _, err := eng.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if fills != 0 {
		t.Fatalf("rejected order produced %d fills, want 0", fills)
	}
	if eng.Stats().OrdersRejected != 1 {
		t.Fatalf("OrdersRejected = %d, want 1", eng.Stats().OrdersRejected)
	}
}
