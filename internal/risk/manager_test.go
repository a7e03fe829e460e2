package risk

import (
	"testing"

	"github.com/0xtitan6/backtest-engine/pkg/types"
)

const strategy = types.StrategyId("strat-1")
const instrument = types.InstrumentId("BTC-USD")

func order(ts types.Timestamp, qty types.Volume) types.Order {
	return types.Order{
		Id:         types.OrderId(ts),
		SubmitTime: ts,
		Instrument: instrument,
		Strategy:   strategy,
		Side:       types.Buy,
		Type:       types.OrderMarket,
		Quantity:   qty,
	}
}

const second types.Duration = 1_000_000_000
const minute types.Duration = 60 * second

// Rate limit: orders beyond the rolling-window cap are rejected.
func TestRateLimitRejectsThirdOrderThenRecoversAfterWindow(t *testing.T) {
	t.Parallel()
	m := New(Limits{Rate: RateLimits{Enabled: true, MaxOrdersPerMinute: 2}}, nil)

	const T types.Timestamp = 1_000_000_000_000

	o1 := order(T, 1)
	if v := m.Check(o1); v != nil {
		t.Fatalf("order 1 rejected: %+v", v)
	}
	m.OnOrderSubmitted(o1)

	o2 := order(T.Add(10*second), 1)
	if v := m.Check(o2); v != nil {
		t.Fatalf("order 2 rejected: %+v", v)
	}
	m.OnOrderSubmitted(o2)

	o3 := order(T.Add(30*second), 1)
	v := m.Check(o3)
	if v == nil || v.Kind != types.ViolationRate {
		t.Fatalf("order 3 = %+v, want ViolationRate", v)
	}

	o4 := order(T.Add(70*second), 1)
	if v := m.Check(o4); v != nil {
		t.Fatalf("order at T+70s rejected: %+v, want approved (window rolled)", v)
	}
}

// Loss cooldown: a significant loss arms a cooldown window.
func TestLossCooldownBlocksThenExpires(t *testing.T) {
	t.Parallel()
	m := New(Limits{Loss: LossLimits{
		Enabled:                  true,
		SignificantLossThreshold: types.NewPrice(-1000),
		LossCooldown:             30 * minute,
	}}, nil)

	const T types.Timestamp = 1_000_000_000_000

	m.OnFill(types.Fill{
		OrderId:    1,
		Timestamp:  T,
		Instrument: instrument,
		Strategy:   strategy,
		Side:       types.Sell,
		Price:      types.NewPrice(100),
		Quantity:   1,
		Commission: types.NewPrice(1500),
	})

	blocked := order(T.Add(10*minute), 1)
	v := m.Check(blocked)
	if v == nil || v.Kind != types.ViolationCooldown {
		t.Fatalf("order at T+10min = %+v, want ViolationCooldown", v)
	}

	approved := order(T.Add(31*minute), 1)
	if v := m.Check(approved); v != nil {
		t.Fatalf("order at T+31min = %+v, want approved (cooldown expired)", v)
	}
}

func TestOrderSizeViolation(t *testing.T) {
	t.Parallel()
	m := New(Limits{Position: PositionLimits{Enabled: true, MaxOrderSize: 10}}, nil)

	v := m.Check(order(1, 11))
	if v == nil || v.Kind != types.ViolationOrderSize {
		t.Fatalf("Check(qty=11) = %+v, want ViolationOrderSize", v)
	}
	if v := m.Check(order(1, 10)); v != nil {
		t.Fatalf("Check(qty=10) = %+v, want approved (at limit)", v)
	}
}

func TestCheckIsIdempotentWithoutMutation(t *testing.T) {
	t.Parallel()
	m := New(Limits{Rate: RateLimits{Enabled: true, MaxOrdersPerMinute: 1}}, nil)

	o := order(1, 1)
	first := m.Check(o)
	second := m.Check(o)
	if (first == nil) != (second == nil) {
		t.Fatalf("repeated Check without mutation gave different results: %+v vs %+v", first, second)
	}
}

func TestOnFillUpdatesPositionAndRealizesOnClose(t *testing.T) {
	t.Parallel()
	m := New(Limits{}, nil)

	m.OnFill(types.Fill{Instrument: instrument, Strategy: strategy, Side: types.Buy, Price: types.NewPrice(100), Quantity: 10, Commission: types.NewPrice(1)})
	positions := m.Positions()
	if len(positions) != 1 || positions[0].Quantity != 10 {
		t.Fatalf("after opening fill, positions = %+v, want qty 10", positions)
	}

	m.OnFill(types.Fill{Instrument: instrument, Strategy: strategy, Side: types.Sell, Price: types.NewPrice(110), Quantity: 4, Commission: types.NewPrice(1)})
	positions = m.Positions()
	if positions[0].Quantity != 6 {
		t.Fatalf("after partial close, qty = %d, want 6", positions[0].Quantity)
	}
	wantRealized := types.NewPrice(110 - 100).Mul(types.NewPrice(4))
	if !positions[0].RealizedPnL.Equal(wantRealized) {
		t.Fatalf("RealizedPnL = %v, want %v", positions[0].RealizedPnL, wantRealized)
	}
}

func TestResetDailyClearsDailyButKeepsCumulative(t *testing.T) {
	t.Parallel()
	m := New(Limits{}, nil)
	m.OnFill(types.Fill{Instrument: instrument, Strategy: strategy, Side: types.Buy, Price: types.NewPrice(1), Quantity: 1, Commission: types.NewPrice(5)})
	m.OnOrderSubmitted(order(1, 1))

	m.ResetDaily()

	daily, cumulative := m.StrategyPnL(strategy)
	if !daily.IsZero() {
		t.Fatalf("daily PnL after ResetDaily = %v, want 0", daily)
	}
	if cumulative.IsZero() {
		t.Fatalf("cumulative PnL should survive ResetDaily")
	}
}
