package execution

import (
	"testing"

	"github.com/0xtitan6/backtest-engine/internal/book"
	"github.com/0xtitan6/backtest-engine/internal/clock"
	"github.com/0xtitan6/backtest-engine/internal/costmodel"
	"github.com/0xtitan6/backtest-engine/internal/eventbus"
	"github.com/0xtitan6/backtest-engine/internal/risk"
	"github.com/0xtitan6/backtest-engine/pkg/types"
)

const instrument = types.InstrumentId("BTC-USD")

func newTestHandler(t *testing.T) (*Handler, *clock.SimClock, *eventbus.Bus) {
	t.Helper()
	c := clock.New(nil)
	bus := eventbus.New(16, nil)
	riskMgr := risk.New(risk.Limits{}, nil)
	cost := costmodel.New(costmodel.CommissionTable{MinCommission: types.ZeroPrice, MaxCommission: types.NewPrice(1000)}, costmodel.LinearSlippage{})
	b := book.New(instrument, types.PriceTime, nil)

	h := New(bus, c, riskMgr, cost, map[types.InstrumentId]*book.OrderBook{instrument: b}, Latency{MarketData: 1, Order: 10}, nil)
	return h, c, bus
}

func TestSubmitApprovedOrderFillsAfterLatency(t *testing.T) {
	t.Parallel()
	h, c, bus := newTestHandler(t)

	b := h.books[instrument]
	b.Add(types.Order{Id: 999, Instrument: instrument, Side: types.Sell, Type: types.OrderLimit, LimitPrice: types.NewPrice(100), Quantity: 10})

	var fills []types.Fill
	bus.Subscribe(types.EventFill, func(e eventbus.Event) { fills = append(fills, e.Fill.Fill) })

	order := types.Order{Id: 1, Instrument: instrument, Strategy: "s1", Side: types.Buy, Type: types.OrderMarket, Quantity: 5, SubmitTime: 0}
	h.Submit(order, 0)

	if len(fills) != 0 {
		t.Fatalf("expected no fills before latency elapses, got %d", len(fills))
	}

	if err := c.AdvanceTo(10); err != nil {
		t.Fatalf("AdvanceTo: %v", err)
	}

	if len(fills) != 1 {
		t.Fatalf("expected 1 fill after latency, got %d", len(fills))
	}
	if fills[0].Timestamp < order.SubmitTime+10 {
		t.Fatalf("fill.Timestamp=%d violates order.SubmitTime + order_latency", fills[0].Timestamp)
	}
	if fills[0].Quantity != 5 {
		t.Fatalf("fill quantity = %d, want 5", fills[0].Quantity)
	}
}

func TestSubmitUnknownInstrumentEmitsRiskEvent(t *testing.T) {
	t.Parallel()
	h, _, bus := newTestHandler(t)

	var gotRisk *eventbus.RiskEvent
	bus.Subscribe(types.EventRisk, func(e eventbus.Event) { gotRisk = e.Risk })

	order := types.Order{Id: 1, Instrument: "UNKNOWN", Strategy: "s1", Side: types.Buy, Type: types.OrderMarket, Quantity: 1}
	h.Submit(order, 0)

	if gotRisk == nil {
		t.Fatal("expected a RiskEvent for unknown instrument")
	}
}

func TestOnSignalHoldIsIgnored(t *testing.T) {
	t.Parallel()
	h, _, bus := newTestHandler(t)

	var gotOrder bool
	bus.Subscribe(types.EventOrder, func(eventbus.Event) { gotOrder = true })

	h.OnSignal(eventbus.SignalEvent{Strategy: "s1", Instrument: instrument, Kind: types.SignalHold}, 0, 0)
	if gotOrder {
		t.Fatal("hold signal must not submit an order")
	}
}

func TestOnSignalCloseFlattensPosition(t *testing.T) {
	t.Parallel()
	h, _, bus := newTestHandler(t)

	var gotOrder *eventbus.OrderEvent
	bus.Subscribe(types.EventOrder, func(e eventbus.Event) { gotOrder = e.Order })

	h.OnSignal(eventbus.SignalEvent{Strategy: "s1", Instrument: instrument, Kind: types.SignalClose}, 0, 7)
	if gotOrder == nil {
		t.Fatal("expected close signal to submit an order")
	}
	if gotOrder.Order.Side != types.Sell || gotOrder.Order.Quantity != 7 {
		t.Fatalf("close order = %+v, want sell qty 7", gotOrder.Order)
	}
}

func TestStrengthSizerScalesAndClamps(t *testing.T) {
	t.Parallel()
	s := StrengthSizer{BaseQuantity: 100}
	if got := s.Size(instrument, 0.5); got != 50 {
		t.Fatalf("Size(0.5) = %d, want 50", got)
	}
	if got := s.Size(instrument, 0.001); got != 1 {
		t.Fatalf("Size(0.001) = %d, want clamped to 1", got)
	}
}
