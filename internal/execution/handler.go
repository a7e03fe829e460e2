// Package execution turns strategy signals into orders, runs them
// through the risk manager, and routes approved orders to the matching
// book after a simulated latency.
//
// The path runs compute-size -> submit -> deliver: "signal -> sized
// order -> risk gate -> clock-scheduled delivery", with a synchronous
// check/record pairing against the risk manager for the gate itself.
package execution

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/0xtitan6/backtest-engine/internal/book"
	"github.com/0xtitan6/backtest-engine/internal/clock"
	"github.com/0xtitan6/backtest-engine/internal/costmodel"
	"github.com/0xtitan6/backtest-engine/internal/eventbus"
	"github.com/0xtitan6/backtest-engine/internal/risk"
	"github.com/0xtitan6/backtest-engine/pkg/types"
)

// ErrUnknownInstrument is the rejection reason Submit reports, in a
// RiskEvent, when an order references an instrument with no matching
// book.
var ErrUnknownInstrument = fmt.Errorf("execution: unknown instrument")

// Sizer maps a signal's strength to an order quantity. The default
// sizer returns a flat unit quantity.
type Sizer interface {
	Size(instrument types.InstrumentId, strength float64) types.Volume
}

// UnitSizer always sizes orders at one unit.
type UnitSizer struct{}

func (UnitSizer) Size(types.InstrumentId, float64) types.Volume { return 1 }

// StrengthSizer scales quantity by signal strength, rounding down to
// the nearest whole unit and clamping to at least 1.
type StrengthSizer struct {
	BaseQuantity types.Volume
}

func (s StrengthSizer) Size(_ types.InstrumentId, strength float64) types.Volume {
	if strength < 0 {
		strength = -strength
	}
	qty := types.Volume(float64(s.BaseQuantity) * strength)
	if qty < 1 {
		qty = 1
	}
	return qty
}

// Latency configures the two simulated delays the handler introduces.
type Latency struct {
	MarketData types.Duration // tick visible -> strategies notified
	Order      types.Duration // order submitted -> book interaction
}

// DefaultLatency applies small, fixed microsecond delays so fills
// never land in the same instant an order was submitted.
var DefaultLatency = Latency{
	MarketData: 1_000, // 1 microsecond, in nanosecond ticks
	Order:      5_000, // 5 microseconds
}

// Handler converts signals into orders, enforces the pre-trade risk
// gate, and schedules approved orders for delivery to their book.
type Handler struct {
	bus     *eventbus.Bus
	clock   *clock.SimClock
	risk    *risk.Manager
	cost    *costmodel.Model
	books   map[types.InstrumentId]*book.OrderBook
	sizer   Sizer
	latency Latency
	logger  *slog.Logger
	nextID  atomic.Uint64

	mu            sync.Mutex
	orders        map[types.OrderId]*types.Order
	totalSlippage types.Price
}

// New creates an execution handler wired to its collaborators. books
// maps instrument to the book that instrument's orders are routed to.
func New(bus *eventbus.Bus, c *clock.SimClock, riskMgr *risk.Manager, cost *costmodel.Model, books map[types.InstrumentId]*book.OrderBook, latency Latency, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if latency == (Latency{}) {
		latency = DefaultLatency
	}
	return &Handler{
		bus:     bus,
		clock:   c,
		risk:    riskMgr,
		cost:    cost,
		books:   books,
		sizer:   UnitSizer{},
		latency: latency,
		logger:  logger.With("component", "execution"),
		orders:  make(map[types.OrderId]*types.Order),
	}
}

// SetSizer overrides the default unit sizer.
func (h *Handler) SetSizer(s Sizer) { h.sizer = s }

func (h *Handler) newOrderID() types.OrderId {
	return types.OrderId(h.nextID.Add(1))
}

// OnSignal converts a non-hold signal into a new market order, subject
// to sizing, the pre-trade risk gate, and latency-delayed routing.
// Hold signals are ignored. Close signals submit an order that flattens
// the current position (the caller-supplied currentQty).
func (h *Handler) OnSignal(evt eventbus.SignalEvent, now types.Timestamp, currentQty int64) {
	side, qty, ok := h.resolveSideAndQty(evt, currentQty)
	if !ok {
		return
	}

	order := types.Order{
		Id:         h.newOrderID(),
		SubmitTime: now,
		Instrument: evt.Instrument,
		Strategy:   evt.Strategy,
		Side:       side,
		Type:       types.OrderMarket,
		Quantity:   qty,
		Status:     types.StatusPending,
	}
	h.Submit(order, now)
}

func (h *Handler) resolveSideAndQty(evt eventbus.SignalEvent, currentQty int64) (types.Side, types.Volume, bool) {
	switch evt.Kind {
	case types.SignalBuy:
		return types.Buy, h.sizer.Size(evt.Instrument, evt.Strength), true
	case types.SignalSell:
		return types.Sell, h.sizer.Size(evt.Instrument, evt.Strength), true
	case types.SignalClose:
		if currentQty == 0 {
			return "", 0, false
		}
		if currentQty > 0 {
			return types.Sell, types.Volume(currentQty), true
		}
		return types.Buy, types.Volume(-currentQty), true
	default: // SignalHold and anything else
		return "", 0, false
	}
}

// Submit runs order through the risk gate, emitting a RiskEvent and
// dropping it on rejection, or registering it and scheduling delivery
// to the book on approval.
func (h *Handler) Submit(order types.Order, now types.Timestamp) {
	if _, ok := h.books[order.Instrument]; !ok {
		h.reject(order, now, &types.Violation{Kind: types.ViolationOrderSize, Message: ErrUnknownInstrument.Error()})
		return
	}

	if v := h.risk.Check(order); v != nil {
		h.reject(order, now, v)
		return
	}

	order.Status = types.StatusPending
	h.risk.OnOrderSubmitted(order)

	registered := order
	h.mu.Lock()
	h.orders[order.Id] = &registered
	h.mu.Unlock()

	h.bus.PublishSync(eventbus.Event{
		Kind:      types.EventOrder,
		Timestamp: now,
		Order:     &eventbus.OrderEvent{Order: order},
	})

	h.clock.ScheduleAfter(h.latency.Order, func(deliveryTime types.Timestamp) {
		h.deliver(order, deliveryTime)
	})
}

func (h *Handler) reject(order types.Order, now types.Timestamp, violation *types.Violation) {
	order.Status = types.StatusRejected
	h.bus.PublishSync(eventbus.Event{
		Kind:      types.EventRisk,
		Timestamp: now,
		Risk: &eventbus.RiskEvent{
			Strategy:  order.Strategy,
			Violation: violation,
			Message:   violation.Message,
		},
	})
}

// deliver matches order against its book at deliveryTime, publishing a
// FillEvent per resulting fill after the cost model has priced its
// commission.
func (h *Handler) deliver(order types.Order, deliveryTime types.Timestamp) {
	b := h.books[order.Instrument]

	var fills []types.Fill
	var err error
	switch order.Type {
	case types.OrderLimit:
		fills, err = b.MatchLimit(order, deliveryTime)
	default:
		fills, err = b.MatchMarket(order, deliveryTime)
	}
	if err != nil {
		h.logger.Error("match failed", "order", order.Id, "error", err)
		return
	}

	for _, fill := range fills {
		aggressive := true
		cost := h.cost.CostOf(order.Instrument, "", order.Side, fill.Quantity, fill.Price, aggressive)
		fill.Commission = cost.Commission

		h.mu.Lock()
		h.totalSlippage = h.totalSlippage.Add(cost.Slippage)
		if reg, ok := h.orders[order.Id]; ok {
			reg.Filled += fill.Quantity
			if reg.Filled >= reg.Quantity {
				reg.Status = types.StatusFilled
			} else {
				reg.Status = types.StatusPartial
			}
		}
		h.mu.Unlock()

		h.risk.OnFill(fill)
		h.bus.PublishSync(eventbus.Event{
			Kind:      types.EventFill,
			Timestamp: deliveryTime,
			Fill:      &eventbus.FillEvent{Fill: fill},
		})
	}
}

// Order returns the registered order with id, reflecting any fills
// applied so far.
func (h *Handler) Order(id types.OrderId) (types.Order, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if reg, ok := h.orders[id]; ok {
		return *reg, true
	}
	return types.Order{}, false
}

// TotalSlippage returns the accumulated slippage cost across every fill
// this handler has priced, as a signed (negative) value.
func (h *Handler) TotalSlippage() types.Price {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalSlippage
}
