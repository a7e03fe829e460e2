// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — scalar types,
// identifiers, order/fill/position entities, and the closed enums that
// describe them. It has no dependencies on internal packages, so it can
// be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Scalars
// ————————————————————————————————————————————————————————————————————————

// Price is a signed, fixed-point decimal. Every commission, slippage,
// fill, and P&L computation in the engine goes through Price so that
// results are identical across platforms — float64 does not guarantee
// that.
type Price = decimal.Decimal

// ZeroPrice is the additive identity for Price.
var ZeroPrice = decimal.Zero

// NewPrice builds a Price from a float64, using the shortest decimal
// representation of v.
func NewPrice(v float64) Price {
	return decimal.NewFromFloat(v)
}

// Volume is an unsigned traded/resting quantity.
type Volume uint64

// Timestamp is simulated time: nanoseconds since an arbitrary epoch. It
// only ever advances through SimClock; it is never derived from
// wall-clock time during a run.
type Timestamp int64

// Duration is a signed span of simulated time, same unit as Timestamp.
type Duration int64

// Add returns t+d.
func (t Timestamp) Add(d Duration) Timestamp { return t + Timestamp(d) }

// Sub returns t-u as a Duration.
func (t Timestamp) Sub(u Timestamp) Duration { return Duration(t - u) }

// Before reports whether t is strictly earlier than u.
func (t Timestamp) Before(u Timestamp) bool { return t < u }

// After reports whether t is strictly later than u.
func (t Timestamp) After(u Timestamp) bool { return t > u }

// Time converts t to a wall-clock time.Time for display/logging only.
func (t Timestamp) Time() time.Time { return time.Unix(0, int64(t)).UTC() }

// ————————————————————————————————————————————————————————————————————————
// Identifiers
// ————————————————————————————————————————————————————————————————————————

// OrderId uniquely and monotonically identifies an order within a run.
type OrderId uint64

// StrategyId identifies a registered strategy.
type StrategyId string

// InstrumentId identifies a tradeable instrument.
type InstrumentId string

// ExchangeId identifies a venue for commission-table resolution.
type ExchangeId string

// ————————————————————————————————————————————————————————————————————————
// Closed enums
// ————————————————————————————————————————————————————————————————————————

// Side is the direction of an order or fill.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	OrderMarket    OrderType = "MARKET"
	OrderLimit     OrderType = "LIMIT"
	OrderStop      OrderType = "STOP"
	OrderStopLimit OrderType = "STOP_LIMIT"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// EventKind identifies the concrete type carried by an Event envelope.
type EventKind string

const (
	EventMarket EventKind = "MARKET"
	EventSignal EventKind = "SIGNAL"
	EventOrder  EventKind = "ORDER"
	EventFill   EventKind = "FILL"
	EventRisk   EventKind = "RISK"
	EventTimer  EventKind = "TIMER"
)

// SignalKind is the directional intent a strategy emits.
type SignalKind string

const (
	SignalBuy   SignalKind = "BUY"
	SignalSell  SignalKind = "SELL"
	SignalHold  SignalKind = "HOLD"
	SignalClose SignalKind = "CLOSE"
)

// MatchAlgorithm selects the order book's matching discipline. Only
// PriceTime is required to be implemented; the others are declared for
// interface completeness and fail cleanly with ErrNotImplemented.
type MatchAlgorithm string

const (
	PriceTime     MatchAlgorithm = "PRICE_TIME"
	ProRata       MatchAlgorithm = "PRO_RATA"
	PriceSizeTime MatchAlgorithm = "PRICE_SIZE_TIME"
)

// ViolationKind is the closed set of pre-trade risk rejections.
type ViolationKind string

const (
	ViolationPosition  ViolationKind = "POSITION"
	ViolationExposure  ViolationKind = "EXPOSURE"
	ViolationLoss      ViolationKind = "LOSS"
	ViolationOrderSize ViolationKind = "ORDER_SIZE"
	ViolationRate      ViolationKind = "RATE"
	ViolationCooldown  ViolationKind = "COOLDOWN"
)

// ————————————————————————————————————————————————————————————————————————
// Entities
// ————————————————————————————————————————————————————————————————————————

// Tick is one record of market state at a single instant for one
// instrument. Immutable once appended to a TickSeries.
type Tick struct {
	Timestamp    Timestamp
	Instrument   InstrumentId
	BidPrice     Price
	BidSize      Volume
	AskPrice     Price
	AskSize      Volume
	LastPrice    Price
	TradedVolume Volume
	Open         Price
	High         Price
	Low          Price
	Close        Price
	Date         string // calendar date of the bar, e.g. "2024-01-02"
}

// Order is a single order submitted by a strategy.
type Order struct {
	Id         OrderId
	SubmitTime Timestamp
	Instrument InstrumentId
	Strategy   StrategyId
	Side       Side
	Type       OrderType
	LimitPrice Price // meaningful for non-market orders
	StopPrice  Price // meaningful for stop/stop-limit orders
	Quantity   Volume
	Filled     Volume
	Status     OrderStatus
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() Volume {
	if o.Filled >= o.Quantity {
		return 0
	}
	return o.Quantity - o.Filled
}

// Fill is one execution against an order. An order yields one or more
// fills; the sum of fill quantities never exceeds the order quantity.
type Fill struct {
	OrderId    OrderId
	Timestamp  Timestamp
	Instrument InstrumentId
	Strategy   StrategyId
	Side       Side
	Price      Price
	Quantity   Volume
	Commission Price
}

// Position is the net signed holding of one instrument by one strategy.
type Position struct {
	Strategy      StrategyId
	Instrument    InstrumentId
	Quantity      int64 // signed: positive long, negative short
	AvgEntryPrice Price
	RealizedPnL   Price
	UnrealizedPnL Price
}

// BookLevelEntry is one resting order within a BookLevel's FIFO queue.
type BookLevelEntry struct {
	OrderId   OrderId
	Remaining Volume
}

// ScheduledEvent is a (due-time, callback) pair held in the clock's
// min-heap, tie-broken by insertion sequence.
type ScheduledEvent struct {
	Due      Timestamp
	Sequence uint64
	Callback func(now Timestamp)
}

// Violation describes why a pre-trade risk check rejected an order.
type Violation struct {
	Kind    ViolationKind
	Message string
	Value   Price
	Limit   Price
}

// RiskState is the per-strategy bookkeeping the risk manager maintains:
// the rolling order-submission window, daily/cumulative counters, and
// the active cooldown expiry.
type RiskState struct {
	Strategy        StrategyId
	RecentOrders    []Timestamp // rolling 60s window, oldest first
	DailyOrderCount int
	DailyPnL        Price
	CumulativePnL   Price
	CooldownUntil   Timestamp
}
