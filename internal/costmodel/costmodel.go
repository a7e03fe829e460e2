// Package costmodel applies per-fill commission and slippage, composed
// from a resolvable CommissionTable and a pluggable SlippageModel.
//
// The table-resolution order (instrument, then exchange, then a
// built-in default) generalizes a strategy-override/global-default
// layering from one axis to two, and the Linear/SquareRoot slippage
// curves express cost as a function of quoted size relative to a
// reference volume.
package costmodel

import (
	"math"

	"github.com/0xtitan6/backtest-engine/pkg/types"
)

// DefaultAverageDailyVolume is used by slippage models when no
// instrument-specific ADV is configured.
const DefaultAverageDailyVolume = 1_000_000

// CommissionTable describes one venue/instrument's commission schedule.
type CommissionTable struct {
	MakerRate     float64
	TakerRate     float64
	FixedFee      types.Price
	MinCommission types.Price
	MaxCommission types.Price
}

// Commission computes clamp(qty*price*rate + fixed, min, max), using
// MakerRate if isMaker else TakerRate.
func (t CommissionTable) Commission(qty types.Volume, price types.Price, isMaker bool) types.Price {
	rate := t.TakerRate
	if isMaker {
		rate = t.MakerRate
	}
	notional := price.Mul(types.NewPrice(float64(qty)))
	raw := notional.Mul(types.NewPrice(rate)).Add(t.FixedFee)

	if raw.LessThan(t.MinCommission) {
		return t.MinCommission
	}
	if raw.GreaterThan(t.MaxCommission) {
		return t.MaxCommission
	}
	return raw
}

// SlippageModel computes a signed execution cost (negative by
// convention) for a hypothetical trade.
type SlippageModel interface {
	Slippage(instrument types.InstrumentId, side types.Side, qty types.Volume, referencePrice types.Price, avgDailyVolume float64) types.Price
}

// LinearSlippage models cost as linear in participation rate:
// rate = base + impact*(qty/adv); result = -|rate*reference|.
type LinearSlippage struct {
	Base   float64
	Impact float64
}

func (m LinearSlippage) Slippage(_ types.InstrumentId, _ types.Side, qty types.Volume, referencePrice types.Price, adv float64) types.Price {
	rate := m.Base
	if adv != 0 {
		rate = m.Base + m.Impact*(float64(qty)/adv)
	}
	return negAbs(rate, referencePrice)
}

// SquareRootSlippage models cost as proportional to the square root of
// participation rate: rate = base + coeff*sqrt(qty/adv).
type SquareRootSlippage struct {
	Base  float64
	Coeff float64
}

func (m SquareRootSlippage) Slippage(_ types.InstrumentId, _ types.Side, qty types.Volume, referencePrice types.Price, adv float64) types.Price {
	rate := m.Base
	if adv != 0 {
		rate = m.Base + m.Coeff*math.Sqrt(float64(qty)/adv)
	}
	return negAbs(rate, referencePrice)
}

func negAbs(rate float64, referencePrice types.Price) types.Price {
	product := referencePrice.Mul(types.NewPrice(rate))
	return product.Abs().Neg()
}

// Cost is the result of applying the cost model to a hypothetical
// trade.
type Cost struct {
	Commission types.Price
	Slippage   types.Price
	Total      types.Price
}

// Model resolves commission tables by (instrument, exchange, default)
// and delegates slippage to a pluggable SlippageModel.
type Model struct {
	defaultTable      CommissionTable
	byInstrument      map[types.InstrumentId]CommissionTable
	byExchange        map[types.ExchangeId]CommissionTable
	slippage          SlippageModel
	avgDailyVolumeFor map[types.InstrumentId]float64
}

// New creates a cost model with defaultTable as the fallback commission
// schedule and slippage as the active slippage curve.
func New(defaultTable CommissionTable, slippage SlippageModel) *Model {
	return &Model{
		defaultTable:      defaultTable,
		byInstrument:      make(map[types.InstrumentId]CommissionTable),
		byExchange:        make(map[types.ExchangeId]CommissionTable),
		slippage:          slippage,
		avgDailyVolumeFor: make(map[types.InstrumentId]float64),
	}
}

// SetInstrumentTable overrides the commission table for instrument.
func (m *Model) SetInstrumentTable(instrument types.InstrumentId, table CommissionTable) {
	m.byInstrument[instrument] = table
}

// SetExchangeTable overrides the commission table for exchange.
func (m *Model) SetExchangeTable(exchange types.ExchangeId, table CommissionTable) {
	m.byExchange[exchange] = table
}

// SetAverageDailyVolume configures the ADV used for instrument's
// slippage calculations, overriding DefaultAverageDailyVolume.
func (m *Model) SetAverageDailyVolume(instrument types.InstrumentId, adv float64) {
	m.avgDailyVolumeFor[instrument] = adv
}

func (m *Model) resolveTable(instrument types.InstrumentId, exchange types.ExchangeId) CommissionTable {
	if t, ok := m.byInstrument[instrument]; ok {
		return t
	}
	if t, ok := m.byExchange[exchange]; ok {
		return t
	}
	return m.defaultTable
}

// CostOf computes commission, slippage, and total for a hypothetical
// trade. isMaker is the negation of aggressive (resting vs. crossing).
func (m *Model) CostOf(instrument types.InstrumentId, exchange types.ExchangeId, side types.Side, qty types.Volume, price types.Price, aggressive bool) Cost {
	isMaker := !aggressive
	table := m.resolveTable(instrument, exchange)
	commission := table.Commission(qty, price, isMaker)

	adv, ok := m.avgDailyVolumeFor[instrument]
	if !ok {
		adv = DefaultAverageDailyVolume
	}
	slippage := types.ZeroPrice
	if m.slippage != nil {
		slippage = m.slippage.Slippage(instrument, side, qty, price, adv)
	}

	return Cost{
		Commission: commission,
		Slippage:   slippage,
		Total:      commission.Add(slippage),
	}
}
