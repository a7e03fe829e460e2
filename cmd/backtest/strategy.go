package main

import (
	"github.com/0xtitan6/backtest-engine/internal/eventbus"
	"github.com/0xtitan6/backtest-engine/internal/strategy"
	"github.com/0xtitan6/backtest-engine/pkg/types"
)

// smaCrossStrategy is a trivial moving-average-cross strategy: it buys
// when the short SMA crosses above the long SMA and closes when it
// crosses back below. It exists to exercise the engine end to end, not
// to be a sound trading idea.
type smaCrossStrategy struct {
	strategy.NopLifecycle

	id         types.StrategyId
	instrument types.InstrumentId
	shortLen   int
	longLen    int

	prices   []float64
	lastSide int // -1 short/flat, 0 none yet, +1 long
}

func newSMACrossStrategy(id types.StrategyId, instrument types.InstrumentId, shortLen, longLen int) *smaCrossStrategy {
	return &smaCrossStrategy{id: id, instrument: instrument, shortLen: shortLen, longLen: longLen}
}

func (s *smaCrossStrategy) ID() types.StrategyId { return s.id }

func (s *smaCrossStrategy) OnMarketData(ctx *strategy.Context, evt eventbus.MarketEvent) {
	if evt.Tick.Instrument != s.instrument {
		return
	}
	s.prices = append(s.prices, evt.Tick.LastPrice.InexactFloat64())
	if len(s.prices) > s.longLen {
		s.prices = s.prices[len(s.prices)-s.longLen:]
	}
	if len(s.prices) < s.longLen {
		return
	}

	shortAvg := average(s.prices[len(s.prices)-s.shortLen:])
	longAvg := average(s.prices)

	switch {
	case shortAvg > longAvg && s.lastSide <= 0:
		ctx.EmitSignal(s.instrument, types.SignalBuy, 1.0)
		s.lastSide = 1
	case shortAvg < longAvg && s.lastSide >= 0:
		ctx.EmitSignal(s.instrument, types.SignalClose, 1.0)
		s.lastSide = -1
	}
}

func average(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}
