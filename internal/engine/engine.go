// Package engine is the central orchestrator of the backtest: it wires
// the tick store, clock, event bus, order books, cost model, risk
// manager, execution handler, and registered strategies into a single
// reproducible replay loop.
//
// New() wires collaborators and Run()/RunRange() drive the loop until
// the data (or a Stop()) ends it; Results()/Stats() expose what
// happened. Unlike a goroutine-per-market live-trading design (useful
// there because each market's feed is an independent live WebSocket),
// this engine is intentionally single-threaded: the whole point of a
// backtest is exact, reproducible replay against simulated time, so
// nothing here runs on its own goroutine except the event bus's
// optional async worker, which the replay loop never uses.
package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/0xtitan6/backtest-engine/internal/book"
	"github.com/0xtitan6/backtest-engine/internal/clock"
	"github.com/0xtitan6/backtest-engine/internal/costmodel"
	"github.com/0xtitan6/backtest-engine/internal/eventbus"
	"github.com/0xtitan6/backtest-engine/internal/execution"
	"github.com/0xtitan6/backtest-engine/internal/risk"
	"github.com/0xtitan6/backtest-engine/internal/strategy"
	"github.com/0xtitan6/backtest-engine/internal/tickstore"
	"github.com/0xtitan6/backtest-engine/pkg/types"
)

// ErrAlreadyRunning is returned by Run/RunRange when a replay is
// already in progress.
var ErrAlreadyRunning = fmt.Errorf("engine: a backtest is already running")

// sharpeAnnualizationFactor annualizes a per-trade Sharpe ratio using
// a 252-trading-day convention (not a daily-bar count).
const sharpeAnnualizationFactor = 252

const (
	minTimestamp types.Timestamp = math.MinInt64
	maxTimestamp types.Timestamp = math.MaxInt64
)

// Trade is one executed fill enriched with the realized P&L it
// contributed, used to build BacktestResults.
type Trade struct {
	Instrument      types.InstrumentId
	Strategy        types.StrategyId
	Side            types.Side
	Price           types.Price
	Quantity        types.Volume
	Commission      types.Price
	Timestamp       types.Timestamp
	RealizedPnLDiff types.Price // this fill's contribution to realized P&L, excluding commission
	Closing         bool        // true if this fill reduced an open position (an "exit")
}

// BacktestResults aggregates the outcome of a completed run.
type BacktestResults struct {
	Start    types.Timestamp
	End      types.Timestamp
	Duration types.Duration

	TotalPnL        types.Price
	TotalCommission types.Price
	TotalSlippage   types.Price

	TradeCount   int
	ClosedTrades int
	WinRate      float64
	MaxDrawdown  types.Price
	MaxProfit    types.Price
	SharpeRatio  float64
	ProfitFactor float64

	PerStrategyPnL map[types.StrategyId]types.Price
	Trades         []Trade
}

// EngineStats reports runtime counters for the most recent run.
type EngineStats struct {
	EventsProcessed int64
	OrdersSubmitted int64
	OrdersFilled    int64
	OrdersRejected  int64
	ProcessingTime  time.Duration
	EventsPerSecond float64
}

type tradeKey struct {
	strategy   types.StrategyId
	instrument types.InstrumentId
}

// syntheticOrderID is the reserved order id used to mirror each tick's
// top-of-book quote into the order book as resting counterparty
// liquidity. Real orders are assigned ids starting at 1 by the
// execution handler, so 0 never collides.
const syntheticOrderID types.OrderId = 0

// syntheticQuote tracks the resting synthetic liquidity currently
// mirrored into one instrument's book, so the previous tick's quote
// can be withdrawn before the new one is added.
type syntheticQuote struct {
	bidPrice types.Price
	bidQty   types.Volume
	hasBid   bool
	askPrice types.Price
	askQty   types.Volume
	hasAsk   bool
}

// Engine owns every component of one backtest and drives its replay.
type Engine struct {
	logger *slog.Logger

	ticks          *tickstore.Store
	strategies     *strategy.Registry
	globalLimits   risk.Limits
	strategyLimits map[types.StrategyId]risk.Limits
	costModel      *costmodel.Model
	latency        execution.Latency
	sizer          execution.Sizer

	// Rebuilt at the start of every Run/RunRange so repeated runs are
	// independent and deterministic: same ticks and config in, same
	// results out.
	clock       *clock.SimClock
	bus         *eventbus.Bus
	books       map[types.InstrumentId]*book.OrderBook
	riskMgr     *risk.Manager
	execHandler *execution.Handler

	stats             EngineStats
	results           BacktestResults
	trades            []Trade
	lastRealizedByKey map[tradeKey]types.Price
	syntheticQuotes   map[types.InstrumentId]*syntheticQuote

	paused  atomic.Bool
	stopped atomic.Bool
	running atomic.Bool

	progressCB func(fraction float64)
	updateCB   func(results BacktestResults)
}

// New creates an engine with no ticks, no strategies, and a permissive
// default cost model. Configure it with AddTicks/AddStrategy/
// SetCostModel/SetRiskLimits/ConfigureLatency before calling Run.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:         logger.With("component", "engine"),
		ticks:          tickstore.New(),
		strategies:     strategy.NewRegistry(),
		strategyLimits: make(map[types.StrategyId]risk.Limits),
		costModel: costmodel.New(costmodel.CommissionTable{
			MinCommission: types.ZeroPrice,
			MaxCommission: types.NewPrice(1_000_000_000),
		}, costmodel.LinearSlippage{}),
		latency: execution.DefaultLatency,
		sizer:   execution.UnitSizer{},
	}
}

// AddTicks ingests a batch of ticks for instrument.
func (e *Engine) AddTicks(instrument types.InstrumentId, ticks []types.Tick) {
	e.ticks.AppendBatch(instrument, ticks)
}

// AddStrategy registers s to receive market data and related events.
func (e *Engine) AddStrategy(s strategy.Strategy) {
	e.strategies.Add(s)
}

// SetCostModel installs the commission/slippage model used to price fills.
func (e *Engine) SetCostModel(m *costmodel.Model) {
	e.costModel = m
}

// SetRiskLimits installs the global (default) risk limits.
func (e *Engine) SetRiskLimits(limits risk.Limits) {
	e.globalLimits = limits
}

// SetStrategyRiskLimits overrides the global limits for one strategy.
func (e *Engine) SetStrategyRiskLimits(strategyID types.StrategyId, limits risk.Limits) {
	e.strategyLimits[strategyID] = limits
}

// SetSizer overrides the default unit-quantity order sizer.
func (e *Engine) SetSizer(s execution.Sizer) { e.sizer = s }

// ConfigureLatency sets the market-data and order latencies applied
// during replay.
func (e *Engine) ConfigureLatency(marketData, order types.Duration) {
	e.latency = execution.Latency{MarketData: marketData, Order: order}
}

// SetProgressCallback registers a callback invoked periodically during
// Run/RunRange with the fraction of ticks processed so far.
func (e *Engine) SetProgressCallback(cb func(fraction float64)) { e.progressCB = cb }

// SetUpdateCallback registers a callback invoked periodically during
// Run/RunRange with an in-progress results snapshot.
func (e *Engine) SetUpdateCallback(cb func(results BacktestResults)) { e.updateCB = cb }

// IsRunning reports whether a replay is currently in progress.
func (e *Engine) IsRunning() bool { return e.running.Load() }

// Pause requests that the replay loop suspend between ticks.
func (e *Engine) Pause() { e.paused.Store(true) }

// Resume clears a prior Pause.
func (e *Engine) Resume() { e.paused.Store(false) }

// Stop requests that the replay loop terminate after the current tick.
func (e *Engine) Stop() { e.stopped.Store(true) }

// Results returns the most recently completed run's results.
func (e *Engine) Results() BacktestResults { return e.results }

// Stats returns the most recently completed run's counters.
func (e *Engine) Stats() EngineStats { return e.stats }

// Run replays every tick in the tick store.
func (e *Engine) Run() (BacktestResults, error) {
	return e.RunRange(minTimestamp, maxTimestamp)
}

// RunRange replays only ticks with start <= timestamp <= end.
func (e *Engine) RunRange(start, end types.Timestamp) (BacktestResults, error) {
	if e.running.Swap(true) {
		return BacktestResults{}, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.stopped.Store(false)
	e.paused.Store(false)
	e.resetForRun()

	e.ticks.SortByTime()
	merged := mergeTicks(e.ticks.AllTicks(), start, end)

	e.buildBooks(merged)
	e.execHandler = execution.New(e.bus, e.clock, e.riskMgr, e.costModel, e.books, e.latency, e.logger)
	e.execHandler.SetSizer(e.sizer)
	e.wireSubscriptions()
	e.initializeStrategies()

	startedAt := time.Now()
	var firstTs, lastTs types.Timestamp
	haveFirst := false

	const reportEvery = 1000
	for i, tick := range merged {
		if e.stopped.Load() {
			break
		}
		for e.paused.Load() && !e.stopped.Load() {
			time.Sleep(time.Millisecond)
		}

		if !haveFirst {
			firstTs, haveFirst = tick.Timestamp, true
		}
		lastTs = tick.Timestamp

		// Consecutive ticks can land closer together than the
		// market-data latency; the clock has already passed the earlier
		// tick's visibility time then, so advance from wherever now is.
		if err := e.advanceAtLeast(tick.Timestamp); err != nil {
			return BacktestResults{}, fmt.Errorf("engine: %w", err)
		}
		e.syncSyntheticLiquidity(tick)

		e.clock.ScheduleAfter(e.latency.MarketData, func(now types.Timestamp) {
			e.publishMarketEvent(tick, now)
		})
		if err := e.advanceAtLeast(tick.Timestamp.Add(e.latency.MarketData)); err != nil {
			return BacktestResults{}, fmt.Errorf("engine: %w", err)
		}

		if i%reportEvery == 0 {
			e.reportProgress(float64(i+1) / float64(len(merged)))
		}
	}

	e.drainResidualEvents(lastTs)

	e.stats.ProcessingTime = time.Since(startedAt)
	if e.stats.ProcessingTime > 0 {
		e.stats.EventsPerSecond = float64(e.stats.EventsProcessed) / e.stats.ProcessingTime.Seconds()
	}

	e.stopStrategies()

	e.results = e.buildResults(firstTs, lastTs)
	e.reportProgress(1.0)
	return e.results, nil
}

func (e *Engine) advanceAtLeast(target types.Timestamp) error {
	if now := e.clock.Now(); target < now {
		target = now
	}
	return e.clock.AdvanceTo(target)
}

func (e *Engine) drainResidualEvents(lastTs types.Timestamp) {
	target := lastTs
	if next, ok := e.clock.NextEventTime(); ok && next > target {
		target = next
	}
	_ = e.clock.AdvanceTo(target)

	for {
		next, ok := e.clock.NextEventTime()
		if !ok {
			return
		}
		if err := e.clock.AdvanceTo(next); err != nil {
			return
		}
	}
}

func (e *Engine) reportProgress(fraction float64) {
	if e.progressCB != nil {
		e.progressCB(fraction)
	}
	if e.updateCB != nil {
		e.updateCB(e.buildResults(0, e.clock.Now()))
	}
}

// resetForRun rebuilds every piece of mutable run state so repeated
// Run/RunRange calls with identical inputs are independent. Ticks,
// strategies, cost model, latency, and risk-limit configuration
// survive a reset; everything derived from them does not.
func (e *Engine) resetForRun() {
	e.clock = clock.New(e.logger)
	e.bus = eventbus.New(4096, e.logger)
	e.books = make(map[types.InstrumentId]*book.OrderBook)
	e.riskMgr = risk.New(e.globalLimits, e.logger)
	for id, limits := range e.strategyLimits {
		e.riskMgr.SetStrategyLimits(id, limits)
	}
	e.stats = EngineStats{}
	e.trades = nil
	e.lastRealizedByKey = nil
	e.syntheticQuotes = make(map[types.InstrumentId]*syntheticQuote)
	e.results = BacktestResults{}
}

// syncSyntheticLiquidity mirrors tick's top-of-book quote into its
// instrument's order book as resting liquidity at a reserved order id,
// withdrawing whatever quote the previous tick installed first. This
// is what gives strategies' market/limit orders a counterparty to
// trade against — the order book only tracks resting orders explicitly
// added to it, and ticks are the backtest's sole source of market
// liquidity.
func (e *Engine) syncSyntheticLiquidity(tick types.Tick) {
	b, ok := e.books[tick.Instrument]
	if !ok {
		return
	}
	q, ok := e.syntheticQuotes[tick.Instrument]
	if !ok {
		q = &syntheticQuote{}
		e.syntheticQuotes[tick.Instrument] = q
	}

	if q.hasBid {
		b.Remove(syntheticOrderID, types.Buy, q.bidPrice, q.bidQty)
		q.hasBid = false
	}
	if q.hasAsk {
		b.Remove(syntheticOrderID, types.Sell, q.askPrice, q.askQty)
		q.hasAsk = false
	}

	if tick.BidSize > 0 {
		b.Add(types.Order{Id: syntheticOrderID, Instrument: tick.Instrument, Side: types.Buy, Type: types.OrderLimit, LimitPrice: tick.BidPrice, Quantity: tick.BidSize})
		q.bidPrice, q.bidQty, q.hasBid = tick.BidPrice, tick.BidSize, true
	}
	if tick.AskSize > 0 {
		b.Add(types.Order{Id: syntheticOrderID, Instrument: tick.Instrument, Side: types.Sell, Type: types.OrderLimit, LimitPrice: tick.AskPrice, Quantity: tick.AskSize})
		q.askPrice, q.askQty, q.hasAsk = tick.AskPrice, tick.AskSize, true
	}
}

func (e *Engine) buildBooks(ticks []types.Tick) {
	seen := make(map[types.InstrumentId]bool)
	for _, t := range ticks {
		if seen[t.Instrument] {
			continue
		}
		seen[t.Instrument] = true
		e.books[t.Instrument] = book.New(t.Instrument, types.PriceTime, e.logger)
	}
}

func (e *Engine) initializeStrategies() {
	for _, s := range e.strategies.All() {
		if lc, ok := s.(strategy.Lifecycle); ok {
			ctx := strategy.NewContext(e.clock.Now(), e.bus, s.ID(), e.onStrategyTimer)
			lc.Initialize(ctx)
			lc.OnStart(ctx)
		}
	}
}

func (e *Engine) stopStrategies() {
	for _, s := range e.strategies.All() {
		if lc, ok := s.(strategy.Lifecycle); ok {
			lc.OnStop(strategy.NewContext(e.clock.Now(), e.bus, s.ID(), e.onStrategyTimer))
		}
	}
}

// PauseStrategy stops delivering market data to id until ResumeStrategy.
func (e *Engine) PauseStrategy(id types.StrategyId) {
	reg, ok := e.strategies.Get(id)
	if !ok {
		return
	}
	e.strategies.Pause(id)
	if lc, ok := reg.Strategy.(strategy.Lifecycle); ok && e.clock != nil {
		lc.OnPause(strategy.NewContext(e.clock.Now(), e.bus, id, e.onStrategyTimer))
	}
}

// ResumeStrategy reverses a prior PauseStrategy.
func (e *Engine) ResumeStrategy(id types.StrategyId) {
	reg, ok := e.strategies.Get(id)
	if !ok {
		return
	}
	e.strategies.Resume(id)
	if lc, ok := reg.Strategy.(strategy.Lifecycle); ok && e.clock != nil {
		lc.OnResume(strategy.NewContext(e.clock.Now(), e.bus, id, e.onStrategyTimer))
	}
}

func (e *Engine) onStrategyTimer(strategyID types.StrategyId, at types.Timestamp, label string) {
	e.clock.Schedule(at, func(now types.Timestamp) {
		e.bus.PublishSync(eventbus.Event{
			Kind:      types.EventTimer,
			Timestamp: now,
			Timer:     &eventbus.TimerEvent{Strategy: strategyID, Label: label},
		})
	})
}

func (e *Engine) publishMarketEvent(tick types.Tick, now types.Timestamp) {
	e.bus.PublishSync(eventbus.Event{
		Kind:      types.EventMarket,
		Timestamp: now,
		Market:    &eventbus.MarketEvent{Tick: tick},
	})
}

// wireSubscriptions implements the fixed routing table: Market to
// every active strategy, Signal to the execution handler, Fill/Risk/
// Timer to their owning strategy (plus engine-level counters).
func (e *Engine) wireSubscriptions() {
	e.bus.SubscribeAll(func(eventbus.Event) { e.stats.EventsProcessed++ })

	e.bus.Subscribe(types.EventMarket, func(evt eventbus.Event) {
		for _, s := range e.strategies.Active() {
			ctx := strategy.NewContext(evt.Timestamp, e.bus, s.ID(), e.onStrategyTimer)
			s.OnMarketData(ctx, *evt.Market)
		}
	})

	e.bus.Subscribe(types.EventSignal, func(evt eventbus.Event) {
		sig := evt.Signal
		currentQty := e.riskMgr.PositionQty(sig.Strategy, sig.Instrument)
		e.execHandler.OnSignal(*sig, evt.Timestamp, currentQty)
	})

	e.bus.Subscribe(types.EventOrder, func(eventbus.Event) {
		e.stats.OrdersSubmitted++
	})

	e.bus.Subscribe(types.EventFill, func(evt eventbus.Event) {
		e.stats.OrdersFilled++
		e.recordTrade(evt.Fill.Fill)
		e.notifyStrategyFill(evt)
	})

	e.bus.Subscribe(types.EventRisk, func(evt eventbus.Event) {
		e.stats.OrdersRejected++
		e.notifyStrategyRisk(evt)
	})

	e.bus.Subscribe(types.EventTimer, func(evt eventbus.Event) {
		e.notifyStrategyTimer(evt)
	})
}

func (e *Engine) notifyStrategyFill(evt eventbus.Event) {
	reg, ok := e.strategies.Get(evt.Fill.Fill.Strategy)
	if !ok {
		return
	}
	if observer, ok := reg.Strategy.(strategy.FillObserver); ok {
		ctx := strategy.NewContext(evt.Timestamp, e.bus, reg.Strategy.ID(), e.onStrategyTimer)
		observer.OnFill(ctx, *evt.Fill)
	}
}

func (e *Engine) notifyStrategyRisk(evt eventbus.Event) {
	reg, ok := e.strategies.Get(evt.Risk.Strategy)
	if !ok {
		return
	}
	if observer, ok := reg.Strategy.(strategy.RiskObserver); ok {
		ctx := strategy.NewContext(evt.Timestamp, e.bus, reg.Strategy.ID(), e.onStrategyTimer)
		observer.OnRiskEvent(ctx, *evt.Risk)
	}
}

func (e *Engine) notifyStrategyTimer(evt eventbus.Event) {
	reg, ok := e.strategies.Get(evt.Timer.Strategy)
	if !ok {
		return
	}
	if observer, ok := reg.Strategy.(strategy.TimerObserver); ok {
		ctx := strategy.NewContext(evt.Timestamp, e.bus, reg.Strategy.ID(), e.onStrategyTimer)
		observer.OnTimer(ctx, *evt.Timer)
	}
}

// recordTrade looks up the incremental realized P&L the fill's
// position update produced, by diffing the running per-(strategy,
// instrument) ledger this method maintains against the risk manager's
// position snapshot, which the execution handler has already updated
// by the time the FillEvent reaches this subscriber.
func (e *Engine) recordTrade(fill types.Fill) {
	key := tradeKey{fill.Strategy, fill.Instrument}
	prev := e.lastRealized(key)
	cur := types.ZeroPrice
	var qty int64
	for _, p := range e.riskMgr.Positions() {
		if p.Strategy == fill.Strategy && p.Instrument == fill.Instrument {
			cur, qty = p.RealizedPnL, p.Quantity
			break
		}
	}
	diff := cur.Sub(prev)
	e.setLastRealized(key, cur)

	prevQty := qty + int64(fill.Quantity)
	if fill.Side == types.Buy {
		prevQty = qty - int64(fill.Quantity)
	}
	closing := prevQty != 0 && (prevQty > 0) == (fill.Side == types.Sell)

	e.trades = append(e.trades, Trade{
		Instrument:      fill.Instrument,
		Strategy:        fill.Strategy,
		Side:            fill.Side,
		Price:           fill.Price,
		Quantity:        fill.Quantity,
		Commission:      fill.Commission,
		Timestamp:       fill.Timestamp,
		RealizedPnLDiff: diff,
		Closing:         closing,
	})
}

func (e *Engine) lastRealized(key tradeKey) types.Price {
	if v, ok := e.lastRealizedByKey[key]; ok {
		return v
	}
	return types.ZeroPrice
}

func (e *Engine) setLastRealized(key tradeKey, v types.Price) {
	if e.lastRealizedByKey == nil {
		e.lastRealizedByKey = make(map[tradeKey]types.Price)
	}
	e.lastRealizedByKey[key] = v
}

func (e *Engine) buildResults(start, end types.Timestamp) BacktestResults {
	results := BacktestResults{
		Start:          start,
		End:            end,
		Duration:       end.Sub(start),
		PerStrategyPnL: make(map[types.StrategyId]types.Price),
		Trades:         append([]Trade(nil), e.trades...),
		TradeCount:     len(e.trades),
	}
	if e.execHandler != nil {
		results.TotalSlippage = e.execHandler.TotalSlippage()
	}

	var closingPnLs []float64
	grossProfit, grossLoss := 0.0, 0.0
	wins := 0

	equity, peak, maxDrawdown, maxProfit := 0.0, 0.0, 0.0, 0.0

	for _, t := range e.trades {
		tradePnL := t.RealizedPnLDiff.Sub(t.Commission)
		results.TotalPnL = results.TotalPnL.Add(tradePnL)
		results.TotalCommission = results.TotalCommission.Add(t.Commission)
		results.PerStrategyPnL[t.Strategy] = results.PerStrategyPnL[t.Strategy].Add(tradePnL)

		pnlFloat, _ := tradePnL.Float64()
		equity += pnlFloat
		if equity > peak {
			peak = equity
		}
		if drawdown := peak - equity; drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
		if equity > maxProfit {
			maxProfit = equity
		}

		if t.Closing {
			results.ClosedTrades++
			realized, _ := t.RealizedPnLDiff.Float64()
			closingPnLs = append(closingPnLs, realized)
			switch {
			case realized > 0:
				wins++
				grossProfit += realized
			case realized < 0:
				grossLoss += -realized
			}
		}
	}

	results.MaxDrawdown = types.NewPrice(maxDrawdown)
	results.MaxProfit = types.NewPrice(maxProfit)

	if results.ClosedTrades > 0 {
		results.WinRate = float64(wins) / float64(results.ClosedTrades)
	}
	if grossLoss > 0 {
		results.ProfitFactor = grossProfit / grossLoss
	}
	results.SharpeRatio = sharpeRatio(closingPnLs)

	return results
}

func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return (mean / stddev) * math.Sqrt(sharpeAnnualizationFactor)
}

// mergeTicks k-way merges every instrument's tick slice into one
// time-ordered sequence restricted to [start, end], tie-breaking equal
// timestamps by instrument id for deterministic ordering. Each slice is
// already time-sorted, so the in-range window is found by binary search
// and the merge only ever compares each cursor's head.
func mergeTicks(byInstrument map[types.InstrumentId][]types.Tick, start, end types.Timestamp) []types.Tick {
	type cursor struct {
		instrument types.InstrumentId
		ticks      []types.Tick
		idx        int
	}
	cursors := make([]*cursor, 0, len(byInstrument))
	total := 0
	for instrument, ticks := range byInstrument {
		lo := sort.Search(len(ticks), func(i int) bool { return ticks[i].Timestamp >= start })
		hi := sort.Search(len(ticks), func(i int) bool { return ticks[i].Timestamp > end })
		if lo >= hi {
			continue
		}
		cursors = append(cursors, &cursor{instrument: instrument, ticks: ticks[lo:hi]})
		total += hi - lo
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].instrument < cursors[j].instrument })

	out := make([]types.Tick, 0, total)
	for len(out) < total {
		best := -1
		for i, c := range cursors {
			if c.idx >= len(c.ticks) {
				continue
			}
			if best == -1 || c.ticks[c.idx].Timestamp < cursors[best].ticks[cursors[best].idx].Timestamp {
				best = i
			}
			// equal timestamps: cursors are instrument-sorted, so keeping
			// the first-seen candidate satisfies the tie-break rule.
		}
		out = append(out, cursors[best].ticks[cursors[best].idx])
		cursors[best].idx++
	}
	return out
}
