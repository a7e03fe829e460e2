// Package risk enforces pre-trade position, exposure, loss, and rate
// limits, and tracks the per-strategy accounting those limits read
// from.
//
// A single mutex-guarded aggregator fed serially by the engine, with a
// snapshot-style reporter surface. Rather than firing one global kill
// switch from a background ticker reading wall-clock reports, this
// manager runs pre-trade checks synchronously against the simulated
// clock, per (strategy, violation-kind), with strategy-specific
// overrides layered over a global default.
package risk

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/0xtitan6/backtest-engine/pkg/types"
)

// RollingWindow is the width of the rate limiter's sliding window, in
// simulated nanoseconds (60 seconds).
const RollingWindow types.Duration = 60_000_000_000

// PositionLimits caps order and aggregate position size.
type PositionLimits struct {
	Enabled         bool
	MaxPositionSize types.Volume
	MaxOrderSize    types.Volume
}

// ExposureLimits caps notional exposure per instrument and portfolio-wide.
type ExposureLimits struct {
	Enabled                  bool
	MaxNotionalPerInstrument types.Price
	MaxPortfolioNotional     types.Price
}

// LossLimits governs realized-loss thresholds and the cooldown that
// follows a significant loss.
type LossLimits struct {
	Enabled                  bool
	MaxDailyLoss             types.Price
	MaxTotalLoss             types.Price
	MaxDrawdownPct           float64
	SignificantLossThreshold types.Price // a trade P&L below this triggers a cooldown
	LossCooldown             types.Duration
	DrawdownCooldown         types.Duration
}

// RateLimits caps order submission frequency.
type RateLimits struct {
	Enabled            bool
	MaxOrdersPerMinute int
	MaxOrdersPerDay    int
}

// Limits bundles the four independently-enabled check groups.
type Limits struct {
	Position PositionLimits
	Exposure ExposureLimits
	Loss     LossLimits
	Rate     RateLimits
}

type positionKey struct {
	strategy   types.StrategyId
	instrument types.InstrumentId
}

// PortfolioStats summarizes risk state across all strategies.
type PortfolioStats struct {
	TotalNotional        types.Price
	TotalCumulativePnL   types.Price
	TotalDailyPnL        types.Price
	ActiveStrategies     int
	StrategiesInCooldown int
}

// Manager runs pre-trade checks and tracks position, exposure, P&L,
// rate-limit, and cooldown state for every strategy.
type Manager struct {
	mu        sync.Mutex
	global    Limits
	overrides map[types.StrategyId]Limits
	states    map[types.StrategyId]*types.RiskState
	positions map[positionKey]*types.Position
	logger    *slog.Logger
}

// New creates a risk manager enforcing global as the default limit set.
func New(global Limits, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		global:    global,
		overrides: make(map[types.StrategyId]Limits),
		states:    make(map[types.StrategyId]*types.RiskState),
		positions: make(map[positionKey]*types.Position),
		logger:    logger.With("component", "risk"),
	}
}

// SetStrategyLimits installs a per-strategy override of the global limits.
func (m *Manager) SetStrategyLimits(strategy types.StrategyId, limits Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[strategy] = limits
}

func (m *Manager) limitsForLocked(strategy types.StrategyId) Limits {
	if l, ok := m.overrides[strategy]; ok {
		return l
	}
	return m.global
}

func (m *Manager) stateForLocked(strategy types.StrategyId) *types.RiskState {
	s, ok := m.states[strategy]
	if !ok {
		s = &types.RiskState{Strategy: strategy}
		m.states[strategy] = s
	}
	return s
}

func (m *Manager) positionForLocked(strategy types.StrategyId, instrument types.InstrumentId) *types.Position {
	key := positionKey{strategy, instrument}
	p, ok := m.positions[key]
	if !ok {
		p = &types.Position{Strategy: strategy, Instrument: instrument}
		m.positions[key] = p
	}
	return p
}

// pruneWindow returns the subset of timestamps still within
// RollingWindow of now. It does not mutate state — eviction is
// persisted only from on_order_submitted, keeping Check idempotent
// per the no-side-effects contract.
func pruneWindow(timestamps []types.Timestamp, now types.Timestamp) []types.Timestamp {
	cutoff := now - types.Timestamp(RollingWindow)
	i := 0
	for i < len(timestamps) && timestamps[i] < cutoff {
		i++
	}
	return timestamps[i:]
}

// Check runs the enabled limit groups, in the documented order (order
// size, rate, position, exposure, loss, cooldown), and returns the
// first violation encountered, or nil if the order passes every
// enabled check. Check never mutates state.
func (m *Manager) Check(order types.Order) *types.Violation {
	m.mu.Lock()
	defer m.mu.Unlock()

	limits := m.limitsForLocked(order.Strategy)
	state, ok := m.states[order.Strategy]
	if !ok {
		state = &types.RiskState{Strategy: order.Strategy}
	}
	position, ok := m.positions[positionKey{order.Strategy, order.Instrument}]
	if !ok {
		position = &types.Position{Strategy: order.Strategy, Instrument: order.Instrument}
	}

	if v := checkOrderSize(limits.Position, order); v != nil {
		return v
	}
	if v := checkRate(limits.Rate, state, order); v != nil {
		return v
	}
	if v := checkPosition(limits.Position, position, order); v != nil {
		return v
	}
	if v := m.checkExposureLocked(limits.Exposure, position, order); v != nil {
		return v
	}
	if v := checkLoss(limits.Loss, state); v != nil {
		return v
	}
	if v := checkCooldown(state, order); v != nil {
		return v
	}
	return nil
}

func checkOrderSize(limits PositionLimits, order types.Order) *types.Violation {
	if !limits.Enabled || limits.MaxOrderSize == 0 {
		return nil
	}
	if order.Quantity > limits.MaxOrderSize {
		return &types.Violation{
			Kind:    types.ViolationOrderSize,
			Message: fmt.Sprintf("order quantity %d exceeds max order size %d", order.Quantity, limits.MaxOrderSize),
			Value:   types.NewPrice(float64(order.Quantity)),
			Limit:   types.NewPrice(float64(limits.MaxOrderSize)),
		}
	}
	return nil
}

func checkRate(limits RateLimits, state *types.RiskState, order types.Order) *types.Violation {
	if !limits.Enabled {
		return nil
	}
	recent := pruneWindow(state.RecentOrders, order.SubmitTime)
	if limits.MaxOrdersPerMinute > 0 && len(recent) >= limits.MaxOrdersPerMinute {
		return &types.Violation{
			Kind:    types.ViolationRate,
			Message: fmt.Sprintf("%d orders already submitted in the last 60s, limit is %d", len(recent), limits.MaxOrdersPerMinute),
			Value:   types.NewPrice(float64(len(recent))),
			Limit:   types.NewPrice(float64(limits.MaxOrdersPerMinute)),
		}
	}
	if limits.MaxOrdersPerDay > 0 && state.DailyOrderCount >= limits.MaxOrdersPerDay {
		return &types.Violation{
			Kind:    types.ViolationRate,
			Message: fmt.Sprintf("%d orders already submitted today, limit is %d", state.DailyOrderCount, limits.MaxOrdersPerDay),
			Value:   types.NewPrice(float64(state.DailyOrderCount)),
			Limit:   types.NewPrice(float64(limits.MaxOrdersPerDay)),
		}
	}
	return nil
}

func signedDelta(order types.Order) int64 {
	delta := int64(order.Remaining())
	if order.Remaining() == 0 {
		delta = int64(order.Quantity)
	}
	if order.Side == types.Sell {
		delta = -delta
	}
	return delta
}

func checkPosition(limits PositionLimits, position *types.Position, order types.Order) *types.Violation {
	if !limits.Enabled || limits.MaxPositionSize == 0 {
		return nil
	}
	newQty := position.Quantity + signedDelta(order)
	if newQty < 0 {
		newQty = -newQty
	}
	if types.Volume(newQty) > limits.MaxPositionSize {
		return &types.Violation{
			Kind:    types.ViolationPosition,
			Message: fmt.Sprintf("resulting position %d would exceed max position size %d", newQty, limits.MaxPositionSize),
			Value:   types.NewPrice(float64(newQty)),
			Limit:   types.NewPrice(float64(limits.MaxPositionSize)),
		}
	}
	return nil
}

func (m *Manager) checkExposureLocked(limits ExposureLimits, position *types.Position, order types.Order) *types.Violation {
	if !limits.Enabled {
		return nil
	}
	newQty := position.Quantity + signedDelta(order)
	// Market orders carry no limit price; fall back to the position's
	// average entry so notional is not trivially zero.
	refPrice := order.LimitPrice
	if refPrice.IsZero() {
		refPrice = position.AvgEntryPrice
	}
	notional := refPrice.Mul(types.NewPrice(absInt64(newQty)))

	if limits.MaxNotionalPerInstrument.IsPositive() && notional.GreaterThan(limits.MaxNotionalPerInstrument) {
		return &types.Violation{
			Kind:    types.ViolationExposure,
			Message: "order would exceed max notional per instrument",
			Value:   notional,
			Limit:   limits.MaxNotionalPerInstrument,
		}
	}

	if limits.MaxPortfolioNotional.IsPositive() {
		total := types.ZeroPrice
		for key, pos := range m.positions {
			qty := pos.Quantity
			if key == (positionKey{order.Strategy, order.Instrument}) {
				qty = newQty
			}
			total = total.Add(pos.AvgEntryPrice.Mul(types.NewPrice(absInt64(qty))))
		}
		if total.GreaterThan(limits.MaxPortfolioNotional) {
			return &types.Violation{
				Kind:    types.ViolationExposure,
				Message: "order would exceed max portfolio notional",
				Value:   total,
				Limit:   limits.MaxPortfolioNotional,
			}
		}
	}
	return nil
}

func absInt64(v int64) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}

func checkLoss(limits LossLimits, state *types.RiskState) *types.Violation {
	if !limits.Enabled {
		return nil
	}
	if limits.MaxDailyLoss.IsPositive() && state.DailyPnL.LessThan(limits.MaxDailyLoss.Neg()) {
		return &types.Violation{
			Kind:    types.ViolationLoss,
			Message: "daily loss threshold breached",
			Value:   state.DailyPnL,
			Limit:   limits.MaxDailyLoss.Neg(),
		}
	}
	if limits.MaxTotalLoss.IsPositive() && state.CumulativePnL.LessThan(limits.MaxTotalLoss.Neg()) {
		return &types.Violation{
			Kind:    types.ViolationLoss,
			Message: "total loss threshold breached",
			Value:   state.CumulativePnL,
			Limit:   limits.MaxTotalLoss.Neg(),
		}
	}
	return nil
}

func checkCooldown(state *types.RiskState, order types.Order) *types.Violation {
	if state.CooldownUntil != 0 && order.SubmitTime < state.CooldownUntil {
		return &types.Violation{
			Kind:    types.ViolationCooldown,
			Message: "strategy is in a post-loss cooldown",
			Value:   types.NewPrice(float64(order.SubmitTime)),
			Limit:   types.NewPrice(float64(state.CooldownUntil)),
		}
	}
	return nil
}

// OnOrderSubmitted records a successfully-routed order's submission
// time in the rolling window and increments the daily count. It also
// prunes window entries older than RollingWindow relative to
// order.SubmitTime.
func (m *Manager) OnOrderSubmitted(order types.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.stateForLocked(order.Strategy)
	state.RecentOrders = append(pruneWindow(state.RecentOrders, order.SubmitTime), order.SubmitTime)
	state.DailyOrderCount++
}

// OnFill updates position and exposure state from a fill, computes
// trade P&L, and arms the loss cooldown if that P&L falls below the
// significant-loss threshold.
//
// Trade P&L: opening or adding to a position costs only -fill.Commission.
// Reducing or closing a position additionally realizes
// (fill.Price - position.AvgEntryPrice) * closed_qty * side_sign(existing position),
// the weighted-average convention documented in the repository's
// design notes.
func (m *Manager) OnFill(fill types.Fill) {
	m.mu.Lock()
	defer m.mu.Unlock()

	position := m.positionForLocked(fill.Strategy, fill.Instrument)
	delta := int64(fill.Quantity)
	if fill.Side == types.Sell {
		delta = -delta
	}

	tradePnL := fill.Commission.Neg()

	existingQty := position.Quantity
	newQty := existingQty + delta

	closingQty := int64(0)
	if existingQty != 0 && sameSign(existingQty, delta) == false {
		if absI64(delta) <= absI64(existingQty) {
			closingQty = absI64(delta)
		} else {
			closingQty = absI64(existingQty)
		}
	}

	if closingQty > 0 {
		sign := 1.0
		if existingQty < 0 {
			sign = -1.0
		}
		realized := fill.Price.Sub(position.AvgEntryPrice).Mul(types.NewPrice(float64(closingQty) * sign))
		position.RealizedPnL = position.RealizedPnL.Add(realized)
		tradePnL = tradePnL.Add(realized)
	}

	openingQty := absI64(delta) - closingQty
	if openingQty > 0 {
		// A fill that flips the position has already closed the old lot,
		// so the new lot's average starts from this fill alone.
		oldAbs := absI64(existingQty) - closingQty
		totalAbs := oldAbs + openingQty
		if totalAbs > 0 {
			weighted := position.AvgEntryPrice.Mul(types.NewPrice(float64(oldAbs))).Add(fill.Price.Mul(types.NewPrice(float64(openingQty))))
			position.AvgEntryPrice = weighted.Div(types.NewPrice(float64(totalAbs)))
		}
	}
	if newQty == 0 {
		position.AvgEntryPrice = types.ZeroPrice
	}
	position.Quantity = newQty

	state := m.stateForLocked(fill.Strategy)
	state.DailyPnL = state.DailyPnL.Add(tradePnL)
	state.CumulativePnL = state.CumulativePnL.Add(tradePnL)

	limits := m.limitsForLocked(fill.Strategy)
	if limits.Loss.Enabled && limits.Loss.SignificantLossThreshold.IsNegative() && tradePnL.LessThan(limits.Loss.SignificantLossThreshold) {
		state.CooldownUntil = fill.Timestamp + types.Timestamp(limits.Loss.LossCooldown)
		m.logger.Warn("loss cooldown armed", "strategy", fill.Strategy, "trade_pnl", tradePnL, "cooldown_until", state.CooldownUntil)
	}
}

func sameSign(a, b int64) bool {
	if a == 0 || b == 0 {
		return true
	}
	return (a < 0) == (b < 0)
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// ResetDaily clears per-day counters and P&L for every known strategy.
// Cumulative P&L, positions, and any active cooldown are left intact.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, state := range m.states {
		state.DailyOrderCount = 0
		state.DailyPnL = types.ZeroPrice
	}
}

// PositionQty returns the current signed position quantity for
// (strategy, instrument), or 0 if no fills have been recorded yet.
func (m *Manager) PositionQty(strategy types.StrategyId, instrument types.InstrumentId) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[positionKey{strategy, instrument}]; ok {
		return p.Quantity
	}
	return 0
}

// Positions returns a snapshot of every tracked position.
func (m *Manager) Positions() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// StrategyPnL returns (daily, cumulative) P&L for strategy.
func (m *Manager) StrategyPnL(strategy types.StrategyId) (daily, cumulative types.Price) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[strategy]
	if !ok {
		return types.ZeroPrice, types.ZeroPrice
	}
	return state.DailyPnL, state.CumulativePnL
}

// PortfolioStats aggregates risk state across all strategies.
func (m *Manager) PortfolioStats() PortfolioStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := PortfolioStats{ActiveStrategies: len(m.states)}
	for _, pos := range m.positions {
		stats.TotalNotional = stats.TotalNotional.Add(pos.AvgEntryPrice.Mul(types.NewPrice(absInt64(pos.Quantity))))
	}
	for _, state := range m.states {
		stats.TotalCumulativePnL = stats.TotalCumulativePnL.Add(state.CumulativePnL)
		stats.TotalDailyPnL = stats.TotalDailyPnL.Add(state.DailyPnL)
		if state.CooldownUntil > 0 {
			stats.StrategiesInCooldown++
		}
	}
	return stats
}
