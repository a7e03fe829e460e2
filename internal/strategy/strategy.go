// Package strategy defines the callback contract the engine drives and
// the context object strategies use to emit signals and schedule timers
// without holding references back into engine internals.
//
// One required per-tick callback plus optional fill/lifecycle hooks,
// driven entirely by data the engine pushes in rather than state the
// strategy pulls.
package strategy

import (
	"github.com/0xtitan6/backtest-engine/internal/eventbus"
	"github.com/0xtitan6/backtest-engine/pkg/types"
)

// Strategy is the callback contract every registered strategy
// implements. OnMarketData is required; the rest are optional no-ops a
// strategy may override selectively by embedding NopLifecycle.
type Strategy interface {
	ID() types.StrategyId
	OnMarketData(ctx *Context, evt eventbus.MarketEvent)
}

// FillObserver is implemented by strategies that want fill
// notifications.
type FillObserver interface {
	OnFill(ctx *Context, evt eventbus.FillEvent)
}

// RiskObserver is implemented by strategies that want risk rejection
// notifications.
type RiskObserver interface {
	OnRiskEvent(ctx *Context, evt eventbus.RiskEvent)
}

// TimerObserver is implemented by strategies that want to be woken by
// their own scheduled timers.
type TimerObserver interface {
	OnTimer(ctx *Context, evt eventbus.TimerEvent)
}

// Lifecycle is implemented by strategies that need setup/teardown
// hooks around a run and pause/resume notifications.
type Lifecycle interface {
	Initialize(ctx *Context)
	OnStart(ctx *Context)
	OnStop(ctx *Context)
	OnPause(ctx *Context)
	OnResume(ctx *Context)
}

// NopLifecycle satisfies Lifecycle with no-ops; embed it in a strategy
// that only cares about a subset of the hooks.
type NopLifecycle struct{}

func (NopLifecycle) Initialize(*Context) {}
func (NopLifecycle) OnStart(*Context)    {}
func (NopLifecycle) OnStop(*Context)     {}
func (NopLifecycle) OnPause(*Context)    {}
func (NopLifecycle) OnResume(*Context)   {}

// Context is the engine-owned handle strategies use to emit signals
// and schedule timers. Strategies never hold a reference to the
// engine, the clock, or the event bus directly.
type Context struct {
	now      types.Timestamp
	bus      *eventbus.Bus
	strategy types.StrategyId
	onTimer  func(strategy types.StrategyId, at types.Timestamp, label string)
}

// NewContext builds a Context bound to strategy, usable for the
// duration of a single callback invocation.
func NewContext(now types.Timestamp, bus *eventbus.Bus, strategyID types.StrategyId, onTimer func(types.StrategyId, types.Timestamp, string)) *Context {
	return &Context{now: now, bus: bus, strategy: strategyID, onTimer: onTimer}
}

// Now returns the simulated time at which the current callback fired.
func (c *Context) Now() types.Timestamp { return c.now }

// EmitSignal publishes a SignalEvent on behalf of the owning strategy.
func (c *Context) EmitSignal(instrument types.InstrumentId, kind types.SignalKind, strength float64) {
	c.bus.PublishSync(eventbus.Event{
		Kind:      types.EventSignal,
		Timestamp: c.now,
		Signal: &eventbus.SignalEvent{
			Strategy:   c.strategy,
			Instrument: instrument,
			Kind:       kind,
			Strength:   strength,
		},
	})
}

// ScheduleTimer requests a TimerEvent labeled label be delivered to
// this strategy at the given simulated time.
func (c *Context) ScheduleTimer(at types.Timestamp, label string) {
	if c.onTimer != nil {
		c.onTimer(c.strategy, at, label)
	}
}

// Registration is the engine's bookkeeping for one registered
// strategy: its callback implementation plus active/paused state.
type Registration struct {
	Strategy Strategy
	Active   bool
}

// Registry holds every strategy the engine drives, in registration
// order (iteration order matters for deterministic replay when
// multiple strategies react to the same tick).
type Registry struct {
	order []types.StrategyId
	byID  map[types.StrategyId]*Registration
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[types.StrategyId]*Registration)}
}

// Add registers s as active.
func (r *Registry) Add(s Strategy) {
	id := s.ID()
	if _, exists := r.byID[id]; exists {
		return
	}
	r.order = append(r.order, id)
	r.byID[id] = &Registration{Strategy: s, Active: true}
}

// Get returns the registration for id, if any.
func (r *Registry) Get(id types.StrategyId) (*Registration, bool) {
	reg, ok := r.byID[id]
	return reg, ok
}

// Pause marks id as paused; paused strategies are skipped by Active.
func (r *Registry) Pause(id types.StrategyId) {
	if reg, ok := r.byID[id]; ok {
		reg.Active = false
	}
}

// Resume marks id as active again.
func (r *Registry) Resume(id types.StrategyId) {
	if reg, ok := r.byID[id]; ok {
		reg.Active = true
	}
}

// Active returns every active strategy in registration order.
func (r *Registry) Active() []Strategy {
	out := make([]Strategy, 0, len(r.order))
	for _, id := range r.order {
		reg := r.byID[id]
		if reg.Active {
			out = append(out, reg.Strategy)
		}
	}
	return out
}

// All returns every registered strategy in registration order,
// regardless of active/paused state.
func (r *Registry) All() []Strategy {
	out := make([]Strategy, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Strategy)
	}
	return out
}
