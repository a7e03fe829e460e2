// Package eventbus implements the typed publish/subscribe bus that
// delivers MarketEvent, SignalEvent, OrderEvent, FillEvent, RiskEvent,
// and TimerEvent to subscribers in publication order.
//
// The bus is a registration table guarded by a mutex, a buffered
// broadcast queue, and "can't keep up" drop semantics for the async
// path. Unlike a websocket hub, subscribers here are plain callbacks,
// and dispatch can additionally run synchronously so the engine's
// replay loop stays deterministic.
package eventbus

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/0xtitan6/backtest-engine/pkg/types"
)

// Event is the envelope every subscriber receives. Exactly one payload
// field is set, selected by Kind — a tagged union without needing a
// language-level sum type.
type Event struct {
	Kind      types.EventKind
	Timestamp types.Timestamp

	Market *MarketEvent
	Signal *SignalEvent
	Order  *OrderEvent
	Fill   *FillEvent
	Risk   *RiskEvent
	Timer  *TimerEvent
}

// MarketEvent carries one tick becoming visible to strategies.
type MarketEvent struct {
	Tick types.Tick
}

// SignalEvent is a strategy's directional intent.
type SignalEvent struct {
	Strategy   types.StrategyId
	Instrument types.InstrumentId
	Kind       types.SignalKind
	Strength   float64
}

// OrderEvent carries an order through submission/rejection/routing.
type OrderEvent struct {
	Order types.Order
}

// FillEvent carries an execution.
type FillEvent struct {
	Fill types.Fill
}

// RiskEvent describes a recoverable risk-manager decision (most
// commonly a rejection) for the owning strategy and, optionally,
// observers.
type RiskEvent struct {
	Strategy  types.StrategyId
	Violation *types.Violation
	Message   string
}

// TimerEvent is delivered when a strategy-requested timer fires.
type TimerEvent struct {
	Strategy types.StrategyId
	Label    string
}

// Handler receives a delivered Event. A handler that panics is isolated
// — other subscribers still receive the event.
type Handler func(Event)

// SubscriptionID is the opaque handle returned by Subscribe.
type SubscriptionID uint64

type subscriber struct {
	id      SubscriptionID
	kind    types.EventKind // zero value "" means catch-all
	handler Handler
}

// Bus is the engine-owned event dispatcher.
type Bus struct {
	mu        sync.RWMutex
	byKind    map[types.EventKind][]subscriber
	catchAll  []subscriber
	nextID    SubscriptionID
	queue     chan Event
	logger    *slog.Logger
	wg        errgroup.Group
	running   bool
	runningMu sync.Mutex
}

// New creates a bus with the given async queue depth (used only by
// Publish/Run, never by PublishSync/ProcessPending).
func New(queueDepth int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		byKind: make(map[types.EventKind][]subscriber),
		queue:  make(chan Event, queueDepth),
		logger: logger.With("component", "eventbus"),
	}
}

// Subscribe registers handler for events of kind. Returns a handle for
// Unsubscribe.
func (b *Bus) Subscribe(kind types.EventKind, handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := subscriber{id: b.nextID, kind: kind, handler: handler}
	b.byKind[kind] = append(b.byKind[kind], sub)
	return sub.id
}

// SubscribeAll registers handler for every event kind.
func (b *Bus) SubscribeAll(handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := subscriber{id: b.nextID, handler: handler}
	b.catchAll = append(b.catchAll, sub)
	return sub.id
}

// Unsubscribe removes a subscription. Unknown handles are a no-op.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, subs := range b.byKind {
		b.byKind[kind] = removeSub(subs, id)
	}
	b.catchAll = removeSub(b.catchAll, id)
}

func removeSub(subs []subscriber, id SubscriptionID) []subscriber {
	out := subs[:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// PublishSync delivers event immediately on the caller's goroutine, to
// typed subscribers first, then catch-all subscribers. Each handler is
// invoked in isolation: a panic is caught and logged, and delivery
// continues to the remaining subscribers.
func (b *Bus) PublishSync(evt Event) {
	b.mu.RLock()
	typed := append([]subscriber(nil), b.byKind[evt.Kind]...)
	all := append([]subscriber(nil), b.catchAll...)
	b.mu.RUnlock()

	for _, s := range typed {
		b.deliver(s, evt)
	}
	for _, s := range all {
		b.deliver(s, evt)
	}
}

func (b *Bus) deliver(s subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber callback failed", "recover", r, "kind", evt.Kind)
		}
	}()
	s.handler(evt)
}

// Publish enqueues event for asynchronous delivery. It never blocks the
// caller; if the queue is full the event is dropped and logged.
func (b *Bus) Publish(evt Event) {
	select {
	case b.queue <- evt:
	default:
		b.logger.Warn("event queue full, dropping event", "kind", evt.Kind)
	}
}

// ProcessPending drains the async queue on the caller's goroutine
// without requiring the worker to be running.
func (b *Bus) ProcessPending() {
	for {
		select {
		case evt := <-b.queue:
			b.PublishSync(evt)
		default:
			return
		}
	}
}

// Run starts the optional background worker that drains Publish's
// queue. It returns immediately; call Stop to shut it down. The
// synchronous engine path never needs this — it exists for consumers
// (e.g. the monitor) that want fire-and-forget delivery off their own
// goroutine.
func (b *Bus) Run() {
	b.runningMu.Lock()
	if b.running {
		b.runningMu.Unlock()
		return
	}
	b.running = true
	b.runningMu.Unlock()

	b.wg.Go(func() error {
		for evt := range b.queue {
			b.PublishSync(evt)
		}
		return nil
	})
}

// Stop closes the queue and waits for the worker to drain it.
func (b *Bus) Stop() {
	b.runningMu.Lock()
	if !b.running {
		b.runningMu.Unlock()
		return
	}
	b.running = false
	b.runningMu.Unlock()

	close(b.queue)
	_ = b.wg.Wait()
}
