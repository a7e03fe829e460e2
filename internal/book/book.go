// Package book implements the two-sided, price-time-priority limit
// order book that matches market and marketable-limit orders against
// resting liquidity.
//
// The book keeps one FIFO per price level (container/list) behind two
// sorted slices of levels — bids descending, asks ascending — so the
// best price is always the slice's front element, keeping bids/asks
// pre-sorted by insertion rather than sorting on read.
package book

import (
	"container/list"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/0xtitan6/backtest-engine/pkg/types"
)

// ErrNotImplemented is returned by match operations when the book was
// constructed with a matching algorithm other than PriceTime.
var ErrNotImplemented = fmt.Errorf("book: matching algorithm not implemented")

// ErrUnknownInstrument flags an order whose instrument does not match
// the book it was routed to.
var ErrUnknownInstrument = fmt.Errorf("book: order instrument does not match this book")

type entry struct {
	orderID   types.OrderId
	remaining types.Volume
}

type level struct {
	price       types.Price
	entries     *list.List // of *entry, FIFO (oldest at Front)
	totalVolume types.Volume
}

func newLevel(price types.Price) *level {
	return &level{price: price, entries: list.New()}
}

func (l *level) push(orderID types.OrderId, qty types.Volume) {
	l.entries.PushBack(&entry{orderID: orderID, remaining: qty})
	l.totalVolume += qty
}

// drain removes up to qty from the level's FIFO, oldest first, and
// returns how much was actually removed.
func (l *level) drain(qty types.Volume) types.Volume {
	removed := types.Volume(0)
	for removed < qty {
		front := l.entries.Front()
		if front == nil {
			break
		}
		e := front.Value.(*entry)
		need := qty - removed
		if e.remaining <= need {
			removed += e.remaining
			l.entries.Remove(front)
		} else {
			e.remaining -= need
			removed += need
		}
	}
	l.totalVolume -= removed
	return removed
}

// removeOrder removes up to qty belonging to orderID from the level.
// Returns the quantity actually removed.
func (l *level) removeOrder(orderID types.OrderId, qty types.Volume) types.Volume {
	removed := types.Volume(0)
	for e := l.entries.Front(); e != nil && removed < qty; {
		next := e.Next()
		ent := e.Value.(*entry)
		if ent.orderID == orderID {
			need := qty - removed
			if ent.remaining <= need {
				removed += ent.remaining
				l.entries.Remove(e)
			} else {
				ent.remaining -= need
				removed += need
			}
		}
		e = next
	}
	l.totalVolume -= removed
	return removed
}

// Snapshot is a read-only view of one price level, returned by depth
// queries.
type Snapshot struct {
	Price  types.Price
	Volume types.Volume
}

// Stats summarizes the current book state.
type Stats struct {
	BidLevels int
	AskLevels int
	BidVolume types.Volume
	AskVolume types.Volume
	BestBid   types.Price
	BestAsk   types.Price
	HasBid    bool
	HasAsk    bool
	Spread    types.Price
	HasSpread bool
}

// OrderBook is the matching engine for a single instrument.
type OrderBook struct {
	mu         sync.RWMutex
	instrument types.InstrumentId
	algorithm  types.MatchAlgorithm
	bids       []*level // descending by price
	asks       []*level // ascending by price
	logger     *slog.Logger
}

// New creates an empty order book for instrument using algorithm.
// Only types.PriceTime is implemented; other algorithms are accepted
// at construction but every match call returns ErrNotImplemented.
func New(instrument types.InstrumentId, algorithm types.MatchAlgorithm, logger *slog.Logger) *OrderBook {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderBook{
		instrument: instrument,
		algorithm:  algorithm,
		logger:     logger.With("component", "book", "instrument", instrument),
	}
}

// Instrument returns the instrument this book matches.
func (b *OrderBook) Instrument() types.InstrumentId { return b.instrument }

func levelsFor(b *OrderBook, side types.Side) *[]*level {
	if side == types.Buy {
		return &b.bids
	}
	return &b.asks
}

// less reports whether price a should sort before price b for side.
func less(side types.Side, a, b types.Price) bool {
	if side == types.Buy {
		return a.GreaterThan(b) // bids descending
	}
	return a.LessThan(b) // asks ascending
}

func findLevel(levels []*level, price types.Price) (int, bool) {
	for i, l := range levels {
		if l.price.Equal(price) {
			return i, true
		}
	}
	return -1, false
}

func insertIndex(side types.Side, levels []*level, price types.Price) int {
	return sort.Search(len(levels), func(i int) bool {
		return !less(side, levels[i].price, price)
	})
}

// Add appends order at the back of its price level's FIFO, creating
// the level if absent.
func (b *OrderBook) Add(order types.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(order.Side, order.LimitPrice, order.Id, order.Remaining())
}

func (b *OrderBook) addLocked(side types.Side, price types.Price, orderID types.OrderId, qty types.Volume) {
	levels := levelsFor(b, side)
	if idx, ok := findLevel(*levels, price); ok {
		(*levels)[idx].push(orderID, qty)
		return
	}
	l := newLevel(price)
	l.push(orderID, qty)
	idx := insertIndex(side, *levels, price)
	*levels = append(*levels, nil)
	copy((*levels)[idx+1:], (*levels)[idx:])
	(*levels)[idx] = l
}

// Remove removes up to qty of orderID from its level on side at price.
// The level is deleted if drained to zero. Returns the quantity
// actually removed.
func (b *OrderBook) Remove(orderID types.OrderId, side types.Side, price types.Price, qty types.Volume) types.Volume {
	b.mu.Lock()
	defer b.mu.Unlock()

	levels := levelsFor(b, side)
	idx, ok := findLevel(*levels, price)
	if !ok {
		return 0
	}
	removed := (*levels)[idx].removeOrder(orderID, qty)
	if (*levels)[idx].totalVolume == 0 {
		*levels = append((*levels)[:idx], (*levels)[idx+1:]...)
	}
	return removed
}

func oppositeLevels(b *OrderBook, side types.Side) *[]*level {
	if side == types.Buy {
		return &b.asks
	}
	return &b.bids
}

// MatchMarket repeatedly takes liquidity from the opposite best level
// until order.Remaining() is exhausted or the opposite side empties.
// Fully consumed levels are removed. Returns the resulting fills.
func (b *OrderBook) MatchMarket(order types.Order, ts types.Timestamp) ([]types.Fill, error) {
	if b.algorithm != types.PriceTime {
		return nil, ErrNotImplemented
	}
	if order.Instrument != b.instrument {
		return nil, ErrUnknownInstrument
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.matchLocked(order, ts, nil), nil
}

// MatchLimit behaves like MatchMarket but stops crossing once the best
// opposite price no longer satisfies the order's limit, and rests any
// residual quantity on the order's own side.
func (b *OrderBook) MatchLimit(order types.Order, ts types.Timestamp) ([]types.Fill, error) {
	if b.algorithm != types.PriceTime {
		return nil, ErrNotImplemented
	}
	if order.Instrument != b.instrument {
		return nil, ErrUnknownInstrument
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	crosses := func(best types.Price) bool {
		if order.Side == types.Buy {
			return order.LimitPrice.GreaterThanOrEqual(best)
		}
		return order.LimitPrice.LessThanOrEqual(best)
	}
	fills := b.matchLocked(order, ts, crosses)

	remaining := order.Quantity - sumFilled(fills, order.Filled)
	if remaining > 0 {
		b.addLocked(order.Side, order.LimitPrice, order.Id, remaining)
	}
	return fills, nil
}

func sumFilled(fills []types.Fill, alreadyFilled types.Volume) types.Volume {
	total := alreadyFilled
	for _, f := range fills {
		total += f.Quantity
	}
	return total
}

// matchLocked must be called with b.mu held. stopCrossing, if non-nil,
// is consulted against the opposite best price before each take; a
// false result halts matching without consuming that level.
func (b *OrderBook) matchLocked(order types.Order, ts types.Timestamp, stopCrossing func(best types.Price) bool) []types.Fill {
	opposite := oppositeLevels(b, order.Side)
	remaining := order.Remaining()

	var fills []types.Fill
	for remaining > 0 && len(*opposite) > 0 {
		best := (*opposite)[0]
		if stopCrossing != nil && !stopCrossing(best.price) {
			break
		}

		take := remaining
		if best.totalVolume < take {
			take = best.totalVolume
		}
		best.drain(take)
		remaining -= take

		fills = append(fills, types.Fill{
			OrderId:    order.Id,
			Timestamp:  ts,
			Instrument: order.Instrument,
			Strategy:   order.Strategy,
			Side:       order.Side,
			Price:      best.price,
			Quantity:   take,
		})

		if best.totalVolume == 0 {
			*opposite = (*opposite)[1:]
		}
	}
	return fills
}

// BestBid returns the highest resting bid price.
func (b *OrderBook) BestBid() (types.Price, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 {
		return types.ZeroPrice, false
	}
	return b.bids[0].price, true
}

// BestAsk returns the lowest resting ask price.
func (b *OrderBook) BestAsk() (types.Price, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.asks) == 0 {
		return types.ZeroPrice, false
	}
	return b.asks[0].price, true
}

// Spread returns best_ask - best_bid. ok is false unless both sides
// are non-empty.
func (b *OrderBook) Spread() (types.Price, bool) {
	bid, bidOK := b.BestBid()
	ask, askOK := b.BestAsk()
	if !bidOK || !askOK {
		return types.ZeroPrice, false
	}
	return ask.Sub(bid), true
}

// MidPrice returns (best_bid + best_ask) / 2.
func (b *OrderBook) MidPrice() (types.Price, bool) {
	bid, bidOK := b.BestBid()
	ask, askOK := b.BestAsk()
	if !bidOK || !askOK {
		return types.ZeroPrice, false
	}
	return bid.Add(ask).Div(types.NewPrice(2)), true
}

// Bids returns up to n best bid levels, best first.
func (b *OrderBook) Bids(n int) []Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return snapshot(b.bids, n)
}

// Asks returns up to n best ask levels, best first.
func (b *OrderBook) Asks(n int) []Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return snapshot(b.asks, n)
}

func snapshot(levels []*level, n int) []Snapshot {
	if n > len(levels) {
		n = len(levels)
	}
	out := make([]Snapshot, n)
	for i := 0; i < n; i++ {
		out[i] = Snapshot{Price: levels[i].price, Volume: levels[i].totalVolume}
	}
	return out
}

// VolumeAt returns the resting volume at price on side, or 0 if there
// is no such level.
func (b *OrderBook) VolumeAt(side types.Side, price types.Price) types.Volume {
	b.mu.RLock()
	defer b.mu.RUnlock()
	levels := *levelsFor(b, side)
	if idx, ok := findLevel(levels, price); ok {
		return levels[idx].totalVolume
	}
	return 0
}

// Stats summarizes the book's current depth and touch.
func (b *OrderBook) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{BidLevels: len(b.bids), AskLevels: len(b.asks)}
	for _, l := range b.bids {
		s.BidVolume += l.totalVolume
	}
	for _, l := range b.asks {
		s.AskVolume += l.totalVolume
	}
	if len(b.bids) > 0 {
		s.BestBid, s.HasBid = b.bids[0].price, true
	}
	if len(b.asks) > 0 {
		s.BestAsk, s.HasAsk = b.asks[0].price, true
	}
	if s.HasBid && s.HasAsk {
		s.Spread, s.HasSpread = s.BestAsk.Sub(s.BestBid), true
	}
	return s
}
