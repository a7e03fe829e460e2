// Package tickstore holds the columnar per-instrument tick store that
// feeds the engine's replay loop.
//
// Each instrument's ticks are stored in TickSeries as parallel slices —
// a cache-friendly, bulk-appendable shape generalized from "two sides
// of one book" to "one column per tick field". Storage stays in plain
// Go slices rather than an interchange format like Arrow/Parquet: this
// store never leaves the process, so there is no cross-language/
// zero-copy boundary for a columnar IPC format to pay for.
package tickstore

import (
	"sort"
	"sync"

	"github.com/0xtitan6/backtest-engine/pkg/types"
)

// TickSeries is one instrument's ticks stored column-wise.
type TickSeries struct {
	Timestamps []types.Timestamp
	BidPrice   []types.Price
	BidSize    []types.Volume
	AskPrice   []types.Price
	AskSize    []types.Volume
	LastPrice  []types.Price
	Volume     []types.Volume
	Open       []types.Price
	High       []types.Price
	Low        []types.Price
	Close      []types.Price
	Date       []string
}

func (s *TickSeries) append(t types.Tick) {
	s.Timestamps = append(s.Timestamps, t.Timestamp)
	s.BidPrice = append(s.BidPrice, t.BidPrice)
	s.BidSize = append(s.BidSize, t.BidSize)
	s.AskPrice = append(s.AskPrice, t.AskPrice)
	s.AskSize = append(s.AskSize, t.AskSize)
	s.LastPrice = append(s.LastPrice, t.LastPrice)
	s.Volume = append(s.Volume, t.TradedVolume)
	s.Open = append(s.Open, t.Open)
	s.High = append(s.High, t.High)
	s.Low = append(s.Low, t.Low)
	s.Close = append(s.Close, t.Close)
	s.Date = append(s.Date, t.Date)
}

// Len returns the number of ticks in the series.
func (s *TickSeries) Len() int { return len(s.Timestamps) }

// At reconstructs the tick at index i. The bool is false if i is out of
// range.
func (s *TickSeries) At(instrument types.InstrumentId, i int) (types.Tick, bool) {
	if i < 0 || i >= s.Len() {
		return types.Tick{}, false
	}
	return types.Tick{
		Timestamp:    s.Timestamps[i],
		Instrument:   instrument,
		BidPrice:     s.BidPrice[i],
		BidSize:      s.BidSize[i],
		AskPrice:     s.AskPrice[i],
		AskSize:      s.AskSize[i],
		LastPrice:    s.LastPrice[i],
		TradedVolume: s.Volume[i],
		Open:         s.Open[i],
		High:         s.High[i],
		Low:          s.Low[i],
		Close:        s.Close[i],
		Date:         s.Date[i],
	}, true
}

// Range returns every tick t with start <= t.Timestamp <= end, in
// order. Implemented with binary search since sortByTime keeps the
// series monotonic.
func (s *TickSeries) Range(instrument types.InstrumentId, start, end types.Timestamp) []types.Tick {
	lo := sort.Search(s.Len(), func(i int) bool { return s.Timestamps[i] >= start })
	hi := sort.Search(s.Len(), func(i int) bool { return s.Timestamps[i] > end })

	out := make([]types.Tick, 0, hi-lo)
	for i := lo; i < hi; i++ {
		tick, _ := s.At(instrument, i)
		out = append(out, tick)
	}
	return out
}

func (s *TickSeries) sortByTime() {
	n := s.Len()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return s.Timestamps[idx[i]] < s.Timestamps[idx[j]] })

	sorted := &TickSeries{
		Timestamps: make([]types.Timestamp, n),
		BidPrice:   make([]types.Price, n),
		BidSize:    make([]types.Volume, n),
		AskPrice:   make([]types.Price, n),
		AskSize:    make([]types.Volume, n),
		LastPrice:  make([]types.Price, n),
		Volume:     make([]types.Volume, n),
		Open:       make([]types.Price, n),
		High:       make([]types.Price, n),
		Low:        make([]types.Price, n),
		Close:      make([]types.Price, n),
		Date:       make([]string, n),
	}
	for dst, src := range idx {
		sorted.Timestamps[dst] = s.Timestamps[src]
		sorted.BidPrice[dst] = s.BidPrice[src]
		sorted.BidSize[dst] = s.BidSize[src]
		sorted.AskPrice[dst] = s.AskPrice[src]
		sorted.AskSize[dst] = s.AskSize[src]
		sorted.LastPrice[dst] = s.LastPrice[src]
		sorted.Volume[dst] = s.Volume[src]
		sorted.Open[dst] = s.Open[src]
		sorted.High[dst] = s.High[src]
		sorted.Low[dst] = s.Low[src]
		sorted.Close[dst] = s.Close[src]
		sorted.Date[dst] = s.Date[src]
	}
	*s = *sorted
}

// Store is a mapping instrument -> TickSeries. Safe for concurrent
// Append/AppendBatch; SortByTime and the read queries are meant to run
// after ingestion completes (the engine always sorts before Run).
type Store struct {
	mu     sync.RWMutex
	series map[types.InstrumentId]*TickSeries
}

// New creates an empty tick store.
func New() *Store {
	return &Store{series: make(map[types.InstrumentId]*TickSeries)}
}

// Append adds one tick for instrument.
func (s *Store) Append(instrument types.InstrumentId, tick types.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seriesFor(instrument).append(tick)
}

// AppendBatch adds many ticks for instrument in one call.
func (s *Store) AppendBatch(instrument types.InstrumentId, ticks []types.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series := s.seriesFor(instrument)
	for _, t := range ticks {
		series.append(t)
	}
}

func (s *Store) seriesFor(instrument types.InstrumentId) *TickSeries {
	series, ok := s.series[instrument]
	if !ok {
		series = &TickSeries{}
		s.series[instrument] = series
	}
	return series
}

// Range returns the ticks for instrument within [start, end]. Returns
// nil if the instrument is unknown.
func (s *Store) Range(instrument types.InstrumentId, start, end types.Timestamp) []types.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series, ok := s.series[instrument]
	if !ok {
		return nil
	}
	return series.Range(instrument, start, end)
}

// At returns the tick at index i for instrument.
func (s *Store) At(instrument types.InstrumentId, i int) (types.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series, ok := s.series[instrument]
	if !ok {
		return types.Tick{}, false
	}
	return series.At(instrument, i)
}

// SortByTime stable-sorts every series by timestamp. Idempotent.
func (s *Store) SortByTime() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, series := range s.series {
		series.sortByTime()
	}
}

// AllTicks returns every instrument's full tick sequence, used by the
// engine to build its time-ordered replay iterator.
func (s *Store) AllTicks() map[types.InstrumentId][]types.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[types.InstrumentId][]types.Tick, len(s.series))
	for instrument, series := range s.series {
		ticks := make([]types.Tick, series.Len())
		for i := range ticks {
			ticks[i], _ = series.At(instrument, i)
		}
		out[instrument] = ticks
	}
	return out
}

// Instruments returns the set of instruments with at least one tick.
func (s *Store) Instruments() []types.InstrumentId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.InstrumentId, 0, len(s.series))
	for instrument := range s.series {
		out = append(out, instrument)
	}
	return out
}
