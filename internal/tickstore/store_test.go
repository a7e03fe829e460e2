package tickstore

import (
	"testing"

	"github.com/0xtitan6/backtest-engine/pkg/types"
)

func tick(ts types.Timestamp, price float64) types.Tick {
	p := types.NewPrice(price)
	return types.Tick{
		Timestamp: ts,
		LastPrice: p,
		BidPrice:  p,
		AskPrice:  p,
		Open:      p,
		High:      p,
		Low:       p,
		Close:     p,
	}
}

func TestAppendAndAt(t *testing.T) {
	t.Parallel()
	s := New()
	const inst = types.InstrumentId("BTC-USD")

	s.Append(inst, tick(1, 100))
	s.Append(inst, tick(2, 101))

	got, ok := s.At(inst, 1)
	if !ok {
		t.Fatal("expected index 1 to exist")
	}
	if got.Timestamp != 2 || !got.LastPrice.Equal(types.NewPrice(101)) {
		t.Fatalf("At(1) = %+v, want timestamp 2 price 101", got)
	}

	if _, ok := s.At(inst, 99); ok {
		t.Fatal("expected out-of-range At to report !ok")
	}
}

func TestAppendBatch(t *testing.T) {
	t.Parallel()
	s := New()
	const inst = types.InstrumentId("ETH-USD")

	s.AppendBatch(inst, []types.Tick{tick(1, 10), tick(2, 11), tick(3, 12)})

	all := s.AllTicks()
	if len(all[inst]) != 3 {
		t.Fatalf("AllTicks() len = %d, want 3", len(all[inst]))
	}
}

func TestSortByTimeOrdersOutOfOrderAppends(t *testing.T) {
	t.Parallel()
	s := New()
	const inst = types.InstrumentId("BTC-USD")

	s.Append(inst, tick(5, 100))
	s.Append(inst, tick(1, 90))
	s.Append(inst, tick(3, 95))

	s.SortByTime()

	all := s.AllTicks()[inst]
	want := []types.Timestamp{1, 3, 5}
	for i, ts := range want {
		if all[i].Timestamp != ts {
			t.Fatalf("after sort, ticks[%d].Timestamp = %d, want %d", i, all[i].Timestamp, ts)
		}
	}
}

func TestSortByTimeStableForEqualTimestamps(t *testing.T) {
	t.Parallel()
	s := New()
	const inst = types.InstrumentId("BTC-USD")

	s.Append(inst, tick(1, 1))
	s.Append(inst, tick(1, 2))
	s.Append(inst, tick(1, 3))
	s.SortByTime()

	all := s.AllTicks()[inst]
	for i, want := range []float64{1, 2, 3} {
		if !all[i].LastPrice.Equal(types.NewPrice(want)) {
			t.Fatalf("stable sort broke insertion order at %d: got %v, want %v", i, all[i].LastPrice, want)
		}
	}
}

func TestRangeIsInclusiveBothEnds(t *testing.T) {
	t.Parallel()
	s := New()
	const inst = types.InstrumentId("BTC-USD")

	for ts := types.Timestamp(1); ts <= 10; ts++ {
		s.Append(inst, tick(ts, float64(ts)))
	}
	s.SortByTime()

	got := s.Range(inst, 3, 7)
	if len(got) != 5 {
		t.Fatalf("Range(3,7) len = %d, want 5", len(got))
	}
	if got[0].Timestamp != 3 || got[len(got)-1].Timestamp != 7 {
		t.Fatalf("Range(3,7) bounds = [%d, %d], want [3, 7]", got[0].Timestamp, got[len(got)-1].Timestamp)
	}
}

func TestRangeUnknownInstrumentReturnsNil(t *testing.T) {
	t.Parallel()
	s := New()
	if got := s.Range("nonexistent", 0, 100); got != nil {
		t.Fatalf("Range on unknown instrument = %v, want nil", got)
	}
}

func TestInstruments(t *testing.T) {
	t.Parallel()
	s := New()
	s.Append("BTC-USD", tick(1, 1))
	s.Append("ETH-USD", tick(1, 1))

	instruments := s.Instruments()
	if len(instruments) != 2 {
		t.Fatalf("Instruments() len = %d, want 2", len(instruments))
	}
}
