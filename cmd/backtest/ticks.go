package main

import (
	"math/rand"
	"strconv"

	"github.com/0xtitan6/backtest-engine/pkg/types"
)

// syntheticTicks builds a deterministic random-walk tick series. Real
// ingestion comes from a CSV reader outside this package's scope —
// this stands in for it so the demo has something to replay.
func syntheticTicks(instrument types.InstrumentId, n int, start types.Timestamp, step types.Duration, seed int64) []types.Tick {
	rng := rand.New(rand.NewSource(seed))
	ticks := make([]types.Tick, 0, n)

	price := 100.0
	ts := start
	const nanosPerDay = int64(24 * 60 * 60 * 1_000_000_000)

	for i := 0; i < n; i++ {
		price += rng.NormFloat64() * 0.15
		if price < 1 {
			price = 1
		}
		spread := 0.02 + rng.Float64()*0.03
		bid := price - spread/2
		ask := price + spread/2

		ticks = append(ticks, types.Tick{
			Timestamp:    ts,
			Instrument:   instrument,
			BidPrice:     types.NewPrice(bid),
			BidSize:      types.Volume(50 + rng.Intn(200)),
			AskPrice:     types.NewPrice(ask),
			AskSize:      types.Volume(50 + rng.Intn(200)),
			LastPrice:    types.NewPrice(price),
			TradedVolume: types.Volume(rng.Intn(500)),
			Open:         types.NewPrice(price),
			High:         types.NewPrice(price + rng.Float64()*0.1),
			Low:          types.NewPrice(price - rng.Float64()*0.1),
			Close:        types.NewPrice(price),
			Date:         dayString(ts, start, nanosPerDay),
		})
		ts = ts.Add(step)
	}
	return ticks
}

func dayString(ts, start types.Timestamp, nanosPerDay int64) string {
	dayIndex := int64(ts-start) / nanosPerDay
	return "day-" + strconv.FormatInt(dayIndex, 10)
}
