package costmodel

import (
	"testing"

	"github.com/0xtitan6/backtest-engine/pkg/types"
)

// Linear slippage scales with quoted size relative to average volume.
func TestLinearSlippage(t *testing.T) {
	t.Parallel()
	m := LinearSlippage{Base: 0.0001, Impact: 0.01}
	got := m.Slippage("X", types.Buy, 1000, types.NewPrice(200), 100000)

	want := types.NewPrice(-0.04)
	if !got.Equal(want) {
		t.Fatalf("Slippage = %v, want %v", got, want)
	}
}

func TestLinearSlippageZeroADV(t *testing.T) {
	t.Parallel()
	m := LinearSlippage{Base: 0.0001, Impact: 0.01}
	got := m.Slippage("X", types.Buy, 1000, types.NewPrice(200), 0)

	want := types.NewPrice(-0.02)
	if !got.Equal(want) {
		t.Fatalf("Slippage with adv=0 = %v, want %v (base-only)", got, want)
	}
}

// Commission clamps to the configured min/max bounds.
func TestCommissionClamp(t *testing.T) {
	t.Parallel()
	table := CommissionTable{
		TakerRate:     0.001,
		FixedFee:      types.NewPrice(1),
		MinCommission: types.NewPrice(2),
		MaxCommission: types.NewPrice(5),
	}

	got := table.Commission(10, types.NewPrice(100), false)
	if !got.Equal(types.NewPrice(2)) {
		t.Fatalf("Commission(qty=10) = %v, want 2 (raw=2, at floor)", got)
	}

	got = table.Commission(1000, types.NewPrice(100), false)
	if !got.Equal(types.NewPrice(5)) {
		t.Fatalf("Commission(qty=1000) = %v, want 5 (raw=101, clamped to ceiling)", got)
	}
}

func TestCostOfUsesMakerRateWhenNotAggressive(t *testing.T) {
	t.Parallel()
	table := CommissionTable{
		MakerRate:     0,
		TakerRate:     0.001,
		MinCommission: types.ZeroPrice,
		MaxCommission: types.NewPrice(1000),
	}
	model := New(table, LinearSlippage{Base: 0, Impact: 0})

	cost := model.CostOf("X", "exch", types.Buy, 100, types.NewPrice(10), false)
	if !cost.Commission.IsZero() {
		t.Fatalf("maker commission = %v, want 0", cost.Commission)
	}

	cost = model.CostOf("X", "exch", types.Buy, 100, types.NewPrice(10), true)
	if cost.Commission.IsZero() {
		t.Fatalf("taker commission should be nonzero")
	}
}

func TestResolveTableInstrumentBeatsExchangeBeatsDefault(t *testing.T) {
	t.Parallel()
	def := CommissionTable{TakerRate: 0.01, MinCommission: types.ZeroPrice, MaxCommission: types.NewPrice(1000)}
	model := New(def, nil)

	byExchange := CommissionTable{TakerRate: 0.02, MinCommission: types.ZeroPrice, MaxCommission: types.NewPrice(1000)}
	byInstrument := CommissionTable{TakerRate: 0.03, MinCommission: types.ZeroPrice, MaxCommission: types.NewPrice(1000)}
	model.SetExchangeTable("EXCH", byExchange)
	model.SetInstrumentTable("BTC-USD", byInstrument)

	got := model.resolveTable("BTC-USD", "EXCH")
	if got.TakerRate != 0.03 {
		t.Fatalf("resolveTable favored %v, want instrument-level 0.03", got.TakerRate)
	}

	got = model.resolveTable("ETH-USD", "EXCH")
	if got.TakerRate != 0.02 {
		t.Fatalf("resolveTable favored %v, want exchange-level 0.02", got.TakerRate)
	}

	got = model.resolveTable("ETH-USD", "OTHER")
	if got.TakerRate != 0.01 {
		t.Fatalf("resolveTable favored %v, want default 0.01", got.TakerRate)
	}
}
