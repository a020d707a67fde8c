package risk

import (
	"testing"

	"apex-core/pkg/exchanges/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeLevelsLong(t *testing.T) {
	p := New(Config{TPMultiplier: 2.0, SLMultiplier: 1.5, TakerFeeRate: 0.0005, MaxCapital: 100})
	lv, err := p.ComputeLevels(50000, 100, common.DirectionLong)
	require.NoError(t, err)
	assert.InDelta(t, 50200, lv.TakeProfit, 1e-9)
	assert.InDelta(t, 49850, lv.StopLoss, 1e-9)
	assert.InDelta(t, 2.0/1.5, lv.RiskReward, 1e-9)
	assert.InDelta(t, 50000*1.001, lv.BreakEven, 1e-6)
}

func TestComputeLevelsShortMirrors(t *testing.T) {
	p := New(Config{TPMultiplier: 2.0, SLMultiplier: 1.5, MaxCapital: 100})
	lv, err := p.ComputeLevels(50000, 100, common.DirectionShort)
	require.NoError(t, err)
	assert.InDelta(t, 49800, lv.TakeProfit, 1e-9)
	assert.InDelta(t, 50150, lv.StopLoss, 1e-9)
}

func TestComputeLevelsSideCorrectness(t *testing.T) {
	p := New(Config{MaxCapital: 100})
	for _, atr := range []float64{0.5, 10, 250} {
		long, err := p.ComputeLevels(1000, atr, common.DirectionLong)
		require.NoError(t, err)
		assert.Greater(t, long.TakeProfit, long.Entry)
		assert.Less(t, long.StopLoss, long.Entry)

		short, err := p.ComputeLevels(1000, atr, common.DirectionShort)
		require.NoError(t, err)
		assert.Less(t, short.TakeProfit, short.Entry)
		assert.Greater(t, short.StopLoss, short.Entry)
	}
}

func TestComputeLevelsRequiresInputs(t *testing.T) {
	p := New(Config{MaxCapital: 100})
	_, err := p.ComputeLevels(0, 100, common.DirectionLong)
	assert.ErrorIs(t, err, ErrMissingEntry)
	_, err = p.ComputeLevels(50000, 0, common.DirectionLong)
	assert.ErrorIs(t, err, ErrMissingATR)
	_, err = p.ComputeLevels(50000, 100, "SIDEWAYS")
	assert.Error(t, err)
}

func TestComputeSizingCapitalCeiling(t *testing.T) {
	p := New(Config{MaxCapital: 100, MaxLeverage: 10})
	// Tight stop would size far beyond the ceiling without the cap.
	sz, err := p.ComputeSizing(50000, 49990, 0.001)
	require.NoError(t, err)
	assert.LessOrEqual(t, sz.PositionSize, 100.0)
	assert.LessOrEqual(t, sz.Quantity*50000, 100.0)
}

func TestComputeSizingRiskFraction(t *testing.T) {
	p := New(Config{MaxCapital: 1000, MaxLeverage: 10})
	// Stop distance 50: risk = 1000*0.02 = 20 -> qty = 0.4, value 400.
	sz, err := p.ComputeSizing(100, 50, 0.001)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, sz.Quantity, 1e-9)
	assert.InDelta(t, 40, sz.PositionSize, 1e-6)
	assert.Equal(t, 1, sz.Leverage)
}

func TestComputeSizingConfiguredRiskFraction(t *testing.T) {
	p := New(Config{MaxCapital: 1000, MaxLeverage: 10, RiskPerTrade: 0.05})
	// Stop distance 50: risk = 1000*0.05 = 50 -> qty = 1.0.
	sz, err := p.ComputeSizing(100, 50, 0.001)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sz.Quantity, 1e-9)

	// Out-of-range fractions fall back to the 2% default.
	p = New(Config{MaxCapital: 1000, MaxLeverage: 10, RiskPerTrade: 1.5})
	sz, err = p.ComputeSizing(100, 50, 0.001)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, sz.Quantity, 1e-9)
}

func TestComputeSizingRoundsDown(t *testing.T) {
	p := New(Config{MaxCapital: 100, MaxLeverage: 10})
	sz, err := p.ComputeSizing(813, 800, 0.01)
	require.NoError(t, err)
	// raw = 2/13 = 0.1538..., capped at 100/813 = 0.12300..., step 0.01 -> 0.12.
	assert.InDelta(t, 0.12, sz.Quantity, 1e-9)
}

func TestLeverageCeil(t *testing.T) {
	assert.Equal(t, 2, Leverage(20, 15, 10))
	assert.Equal(t, 1, Leverage(10, 15, 10))
	assert.Equal(t, 10, Leverage(2000, 15, 10)) // capped
	assert.Equal(t, 1, Leverage(0, 15, 10))
}

func TestValidateLeverageGate(t *testing.T) {
	p := New(Config{MaxCapital: 10, MaxLeverage: 2, MinRiskReward: 1.2})
	lv := Levels{Entry: 100, StopLoss: 99, TakeProfit: 102, RiskReward: 2}
	bad := Sizing{Capital: 10, PositionSize: 100, Quantity: 1, Leverage: 2}
	v := p.Validate(lv, bad)
	assert.False(t, v.Valid)
	assert.Contains(t, v.Reason, "leverage")
}

func TestValidateWarningsDoNotBlock(t *testing.T) {
	p := New(Config{MaxCapital: 100, MaxLeverage: 10, MinRiskReward: 2.0})
	lv := Levels{Entry: 100, StopLoss: 90, TakeProfit: 110, RiskReward: 1.0}
	sz := Sizing{Capital: 100, PositionSize: 100, Quantity: 1, Leverage: 10}
	v := p.Validate(lv, sz)
	assert.True(t, v.Valid)
	assert.NotEmpty(t, v.Warnings)
}

func TestPartialLadder(t *testing.T) {
	levels := PartialLadder(100, 120, nil)
	require.Len(t, levels, 3)
	assert.InDelta(t, 110, levels[0], 1e-9)
	assert.InDelta(t, 115, levels[1], 1e-9)
	assert.InDelta(t, 120, levels[2], 1e-9)

	short := PartialLadder(100, 80, []float64{0.5, 1.0})
	assert.InDelta(t, 90, short[0], 1e-9)
	assert.InDelta(t, 80, short[1], 1e-9)
}

func TestTrailingStopPlan(t *testing.T) {
	plan := TrailingStop(100, common.DirectionLong, 0.02, 0.01)
	assert.InDelta(t, 102, plan.Activation, 1e-9)
	assert.InDelta(t, 1.02, plan.Distance, 1e-9)

	planShort := TrailingStop(100, common.DirectionShort, 0.02, 0.01)
	assert.InDelta(t, 98, planShort.Activation, 1e-9)
}

func TestGuardStopAndTakeProfit(t *testing.T) {
	g := NewGuard()
	g.Watch("BTCUSDT", common.DirectionLong, 100, 95, 110)

	assert.Nil(t, g.UpdatePrice("BTCUSDT", 100))
	assert.Nil(t, g.UpdatePrice("BTCUSDT", 105))

	d := g.UpdatePrice("BTCUSDT", 94.5)
	require.NotNil(t, d)
	assert.True(t, d.Triggered)
	assert.Contains(t, d.Reason, "stop loss")

	g.Watch("ETHUSDT", common.DirectionShort, 100, 105, 90)
	d = g.UpdatePrice("ETHUSDT", 89)
	require.NotNil(t, d)
	assert.Contains(t, d.Reason, "take profit")
}

func TestGuardTrailingRatchetsUp(t *testing.T) {
	g := NewGuard()
	g.Watch("BTCUSDT", common.DirectionLong, 100, 95, 0)
	g.EnableTrailing("BTCUSDT", 0.02)

	assert.Nil(t, g.UpdatePrice("BTCUSDT", 110))
	sl, ok := g.StopLevel("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 110*0.98, sl, 1e-9)

	// Price falling does not loosen the stop.
	d := g.UpdatePrice("BTCUSDT", 109)
	assert.Nil(t, d)
	sl2, _ := g.StopLevel("BTCUSDT")
	assert.Equal(t, sl, sl2)

	d = g.UpdatePrice("BTCUSDT", 107)
	require.NotNil(t, d)
	assert.True(t, d.Triggered)
}

func TestGuardUnknownSymbol(t *testing.T) {
	g := NewGuard()
	assert.Nil(t, g.UpdatePrice("NOPE", 100))
}
