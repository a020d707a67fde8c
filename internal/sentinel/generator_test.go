package sentinel

import (
	"math"
	"testing"
	"time"

	"apex-core/pkg/exchanges/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeCandles(prices []float64, volume float64) []common.Candle {
	out := make([]common.Candle, len(prices))
	base := time.Unix(1700000000, 0)
	for i, p := range prices {
		out[i] = common.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     p,
			High:     p * 1.002,
			Low:      p * 0.998,
			Close:    p,
			Volume:   volume,
		}
	}
	return out
}

func trendingPrices(n int) []float64 {
	// Persistent drift with slowly growing returns; a pure constant drift
	// would collapse the return stddev to zero.
	out := make([]float64, n)
	p := 100.0
	for i := range out {
		p *= math.Exp(0.001 + 0.0001*float64(i))
		out[i] = p
	}
	return out
}

func choppyPrices(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 100
		} else {
			out[i] = 101
		}
	}
	return out
}

func testBook(mid float64) *common.OrderBook {
	return &common.OrderBook{
		Symbol: "BTCUSDT",
		Bids:   []common.BookLevel{{Price: mid * 0.9995, Qty: 1}},
		Asks:   []common.BookLevel{{Price: mid * 1.0005, Qty: 1}},
	}
}

func TestGenerateInsufficientData(t *testing.T) {
	g := New(Config{})
	sigs := g.Generate("BTCUSDT", makeCandles(trendingPrices(19), 100), testBook(100))
	assert.Nil(t, sigs)
}

func TestDetectRegimeTrending(t *testing.T) {
	r := DetectRegime(makeCandles(trendingPrices(100), 100), 100)
	assert.Equal(t, RegimeTrending, r.Regime)
	assert.True(t, r.TrendUp)
	assert.Greater(t, r.Hurst, 0.55)
	assert.InDelta(t, (r.Hurst-0.5)*2, r.TrendStrength, 1e-12)
}

func TestDetectRegimeChoppy(t *testing.T) {
	r := DetectRegime(makeCandles(choppyPrices(100), 100), 100)
	assert.Equal(t, RegimeRanging, r.Regime)
	assert.LessOrEqual(t, r.Hurst, 1.0)
	assert.GreaterOrEqual(t, r.Hurst, 0.0)
}

func TestClassifyVolatility(t *testing.T) {
	assert.Equal(t, VolatilityLow, ClassifyVolatility(0.5, 100))
	assert.Equal(t, VolatilityNormal, ClassifyVolatility(2, 100))
	assert.Equal(t, VolatilityHigh, ClassifyVolatility(4, 100))
}

func TestVolumeProfilePOC(t *testing.T) {
	// Heavy volume concentrated near 100, light elsewhere.
	candles := makeCandles([]float64{90, 95, 100, 100, 100, 100, 105, 110}, 10)
	for i := 2; i <= 5; i++ {
		candles[i].Volume = 1000
	}
	vp := BuildVolumeProfile(candles, 24)
	assert.InDelta(t, 100, vp.POC, 2.0)
	assert.LessOrEqual(t, vp.ValueAreaLow, vp.POC)
	assert.GreaterOrEqual(t, vp.ValueAreaHigh, vp.POC)
	assert.True(t, vp.InValueArea(vp.POC))
}

func TestVolumeProfileDegenerate(t *testing.T) {
	c := common.Candle{Open: 100, High: 100, Low: 100, Close: 100, Volume: 50}
	vp := BuildVolumeProfile([]common.Candle{c, c}, 24)
	assert.Equal(t, 100.0, vp.POC)
	assert.Equal(t, 100.0, vp.ValueAreaHigh)
	assert.Equal(t, 100.0, vp.ValueAreaLow)
	assert.Equal(t, 100.0, vp.TotalVolume)
}

func TestWinProbabilityBounds(t *testing.T) {
	g := New(Config{})
	for _, prices := range [][]float64{trendingPrices(120), choppyPrices(120)} {
		candles := makeCandles(prices, 100)
		for _, dir := range []common.Direction{common.DirectionLong, common.DirectionShort} {
			sig := g.Evaluate("BTCUSDT", candles, testBook(prices[len(prices)-1]), dir)
			require.NotNil(t, sig)
			assert.GreaterOrEqual(t, sig.WinProbability, 0.3)
			assert.LessOrEqual(t, sig.WinProbability, 0.8)
			assert.GreaterOrEqual(t, sig.Strength, 0.0)
			assert.LessOrEqual(t, sig.Strength, 1.0)
			require.NotNil(t, sig.RegimeMeta)
			assert.Nil(t, sig.OrderBlockMeta)
		}
	}
}

func TestTrendAlignmentRaisesProbability(t *testing.T) {
	g := New(Config{})
	prices := trendingPrices(105)
	// Flatten the tail so momentum is neutral and trend alignment is what
	// separates the two hypotheses.
	last := prices[len(prices)-1]
	for i := 0; i < 15; i++ {
		eps := 0.0001 * last
		if i%2 == 0 {
			prices = append(prices, last+eps)
		} else {
			prices = append(prices, last-eps)
		}
	}
	candles := makeCandles(prices, 100)
	book := testBook(prices[len(prices)-1])

	long := g.Evaluate("BTCUSDT", candles, book, common.DirectionLong)
	short := g.Evaluate("BTCUSDT", candles, book, common.DirectionShort)
	require.NotNil(t, long)
	require.NotNil(t, short)
	assert.Greater(t, long.WinProbability, short.WinProbability)
}

func TestFindOrderBlocks(t *testing.T) {
	base := time.Unix(1700000000, 0)
	mk := func(i int, open, high, low, close float64) common.Candle {
		return common.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     open, High: high, Low: low, Close: close, Volume: 10,
		}
	}
	// Candle 1 is a small down candle, candle 2 a large up reversal.
	candles := []common.Candle{
		mk(0, 100, 101, 99, 100),
		mk(1, 100, 100.5, 98, 99),   // down, body 1
		mk(2, 99, 103, 98.5, 102.5), // up, body 3.5
	}
	blocks := FindOrderBlocks(candles)
	require.Len(t, blocks, 1)
	assert.True(t, blocks[0].Bullish)
	assert.Equal(t, 100.5, blocks[0].High)
	assert.Equal(t, 98.0, blocks[0].Low)
	assert.False(t, blocks[0].Broken)
}

func TestOrderBlockBrokenByClose(t *testing.T) {
	base := time.Unix(1700000000, 0)
	mk := func(i int, open, close float64) common.Candle {
		hi, lo := open, close
		if close > open {
			hi, lo = close, open
		}
		return common.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     open, High: hi + 0.1, Low: lo - 0.1, Close: close, Volume: 10,
		}
	}
	candles := []common.Candle{
		mk(0, 100, 99), // down, body 1
		mk(1, 99, 102), // up reversal, body 3
		mk(2, 99, 95),  // closes below the block low: invalidates
	}
	blocks := FindOrderBlocks(candles)
	require.Len(t, blocks, 1)
	assert.True(t, blocks[0].Broken)
}

func TestWhaleFlowDetector(t *testing.T) {
	d := NewWhaleFlowDetector(50000)
	now := time.Now()

	// Below threshold: ignored.
	d.RecordTrade(100, 10, true, now)
	assert.Nil(t, d.Detect("BTCUSDT", testBook(100)))

	// One-sided whale buying.
	d.RecordTrade(50000, 2, true, now) // 100k buy
	d.RecordTrade(50000, 0.5, false, now)
	sig := d.Detect("BTCUSDT", testBook(100))
	require.NotNil(t, sig)
	assert.Equal(t, common.DirectionLong, sig.Direction)
	require.NotNil(t, sig.WhaleFlowMeta)
	assert.Greater(t, sig.WhaleFlowMeta.Imbalance, 0.2)
	assert.LessOrEqual(t, sig.WinProbability, 0.8)
}

func TestWhaleFlowBalancedFlowIsQuiet(t *testing.T) {
	d := NewWhaleFlowDetector(50000)
	now := time.Now()
	d.RecordTrade(60000, 1, true, now)
	d.RecordTrade(60000, 1, false, now)
	assert.Nil(t, d.Detect("BTCUSDT", testBook(60000)))
}

func TestWhaleFlowWindowExpiry(t *testing.T) {
	d := NewWhaleFlowDetector(50000)
	d.RecordTrade(60000, 2, true, time.Now().Add(-10*time.Minute))
	assert.Nil(t, d.Detect("BTCUSDT", testBook(60000)))
}
