package sentinel

import (
	"math"

	"apex-core/pkg/exchanges/common"
	"apex-core/pkg/marketmath"
)

// Thresholds tuned against the Hurst proxy below; they are a matched pair
// and must move together.
const (
	hurstTrendingAbove = 0.55
	hurstRangingBelow  = 0.45
	defaultLookback    = 100
)

// RegimeResult is the outcome of regime detection over a candle window.
type RegimeResult struct {
	Regime        Regime
	Hurst         float64
	TrendStrength float64 // [0,1]
	TrendUp       bool    // direction of the window's net move
}

// DetectRegime estimates a Hurst-like exponent via rescaled-range analysis:
// the range of cumulative mean-centered deviations divided by the return
// stddev, log-scaled by sample count. This is a heuristic proxy, not a
// rigorous Hurst estimator (no aggregation over sub-window sizes); the
// 0.45/0.55 thresholds were tuned against this exact formula.
func DetectRegime(candles []common.Candle, lookback int) RegimeResult {
	if lookback <= 0 {
		lookback = defaultLookback
	}
	if len(candles) > lookback {
		candles = candles[len(candles)-lookback:]
	}

	closes := marketmath.Closes(candles)
	returns := marketmath.LogReturns(closes)
	out := RegimeResult{Regime: RegimeRanging, Hurst: 0.5}
	if len(closes) >= 2 {
		out.TrendUp = closes[len(closes)-1] > closes[0]
	}
	if len(returns) < 2 {
		return out
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var cum, maxCum, minCum float64
	for _, r := range returns {
		cum += r - mean
		if cum > maxCum {
			maxCum = cum
		}
		if cum < minCum {
			minCum = cum
		}
	}
	rng := maxCum - minCum
	stddev := marketmath.StdDev(returns)
	if stddev <= 0 || rng <= 0 {
		return out
	}

	h := math.Log(rng/stddev) / math.Log(float64(len(returns)))
	h = marketmath.Clamp(h, 0, 1)
	out.Hurst = h

	switch {
	case h > hurstTrendingAbove:
		out.Regime = RegimeTrending
		out.TrendStrength = (h - 0.5) * 2
	case h < hurstRangingBelow:
		out.Regime = RegimeRanging
		out.TrendStrength = (0.5 - h) * 2
	default:
		out.Regime = RegimeRanging
		out.TrendStrength = 0
	}
	return out
}

// ClassifyVolatility buckets ATR as a percentage of price.
func ClassifyVolatility(atr, price float64) VolatilityState {
	if price <= 0 {
		return VolatilityNormal
	}
	pct := atr / price * 100
	switch {
	case pct < 1:
		return VolatilityLow
	case pct > 3:
		return VolatilityHigh
	default:
		return VolatilityNormal
	}
}
