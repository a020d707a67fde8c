// Package marketmath provides the pure price-series statistics used by the
// signal and risk layers: volatility, moving averages, momentum, and the
// tick/step rounding rules venues enforce. Everything here is stateless.
package marketmath

import (
	"errors"
	"math"

	"apex-core/pkg/exchanges/common"
)

var (
	ErrInsufficientData = errors.New("insufficient candles for calculation")
	ErrInvalidStep      = errors.New("tick/step must be positive")
)

// ATR computes the Average True Range over the trailing period. The input
// must hold at least period+1 candles, oldest-first.
func ATR(candles []common.Candle, period int) (float64, error) {
	if period <= 0 || len(candles) < period+1 {
		return 0, ErrInsufficientData
	}

	start := len(candles) - period
	var sum float64
	for i := start; i < len(candles); i++ {
		c := candles[i]
		prevClose := candles[i-1].Close
		tr := math.Max(c.High-c.Low,
			math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
		sum += tr
	}
	return sum / float64(period), nil
}

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period {
		return 0, ErrInsufficientData
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// StdDev returns the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}

// LogReturns converts a close series into log returns. Zero or negative
// prices yield a zero return for that step.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(closes[i]/closes[i-1]))
	}
	return out
}

// RSI computes the Wilder-style relative strength index over period using
// simple gain/loss averages across the trailing window.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 || len(closes) < period+1 {
		return 0, ErrInsufficientData
	}

	start := len(closes) - period
	var gains, losses float64
	for i := start; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	if losses == 0 {
		return 100, nil
	}
	rs := gains / losses
	return 100 - 100/(1+rs), nil
}

// RoundToTick rounds price to the nearest multiple of tickSize.
func RoundToTick(price, tickSize float64) (float64, error) {
	if tickSize <= 0 {
		return 0, ErrInvalidStep
	}
	return math.Round(price/tickSize) * tickSize, nil
}

// RoundToStep rounds qty down to a multiple of step. Rounding down is the
// conservative choice: sized quantities never over-allocate capital.
func RoundToStep(qty, step float64) (float64, error) {
	if step <= 0 {
		return 0, ErrInvalidStep
	}
	if qty <= 0 {
		return 0, nil
	}
	// Nudge by an epsilon so values that are already an exact multiple do not
	// lose a step to floating-point representation.
	return math.Floor(qty/step+1e-9) * step, nil
}

// PercentChange returns the percentage move from a to b.
func PercentChange(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return (b - a) / a * 100
}

// Clamp bounds v into [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Closes extracts the close series from a candle window.
func Closes(candles []common.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
