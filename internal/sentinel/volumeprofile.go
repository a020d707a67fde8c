package sentinel

import (
	"apex-core/pkg/exchanges/common"
)

const (
	defaultProfileBuckets = 24
	valueAreaFraction     = 0.70
)

// VolumeProfile is the volume-at-price histogram over a candle window.
type VolumeProfile struct {
	POC           float64 // point of control: price of the richest bucket
	ValueAreaHigh float64
	ValueAreaLow  float64
	TotalVolume   float64
}

// BuildVolumeProfile partitions the window's high/low range into buckets,
// spreads each candle's volume evenly across the buckets its range spans,
// then expands outward from the point of control toward the richer neighbor
// until the value area holds at least 70% of total volume.
func BuildVolumeProfile(candles []common.Candle, buckets int) VolumeProfile {
	if buckets <= 0 {
		buckets = defaultProfileBuckets
	}
	if len(candles) == 0 {
		return VolumeProfile{}
	}

	lo, hi := candles[0].Low, candles[0].High
	for _, c := range candles[1:] {
		if c.Low < lo {
			lo = c.Low
		}
		if c.High > hi {
			hi = c.High
		}
	}
	if hi <= lo {
		// Degenerate window: all volume at one price.
		var total float64
		for _, c := range candles {
			total += c.Volume
		}
		return VolumeProfile{POC: lo, ValueAreaHigh: lo, ValueAreaLow: lo, TotalVolume: total}
	}

	width := (hi - lo) / float64(buckets)
	vols := make([]float64, buckets)
	var total float64

	bucketOf := func(price float64) int {
		idx := int((price - lo) / width)
		if idx < 0 {
			idx = 0
		}
		if idx >= buckets {
			idx = buckets - 1
		}
		return idx
	}

	for _, c := range candles {
		total += c.Volume
		first, last := bucketOf(c.Low), bucketOf(c.High)
		if first > last {
			first, last = last, first
		}
		span := last - first + 1
		share := c.Volume / float64(span)
		for i := first; i <= last; i++ {
			vols[i] += share
		}
	}

	poc := 0
	for i, v := range vols {
		if v > vols[poc] {
			poc = i
		}
	}

	// Expand from the POC, always taking the richer neighbor.
	low, high := poc, poc
	enclosed := vols[poc]
	target := total * valueAreaFraction
	for enclosed < target && (low > 0 || high < buckets-1) {
		var below, above float64 = -1, -1
		if low > 0 {
			below = vols[low-1]
		}
		if high < buckets-1 {
			above = vols[high+1]
		}
		if above >= below {
			high++
			enclosed += vols[high]
		} else {
			low--
			enclosed += vols[low]
		}
	}

	bucketMid := func(i int) float64 { return lo + (float64(i)+0.5)*width }
	return VolumeProfile{
		POC:           bucketMid(poc),
		ValueAreaHigh: lo + float64(high+1)*width,
		ValueAreaLow:  lo + float64(low)*width,
		TotalVolume:   total,
	}
}

// InValueArea reports whether price falls inside the value area.
func (vp VolumeProfile) InValueArea(price float64) bool {
	return price >= vp.ValueAreaLow && price <= vp.ValueAreaHigh
}
