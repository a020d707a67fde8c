// Package sentinel generates candidate trade signals from candle windows and
// order-book snapshots: regime detection over a Hurst-style proxy, volume
// profile, order-block retests, and whale-flow imbalance.
package sentinel

import (
	"math"
	"time"

	"apex-core/pkg/exchanges/common"
	"apex-core/pkg/marketmath"

	"github.com/google/uuid"
)

// minCandles is the insufficient-data guard: below this, no signal.
const minCandles = 20

// vpocFarPct is the relative distance beyond which price counts as "far"
// from the point of control for the reversion adjustment.
const vpocFarPct = 2.0

// Config tunes the generator.
type Config struct {
	Lookback       int     // regime lookback, default 100
	ProfileBuckets int     // volume profile buckets, default 24
	ATRPeriod      int     // default 14
	WhaleNotional  float64 // default 50000 quote units
}

// Generator produces signals for one or more symbols. Stateless except for
// the whale-flow trade window, which each detector owns per symbol.
type Generator struct {
	cfg    Config
	whales map[string]*WhaleFlowDetector
}

// New creates a generator with defaults filled in.
func New(cfg Config) *Generator {
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	if cfg.ProfileBuckets <= 0 {
		cfg.ProfileBuckets = defaultProfileBuckets
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.WhaleNotional <= 0 {
		cfg.WhaleNotional = 50000
	}
	return &Generator{cfg: cfg, whales: make(map[string]*WhaleFlowDetector)}
}

// Generate produces all candidate signals for a symbol this cycle: the
// regime-based evaluation of both direction hypotheses plus the specialized
// detectors. Returns nil when fewer than 20 candles are available.
func (g *Generator) Generate(symbol string, candles []common.Candle, book *common.OrderBook) []Signal {
	if len(candles) < minCandles {
		return nil
	}

	var out []Signal
	for _, dir := range []common.Direction{common.DirectionLong, common.DirectionShort} {
		if sig := g.Evaluate(symbol, candles, book, dir); sig != nil {
			out = append(out, *sig)
		}
	}
	if sig := DetectOrderBlockSignal(symbol, candles); sig != nil {
		out = append(out, *sig)
	}
	if sig := g.whaleFor(symbol).Detect(symbol, book); sig != nil {
		out = append(out, *sig)
	}
	return out
}

// Evaluate scores one direction hypothesis over the window, or nil when data
// is insufficient.
func (g *Generator) Evaluate(symbol string, candles []common.Candle, book *common.OrderBook, direction common.Direction) *Signal {
	if len(candles) < minCandles || !direction.Valid() {
		return nil
	}

	price := candles[len(candles)-1].Close
	if price <= 0 {
		return nil
	}

	atr, err := marketmath.ATR(candles, g.cfg.ATRPeriod)
	if err != nil {
		return nil
	}

	regime := DetectRegime(candles, g.cfg.Lookback)
	profile := BuildVolumeProfile(candles, g.cfg.ProfileBuckets)
	closes := marketmath.Closes(candles)
	rsi, rsiErr := marketmath.RSI(closes, 14)

	prob := 0.5

	// Trend alignment, scaled by strength.
	if regime.Regime == RegimeTrending {
		aligned := (regime.TrendUp && direction == common.DirectionLong) ||
			(!regime.TrendUp && direction == common.DirectionShort)
		if aligned {
			prob += 0.15 * regime.TrendStrength
		} else {
			prob -= 0.15 * regime.TrendStrength
		}
	}

	// Reversion toward the point of control when price has strayed far.
	if profile.POC > 0 {
		distPct := math.Abs(price-profile.POC) / profile.POC * 100
		reverting := (price > profile.POC && direction == common.DirectionShort) ||
			(price < profile.POC && direction == common.DirectionLong)
		if distPct > vpocFarPct && reverting {
			prob += 0.05
		}
	}

	if profile.InValueArea(price) {
		prob += 0.02
	}

	// Momentum alignment.
	if rsiErr == nil {
		switch {
		case rsi < 30:
			if direction == common.DirectionLong {
				prob += 0.08
			} else {
				prob -= 0.08
			}
		case rsi > 70:
			if direction == common.DirectionShort {
				prob += 0.08
			} else {
				prob -= 0.08
			}
		}
	}

	prob = marketmath.Clamp(prob, 0.3, 0.8)

	atrPct := atr / price * 100
	moveMult := 0.8
	if regime.Regime == RegimeTrending {
		moveMult = 1.2 + 0.3*regime.TrendStrength
	}
	expectedMove := atrPct * moveMult

	var spreadPct float64
	if book != nil {
		spreadPct = book.SpreadPct()
	}
	strength := signalStrength(prob, expectedMove, regime.TrendStrength, spreadPct)

	return &Signal{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		Strategy:        "sentinel",
		Kind:            KindRegime,
		Direction:       direction,
		WinProbability:  prob,
		ExpectedMovePct: expectedMove,
		Regime:          regime.Regime,
		CurrentPrice:    price,
		ATR:             atr,
		Strength:        strength,
		Timestamp:       time.Now(),
		RegimeMeta: &RegimeMeta{
			Hurst:         regime.Hurst,
			TrendStrength: regime.TrendStrength,
			Volatility:    ClassifyVolatility(atr, price),
			VPOC:          profile.POC,
			ValueAreaHigh: profile.ValueAreaHigh,
			ValueAreaLow:  profile.ValueAreaLow,
			RSI:           rsi,
		},
	}
}

// signalStrength blends probability edge, move magnitude, regime score, and
// spread tightness into an auxiliary [0,1] score. Never used for ranking.
func signalStrength(prob, movePct, regimeScore, spreadPct float64) float64 {
	probDev := math.Abs(prob-0.5) / 0.3 // max deviation after clamping
	move := math.Min(movePct, 3) / 3
	spreadInv := marketmath.Clamp(1-spreadPct/0.5, 0, 1)
	return marketmath.Clamp(0.4*probDev+0.25*move+0.2*regimeScore+0.15*spreadInv, 0, 1)
}

func (g *Generator) whaleFor(symbol string) *WhaleFlowDetector {
	d, ok := g.whales[symbol]
	if !ok {
		d = NewWhaleFlowDetector(g.cfg.WhaleNotional)
		g.whales[symbol] = d
	}
	return d
}

// RecordTrade feeds a public trade into the symbol's whale-flow window.
func (g *Generator) RecordTrade(symbol string, price, qty float64, isBuy bool, at time.Time) {
	g.whaleFor(symbol).RecordTrade(price, qty, isBuy, at)
}
