// Package risk computes protective price levels, break-even points, and
// position sizing under a hard per-trade capital ceiling.
package risk

import (
	"errors"
	"fmt"
	"math"

	"apex-core/pkg/exchanges/common"
	"apex-core/pkg/marketmath"
)

var (
	ErrMissingEntry = errors.New("entry price is required and must be positive")
	ErrMissingATR   = errors.New("atr is required and must be positive")
)

// Config tunes the sizer.
type Config struct {
	TPMultiplier  float64 // ATR multiple for take profit, default 2.0
	SLMultiplier  float64 // ATR multiple for stop loss, default 1.5
	TakerFeeRate  float64 // decimal per side
	MaxCapital    float64 // per-trade capital ceiling, quote units
	MaxLeverage   int
	MinRiskReward float64
	RiskPerTrade  float64 // fraction of per-trade capital at risk between entry and stop, default 0.02
}

// Levels are the protective prices for one trade decision.
type Levels struct {
	Entry         float64 `json:"entry"`
	TakeProfit    float64 `json:"take_profit"`
	StopLoss      float64 `json:"stop_loss"`
	BreakEven     float64 `json:"break_even"`
	RiskReward    float64 `json:"risk_reward"`
	ATRMultiplier float64 `json:"atr_multiplier"`
}

// Sizing is the capital allocation for one trade decision.
type Sizing struct {
	Capital      float64 `json:"capital"`       // quote units committed
	PositionSize float64 `json:"position_size"` // quote-currency value
	Quantity     float64 `json:"quantity"`      // base units, venue-rounded
	Leverage     int     `json:"leverage"`
}

// Physics computes levels and sizing.
type Physics struct {
	cfg Config
}

// New creates a sizer with defaults filled in.
func New(cfg Config) *Physics {
	if cfg.TPMultiplier <= 0 {
		cfg.TPMultiplier = 2.0
	}
	if cfg.SLMultiplier <= 0 {
		cfg.SLMultiplier = 1.5
	}
	if cfg.MaxLeverage < 1 {
		cfg.MaxLeverage = 10
	}
	if cfg.RiskPerTrade <= 0 || cfg.RiskPerTrade >= 1 {
		cfg.RiskPerTrade = 0.02
	}
	return &Physics{cfg: cfg}
}

// ComputeLevels derives TP/SL/break-even from entry, ATR, and direction.
// Entry and ATR are required inputs, never defaulted.
func (p *Physics) ComputeLevels(entry, atr float64, direction common.Direction) (Levels, error) {
	if entry <= 0 {
		return Levels{}, ErrMissingEntry
	}
	if atr <= 0 {
		return Levels{}, ErrMissingATR
	}
	if !direction.Valid() {
		return Levels{}, fmt.Errorf("invalid direction %q", direction)
	}

	tpDist := atr * p.cfg.TPMultiplier
	slDist := atr * p.cfg.SLMultiplier

	lv := Levels{
		Entry:         entry,
		RiskReward:    p.cfg.TPMultiplier / p.cfg.SLMultiplier,
		ATRMultiplier: p.cfg.TPMultiplier,
	}
	if direction == common.DirectionLong {
		lv.TakeProfit = entry + tpDist
		lv.StopLoss = entry - slDist
	} else {
		lv.TakeProfit = entry - tpDist
		lv.StopLoss = entry + slDist
	}
	lv.BreakEven = BreakEven(entry, p.cfg.TakerFeeRate, direction)
	return lv, nil
}

// BreakEven is the minimum favorable move that covers round-trip fees.
func BreakEven(entry, takerFeeRate float64, direction common.Direction) float64 {
	if direction == common.DirectionShort {
		return entry * (1 - 2*takerFeeRate)
	}
	return entry * (1 + 2*takerFeeRate)
}

// ComputeSizing sizes the position off the entry-to-stop distance with a
// fixed 2% risk fraction, capped by the capital ceiling, and rounds the
// quantity down to the venue step.
func (p *Physics) ComputeSizing(entry, stopLoss, qtyStep float64) (Sizing, error) {
	if entry <= 0 {
		return Sizing{}, ErrMissingEntry
	}
	stopDist := math.Abs(entry - stopLoss)
	if stopDist <= 0 {
		return Sizing{}, errors.New("stop distance must be positive")
	}

	riskAmount := p.cfg.MaxCapital * p.cfg.RiskPerTrade
	rawQty := riskAmount / stopDist
	maxQty := p.cfg.MaxCapital / entry
	if rawQty > maxQty {
		rawQty = maxQty
	}

	qty := rawQty
	if qtyStep > 0 {
		var err error
		qty, err = marketmath.RoundToStep(rawQty, qtyStep)
		if err != nil {
			return Sizing{}, err
		}
	}

	positionValue := qty * entry
	return Sizing{
		Capital:      p.cfg.MaxCapital,
		PositionSize: positionValue,
		Quantity:     qty,
		Leverage:     Leverage(positionValue, p.cfg.MaxCapital, p.cfg.MaxLeverage),
	}, nil
}

// Leverage is the smallest whole multiplier that fits the position value
// into the capital ceiling, capped at maxLeverage and floored at 1.
func Leverage(positionValue, maxCapital float64, maxLeverage int) int {
	if maxCapital <= 0 || positionValue <= 0 {
		return 1
	}
	lev := int(math.Ceil(positionValue / maxCapital))
	if lev < 1 {
		lev = 1
	}
	if lev > maxLeverage {
		lev = maxLeverage
	}
	return lev
}

// Validation is the outcome of pre-trade checks. Warnings do not block.
type Validation struct {
	Valid    bool     `json:"valid"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validate applies the hard leverage gate and soft risk-quality checks.
func (p *Physics) Validate(lv Levels, sz Sizing) Validation {
	requiredLev := int(math.Ceil(sz.PositionSize / p.cfg.MaxCapital))
	if requiredLev > p.cfg.MaxLeverage {
		return Validation{
			Valid:  false,
			Reason: fmt.Sprintf("required leverage %dx exceeds maximum %dx", requiredLev, p.cfg.MaxLeverage),
		}
	}

	v := Validation{Valid: true}
	if p.cfg.MinRiskReward > 0 && lv.RiskReward < p.cfg.MinRiskReward {
		v.Warnings = append(v.Warnings,
			fmt.Sprintf("risk-reward %.2f below minimum %.2f", lv.RiskReward, p.cfg.MinRiskReward))
	}

	// Potential loss at the stop, amplified by leverage, relative to capital.
	if lv.Entry > 0 && sz.Capital > 0 {
		stopDist := math.Abs(lv.Entry - lv.StopLoss)
		potentialLoss := stopDist * sz.Quantity * float64(sz.Leverage)
		if potentialLoss/sz.Capital > 0.5 {
			v.Warnings = append(v.Warnings,
				fmt.Sprintf("potential leveraged loss %.1f%% of capital", potentialLoss/sz.Capital*100))
		}
	}
	return v
}

// PartialLadder returns proportional take-profit prices at the given target
// fractions between entry and the full TP. Defaults to 50/75/100.
func PartialLadder(entry, takeProfit float64, fractions []float64) []float64 {
	if len(fractions) == 0 {
		fractions = []float64{0.5, 0.75, 1.0}
	}
	out := make([]float64, len(fractions))
	for i, f := range fractions {
		out[i] = entry + (takeProfit-entry)*f
	}
	return out
}

// TrailingPlan is the activation point and initial trail distance for a
// trailing stop.
type TrailingPlan struct {
	Activation float64 `json:"activation"`
	Distance   float64 `json:"distance"`
}

// TrailingStop activates at a profit fraction from entry; the initial trail
// distance is a fraction of the activation price.
func TrailingStop(entry float64, direction common.Direction, activationPct, trailPct float64) TrailingPlan {
	if activationPct <= 0 {
		activationPct = 0.01
	}
	if trailPct <= 0 {
		trailPct = 0.005
	}
	var activation float64
	if direction == common.DirectionLong {
		activation = entry * (1 + activationPct)
	} else {
		activation = entry * (1 - activationPct)
	}
	return TrailingPlan{Activation: activation, Distance: activation * trailPct}
}
