package sentinel

import (
	"time"

	"apex-core/pkg/exchanges/common"
)

// Regime classifies the market character over the lookback window.
type Regime string

const (
	RegimeTrending Regime = "TRENDING"
	RegimeRanging  Regime = "RANGING"
)

// VolatilityState buckets ATR relative to price.
type VolatilityState string

const (
	VolatilityLow    VolatilityState = "LOW"
	VolatilityNormal VolatilityState = "NORMAL"
	VolatilityHigh   VolatilityState = "HIGH"
)

// SignalKind discriminates the metadata attached to a signal.
type SignalKind string

const (
	KindRegime     SignalKind = "regime"
	KindOrderBlock SignalKind = "order_block"
	KindWhaleFlow  SignalKind = "whale_flow"
)

// Signal is a candidate trade idea for the current cycle. It expires with
// the cycle; nothing acts on a stale signal.
type Signal struct {
	ID              string           `json:"id"`
	Symbol          string           `json:"symbol"`
	Strategy        string           `json:"strategy"`
	Kind            SignalKind       `json:"kind"`
	Direction       common.Direction `json:"direction"`
	WinProbability  float64          `json:"win_probability"`  // [0,1]
	ExpectedMovePct float64          `json:"expected_move_pct"`
	Regime          Regime           `json:"regime"`
	CurrentPrice    float64          `json:"current_price"`
	ATR             float64          `json:"atr"`
	Strength        float64          `json:"strength"` // auxiliary, not used for ranking
	Timestamp       time.Time        `json:"timestamp"`

	// Exactly one of these is set, selected by Kind.
	RegimeMeta     *RegimeMeta     `json:"regime_meta,omitempty"`
	OrderBlockMeta *OrderBlockMeta `json:"order_block_meta,omitempty"`
	WhaleFlowMeta  *WhaleFlowMeta  `json:"whale_flow_meta,omitempty"`
}

// RegimeMeta carries the statistical context behind a regime signal.
type RegimeMeta struct {
	Hurst         float64         `json:"hurst"`
	TrendStrength float64         `json:"trend_strength"`
	Volatility    VolatilityState `json:"volatility"`
	VPOC          float64         `json:"vpoc"`
	ValueAreaHigh float64         `json:"value_area_high"`
	ValueAreaLow  float64         `json:"value_area_low"`
	RSI           float64         `json:"rsi"`
}

// OrderBlockMeta describes the block whose boundary was retested.
type OrderBlockMeta struct {
	BlockHigh float64   `json:"block_high"`
	BlockLow  float64   `json:"block_low"`
	Bullish   bool      `json:"bullish"`
	FormedAt  time.Time `json:"formed_at"`
}

// WhaleFlowMeta summarizes the large-order pressure behind the signal.
type WhaleFlowMeta struct {
	BuyNotional  float64 `json:"buy_notional"`
	SellNotional float64 `json:"sell_notional"`
	Imbalance    float64 `json:"imbalance"` // signed, positive = buy pressure
	WhaleLevels  int     `json:"whale_levels"`
}
