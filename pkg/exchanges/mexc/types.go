package mexc

import (
	"fmt"
	"strings"

	"apex-core/pkg/exchanges/common"
)

// apiError carries a failed contract-API response.
type apiError struct {
	Code int
	Msg  string
	Path string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("mexc %s code %d: %s", e.Path, e.Code, e.Msg)
}

type contractDetail struct {
	Symbol       string  `json:"symbol"`
	PriceUnit    float64 `json:"priceUnit"`
	ContractSize float64 `json:"contractSize"`
	MinVol       float64 `json:"minVol"`
	MaxLeverage  float64 `json:"maxLeverage"`
}

type positionEntry struct {
	Symbol        string  `json:"symbol"`
	PositionType  int     `json:"positionType"` // 1 long, 2 short
	HoldVol       float64 `json:"holdVol"`
	HoldAvgPrice  float64 `json:"holdAvgPrice"`
	Leverage      float64 `json:"leverage"`
	UnrealisedPnl float64 `json:"unrealisedPnl"`
}

// toMexcSymbol converts BTCUSDT into the contract notation BTC_USDT.
func toMexcSymbol(symbol string) string {
	if strings.Contains(symbol, "_") {
		return symbol
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(symbol, quote) {
			return symbol[:len(symbol)-len(quote)] + "_" + quote
		}
	}
	return symbol
}

func fromMexcSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "_", "")
}

// toMexcSide maps order side and reduce-only intent onto the contract side
// codes: 1 open long, 2 close short, 3 open short, 4 close long.
func toMexcSide(s common.Side, reduceOnly bool) int {
	switch {
	case s == common.SideBuy && !reduceOnly:
		return 1
	case s == common.SideBuy && reduceOnly:
		return 2
	case s == common.SideSell && !reduceOnly:
		return 3
	default:
		return 4
	}
}

func fromMexcPositionType(t int) common.Direction {
	if t == 2 {
		return common.DirectionShort
	}
	return common.DirectionLong
}

// toMexcOrderType maps to contract order types: 5 market, 1 limit.
func toMexcOrderType(t common.OrderType) int {
	if t == common.OrderTypeLimit {
		return 1
	}
	return 5
}

// toMexcInterval maps common interval notation onto contract kline codes.
func toMexcInterval(interval string) (string, error) {
	switch strings.ToLower(interval) {
	case "1m":
		return "Min1", nil
	case "5m":
		return "Min5", nil
	case "15m":
		return "Min15", nil
	case "30m":
		return "Min30", nil
	case "1h":
		return "Min60", nil
	case "4h":
		return "Hour4", nil
	case "8h":
		return "Hour8", nil
	case "1d":
		return "Day1", nil
	default:
		return "", fmt.Errorf("mexc: unsupported interval %q", interval)
	}
}

func intervalSeconds(interval string) int64 {
	switch strings.ToLower(interval) {
	case "1m":
		return 60
	case "5m":
		return 300
	case "15m":
		return 900
	case "30m":
		return 1800
	case "1h":
		return 3600
	case "4h":
		return 14400
	case "8h":
		return 28800
	case "1d":
		return 86400
	default:
		return 900
	}
}
