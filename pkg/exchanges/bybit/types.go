package bybit

import (
	"fmt"
	"strconv"
	"strings"

	"apex-core/pkg/exchanges/common"
)

// retCodeLeverageNotModified is returned when the requested leverage equals
// the current one.
const retCodeLeverageNotModified = 110043

// apiError carries a non-zero v5 retCode.
type apiError struct {
	Code int
	Msg  string
	Path string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bybit %s retCode %d: %s", e.Path, e.Code, e.Msg)
}

type klineResult struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"`
}

type positionEntry struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	MarkPrice     string `json:"markPrice"`
	Leverage      string `json:"leverage"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	TakeProfit    string `json:"takeProfit"`
	StopLoss      string `json:"stopLoss"`
}

func toBybitSide(s common.Side) string {
	if s == common.SideSell {
		return "Sell"
	}
	return "Buy"
}

func fromBybitSide(s string) common.Direction {
	if strings.EqualFold(s, "Sell") {
		return common.DirectionShort
	}
	return common.DirectionLong
}

func toBybitOrderType(t common.OrderType) string {
	if t == common.OrderTypeLimit {
		return "Limit"
	}
	return "Market"
}

// toBybitInterval maps common interval notation ("15m", "1h", "1d") onto the
// v5 interval codes.
func toBybitInterval(interval string) string {
	switch strings.ToLower(interval) {
	case "1m":
		return "1"
	case "3m":
		return "3"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "30m":
		return "30"
	case "1h":
		return "60"
	case "2h":
		return "120"
	case "4h":
		return "240"
	case "6h":
		return "360"
	case "12h":
		return "720"
	case "1d":
		return "D"
	case "1w":
		return "W"
	default:
		return interval
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
