package router

import (
	"time"

	"apex-core/internal/risk"
	"apex-core/pkg/exchanges/common"
)

// Result statuses that do not come from the venue.
const (
	StatusRejected     = "REJECTED"
	StatusError        = "ERROR"
	StatusNotSupported = "NOT_SUPPORTED"
)

// Result is the uniform outcome of every execution call. Venue errors are
// folded in here; nothing propagates past the router as a raw error.
type Result struct {
	Success    bool              `json:"success"`
	Exchange   string            `json:"exchange"`
	Symbol     string            `json:"symbol"`
	Side       common.Side       `json:"side,omitempty"`
	Type       common.OrderType  `json:"type,omitempty"`
	Quantity   float64           `json:"quantity,omitempty"`
	Price      float64           `json:"price,omitempty"`
	TakeProfit float64           `json:"take_profit,omitempty"`
	StopLoss   float64           `json:"stop_loss,omitempty"`
	OrderID    string            `json:"order_id,omitempty"`
	Status     string            `json:"status"`
	Message    string            `json:"message,omitempty"`
	Levels     *risk.Levels      `json:"risk_levels,omitempty"`
	Sizing     *risk.Sizing      `json:"sizing,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

func rejected(exchange, symbol, msg string) Result {
	return Result{
		Exchange: exchange, Symbol: symbol,
		Status: StatusRejected, Message: msg, Timestamp: time.Now(),
	}
}

func errored(exchange, symbol, msg string) Result {
	return Result{
		Exchange: exchange, Symbol: symbol,
		Status: StatusError, Message: msg, Timestamp: time.Now(),
	}
}
