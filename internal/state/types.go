package state

import (
	"time"

	"apex-core/pkg/exchanges/common"
)

// Status is the run state of the trading engine.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusRunning      Status = "running"
	StatusStopping     Status = "stopping"
	StatusShuttingDown Status = "shutting_down"
	StatusError        Status = "error"
)

// PositionStatus is the lifecycle state of a tracked position.
type PositionStatus string

const (
	PositionOpen       PositionStatus = "open"
	PositionClosed     PositionStatus = "closed"
	PositionLiquidated PositionStatus = "liquidated"
)

// Position is the authoritative record of a live or closed trade. Owned by
// the store; mutate only through store methods.
type Position struct {
	ID            string           `json:"id"`
	Symbol        string           `json:"symbol"`
	Exchange      string           `json:"exchange"`
	Side          common.Direction `json:"side"`
	Size          float64          `json:"size"` // base-asset units
	EntryPrice    float64          `json:"entry_price"`
	CurrentPrice  float64          `json:"current_price,omitempty"`
	Leverage      int              `json:"leverage"`
	Margin        float64          `json:"margin"`
	UnrealizedPnL float64          `json:"unrealized_pnl,omitempty"`
	RealizedPnL   float64          `json:"realized_pnl,omitempty"`
	StopLoss      float64          `json:"stop_loss,omitempty"`
	TakeProfit    float64          `json:"take_profit,omitempty"`
	Status        PositionStatus   `json:"status"`
	OpenedAt      time.Time        `json:"opened_at"`
	ClosedAt      time.Time        `json:"closed_at,omitempty"`
	SignalID      string           `json:"signal_id,omitempty"`
}

// SessionStats holds cumulative counters for the current run. Reset only on
// explicit state reset.
type SessionStats struct {
	SignalsGenerated int       `json:"signals_generated"`
	SignalsExecuted  int       `json:"signals_executed"`
	Successes        int       `json:"successes"`
	Failures         int       `json:"failures"`
	TotalPnL         float64   `json:"total_pnl"`
	TotalFees        float64   `json:"total_fees"`
	PeakBalance      float64   `json:"peak_balance"`
	MaxDrawdown      float64   `json:"max_drawdown"`
	StartedAt        time.Time `json:"started_at"`
}

// ProtectionChange records one position's TP/SL move during shutdown.
type ProtectionChange struct {
	Symbol        string  `json:"symbol"`
	OldTakeProfit float64 `json:"old_take_profit"`
	OldStopLoss   float64 `json:"old_stop_loss"`
	NewTakeProfit float64 `json:"new_take_profit"`
	NewStopLoss   float64 `json:"new_stop_loss"`
}

// ShutdownState records one run of the shutdown protection protocol.
// Terminal once Complete is true.
type ShutdownState struct {
	IsShuttingDown  bool               `json:"is_shutting_down"`
	Timestamp       time.Time          `json:"timestamp"`
	Reason          string             `json:"reason"`
	PositionsBefore []Position         `json:"positions_before"`
	PositionsUpdate []ProtectionChange `json:"positions_updated"`
	Errors          []string           `json:"errors"`
	Complete        bool               `json:"complete"`
}
