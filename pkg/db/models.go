package db

import (
	"database/sql"
	"time"
)

// Position is a persisted futures position, open or closed.
type Position struct {
	ID          string
	Symbol      string
	Direction   string
	Qty         float64
	EntryPrice  float64
	TakeProfit  float64
	StopLoss    float64
	Leverage    int
	Venue       string
	Status      string
	OpenedAt    time.Time
	ClosedAt    sql.NullTime
	RealizedPnL float64
}

// Trade is a persisted fill.
type Trade struct {
	ID         string
	PositionID string
	Symbol     string
	Side       string
	Price      float64
	Qty        float64
	Fee        float64
	Venue      string
	OrderID    string
	CreatedAt  time.Time
}

// Signal is a persisted signal record, kept for post-session review.
type Signal struct {
	ID         string
	Symbol     string
	Direction  string
	Kind       string
	Confidence float64
	EVScore    float64
	Kelly      float64
	Executed   bool
	CreatedAt  time.Time
}

// SessionStats aggregates per-day trading outcomes.
type SessionStats struct {
	Date        string
	Trades      int
	Wins        int
	Losses      int
	RealizedPnL float64
	FeesPaid    float64
}

// User is an operator account for the control API.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// ShutdownEvent records one run of the shutdown protection protocol.
type ShutdownEvent struct {
	ID            int64
	Reason        string
	PositionsOpen int
	UpdatesPushed int
	Failures      int
	StartedAt     time.Time
	FinishedAt    sql.NullTime
}
