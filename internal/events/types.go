package events

import "time"

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	EventStatusChanged     Event = "status_changed"
	EventSignalGenerated   Event = "signal_generated"
	EventSignalExecuted    Event = "signal_executed"
	EventPositionOpened    Event = "position_opened"
	EventPositionClosed    Event = "position_closed"
	EventProtectionUpdated Event = "protection_updated"
	EventBalanceUpdated    Event = "balance_updated"
	EventError             Event = "error"
	EventShutdownInitiated Event = "shutdown_initiated"
	EventShutdownComplete  Event = "shutdown_complete"
)

// StatusChange is the payload of EventStatusChanged.
type StatusChange struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// ErrorEvent is the payload of EventError.
type ErrorEvent struct {
	Scope   string    `json:"scope"`
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}
