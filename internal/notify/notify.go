// Package notify delivers operator alerts. Delivery is fire-and-forget:
// failures are logged and never block trading logic.
package notify

import (
	"fmt"
	"strings"

	"apex-core/internal/alpha"
	"apex-core/internal/router"
	"apex-core/internal/state"
)

// maxShutdownErrors caps the error list in a shutdown alert for readability.
const maxShutdownErrors = 5

// Notifier is the alerting surface the core depends on.
type Notifier interface {
	SendSignalAlert(es alpha.EvaluatedSignal)
	SendTradeAlert(res router.Result)
	SendPositionClosedAlert(p state.Position, reason string)
	SendShutdownAlert(s state.ShutdownState)
	SendMessage(text string)
}

// Noop discards all alerts. Used in tests and when no channel is configured.
type Noop struct{}

func (Noop) SendSignalAlert(alpha.EvaluatedSignal)          {}
func (Noop) SendTradeAlert(router.Result)                   {}
func (Noop) SendPositionClosedAlert(state.Position, string) {}
func (Noop) SendShutdownAlert(state.ShutdownState)          {}
func (Noop) SendMessage(string)                             {}

// FormatShutdownSummary renders the consolidated shutdown message: reason,
// per-position before/after levels, and a capped error list.
func FormatShutdownSummary(s state.ShutdownState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🛑 Shutdown: %s\n", s.Reason)
	fmt.Fprintf(&b, "Positions at shutdown: %d\n", len(s.PositionsBefore))

	for _, u := range s.PositionsUpdate {
		fmt.Fprintf(&b, "• %s TP %.4f→%.4f SL %.4f→%.4f\n",
			u.Symbol, u.OldTakeProfit, u.NewTakeProfit, u.OldStopLoss, u.NewStopLoss)
	}

	if n := len(s.Errors); n > 0 {
		fmt.Fprintf(&b, "Errors (%d):\n", n)
		shown := s.Errors
		if len(shown) > maxShutdownErrors {
			shown = shown[:maxShutdownErrors]
		}
		for _, e := range shown {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
		if n > maxShutdownErrors {
			fmt.Fprintf(&b, "  … and %d more\n", n-maxShutdownErrors)
		}
	}
	if s.Complete {
		b.WriteString("Protection protocol complete.")
	}
	return b.String()
}
