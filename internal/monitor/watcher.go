package monitor

import (
	"context"
	"fmt"

	"apex-core/internal/events"
	"apex-core/internal/notify"
)

// Watcher bridges error events from the bus to the operator alert channel
// and keeps the error counter current.
type Watcher struct {
	bus      *events.Bus
	metrics  *Metrics
	notifier notify.Notifier
}

// NewWatcher creates a watcher; call Start to begin forwarding.
func NewWatcher(bus *events.Bus, metrics *Metrics, notifier notify.Notifier) *Watcher {
	return &Watcher{bus: bus, metrics: metrics, notifier: notifier}
}

// Start subscribes to error events and forwards them until ctx ends.
func (w *Watcher) Start(ctx context.Context) {
	stream, unsub := w.bus.Subscribe(events.EventError, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				w.metrics.IncrementErrors()
				if ev, match := msg.(events.ErrorEvent); match {
					w.notifier.SendMessage(fmt.Sprintf("⚠️ [%s] %s", ev.Scope, ev.Message))
				}
			}
		}
	}()
}
