package api

import (
	"net/http"
	"reflect"
	"time"

	"apex-core/internal/events"
	"apex-core/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamedEvents are the topics mirrored to websocket clients.
var streamedEvents = []events.Event{
	events.EventStatusChanged,
	events.EventSignalGenerated,
	events.EventSignalExecuted,
	events.EventPositionOpened,
	events.EventPositionClosed,
	events.EventProtectionUpdated,
	events.EventBalanceUpdated,
	events.EventError,
	events.EventShutdownInitiated,
	events.EventShutdownComplete,
}

// envelope wraps a bus payload with its topic for clients.
type envelope struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Fan-in every streamed topic through one select.
	cases := make([]reflect.SelectCase, 0, len(streamedEvents))
	topics := make([]events.Event, 0, len(streamedEvents))
	unsubs := make([]func(), 0, len(streamedEvents))
	for _, ev := range streamedEvents {
		ch, unsub := s.Bus.Subscribe(ev, 100)
		cases = append(cases, reflect.SelectCase{
			Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch),
		})
		topics = append(topics, ev)
		unsubs = append(unsubs, unsub)
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	for {
		idx, value, ok := reflect.Select(cases)
		if !ok {
			return
		}
		msg := envelope{
			Type:    string(topics[idx]),
			Payload: value.Interface(),
			At:      time.Now(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("ws write failed", zap.Error(err))
			return
		}
	}
}
