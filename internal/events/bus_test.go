package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBus()
	ch1, unsub1 := b.Subscribe(EventBalanceUpdated, 1)
	ch2, unsub2 := b.Subscribe(EventBalanceUpdated, 1)
	defer unsub1()
	defer unsub2()

	b.Publish(EventBalanceUpdated, 1234.5)

	for _, ch := range []<-chan any{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, 1234.5, got)
		case <-time.After(time.Second):
			t.Fatal("payload not delivered")
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventError, 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		b.Publish(EventError, "first")
		b.Publish(EventError, "second") // buffer full, dropped
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, "first", <-ch)
	assert.Empty(t, ch)
}

func TestUnsubscribeClosesChannelOnce(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventStatusChanged, 1)

	unsub()
	unsub() // second call is a no-op, not a double close

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe goes nowhere.
	b.Publish(EventStatusChanged, "ignored")
}
