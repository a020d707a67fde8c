package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"apex-core/internal/alpha"
	"apex-core/internal/events"
	"apex-core/internal/monitor"
	"apex-core/internal/notify"
	"apex-core/internal/risk"
	"apex-core/internal/router"
	"apex-core/internal/sentinel"
	"apex-core/internal/shutdown"
	"apex-core/internal/state"
	"apex-core/pkg/exchanges/common"
	"apex-core/pkg/exchanges/paper"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trendCandles builds a persistently rising series with real intrabar range.
func trendCandles(n int) []common.Candle {
	out := make([]common.Candle, n)
	base := time.Unix(1700000000, 0)
	price := 100.0
	for i := range out {
		open := price
		price *= math.Exp(0.001 + 0.0001*float64(i))
		out[i] = common.Candle{
			OpenTime: base.Add(time.Duration(i) * 15 * time.Minute),
			Open:     open,
			High:     price * 1.005,
			Low:      open * 0.995,
			Close:    price,
			Volume:   10,
		}
	}
	return out
}

func newTestEngine(venue *paper.Venue, alphaCfg alpha.Config) (*Engine, *state.Store) {
	bus := events.NewBus()
	store := state.NewStore(bus, nil)
	physics := risk.New(risk.Config{
		TPMultiplier: 2.0, SLMultiplier: 1.5,
		MaxCapital: 1000, MaxLeverage: 10,
	})
	e := New(Config{
		Symbols:          []string{"BTCUSDT"},
		CandleInterval:   "15m",
		CandleLimit:      100,
		MaxOpenPositions: 1,
		TakerFeeRate:     0.0006,
	}, Deps{
		Venue:    venue,
		Store:    store,
		Sentinel: sentinel.New(sentinel.Config{}),
		Alpha:    alpha.New(alphaCfg),
		Router:   router.New(router.Config{}, physics),
		Guard:    risk.NewGuard(),
		Notifier: notify.Noop{},
		Metrics:  monitor.NewMetrics(),
	})
	return e, store
}

func TestCycleOpensPosition(t *testing.T) {
	venue := paper.New(10000)
	venue.SeedCandles("BTCUSDT", trendCandles(100))

	// Permissive gates: any economically positive signal may trade.
	e, store := newTestEngine(venue, alpha.Config{MinEVScore: -100})
	e.cycle(context.Background())

	assert.Equal(t, 1, store.OpenCount())
	pos, ok := store.PositionBySymbol("BTCUSDT")
	require.True(t, ok)
	assert.Greater(t, pos.Size, 0.0)
	assert.Greater(t, pos.TakeProfit, 0.0)
	assert.Greater(t, pos.StopLoss, 0.0)

	orders := venue.Orders()
	require.Len(t, orders, 1)
	assert.False(t, orders[0].ReduceOnly)
	assert.Greater(t, store.Stats().SignalsGenerated, 0)
	assert.Equal(t, 1, store.Stats().SignalsExecuted)
}

func TestCycleAtCapacityMonitorsOnly(t *testing.T) {
	venue := paper.New(10000)
	venue.SeedCandles("BTCUSDT", trendCandles(100))
	venue.SeedCandles("ETHUSDT", trendCandles(100))

	e, store := newTestEngine(venue, alpha.Config{MinEVScore: -100})
	require.True(t, store.AddPosition(state.Position{
		ID: "held", Symbol: "ETHUSDT", Exchange: "paper",
		Side: common.DirectionLong, Size: 1, EntryPrice: 100,
	}))

	e.cycle(context.Background())

	assert.Empty(t, venue.Orders(), "no entries while at position capacity")
	assert.Equal(t, 1, store.OpenCount())
}

func TestGuardTriggeredClose(t *testing.T) {
	venue := paper.New(10000)
	venue.SeedCandles("BTCUSDT", trendCandles(100))

	// Impossible EV gate so the cycle cannot re-enter after the close.
	e, store := newTestEngine(venue, alpha.Config{MinEVScore: 100})

	entry, err := venue.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1,
	})
	require.NoError(t, err)
	_ = entry

	positions, err := venue.GetPositions(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	entryPrice := positions[0].EntryPrice

	// Mark moves 2% above entry so the close realizes a profit.
	mark := entryPrice * 1.02
	venue.SeedBook("BTCUSDT", &common.OrderBook{
		Symbol:    "BTCUSDT",
		Venue:     "paper",
		Bids:      []common.BookLevel{{Price: mark * 0.9999, Qty: 100}},
		Asks:      []common.BookLevel{{Price: mark * 1.0001, Qty: 100}},
		Timestamp: time.Now(),
	})

	require.True(t, store.AddPosition(state.Position{
		ID: "p1", Symbol: "BTCUSDT", Exchange: "paper",
		Side: common.DirectionLong, Size: 1, EntryPrice: entryPrice,
	}))
	// TP below the current mark triggers immediately on the next poll.
	e.deps.Guard.Watch("BTCUSDT", common.DirectionLong, entryPrice, 0, entryPrice*0.99)

	e.cycle(context.Background())

	assert.Equal(t, 0, store.OpenCount())
	remaining, err := venue.GetPositions(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, remaining, "venue position closed")
	assert.Equal(t, 1, store.Stats().Successes)
}

func TestCycleNoopDuringShutdown(t *testing.T) {
	venue := paper.New(10000)
	venue.SeedCandles("BTCUSDT", trendCandles(100))

	e, store := newTestEngine(venue, alpha.Config{MinEVScore: -100})
	store.BeginShutdown("test")

	e.cycle(context.Background())

	assert.Empty(t, venue.Orders())
	assert.Equal(t, 0, store.OpenCount())
}

func TestStartStopLifecycle(t *testing.T) {
	venue := paper.New(10000)
	venue.SeedCandles("BTCUSDT", trendCandles(100))

	e, store := newTestEngine(venue, alpha.Config{MinEVScore: 100})
	e.cfg.CycleInterval = time.Hour

	require.NoError(t, e.Start(context.Background()))
	assert.Error(t, e.Start(context.Background()), "double start rejected")
	assert.Equal(t, state.StatusRunning, store.Status())

	e.Stop()
	assert.Equal(t, state.StatusIdle, store.Status())
	// Stop is idempotent.
	e.Stop()
}

func TestStartRefusedAfterShutdownProtocol(t *testing.T) {
	venue := paper.New(10000)
	bus := events.NewBus()
	store := state.NewStore(bus, nil)
	physics := risk.New(risk.Config{MaxCapital: 1000, MaxLeverage: 10})
	orderRouter := router.New(router.Config{}, physics)
	protocol := shutdown.New(shutdown.Config{RetryDelay: time.Millisecond},
		store, orderRouter, physics, notify.Noop{}, nil)

	e := New(Config{Symbols: []string{"BTCUSDT"}}, Deps{
		Venue:    venue,
		Store:    store,
		Sentinel: sentinel.New(sentinel.Config{}),
		Alpha:    alpha.New(alpha.Config{}),
		Router:   orderRouter,
		Guard:    risk.NewGuard(),
		Notifier: notify.Noop{},
		Protocol: protocol,
	})

	final := e.Shutdown(context.Background(), "maintenance")
	assert.True(t, final.Complete)

	// The process is committed to exit; trading must not resume in it.
	err := e.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart the process")
}
