package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"apex-core/internal/events"
	"apex-core/internal/notify"
	"apex-core/internal/risk"
	"apex-core/internal/router"
	"apex-core/internal/state"
	"apex-core/pkg/exchanges/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVenue struct {
	mu             sync.Mutex
	positions      []common.VenuePosition
	positionsErr   error
	positionsCalls int
	klinesErr      map[string]error
	candles        map[string][]common.Candle
	stops          map[string][2]float64
	stopErr        error
	stopNotSupp    bool
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		klinesErr: make(map[string]error),
		candles:   make(map[string][]common.Candle),
		stops:     make(map[string][2]float64),
	}
}

func (f *fakeVenue) Name() string { return "fake" }

func (f *fakeVenue) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]common.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.klinesErr[symbol]; err != nil {
		return nil, err
	}
	return f.candles[symbol], nil
}

func (f *fakeVenue) GetOrderBook(ctx context.Context, symbol string, depth int) (*common.OrderBook, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeVenue) GetInstrumentInfo(ctx context.Context, symbol string) (common.InstrumentInfo, error) {
	return common.InstrumentInfo{TickSize: 0.01, QtyStep: 0.001, MinNotional: 5}, nil
}

func (f *fakeVenue) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error) {
	return common.OrderAck{}, errors.New("not implemented")
}

func (f *fakeVenue) SetTradingStop(ctx context.Context, symbol string, tp, sl float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopNotSupp {
		return common.ErrNotSupported
	}
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stops[symbol] = [2]float64{tp, sl}
	return nil
}

func (f *fakeVenue) GetPositions(ctx context.Context, symbol string) ([]common.VenuePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positionsCalls++
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	return f.positions, nil
}

func (f *fakeVenue) GetBalance(ctx context.Context) (float64, error) { return 1000, nil }

func (f *fakeVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }

func (f *fakeVenue) stopFor(symbol string) ([2]float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stops[symbol]
	return s, ok
}

func rangeCandles(price float64, n int) []common.Candle {
	out := make([]common.Candle, n)
	base := time.Unix(1700000000, 0)
	for i := range out {
		out[i] = common.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     price, High: price * 1.01, Low: price * 0.99, Close: price, Volume: 10,
		}
	}
	return out
}

func newProtocol(t *testing.T, venue *fakeVenue) (*Protocol, *state.Store) {
	t.Helper()
	bus := events.NewBus()
	store := state.NewStore(bus, nil)
	physics := risk.New(risk.Config{TPMultiplier: 2.0, SLMultiplier: 1.5, MaxCapital: 100, MaxLeverage: 10})
	rt := router.New(router.Config{}, physics)
	p := New(Config{
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		CandleLimit:   30,
	}, store, rt, physics, notify.Noop{}, nil)
	return p, store
}

func venuePos(symbol string, side common.Direction, price, tp, sl float64) common.VenuePosition {
	return common.VenuePosition{
		Symbol: symbol, Side: side, Size: 0.5,
		EntryPrice: price, MarkPrice: price, TakeProfit: tp, StopLoss: sl,
	}
}

func TestExecuteCompletesAndUpdatesProtection(t *testing.T) {
	venue := newFakeVenue()
	venue.candles["BTCUSDT"] = rangeCandles(100, 30)
	// Existing levels far from what current volatility implies.
	venue.positions = []common.VenuePosition{venuePos("BTCUSDT", common.DirectionLong, 100, 150, 50)}

	p, store := newProtocol(t, venue)
	final := p.Execute(context.Background(), venue, "test")

	assert.True(t, final.Complete)
	assert.False(t, final.IsShuttingDown)
	assert.Empty(t, final.Errors)
	require.Len(t, final.PositionsUpdate, 1)
	assert.Equal(t, "BTCUSDT", final.PositionsUpdate[0].Symbol)
	assert.Equal(t, 150.0, final.PositionsUpdate[0].OldTakeProfit)

	pushed, ok := venue.stopFor("BTCUSDT")
	require.True(t, ok)
	// ATR = 2 at price 100: TP 104, SL 97.
	assert.InDelta(t, 104, pushed[0], 1e-9)
	assert.InDelta(t, 97, pushed[1], 1e-9)

	assert.Equal(t, state.StatusShuttingDown, store.Status())
}

func TestExecuteSkipsCurrentLevels(t *testing.T) {
	venue := newFakeVenue()
	venue.candles["BTCUSDT"] = rangeCandles(100, 30)
	// Levels within 1% of the recomputed 104/97.
	venue.positions = []common.VenuePosition{venuePos("BTCUSDT", common.DirectionLong, 100, 104.5, 96.8)}

	p, _ := newProtocol(t, venue)
	final := p.Execute(context.Background(), venue, "test")

	assert.True(t, final.Complete)
	assert.Empty(t, final.PositionsUpdate)
	_, pushed := venue.stopFor("BTCUSDT")
	assert.False(t, pushed)
}

func TestPartialFailureIsolation(t *testing.T) {
	venue := newFakeVenue()
	venue.candles["BTCUSDT"] = rangeCandles(100, 30)
	venue.klinesErr["ETHUSDT"] = errors.New("timeout")
	venue.positions = []common.VenuePosition{
		venuePos("BTCUSDT", common.DirectionLong, 100, 150, 50),
		venuePos("ETHUSDT", common.DirectionShort, 3000, 2800, 3200),
	}

	p, _ := newProtocol(t, venue)
	final := p.Execute(context.Background(), venue, "test")

	assert.True(t, final.Complete, "one symbol's failure must not abort the protocol")
	require.Len(t, final.Errors, 1)
	assert.Contains(t, final.Errors[0], "ETHUSDT")
	require.Len(t, final.PositionsUpdate, 1)
	assert.Equal(t, "BTCUSDT", final.PositionsUpdate[0].Symbol)
}

func TestFallsBackToCachedPositions(t *testing.T) {
	venue := newFakeVenue()
	venue.candles["BTCUSDT"] = rangeCandles(100, 30)
	venue.positionsErr = errors.New("connection refused")

	p, store := newProtocol(t, venue)
	store.AddPosition(state.Position{
		ID: "pos-1", Symbol: "BTCUSDT", Exchange: "fake",
		Side: common.DirectionLong, Size: 0.5, EntryPrice: 100,
		TakeProfit: 150, StopLoss: 50,
	})

	final := p.Execute(context.Background(), venue, "test")

	assert.True(t, final.Complete)
	assert.Equal(t, 3, venue.positionsCalls, "bounded retry before falling back")
	// Cached position was still re-anchored.
	require.Len(t, final.PositionsUpdate, 1)
	// The fetch failure is recorded alongside the successful update.
	require.NotEmpty(t, final.Errors)
	assert.Contains(t, final.Errors[0], "cached")
}

func TestNotSupportedVenueRecordsGap(t *testing.T) {
	venue := newFakeVenue()
	venue.candles["BTCUSDT"] = rangeCandles(100, 30)
	venue.stopNotSupp = true
	venue.positions = []common.VenuePosition{venuePos("BTCUSDT", common.DirectionLong, 100, 150, 50)}

	p, _ := newProtocol(t, venue)
	final := p.Execute(context.Background(), venue, "test")

	assert.True(t, final.Complete)
	assert.Empty(t, final.PositionsUpdate)
	require.Len(t, final.Errors, 1)
	assert.Contains(t, final.Errors[0], "cannot update")
}

func TestReentrancyGuard(t *testing.T) {
	venue := newFakeVenue()
	venue.candles["BTCUSDT"] = rangeCandles(100, 30)
	venue.positions = []common.VenuePosition{venuePos("BTCUSDT", common.DirectionLong, 100, 150, 50)}

	p, _ := newProtocol(t, venue)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Execute(context.Background(), venue, "concurrent")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, venue.positionsCalls, "only the first trigger runs the protocol")
	assert.True(t, p.InProgress())
}
