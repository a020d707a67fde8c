// Package paper provides an in-memory venue for dry runs and tests. Orders
// fill instantly at the book midpoint and positions live only in process
// memory.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"apex-core/pkg/exchanges/common"

	"github.com/google/uuid"
)

// Venue is an in-memory implementation of the venue interface.
type Venue struct {
	mu        sync.RWMutex
	name      string
	balance   float64
	candles   map[string][]common.Candle
	books     map[string]*common.OrderBook
	positions map[string]*common.VenuePosition
	leverage  map[string]int
	orders    []common.OrderRequest
	feeRate   float64
}

// New creates a paper venue with the given starting balance.
func New(balance float64) *Venue {
	return &Venue{
		name:      "paper",
		balance:   balance,
		candles:   make(map[string][]common.Candle),
		books:     make(map[string]*common.OrderBook),
		positions: make(map[string]*common.VenuePosition),
		leverage:  make(map[string]int),
		feeRate:   0.0006,
	}
}

// Name identifies the venue.
func (v *Venue) Name() string { return v.name }

// SeedCandles installs a candle series for a symbol.
func (v *Venue) SeedCandles(symbol string, candles []common.Candle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.candles[symbol] = candles
}

// SeedBook installs an order book snapshot for a symbol.
func (v *Venue) SeedBook(symbol string, book *common.OrderBook) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.books[symbol] = book
}

// Orders returns a copy of all submitted order requests, oldest first.
func (v *Venue) Orders() []common.OrderRequest {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]common.OrderRequest, len(v.orders))
	copy(out, v.orders)
	return out
}

// GetKlines returns the seeded candle series, truncated to limit.
func (v *Venue) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]common.Candle, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	candles, ok := v.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("paper: no candles seeded for %s", symbol)
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]common.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// GetOrderBook returns the seeded book, or a synthetic one around the last
// close when none was seeded.
func (v *Venue) GetOrderBook(ctx context.Context, symbol string, depth int) (*common.OrderBook, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if book, ok := v.books[symbol]; ok {
		return book, nil
	}
	candles, ok := v.candles[symbol]
	if !ok || len(candles) == 0 {
		return nil, fmt.Errorf("paper: no book or candles seeded for %s", symbol)
	}
	last := candles[len(candles)-1].Close
	return &common.OrderBook{
		Symbol:    symbol,
		Venue:     v.name,
		Bids:      []common.BookLevel{{Price: last * 0.9999, Qty: 100}},
		Asks:      []common.BookLevel{{Price: last * 1.0001, Qty: 100}},
		Timestamp: time.Now(),
	}, nil
}

// GetInstrumentInfo returns fixed permissive precision rules.
func (v *Venue) GetInstrumentInfo(ctx context.Context, symbol string) (common.InstrumentInfo, error) {
	return common.InstrumentInfo{TickSize: 0.01, QtyStep: 0.001, MinNotional: 5}, nil
}

// PlaceOrder fills immediately at the book midpoint.
func (v *Venue) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error) {
	book, err := v.GetOrderBook(ctx, req.Symbol, 1)
	if err != nil {
		return common.OrderAck{}, err
	}
	fill := book.Mid()
	if req.Type == common.OrderTypeLimit {
		fill = req.Price
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.orders = append(v.orders, req)

	if req.ReduceOnly {
		pos, ok := v.positions[req.Symbol]
		if !ok {
			return common.OrderAck{}, common.ErrNoPosition
		}
		pnl := (fill - pos.EntryPrice) * pos.Size
		if pos.Side == common.DirectionShort {
			pnl = -pnl
		}
		v.balance += pnl - fill*pos.Size*v.feeRate
		delete(v.positions, req.Symbol)
	} else {
		dir := common.DirectionLong
		if req.Side == common.SideSell {
			dir = common.DirectionShort
		}
		lev := v.leverage[req.Symbol]
		if lev == 0 {
			lev = 1
		}
		v.positions[req.Symbol] = &common.VenuePosition{
			Symbol:     req.Symbol,
			Side:       dir,
			Size:       req.Qty,
			EntryPrice: fill,
			MarkPrice:  fill,
			Leverage:   float64(lev),
			TakeProfit: req.TakeProfit,
			StopLoss:   req.StopLoss,
		}
		v.balance -= fill * req.Qty * v.feeRate
	}

	id := req.ClientID
	if id == "" {
		id = uuid.NewString()
	}
	return common.OrderAck{OrderID: uuid.NewString(), Status: "FILLED", ClientID: id}, nil
}

// SetTradingStop updates TP/SL on the held position.
func (v *Venue) SetTradingStop(ctx context.Context, symbol string, takeProfit, stopLoss float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	pos, ok := v.positions[symbol]
	if !ok {
		return common.ErrNoPosition
	}
	if takeProfit > 0 {
		pos.TakeProfit = takeProfit
	}
	if stopLoss > 0 {
		pos.StopLoss = stopLoss
	}
	return nil
}

// GetPositions returns held positions; symbol optional.
func (v *Venue) GetPositions(ctx context.Context, symbol string) ([]common.VenuePosition, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []common.VenuePosition
	for _, p := range v.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, *p)
		}
	}
	return out, nil
}

// GetBalance returns the simulated balance.
func (v *Venue) GetBalance(ctx context.Context) (float64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balance, nil
}

// SetLeverage records the leverage used for subsequent entries.
func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("paper: leverage must be at least 1")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.leverage[symbol] = leverage
	return nil
}
