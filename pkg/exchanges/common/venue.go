package common

import (
	"context"
	"errors"
)

// Sentinel errors shared by venue clients.
var (
	// ErrNotSupported marks an operation the venue cannot perform natively
	// (for example position-level TP/SL on MEXC). Callers must surface the
	// capability gap instead of working around it.
	ErrNotSupported = errors.New("operation not supported by venue")

	// ErrNoPosition is returned when an operation requires a live position
	// and the venue reports none for the symbol.
	ErrNoPosition = errors.New("no live position for symbol")
)

// Venue abstracts a trading venue. All calls are signed REST round-trips;
// implementations own authentication and transport entirely.
type Venue interface {
	// Name returns the venue identifier ("bybit", "mexc", ...).
	Name() string

	// GetKlines fetches up to limit candles for symbol/interval, oldest-first.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// GetOrderBook fetches a book snapshot of the given depth.
	GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)

	// GetInstrumentInfo returns precision and floor rules for a symbol.
	GetInstrumentInfo(ctx context.Context, symbol string) (InstrumentInfo, error)

	// PlaceOrder submits an order and returns the venue acknowledgement.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// SetTradingStop updates position-level TP/SL. Venues without native
	// support return ErrNotSupported.
	SetTradingStop(ctx context.Context, symbol string, takeProfit, stopLoss float64) error

	// GetPositions returns live positions, optionally filtered by symbol.
	GetPositions(ctx context.Context, symbol string) ([]VenuePosition, error)

	// GetBalance returns the available quote-currency balance.
	GetBalance(ctx context.Context) (float64, error)

	// SetLeverage configures leverage before order submission on venues
	// that require it.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
