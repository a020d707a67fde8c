package common

import "time"

// Direction is the directional hypothesis behind a trade.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Opposite returns the inverse direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// Valid reports whether the direction is one of the two known values.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Side denotes order side on the venue.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// EntrySide maps a position direction to the order side that opens it.
func EntrySide(d Direction) Side {
	if d == DirectionShort {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes supported order types. The core only submits market
// orders with attached protective levels.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Candle is one OHLCV bar. Immutable once produced; sequences are oldest-first.
type Candle struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price float64
	Qty   float64
}

// OrderBook is a top-of-book snapshot. Ephemeral: revalidated every cycle,
// never persisted across cycles.
type OrderBook struct {
	Symbol    string
	Venue     string
	Bids      []BookLevel // best bid first
	Asks      []BookLevel // best ask first
	Timestamp time.Time
}

// BestBid returns the highest bid price, or 0 when the side is empty.
func (b *OrderBook) BestBid() float64 {
	if b == nil || len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 when the side is empty.
func (b *OrderBook) BestAsk() float64 {
	if b == nil || len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Mid returns the book midpoint, or 0 when either side is empty.
func (b *OrderBook) Mid() float64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}

// SpreadPct returns the bid/ask spread as a percentage of the midpoint.
func (b *OrderBook) SpreadPct() float64 {
	mid := b.Mid()
	if mid <= 0 {
		return 0
	}
	return (b.BestAsk() - b.BestBid()) / mid * 100
}

// InstrumentInfo carries the venue's precision and floor rules for a symbol.
type InstrumentInfo struct {
	TickSize    float64
	QtyStep     float64
	MinNotional float64
}

// OrderRequest captures an order intent to be sent to a venue.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Qty        float64
	Price      float64 // required for LIMIT
	TakeProfit float64 // optional attached TP trigger
	StopLoss   float64 // optional attached SL trigger
	ReduceOnly bool
	ClientID   string // optional client order id
}

// OrderAck is the venue acknowledgement of a placed order.
type OrderAck struct {
	OrderID  string
	Status   string
	ClientID string
}

// VenuePosition is the venue-side view of a live position.
type VenuePosition struct {
	Symbol        string
	Side          Direction
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	Leverage      float64
	UnrealizedPnL float64
	TakeProfit    float64
	StopLoss      float64
}
