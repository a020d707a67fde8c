package risk

import (
	"fmt"
	"sync"

	"apex-core/pkg/exchanges/common"
)

// Guard watches live positions against their protective levels and raises
// close decisions when price crosses TP or SL, including a high-water-mark
// trailing stop.
type Guard struct {
	mu        sync.RWMutex
	positions map[string]*guarded // by symbol
}

type guarded struct {
	symbol        string
	side          common.Direction
	entryPrice    float64
	currentPrice  float64
	stopLoss      float64
	takeProfit    float64
	trailing      bool
	trailingPct   float64
	highWaterMark float64
}

// Decision reports a triggered protective level.
type Decision struct {
	Symbol    string
	Triggered bool
	Reason    string
	Price     float64
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{positions: make(map[string]*guarded)}
}

// Watch begins tracking a position's protective levels.
func (g *Guard) Watch(symbol string, side common.Direction, entry, stopLoss, takeProfit float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[symbol] = &guarded{
		symbol:        symbol,
		side:          side,
		entryPrice:    entry,
		stopLoss:      stopLoss,
		takeProfit:    takeProfit,
		highWaterMark: entry,
	}
}

// EnableTrailing switches a tracked position to trailing-stop mode.
func (g *Guard) EnableTrailing(symbol string, trailPct float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.positions[symbol]; ok {
		p.trailing = true
		p.trailingPct = trailPct
	}
}

// SetLevels replaces the tracked protective levels after a venue-side update.
func (g *Guard) SetLevels(symbol string, takeProfit, stopLoss float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.positions[symbol]; ok {
		if takeProfit > 0 {
			p.takeProfit = takeProfit
		}
		if stopLoss > 0 {
			p.stopLoss = stopLoss
		}
	}
}

// UpdatePrice feeds a fresh price and returns a close decision if a level
// was crossed, nil otherwise.
func (g *Guard) UpdatePrice(symbol string, price float64) *Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.positions[symbol]
	if !ok {
		return nil
	}
	p.currentPrice = price

	if p.trailing {
		if p.side == common.DirectionLong && price > p.highWaterMark {
			p.highWaterMark = price
			p.stopLoss = price * (1 - p.trailingPct)
		} else if p.side == common.DirectionShort && price < p.highWaterMark {
			p.highWaterMark = price
			p.stopLoss = price * (1 + p.trailingPct)
		}
	}

	if p.stopLossHit() {
		return &Decision{
			Symbol: symbol, Triggered: true, Price: price,
			Reason: fmt.Sprintf("stop loss hit at %.4f", price),
		}
	}
	if p.takeProfitHit() {
		return &Decision{
			Symbol: symbol, Triggered: true, Price: price,
			Reason: fmt.Sprintf("take profit hit at %.4f", price),
		}
	}
	return nil
}

func (p *guarded) stopLossHit() bool {
	if p.stopLoss <= 0 {
		return false
	}
	if p.side == common.DirectionLong {
		return p.currentPrice <= p.stopLoss
	}
	return p.currentPrice >= p.stopLoss
}

func (p *guarded) takeProfitHit() bool {
	if p.takeProfit <= 0 {
		return false
	}
	if p.side == common.DirectionLong {
		return p.currentPrice >= p.takeProfit
	}
	return p.currentPrice <= p.takeProfit
}

// Unwatch stops tracking a symbol.
func (g *Guard) Unwatch(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.positions, symbol)
}

// StopLevel returns the current stop loss for a tracked symbol.
func (g *Guard) StopLevel(symbol string) (float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.positions[symbol]
	if !ok {
		return 0, false
	}
	return p.stopLoss, true
}
