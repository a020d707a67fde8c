// Package router is the single choke-point for order placement: it computes
// risk physics, validates against capital and venue constraints, rounds to
// instrument precision, and maps venue responses into a uniform result.
// Validation failures are REJECTED without touching the venue; venue
// failures come back as ERROR, never as a raw error to the caller.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"apex-core/internal/alpha"
	"apex-core/internal/risk"
	"apex-core/pkg/exchanges/common"
	"apex-core/pkg/logger"
	"apex-core/pkg/marketmath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes the router.
type Config struct {
	MinCapital float64 // reject trades when the venue balance is below this
}

// Router executes trades against a selected venue.
type Router struct {
	cfg       Config
	physics   *risk.Physics
	precision *precisionCache
}

// New creates a router around the given risk sizer.
func New(cfg Config, physics *risk.Physics) *Router {
	return &Router{cfg: cfg, physics: physics, precision: newPrecisionCache()}
}

// ExecuteTrade runs the full pipeline for an evaluated signal: risk physics,
// validation, precision rounding, leverage setup, and submission.
func (r *Router) ExecuteTrade(ctx context.Context, venue common.Venue, es alpha.EvaluatedSignal) Result {
	sig := es.Signal
	exchange := venue.Name()

	levels, err := r.physics.ComputeLevels(sig.CurrentPrice, sig.ATR, sig.Direction)
	if err != nil {
		return rejected(exchange, sig.Symbol, fmt.Sprintf("risk levels: %v", err))
	}

	info := r.precision.get(ctx, venue, sig.Symbol)

	sizing, err := r.physics.ComputeSizing(levels.Entry, levels.StopLoss, info.QtyStep)
	if err != nil {
		return rejected(exchange, sig.Symbol, fmt.Sprintf("sizing: %v", err))
	}
	validation := r.physics.Validate(levels, sizing)
	if !validation.Valid {
		return rejected(exchange, sig.Symbol, validation.Reason)
	}
	for _, w := range validation.Warnings {
		logger.Warn("trade validation warning",
			zap.String("symbol", sig.Symbol), zap.String("warning", w))
	}

	if sizing.Quantity <= 0 {
		return rejected(exchange, sig.Symbol, "quantity rounds to zero at venue step")
	}
	notional := sizing.Quantity * levels.Entry
	if info.MinNotional > 0 && notional < info.MinNotional {
		return rejected(exchange, sig.Symbol,
			fmt.Sprintf("notional %.4f below venue minimum %.4f", notional, info.MinNotional))
	}

	balance, err := venue.GetBalance(ctx)
	if err != nil {
		return errored(exchange, sig.Symbol, fmt.Sprintf("balance: %v", err))
	}
	if r.cfg.MinCapital > 0 && balance < r.cfg.MinCapital {
		return rejected(exchange, sig.Symbol,
			fmt.Sprintf("balance %.2f below capital floor %.2f", balance, r.cfg.MinCapital))
	}

	tp, err := marketmath.RoundToTick(levels.TakeProfit, info.TickSize)
	if err != nil {
		return rejected(exchange, sig.Symbol, fmt.Sprintf("tp rounding: %v", err))
	}
	sl, err := marketmath.RoundToTick(levels.StopLoss, info.TickSize)
	if err != nil {
		return rejected(exchange, sig.Symbol, fmt.Sprintf("sl rounding: %v", err))
	}
	levels.TakeProfit, levels.StopLoss = tp, sl

	// Venue leverage must be in place before submission; a failure here
	// aborts the attempt.
	if err := venue.SetLeverage(ctx, sig.Symbol, sizing.Leverage); err != nil {
		return errored(exchange, sig.Symbol, fmt.Sprintf("set leverage: %v", err))
	}

	req := common.OrderRequest{
		Symbol:     sig.Symbol,
		Side:       common.EntrySide(sig.Direction),
		Type:       common.OrderTypeMarket,
		Qty:        sizing.Quantity,
		TakeProfit: tp,
		StopLoss:   sl,
		ClientID:   "apex-" + uuid.NewString()[:18],
	}
	ack, err := venue.PlaceOrder(ctx, req)
	if err != nil {
		return errored(exchange, sig.Symbol, fmt.Sprintf("place order: %v", err))
	}

	logger.Info("order placed",
		zap.String("venue", exchange),
		zap.String("symbol", sig.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("qty", req.Qty),
		zap.Float64("tp", tp),
		zap.Float64("sl", sl),
		zap.String("order_id", ack.OrderID))

	return Result{
		Success:    true,
		Exchange:   exchange,
		Symbol:     sig.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Qty,
		Price:      levels.Entry,
		TakeProfit: tp,
		StopLoss:   sl,
		OrderID:    ack.OrderID,
		Status:     ack.Status,
		Levels:     &levels,
		Sizing:     &sizing,
		Timestamp:  time.Now(),
	}
}

// ClosePosition closes the venue's live position on symbol with an
// opposite-side reduce-only market order. qty <= 0 closes the full size.
func (r *Router) ClosePosition(ctx context.Context, venue common.Venue, symbol string, qty float64) Result {
	exchange := venue.Name()

	positions, err := venue.GetPositions(ctx, symbol)
	if err != nil {
		return errored(exchange, symbol, fmt.Sprintf("get positions: %v", err))
	}
	var live *common.VenuePosition
	for i := range positions {
		if positions[i].Symbol == symbol && positions[i].Size > 0 {
			live = &positions[i]
			break
		}
	}
	if live == nil {
		return rejected(exchange, symbol, "no live position to close")
	}

	closeQty := live.Size
	if qty > 0 && qty < live.Size {
		closeQty = qty
	}

	req := common.OrderRequest{
		Symbol:     symbol,
		Side:       common.EntrySide(live.Side.Opposite()),
		Type:       common.OrderTypeMarket,
		Qty:        closeQty,
		ReduceOnly: true,
	}
	ack, err := venue.PlaceOrder(ctx, req)
	if err != nil {
		return errored(exchange, symbol, fmt.Sprintf("close order: %v", err))
	}

	logger.Info("position close submitted",
		zap.String("venue", exchange), zap.String("symbol", symbol), zap.Float64("qty", closeQty))

	return Result{
		Success:   true,
		Exchange:  exchange,
		Symbol:    symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  closeQty,
		OrderID:   ack.OrderID,
		Status:    ack.Status,
		Timestamp: time.Now(),
	}
}

// UpdateProtection pushes new TP/SL for a live position. Venues without
// native position-level stops report NOT_SUPPORTED; that is a declared
// capability gap, not a failure to hide.
func (r *Router) UpdateProtection(ctx context.Context, venue common.Venue, symbol string, takeProfit, stopLoss float64) Result {
	exchange := venue.Name()

	info := r.precision.get(ctx, venue, symbol)
	tp, sl := takeProfit, stopLoss
	if tp > 0 {
		if rounded, err := marketmath.RoundToTick(tp, info.TickSize); err == nil {
			tp = rounded
		}
	}
	if sl > 0 {
		if rounded, err := marketmath.RoundToTick(sl, info.TickSize); err == nil {
			sl = rounded
		}
	}

	err := venue.SetTradingStop(ctx, symbol, tp, sl)
	switch {
	case errors.Is(err, common.ErrNotSupported):
		return Result{
			Exchange: exchange, Symbol: symbol,
			Status:    StatusNotSupported,
			Message:   "venue does not support position-level TP/SL updates",
			Timestamp: time.Now(),
		}
	case err != nil:
		return errored(exchange, symbol, fmt.Sprintf("set trading stop: %v", err))
	}

	return Result{
		Success:    true,
		Exchange:   exchange,
		Symbol:     symbol,
		TakeProfit: tp,
		StopLoss:   sl,
		Status:     "UPDATED",
		Timestamp:  time.Now(),
	}
}
