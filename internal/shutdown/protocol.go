// Package shutdown implements the position-protection protocol that runs
// when the process must stop: it freezes trading, re-derives protective
// levels from fresh volatility, and pushes them to the venue so positions
// stay guarded after the process exits. It favors partial success over
// all-or-nothing atomicity.
package shutdown

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"apex-core/internal/notify"
	"apex-core/internal/risk"
	"apex-core/internal/router"
	"apex-core/internal/state"
	"apex-core/pkg/db"
	"apex-core/pkg/exchanges/common"
	"apex-core/pkg/logger"
	"apex-core/pkg/marketmath"

	"go.uber.org/zap"
)

// Config tunes the protocol.
type Config struct {
	RetryAttempts  int           // bounded retries for venue calls, default 3
	RetryDelay     time.Duration // fixed delay between attempts, default 1s
	CandleInterval string        // interval for the fresh ATR window
	CandleLimit    int           // default 50
	ATRPeriod      int           // default 14
	MaxConcurrent  int           // per-position fan-out bound, default 4
	// Relative change (percent) above which a recomputed level replaces the
	// existing one.
	UpdateThresholdPct float64
}

// Protocol orchestrates the shutdown sequence. Safe for concurrent
// triggering; only the first caller runs the sequence.
type Protocol struct {
	cfg      Config
	store    *state.Store
	router   *router.Router
	physics  *risk.Physics
	notifier notify.Notifier
	database *db.Database // optional

	running atomic.Bool
}

// New creates a protocol with defaults filled in.
func New(cfg Config, store *state.Store, r *router.Router, physics *risk.Physics, notifier notify.Notifier, database *db.Database) *Protocol {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.CandleInterval == "" {
		cfg.CandleInterval = "15m"
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 50
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.UpdateThresholdPct <= 0 {
		cfg.UpdateThresholdPct = 1.0
	}
	return &Protocol{
		cfg: cfg, store: store, router: r, physics: physics,
		notifier: notifier, database: database,
	}
}

// InProgress reports whether the protocol has been triggered.
func (p *Protocol) InProgress() bool { return p.running.Load() }

// Execute runs the full protection sequence once per process lifetime.
// Subsequent calls return the current shutdown record without side effects.
func (p *Protocol) Execute(ctx context.Context, venue common.Venue, reason string) state.ShutdownState {
	if !p.running.CompareAndSwap(false, true) {
		logger.Warn("shutdown already in progress", zap.String("reason", reason))
		return p.store.Shutdown()
	}

	logger.Info("shutdown protocol initiated", zap.String("reason", reason))
	snapshot := p.store.BeginShutdown(reason)

	var eventID int64
	if p.database != nil {
		dbCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		id, err := p.database.BeginShutdownEvent(dbCtx, reason, len(snapshot.PositionsBefore))
		cancel()
		if err != nil {
			logger.Error("record shutdown event failed", zap.Error(err))
		}
		eventID = id
	}

	positions := p.fetchPositions(ctx, venue, snapshot)
	p.protectAll(ctx, venue, positions)

	final := p.store.CompleteShutdown()
	p.notifier.SendShutdownAlert(final)

	if p.database != nil && eventID != 0 {
		dbCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := p.database.FinishShutdownEvent(dbCtx, eventID, len(final.PositionsUpdate), len(final.Errors)); err != nil {
			logger.Error("finish shutdown event failed", zap.Error(err))
		}
		cancel()
	}

	logger.Info("shutdown protocol complete",
		zap.Int("positions", len(positions)),
		zap.Int("updated", len(final.PositionsUpdate)),
		zap.Int("errors", len(final.Errors)))
	return final
}

// fetchPositions pulls the authoritative live positions from the venue with
// bounded retry, falling back to the local snapshot when the venue cannot be
// reached. Degraded data beats no action.
func (p *Protocol) fetchPositions(ctx context.Context, venue common.Venue, snapshot state.ShutdownState) []common.VenuePosition {
	var positions []common.VenuePosition
	err := p.withRetry(ctx, "fetch positions", func() error {
		var ferr error
		positions, ferr = venue.GetPositions(ctx, "")
		return ferr
	})
	if err == nil {
		return positions
	}

	p.store.RecordShutdownError(fmt.Sprintf("fetch positions: %v; using cached set", err))
	logger.Error("venue position fetch exhausted retries, using cached positions", zap.Error(err))

	cached := make([]common.VenuePosition, 0, len(snapshot.PositionsBefore))
	for _, pos := range snapshot.PositionsBefore {
		cached = append(cached, common.VenuePosition{
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			Size:       pos.Size,
			EntryPrice: pos.EntryPrice,
			TakeProfit: pos.TakeProfit,
			StopLoss:   pos.StopLoss,
		})
	}
	return cached
}

// protectAll re-evaluates every position independently with bounded
// concurrency. One symbol's failure never aborts the others.
func (p *Protocol) protectAll(ctx context.Context, venue common.Venue, positions []common.VenuePosition) {
	sem := make(chan struct{}, p.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for _, pos := range positions {
		wg.Add(1)
		sem <- struct{}{}
		go func(pos common.VenuePosition) {
			defer wg.Done()
			defer func() { <-sem }()
			p.protectOne(ctx, venue, pos)
		}(pos)
	}
	wg.Wait()
}

func (p *Protocol) protectOne(ctx context.Context, venue common.Venue, pos common.VenuePosition) {
	candles, err := venue.GetKlines(ctx, pos.Symbol, p.cfg.CandleInterval, p.cfg.CandleLimit)
	if err != nil {
		p.store.RecordShutdownError(fmt.Sprintf("%s: fetch candles: %v", pos.Symbol, err))
		return
	}
	atr, err := marketmath.ATR(candles, p.cfg.ATRPeriod)
	if err != nil {
		p.store.RecordShutdownError(fmt.Sprintf("%s: atr: %v", pos.Symbol, err))
		return
	}

	price := pos.MarkPrice
	if price <= 0 {
		price = candles[len(candles)-1].Close
	}
	levels, err := p.physics.ComputeLevels(price, atr, pos.Side)
	if err != nil {
		p.store.RecordShutdownError(fmt.Sprintf("%s: levels: %v", pos.Symbol, err))
		return
	}

	if !needsUpdate(pos.TakeProfit, levels.TakeProfit, p.cfg.UpdateThresholdPct) &&
		!needsUpdate(pos.StopLoss, levels.StopLoss, p.cfg.UpdateThresholdPct) {
		logger.Info("protection already current", zap.String("symbol", pos.Symbol))
		return
	}

	var res router.Result
	err = p.withRetry(ctx, "push protection "+pos.Symbol, func() error {
		res = p.router.UpdateProtection(ctx, venue, pos.Symbol, levels.TakeProfit, levels.StopLoss)
		if res.Status == router.StatusNotSupported {
			// Retrying will not grow the capability.
			return nil
		}
		if !res.Success {
			return fmt.Errorf("%s", res.Message)
		}
		return nil
	})
	switch {
	case err != nil:
		p.store.RecordShutdownError(fmt.Sprintf("%s: push protection: %v", pos.Symbol, err))
	case res.Status == router.StatusNotSupported:
		p.store.RecordShutdownError(fmt.Sprintf("%s: venue cannot update position protection", pos.Symbol))
	default:
		p.store.RecordShutdownUpdate(state.ProtectionChange{
			Symbol:        pos.Symbol,
			OldTakeProfit: pos.TakeProfit,
			OldStopLoss:   pos.StopLoss,
			NewTakeProfit: res.TakeProfit,
			NewStopLoss:   res.StopLoss,
		})
		logger.Info("protection re-anchored",
			zap.String("symbol", pos.Symbol),
			zap.Float64("tp", res.TakeProfit),
			zap.Float64("sl", res.StopLoss))
	}
}

// needsUpdate reports whether the recomputed level differs from the current
// one by more than the relative threshold. A missing current level always
// needs anchoring.
func needsUpdate(current, proposed, thresholdPct float64) bool {
	if proposed <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	return math.Abs(proposed-current)/current*100 > thresholdPct
}

// withRetry runs fn up to the configured attempts with a fixed delay,
// stopping early when ctx is done.
func (p *Protocol) withRetry(ctx context.Context, what string, fn func() error) error {
	var last error
	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		if last = fn(); last == nil {
			return nil
		}
		logger.Warn("retryable operation failed",
			zap.String("op", what), zap.Int("attempt", attempt), zap.Error(last))
		if attempt == p.cfg.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(p.cfg.RetryDelay):
		}
	}
	return last
}
