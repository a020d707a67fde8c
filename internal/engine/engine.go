// Package engine runs the trading loop: each cycle it refreshes balance,
// monitors held positions against their protective levels, scans symbols for
// fresh signals, ranks them by economics, and routes at most one new entry.
// A cycle failure is logged and the next cycle proceeds; only the shutdown
// protocol stops trading for good.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"apex-core/internal/alpha"
	"apex-core/internal/monitor"
	"apex-core/internal/notify"
	"apex-core/internal/risk"
	"apex-core/internal/router"
	"apex-core/internal/sentinel"
	"apex-core/internal/shutdown"
	"apex-core/internal/state"
	"apex-core/pkg/exchanges/common"
	"apex-core/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes the trading loop.
type Config struct {
	Symbols          []string
	CandleInterval   string
	CandleLimit      int
	CycleInterval    time.Duration
	MaxOpenPositions int
	BookDepth        int
	FetchConcurrency int
	TakerFeeRate     float64 // decimal per side, for realized PnL estimates
}

// Deps are the composed collaborators. All are required except Metrics and
// Protocol, which may be nil in tests.
type Deps struct {
	Venue    common.Venue
	Store    *state.Store
	Sentinel *sentinel.Generator
	Alpha    *alpha.Evaluator
	Router   *router.Router
	Guard    *risk.Guard
	Notifier notify.Notifier
	Metrics  *monitor.Metrics
	Protocol *shutdown.Protocol
}

// ErrShutdownRan rejects a start after the protection protocol has fired.
var ErrShutdownRan = errors.New("shutdown protocol has run, restart the process to resume trading")

// Engine orchestrates one venue's trading loop.
type Engine struct {
	cfg  Config
	deps Deps

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an engine with defaults filled in.
func New(cfg Config, deps Deps) *Engine {
	if cfg.CandleInterval == "" {
		cfg.CandleInterval = "15m"
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 100
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 60 * time.Second
	}
	if cfg.MaxOpenPositions <= 0 {
		cfg.MaxOpenPositions = 3
	}
	if cfg.BookDepth <= 0 {
		cfg.BookDepth = 25
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	return &Engine{cfg: cfg, deps: deps}
}

// Start launches the trading loop. Returns an error when already running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return fmt.Errorf("engine already running")
	}
	// Once positions have been protected for exit there is no safe way back
	// to trading in this process.
	if e.deps.Protocol != nil && e.deps.Protocol.InProgress() {
		return ErrShutdownRan
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	// Positions restored from a previous run need their protective levels
	// re-armed before the first cycle can monitor them.
	for _, pos := range e.deps.Store.Positions() {
		e.deps.Guard.Watch(pos.Symbol, pos.Side, pos.EntryPrice, pos.StopLoss, pos.TakeProfit)
	}

	e.deps.Store.SetStatus(state.StatusRunning)
	logger.Info("trading loop started",
		zap.String("venue", e.deps.Venue.Name()),
		zap.Strings("symbols", e.cfg.Symbols),
		zap.Duration("cycle", e.cfg.CycleInterval))

	go e.loop(loopCtx, e.done)
	return nil
}

// Stop halts the loop without touching venue positions. Blocks until the
// current cycle finishes.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	e.deps.Store.SetStatus(state.StatusStopping)
	cancel()
	<-done
	e.deps.Store.SetStatus(state.StatusIdle)
	logger.Info("trading loop stopped")
}

// CloseAllPositions market-closes every held position at the current mark.
// Returns the number closed and the first error encountered, if any.
func (e *Engine) CloseAllPositions(ctx context.Context) (int, error) {
	var firstErr error
	closed := 0
	for _, pos := range e.deps.Store.Positions() {
		price := pos.CurrentPrice
		if book, err := e.deps.Venue.GetOrderBook(ctx, pos.Symbol, 1); err == nil && book.Mid() > 0 {
			price = book.Mid()
		}
		if price <= 0 {
			price = pos.EntryPrice
		}
		res := e.deps.Router.ClosePosition(ctx, e.deps.Venue, pos.Symbol, 0)
		if !res.Success {
			if firstErr == nil {
				firstErr = fmt.Errorf("close %s: %s", pos.Symbol, res.Message)
			}
			e.deps.Store.RecordError("close", fmt.Sprintf("%s: %s", pos.Symbol, res.Message))
			continue
		}
		realized := pnl(pos.Side, pos.EntryPrice, price, pos.Size)
		fees := price * pos.Size * e.cfg.TakerFeeRate
		if out, ok := e.deps.Store.ClosePosition(pos.ID, realized, fees); ok {
			e.deps.Guard.Unwatch(pos.Symbol)
			e.deps.Notifier.SendPositionClosedAlert(out, "operator close")
			closed++
		}
	}
	return closed, firstErr
}

// Shutdown stops the loop and runs the position-protection protocol.
func (e *Engine) Shutdown(ctx context.Context, reason string) state.ShutdownState {
	e.Stop()
	if e.deps.Protocol == nil {
		return e.deps.Store.Shutdown()
	}
	return e.deps.Protocol.Execute(ctx, e.deps.Venue, reason)
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	e.runCycle(ctx)
	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// runCycle isolates one cycle so a panic in signal math or a venue client
// cannot kill the loop.
func (e *Engine) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.deps.Store.RecordError("cycle", fmt.Sprintf("panic: %v", r))
			logger.Error("cycle panic recovered", zap.Any("panic", r))
		}
	}()
	e.cycle(ctx)
}

// cycle runs one full pass. Never panics the loop; errors are recorded and
// the next cycle starts clean.
func (e *Engine) cycle(ctx context.Context) {
	if e.deps.Store.IsShuttingDown() {
		return
	}
	if e.deps.Metrics != nil {
		timer := monitor.NewTimer(e.deps.Metrics.CycleLatency)
		defer func() {
			timer.Stop()
			e.deps.Metrics.IncrementCycles()
		}()
	}

	e.refreshBalance(ctx)
	e.monitorPositions(ctx)

	if e.deps.Store.OpenCount() >= e.cfg.MaxOpenPositions {
		logger.Debug("at position capacity, monitoring only",
			zap.Int("open", e.deps.Store.OpenCount()))
		return
	}

	signals, books := e.scan(ctx)
	if len(signals) == 0 {
		return
	}

	best, ok := e.deps.Alpha.Apex(signals, books)
	if !ok {
		return
	}
	e.execute(ctx, best)
}

func (e *Engine) refreshBalance(ctx context.Context) {
	balance, err := e.deps.Venue.GetBalance(ctx)
	if err != nil {
		e.deps.Store.RecordError("balance", err.Error())
		return
	}
	e.deps.Store.SetBalance(balance)
}

// scan gathers signals for every symbol without a live position, with
// bounded concurrent fetching. Pending signals from the previous cycle are
// dropped first; no signal outlives its cycle.
func (e *Engine) scan(ctx context.Context) ([]sentinel.Signal, map[string]*common.OrderBook) {
	e.deps.Store.ClearPendingSignals()

	var (
		mu      sync.Mutex
		signals []sentinel.Signal
		books   = make(map[string]*common.OrderBook)
	)
	sem := make(chan struct{}, e.cfg.FetchConcurrency)
	var wg sync.WaitGroup

	for _, symbol := range e.cfg.Symbols {
		if _, held := e.deps.Store.PositionBySymbol(symbol); held {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			candles, err := e.deps.Venue.GetKlines(ctx, symbol, e.cfg.CandleInterval, e.cfg.CandleLimit)
			if err != nil {
				e.deps.Store.RecordError("scan", fmt.Sprintf("%s: candles: %v", symbol, err))
				return
			}
			book, err := e.deps.Venue.GetOrderBook(ctx, symbol, e.cfg.BookDepth)
			if err != nil {
				// The generator degrades without a book; keep going.
				logger.Debug("order book unavailable", zap.String("symbol", symbol), zap.Error(err))
				book = nil
			}
			generated := e.deps.Sentinel.Generate(symbol, candles, book)

			mu.Lock()
			signals = append(signals, generated...)
			if book != nil {
				books[symbol] = book
			}
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	for _, sig := range signals {
		e.deps.Store.RecordSignal(sig)
		if e.deps.Metrics != nil {
			e.deps.Metrics.IncrementSignals()
		}
	}
	return signals, books
}

func (e *Engine) execute(ctx context.Context, best alpha.EvaluatedSignal) {
	var timer *monitor.Timer
	if e.deps.Metrics != nil {
		timer = monitor.NewTimer(e.deps.Metrics.OrderLatency)
	}
	res := e.deps.Router.ExecuteTrade(ctx, e.deps.Venue, best)
	if timer != nil {
		timer.Stop()
	}

	if !res.Success {
		if res.Status == router.StatusError {
			e.deps.Store.RecordError("execute", res.Message)
		} else {
			logger.Info("trade rejected",
				zap.String("symbol", res.Symbol), zap.String("reason", res.Message))
		}
		return
	}

	pos := state.Position{
		ID:         uuid.NewString(),
		Symbol:     res.Symbol,
		Exchange:   res.Exchange,
		Side:       best.Signal.Direction,
		Size:       res.Quantity,
		EntryPrice: res.Price,
		TakeProfit: res.TakeProfit,
		StopLoss:   res.StopLoss,
		SignalID:   best.Signal.ID,
	}
	if res.Sizing != nil {
		pos.Leverage = res.Sizing.Leverage
		pos.Margin = res.Sizing.Capital
	}
	if !e.deps.Store.AddPosition(pos) {
		// The venue holds the position but local state refused it; surface
		// loudly, this needs operator attention.
		e.deps.Store.RecordError("execute",
			fmt.Sprintf("%s: venue position opened but local registration failed", res.Symbol))
		return
	}
	e.deps.Store.MarkSignalExecuted(best.Signal)
	e.deps.Guard.Watch(res.Symbol, best.Signal.Direction, res.Price, res.StopLoss, res.TakeProfit)
	if e.deps.Metrics != nil {
		e.deps.Metrics.IncrementOrders()
	}
	e.deps.Notifier.SendTradeAlert(res)
}

// monitorPositions refreshes marks for held positions and closes any whose
// protective level was crossed.
func (e *Engine) monitorPositions(ctx context.Context) {
	for _, pos := range e.deps.Store.Positions() {
		book, err := e.deps.Venue.GetOrderBook(ctx, pos.Symbol, 1)
		if err != nil {
			e.deps.Store.RecordError("monitor", fmt.Sprintf("%s: book: %v", pos.Symbol, err))
			continue
		}
		price := book.Mid()
		if price <= 0 {
			continue
		}

		unrealized := pnl(pos.Side, pos.EntryPrice, price, pos.Size)
		e.deps.Store.UpdatePosition(pos.ID, func(p *state.Position) {
			p.CurrentPrice = price
			p.UnrealizedPnL = unrealized
		})

		decision := e.deps.Guard.UpdatePrice(pos.Symbol, price)
		if decision == nil || !decision.Triggered {
			continue
		}
		e.closePosition(ctx, pos, price, decision.Reason)
	}
}

func (e *Engine) closePosition(ctx context.Context, pos state.Position, price float64, reason string) {
	res := e.deps.Router.ClosePosition(ctx, e.deps.Venue, pos.Symbol, 0)
	if !res.Success {
		e.deps.Store.RecordError("close", fmt.Sprintf("%s: %s", pos.Symbol, res.Message))
		return
	}

	realized := pnl(pos.Side, pos.EntryPrice, price, pos.Size)
	fees := price * pos.Size * e.cfg.TakerFeeRate
	closed, ok := e.deps.Store.ClosePosition(pos.ID, realized, fees)
	if !ok {
		return
	}
	e.deps.Guard.Unwatch(pos.Symbol)
	e.deps.Notifier.SendPositionClosedAlert(closed, reason)
	logger.Info("position closed",
		zap.String("symbol", pos.Symbol),
		zap.Float64("pnl", realized),
		zap.String("reason", reason))
}

func pnl(side common.Direction, entry, price, size float64) float64 {
	diff := (price - entry) * size
	if side == common.DirectionShort {
		return -diff
	}
	return diff
}
