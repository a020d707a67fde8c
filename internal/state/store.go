// Package state owns all mutable trading state: run status, open positions,
// pending signals, session statistics, and the shutdown record. All
// mutations are serialized behind one mutex; interested parties observe
// changes through the event bus rather than by aliasing internals.
package state

import (
	"context"
	"sync"
	"time"

	"apex-core/internal/events"
	"apex-core/internal/sentinel"
	"apex-core/pkg/db"
	"apex-core/pkg/exchanges/common"
	"apex-core/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the single-writer registry of trading state.
type Store struct {
	mu sync.RWMutex

	status     Status
	positions  map[string]*Position // by position ID
	bySymbol   map[string]string    // symbol -> position ID
	pending    []sentinel.Signal
	stats      SessionStats
	balance    float64
	lastError  string
	errorCount int
	shutdown   ShutdownState

	bus      *events.Bus
	database *db.Database // optional write-through
}

// NewStore creates a store wired to the event bus. database may be nil, in
// which case nothing is persisted.
func NewStore(bus *events.Bus, database *db.Database) *Store {
	return &Store{
		status:    StatusIdle,
		positions: make(map[string]*Position),
		bySymbol:  make(map[string]string),
		stats:     SessionStats{StartedAt: time.Now()},
		bus:       bus,
		database:  database,
	}
}

// Status returns the current run status.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus transitions the run status and emits a status event.
func (s *Store) SetStatus(status Status) {
	s.mu.Lock()
	from := s.status
	s.status = status
	s.mu.Unlock()

	if from != status {
		s.bus.Publish(events.EventStatusChanged, events.StatusChange{
			From: string(from), To: string(status), At: time.Now(),
		})
	}
}

// Restore loads open positions from the database into the store after a
// restart. Returns the number restored.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.database == nil {
		return 0, nil
	}
	rows, err := s.database.OpenPositions(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	restored := 0
	for _, row := range rows {
		if _, exists := s.bySymbol[row.Symbol]; exists {
			continue
		}
		p := &Position{
			ID:         row.ID,
			Symbol:     row.Symbol,
			Exchange:   row.Venue,
			Side:       common.Direction(row.Direction),
			Size:       row.Qty,
			EntryPrice: row.EntryPrice,
			TakeProfit: row.TakeProfit,
			StopLoss:   row.StopLoss,
			Leverage:   row.Leverage,
			Status:     PositionOpen,
			OpenedAt:   row.OpenedAt,
		}
		s.positions[p.ID] = p
		s.bySymbol[p.Symbol] = p.ID
		restored++
	}
	s.mu.Unlock()

	if restored > 0 {
		logger.Info("restored open positions from database", zap.Int("count", restored))
	}
	return restored, nil
}

// AddPosition registers a freshly-opened position. The one-per-symbol
// invariant is enforced here: an existing live position on the same symbol
// is rejected.
func (s *Store) AddPosition(p Position) bool {
	s.mu.Lock()
	if _, exists := s.bySymbol[p.Symbol]; exists {
		s.mu.Unlock()
		logger.Warn("position rejected, symbol already held", zap.String("symbol", p.Symbol))
		return false
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now()
	}
	p.Status = PositionOpen
	s.positions[p.ID] = &p
	s.bySymbol[p.Symbol] = p.ID
	s.mu.Unlock()

	s.persistPosition(p)
	// Entry fill. Fees are accounted on close in this ledger.
	s.persistTrade(db.Trade{
		ID:         uuid.NewString(),
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       string(p.Side),
		Price:      p.EntryPrice,
		Qty:        p.Size,
		Venue:      p.Exchange,
		CreatedAt:  p.OpenedAt,
	})
	s.bus.Publish(events.EventPositionOpened, p)
	return true
}

// UpdatePosition applies a mutation to a live position under the store lock.
func (s *Store) UpdatePosition(id string, fn func(*Position)) bool {
	s.mu.Lock()
	p, ok := s.positions[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	fn(p)
	snapshot := *p
	s.mu.Unlock()

	s.persistPosition(snapshot)
	return true
}

// ClosePosition removes a position from the active set and folds its outcome
// into session stats.
func (s *Store) ClosePosition(id string, realizedPnL, fees float64) (Position, bool) {
	s.mu.Lock()
	p, ok := s.positions[id]
	if !ok {
		s.mu.Unlock()
		return Position{}, false
	}
	p.Status = PositionClosed
	p.ClosedAt = time.Now()
	p.RealizedPnL = realizedPnL
	closed := *p
	delete(s.positions, id)
	delete(s.bySymbol, p.Symbol)

	s.stats.TotalPnL += realizedPnL
	s.stats.TotalFees += fees
	if realizedPnL > 0 {
		s.stats.Successes++
	} else if realizedPnL < 0 {
		s.stats.Failures++
	}
	s.mu.Unlock()

	if s.database != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.database.ClosePosition(ctx, id, realizedPnL); err != nil {
			logger.Error("persist close failed", zap.String("position", id), zap.Error(err))
		}
		day := closed.ClosedAt.UTC().Format("2006-01-02")
		if err := s.database.RecordTradeOutcome(ctx, day, realizedPnL, fees); err != nil {
			logger.Error("persist outcome failed", zap.Error(err))
		}
	}
	s.persistTrade(db.Trade{
		ID:         uuid.NewString(),
		PositionID: id,
		Symbol:     closed.Symbol,
		Side:       string(closed.Side.Opposite()),
		Price:      closePrice(closed, realizedPnL),
		Qty:        closed.Size,
		Fee:        fees,
		Venue:      closed.Exchange,
		CreatedAt:  closed.ClosedAt,
	})
	s.bus.Publish(events.EventPositionClosed, closed)
	return closed, true
}

// closePrice reconstructs the exit price from the realized PnL, since the
// close path reports PnL rather than the fill itself.
func closePrice(p Position, realizedPnL float64) float64 {
	if p.Size <= 0 {
		return p.EntryPrice
	}
	perUnit := realizedPnL / p.Size
	if p.Side == common.DirectionShort {
		return p.EntryPrice - perUnit
	}
	return p.EntryPrice + perUnit
}

// Position returns a copy of a position by ID.
func (s *Store) Position(id string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// PositionBySymbol returns a copy of the live position on symbol, if any.
func (s *Store) PositionBySymbol(symbol string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySymbol[symbol]
	if !ok {
		return Position{}, false
	}
	return *s.positions[id], true
}

// Positions returns copies of all live positions.
func (s *Store) Positions() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out
}

// OpenCount returns the number of live positions.
func (s *Store) OpenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// RecordSignal appends a pending signal and bumps the session counter. The
// signal is also persisted for post-session review.
func (s *Store) RecordSignal(sig sentinel.Signal) {
	s.mu.Lock()
	s.pending = append(s.pending, sig)
	if len(s.pending) > 100 {
		s.pending = s.pending[len(s.pending)-100:]
	}
	s.stats.SignalsGenerated++
	s.mu.Unlock()

	if s.database != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.database.CreateSignal(ctx, db.Signal{
			ID:         sig.ID,
			Symbol:     sig.Symbol,
			Direction:  string(sig.Direction),
			Kind:       string(sig.Kind),
			Confidence: sig.WinProbability,
			CreatedAt:  sig.Timestamp,
		}); err != nil {
			logger.Error("persist signal failed", zap.String("signal", sig.ID), zap.Error(err))
		}
	}
	s.bus.Publish(events.EventSignalGenerated, sig)
}

// MarkSignalExecuted bumps the executed counter and emits the event.
func (s *Store) MarkSignalExecuted(sig sentinel.Signal) {
	s.mu.Lock()
	s.stats.SignalsExecuted++
	s.mu.Unlock()

	if s.database != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.database.MarkSignalExecuted(ctx, sig.ID); err != nil {
			logger.Error("persist signal execution failed", zap.String("signal", sig.ID), zap.Error(err))
		}
	}
	s.bus.Publish(events.EventSignalExecuted, sig)
}

// PendingSignals returns a copy of recent signals, newest last.
func (s *Store) PendingSignals() []sentinel.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]sentinel.Signal, len(s.pending))
	copy(out, s.pending)
	return out
}

// ClearPendingSignals drops the pending list. Called at each cycle boundary;
// no signal outlives the cycle that produced it.
func (s *Store) ClearPendingSignals() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// Stats returns a copy of the session statistics.
func (s *Store) Stats() SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// SetBalance updates the cached wallet balance and drawdown tracking.
func (s *Store) SetBalance(balance float64) {
	s.mu.Lock()
	s.balance = balance
	if balance > s.stats.PeakBalance {
		s.stats.PeakBalance = balance
	}
	if s.stats.PeakBalance > 0 {
		dd := (s.stats.PeakBalance - balance) / s.stats.PeakBalance * 100
		if dd > s.stats.MaxDrawdown {
			s.stats.MaxDrawdown = dd
		}
	}
	s.mu.Unlock()

	s.bus.Publish(events.EventBalanceUpdated, balance)
}

// Balance returns the cached wallet balance.
func (s *Store) Balance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

// RecordError notes the last error for observability. Halting decisions
// belong to the caller, not the store.
func (s *Store) RecordError(scope, msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.errorCount++
	s.mu.Unlock()

	s.bus.Publish(events.EventError, events.ErrorEvent{
		Scope: scope, Message: msg, At: time.Now(),
	})
}

// LastError returns the most recent error message and total error count.
func (s *Store) LastError() (string, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError, s.errorCount
}

// BeginShutdown records the start of the shutdown protocol with a snapshot
// of live positions. The store records whatever it is told; re-entrancy is
// the protocol's concern.
func (s *Store) BeginShutdown(reason string) ShutdownState {
	s.mu.Lock()
	snapshot := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		snapshot = append(snapshot, *p)
	}
	s.shutdown = ShutdownState{
		IsShuttingDown:  true,
		Timestamp:       time.Now(),
		Reason:          reason,
		PositionsBefore: snapshot,
	}
	s.status = StatusShuttingDown
	out := s.shutdown
	s.mu.Unlock()

	s.bus.Publish(events.EventShutdownInitiated, out)
	return out
}

// RecordShutdownUpdate appends one position's protection change.
func (s *Store) RecordShutdownUpdate(change ProtectionChange) {
	s.mu.Lock()
	s.shutdown.PositionsUpdate = append(s.shutdown.PositionsUpdate, change)
	s.mu.Unlock()
}

// RecordShutdownError appends one error entry to the shutdown record.
func (s *Store) RecordShutdownError(msg string) {
	s.mu.Lock()
	s.shutdown.Errors = append(s.shutdown.Errors, msg)
	s.mu.Unlock()
}

// CompleteShutdown marks the shutdown record terminal.
func (s *Store) CompleteShutdown() ShutdownState {
	s.mu.Lock()
	s.shutdown.Complete = true
	s.shutdown.IsShuttingDown = false
	out := s.shutdown
	s.mu.Unlock()

	s.bus.Publish(events.EventShutdownComplete, out)
	return out
}

// Shutdown returns a copy of the current shutdown record.
func (s *Store) Shutdown() ShutdownState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdown
}

// IsShuttingDown reports whether the shutdown protocol has been initiated.
func (s *Store) IsShuttingDown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdown.IsShuttingDown
}

func (s *Store) persistPosition(p Position) {
	if s.database == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	row := db.Position{
		ID:         p.ID,
		Symbol:     p.Symbol,
		Direction:  string(p.Side),
		Qty:        p.Size,
		EntryPrice: p.EntryPrice,
		TakeProfit: p.TakeProfit,
		StopLoss:   p.StopLoss,
		Leverage:   p.Leverage,
		Venue:      p.Exchange,
		Status:     "OPEN",
		OpenedAt:   p.OpenedAt,
	}
	if err := s.database.UpsertPosition(ctx, row); err != nil {
		logger.Error("persist position failed", zap.String("position", p.ID), zap.Error(err))
	}
}

func (s *Store) persistTrade(t db.Trade) {
	if s.database == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.database.CreateTrade(ctx, t); err != nil {
		logger.Error("persist trade failed", zap.String("position", t.PositionID), zap.Error(err))
	}
}
