package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpsertPosition inserts or replaces a position row.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (
			id, symbol, direction, qty, entry_price, take_profit, stop_loss,
			leverage, venue, status, opened_at, closed_at, realized_pnl
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			qty=excluded.qty,
			take_profit=excluded.take_profit,
			stop_loss=excluded.stop_loss,
			status=excluded.status,
			closed_at=excluded.closed_at,
			realized_pnl=excluded.realized_pnl
	`,
		p.ID, p.Symbol, p.Direction, p.Qty, p.EntryPrice, p.TakeProfit, p.StopLoss,
		p.Leverage, p.Venue, p.Status, nullTime(p.OpenedAt), p.ClosedAt, p.RealizedPnL,
	)
	return err
}

// GetPosition fetches a position by ID.
func (d *Database) GetPosition(ctx context.Context, id string) (Position, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, symbol, direction, qty, entry_price, take_profit, stop_loss,
		       leverage, venue, status, opened_at, closed_at, realized_pnl
		FROM positions WHERE id = ?
	`, id)
	return scanPosition(row)
}

// OpenPositions returns all positions whose status is OPEN.
func (d *Database) OpenPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, direction, qty, entry_price, take_profit, stop_loss,
		       leverage, venue, status, opened_at, closed_at, realized_pnl
		FROM positions WHERE status = 'OPEN' ORDER BY opened_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentPositions returns the newest positions regardless of status, for the
// history view.
func (d *Database) RecentPositions(ctx context.Context, limit int) ([]Position, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, direction, qty, entry_price, take_profit, stop_loss,
		       leverage, venue, status, opened_at, closed_at, realized_pnl
		FROM positions ORDER BY opened_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClosePosition marks a position closed with its realized PnL.
func (d *Database) ClosePosition(ctx context.Context, id string, realizedPnL float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE positions SET status='CLOSED', closed_at=CURRENT_TIMESTAMP, realized_pnl=?
		WHERE id = ? AND status = 'OPEN'
	`, realizedPnL, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateTrade inserts a fill record.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, position_id, symbol, side, price, qty, fee, venue, order_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, t.ID, t.PositionID, t.Symbol, t.Side, t.Price, t.Qty, t.Fee, t.Venue, t.OrderID, nullTime(t.CreatedAt))
	return err
}

// TradesForPosition returns fills attached to a position in insertion order.
func (d *Database) TradesForPosition(ctx context.Context, positionID string) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, position_id, symbol, side, price, qty, fee, venue, order_id, created_at
		FROM trades WHERE position_id = ? ORDER BY rowid
	`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.PositionID, &t.Symbol, &t.Side, &t.Price,
			&t.Qty, &t.Fee, &t.Venue, &t.OrderID, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateSignal inserts a signal record.
func (d *Database) CreateSignal(ctx context.Context, s Signal) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signals (id, symbol, direction, kind, confidence, ev_score, kelly, executed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, s.ID, s.Symbol, s.Direction, s.Kind, s.Confidence, s.EVScore, s.Kelly, s.Executed, nullTime(s.CreatedAt))
	return err
}

// MarkSignalExecuted flags a signal as converted into an order.
func (d *Database) MarkSignalExecuted(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE signals SET executed = 1 WHERE id = ?`, id)
	return err
}

// RecordTradeOutcome folds one closed trade into today's session stats.
func (d *Database) RecordTradeOutcome(ctx context.Context, day string, pnl, fees float64) error {
	win, loss := 0, 0
	if pnl > 0 {
		win = 1
	} else if pnl < 0 {
		loss = 1
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO session_stats (date, trades, wins, losses, realized_pnl, fees_paid)
		VALUES (?, 1, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			trades = trades + 1,
			wins = wins + excluded.wins,
			losses = losses + excluded.losses,
			realized_pnl = realized_pnl + excluded.realized_pnl,
			fees_paid = fees_paid + excluded.fees_paid
	`, day, win, loss, pnl, fees)
	return err
}

// GetSessionStats returns the stats row for a day; zero row if absent.
func (d *Database) GetSessionStats(ctx context.Context, day string) (SessionStats, error) {
	var s SessionStats
	err := d.DB.QueryRowContext(ctx, `
		SELECT date, trades, wins, losses, realized_pnl, fees_paid
		FROM session_stats WHERE date = ?
	`, day).Scan(&s.Date, &s.Trades, &s.Wins, &s.Losses, &s.RealizedPnL, &s.FeesPaid)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionStats{Date: day}, nil
	}
	return s, err
}

// BeginShutdownEvent records the start of a shutdown run and returns its ID.
func (d *Database) BeginShutdownEvent(ctx context.Context, reason string, positionsOpen int) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO shutdown_events (reason, positions_open) VALUES (?, ?)
	`, reason, positionsOpen)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishShutdownEvent closes out a shutdown record.
func (d *Database) FinishShutdownEvent(ctx context.Context, id int64, updatesPushed, failures int) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE shutdown_events SET updates_pushed=?, failures=?, finished_at=CURRENT_TIMESTAMP
		WHERE id = ?
	`, updatesPushed, failures, id)
	return err
}

// CreateUser inserts an operator account.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES (?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, u.ID, u.Email, u.PasswordHash, nullTime(u.CreatedAt))
	return err
}

// GetUserByEmail returns the account for an email, or nil when none exists.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (Position, error) {
	var p Position
	err := row.Scan(&p.ID, &p.Symbol, &p.Direction, &p.Qty, &p.EntryPrice,
		&p.TakeProfit, &p.StopLoss, &p.Leverage, &p.Venue, &p.Status,
		&p.OpenedAt, &p.ClosedAt, &p.RealizedPnL)
	return p, err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
