package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, ApplyMigrations(database))
	return database
}

func TestPositionLifecycle(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	p := Position{
		ID:         "pos-1",
		Symbol:     "BTCUSDT",
		Direction:  "LONG",
		Qty:        0.01,
		EntryPrice: 50000,
		TakeProfit: 50200,
		StopLoss:   49850,
		Leverage:   2,
		Venue:      "bybit",
		Status:     "OPEN",
	}
	require.NoError(t, d.UpsertPosition(ctx, p))

	open, err := d.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "pos-1", open[0].ID)
	assert.Equal(t, 50200.0, open[0].TakeProfit)

	// Upsert with updated protection levels replaces, not duplicates.
	p.TakeProfit = 50500
	require.NoError(t, d.UpsertPosition(ctx, p))
	got, err := d.GetPosition(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, 50500.0, got.TakeProfit)

	require.NoError(t, d.ClosePosition(ctx, "pos-1", 12.5))
	open, err = d.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	got, err = d.GetPosition(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, "CLOSED", got.Status)
	assert.Equal(t, 12.5, got.RealizedPnL)
	assert.True(t, got.ClosedAt.Valid)
}

func TestClosePositionTwice(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.UpsertPosition(ctx, Position{
		ID: "pos-2", Symbol: "ETHUSDT", Direction: "SHORT",
		Qty: 0.5, EntryPrice: 3000, Venue: "mexc", Status: "OPEN",
	}))
	require.NoError(t, d.ClosePosition(ctx, "pos-2", -4.2))
	assert.ErrorIs(t, d.ClosePosition(ctx, "pos-2", 0), sql.ErrNoRows)
}

func TestSessionStatsAccumulate(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	day := "2026-08-23"

	require.NoError(t, d.RecordTradeOutcome(ctx, day, 10.0, 0.3))
	require.NoError(t, d.RecordTradeOutcome(ctx, day, -4.0, 0.2))
	require.NoError(t, d.RecordTradeOutcome(ctx, day, 6.0, 0.1))

	s, err := d.GetSessionStats(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 12.0, s.RealizedPnL, 1e-9)
	assert.InDelta(t, 0.6, s.FeesPaid, 1e-9)
}

func TestSessionStatsMissingDay(t *testing.T) {
	d := newTestDB(t)
	s, err := d.GetSessionStats(context.Background(), "2026-01-01")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Trades)
	assert.Equal(t, "2026-01-01", s.Date)
}

func TestShutdownEventRoundTrip(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	id, err := d.BeginShutdownEvent(ctx, "SIGTERM", 3)
	require.NoError(t, err)
	require.NoError(t, d.FinishShutdownEvent(ctx, id, 2, 1))

	var ev ShutdownEvent
	err = d.DB.QueryRowContext(ctx, `
		SELECT id, reason, positions_open, updates_pushed, failures, started_at, finished_at
		FROM shutdown_events WHERE id = ?
	`, id).Scan(&ev.ID, &ev.Reason, &ev.PositionsOpen, &ev.UpdatesPushed,
		&ev.Failures, &ev.StartedAt, &ev.FinishedAt)
	require.NoError(t, err)
	assert.Equal(t, "SIGTERM", ev.Reason)
	assert.Equal(t, 2, ev.UpdatesPushed)
	assert.Equal(t, 1, ev.Failures)
	assert.True(t, ev.FinishedAt.Valid)
}

func TestSignalRecording(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.CreateSignal(ctx, Signal{
		ID: "sig-1", Symbol: "BTCUSDT", Direction: "LONG",
		Kind: "regime", Confidence: 0.7, EVScore: 1.2, Kelly: 0.15,
	}))
	require.NoError(t, d.MarkSignalExecuted(ctx, "sig-1"))

	var executed bool
	err := d.DB.QueryRowContext(ctx, `SELECT executed FROM signals WHERE id = 'sig-1'`).Scan(&executed)
	require.NoError(t, err)
	assert.True(t, executed)
}
