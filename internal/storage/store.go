package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"

	"crypto_core/internal/domain"
)

// TradeStore handles persistent storage of orders, trades, positions and the
// event journal in SQLite.
type TradeStore struct {
	db *sql.DB
}

// NewTradeStore opens (or creates) the SQLite trade store with WAL mode enabled.
func NewTradeStore(dbPath string) (*TradeStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Configure SQLite for durable single-writer logging
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schemas := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			pair TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			volume TEXT NOT NULL,
			price TEXT NOT NULL,
			filled_volume TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			pair TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			volume TEXT NOT NULL,
			fee TEXT NOT NULL,
			ts INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			pair TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			volume TEXT NOT NULL,
			status TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			opened_at INTEGER NOT NULL,
			closed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			message TEXT NOT NULL,
			severity TEXT NOT NULL,
			ts INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	}
	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &TradeStore{db: db}, nil
}

// Close closes the database.
func (s *TradeStore) Close() error {
	return s.db.Close()
}

// LogOrder inserts or updates an order row.
func (s *TradeStore) LogOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, pair, side, type, volume, price, filled_volume, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filled_volume=excluded.filled_volume,
			status=excluded.status,
			updated_at=excluded.updated_at`,
		o.ID, o.Pair, string(o.Side), string(o.Type),
		o.Volume.String(), o.Price.String(), o.FilledVolume.String(),
		string(o.Status), o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to log order %s: %w", o.ID, err)
	}
	return nil
}

// LogTrade appends one fill.
func (s *TradeStore) LogTrade(ctx context.Context, t *domain.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (order_id, pair, side, price, volume, fee, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.OrderID, t.Pair, string(t.Side),
		t.Price.String(), t.Volume.String(), t.Fee.String(),
		t.Time.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to log trade: %w", err)
	}
	return nil
}

// LogPosition inserts or updates a position row.
func (s *TradeStore) LogPosition(ctx context.Context, p *domain.Position) error {
	var closedAt any
	if !p.ClosedAt.IsZero() {
		closedAt = p.ClosedAt.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (id, pair, side, entry_price, volume, status, realized_pnl, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			volume=excluded.volume,
			status=excluded.status,
			realized_pnl=excluded.realized_pnl,
			closed_at=excluded.closed_at`,
		p.ID, p.Pair, string(p.Side),
		p.EntryPrice.String(), p.Volume.String(), string(p.Status),
		p.RealizedPnL.String(), p.OpenedAt.UnixMilli(), closedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to log position %s: %w", p.ID, err)
	}
	return nil
}

// LogEvent appends one row to the event journal.
func (s *TradeStore) LogEvent(ctx context.Context, eventType, message, severity string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (type, message, severity, ts) VALUES (?, ?, ?, ?)`,
		eventType, message, severity, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}
	return nil
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *TradeStore) UpsertMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	return err
}

// GetMetadata retrieves a value from the metadata table.
// Missing keys return an empty string, not an error.
func (s *TradeStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// PerformanceMetrics summarizes closed-position results.
type PerformanceMetrics struct {
	TradeCount    int             `json:"trade_count"`
	ClosedCount   int             `json:"closed_count"`
	WinCount      int             `json:"win_count"`
	WinRate       decimal.Decimal `json:"win_rate"` // 0 when no closed positions
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	OpenPositions int             `json:"open_positions"`
}

// GetPerformanceMetrics aggregates lifetime results from the store.
func (s *TradeStore) GetPerformanceMetrics(ctx context.Context) (*PerformanceMetrics, error) {
	out := &PerformanceMetrics{
		WinRate:     decimal.Zero,
		RealizedPnL: decimal.Zero,
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trades").Scan(&out.TradeCount); err != nil {
		return nil, fmt.Errorf("count trades: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM positions WHERE status = ?", string(domain.PositionOpen),
	).Scan(&out.OpenPositions); err != nil {
		return nil, fmt.Errorf("count open positions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT realized_pnl FROM positions WHERE status = ?", string(domain.PositionClosed))
	if err != nil {
		return nil, fmt.Errorf("query closed positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		pnl, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse realized pnl %q: %w", raw, err)
		}
		out.ClosedCount++
		if pnl.Sign() > 0 {
			out.WinCount++
		}
		out.RealizedPnL = out.RealizedPnL.Add(pnl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if out.ClosedCount > 0 {
		out.WinRate = decimal.NewFromInt(int64(out.WinCount)).
			Div(decimal.NewFromInt(int64(out.ClosedCount)))
	}
	return out, nil
}

// OpenOrders returns all orders still active on the venue.
func (s *TradeStore) OpenOrders(ctx context.Context) ([]*domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pair, side, type, volume, price, filled_volume, status, created_at, updated_at
		FROM orders WHERE status IN (?, ?, ?)`,
		string(domain.OrderNew), string(domain.OrderOpen), string(domain.OrderPartiallyFilled))
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		var o domain.Order
		var side, otype, status string
		var volume, price, filled string
		var created, updated int64
		if err := rows.Scan(&o.ID, &o.Pair, &side, &otype, &volume, &price, &filled, &status, &created, &updated); err != nil {
			return nil, err
		}
		o.Side = domain.OrderSide(side)
		o.Type = domain.OrderType(otype)
		o.Status = domain.OrderStatus(status)
		if o.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, err
		}
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if o.FilledVolume, err = decimal.NewFromString(filled); err != nil {
			return nil, err
		}
		o.CreatedAt = time.UnixMilli(created)
		o.UpdatedAt = time.UnixMilli(updated)
		out = append(out, &o)
	}
	return out, rows.Err()
}
