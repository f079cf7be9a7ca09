package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/defoss123-ai/bot13/internal/journal"
)

// Default is the Postgres-backed Storage implementation.
type Default struct {
	db *sql.DB
}

// New opens a Postgres connection pool and seeds default settings.
func New(connStr string, maxOpen, maxIdle int) (*Default, error) {
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpen > 0 {
		conn.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		conn.SetMaxIdleConns(maxIdle)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &Default{db: conn}
	if err := d.seedDefaultSettings(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// NewWithDB wraps an existing connection (used by tests).
func NewWithDB(conn *sql.DB) *Default {
	return &Default{db: conn}
}

func (d *Default) Close() error {
	return d.db.Close()
}

func (d *Default) seedDefaultSettings(ctx context.Context) error {
	for key, value := range DefaultSettings {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO NOTHING`, key, value)
		if err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}
	return nil
}

// executeWithTransaction runs fn inside a transaction with commit/rollback
// handling.
func (d *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}
	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

// -------- settings --------

func (d *Default) GetSetting(ctx context.Context, key, def string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

func (d *Default) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// -------- pairs --------

func (d *Default) ListPairs(ctx context.Context) ([]Pair, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT symbol, leverage, tp_pct, sl_pct, enabled, cooldown_sec
		FROM pairs ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pairs: %w", err)
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.Symbol, &p.Leverage, &p.TPPct, &p.SLPct, &p.Enabled, &p.CooldownSec); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (d *Default) UpsertPair(ctx context.Context, p Pair) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO pairs (symbol, leverage, tp_pct, sl_pct, enabled, cooldown_sec)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (symbol) DO UPDATE SET
			leverage = EXCLUDED.leverage,
			tp_pct = EXCLUDED.tp_pct,
			sl_pct = EXCLUDED.sl_pct,
			enabled = EXCLUDED.enabled,
			cooldown_sec = EXCLUDED.cooldown_sec`,
		p.Symbol, p.Leverage, p.TPPct, p.SLPct, p.Enabled, p.CooldownSec)
	if err != nil {
		return fmt.Errorf("failed to upsert pair %s: %w", p.Symbol, err)
	}
	return nil
}

func (d *Default) DeletePair(ctx context.Context, symbol string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM pairs WHERE symbol = $1`, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete pair %s: %w", symbol, err)
	}
	return nil
}

// -------- trades --------

func (d *Default) InsertTrade(ctx context.Context, t Trade) (int64, error) {
	var id int64
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO trades (ts, symbol, side, qty, entry, exit, pnl, mode, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		t.Ts, t.Symbol, t.Side, t.Qty, t.Entry, t.Exit, t.PnL, t.Mode, t.Reason).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for %s: %w", t.Symbol, err)
	}
	return id, nil
}

func (d *Default) ListTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, ts, symbol, side, qty, entry, exit, pnl, mode, reason
		FROM trades ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.Ts, &t.Symbol, &t.Side, &t.Qty, &t.Entry, &t.Exit, &t.PnL, &t.Mode, &t.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// -------- orders --------

func (d *Default) InsertOrder(ctx context.Context, o Order) (int64, error) {
	if o.Ts.IsZero() {
		o.Ts = time.Now().UTC()
	}
	var id int64
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO orders (ts, symbol, kind, order_id, status, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		o.Ts, o.Symbol, o.Kind, o.OrderID, o.Status, o.MetaJSON).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order %s: %w", o.OrderID, err)
	}
	return id, nil
}

func (d *Default) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE orders SET status = $1 WHERE order_id = $2`, status, orderID)
	if err != nil {
		return fmt.Errorf("failed to update order %s status: %w", orderID, err)
	}
	return nil
}

func (d *Default) ListOpenOrders(ctx context.Context) ([]Order, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, ts, symbol, kind, order_id, status, meta_json
		FROM orders WHERE status NOT IN ('closed', 'canceled') ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.Ts, &o.Symbol, &o.Kind, &o.OrderID, &o.Status, &o.MetaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (d *Default) DeleteOpenOrdersNotIn(ctx context.Context, orderIDs []string) error {
	return d.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		if len(orderIDs) == 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM orders WHERE status NOT IN ('closed', 'canceled')`)
		} else {
			_, err = tx.ExecContext(ctx, `
				DELETE FROM orders
				WHERE status NOT IN ('closed', 'canceled') AND order_id <> ALL($1)`,
				pq.Array(orderIDs))
		}
		if err != nil {
			return fmt.Errorf("failed to delete stale open orders: %w", err)
		}
		return nil
	})
}

// -------- positions --------

func (d *Default) UpsertPosition(ctx context.Context, p Position) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO positions (symbol, side, amount, entry_price, unrealized_pnl, status, meta_json, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol) DO UPDATE SET
			side = EXCLUDED.side,
			amount = EXCLUDED.amount,
			entry_price = EXCLUDED.entry_price,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			status = EXCLUDED.status,
			meta_json = EXCLUDED.meta_json,
			updated_at = EXCLUDED.updated_at`,
		p.Symbol, p.Side, p.Amount, p.EntryPrice, p.UnrealizedPnL, p.Status, p.MetaJSON, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", p.Symbol, err)
	}
	return nil
}

func (d *Default) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT symbol, side, amount, entry_price, unrealized_pnl, status, meta_json, updated_at
		FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Symbol, &p.Side, &p.Amount, &p.EntryPrice, &p.UnrealizedPnL, &p.Status, &p.MetaJSON, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (d *Default) DeletePositionsNotIn(ctx context.Context, symbols []string) error {
	return d.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		if len(symbols) == 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM positions`)
		} else {
			_, err = tx.ExecContext(ctx, `DELETE FROM positions WHERE symbol <> ALL($1)`, pq.Array(symbols))
		}
		if err != nil {
			return fmt.Errorf("failed to delete stale positions: %w", err)
		}
		return nil
	})
}

// -------- zero-fee symbols --------

func (d *Default) ListZeroFeeSymbols(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT symbol FROM zero_fee_symbols WHERE enabled ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list zero-fee symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan zero-fee symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

func (d *Default) SetZeroFeeSymbol(ctx context.Context, symbol string, enabled bool) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO zero_fee_symbols (symbol, enabled, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at`,
		symbol, enabled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set zero-fee symbol %s: %w", symbol, err)
	}
	return nil
}

func (d *Default) ImportZeroFeeSymbols(ctx context.Context, symbols []string) error {
	return d.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, s := range symbols {
			if s == "" {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO zero_fee_symbols (symbol, enabled, updated_at)
				VALUES ($1, TRUE, $2)
				ON CONFLICT (symbol) DO UPDATE SET
					enabled = TRUE,
					updated_at = EXCLUDED.updated_at`, s, now)
			if err != nil {
				return fmt.Errorf("failed to import zero-fee symbol %s: %w", s, err)
			}
		}
		return nil
	})
}

// -------- journal --------

func (d *Default) LogEvent(ctx context.Context, event journal.Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO events (ts, type, description, data)
		VALUES ($1, $2, $3, $4)`,
		event.Time, event.Type, event.Description, data)
	if err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}
	return nil
}

func (d *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT ts, type, description, data
		FROM events WHERE type = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts`,
		eventType, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var data []byte
		if err := rows.Scan(&e.Time, &e.Type, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
