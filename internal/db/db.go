// Package db
package db

import (
	"context"
	"time"

	"github.com/defoss123-ai/bot13/internal/journal"
)

// Pair is a configured tradable instrument.
type Pair struct {
	Symbol      string
	Leverage    int
	TPPct       float64
	SLPct       float64
	Enabled     bool
	CooldownSec int
}

// Trade is a closed-trade ledger row (append-only).
type Trade struct {
	ID     int64
	Ts     time.Time
	Symbol string
	Side   string
	Qty    float64
	Entry  float64
	Exit   float64
	PnL    float64
	Mode   string // "paper" or "live"
	Reason string
}

// Order is a persisted order-log row.
type Order struct {
	ID       int64
	Ts       time.Time
	Symbol   string
	Kind     string // "entry", "exit", or exchange order type during sync
	OrderID  string
	Status   string
	MetaJSON string
}

// Position is a persisted open-position row, the durable mirror of the
// engine's in-memory state.
type Position struct {
	Symbol        string
	Side          string
	Amount        float64
	EntryPrice    float64
	UnrealizedPnL float64
	Status        string
	MetaJSON      string
	UpdatedAt     time.Time
}

// Storage is the interface for all persistent storage.
type Storage interface {
	// Scalar settings. GetSetting returns def when the key is absent.
	GetSetting(ctx context.Context, key, def string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	ListPairs(ctx context.Context) ([]Pair, error)
	UpsertPair(ctx context.Context, p Pair) error
	DeletePair(ctx context.Context, symbol string) error

	InsertTrade(ctx context.Context, t Trade) (int64, error)
	ListTrades(ctx context.Context, limit int) ([]Trade, error)

	InsertOrder(ctx context.Context, o Order) (int64, error)
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
	ListOpenOrders(ctx context.Context) ([]Order, error)
	DeleteOpenOrdersNotIn(ctx context.Context, orderIDs []string) error

	UpsertPosition(ctx context.Context, p Position) error
	ListPositions(ctx context.Context) ([]Position, error)
	DeletePositionsNotIn(ctx context.Context, symbols []string) error

	ListZeroFeeSymbols(ctx context.Context) ([]string, error)
	SetZeroFeeSymbol(ctx context.Context, symbol string, enabled bool) error
	ImportZeroFeeSymbols(ctx context.Context, symbols []string) error

	journal.Journaler

	Close() error
}

// DefaultSettings are seeded on first start; every runtime knob the engine
// reads has a row here.
var DefaultSettings = map[string]string{
	"check_interval_sec":        "5",
	"max_concurrent_positions":  "1",
	"max_trade_duration_sec":    "45",
	"break_even_enabled":        "1",
	"break_even_trigger_pct":    "0.10",
	"break_even_offset_pct":     "0.02",
	"sizing_mode":               "percent",
	"sizing_percent":            "10",
	"sizing_fixed_usdt":         "20",
	"sizing_reserve_usdt":       "10",
	"max_margin_per_trade_usdt": "200",
	"entry_order_type":          "market",
	"exit_order_type":           "market",
	"limit_offset_bps":          "2",
	"entry_timeout_sec":         "30",
	"entry_retry_count":         "0",
	"allow_market_fallback":     "0",
	"min_fill_pct":              "80",
	"trade_only_zero_fee":       "0",
	"selection_mode":            "best_score",
	"random_top_k":              "3",
	"stale_order_ttl_sec":       "300",
	"paper_mode":                "1",
}
