// Package exchange
package exchange

import (
	"context"
	"errors"

	"github.com/defoss123-ai/bot13/internal/candle"
	"github.com/defoss123-ai/bot13/internal/market"
	"github.com/defoss123-ai/bot13/internal/order"
)

// ErrPositionsUnsupported is returned by FetchPositions when the venue cannot
// report open positions. Callers degrade to an empty snapshot.
var ErrPositionsUnsupported = errors.New("fetch positions is not supported by this exchange")

// PositionSnapshot is an exchange-reported open position.
type PositionSnapshot struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"` // "long" or "short"
	Contracts     float64 `json:"contracts"`
	EntryPrice    float64 `json:"entry_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Exchange is the gateway contract consumed by the engine. Every call may fail
// transiently; callers treat failures as recoverable.
type Exchange interface {
	Name() string
	ResolveSymbol(ctx context.Context, name string) (string, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error)
	FetchTicker(ctx context.Context, symbol string) (market.Ticker, error)
	MarketInfo(ctx context.Context, symbol string) (market.Info, error)
	CreateOrder(ctx context.Context, req order.OrderRequest) (order.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	FetchOrder(ctx context.Context, orderID, symbol string) (order.OrderResponse, error)
	FetchOpenOrders(ctx context.Context) ([]order.OrderResponse, error)
	FetchPositions(ctx context.Context) ([]PositionSnapshot, error)
	FetchBalances(ctx context.Context) (map[string]market.Balance, error)
}
