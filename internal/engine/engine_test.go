package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defoss123-ai/bot13/internal/candle"
	"github.com/defoss123-ai/bot13/internal/config"
	"github.com/defoss123-ai/bot13/internal/db"
	"github.com/defoss123-ai/bot13/internal/exchange"
	"github.com/defoss123-ai/bot13/internal/exits"
	"github.com/defoss123-ai/bot13/internal/market"
	"github.com/defoss123-ai/bot13/internal/order"
	"github.com/defoss123-ai/bot13/internal/strategy"
)

func orderReq(symbol, side, orderType string, price, qty float64) order.OrderRequest {
	return order.OrderRequest{Symbol: symbol, Side: side, Type: orderType, Price: price, Quantity: qty}
}

func flatCandles(n int, price float64) []candle.Candle {
	base := time.Now().Add(-time.Duration(n) * time.Minute)
	out := make([]candle.Candle, n)
	for i := range out {
		out[i] = candle.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price + 0.5,
			Low:       price - 0.5,
			Close:     price,
			Volume:    10,
		}
	}
	return out
}

// alwaysSignal persists a strategy config that fires on every symbol.
func alwaysSignal(t *testing.T, storage db.Storage) {
	t.Helper()
	require.NoError(t, SaveTestStrategy(storage))
}

func SaveTestStrategy(storage db.Storage) error {
	return strategy.SaveConfig(context.Background(), storage, strategy.Config{
		Mode:     "score",
		MinScore: 0,
	})
}

func newTestEngine(t *testing.T) (*Engine, *db.Memory, *exchange.PaperExchange) {
	t.Helper()
	storage := db.NewMemory()
	paper := exchange.NewPaperExchange()
	return New(storage, paper, nil), storage, paper
}

func TestStartStopIdempotent(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)

	assert.False(t, e.IsRunning())

	e.Start(ctx)
	assert.True(t, e.IsRunning())
	e.Start(ctx) // second start is a no-op
	assert.True(t, e.IsRunning())

	e.Stop()
	assert.False(t, e.IsRunning())
	e.Stop() // second stop is a no-op
	assert.False(t, e.IsRunning())
}

func TestPanicStopPaperMode(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)

	e.Start(ctx)
	e.PanicStop(ctx)
	assert.False(t, e.IsRunning())
}

func TestCancelAllOpenOrders(t *testing.T) {
	ctx := context.Background()
	e, _, paper := newTestEngine(t)
	paper.SetTicker("BTCUSDT", 50000)
	paper.SetTicker("ETHUSDT", 2000)

	_, err := paper.CreateOrder(ctx, orderReq("BTCUSDT", "buy", "limit", 49000, 0.01))
	require.NoError(t, err)
	_, err = paper.CreateOrder(ctx, orderReq("ETHUSDT", "buy", "limit", 1900, 0.1))
	require.NoError(t, err)

	canceled := e.CancelAllOpenOrders(ctx, "BTCUSDT")
	assert.Equal(t, 1, canceled)

	canceled = e.CancelAllOpenOrders(ctx, "")
	assert.Equal(t, 1, canceled)

	open, err := paper.FetchOpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPaperTickOpensAndClosesPosition(t *testing.T) {
	ctx := context.Background()
	e, storage, paper := newTestEngine(t)
	alwaysSignal(t, storage)

	require.NoError(t, storage.UpsertPair(ctx, db.Pair{
		Symbol: "BTCUSDT", Leverage: 5, TPPct: 0.5, SLPct: 1.0, Enabled: true,
	}))
	paper.SetTicker("BTCUSDT", 100)
	paper.SetCandles("BTCUSDT", flatCandles(210, 100))
	paper.SetMarketInfo("BTCUSDT", market.Info{
		AmountPrecision: 4,
		AmountStep:      0.0001,
		MinAmount:       0.0001,
	})

	settings, err := config.ResolveSettings(ctx, storage)
	require.NoError(t, err)
	require.True(t, settings.PaperMode)

	require.NoError(t, e.tick(ctx, settings))

	// Paper entry: 90 usable * 10% = 9 margin, 5x leverage at price 100.
	p := e.positions["BTCUSDT"]
	require.NotNil(t, p)
	assert.Equal(t, "buy", p.Side)
	assert.InDelta(t, 0.45, p.Amount, 1e-9)
	assert.InDelta(t, 100.5, p.TPPrice, 1e-9)
	assert.InDelta(t, 99, p.SLPrice, 1e-9)

	rows, err := storage.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "BTCUSDT", rows[0].Symbol)

	// Disable the pair so the close path is not followed by a re-entry.
	require.NoError(t, storage.UpsertPair(ctx, db.Pair{
		Symbol: "BTCUSDT", Leverage: 5, TPPct: 0.5, SLPct: 1.0, Enabled: false,
	}))

	// Price through TP: the first tick only moves break-even, the next
	// closes at the take-profit.
	paper.SetTicker("BTCUSDT", 101)
	require.NoError(t, e.tick(ctx, settings))
	require.NotNil(t, e.positions["BTCUSDT"])
	assert.True(t, e.positions["BTCUSDT"].BreakEvenMoved)

	require.NoError(t, e.tick(ctx, settings))
	assert.Empty(t, e.positions)

	trades, err := storage.ListTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "tp_hit", trades[0].Reason)
	assert.Equal(t, "paper", trades[0].Mode)
	assert.InDelta(t, (101-100)*0.45, trades[0].PnL, 1e-9)

	rows, err = storage.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTickSkipsSymbolsWithOpenPositions(t *testing.T) {
	ctx := context.Background()
	e, storage, paper := newTestEngine(t)
	alwaysSignal(t, storage)

	require.NoError(t, storage.UpsertPair(ctx, db.Pair{
		Symbol: "BTCUSDT", Leverage: 5, TPPct: 10, SLPct: 10, Enabled: true,
	}))
	paper.SetTicker("BTCUSDT", 100)
	paper.SetCandles("BTCUSDT", flatCandles(210, 100))
	paper.SetMarketInfo("BTCUSDT", market.Info{AmountPrecision: 4, AmountStep: 0.0001, MinAmount: 0.0001})

	settings, err := config.ResolveSettings(ctx, storage)
	require.NoError(t, err)

	require.NoError(t, e.tick(ctx, settings))
	require.Len(t, e.positions, 1)
	amount := e.positions["BTCUSDT"].Amount

	// The symbol stays held, so a second tick neither re-enters nor resizes.
	require.NoError(t, e.tick(ctx, settings))
	require.Len(t, e.positions, 1)
	assert.Equal(t, amount, e.positions["BTCUSDT"].Amount)

	orders, err := storage.ListOpenOrders(ctx)
	require.NoError(t, err)
	entries := 0
	for _, o := range orders {
		if o.Kind == "entry" {
			entries++
		}
	}
	assert.Equal(t, 1, entries)
}

func TestTickDisabledPairIgnored(t *testing.T) {
	ctx := context.Background()
	e, storage, paper := newTestEngine(t)
	alwaysSignal(t, storage)

	require.NoError(t, storage.UpsertPair(ctx, db.Pair{Symbol: "BTCUSDT", Leverage: 5, Enabled: false}))
	paper.SetTicker("BTCUSDT", 100)
	paper.SetCandles("BTCUSDT", flatCandles(210, 100))

	settings, err := config.ResolveSettings(ctx, storage)
	require.NoError(t, err)
	require.NoError(t, e.tick(ctx, settings))
	assert.Empty(t, e.positions)
}

func TestTickZeroFeeFilter(t *testing.T) {
	ctx := context.Background()
	e, storage, paper := newTestEngine(t)
	alwaysSignal(t, storage)

	require.NoError(t, storage.SetSetting(ctx, "trade_only_zero_fee", "1"))
	require.NoError(t, storage.SetSetting(ctx, "max_concurrent_positions", "ALL"))
	require.NoError(t, storage.UpsertPair(ctx, db.Pair{Symbol: "BTCUSDT", Leverage: 5, TPPct: 1, SLPct: 1, Enabled: true}))
	require.NoError(t, storage.UpsertPair(ctx, db.Pair{Symbol: "ETHUSDT", Leverage: 5, TPPct: 1, SLPct: 1, Enabled: true}))
	require.NoError(t, storage.SetZeroFeeSymbol(ctx, "ETHUSDT", true))

	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		paper.SetTicker(sym, 100)
		paper.SetCandles(sym, flatCandles(210, 100))
		paper.SetMarketInfo(sym, market.Info{AmountPrecision: 4, AmountStep: 0.0001, MinAmount: 0.0001})
	}

	settings, err := config.ResolveSettings(ctx, storage)
	require.NoError(t, err)
	require.NoError(t, e.tick(ctx, settings))

	assert.Len(t, e.positions, 1)
	assert.Contains(t, e.positions, "ETHUSDT")
}

func TestTickSymbolFaultIsolated(t *testing.T) {
	ctx := context.Background()
	e, storage, paper := newTestEngine(t)
	alwaysSignal(t, storage)

	require.NoError(t, storage.SetSetting(ctx, "max_concurrent_positions", "ALL"))
	// BADUSDT has no scripted candles: its fetch fails, ETHUSDT still trades.
	require.NoError(t, storage.UpsertPair(ctx, db.Pair{Symbol: "BADUSDT", Leverage: 5, TPPct: 1, SLPct: 1, Enabled: true}))
	require.NoError(t, storage.UpsertPair(ctx, db.Pair{Symbol: "ETHUSDT", Leverage: 5, TPPct: 1, SLPct: 1, Enabled: true}))
	paper.SetTicker("ETHUSDT", 100)
	paper.SetCandles("ETHUSDT", flatCandles(210, 100))
	paper.SetMarketInfo("ETHUSDT", market.Info{AmountPrecision: 4, AmountStep: 0.0001, MinAmount: 0.0001})

	settings, err := config.ResolveSettings(ctx, storage)
	require.NoError(t, err)
	require.NoError(t, e.tick(ctx, settings))

	assert.Len(t, e.positions, 1)
	assert.Contains(t, e.positions, "ETHUSDT")
}

func TestTickTimeStopClosesStalePosition(t *testing.T) {
	ctx := context.Background()
	e, storage, paper := newTestEngine(t)

	paper.SetTicker("BTCUSDT", 100)
	e.positions["BTCUSDT"] = basePositionAt(time.Now().UTC().Add(-2 * time.Minute))

	settings, err := config.ResolveSettings(ctx, storage)
	require.NoError(t, err)
	require.NoError(t, e.tick(ctx, settings))

	assert.Empty(t, e.positions)
	trades, err := storage.ListTrades(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "time_stop", trades[0].Reason)
}

func basePositionAt(openedAt time.Time) *exits.Position {
	return &exits.Position{
		Symbol:         "BTCUSDT",
		Side:           "buy",
		Amount:         0.1,
		EntryPrice:     100,
		OpenedAt:       openedAt,
		TPPrice:        110,
		SLPrice:        90,
		InitialSLPrice: 90,
	}
}
