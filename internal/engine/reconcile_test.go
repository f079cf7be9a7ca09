package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defoss123-ai/bot13/internal/db"
	"github.com/defoss123-ai/bot13/internal/exchange"
)

func TestSyncExchangeStateReplacesLocalRows(t *testing.T) {
	ctx := context.Background()
	storage := db.NewMemory()

	// Local rows that no longer exist on the venue.
	_, err := storage.InsertOrder(ctx, db.Order{Symbol: "ETHUSDT", Kind: "entry", OrderID: "gone-1", Status: "open"})
	require.NoError(t, err)
	require.NoError(t, storage.UpsertPosition(ctx, db.Position{Symbol: "ETHUSDT", Side: "buy", Amount: 1, EntryPrice: 2000, Status: "open"}))

	paper := exchange.NewPaperExchange()
	paper.SetTicker("BTCUSDT", 50000)
	resp, err := paper.CreateOrder(ctx, orderReq("BTCUSDT", "buy", "limit", 49000, 0.01))
	require.NoError(t, err)
	paper.SetPositions([]exchange.PositionSnapshot{
		{Symbol: "BTCUSDT", Side: "long", Contracts: 0.01, EntryPrice: 49500, UnrealizedPnL: 5},
		{Symbol: "XRPUSDT", Side: "long", Contracts: 0, EntryPrice: 1}, // zero size dropped
	})

	nPos, nOrders, err := SyncExchangeState(ctx, storage, paper)
	require.NoError(t, err)
	assert.Equal(t, 1, nPos)
	assert.Equal(t, 1, nOrders)

	open, err := storage.ListOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, resp.OrderID, open[0].OrderID)

	positions, err := storage.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
	assert.Equal(t, "long", positions[0].Side)
	assert.Equal(t, 49500.0, positions[0].EntryPrice)
}

func TestSyncExchangeStateUnsupportedPositions(t *testing.T) {
	ctx := context.Background()
	storage := db.NewMemory()
	require.NoError(t, storage.UpsertPosition(ctx, db.Position{Symbol: "ETHUSDT", Side: "buy", Amount: 1, EntryPrice: 2000, Status: "open"}))

	nPos, _, err := SyncExchangeState(ctx, storage, &noPositionsExchange{exchange.NewPaperExchange()})
	require.NoError(t, err)
	assert.Equal(t, 0, nPos)

	positions, err := storage.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions, "local rows swept when the venue reports nothing")
}

type noPositionsExchange struct {
	*exchange.PaperExchange
}

func (n *noPositionsExchange) FetchPositions(ctx context.Context) ([]exchange.PositionSnapshot, error) {
	return nil, exchange.ErrPositionsUnsupported
}

func TestRestorePositions(t *testing.T) {
	ctx := context.Background()
	storage := db.NewMemory()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, storage.UpsertPair(ctx, db.Pair{Symbol: "BTCUSDT", Leverage: 5, TPPct: 0.5, SLPct: 1.0, Enabled: true}))
	require.NoError(t, storage.UpsertPosition(ctx, db.Position{Symbol: "BTCUSDT", Side: "long", Amount: 0.01, EntryPrice: 50000, Status: "open"}))
	require.NoError(t, storage.UpsertPosition(ctx, db.Position{Symbol: "ETHUSDT", Side: "buy", Amount: 0, EntryPrice: 2000, Status: "open"}))

	_, err := storage.InsertOrder(ctx, db.Order{Symbol: "BTCUSDT", Kind: "tp_limit", OrderID: "tp-1", Status: "open"})
	require.NoError(t, err)
	_, err = storage.InsertOrder(ctx, db.Order{Symbol: "BTCUSDT", Kind: "stop", OrderID: "sl-1", Status: "open"})
	require.NoError(t, err)

	restored, err := restorePositions(ctx, storage, now)
	require.NoError(t, err)
	require.Len(t, restored, 1, "zero-amount rows are dropped")

	p := restored["BTCUSDT"]
	require.NotNil(t, p)
	assert.Equal(t, "buy", p.Side, "long normalizes to buy")
	assert.Equal(t, now, p.OpenedAt)
	assert.InDelta(t, 50000*1.005, p.TPPrice, 1e-6)
	assert.InDelta(t, 50000*0.99, p.SLPrice, 1e-6)
	assert.Equal(t, "tp-1", p.TPOrderID)
	assert.Equal(t, "sl-1", p.SLOrderID)
}

func TestRestorePositionsDefaultsWithoutPair(t *testing.T) {
	ctx := context.Background()
	storage := db.NewMemory()
	now := time.Now().UTC()

	require.NoError(t, storage.UpsertPosition(ctx, db.Position{Symbol: "SOLUSDT", Side: "short", Amount: 2, EntryPrice: 100, Status: "open"}))

	restored, err := restorePositions(ctx, storage, now)
	require.NoError(t, err)
	p := restored["SOLUSDT"]
	require.NotNil(t, p)
	assert.Equal(t, "sell", p.Side)
	assert.InDelta(t, 100*(1-restoreDefaultTPPct/100), p.TPPrice, 1e-9)
	assert.InDelta(t, 100*(1+restoreDefaultSLPct/100), p.SLPrice, 1e-9)
}

func TestRestorePositionsReduceOnlyMetaMarksTP(t *testing.T) {
	ctx := context.Background()
	storage := db.NewMemory()

	require.NoError(t, storage.UpsertPosition(ctx, db.Position{Symbol: "BTCUSDT", Side: "buy", Amount: 0.01, EntryPrice: 50000, Status: "open"}))
	_, err := storage.InsertOrder(ctx, db.Order{
		Symbol: "BTCUSDT", Kind: "limit", OrderID: "ro-1", Status: "open",
		MetaJSON: `{"reduceOnly": true}`,
	})
	require.NoError(t, err)

	restored, err := restorePositions(ctx, storage, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, restored["BTCUSDT"])
	assert.Equal(t, "ro-1", restored["BTCUSDT"].TPOrderID)
}
