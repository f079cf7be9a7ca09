package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/defoss123-ai/bot13/internal/db"
	"github.com/defoss123-ai/bot13/internal/exchange"
	"github.com/defoss123-ai/bot13/internal/exits"
	"github.com/defoss123-ai/bot13/internal/utils"
)

// SyncExchangeState replaces the persisted open-order and position rows
// with what the venue reports right now. Fetch failures degrade to an
// empty snapshot rather than failing the sync: a venue we cannot read is
// treated as having nothing open, and the local rows are swept to match.
func SyncExchangeState(ctx context.Context, storage db.Storage, ex exchange.Exchange) (int, int, error) {
	logger := utils.GetLogger()

	openOrders, err := ex.FetchOpenOrders(ctx)
	if err != nil {
		logger.Printf("StateSync | failed to fetch open orders: %v", err)
		openOrders = nil
	}

	positions, err := ex.FetchPositions(ctx)
	if err != nil {
		if errors.Is(err, exchange.ErrPositionsUnsupported) {
			logger.Printf("StateSync | fetch positions not supported, using empty list")
		} else {
			logger.Printf("StateSync | failed to fetch positions: %v", err)
		}
		positions = nil
	}

	var orderIDs []string
	for _, o := range openOrders {
		if o.OrderID == "" {
			continue
		}
		meta, _ := json.Marshal(o)
		kind := o.Type
		if kind == "" {
			kind = "unknown"
		}
		status := o.Status
		if status == "" {
			status = "open"
		}
		if _, err := storage.InsertOrder(ctx, db.Order{
			Ts:       o.Timestamp,
			Symbol:   o.Symbol,
			Kind:     kind,
			OrderID:  o.OrderID,
			Status:   status,
			MetaJSON: string(meta),
		}); err != nil {
			logger.Printf("StateSync | failed to persist order %s: %v", o.OrderID, err)
			continue
		}
		orderIDs = append(orderIDs, o.OrderID)
	}
	if err := storage.DeleteOpenOrdersNotIn(ctx, orderIDs); err != nil {
		return 0, 0, err
	}

	var symbols []string
	for _, pos := range positions {
		if pos.Symbol == "" || pos.Contracts == 0 {
			continue
		}
		side := strings.ToLower(pos.Side)
		if side == "" {
			side = "long"
			if pos.Contracts < 0 {
				side = "short"
			}
		}
		amount := pos.Contracts
		if amount < 0 {
			amount = -amount
		}
		meta, _ := json.Marshal(pos)
		if err := storage.UpsertPosition(ctx, db.Position{
			Symbol:        pos.Symbol,
			Side:          side,
			Amount:        amount,
			EntryPrice:    pos.EntryPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
			Status:        "open",
			MetaJSON:      string(meta),
			UpdatedAt:     time.Now().UTC(),
		}); err != nil {
			logger.Printf("StateSync | failed to persist position %s: %v", pos.Symbol, err)
			continue
		}
		symbols = append(symbols, pos.Symbol)
	}
	if err := storage.DeletePositionsNotIn(ctx, symbols); err != nil {
		return 0, 0, err
	}

	logger.Printf("StateSync | complete: %d positions, %d open orders", len(symbols), len(orderIDs))
	return len(symbols), len(orderIDs), nil
}

// Fallback TP/SL percentages for restored positions whose pair row is
// missing or zeroed.
const (
	restoreDefaultTPPct = 0.12
	restoreDefaultSLPct = 0.25
)

// restorePositions rebuilds the in-memory position map from the persisted
// rows. TP and SL prices are recomputed from the pair percentages; resting
// exit-order IDs are recovered from the open-order log by kind and
// metadata.
func restorePositions(ctx context.Context, storage db.Storage, now time.Time) (map[string]*exits.Position, error) {
	logger := utils.GetLogger()

	openOrders, err := storage.ListOpenOrders(ctx)
	if err != nil {
		return nil, err
	}

	type exitRefs struct{ tp, sl string }
	refsBySymbol := make(map[string]exitRefs)
	for _, o := range openOrders {
		if o.Symbol == "" {
			continue
		}
		refs := refsBySymbol[o.Symbol]
		kind := strings.ToLower(o.Kind)
		meta := strings.ToLower(o.MetaJSON)
		if strings.Contains(kind, "tp") || strings.Contains(meta, `"reduceonly": true`) {
			refs.tp = o.OrderID
		}
		if strings.Contains(kind, "sl") || strings.Contains(kind, "stop") || strings.Contains(meta, `"stopprice"`) {
			refs.sl = o.OrderID
		}
		refsBySymbol[o.Symbol] = refs
	}

	pairs, err := storage.ListPairs(ctx)
	if err != nil {
		return nil, err
	}
	pairBySymbol := make(map[string]db.Pair, len(pairs))
	for _, p := range pairs {
		pairBySymbol[p.Symbol] = p
	}

	rows, err := storage.ListPositions(ctx)
	if err != nil {
		return nil, err
	}

	restored := make(map[string]*exits.Position)
	for _, row := range rows {
		if row.Symbol == "" || row.Amount <= 0 || row.EntryPrice <= 0 {
			continue
		}

		side := "sell"
		switch strings.ToLower(row.Side) {
		case "long", "buy":
			side = "buy"
		}

		tpPct, slPct := restoreDefaultTPPct, restoreDefaultSLPct
		if pair, ok := pairBySymbol[row.Symbol]; ok {
			if pair.TPPct > 0 {
				tpPct = pair.TPPct
			}
			if pair.SLPct > 0 {
				slPct = pair.SLPct
			}
		}
		tpPrice, slPrice := exits.ComputeTPSL(row.EntryPrice, side, tpPct, slPct)

		refs := refsBySymbol[row.Symbol]
		restored[row.Symbol] = &exits.Position{
			Symbol:         row.Symbol,
			Side:           side,
			Amount:         row.Amount,
			EntryPrice:     row.EntryPrice,
			OpenedAt:       now,
			TPPrice:        tpPrice,
			SLPrice:        slPrice,
			InitialSLPrice: slPrice,
			TPOrderID:      refs.tp,
			SLOrderID:      refs.sl,
		}
	}

	logger.Printf("Engine | restored %d positions into engine state", len(restored))
	return restored, nil
}
