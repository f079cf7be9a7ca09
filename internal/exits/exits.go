// Package exits
package exits

import (
	"context"
	"fmt"
	"time"

	"github.com/defoss123-ai/bot13/internal/exchange"
	"github.com/defoss123-ai/bot13/internal/order"
	"github.com/defoss123-ai/bot13/internal/utils"
)

// Exit reasons recorded on closed trades.
const (
	ReasonBreakEvenMoved = "break_even_moved"
	ReasonTPHit          = "tp_hit"
	ReasonSLHit          = "sl_hit"
	ReasonTimeStop       = "time_stop"
)

// Position is the engine's in-memory view of an open trade.
type Position struct {
	Symbol         string
	Side           string // "buy" or "sell"
	Amount         float64
	EntryPrice     float64
	OpenedAt       time.Time
	TPPrice        float64
	SLPrice        float64
	InitialSLPrice float64
	BreakEvenMoved bool
	TPOrderID      string
	SLOrderID      string
	Leverage       int
	EntryOrderID   string
}

// Decision is the outcome of one exit evaluation.
type Decision struct {
	ShouldClose    bool
	Reason         string
	ExitPrice      float64
	BreakEvenMoved bool
}

// Settings are the exit-management knobs resolved per tick.
type Settings struct {
	ExitOrderType       string
	MaxTradeDuration    time.Duration
	BreakEvenEnabled    bool
	BreakEvenTriggerPct float64
	BreakEvenOffsetPct  float64
}

// ComputeTPSL derives absolute take-profit and stop-loss prices from the
// pair percentages.
func ComputeTPSL(entryPrice float64, side string, tpPct, slPct float64) (tp, sl float64) {
	if side == "buy" {
		return entryPrice * (1 + tpPct/100), entryPrice * (1 - slPct/100)
	}
	return entryPrice * (1 - tpPct/100), entryPrice * (1 + slPct/100)
}

// Evaluate decides whether a position should close at the current price.
// The break-even move is checked first and fires at most once; it mutates
// the position's stop and returns a non-terminal decision so the close
// checks run against the updated stop on the next tick.
func Evaluate(p *Position, lastPrice float64, s Settings, now time.Time) Decision {
	if s.BreakEvenEnabled && !p.BreakEvenMoved {
		if p.Side == "buy" {
			trigger := p.EntryPrice * (1 + s.BreakEvenTriggerPct/100)
			if lastPrice >= trigger {
				p.SLPrice = p.EntryPrice * (1 + s.BreakEvenOffsetPct/100)
				p.BreakEvenMoved = true
				return Decision{Reason: ReasonBreakEvenMoved, BreakEvenMoved: true}
			}
		} else {
			trigger := p.EntryPrice * (1 - s.BreakEvenTriggerPct/100)
			if lastPrice <= trigger {
				p.SLPrice = p.EntryPrice * (1 - s.BreakEvenOffsetPct/100)
				p.BreakEvenMoved = true
				return Decision{Reason: ReasonBreakEvenMoved, BreakEvenMoved: true}
			}
		}
	}

	if p.Side == "buy" {
		if lastPrice >= p.TPPrice {
			return Decision{ShouldClose: true, Reason: ReasonTPHit, ExitPrice: lastPrice}
		}
		if lastPrice <= p.SLPrice {
			return Decision{ShouldClose: true, Reason: ReasonSLHit, ExitPrice: lastPrice}
		}
	} else {
		if lastPrice <= p.TPPrice {
			return Decision{ShouldClose: true, Reason: ReasonTPHit, ExitPrice: lastPrice}
		}
		if lastPrice >= p.SLPrice {
			return Decision{ShouldClose: true, Reason: ReasonSLHit, ExitPrice: lastPrice}
		}
	}

	if s.MaxTradeDuration > 0 && now.Sub(p.OpenedAt) >= s.MaxTradeDuration {
		return Decision{ShouldClose: true, Reason: ReasonTimeStop, ExitPrice: lastPrice}
	}

	return Decision{}
}

// ConfigureExits places resting exit orders on the venue for live trades:
// a reduce-only TP limit when the exit type is limit, and a native stop
// when the venue supports it. Failures are logged and left to the software
// exit checks. Paper trades keep everything synthetic.
func ConfigureExits(ctx context.Context, p *Position, s Settings, ex exchange.Exchange, paperMode bool) {
	logger := utils.GetLogger()

	if paperMode {
		logger.Printf("Exits | [%s] paper exits configured tp=%.8f sl=%.8f", p.Symbol, p.TPPrice, p.SLPrice)
		return
	}

	exitSide := oppositeSide(p.Side)

	if s.ExitOrderType == "limit" {
		tp, err := ex.CreateOrder(ctx, order.OrderRequest{
			Symbol:     p.Symbol,
			Side:       exitSide,
			Type:       "limit",
			Price:      p.TPPrice,
			Quantity:   p.Amount,
			ReduceOnly: true,
		})
		if err != nil {
			logger.Printf("Exits | [%s] failed to place TP limit order: %v", p.Symbol, err)
		} else {
			p.TPOrderID = tp.OrderID
			logger.Printf("Exits | [%s] TP order placed order_id=%s", p.Symbol, tp.OrderID)
		}
	}

	sl, err := ex.CreateOrder(ctx, order.OrderRequest{
		Symbol:     p.Symbol,
		Side:       exitSide,
		Type:       "stop",
		StopPrice:  p.SLPrice,
		Quantity:   p.Amount,
		ReduceOnly: true,
	})
	if err != nil {
		logger.Printf("Exits | [%s] native SL unavailable, using software SL: %v", p.Symbol, err)
	} else {
		p.SLOrderID = sl.OrderID
		logger.Printf("Exits | [%s] native SL order placed order_id=%s", p.Symbol, sl.OrderID)
	}
}

// Close flattens the position. Paper closes are synthesized at the decision
// price. Live take-profits under a limit exit type go out as a reduce-only
// limit first, falling back to a reduce-only market order; every other
// reason closes at market immediately.
func Close(ctx context.Context, p *Position, d Decision, s Settings, ex exchange.Exchange, paperMode bool) (order.OrderResponse, error) {
	logger := utils.GetLogger()
	exitSide := oppositeSide(p.Side)

	if paperMode {
		logger.Printf("Exits | [%s] paper exit reason=%s price=%.8f", p.Symbol, d.Reason, d.ExitPrice)
		return order.OrderResponse{
			OrderID:   "paper-exit",
			Status:    "closed",
			FilledQty: p.Amount,
			AvgPrice:  d.ExitPrice,
			Symbol:    p.Symbol,
			Side:      exitSide,
			Timestamp: time.Now().UTC(),
		}, nil
	}

	if s.ExitOrderType == "limit" && d.Reason == ReasonTPHit {
		resp, err := ex.CreateOrder(ctx, order.OrderRequest{
			Symbol:     p.Symbol,
			Side:       exitSide,
			Type:       "limit",
			Price:      d.ExitPrice,
			Quantity:   p.Amount,
			ReduceOnly: true,
		})
		if err == nil {
			logger.Printf("Exits | [%s] exit limit order placed reason=%s", p.Symbol, d.Reason)
			return resp, nil
		}
		logger.Printf("Exits | [%s] limit exit failed, fallback to market: %v", p.Symbol, err)
	}

	resp, err := ex.CreateOrder(ctx, order.OrderRequest{
		Symbol:     p.Symbol,
		Side:       exitSide,
		Type:       "market",
		Quantity:   p.Amount,
		ReduceOnly: true,
	})
	if err != nil {
		return order.OrderResponse{}, fmt.Errorf("failed to close position %s: %w", p.Symbol, err)
	}
	return resp, nil
}

// RealizedPnL computes the signed profit of a closed trade in quote units.
func RealizedPnL(side string, entryPrice, exitPrice, qty float64) float64 {
	pnl := (exitPrice - entryPrice) * qty
	if side != "buy" {
		pnl = -pnl
	}
	return pnl
}

func oppositeSide(side string) string {
	if side == "buy" {
		return "sell"
	}
	return "buy"
}
