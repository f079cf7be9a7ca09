// Package executor
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/defoss123-ai/bot13/internal/exchange"
	"github.com/defoss123-ai/bot13/internal/order"
	"github.com/defoss123-ai/bot13/internal/utils"
)

// Clock abstracts time for the retry and poll loops so tests never sleep.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Settings are the entry-execution knobs resolved per tick.
type Settings struct {
	OrderType           string
	RetryCount          int
	Timeout             time.Duration
	AllowMarketFallback bool
	LimitOffsetBps      float64
	MinFillPct          float64
}

// Result reports the outcome of an entry attempt.
type Result struct {
	Success  bool
	Status   string
	OrderID  string
	Filled   float64
	AvgPrice float64
	Reason   string
}

// Executor places entry orders against a venue with timeout, retry, and
// optional market fallback.
type Executor struct {
	ex    exchange.Exchange
	clock Clock
}

// New builds an Executor; a nil clock means wall time.
func New(ex exchange.Exchange, clock Clock) *Executor {
	if clock == nil {
		clock = realClock{}
	}
	return &Executor{ex: ex, clock: clock}
}

const pollInterval = time.Second

// PlaceEntry executes an entry per the configured order type. Market orders
// are a single shot judged by fill percentage; limit orders are priced off
// the live ticker, polled until timeout, canceled, re-checked for late
// fills, then retried or escalated to market when allowed.
func (e *Executor) PlaceEntry(ctx context.Context, symbol, side string, amount float64, s Settings) Result {
	if amount <= 0 {
		return Result{Status: "rejected", Reason: "amount<=0"}
	}

	orderType := strings.ToLower(strings.TrimSpace(s.OrderType))
	logger := utils.GetLogger()
	logger.Printf("Executor | [%s] place entry side=%s amount=%.8f type=%s", symbol, side, amount, orderType)

	switch orderType {
	case "market":
		return e.placeMarket(ctx, symbol, side, amount, s.MinFillPct)
	case "limit":
		return e.placeLimitWithTimeout(ctx, symbol, side, amount, s)
	}
	return Result{Status: "rejected", Reason: fmt.Sprintf("unsupported_entry_order_type=%s", orderType)}
}

func (e *Executor) placeMarket(ctx context.Context, symbol, side string, amount, minFillPct float64) Result {
	resp, err := e.ex.CreateOrder(ctx, order.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     "market",
		Quantity: amount,
	})
	if err != nil {
		utils.GetLogger().Printf("Executor | [%s] market entry failed: %v", symbol, err)
		return Result{Status: "error", Reason: err.Error()}
	}
	return resultFromOrder(resp, amount, minFillPct)
}

func (e *Executor) placeLimitWithTimeout(ctx context.Context, symbol, side string, amount float64, s Settings) Result {
	logger := utils.GetLogger()

	retryCount := s.RetryCount
	if retryCount < 0 {
		retryCount = 0
	}
	timeout := s.Timeout
	if timeout < time.Second {
		timeout = time.Second
	}

	attempts := retryCount + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := e.submitLimit(ctx, symbol, side, amount, s.LimitOffsetBps, attempt, attempts)
		if err != nil {
			logger.Printf("Executor | [%s] limit submit failed: %v", symbol, err)
			if attempt >= attempts {
				if s.AllowMarketFallback {
					logger.Printf("Executor | [%s] fallback to market", symbol)
					return e.placeMarket(ctx, symbol, side, amount, s.MinFillPct)
				}
				return Result{Status: "error", Reason: err.Error()}
			}
			continue
		}

		orderID := resp.OrderID
		deadline := e.clock.Now().Add(timeout)
		for e.clock.Now().Before(deadline) {
			if ctx.Err() != nil {
				break
			}
			refreshed, err := e.ex.FetchOrder(ctx, orderID, symbol)
			if err != nil {
				logger.Printf("Executor | [%s] order poll failed order_id=%s: %v", symbol, orderID, err)
				e.clock.Sleep(ctx, pollInterval)
				continue
			}
			if refreshed.IsTerminalFill() {
				return resultFromOrder(refreshed, amount, s.MinFillPct)
			}
			e.clock.Sleep(ctx, pollInterval)
		}

		logger.Printf("Executor | [%s] entry timeout order_id=%s, canceling", symbol, orderID)
		if err := e.ex.CancelOrder(ctx, orderID, symbol); err != nil {
			logger.Printf("Executor | [%s] cancel failed order_id=%s: %v", symbol, orderID, err)
		}

		// A fill can land between the last poll and the cancel.
		if latest, err := e.ex.FetchOrder(ctx, orderID, symbol); err == nil {
			if res := resultFromOrder(latest, amount, s.MinFillPct); res.Success {
				return res
			}
		}

		if attempt >= attempts {
			if s.AllowMarketFallback {
				logger.Printf("Executor | [%s] limit retries exhausted, fallback to market", symbol)
				return e.placeMarket(ctx, symbol, side, amount, s.MinFillPct)
			}
			return Result{Status: "timeout", OrderID: orderID, Reason: "entry timeout"}
		}
	}
	return Result{Status: "timeout", Reason: "entry retries exhausted"}
}

func (e *Executor) submitLimit(ctx context.Context, symbol, side string, amount, offsetBps float64, attempt, attempts int) (order.OrderResponse, error) {
	ticker, err := e.ex.FetchTicker(ctx, symbol)
	if err != nil {
		return order.OrderResponse{}, fmt.Errorf("failed to fetch ticker: %w", err)
	}
	lastPrice := ticker.Price()
	if lastPrice <= 0 {
		return order.OrderResponse{}, fmt.Errorf("ticker price unavailable for %s", symbol)
	}

	var limitPrice float64
	if strings.EqualFold(side, "buy") {
		limitPrice = lastPrice * (1 - offsetBps/10000)
	} else {
		limitPrice = lastPrice * (1 + offsetBps/10000)
	}

	utils.GetLogger().Printf("Executor | [%s] limit attempt=%d/%d side=%s amount=%.8f price=%.8f",
		symbol, attempt, attempts, side, amount, limitPrice)

	return e.ex.CreateOrder(ctx, order.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     "limit",
		Price:    limitPrice,
		Quantity: amount,
	})
}

func resultFromOrder(resp order.OrderResponse, requested, minFillPct float64) Result {
	logger := utils.GetLogger()
	status := resp.Status
	if status == "" {
		status = "unknown"
	}
	fillPct := resp.FillPct(requested)
	if fillPct >= minFillPct {
		logger.Printf("Executor | [%s] entry accepted order_id=%s status=%s filled=%.8f fill_pct=%.2f",
			resp.Symbol, resp.OrderID, status, resp.FilledQty, fillPct)
		return Result{
			Success:  true,
			Status:   status,
			OrderID:  resp.OrderID,
			Filled:   resp.FilledQty,
			AvgPrice: resp.AvgPrice,
		}
	}

	logger.Printf("Executor | [%s] entry rejected by min fill order_id=%s status=%s filled=%.8f fill_pct=%.2f min=%.2f",
		resp.Symbol, resp.OrderID, status, resp.FilledQty, fillPct, minFillPct)
	return Result{
		Status:   status,
		OrderID:  resp.OrderID,
		Filled:   resp.FilledQty,
		AvgPrice: resp.AvgPrice,
		Reason:   fmt.Sprintf("fill_pct %.2f < min_fill_pct %.2f", fillPct, minFillPct),
	}
}
