package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/defoss123-ai/bot13/internal/candle"
	"github.com/defoss123-ai/bot13/internal/market"
	"github.com/defoss123-ai/bot13/internal/order"
)

// PaperExchange is an in-memory venue. Market orders fill immediately at the
// scripted ticker price; limit and stop orders rest until FillOpenOrder is
// called or they are canceled. It backs tests and paper-mode diagnostics.
type PaperExchange struct {
	mu        sync.Mutex
	tickers   map[string]market.Ticker
	infos     map[string]market.Info
	candles   map[string][]candle.Candle
	orders    map[string]order.OrderResponse
	positions []PositionSnapshot
	balances  map[string]market.Balance
}

func NewPaperExchange() *PaperExchange {
	return &PaperExchange{
		tickers:  make(map[string]market.Ticker),
		infos:    make(map[string]market.Info),
		candles:  make(map[string][]candle.Candle),
		orders:   make(map[string]order.OrderResponse),
		balances: map[string]market.Balance{"USDT": {Asset: "USDT", Free: 100, Total: 100}},
	}
}

func (p *PaperExchange) Name() string { return "paper" }

// SetTicker scripts the last traded price for a symbol.
func (p *PaperExchange) SetTicker(symbol string, last float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := strings.ToUpper(symbol)
	p.tickers[s] = market.Ticker{Symbol: s, Last: last, Close: last, Timestamp: time.Now().UTC()}
}

// SetMarketInfo scripts the venue metadata for a symbol.
func (p *PaperExchange) SetMarketInfo(symbol string, info market.Info) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info.Symbol = strings.ToUpper(symbol)
	p.infos[info.Symbol] = info
}

// SetCandles scripts the OHLCV series returned for a symbol.
func (p *PaperExchange) SetCandles(symbol string, candles []candle.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[strings.ToUpper(symbol)] = candles
}

// SetPositions scripts the exchange-reported open positions.
func (p *PaperExchange) SetPositions(positions []PositionSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions = positions
}

// SetBalance scripts a free balance for an asset.
func (p *PaperExchange) SetBalance(asset string, free float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := strings.ToUpper(asset)
	p.balances[a] = market.Balance{Asset: a, Free: free, Total: free}
}

// FillOpenOrder marks a resting order as filled at the given price.
func (p *PaperExchange) FillOpenOrder(orderID string, avgPrice float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper exchange: unknown order %s", orderID)
	}
	o.Status = "closed"
	o.FilledQty = o.Quantity
	o.AvgPrice = avgPrice
	p.orders[orderID] = o
	return nil
}

func (p *PaperExchange) ResolveSymbol(ctx context.Context, name string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(name))
	if s == "" {
		return "", fmt.Errorf("symbol is empty")
	}
	return s, nil
}

func (p *PaperExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	candles, ok := p.candles[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("paper exchange: no candles scripted for %s", symbol)
	}
	return candles, nil
}

func (p *PaperExchange) FetchTicker(ctx context.Context, symbol string) (market.Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tickers[strings.ToUpper(symbol)]
	if !ok {
		return market.Ticker{}, fmt.Errorf("paper exchange: no ticker scripted for %s", symbol)
	}
	return t, nil
}

func (p *PaperExchange) MarketInfo(ctx context.Context, symbol string) (market.Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.infos[strings.ToUpper(symbol)]
	if !ok {
		return market.Info{AmountPrecision: -1}, nil
	}
	return info, nil
}

func (p *PaperExchange) CreateOrder(ctx context.Context, req order.OrderRequest) (order.OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	symbol := strings.ToUpper(req.Symbol)
	resp := order.OrderResponse{
		OrderID:   uuid.NewString(),
		Status:    "open",
		Symbol:    symbol,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Timestamp: time.Now().UTC(),
	}

	if req.Type == "market" {
		t, ok := p.tickers[symbol]
		if !ok {
			return order.OrderResponse{}, fmt.Errorf("paper exchange: no ticker scripted for %s", symbol)
		}
		resp.Status = "closed"
		resp.FilledQty = req.Quantity
		resp.AvgPrice = t.Price()
	}

	p.orders[resp.OrderID] = resp
	return resp, nil
}

func (p *PaperExchange) CancelOrder(ctx context.Context, orderID, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper exchange: unknown order %s", orderID)
	}
	if o.Status == "open" {
		o.Status = "canceled"
		p.orders[orderID] = o
	}
	return nil
}

func (p *PaperExchange) FetchOrder(ctx context.Context, orderID, symbol string) (order.OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return order.OrderResponse{}, fmt.Errorf("paper exchange: unknown order %s", orderID)
	}
	return o, nil
}

func (p *PaperExchange) FetchOpenOrders(ctx context.Context) ([]order.OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var open []order.OrderResponse
	for _, o := range p.orders {
		if o.Status == "open" {
			open = append(open, o)
		}
	}
	return open, nil
}

func (p *PaperExchange) FetchPositions(ctx context.Context) ([]PositionSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PositionSnapshot(nil), p.positions...), nil
}

func (p *PaperExchange) FetchBalances(ctx context.Context) (map[string]market.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]market.Balance, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out, nil
}
