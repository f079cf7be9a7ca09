package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/defoss123-ai/bot13/internal/journal"
)

// Memory is an in-memory Storage used by tests and ephemeral paper runs.
type Memory struct {
	mu           sync.RWMutex
	settings     map[string]string
	pairs        map[string]Pair
	trades       []Trade
	orders       []Order
	positions    map[string]Position
	zeroFee      map[string]bool
	events       []journal.Event
	nextTradeID  int64
	nextOrderRow int64
}

func NewMemory() *Memory {
	m := &Memory{
		settings:  make(map[string]string),
		pairs:     make(map[string]Pair),
		positions: make(map[string]Position),
		zeroFee:   make(map[string]bool),
	}
	for k, v := range DefaultSettings {
		m.settings[k] = v
	}
	return m
}

func (m *Memory) Close() error { return nil }

func (m *Memory) GetSetting(ctx context.Context, key, def string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.settings[key]; ok {
		return v, nil
	}
	return def, nil
}

func (m *Memory) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *Memory) ListPairs(ctx context.Context) ([]Pair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pairs := make([]Pair, 0, len(m.pairs))
	for _, p := range m.pairs {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Symbol < pairs[j].Symbol })
	return pairs, nil
}

func (m *Memory) UpsertPair(ctx context.Context, p Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[p.Symbol] = p
	return nil
}

func (m *Memory) DeletePair(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pairs, symbol)
	return nil
}

func (m *Memory) InsertTrade(ctx context.Context, t Trade) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTradeID++
	t.ID = m.nextTradeID
	m.trades = append(m.trades, t)
	return t.ID, nil
}

func (m *Memory) ListTrades(ctx context.Context, limit int) ([]Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.trades) {
		limit = len(m.trades)
	}
	out := make([]Trade, 0, limit)
	for i := len(m.trades) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.trades[i])
	}
	return out, nil
}

func (m *Memory) InsertOrder(ctx context.Context, o Order) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.Ts.IsZero() {
		o.Ts = time.Now().UTC()
	}
	m.nextOrderRow++
	o.ID = m.nextOrderRow
	m.orders = append(m.orders, o)
	return o.ID, nil
}

func (m *Memory) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.orders {
		if m.orders[i].OrderID == orderID {
			m.orders[i].Status = status
		}
	}
	return nil
}

func isOpenStatus(status string) bool {
	return status != "closed" && status != "canceled"
}

func (m *Memory) ListOpenOrders(ctx context.Context) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var open []Order
	for i := len(m.orders) - 1; i >= 0; i-- {
		if isOpenStatus(m.orders[i].Status) {
			open = append(open, m.orders[i])
		}
	}
	return open, nil
}

func (m *Memory) DeleteOpenOrdersNotIn(ctx context.Context, orderIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep := make(map[string]bool, len(orderIDs))
	for _, id := range orderIDs {
		keep[id] = true
	}
	var kept []Order
	for _, o := range m.orders {
		if !isOpenStatus(o.Status) || keep[o.OrderID] {
			kept = append(kept, o)
		}
	}
	m.orders = kept
	return nil
}

func (m *Memory) UpsertPosition(ctx context.Context, p Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	m.positions[p.Symbol] = p
	return nil
}

func (m *Memory) ListPositions(ctx context.Context) ([]Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	positions := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

func (m *Memory) DeletePositionsNotIn(ctx context.Context, symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		keep[s] = true
	}
	for sym := range m.positions {
		if !keep[sym] {
			delete(m.positions, sym)
		}
	}
	return nil
}

func (m *Memory) ListZeroFeeSymbols(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var symbols []string
	for s, enabled := range m.zeroFee {
		if enabled {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (m *Memory) SetZeroFeeSymbol(ctx context.Context, symbol string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zeroFee[symbol] = enabled
	return nil
}

func (m *Memory) ImportZeroFeeSymbols(ctx context.Context, symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range symbols {
		if s == "" {
			continue
		}
		m.zeroFee[s] = true
	}
	return nil
}

func (m *Memory) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	m.events = append(m.events, event)
	return nil
}

func (m *Memory) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type != eventType {
			continue
		}
		if e.Time.Before(start) || e.Time.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

var _ Storage = (*Memory)(nil)
var _ Storage = (*Default)(nil)
