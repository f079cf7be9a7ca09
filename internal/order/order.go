// Package order
package order

import (
	"strings"
	"time"
)

// OrderRequest represents a new order to be submitted.
type OrderRequest struct {
	Symbol     string
	Side       string // "buy" or "sell"
	Type       string // "market", "limit" or "stop"
	Price      float64
	Quantity   float64
	StopPrice  float64 // for stop orders
	ReduceOnly bool    // close-only orders never open new exposure
}

// OrderResponse represents the response from the exchange.
type OrderResponse struct {
	OrderID   string
	Status    string
	FilledQty float64
	AvgPrice  float64
	Timestamp time.Time
	Symbol    string
	Side      string
	Type      string
	Price     float64
	Quantity  float64
}

// IsTerminalFill reports whether the order reached a filled/closed state.
func (o OrderResponse) IsTerminalFill() bool {
	switch strings.ToLower(o.Status) {
	case "closed", "filled":
		return true
	}
	return false
}

// FillPct returns filled/requested as a percentage.
func (o OrderResponse) FillPct(requested float64) float64 {
	if requested <= 0 {
		return 0
	}
	return o.FilledQty / requested * 100.0
}
