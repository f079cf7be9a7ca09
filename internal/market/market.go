// Package market
package market

import "time"

// Info is the venue market metadata consumed by the sizer. It is populated by
// the exchange adapter; zero values mean the venue did not report the field,
// except AmountPrecision where -1 marks "not reported" (0 is a valid precision).
type Info struct {
	Symbol          string  `json:"symbol"`
	AmountPrecision int     `json:"amount_precision"`
	AmountStep      float64 `json:"amount_step"`
	MinAmount       float64 `json:"min_amount"`
	MaxAmount       float64 `json:"max_amount"`
	MinCost         float64 `json:"min_cost"`
	MaxCost         float64 `json:"max_cost"`
	ContractSize    float64 `json:"contract_size"`
}

// Ticker is the latest traded price snapshot for a symbol.
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Close     float64   `json:"close"`
	Timestamp time.Time `json:"timestamp"`
}

// Price returns the usable price from a ticker, preferring the last trade.
func (t Ticker) Price() float64 {
	if t.Last > 0 {
		return t.Last
	}
	return t.Close
}

// Balance represents an asset balance from an exchange
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
	Total  float64 `json:"total"`
}
