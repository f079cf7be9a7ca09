// Package sizing
package sizing

import (
	"fmt"
	"math"

	"github.com/defoss123-ai/bot13/internal/market"
)

// Settings are the margin-allocation knobs.
type Settings struct {
	Mode              string // "percent", "fixed", or "full"
	Percent           float64
	FixedUSDT         float64
	ReserveUSDT       float64
	MaxMarginPerTrade float64
}

// Result carries the computed quantity plus the diagnostics needed to
// explain a rejection.
type Result struct {
	Quantity   float64
	OK         bool
	Reason     string
	RawQty     float64
	RoundedQty float64
	Cost       float64
	MinQty     float64
	MinCost    float64
	Step       float64
	Precision  int
}

// ComputeMargin decides how much margin (USDT) a new trade may use. The
// reserve is always held back; the result is clamped to both the usable
// balance and the per-trade cap.
func ComputeMargin(balanceFree float64, s Settings) float64 {
	usable := math.Max(0, balanceFree-s.ReserveUSDT)
	maxMargin := s.MaxMarginPerTrade
	if maxMargin <= 0 {
		maxMargin = balanceFree
	}

	var margin float64
	switch s.Mode {
	case "full":
		margin = usable
	case "fixed":
		margin = s.FixedUSDT
	default:
		margin = usable * (s.Percent / 100)
	}

	return math.Max(0, math.Min(margin, math.Min(usable, maxMargin)))
}

// ComputeOrderAmount converts margin and leverage into a venue-acceptable
// base quantity, honoring the market's precision, step, and minimums. A
// rejected size returns OK=false with the reason and diagnostics populated.
func ComputeOrderAmount(price, marginUSDT float64, leverage int, info market.Info) (Result, error) {
	if price <= 0 {
		return Result{}, fmt.Errorf("price must be > 0")
	}
	if leverage <= 0 {
		return Result{}, fmt.Errorf("leverage must be > 0")
	}

	minQty, step, precision := resolveMinQty(price, info)
	res := Result{
		MinQty:    minQty,
		MinCost:   info.MinCost,
		Step:      step,
		Precision: precision,
	}

	if marginUSDT <= 0 {
		res.Reason = "Non-positive margin"
		return res, nil
	}

	notional := marginUSDT * float64(leverage)
	res.RawQty = notional / price
	res.RoundedQty = ApplyPrecision(res.RawQty, precision, step)
	res.Cost = res.RoundedQty * price

	if res.RoundedQty <= 0 {
		res.Reason = "qty_after_round <= 0"
		return res, nil
	}
	if minQty > 0 && res.RoundedQty < minQty {
		res.Reason = fmt.Sprintf("qty_rounded < minQty (%g < %g)", res.RoundedQty, minQty)
		return res, nil
	}
	if info.MinCost > 0 && res.Cost < info.MinCost {
		res.Reason = fmt.Sprintf("notional < minCost (%g < %g)", res.Cost, info.MinCost)
		return res, nil
	}

	res.OK = true
	res.Quantity = res.RoundedQty
	return res, nil
}

// resolveMinQty works around venues that report the minimum amount in
// contracts rather than base units. A min of >=1 on an asset priced >=100
// is obviously contract-denominated, so fall back to the step (or the
// precision-derived step) as the effective minimum.
func resolveMinQty(price float64, info market.Info) (minQty, step float64, precision int) {
	minQty = info.MinAmount
	step = info.AmountStep
	precision = info.AmountPrecision

	if info.ContractSize > 0 && minQty >= 1 {
		minQty *= info.ContractSize
	}

	if minQty >= 1 && price >= 100 {
		switch {
		case step > 0:
			minQty = step
		case precision >= 0:
			minQty = math.Pow(10, -float64(precision))
		}
	}

	if step <= 0 && precision >= 0 {
		step = math.Pow(10, -float64(precision))
	}

	return minQty, step, precision
}

// ApplyPrecision rounds to the decimal precision (when >= 0) then floors to
// the step so the result never exceeds the requested amount's step grid.
func ApplyPrecision(amount float64, precision int, step float64) float64 {
	if amount <= 0 {
		return 0
	}
	result := amount
	if precision >= 0 {
		factor := math.Pow(10, float64(precision))
		result = math.Round(result*factor) / factor
	}
	if step > 0 {
		units := math.Floor(result / step)
		result = units * step
	}
	return math.Max(0, result)
}
