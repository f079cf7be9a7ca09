package indicator

import (
	"fmt"
	"math"
)

// ATR returns the Wilder-smoothed average true range series.
func ATR(highs, lows, closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be > 0")
	}
	if len(highs) != len(lows) || len(lows) != len(closes) {
		return nil, fmt.Errorf("highs, lows, closes must have same length")
	}
	if len(closes) < period+1 {
		return nil, fmt.Errorf("not enough values for atr: have %d, need %d", len(closes), period+1)
	}

	trueRanges := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		tr := math.Max(highs[i]-lows[i], math.Max(
			math.Abs(highs[i]-closes[i-1]),
			math.Abs(lows[i]-closes[i-1])))
		trueRanges = append(trueRanges, tr)
	}

	var initial float64
	for _, tr := range trueRanges[:period] {
		initial += tr
	}
	initial /= float64(period)

	result := make([]float64, 0, len(trueRanges)-period+1)
	result = append(result, initial)
	prev := initial
	for _, tr := range trueRanges[period:] {
		prev = (prev*float64(period-1) + tr) / float64(period)
		result = append(result, prev)
	}
	return result, nil
}
