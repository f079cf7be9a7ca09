// Package indicator
package indicator

import "fmt"

// EMA returns the exponential moving average series seeded with the SMA of
// the first period values. The result has len(values)-period+1 entries, one
// per bar from the seed onward.
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be > 0")
	}
	if len(values) < period {
		return nil, fmt.Errorf("not enough values for ema: have %d, need %d", len(values), period)
	}

	multiplier := 2.0 / float64(period+1)
	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)

	result := make([]float64, 0, len(values)-period+1)
	result = append(result, seed)
	prev := seed
	for _, price := range values[period:] {
		prev = (price-prev)*multiplier + prev
		result = append(result, prev)
	}
	return result, nil
}
