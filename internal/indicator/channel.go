package indicator

import "fmt"

// DonchianHigh returns the highest high over the trailing lookback window.
func DonchianHigh(highs []float64, lookback int) (float64, error) {
	if lookback <= 0 {
		return 0, fmt.Errorf("lookback must be > 0")
	}
	if len(highs) < lookback {
		return 0, fmt.Errorf("not enough values for donchian high: have %d, need %d", len(highs), lookback)
	}
	window := highs[len(highs)-lookback:]
	high := window[0]
	for _, h := range window[1:] {
		if h > high {
			high = h
		}
	}
	return high, nil
}

// DonchianLow returns the lowest low over the trailing lookback window.
func DonchianLow(lows []float64, lookback int) (float64, error) {
	if lookback <= 0 {
		return 0, fmt.Errorf("lookback must be > 0")
	}
	if len(lows) < lookback {
		return 0, fmt.Errorf("not enough values for donchian low: have %d, need %d", len(lows), lookback)
	}
	window := lows[len(lows)-lookback:]
	low := window[0]
	for _, l := range window[1:] {
		if l < low {
			low = l
		}
	}
	return low, nil
}

// ImpulsePct returns the percent change between the close lookbackBars ago
// and the latest close.
func ImpulsePct(closes []float64, lookbackBars int) (float64, error) {
	if lookbackBars <= 0 {
		return 0, fmt.Errorf("lookback_bars must be > 0")
	}
	if len(closes) <= lookbackBars {
		return 0, fmt.Errorf("not enough values for impulse: have %d, need %d", len(closes), lookbackBars+1)
	}
	start := closes[len(closes)-lookbackBars-1]
	end := closes[len(closes)-1]
	if start == 0 {
		return 0, fmt.Errorf("start close is zero")
	}
	return ((end - start) / start) * 100, nil
}
