package indicator

import "fmt"

// RSI returns the Wilder-smoothed relative strength index series. It needs
// period+1 values for the first reading; when average loss is zero RSI is
// pinned at 100.
func RSI(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be > 0")
	}
	if len(values) < period+1 {
		return nil, fmt.Errorf("not enough values for rsi: have %d, need %d", len(values), period+1)
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss += -delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	calc := func(g, l float64) float64 {
		if l == 0 {
			return 100
		}
		rs := g / l
		return 100 - (100 / (1 + rs))
	}

	result := make([]float64, 0, len(values)-period)
	result = append(result, calc(avgGain, avgLoss))

	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		var gain, loss float64
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		result = append(result, calc(avgGain, avgLoss))
	}
	return result, nil
}
