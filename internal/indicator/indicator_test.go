package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCloses = []float64{100, 101, 102, 101, 103, 104, 106, 105, 107, 108, 110, 109, 111, 113, 112, 114}

func TestEMA(t *testing.T) {
	vals, err := EMA(testCloses, 5)
	require.NoError(t, err)
	assert.Len(t, vals, len(testCloses)-5+1)

	// Seed is the SMA of the first 5 closes.
	assert.InDelta(t, (100.0+101+102+101+103)/5, vals[0], 1e-9)

	// Second value applies the standard multiplier to the next close.
	mult := 2.0 / 6.0
	assert.InDelta(t, (104-vals[0])*mult+vals[0], vals[1], 1e-9)
}

func TestEMANotEnoughData(t *testing.T) {
	_, err := EMA([]float64{1, 2, 3}, 5)
	assert.Error(t, err)

	_, err = EMA(testCloses, 0)
	assert.Error(t, err)
}

func TestRSI(t *testing.T) {
	vals, err := RSI(testCloses, 14)
	require.NoError(t, err)
	assert.Len(t, vals, len(testCloses)-14)
	for _, v := range vals {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestRSIAllGainsPinsAt100(t *testing.T) {
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	vals, err := RSI(rising, 14)
	require.NoError(t, err)
	for _, v := range vals {
		assert.Equal(t, 100.0, v)
	}
}

func TestATR(t *testing.T) {
	highs := make([]float64, len(testCloses))
	lows := make([]float64, len(testCloses))
	for i, c := range testCloses {
		highs[i] = c + 1.5
		lows[i] = c - 1.5
	}
	vals, err := ATR(highs, lows, testCloses, 14)
	require.NoError(t, err)
	assert.Len(t, vals, len(testCloses)-14)
	for _, v := range vals {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestATRLengthMismatch(t *testing.T) {
	_, err := ATR([]float64{1, 2}, []float64{1}, []float64{1, 2}, 1)
	assert.Error(t, err)
}

func TestDonchian(t *testing.T) {
	high, err := DonchianHigh([]float64{1, 9, 3, 7, 5}, 3)
	require.NoError(t, err)
	assert.Equal(t, 7.0, high)

	low, err := DonchianLow([]float64{1, 9, 3, 7, 5}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, low)

	_, err = DonchianHigh([]float64{1, 2}, 3)
	assert.Error(t, err)
}

func TestImpulsePct(t *testing.T) {
	pct, err := ImpulsePct([]float64{100, 101, 102, 103, 104, 110}, 5)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, pct, 1e-9)

	_, err = ImpulsePct([]float64{100, 110}, 5)
	assert.Error(t, err)

	_, err = ImpulsePct([]float64{0, 1, 2}, 2)
	assert.Error(t, err)
}
