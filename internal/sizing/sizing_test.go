package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defoss123-ai/bot13/internal/market"
)

func TestComputeMargin(t *testing.T) {
	tests := []struct {
		name     string
		free     float64
		settings Settings
		want     float64
	}{
		{
			name:     "percent mode",
			free:     110,
			settings: Settings{Mode: "percent", Percent: 10, ReserveUSDT: 10, MaxMarginPerTrade: 200},
			want:     10, // (110-10) * 10%
		},
		{
			name:     "fixed mode",
			free:     110,
			settings: Settings{Mode: "fixed", FixedUSDT: 20, ReserveUSDT: 10, MaxMarginPerTrade: 200},
			want:     20,
		},
		{
			name:     "full mode",
			free:     110,
			settings: Settings{Mode: "full", ReserveUSDT: 10, MaxMarginPerTrade: 200},
			want:     100,
		},
		{
			name:     "capped by max margin",
			free:     1000,
			settings: Settings{Mode: "full", ReserveUSDT: 0, MaxMarginPerTrade: 200},
			want:     200,
		},
		{
			name:     "capped by usable",
			free:     15,
			settings: Settings{Mode: "fixed", FixedUSDT: 50, ReserveUSDT: 10, MaxMarginPerTrade: 200},
			want:     5,
		},
		{
			name:     "reserve exceeds balance",
			free:     5,
			settings: Settings{Mode: "percent", Percent: 10, ReserveUSDT: 10},
			want:     0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ComputeMargin(tt.free, tt.settings), 1e-9)
		})
	}
}

func TestComputeOrderAmount(t *testing.T) {
	info := market.Info{
		AmountPrecision: 4,
		AmountStep:      0.0001,
		MinAmount:       0.0001,
	}

	// 20 USDT margin at 5x on a 50000 price: 100/50000 = 0.002.
	res, err := ComputeOrderAmount(50000, 20, 5, info)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.InDelta(t, 0.002, res.Quantity, 1e-9)
	assert.InDelta(t, 100, res.Cost, 1e-6)
}

func TestComputeOrderAmountRejections(t *testing.T) {
	info := market.Info{AmountPrecision: 4, AmountStep: 0.0001, MinAmount: 0.0001}

	res, err := ComputeOrderAmount(50000, 0, 5, info)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "Non-positive margin", res.Reason)

	// Too small to survive rounding.
	res, err = ComputeOrderAmount(50000, 0.1, 1, info)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "qty_after_round")

	// Below minimum cost.
	info.MinCost = 500
	res, err = ComputeOrderAmount(50000, 20, 1, info)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "minCost")
}

func TestComputeOrderAmountInvalidInputs(t *testing.T) {
	_, err := ComputeOrderAmount(0, 20, 5, market.Info{AmountPrecision: -1})
	assert.Error(t, err)

	_, err = ComputeOrderAmount(100, 20, 0, market.Info{AmountPrecision: -1})
	assert.Error(t, err)
}

func TestContractDenominatedMinimumFallsBackToStep(t *testing.T) {
	// Venue reports min amount 1 contract on a high-price asset.
	info := market.Info{
		AmountPrecision: 3,
		AmountStep:      0.001,
		MinAmount:       1,
	}
	res, err := ComputeOrderAmount(50000, 20, 5, info)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.InDelta(t, 0.001, res.MinQty, 1e-9, "min falls back to step")
	assert.InDelta(t, 0.002, res.Quantity, 1e-9)
}

func TestContractSizeScalesMinimum(t *testing.T) {
	// Min amount of 5 contracts of 0.001 base each becomes 0.005 base.
	info := market.Info{
		AmountPrecision: 3,
		AmountStep:      0.001,
		MinAmount:       5,
		ContractSize:    0.001,
	}
	res, err := ComputeOrderAmount(50000, 20, 5, info)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.InDelta(t, 0.005, res.MinQty, 1e-9)
	assert.Contains(t, res.Reason, "minQty")
}

func TestApplyPrecision(t *testing.T) {
	assert.InDelta(t, 0.002, ApplyPrecision(0.00234, 4, 0.001), 1e-12)
	assert.InDelta(t, 0.0023, ApplyPrecision(0.00234, 4, 0), 1e-12)
	assert.Equal(t, 0.0, ApplyPrecision(-1, 4, 0.001))
	// Precision -1 means not reported; only the step applies.
	assert.InDelta(t, 0.002, ApplyPrecision(0.0029, -1, 0.001), 1e-12)
}
