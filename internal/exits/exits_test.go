package exits

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defoss123-ai/bot13/internal/exchange"
)

func TestComputeTPSL(t *testing.T) {
	tp, sl := ComputeTPSL(100, "buy", 10, 5)
	assert.InDelta(t, 110, tp, 1e-9)
	assert.InDelta(t, 95, sl, 1e-9)

	tp, sl = ComputeTPSL(100, "sell", 10, 5)
	assert.InDelta(t, 90, tp, 1e-9)
	assert.InDelta(t, 105, sl, 1e-9)
}

func basePosition() *Position {
	return &Position{
		Symbol:     "BTCUSDT",
		Side:       "buy",
		Amount:     0.002,
		EntryPrice: 100,
		OpenedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		TPPrice:    110,
		SLPrice:    95,
	}
}

func TestEvaluateTPHit(t *testing.T) {
	p := basePosition()
	d := Evaluate(p, 111, Settings{MaxTradeDuration: time.Minute}, p.OpenedAt.Add(time.Second))
	assert.True(t, d.ShouldClose)
	assert.Equal(t, ReasonTPHit, d.Reason)
	assert.Equal(t, 111.0, d.ExitPrice)
}

func TestEvaluateSLHit(t *testing.T) {
	p := basePosition()
	d := Evaluate(p, 94, Settings{MaxTradeDuration: time.Minute}, p.OpenedAt.Add(time.Second))
	assert.True(t, d.ShouldClose)
	assert.Equal(t, ReasonSLHit, d.Reason)
}

func TestEvaluateTimeStop(t *testing.T) {
	p := basePosition()
	d := Evaluate(p, 100, Settings{MaxTradeDuration: 45 * time.Second}, p.OpenedAt.Add(46*time.Second))
	assert.True(t, d.ShouldClose)
	assert.Equal(t, ReasonTimeStop, d.Reason)
}

func TestEvaluateTPBeatsTimeStop(t *testing.T) {
	p := basePosition()
	d := Evaluate(p, 111, Settings{MaxTradeDuration: 45 * time.Second}, p.OpenedAt.Add(time.Hour))
	assert.Equal(t, ReasonTPHit, d.Reason)
}

func TestEvaluateBreakEvenFiresOnce(t *testing.T) {
	p := basePosition()
	s := Settings{
		MaxTradeDuration:    time.Minute,
		BreakEvenEnabled:    true,
		BreakEvenTriggerPct: 0.10,
		BreakEvenOffsetPct:  0.02,
	}

	// Price crosses the trigger: stop moves, no close.
	d := Evaluate(p, 100.2, s, p.OpenedAt.Add(time.Second))
	assert.False(t, d.ShouldClose)
	assert.Equal(t, ReasonBreakEvenMoved, d.Reason)
	assert.True(t, d.BreakEvenMoved)
	assert.True(t, p.BreakEvenMoved)
	assert.InDelta(t, 100.02, p.SLPrice, 1e-9)

	// Same price again: break-even already moved, nothing closes yet.
	d = Evaluate(p, 100.2, s, p.OpenedAt.Add(2*time.Second))
	assert.False(t, d.ShouldClose)
	assert.Empty(t, d.Reason)

	// Falling back to the moved stop closes as a stop-loss.
	d = Evaluate(p, 100.01, s, p.OpenedAt.Add(3*time.Second))
	assert.True(t, d.ShouldClose)
	assert.Equal(t, ReasonSLHit, d.Reason)
}

func TestEvaluateBreakEvenShortSide(t *testing.T) {
	p := &Position{
		Symbol:     "BTCUSDT",
		Side:       "sell",
		Amount:     0.002,
		EntryPrice: 100,
		OpenedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		TPPrice:    90,
		SLPrice:    105,
	}
	s := Settings{
		MaxTradeDuration:    time.Minute,
		BreakEvenEnabled:    true,
		BreakEvenTriggerPct: 0.10,
		BreakEvenOffsetPct:  0.02,
	}

	d := Evaluate(p, 99.8, s, p.OpenedAt.Add(time.Second))
	assert.Equal(t, ReasonBreakEvenMoved, d.Reason)
	assert.InDelta(t, 99.98, p.SLPrice, 1e-9)
}

func TestEvaluateBreakEvenDisabled(t *testing.T) {
	p := basePosition()
	d := Evaluate(p, 100.2, Settings{MaxTradeDuration: time.Minute}, p.OpenedAt.Add(time.Second))
	assert.False(t, d.ShouldClose)
	assert.False(t, p.BreakEvenMoved)
}

func TestClosePaperSynthesizesFill(t *testing.T) {
	p := basePosition()
	d := Decision{ShouldClose: true, Reason: ReasonTPHit, ExitPrice: 111}

	resp, err := Close(context.Background(), p, d, Settings{}, exchange.NewPaperExchange(), true)
	require.NoError(t, err)
	assert.Equal(t, "closed", resp.Status)
	assert.Equal(t, 111.0, resp.AvgPrice)
	assert.Equal(t, p.Amount, resp.FilledQty)
	assert.Equal(t, "sell", resp.Side)
}

func TestCloseLiveMarket(t *testing.T) {
	paper := exchange.NewPaperExchange()
	paper.SetTicker("BTCUSDT", 94)

	p := basePosition()
	d := Decision{ShouldClose: true, Reason: ReasonSLHit, ExitPrice: 94}

	resp, err := Close(context.Background(), p, d, Settings{ExitOrderType: "market"}, paper, false)
	require.NoError(t, err)
	assert.Equal(t, "closed", resp.Status)
	assert.Equal(t, 94.0, resp.AvgPrice)
}

func TestCloseLiveTPLimit(t *testing.T) {
	paper := exchange.NewPaperExchange()
	paper.SetTicker("BTCUSDT", 111)

	p := basePosition()
	d := Decision{ShouldClose: true, Reason: ReasonTPHit, ExitPrice: 111}

	resp, err := Close(context.Background(), p, d, Settings{ExitOrderType: "limit"}, paper, false)
	require.NoError(t, err)
	assert.Equal(t, "limit", resp.Type)
	assert.Equal(t, 111.0, resp.Price)
}

func TestRealizedPnL(t *testing.T) {
	assert.InDelta(t, 0.022, RealizedPnL("buy", 100, 111, 0.002), 1e-9)
	assert.InDelta(t, -0.022, RealizedPnL("sell", 100, 111, 0.002), 1e-9)
	assert.InDelta(t, 0.012, RealizedPnL("sell", 100, 94, 0.002), 1e-9)
}
