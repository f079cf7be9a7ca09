package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defoss123-ai/bot13/internal/db"
)

func TestResolveSettingsDefaults(t *testing.T) {
	storage := db.NewMemory()

	s, err := ResolveSettings(context.Background(), storage)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, s.CheckInterval)
	assert.Equal(t, 1, s.MaxPositions)
	assert.False(t, s.MaxPositionsAll)
	assert.Equal(t, "best_score", s.SelectionMode)
	assert.Equal(t, 3, s.RandomTopK)
	assert.Equal(t, 300*time.Second, s.StaleOrderTTL)
	assert.True(t, s.PaperMode)
	assert.Equal(t, "percent", s.SizingMode)
	assert.Equal(t, 10.0, s.SizingPercent)
	assert.Equal(t, "market", s.EntryOrderType)
	assert.Equal(t, 80.0, s.MinFillPct)
	assert.Equal(t, 45*time.Second, s.MaxTradeDuration)
	assert.True(t, s.BreakEvenEnabled)
	assert.Equal(t, 0.10, s.BreakEvenTriggerPct)
}

func TestResolveSettingsMaxPositionsAll(t *testing.T) {
	storage := db.NewMemory()
	require.NoError(t, storage.SetSetting(context.Background(), "max_concurrent_positions", "ALL"))

	s, err := ResolveSettings(context.Background(), storage)
	require.NoError(t, err)
	assert.True(t, s.MaxPositionsAll)
	assert.Equal(t, 0, s.MaxPositions)
}

func TestResolveSettingsLenientParsing(t *testing.T) {
	ctx := context.Background()
	storage := db.NewMemory()
	require.NoError(t, storage.SetSetting(ctx, "paper_mode", "Yes"))
	require.NoError(t, storage.SetSetting(ctx, "allow_market_fallback", "true"))
	require.NoError(t, storage.SetSetting(ctx, "break_even_enabled", "off"))
	require.NoError(t, storage.SetSetting(ctx, "entry_retry_count", "2.0"))
	require.NoError(t, storage.SetSetting(ctx, "min_fill_pct", "garbage"))

	s, err := ResolveSettings(ctx, storage)
	require.NoError(t, err)
	assert.True(t, s.PaperMode)
	assert.True(t, s.AllowMarketFallback)
	assert.False(t, s.BreakEvenEnabled)
	assert.Equal(t, 2, s.EntryRetryCount)
	assert.Equal(t, 80.0, s.MinFillPct, "malformed value falls back to default")
}

func TestResolveSettingsClampsInterval(t *testing.T) {
	ctx := context.Background()
	storage := db.NewMemory()
	require.NoError(t, storage.SetSetting(ctx, "check_interval_sec", "0"))
	require.NoError(t, storage.SetSetting(ctx, "random_top_k", "-5"))

	s, err := ResolveSettings(ctx, storage)
	require.NoError(t, err)
	assert.Equal(t, time.Second, s.CheckInterval)
	assert.Equal(t, 1, s.RandomTopK)
}
