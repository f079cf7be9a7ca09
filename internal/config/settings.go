package config

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/defoss123-ai/bot13/internal/db"
)

// EngineSettings are the runtime trading knobs, resolved from the settings
// table once per tick so edits take effect on the next cycle without a
// restart.
type EngineSettings struct {
	CheckInterval   time.Duration
	MaxPositions    int
	MaxPositionsAll bool
	SelectionMode   string
	RandomTopK      int
	StaleOrderTTL   time.Duration
	PaperMode       bool
	TradeOnlyZero   bool

	SizingMode        string
	SizingPercent     float64
	SizingFixedUSDT   float64
	ReserveUSDT       float64
	MaxMarginPerTrade float64

	EntryOrderType      string
	ExitOrderType       string
	LimitOffsetBps      float64
	EntryTimeout        time.Duration
	EntryRetryCount     int
	AllowMarketFallback bool
	MinFillPct          float64

	MaxTradeDuration    time.Duration
	BreakEvenEnabled    bool
	BreakEvenTriggerPct float64
	BreakEvenOffsetPct  float64
}

// ResolveSettings reads every engine knob from storage, falling back to the
// seeded defaults on missing or malformed values. Malformed rows never fail
// the tick.
func ResolveSettings(ctx context.Context, storage db.Storage) (EngineSettings, error) {
	get := func(key string) string {
		v, err := storage.GetSetting(ctx, key, db.DefaultSettings[key])
		if err != nil || strings.TrimSpace(v) == "" {
			return db.DefaultSettings[key]
		}
		return strings.TrimSpace(v)
	}

	s := EngineSettings{
		SelectionMode:       strings.ToLower(get("selection_mode")),
		RandomTopK:          asInt(get("random_top_k"), 3),
		PaperMode:           asBool(get("paper_mode")),
		TradeOnlyZero:       asBool(get("trade_only_zero_fee")),
		SizingMode:          strings.ToLower(get("sizing_mode")),
		SizingPercent:       asFloat(get("sizing_percent"), 10),
		SizingFixedUSDT:     asFloat(get("sizing_fixed_usdt"), 20),
		ReserveUSDT:         asFloat(get("sizing_reserve_usdt"), 10),
		MaxMarginPerTrade:   asFloat(get("max_margin_per_trade_usdt"), 200),
		EntryOrderType:      strings.ToLower(get("entry_order_type")),
		ExitOrderType:       strings.ToLower(get("exit_order_type")),
		LimitOffsetBps:      asFloat(get("limit_offset_bps"), 2),
		EntryRetryCount:     asInt(get("entry_retry_count"), 0),
		AllowMarketFallback: asBool(get("allow_market_fallback")),
		MinFillPct:          asFloat(get("min_fill_pct"), 80),
		BreakEvenEnabled:    asBool(get("break_even_enabled")),
		BreakEvenTriggerPct: asFloat(get("break_even_trigger_pct"), 0.10),
		BreakEvenOffsetPct:  asFloat(get("break_even_offset_pct"), 0.02),
	}

	interval := asInt(get("check_interval_sec"), 5)
	if interval < 1 {
		interval = 1
	}
	s.CheckInterval = time.Duration(interval) * time.Second

	maxPos := get("max_concurrent_positions")
	if strings.EqualFold(maxPos, "ALL") {
		s.MaxPositionsAll = true
	} else {
		s.MaxPositions = asInt(maxPos, 1)
		if s.MaxPositions < 0 {
			s.MaxPositions = 0
		}
	}

	if s.RandomTopK < 1 {
		s.RandomTopK = 1
	}

	s.StaleOrderTTL = time.Duration(asInt(get("stale_order_ttl_sec"), 300)) * time.Second
	s.EntryTimeout = time.Duration(asInt(get("entry_timeout_sec"), 30)) * time.Second
	s.MaxTradeDuration = time.Duration(asInt(get("max_trade_duration_sec"), 45)) * time.Second

	return s, nil
}

func asInt(v string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
		return int(f)
	}
	return def
}

func asFloat(v string, def float64) float64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
		return f
	}
	return def
}

func asBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
