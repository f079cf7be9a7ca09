package strategy

import (
	"fmt"
	"sort"

	"github.com/defoss123-ai/bot13/internal/candle"
	"github.com/defoss123-ai/bot13/internal/indicator"
)

// MarketData is the per-symbol input to signal evaluation: raw series plus
// precomputed indicator snapshots keyed by name (ema_21, rsi_14, ...).
type MarketData struct {
	Highs      []float64
	Lows       []float64
	Closes     []float64
	Volumes    []float64
	Indicators map[string]float64
}

// Result is the outcome of evaluating a strategy against one symbol.
type Result struct {
	Signal  bool
	Score   int
	Reason  string
	Reasons []string
}

// BuildMarketData derives the indicator snapshot the stock blocks consume.
// Indicators that cannot be computed from the available history are simply
// absent; the blocks that need them fail closed.
func BuildMarketData(candles []candle.Candle) MarketData {
	data := MarketData{
		Highs:      candle.Highs(candles),
		Lows:       candle.Lows(candles),
		Closes:     candle.Closes(candles),
		Volumes:    candle.Volumes(candles),
		Indicators: make(map[string]float64),
	}

	setLast := func(name string, series []float64, err error) {
		if err == nil && len(series) > 0 {
			data.Indicators[name] = series[len(series)-1]
		}
	}

	for _, period := range []int{21, 50, 200} {
		series, err := indicator.EMA(data.Closes, period)
		setLast(fmt.Sprintf("ema_%d", period), series, err)
	}
	rsiSeries, err := indicator.RSI(data.Closes, 14)
	setLast("rsi_14", rsiSeries, err)
	atrSeries, err := indicator.ATR(data.Highs, data.Lows, data.Closes, 14)
	setLast("atr_14", atrSeries, err)

	if high, err := indicator.DonchianHigh(data.Highs, 30); err == nil {
		data.Indicators["donchian_high_30"] = high
	}
	if low, err := indicator.DonchianLow(data.Lows, 30); err == nil {
		data.Indicators["donchian_low_30"] = low
	}
	if imp, err := indicator.ImpulsePct(data.Closes, 5); err == nil {
		data.Indicators["impulse_5"] = imp
	}

	return data
}

// Evaluate runs every enabled block against the market data and combines
// the outcomes per the config mode.
func Evaluate(cfg Config, data MarketData) Result {
	if len(data.Closes) == 0 {
		return Result{Reason: "no_data", Reasons: []string{"No close data"}}
	}

	names := make([]string, 0, len(cfg.EnabledBlocks))
	for name := range cfg.EnabledBlocks {
		names = append(names, name)
	}
	sort.Strings(names)

	var passed []bool
	var reasons []string
	score := 0

	for _, name := range names {
		block := cfg.EnabledBlocks[name]
		if !block.Enabled {
			continue
		}
		ok, detail := evalBlock(name, block, data)
		passed = append(passed, ok)
		status := "fail"
		if ok {
			status = "ok"
			if block.Weight > 0 {
				score += block.Weight
			}
		}
		reasons = append(reasons, fmt.Sprintf("%s:%s(%s)", name, status, detail))
	}

	var signal bool
	if cfg.Mode == "and" {
		signal = len(passed) > 0
		for _, ok := range passed {
			if !ok {
				signal = false
				break
			}
		}
	} else {
		signal = score >= cfg.MinScore
	}

	reason := "no_signal"
	if signal {
		reason = "signal"
	}
	return Result{Signal: signal, Score: score, Reason: reason, Reasons: reasons}
}

func evalBlock(name string, block BlockConfig, data MarketData) (bool, string) {
	close := data.Closes[len(data.Closes)-1]
	ind := data.Indicators

	switch name {
	case "trend_ema":
		fast, fastOK := ind["ema_50"]
		slow, slowOK := ind["ema_200"]
		if !fastOK || !slowOK {
			return false, "ema_unavailable"
		}
		return fast > slow, fmt.Sprintf("ema50=%.6f ema200=%.6f", fast, slow)

	case "impulse_gate":
		minPct := paramFloat(block.Params, "min_pct", 0.25)
		impulse, ok := ind["impulse_5"]
		if !ok {
			return false, "impulse_unavailable"
		}
		return impulse >= minPct, fmt.Sprintf("impulse=%.4f min_pct=%g", impulse, minPct)

	case "volume_filter":
		lookback := paramInt(block.Params, "lookback", 20)
		mult := paramFloat(block.Params, "mult", 1.2)
		if len(data.Volumes) <= lookback {
			return false, "not_enough_volume"
		}
		var baseline float64
		for _, v := range data.Volumes[len(data.Volumes)-lookback-1 : len(data.Volumes)-1] {
			baseline += v
		}
		baseline /= float64(lookback)
		if baseline <= 0 {
			return false, "baseline_volume_zero"
		}
		ratio := data.Volumes[len(data.Volumes)-1] / baseline
		return ratio >= mult, fmt.Sprintf("ratio=%.4f min=%g", ratio, mult)

	case "pullback_ema":
		emaValue, ok := ind["ema_21"]
		if !ok {
			return false, "ema21_unavailable"
		}
		confirmClose := paramBool(block.Params, "confirm_close", true)
		nearEMA := close <= emaValue*1.01
		confirmed := true
		if confirmClose && len(data.Closes) > 1 {
			confirmed = close > data.Closes[len(data.Closes)-2]
		}
		return nearEMA && confirmed, fmt.Sprintf("near_ema=%t confirmed=%t", nearEMA, confirmed)

	case "breakout_donchian":
		channelHigh, ok := ind["donchian_high_30"]
		if !ok {
			return false, "donchian_unavailable"
		}
		return close > channelHigh, fmt.Sprintf("close=%.6f channel_high=%.6f", close, channelHigh)

	case "rsi_filter":
		rsiValue, ok := ind["rsi_14"]
		if !ok {
			return false, "rsi_unavailable"
		}
		rsiMin := paramFloat(block.Params, "rsi_min", 35)
		rsiMax := paramFloat(block.Params, "rsi_max", 70)
		return rsiMin <= rsiValue && rsiValue <= rsiMax,
			fmt.Sprintf("rsi=%.4f range=[%g, %g]", rsiValue, rsiMin, rsiMax)
	}

	// Unknown blocks pass so a newer config does not brick an older binary.
	return true, "unknown_block_skipped"
}

func paramFloat(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return def
}

func paramInt(params map[string]any, key string, def int) int {
	return int(paramFloat(params, key, float64(def)))
}

func paramBool(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}
