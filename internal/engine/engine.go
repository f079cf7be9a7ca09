// Package engine
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/defoss123-ai/bot13/internal/config"
	"github.com/defoss123-ai/bot13/internal/db"
	"github.com/defoss123-ai/bot13/internal/exchange"
	"github.com/defoss123-ai/bot13/internal/executor"
	"github.com/defoss123-ai/bot13/internal/exits"
	"github.com/defoss123-ai/bot13/internal/journal"
	"github.com/defoss123-ai/bot13/internal/metrics"
	"github.com/defoss123-ai/bot13/internal/notifier"
	"github.com/defoss123-ai/bot13/internal/sizing"
	"github.com/defoss123-ai/bot13/internal/strategy"
	"github.com/defoss123-ai/bot13/internal/utils"
)

const (
	signalTimeframe   = "1m"
	signalCandleLimit = 200
	staleSweepGap     = 30 * time.Second
	stopJoinTimeout   = 5 * time.Second
	fallbackBalance   = 100.0
)

// Engine runs the trading loop: one goroutine ticking on the configured
// interval, managing open positions, scoring flat pairs, and opening new
// entries. All position state is touched only from the loop goroutine.
type Engine struct {
	storage  db.Storage
	ex       exchange.Exchange
	exec     *executor.Executor
	notifier notifier.Notifier

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	positions      map[string]*exits.Position
	rrCursor       int
	lastStaleSweep time.Time
	rng            *rand.Rand
}

// New builds an Engine. A nil notifier degrades to no-op notifications.
func New(storage db.Storage, ex exchange.Exchange, n notifier.Notifier) *Engine {
	if n == nil {
		n = &notifier.Noop{}
	}
	return &Engine{
		storage:   storage,
		ex:        ex,
		exec:      executor.New(ex, nil),
		notifier:  n,
		positions: make(map[string]*exits.Position),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start reconciles persisted state against the venue, rebuilds the
// in-memory position map, and spawns the loop. Calling Start on a running
// engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	logger := utils.GetLogger()

	// Reconciliation is best-effort: a venue outage must not block startup.
	if _, _, err := SyncExchangeState(ctx, e.storage, e.ex); err != nil {
		logger.Printf("Engine | state sync failed: %v", err)
	}
	restored, err := restorePositions(ctx, e.storage, time.Now().UTC())
	if err != nil {
		logger.Printf("Engine | position restore failed: %v", err)
		restored = make(map[string]*exits.Position)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.positions = restored
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.running = true
	go e.runLoop(e.stopCh, e.doneCh)
	logger.Printf("Engine | started")
}

// Stop signals the loop and waits for it to drain, bounded so a stuck
// venue call cannot hang the caller. Stopping an idle engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(stopJoinTimeout):
		utils.GetLogger().Printf("Engine | stop timed out waiting for loop to drain")
	}

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	utils.GetLogger().Printf("Engine | stopped")
}

// PanicStop halts the loop and, outside paper mode, cancels every open
// order on the venue.
func (e *Engine) PanicStop(ctx context.Context) {
	logger := utils.GetLogger()
	paperMode := e.settingBool(ctx, "paper_mode", true)

	e.Stop()

	if paperMode {
		logger.Printf("Engine | panic stop in paper mode: only logging, no exchange cancel calls")
		return
	}
	canceled := e.CancelAllOpenOrders(ctx, "")
	logger.Printf("Engine | panic stop completed: canceled %d open orders", canceled)
}

// CancelAllOpenOrders cancels every open order on the venue, optionally
// filtered by symbol, and returns the number canceled. Per-order failures
// are logged and skipped.
func (e *Engine) CancelAllOpenOrders(ctx context.Context, symbol string) int {
	logger := utils.GetLogger()

	openOrders, err := e.ex.FetchOpenOrders(ctx)
	if err != nil {
		logger.Printf("Engine | failed to fetch open orders for cancel: %v", err)
		return 0
	}

	canceled := 0
	for _, o := range openOrders {
		if symbol != "" && !strings.EqualFold(o.Symbol, symbol) {
			continue
		}
		if o.OrderID == "" {
			continue
		}
		if err := e.ex.CancelOrder(ctx, o.OrderID, o.Symbol); err != nil {
			logger.Printf("Engine | failed to cancel order %s (%s): %v", o.OrderID, o.Symbol, err)
			continue
		}
		canceled++
		logger.Printf("Engine | canceled open order %s (%s)", o.OrderID, o.Symbol)
	}
	return canceled
}

func (e *Engine) runLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	logger := utils.GetLogger()
	ctx := context.Background()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		settings, err := config.ResolveSettings(ctx, e.storage)
		if err != nil {
			logger.Printf("Engine | failed to resolve settings: %v", err)
			settings.CheckInterval = 5 * time.Second
		}

		e.safeTick(ctx, settings)

		select {
		case <-stopCh:
			return
		case <-time.After(settings.CheckInterval):
		}
	}
}

// safeTick isolates one cycle: a panic or error in a tick is logged and
// the loop carries on.
func (e *Engine) safeTick(ctx context.Context, settings config.EngineSettings) {
	defer func() {
		if r := recover(); r != nil {
			utils.GetLogger().Printf("Engine | tick panic recovered: %v", r)
			metrics.IncTickError()
		}
	}()
	metrics.IncTick()
	if err := e.tick(ctx, settings); err != nil {
		utils.GetLogger().Printf("Engine | tick error: %v", err)
		metrics.IncTickError()
	}
}

func (e *Engine) tick(ctx context.Context, settings config.EngineSettings) error {
	logger := utils.GetLogger()

	e.maybeSweepStaleOrders(ctx, settings.StaleOrderTTL)

	strategyCfg := strategy.LoadConfig(ctx, e.storage)

	e.processOpenPositions(ctx, settings)
	metrics.SetOpenPositions(len(e.positions))

	pairs, err := e.storage.ListPairs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pairs: %w", err)
	}
	var active []db.Pair
	for _, p := range pairs {
		if !p.Enabled {
			continue
		}
		if _, open := e.positions[p.Symbol]; open {
			continue
		}
		active = append(active, p)
	}
	active = e.applyZeroFeeFilter(ctx, active, settings.TradeOnlyZero)
	logger.Printf("Engine | loop tick: %d active symbols", len(active))

	var candidates []Candidate
	for _, pair := range active {
		symbol := strings.TrimSpace(pair.Symbol)
		if symbol == "" {
			continue
		}
		cand, ok, err := e.evaluateSymbol(ctx, symbol, pair, strategyCfg)
		if err != nil {
			logger.Printf("Engine | [%s] symbol processing failed: %v", symbol, err)
			continue
		}
		if ok {
			candidates = append(candidates, cand)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	selected := e.applyPositionLimit(candidates, settings)
	freeBalance := e.fetchFreeUSDT(ctx)

	for _, cand := range selected {
		e.enterCandidate(ctx, cand, freeBalance, settings)
	}
	metrics.SetOpenPositions(len(e.positions))
	return nil
}

func (e *Engine) evaluateSymbol(ctx context.Context, symbol string, pair db.Pair, cfg strategy.Config) (Candidate, bool, error) {
	logger := utils.GetLogger()

	venueSymbol, err := e.ex.ResolveSymbol(ctx, symbol)
	if err != nil {
		return Candidate{}, false, err
	}
	candles, err := e.ex.FetchOHLCV(ctx, venueSymbol, signalTimeframe, signalCandleLimit)
	if err != nil {
		return Candidate{}, false, err
	}
	if len(candles) < 2 {
		return Candidate{}, false, fmt.Errorf("not enough OHLCV data for %s", symbol)
	}

	data := strategy.BuildMarketData(candles)
	result := strategy.Evaluate(cfg, data)
	reason := strings.Join(result.Reasons, "; ")

	if !result.Signal {
		logger.Printf("Engine | [%s] no signal reasons=%s score=%d", symbol, reason, result.Score)
		return Candidate{}, false, nil
	}
	logger.Printf("Engine | [%s] signal reasons=%s score=%d", symbol, reason, result.Score)

	info, err := e.ex.MarketInfo(ctx, venueSymbol)
	if err != nil {
		logger.Printf("Engine | [%s] market info unavailable: %v", symbol, err)
		info.AmountPrecision = -1
	}

	leverage := pair.Leverage
	if leverage < 1 {
		leverage = 1
	}
	return Candidate{
		Symbol:   symbol,
		Score:    result.Score,
		Reason:   reason,
		Leverage: leverage,
		TPPct:    pair.TPPct,
		SLPct:    pair.SLPct,
		Price:    data.Closes[len(data.Closes)-1],
		Info:     info,
	}, true, nil
}

func (e *Engine) enterCandidate(ctx context.Context, cand Candidate, freeBalance float64, settings config.EngineSettings) {
	logger := utils.GetLogger()

	marginUSDT := sizing.ComputeMargin(freeBalance, sizing.Settings{
		Mode:              settings.SizingMode,
		Percent:           settings.SizingPercent,
		FixedUSDT:         settings.SizingFixedUSDT,
		ReserveUSDT:       settings.ReserveUSDT,
		MaxMarginPerTrade: settings.MaxMarginPerTrade,
	})

	size, err := sizing.ComputeOrderAmount(cand.Price, marginUSDT, cand.Leverage, cand.Info)
	if err != nil {
		logger.Printf("Engine | [%s] sizing failed: %v", cand.Symbol, err)
		metrics.IncEntryRejection("sizing")
		return
	}
	logger.Printf("Engine | [%s] sizing: mode=%s margin_usdt=%.4f price=%.8f qty_raw=%.8f qty_rounded=%.8f minQty=%g minCost=%g",
		cand.Symbol, settings.SizingMode, marginUSDT, cand.Price, size.RawQty, size.RoundedQty, size.MinQty, size.MinCost)
	if !size.OK {
		logger.Printf("Engine | [%s] cannot enter: qty too small after precision/minQty/minCost. Increase sizing_fixed_usdt/sizing_percent or lower reserve. (%s)",
			cand.Symbol, size.Reason)
		metrics.IncEntryRejection("sizing")
		return
	}

	var (
		entryPrice  float64
		filled      float64
		orderID     string
		entryStatus string
	)
	mode := "live"
	if settings.PaperMode {
		mode = "paper"
		logger.Printf("Engine | [%s] would enter trade score=%d margin=%.4f amount=%.8f lev=%d",
			cand.Symbol, cand.Score, marginUSDT, size.Quantity, cand.Leverage)
		entryPrice = cand.Price
		filled = size.Quantity
		orderID = "paper-entry"
		entryStatus = "paper"
	} else {
		logger.Printf("Engine | [%s] placing entry order amount=%.8f side=buy", cand.Symbol, size.Quantity)
		result := e.exec.PlaceEntry(ctx, cand.Symbol, "buy", size.Quantity, executor.Settings{
			OrderType:           settings.EntryOrderType,
			RetryCount:          settings.EntryRetryCount,
			Timeout:             settings.EntryTimeout,
			AllowMarketFallback: settings.AllowMarketFallback,
			LimitOffsetBps:      settings.LimitOffsetBps,
			MinFillPct:          settings.MinFillPct,
		})
		logger.Printf("Engine | [%s] entry result success=%t status=%s filled=%.8f reason=%s",
			cand.Symbol, result.Success, result.Status, result.Filled, result.Reason)
		if !result.Success {
			metrics.IncEntryRejection("executor")
			return
		}
		entryPrice = result.AvgPrice
		if entryPrice <= 0 {
			entryPrice = cand.Price
		}
		filled = result.Filled
		orderID = result.OrderID
		entryStatus = result.Status
	}

	position := e.openPosition(ctx, cand, filled, entryPrice, settings)
	e.positions[position.Symbol] = position
	metrics.IncEntry(mode, position.Side)

	meta, _ := json.Marshal(map[string]any{"amount": filled, "entry_price": entryPrice})
	if _, err := e.storage.InsertOrder(ctx, db.Order{
		Ts:       time.Now().UTC(),
		Symbol:   position.Symbol,
		Kind:     "entry",
		OrderID:  orderID,
		Status:   entryStatus,
		MetaJSON: string(meta),
	}); err != nil {
		logger.Printf("Engine | [%s] failed to persist entry order: %v", position.Symbol, err)
	}
	if err := e.storage.UpsertPosition(ctx, db.Position{
		Symbol:     position.Symbol,
		Side:       position.Side,
		Amount:     position.Amount,
		EntryPrice: position.EntryPrice,
		Status:     "open",
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		logger.Printf("Engine | [%s] failed to persist position: %v", position.Symbol, err)
	}

	_ = e.storage.LogEvent(ctx, journal.Event{
		Time:        time.Now().UTC(),
		Type:        "entry",
		Description: fmt.Sprintf("Opened %s %s", position.Side, position.Symbol),
		Data: map[string]any{
			"symbol": position.Symbol,
			"amount": filled,
			"entry":  entryPrice,
			"score":  cand.Score,
			"mode":   mode,
		},
	})
	if err := e.notifier.SendWithRetry(fmt.Sprintf("Entered %s %s amount=%.8f entry=%.8f (%s)",
		position.Side, position.Symbol, filled, entryPrice, mode)); err != nil {
		logger.Printf("Engine | [%s] entry notification failed: %v", position.Symbol, err)
	}
}

func (e *Engine) openPosition(ctx context.Context, cand Candidate, amount, entryPrice float64, settings config.EngineSettings) *exits.Position {
	tpPrice, slPrice := exits.ComputeTPSL(entryPrice, "buy", cand.TPPct, cand.SLPct)
	position := &exits.Position{
		Symbol:         cand.Symbol,
		Side:           "buy",
		Amount:         amount,
		EntryPrice:     entryPrice,
		OpenedAt:       time.Now().UTC(),
		TPPrice:        tpPrice,
		SLPrice:        slPrice,
		InitialSLPrice: slPrice,
		Leverage:       cand.Leverage,
	}
	exits.ConfigureExits(ctx, position, e.exitSettings(settings), e.ex, settings.PaperMode)
	return position
}

func (e *Engine) processOpenPositions(ctx context.Context, settings config.EngineSettings) {
	if len(e.positions) == 0 {
		return
	}
	logger := utils.GetLogger()
	exitSettings := e.exitSettings(settings)
	now := time.Now().UTC()

	for symbol, position := range e.positions {
		ticker, err := e.ex.FetchTicker(ctx, symbol)
		if err != nil {
			logger.Printf("Engine | [%s] ticker fetch failed for open position: %v", symbol, err)
			continue
		}
		lastPrice := ticker.Price()
		if lastPrice <= 0 {
			lastPrice = position.EntryPrice
		}

		decision := exits.Evaluate(position, lastPrice, exitSettings, now)
		if decision.BreakEvenMoved {
			logger.Printf("Engine | [%s] break-even moved new_sl=%.8f", symbol, position.SLPrice)
		}
		if !decision.ShouldClose {
			continue
		}

		resp, err := exits.Close(ctx, position, decision, exitSettings, e.ex, settings.PaperMode)
		if err != nil {
			logger.Printf("Engine | [%s] failed to close position: %v", symbol, err)
			continue
		}

		filled := resp.FilledQty
		if filled <= 0 {
			filled = position.Amount
		}
		exitPrice := resp.AvgPrice
		if exitPrice <= 0 {
			exitPrice = decision.ExitPrice
		}
		if exitPrice <= 0 {
			exitPrice = lastPrice
		}
		pnl := exits.RealizedPnL(position.Side, position.EntryPrice, exitPrice, filled)

		mode := "live"
		if settings.PaperMode {
			mode = "paper"
		}
		if _, err := e.storage.InsertTrade(ctx, db.Trade{
			Ts:     time.Now().UTC(),
			Symbol: position.Symbol,
			Side:   position.Side,
			Qty:    filled,
			Entry:  position.EntryPrice,
			Exit:   exitPrice,
			PnL:    pnl,
			Mode:   mode,
			Reason: decision.Reason,
		}); err != nil {
			logger.Printf("Engine | [%s] failed to persist trade: %v", symbol, err)
		}
		meta, _ := json.Marshal(map[string]any{"reason": decision.Reason, "exit_price": exitPrice})
		status := resp.Status
		if status == "" {
			status = "closed"
		}
		if _, err := e.storage.InsertOrder(ctx, db.Order{
			Ts:       time.Now().UTC(),
			Symbol:   position.Symbol,
			Kind:     "exit",
			OrderID:  resp.OrderID,
			Status:   status,
			MetaJSON: string(meta),
		}); err != nil {
			logger.Printf("Engine | [%s] failed to persist exit order: %v", symbol, err)
		}
		if err := e.storage.DeletePositionsNotIn(ctx, e.openSymbolsExcept(symbol)); err != nil {
			logger.Printf("Engine | [%s] failed to drop position row: %v", symbol, err)
		}

		logger.Printf("Engine | [%s] position closed reason=%s entry=%.8f exit=%.8f pnl=%.8f",
			symbol, decision.Reason, position.EntryPrice, exitPrice, pnl)
		metrics.IncExit(decision.Reason, position.Side)
		metrics.AddRealizedPnL(pnl)
		_ = e.storage.LogEvent(ctx, journal.Event{
			Time:        time.Now().UTC(),
			Type:        "exit",
			Description: fmt.Sprintf("Closed %s %s", position.Side, position.Symbol),
			Data: map[string]any{
				"symbol": position.Symbol,
				"reason": decision.Reason,
				"exit":   exitPrice,
				"pnl":    pnl,
			},
		})
		if err := e.notifier.SendWithRetry(fmt.Sprintf("Closed %s %s reason=%s pnl=%.4f",
			position.Side, position.Symbol, decision.Reason, pnl)); err != nil {
			logger.Printf("Engine | [%s] exit notification failed: %v", symbol, err)
		}

		delete(e.positions, symbol)
	}
}

func (e *Engine) openSymbolsExcept(closing string) []string {
	var symbols []string
	for sym := range e.positions {
		if sym != closing {
			symbols = append(symbols, sym)
		}
	}
	return symbols
}

// maybeSweepStaleOrders cancels venue orders older than the TTL. The sweep
// itself runs at most every 30 seconds regardless of the tick interval.
func (e *Engine) maybeSweepStaleOrders(ctx context.Context, ttl time.Duration) {
	now := time.Now()
	if now.Sub(e.lastStaleSweep) < staleSweepGap {
		return
	}
	e.lastStaleSweep = now

	if ttl < time.Second {
		ttl = time.Second
	}
	logger := utils.GetLogger()

	openOrders, err := e.ex.FetchOpenOrders(ctx)
	if err != nil {
		logger.Printf("Engine | stale order sweep failed to fetch open orders: %v", err)
		return
	}

	swept := 0
	for _, o := range openOrders {
		if o.OrderID == "" || o.Timestamp.IsZero() {
			continue
		}
		if now.Sub(o.Timestamp) <= ttl {
			continue
		}
		if err := e.ex.CancelOrder(ctx, o.OrderID, o.Symbol); err != nil {
			logger.Printf("Engine | failed to cancel stale order %s (%s): %v", o.OrderID, o.Symbol, err)
			continue
		}
		swept++
		logger.Printf("Engine | canceled stale order %s (%s)", o.OrderID, o.Symbol)
	}
	if swept > 0 {
		metrics.AddStaleOrdersCanceled(swept)
	}
}

func (e *Engine) applyZeroFeeFilter(ctx context.Context, pairs []db.Pair, enabled bool) []db.Pair {
	if !enabled {
		return pairs
	}
	symbols, err := e.storage.ListZeroFeeSymbols(ctx)
	if err != nil {
		utils.GetLogger().Printf("Engine | zero-fee filter failed: %v", err)
		return pairs
	}
	allowed := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		allowed[strings.ToUpper(s)] = true
	}
	var filtered []db.Pair
	for _, p := range pairs {
		if allowed[strings.ToUpper(p.Symbol)] {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

func (e *Engine) applyPositionLimit(candidates []Candidate, settings config.EngineSettings) []Candidate {
	ordered := rankCandidates(candidates)

	limit := settings.MaxPositions
	if settings.MaxPositionsAll {
		limit = len(ordered)
	}
	if limit < 1 {
		limit = 1
	}

	switch settings.SelectionMode {
	case "round_robin":
		selected, cursor := selectRoundRobin(ordered, limit, e.rrCursor)
		e.rrCursor = cursor
		return selected
	case "random_top_k":
		return selectRandomTopK(ordered, limit, settings.RandomTopK, e.rng)
	}
	return selectBestScore(ordered, limit)
}

func (e *Engine) fetchFreeUSDT(ctx context.Context) float64 {
	balances, err := e.ex.FetchBalances(ctx)
	if err == nil {
		if usdt, ok := balances["USDT"]; ok {
			return usdt.Free
		}
	}
	utils.GetLogger().Printf("Engine | using paper mode balance fallback: %.0f USDT", fallbackBalance)
	return fallbackBalance
}

func (e *Engine) exitSettings(settings config.EngineSettings) exits.Settings {
	return exits.Settings{
		ExitOrderType:       settings.ExitOrderType,
		MaxTradeDuration:    settings.MaxTradeDuration,
		BreakEvenEnabled:    settings.BreakEvenEnabled,
		BreakEvenTriggerPct: settings.BreakEvenTriggerPct,
		BreakEvenOffsetPct:  settings.BreakEvenOffsetPct,
	}
}

func (e *Engine) settingBool(ctx context.Context, key string, def bool) bool {
	defVal := "0"
	if def {
		defVal = "1"
	}
	v, err := e.storage.GetSetting(ctx, key, defVal)
	if err != nil {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
