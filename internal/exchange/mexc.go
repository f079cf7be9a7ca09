// Package exchange
package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/defoss123-ai/bot13/internal/candle"
	"github.com/defoss123-ai/bot13/internal/market"
	"github.com/defoss123-ai/bot13/internal/order"
	"github.com/defoss123-ai/bot13/internal/utils"
)

const mexcContractBaseURL = "https://contract.mexc.com"

// MEXC contract order side codes.
const (
	mexcOpenLong   = 1
	mexcCloseShort = 2
	mexcOpenShort  = 3
	mexcCloseLong  = 4
)

// MEXC contract order type codes.
const (
	mexcTypeLimit  = 1
	mexcTypeStop   = 2
	mexcTypeMarket = 5
)

// MexcExchange binds the gateway contract to the MEXC USDT-margined swap API.
type MexcExchange struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client

	mu      sync.RWMutex
	markets map[string]mexcContract // keyed by venue symbol, e.g. BTC_USDT
}

type mexcContract struct {
	Symbol       string  `json:"symbol"`
	BaseCoin     string  `json:"baseCoin"`
	QuoteCoin    string  `json:"quoteCoin"`
	ContractSize float64 `json:"contractSize"`
	MinVol       float64 `json:"minVol"`
	MaxVol       float64 `json:"maxVol"`
	VolScale     int     `json:"volScale"`
	PriceScale   int     `json:"priceScale"`
	MinCost      float64 `json:"minCost"`
	State        int     `json:"state"`
}

type mexcEnvelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type mexcOrder struct {
	OrderID      string  `json:"orderId"`
	Symbol       string  `json:"symbol"`
	Side         int     `json:"side"`
	Vol          float64 `json:"vol"`
	DealVol      float64 `json:"dealVol"`
	DealAvgPrice float64 `json:"dealAvgPrice"`
	Price        float64 `json:"price"`
	OrderType    int     `json:"orderType"`
	State        int     `json:"state"`
	CreateTime   int64   `json:"createTime"`
}

type mexcPosition struct {
	Symbol       string  `json:"symbol"`
	PositionType int     `json:"positionType"` // 1 long, 2 short
	HoldVol      float64 `json:"holdVol"`
	OpenAvgPrice float64 `json:"openAvgPrice"`
	Realised     float64 `json:"realised"`
	Im           float64 `json:"im"`
	Unrealised   float64 `json:"unrealised"`
}

type mexcAsset struct {
	Currency         string  `json:"currency"`
	AvailableBalance float64 `json:"availableBalance"`
	FrozenBalance    float64 `json:"frozenBalance"`
}

func NewMexcExchange(apiKey, apiSecret string) *MexcExchange {
	return &MexcExchange{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   mexcContractBaseURL,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (m *MexcExchange) Name() string { return "mexc-swap" }

// retry wraps a function with retry logic for transient errors, using exponential backoff and error logging.
func retry(attempts int, delay time.Duration, fn func() error) error {
	backoff := delay
	var err error
	for i := 1; i <= attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		utils.GetLogger().Printf("Exchange | mexc-swap retry attempt %d/%d failed: %v. Backing off for %v", i, attempts, err, backoff)
		time.Sleep(backoff)
		if backoff < time.Minute {
			backoff *= 2
		}
	}
	return fmt.Errorf("all retry attempts failed: %w", err)
}

func (m *MexcExchange) loadMarkets(ctx context.Context) (map[string]mexcContract, error) {
	m.mu.RLock()
	if m.markets != nil {
		cached := m.markets
		m.mu.RUnlock()
		return cached, nil
	}
	m.mu.RUnlock()

	var contracts []mexcContract
	err := retry(3, 2*time.Second, func() error {
		raw, err := m.public(ctx, "/api/v1/contract/detail", nil)
		if err != nil {
			return fmt.Errorf("fetching contract details: %w", err)
		}
		return json.Unmarshal(raw, &contracts)
	})
	if err != nil {
		return nil, fmt.Errorf("load markets failed: %w", err)
	}

	markets := make(map[string]mexcContract, len(contracts))
	for _, c := range contracts {
		markets[strings.ToUpper(c.Symbol)] = c
	}

	m.mu.Lock()
	m.markets = markets
	m.mu.Unlock()
	return markets, nil
}

// ResolveSymbol maps user inputs like BTCUSDT, BTC/USDT or BTC/USDT:USDT onto
// the venue's BTC_USDT contract symbol.
func (m *MexcExchange) ResolveSymbol(ctx context.Context, name string) (string, error) {
	raw := strings.ToUpper(strings.TrimSpace(name))
	if raw == "" {
		return "", fmt.Errorf("symbol is empty; use formats like BTC/USDT, BTCUSDT or BTC_USDT")
	}

	markets, err := m.loadMarkets(ctx)
	if err != nil {
		return "", err
	}

	candidates := map[string]struct{}{raw: {}}
	cleaned := strings.NewReplacer("/", "", ":", "", "_", "", "-", "").Replace(raw)
	if strings.HasSuffix(cleaned, "USDT") && len(cleaned) > 4 {
		base := strings.TrimSuffix(cleaned, "USDT")
		// BTC/USDT:USDT carries the settle suffix twice after cleaning.
		base = strings.TrimSuffix(base, "USDT")
		candidates[base+"_USDT"] = struct{}{}
	}

	for symbol := range candidates {
		if _, ok := markets[symbol]; ok {
			return symbol, nil
		}
	}
	return "", fmt.Errorf("USDT swap symbol not found for %q; supported inputs: BTC/USDT, BTCUSDT, BTC_USDT", name)
}

// MarketInfo returns the typed venue metadata for a symbol. Contract volumes
// are converted to base quantities here so the rest of the system never sees
// contract units.
func (m *MexcExchange) MarketInfo(ctx context.Context, symbol string) (market.Info, error) {
	venueSymbol, err := m.ResolveSymbol(ctx, symbol)
	if err != nil {
		return market.Info{}, err
	}
	markets, err := m.loadMarkets(ctx)
	if err != nil {
		return market.Info{}, err
	}
	c := markets[venueSymbol]

	contractSize := c.ContractSize
	step := contractSize
	minAmount := c.MinVol
	maxAmount := c.MaxVol
	if contractSize > 0 {
		minAmount *= contractSize
		maxAmount *= contractSize
	}
	return market.Info{
		Symbol:          venueSymbol,
		AmountPrecision: c.VolScale,
		AmountStep:      step,
		MinAmount:       minAmount,
		MaxAmount:       maxAmount,
		MinCost:         c.MinCost,
		ContractSize:    contractSize,
	}, nil
}

var mexcTimeframes = map[string]string{
	"1m":  "Min1",
	"5m":  "Min5",
	"15m": "Min15",
	"30m": "Min30",
	"1h":  "Min60",
	"4h":  "Hour4",
	"1d":  "Day1",
}

func (m *MexcExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error) {
	interval, ok := mexcTimeframes[timeframe]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe: %s", timeframe)
	}
	venueSymbol, err := m.ResolveSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}

	var payload struct {
		Time  []int64   `json:"time"`
		Open  []float64 `json:"open"`
		High  []float64 `json:"high"`
		Low   []float64 `json:"low"`
		Close []float64 `json:"close"`
		Vol   []float64 `json:"vol"`
	}
	err = retry(3, 2*time.Second, func() error {
		raw, err := m.public(ctx, "/api/v1/contract/kline/"+venueSymbol, map[string]string{
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		})
		if err != nil {
			return fmt.Errorf("fetching kline: %w", err)
		}
		return json.Unmarshal(raw, &payload)
	})
	if err != nil {
		return nil, fmt.Errorf("FetchOHLCV failed for %s: %w", symbol, err)
	}

	var candles []candle.Candle
	for i := range payload.Time {
		c := candle.Candle{
			Timestamp: time.Unix(payload.Time[i], 0).UTC(),
			Open:      payload.Open[i],
			High:      payload.High[i],
			Low:       payload.Low[i],
			Close:     payload.Close[i],
			Volume:    payload.Vol[i],
			Symbol:    venueSymbol,
			Timeframe: timeframe,
		}
		if err := c.Validate(); err != nil {
			continue // skip malformed bars
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (m *MexcExchange) FetchTicker(ctx context.Context, symbol string) (market.Ticker, error) {
	venueSymbol, err := m.ResolveSymbol(ctx, symbol)
	if err != nil {
		return market.Ticker{}, err
	}

	var payload struct {
		Symbol    string  `json:"symbol"`
		LastPrice float64 `json:"lastPrice"`
		Timestamp int64   `json:"timestamp"`
	}
	err = retry(3, 2*time.Second, func() error {
		raw, err := m.public(ctx, "/api/v1/contract/ticker", map[string]string{"symbol": venueSymbol})
		if err != nil {
			return fmt.Errorf("fetching ticker: %w", err)
		}
		return json.Unmarshal(raw, &payload)
	})
	if err != nil {
		return market.Ticker{}, fmt.Errorf("FetchTicker failed for %s: %w", symbol, err)
	}

	return market.Ticker{
		Symbol:    venueSymbol,
		Last:      payload.LastPrice,
		Close:     payload.LastPrice,
		Timestamp: time.UnixMilli(payload.Timestamp).UTC(),
	}, nil
}

func (m *MexcExchange) CreateOrder(ctx context.Context, req order.OrderRequest) (order.OrderResponse, error) {
	venueSymbol, err := m.ResolveSymbol(ctx, req.Symbol)
	if err != nil {
		return order.OrderResponse{}, err
	}
	markets, err := m.loadMarkets(ctx)
	if err != nil {
		return order.OrderResponse{}, err
	}
	contract := markets[venueSymbol]

	vol := req.Quantity
	if contract.ContractSize > 0 {
		vol = req.Quantity / contract.ContractSize
	}

	body := map[string]any{
		"symbol":      venueSymbol,
		"vol":         vol,
		"side":        mexcSide(req.Side, req.ReduceOnly),
		"type":        mexcOrderType(req.Type),
		"openType":    2, // cross margin
		"externalOid": uuid.NewString(),
	}
	if req.Type == "limit" {
		body["price"] = req.Price
	}
	if req.Type == "stop" && req.StopPrice > 0 {
		body["stopPrice"] = req.StopPrice
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}

	raw, err := m.private(ctx, http.MethodPost, "/api/v1/private/order/submit", nil, body)
	if err != nil {
		return order.OrderResponse{}, fmt.Errorf("create order failed for %s: %w", req.Symbol, err)
	}

	var orderID string
	if err := json.Unmarshal(raw, &orderID); err != nil {
		// some gateway deployments wrap the id in an object
		var obj struct {
			OrderID string `json:"orderId"`
		}
		if err2 := json.Unmarshal(raw, &obj); err2 != nil {
			return order.OrderResponse{}, fmt.Errorf("decode order id: %w", err)
		}
		orderID = obj.OrderID
	}

	// The submit endpoint only returns the id; fetch the order for fill state.
	resp, err := m.FetchOrder(ctx, orderID, venueSymbol)
	if err != nil {
		return order.OrderResponse{
			OrderID:   orderID,
			Status:    "open",
			Symbol:    venueSymbol,
			Side:      req.Side,
			Type:      req.Type,
			Price:     req.Price,
			Quantity:  req.Quantity,
			Timestamp: time.Now().UTC(),
		}, nil
	}
	return resp, nil
}

func (m *MexcExchange) CancelOrder(ctx context.Context, orderID, symbol string) error {
	_, err := m.private(ctx, http.MethodPost, "/api/v1/private/order/cancel", nil, []string{orderID})
	if err != nil {
		return fmt.Errorf("cancel order %s failed: %w", orderID, err)
	}
	return nil
}

func (m *MexcExchange) FetchOrder(ctx context.Context, orderID, symbol string) (order.OrderResponse, error) {
	raw, err := m.private(ctx, http.MethodGet, "/api/v1/private/order/get/"+orderID, nil, nil)
	if err != nil {
		return order.OrderResponse{}, fmt.Errorf("fetch order %s failed: %w", orderID, err)
	}
	var o mexcOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return order.OrderResponse{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return m.toOrderResponse(ctx, o)
}

func (m *MexcExchange) FetchOpenOrders(ctx context.Context) ([]order.OrderResponse, error) {
	var raw json.RawMessage
	err := retry(3, 2*time.Second, func() error {
		var err error
		raw, err = m.private(ctx, http.MethodGet, "/api/v1/private/order/list/open_orders", nil, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch open orders failed: %w", err)
	}

	var rows []mexcOrder
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}

	orders := make([]order.OrderResponse, 0, len(rows))
	for _, o := range rows {
		resp, err := m.toOrderResponse(ctx, o)
		if err != nil {
			continue
		}
		orders = append(orders, resp)
	}
	return orders, nil
}

func (m *MexcExchange) FetchPositions(ctx context.Context) ([]PositionSnapshot, error) {
	var raw json.RawMessage
	err := retry(3, 2*time.Second, func() error {
		var err error
		raw, err = m.private(ctx, http.MethodGet, "/api/v1/private/position/open_positions", nil, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch positions failed: %w", err)
	}

	var rows []mexcPosition
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	markets, _ := m.loadMarkets(ctx)
	positions := make([]PositionSnapshot, 0, len(rows))
	for _, p := range rows {
		side := "long"
		if p.PositionType == 2 {
			side = "short"
		}
		contracts := p.HoldVol
		if c, ok := markets[strings.ToUpper(p.Symbol)]; ok && c.ContractSize > 0 {
			contracts *= c.ContractSize
		}
		positions = append(positions, PositionSnapshot{
			Symbol:        strings.ToUpper(p.Symbol),
			Side:          side,
			Contracts:     contracts,
			EntryPrice:    p.OpenAvgPrice,
			UnrealizedPnL: p.Unrealised,
		})
	}
	return positions, nil
}

func (m *MexcExchange) FetchBalances(ctx context.Context) (map[string]market.Balance, error) {
	var raw json.RawMessage
	err := retry(3, 2*time.Second, func() error {
		var err error
		raw, err = m.private(ctx, http.MethodGet, "/api/v1/private/account/assets", nil, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch balances failed: %w", err)
	}

	var rows []mexcAsset
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}

	balances := make(map[string]market.Balance, len(rows))
	for _, a := range rows {
		asset := strings.ToUpper(a.Currency)
		balances[asset] = market.Balance{
			Asset:  asset,
			Free:   a.AvailableBalance,
			Locked: a.FrozenBalance,
			Total:  a.AvailableBalance + a.FrozenBalance,
		}
	}
	return balances, nil
}

func (m *MexcExchange) toOrderResponse(ctx context.Context, o mexcOrder) (order.OrderResponse, error) {
	markets, _ := m.loadMarkets(ctx)
	qtyScale := 1.0
	if c, ok := markets[strings.ToUpper(o.Symbol)]; ok && c.ContractSize > 0 {
		qtyScale = c.ContractSize
	}

	side := "buy"
	if o.Side == mexcOpenShort || o.Side == mexcCloseLong {
		side = "sell"
	}
	orderType := "limit"
	switch o.OrderType {
	case mexcTypeMarket:
		orderType = "market"
	case mexcTypeStop:
		orderType = "stop"
	}

	return order.OrderResponse{
		OrderID:   o.OrderID,
		Status:    mexcStatus(o.State),
		FilledQty: o.DealVol * qtyScale,
		AvgPrice:  o.DealAvgPrice,
		Timestamp: time.UnixMilli(o.CreateTime).UTC(),
		Symbol:    strings.ToUpper(o.Symbol),
		Side:      side,
		Type:      orderType,
		Price:     o.Price,
		Quantity:  o.Vol * qtyScale,
	}, nil
}

func mexcStatus(state int) string {
	switch state {
	case 1, 2:
		return "open"
	case 3:
		return "closed"
	case 4:
		return "canceled"
	default:
		return "unknown"
	}
}

func mexcSide(side string, reduceOnly bool) int {
	buy := strings.ToLower(side) == "buy"
	switch {
	case buy && !reduceOnly:
		return mexcOpenLong
	case buy && reduceOnly:
		return mexcCloseShort
	case !buy && reduceOnly:
		return mexcCloseLong
	default:
		return mexcOpenShort
	}
}

func mexcOrderType(t string) int {
	switch strings.ToLower(t) {
	case "market":
		return mexcTypeMarket
	case "stop":
		return mexcTypeStop
	default:
		return mexcTypeLimit
	}
}

// public performs an unauthenticated GET and unwraps the response envelope.
func (m *MexcExchange) public(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	return m.do(ctx, http.MethodGet, path, params, nil, false)
}

// private performs a signed request and unwraps the response envelope.
func (m *MexcExchange) private(ctx context.Context, method, path string, params map[string]string, body any) (json.RawMessage, error) {
	if m.apiKey == "" || m.apiSecret == "" {
		return nil, errors.New("mexc API keys are not configured")
	}
	return m.do(ctx, method, path, params, body, true)
}

func (m *MexcExchange) do(ctx context.Context, method, path string, params map[string]string, body any, signed bool) (json.RawMessage, error) {
	query := encodeQuery(params)
	url := m.baseURL + path
	if query != "" {
		url += "?" + query
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		signPayload := query
		if method != http.MethodGet {
			signPayload = string(payload)
		}
		req.Header.Set("ApiKey", m.apiKey)
		req.Header.Set("Request-Time", ts)
		req.Header.Set("Signature", m.sign(ts, signPayload))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mexc %s %s: http %d: %s", method, path, resp.StatusCode, truncate(string(data), 256))
	}

	var envelope mexcEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode mexc response: %w", err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("mexc %s %s: code %d: %s", method, path, envelope.Code, envelope.Message)
	}
	return envelope.Data, nil
}

// sign produces the HMAC-SHA256 request signature over key+timestamp+params.
func (m *MexcExchange) sign(timestamp, params string) string {
	mac := hmac.New(sha256.New, []byte(m.apiSecret))
	mac.Write([]byte(m.apiKey + timestamp + params))
	return hex.EncodeToString(mac.Sum(nil))
}

func encodeQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, "&")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
