// Package bybit implements the venue interface against the Bybit v5 REST API
// (linear perpetuals).
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"apex-core/pkg/exchanges/common"
)

// Config holds Bybit credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
}

// Client handles Bybit v5 linear perpetual futures.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateTracker *common.RateTracker
}

// NewClient creates a new Bybit v5 client.
func NewClient(cfg Config) *Client {
	base := "https://api.bybit.com"
	if cfg.Testnet {
		base = "https://api-testnet.bybit.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	c.timeSync = common.NewTimeSync(c.getServerTime)
	c.rateTracker = common.NewRateTracker(600, 5*time.Second)
	return c
}

// Name identifies the venue.
func (c *Client) Name() string { return "bybit" }

// StartTimeSync begins background clock synchronization.
func (c *Client) StartTimeSync(ctx context.Context) { c.timeSync.Start(ctx) }

func (c *Client) getServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/v5/market/time", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		TimeNano string `json:"timeNano"`
		TimeSec  string `json:"timeSecond"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, err
	}
	sec, err := strconv.ParseInt(out.TimeSec, 10, 64)
	if err != nil {
		return 0, err
	}
	return sec * 1000, nil
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

// GetKlines returns up to limit candles for symbol, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]common.Candle, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)
	params.Set("interval", toBybitInterval(interval))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doPublic(ctx, "/v5/market/kline", params)
	if err != nil {
		return nil, err
	}
	var out klineResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	candles := make([]common.Candle, 0, len(out.List))
	for _, row := range out.List {
		if len(row) < 6 {
			continue
		}
		ms, _ := strconv.ParseInt(row[0], 10, 64)
		candles = append(candles, common.Candle{
			OpenTime: time.UnixMilli(ms),
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
		})
	}
	// Bybit returns newest first.
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })
	return candles, nil
}

// GetOrderBook returns the top-of-book snapshot for symbol.
func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (*common.OrderBook, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)
	if depth > 0 {
		params.Set("limit", strconv.Itoa(depth))
	}
	body, err := c.doPublic(ctx, "/v5/market/orderbook", params)
	if err != nil {
		return nil, err
	}
	var out struct {
		Symbol string      `json:"s"`
		Bids   [][2]string `json:"b"`
		Asks   [][2]string `json:"a"`
		Time   int64       `json:"ts"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode orderbook: %w", err)
	}

	book := &common.OrderBook{Symbol: symbol, Venue: c.Name(), Timestamp: time.UnixMilli(out.Time)}
	for _, lv := range out.Bids {
		book.Bids = append(book.Bids, common.BookLevel{Price: parseFloat(lv[0]), Qty: parseFloat(lv[1])})
	}
	for _, lv := range out.Asks {
		book.Asks = append(book.Asks, common.BookLevel{Price: parseFloat(lv[0]), Qty: parseFloat(lv[1])})
	}
	return book, nil
}

// GetInstrumentInfo returns tick size, lot step, and min notional for symbol.
func (c *Client) GetInstrumentInfo(ctx context.Context, symbol string) (common.InstrumentInfo, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/v5/market/instruments-info", params)
	if err != nil {
		return common.InstrumentInfo{}, err
	}
	var out struct {
		List []struct {
			Symbol      string `json:"symbol"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep          string `json:"qtyStep"`
				MinNotionalValue string `json:"minNotionalValue"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return common.InstrumentInfo{}, fmt.Errorf("decode instruments: %w", err)
	}
	if len(out.List) == 0 {
		return common.InstrumentInfo{}, fmt.Errorf("bybit: instrument %s not found", symbol)
	}
	inst := out.List[0]
	return common.InstrumentInfo{
		TickSize:    parseFloat(inst.PriceFilter.TickSize),
		QtyStep:     parseFloat(inst.LotSizeFilter.QtyStep),
		MinNotional: parseFloat(inst.LotSizeFilter.MinNotionalValue),
	}, nil
}

// PlaceOrder submits an order. Take-profit and stop-loss ride along on the
// create call when set.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderAck{}, errors.New("bybit: API key/secret required")
	}

	payload := map[string]any{
		"category":  "linear",
		"symbol":    req.Symbol,
		"side":      toBybitSide(req.Side),
		"orderType": toBybitOrderType(req.Type),
		"qty":       formatFloat(req.Qty),
	}
	if req.Type == common.OrderTypeLimit {
		payload["price"] = formatFloat(req.Price)
		payload["timeInForce"] = "GTC"
	}
	if req.TakeProfit > 0 {
		payload["takeProfit"] = formatFloat(req.TakeProfit)
	}
	if req.StopLoss > 0 {
		payload["stopLoss"] = formatFloat(req.StopLoss)
	}
	if req.ReduceOnly {
		payload["reduceOnly"] = true
	}
	if req.ClientID != "" {
		payload["orderLinkId"] = req.ClientID
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/v5/order/create", payload)
	if err != nil {
		return common.OrderAck{}, err
	}
	var out struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return common.OrderAck{}, fmt.Errorf("decode order: %w", err)
	}
	return common.OrderAck{OrderID: out.OrderID, Status: "NEW", ClientID: out.OrderLinkID}, nil
}

// SetTradingStop replaces the position's TP/SL on the venue side.
func (c *Client) SetTradingStop(ctx context.Context, symbol string, takeProfit, stopLoss float64) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New("bybit: API key/secret required")
	}
	payload := map[string]any{
		"category":    "linear",
		"symbol":      symbol,
		"positionIdx": 0, // one-way mode
	}
	if takeProfit > 0 {
		payload["takeProfit"] = formatFloat(takeProfit)
	}
	if stopLoss > 0 {
		payload["stopLoss"] = formatFloat(stopLoss)
	}
	_, err := c.doSigned(ctx, http.MethodPost, "/v5/position/trading-stop", payload)
	return err
}

// GetPositions returns open positions; symbol optional.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]common.VenuePosition, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("bybit: API key/secret required")
	}
	params := url.Values{}
	params.Set("category", "linear")
	if symbol != "" {
		params.Set("symbol", symbol)
	} else {
		params.Set("settleCoin", "USDT")
	}
	body, err := c.doSignedQuery(ctx, "/v5/position/list", params)
	if err != nil {
		return nil, err
	}
	var out struct {
		List []positionEntry `json:"list"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]common.VenuePosition, 0, len(out.List))
	for _, p := range out.List {
		size := parseFloat(p.Size)
		if size == 0 {
			continue
		}
		positions = append(positions, common.VenuePosition{
			Symbol:        p.Symbol,
			Side:          fromBybitSide(p.Side),
			Size:          size,
			EntryPrice:    parseFloat(p.AvgPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			Leverage:      parseFloat(p.Leverage),
			UnrealizedPnL: parseFloat(p.UnrealisedPnl),
			TakeProfit:    parseFloat(p.TakeProfit),
			StopLoss:      parseFloat(p.StopLoss),
		})
	}
	return positions, nil
}

// GetBalance returns the available USDT balance of the unified account.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return 0, errors.New("bybit: API key/secret required")
	}
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	params.Set("coin", "USDT")
	body, err := c.doSignedQuery(ctx, "/v5/account/wallet-balance", params)
	if err != nil {
		return 0, err
	}
	var out struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				AvailToWithdraw string `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	for _, acc := range out.List {
		for _, coin := range acc.Coin {
			if coin.Coin == "USDT" {
				return parseFloat(coin.WalletBalance), nil
			}
		}
	}
	return 0, nil
}

// SetLeverage sets buy and sell leverage for a symbol. An unchanged leverage
// is not an error.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New("bybit: API key/secret required")
	}
	payload := map[string]any{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	_, err := c.doSigned(ctx, http.MethodPost, "/v5/position/set-leverage", payload)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Code == retCodeLeverageNotModified {
		return nil
	}
	return err
}

// doPublic performs an unsigned GET and unwraps the v5 envelope.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req, path)
}

// doSignedQuery performs a signed GET. The signature covers the encoded
// query string.
func (c *Client) doSignedQuery(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	encoded := params.Encode()
	ts := strconv.FormatInt(c.now(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+encoded, nil)
	if err != nil {
		return nil, err
	}
	c.signHeaders(req, ts, encoded)
	return c.send(req, path)
}

// doSigned performs a signed POST with a JSON body. The signature covers the
// raw body bytes.
func (c *Client) doSigned(ctx context.Context, method, path string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	ts := strconv.FormatInt(c.now(), 10)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.signHeaders(req, ts, string(body))
	return c.send(req, path)
}

// signHeaders applies the v5 HMAC signature: sha256(timestamp + key +
// recvWindow + payload).
func (c *Client) signHeaders(req *http.Request, timestamp, payload string) {
	recv := strconv.FormatInt(c.cfg.RecvWindow, 10)
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(timestamp + c.cfg.APIKey + recv + payload))
	req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recv)
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-SIGN", hex.EncodeToString(mac.Sum(nil)))
}

func (c *Client) send(req *http.Request, path string) (json.RawMessage, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if c.rateTracker != nil {
		// The status header reports remaining quota; the tracker wants used.
		if remaining, err := strconv.Atoi(res.Header.Get("X-Bapi-Limit-Status")); err == nil {
			if limit, err := strconv.Atoi(res.Header.Get("X-Bapi-Limit")); err == nil && limit > 0 {
				c.rateTracker.UpdateFromHeader(strconv.Itoa(limit - remaining))
			}
		}
	}

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("bybit %s status %d: %s", path, res.StatusCode, string(body))
	}

	var envelope struct {
		RetCode int             `json:"retCode"`
		RetMsg  string          `json:"retMsg"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("bybit %s: decode envelope: %w", path, err)
	}
	if envelope.RetCode != 0 {
		return nil, &apiError{Code: envelope.RetCode, Msg: envelope.RetMsg, Path: path}
	}
	return envelope.Result, nil
}
