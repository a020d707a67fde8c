// Package mexc implements the venue interface against the MEXC contract
// (USDT-margined perpetual) REST API.
package mexc

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

// Config holds MEXC contract credentials.
type Config struct {
	APIKey    string
	APISecret string
}

// Client handles MEXC USDT-margined perpetual contracts.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	timeSync   *common.TimeSync
}

// NewClient creates a new MEXC contract client.
func NewClient(cfg Config) *Client {
	c := &Client{
		cfg:        cfg,
		baseURL:    "https://contract.mexc.com",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	c.timeSync = common.NewTimeSync(c.getServerTime)
	return c
}

// Name identifies the venue.
func (c *Client) Name() string { return "mexc" }

// StartTimeSync begins background clock synchronization.
func (c *Client) StartTimeSync(ctx context.Context) { c.timeSync.Start(ctx) }

func (c *Client) getServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/api/v1/contract/ping", nil)
	if err != nil {
		return 0, err
	}
	var ms int64
	if err := json.Unmarshal(body, &ms); err != nil {
		return 0, err
	}
	return ms, nil
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

// GetKlines returns up to limit candles for symbol, oldest first. MEXC
// delivers column-oriented series.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]common.Candle, error) {
	ivl, err := toMexcInterval(interval)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("interval", ivl)
	if limit > 0 {
		end := time.Now().Unix()
		params.Set("start", strconv.FormatInt(end-int64(limit)*intervalSeconds(interval), 10))
		params.Set("end", strconv.FormatInt(end, 10))
	}
	body, err := c.doPublic(ctx, "/api/v1/contract/kline/"+toMexcSymbol(symbol), params)
	if err != nil {
		return nil, err
	}
	var out struct {
		Time  []int64   `json:"time"`
		Open  []float64 `json:"open"`
		High  []float64 `json:"high"`
		Low   []float64 `json:"low"`
		Close []float64 `json:"close"`
		Vol   []float64 `json:"vol"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	n := len(out.Time)
	candles := make([]common.Candle, 0, n)
	for i := 0; i < n; i++ {
		if i >= len(out.Open) || i >= len(out.High) || i >= len(out.Low) || i >= len(out.Close) {
			break
		}
		var vol float64
		if i < len(out.Vol) {
			vol = out.Vol[i]
		}
		candles = append(candles, common.Candle{
			OpenTime: time.Unix(out.Time[i], 0),
			Open:     out.Open[i],
			High:     out.High[i],
			Low:      out.Low[i],
			Close:    out.Close[i],
			Volume:   vol,
		})
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// GetOrderBook returns the depth snapshot for symbol.
func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (*common.OrderBook, error) {
	params := url.Values{}
	if depth > 0 {
		params.Set("limit", strconv.Itoa(depth))
	}
	body, err := c.doPublic(ctx, "/api/v1/contract/depth/"+toMexcSymbol(symbol), params)
	if err != nil {
		return nil, err
	}
	var out struct {
		Bids      [][]float64 `json:"bids"` // [price, vol, orderCount]
		Asks      [][]float64 `json:"asks"`
		Timestamp int64       `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode depth: %w", err)
	}

	book := &common.OrderBook{Symbol: symbol, Venue: c.Name(), Timestamp: time.UnixMilli(out.Timestamp)}
	for _, lv := range out.Bids {
		if len(lv) >= 2 {
			book.Bids = append(book.Bids, common.BookLevel{Price: lv[0], Qty: lv[1]})
		}
	}
	for _, lv := range out.Asks {
		if len(lv) >= 2 {
			book.Asks = append(book.Asks, common.BookLevel{Price: lv[0], Qty: lv[1]})
		}
	}
	return book, nil
}

// GetInstrumentInfo returns tick size, lot step, and min notional for symbol.
func (c *Client) GetInstrumentInfo(ctx context.Context, symbol string) (common.InstrumentInfo, error) {
	params := url.Values{}
	params.Set("symbol", toMexcSymbol(symbol))
	body, err := c.doPublic(ctx, "/api/v1/contract/detail", params)
	if err != nil {
		return common.InstrumentInfo{}, err
	}
	var out contractDetail
	if err := json.Unmarshal(body, &out); err != nil {
		// Some deployments wrap the single contract in a list.
		var list []contractDetail
		if lerr := json.Unmarshal(body, &list); lerr != nil || len(list) == 0 {
			return common.InstrumentInfo{}, fmt.Errorf("decode contract detail: %w", err)
		}
		out = list[0]
	}
	return common.InstrumentInfo{
		TickSize:    out.PriceUnit,
		QtyStep:     out.ContractSize,
		MinNotional: out.MinVol * out.ContractSize * out.PriceUnit,
	}, nil
}

// PlaceOrder submits a market or limit order. Protective levels ride along
// on submission; they cannot be amended afterwards through this API.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderAck{}, errors.New("mexc: API key/secret required")
	}

	payload := map[string]any{
		"symbol":   toMexcSymbol(req.Symbol),
		"vol":      req.Qty,
		"side":     toMexcSide(req.Side, req.ReduceOnly),
		"type":     toMexcOrderType(req.Type),
		"openType": 1, // isolated margin
	}
	if req.Type == common.OrderTypeLimit {
		payload["price"] = req.Price
	}
	if req.TakeProfit > 0 {
		payload["takeProfitPrice"] = req.TakeProfit
	}
	if req.StopLoss > 0 {
		payload["stopLossPrice"] = req.StopLoss
	}
	if req.ClientID != "" {
		payload["externalOid"] = req.ClientID
	}

	body, err := c.doSignedPost(ctx, "/api/v1/private/order/submit", payload)
	if err != nil {
		return common.OrderAck{}, err
	}
	var orderID json.Number
	if err := json.Unmarshal(body, &orderID); err != nil {
		return common.OrderAck{}, fmt.Errorf("decode order: %w", err)
	}
	return common.OrderAck{OrderID: orderID.String(), Status: "NEW", ClientID: req.ClientID}, nil
}

// SetTradingStop is not available on this venue: protection levels can only
// be attached at order submission.
func (c *Client) SetTradingStop(ctx context.Context, symbol string, takeProfit, stopLoss float64) error {
	return common.ErrNotSupported
}

// GetPositions returns open positions; symbol optional.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]common.VenuePosition, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("mexc: API key/secret required")
	}
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", toMexcSymbol(symbol))
	}
	body, err := c.doSignedGet(ctx, "/api/v1/private/position/open_positions", params)
	if err != nil {
		return nil, err
	}
	var list []positionEntry
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]common.VenuePosition, 0, len(list))
	for _, p := range list {
		if p.HoldVol == 0 {
			continue
		}
		positions = append(positions, common.VenuePosition{
			Symbol:        fromMexcSymbol(p.Symbol),
			Side:          fromMexcPositionType(p.PositionType),
			Size:          p.HoldVol,
			EntryPrice:    p.HoldAvgPrice,
			Leverage:      p.Leverage,
			UnrealizedPnL: p.UnrealisedPnl,
		})
	}
	return positions, nil
}

// GetBalance returns the available USDT balance.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return 0, errors.New("mexc: API key/secret required")
	}
	body, err := c.doSignedGet(ctx, "/api/v1/private/account/asset/USDT", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Currency         string  `json:"currency"`
		AvailableBalance float64 `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	return out.AvailableBalance, nil
}

// SetLeverage sets leverage for symbol before a position exists.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New("mexc: API key/secret required")
	}
	// Both position types are configured so the setting covers either entry
	// direction.
	for _, positionType := range []int{1, 2} {
		payload := map[string]any{
			"symbol":       toMexcSymbol(symbol),
			"leverage":     leverage,
			"openType":     1,
			"positionType": positionType,
		}
		if _, err := c.doSignedPost(ctx, "/api/v1/private/position/change_leverage", payload); err != nil {
			return err
		}
	}
	return nil
}

// doPublic performs an unsigned GET and unwraps the envelope.
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

// doSignedGet signs a GET request. The signature covers the sorted query
// string appended to key and timestamp.
func (c *Client) doSignedGet(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	paramString := sortedEncode(params)
	endpoint := c.baseURL + path
	if paramString != "" {
		endpoint += "?" + paramString
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.signHeaders(req, paramString)
	return c.send(req, path)
}

// doSignedPost signs a POST request. The signature covers the raw JSON body.
func (c *Client) doSignedPost(ctx context.Context, path string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.signHeaders(req, string(body))
	return c.send(req, path)
}

// signHeaders applies the contract-API HMAC signature: sha256(accessKey +
// timestamp + payload).
func (c *Client) signHeaders(req *http.Request, payload string) {
	ts := strconv.FormatInt(c.now(), 10)
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(c.cfg.APIKey + ts + payload))
	req.Header.Set("ApiKey", c.cfg.APIKey)
	req.Header.Set("Request-Time", ts)
	req.Header.Set("Signature", hex.EncodeToString(mac.Sum(nil)))
}

func (c *Client) send(req *http.Request, path string) (json.RawMessage, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("mexc %s status %d: %s", path, res.StatusCode, string(body))
	}

	var envelope struct {
		Success bool            `json:"success"`
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("mexc %s: decode envelope: %w", path, err)
	}
	if !envelope.Success {
		return nil, &apiError{Code: envelope.Code, Msg: envelope.Message, Path: path}
	}
	return envelope.Data, nil
}

// sortedEncode encodes params with keys in lexical order, as the signature
// scheme requires.
func sortedEncode(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Get(k))
	}
	return b.String()
}
