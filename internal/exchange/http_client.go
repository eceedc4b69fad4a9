package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"doge-flow-trader/internal/logging"
)

// Credentials is the API key/secret pair resolved by internal/vaultcreds.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// HTTPClient is the production Client, HMAC-signing every private request
// following the teacher's internal/binance/futures_client.go shape, but
// using retryablehttp for connection-level backoff instead of a hand-rolled
// retry loop.
type HTTPClient struct {
	creds   Credentials
	baseURL string
	http    *retryablehttp.Client
}

// NewHTTPClient builds an HTTPClient against baseURL with maxRetries
// connection-level retries (config.ExchangeConfig.MaxRetries).
func NewHTTPClient(creds Credentials, baseURL string, requestTimeoutSecs, maxRetries int) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = maxRetries
	rc.HTTPClient.Timeout = time.Duration(requestTimeoutSecs) * time.Second
	rc.Logger = nil // the teacher's structured logger replaces retryablehttp's own
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPClient{
		creds:   creds,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    rc,
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.SecretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *HTTPClient) buildQuery(params map[string]string) string {
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
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

func (c *HTTPClient) signedRequest(ctx context.Context, method, endpoint string, params map[string]string) ([]byte, error) {
	if params == nil {
		params = map[string]string{}
	}
	params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	params["recvWindow"] = "10000"

	query := c.buildQuery(params)
	signature := c.sign(query)
	fullQuery := query + "&signature=" + signature

	reqURL := fmt.Sprintf("%s%s", c.baseURL, endpoint)
	var req *retryablehttp.Request
	var err error
	if method == http.MethodGet || method == http.MethodDelete {
		req, err = retryablehttp.NewRequestWithContext(ctx, method, reqURL+"?"+fullQuery, nil)
	} else {
		req, err = retryablehttp.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(fullQuery))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if err != nil {
		return nil, fmt.Errorf("exchange: build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.creds.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange: request %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("exchange: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange: %s %s returned %d: %s", method, endpoint, resp.StatusCode, body)
	}
	return body, nil
}

func (c *HTTPClient) publicGet(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	reqURL := fmt.Sprintf("%s%s", c.baseURL, endpoint)
	if len(values) > 0 {
		reqURL = fmt.Sprintf("%s?%s", reqURL, values.Encode())
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: build public request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange: public GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange: public GET %s returned %d: %s", endpoint, resp.StatusCode, body)
	}
	return body, nil
}

func (c *HTTPClient) GetInstrument(ctx context.Context, symbol string) (InstrumentSpec, error) {
	body, err := c.publicGet(ctx, "/fapi/v1/exchangeInfo", map[string]string{"symbol": symbol})
	if err != nil {
		return InstrumentSpec{}, err
	}
	var raw struct {
		Symbols []struct {
			Symbol           string `json:"symbol"`
			ContractSize     string `json:"contractSize"`
			Filters          []struct {
				FilterType string `json:"filterType"`
				StepSize   string `json:"stepSize"`
				MinQty     string `json:"minQty"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return InstrumentSpec{}, fmt.Errorf("exchange: decode exchangeInfo: %w", err)
	}
	if len(raw.Symbols) == 0 {
		return InstrumentSpec{}, fmt.Errorf("exchange: symbol %s not found", symbol)
	}
	spec := InstrumentSpec{Symbol: symbol, ContractFace: 1}
	if v, err := strconv.ParseFloat(raw.Symbols[0].ContractSize, 64); err == nil && v > 0 {
		spec.ContractFace = v
	}
	for _, f := range raw.Symbols[0].Filters {
		if f.FilterType == "LOT_SIZE" {
			spec.LotSize, _ = strconv.ParseFloat(f.StepSize, 64)
			spec.MinSize, _ = strconv.ParseFloat(f.MinQty, 64)
		}
	}
	return spec, nil
}

func (c *HTTPClient) GetTicker(ctx context.Context, symbol string) (Ticker, error) {
	body, err := c.publicGet(ctx, "/fapi/v1/ticker/price", map[string]string{"symbol": symbol})
	if err != nil {
		return Ticker{}, err
	}
	var raw struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Ticker{}, fmt.Errorf("exchange: decode ticker: %w", err)
	}
	price, err := strconv.ParseFloat(raw.Price, 64)
	if err != nil {
		return Ticker{}, fmt.Errorf("exchange: parse ticker price: %w", err)
	}
	return Ticker{Price: price}, nil
}

func (c *HTTPClient) GetCandles(ctx context.Context, symbol string, limit int) ([]float64, error) {
	body, err := c.publicGet(ctx, "/fapi/v1/klines", map[string]string{
		"symbol":   symbol,
		"interval": "1m",
		"limit":    strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("exchange: decode klines: %w", err)
	}
	closes := make([]float64, 0, len(raw))
	for _, k := range raw {
		if len(k) < 5 {
			continue
		}
		s, ok := k[4].(string)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		closes = append(closes, v)
	}
	return closes, nil
}

func (c *HTTPClient) GetPositions(ctx context.Context, symbol string) (PositionInfo, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", map[string]string{"symbol": symbol})
	if err != nil {
		return PositionInfo{}, err
	}
	var raw []struct {
		PositionAmt string `json:"positionAmt"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return PositionInfo{}, fmt.Errorf("exchange: decode positionRisk: %w", err)
	}
	if len(raw) == 0 {
		return PositionInfo{Side: SideFlat}, nil
	}
	amt, err := strconv.ParseFloat(raw[0].PositionAmt, 64)
	if err != nil {
		return PositionInfo{}, fmt.Errorf("exchange: parse positionAmt: %w", err)
	}
	switch {
	case amt > 0:
		return PositionInfo{Side: SideLong, Contracts: amt}, nil
	case amt < 0:
		return PositionInfo{Side: SideShort, Contracts: -amt}, nil
	default:
		return PositionInfo{Side: SideFlat}, nil
	}
}

func (c *HTTPClient) GetAccountBalance(ctx context.Context) (float64, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/balance", nil)
	if err != nil {
		return 0, err
	}
	var raw []struct {
		Asset   string `json:"asset"`
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("exchange: decode balance: %w", err)
	}
	for _, b := range raw {
		if b.Asset == "USDT" {
			return strconv.ParseFloat(b.Balance, 64)
		}
	}
	return 0, fmt.Errorf("exchange: USDT balance not found")
}

func (c *HTTPClient) SetLeverage(ctx context.Context, symbol string, leverage int, modes []MarginMode) (MarginMode, error) {
	for _, mode := range modes {
		marginType := "ISOLATED"
		if mode == MarginCross {
			marginType = "CROSSED"
		}
		if mode != MarginCash {
			_, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/marginType", map[string]string{
				"symbol": symbol, "marginType": marginType,
			})
			if err != nil && !strings.Contains(err.Error(), "-4046") { // already in that mode
				logging.Warn("exchange: margin mode rejected, trying next", "mode", mode, "error", err)
				continue
			}
		}
		_, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", map[string]string{
			"symbol": symbol, "leverage": strconv.Itoa(leverage),
		})
		if err != nil {
			logging.Warn("exchange: set leverage failed under mode, trying next", "mode", mode, "error", err)
			continue
		}
		return mode, nil
	}
	return "", fmt.Errorf("%w: all modes exhausted for %s", ErrMarginModeRejected, symbol)
}

func (c *HTTPClient) PlaceMarketOrder(ctx context.Context, symbol string, side Side, contracts float64, reduceOnly bool) (OrderResult, error) {
	orderSide := "BUY"
	if side == SideShort {
		orderSide = "SELL"
	}
	params := map[string]string{
		"symbol":     symbol,
		"side":       orderSide,
		"type":       "MARKET",
		"quantity":   strconv.FormatFloat(contracts, 'f', -1, 64),
		"reduceOnly": strconv.FormatBool(reduceOnly),
	}
	body, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return OrderResult{}, err
	}
	var raw struct {
		OrderID      int64  `json:"orderId"`
		AvgPrice     string `json:"avgPrice"`
		ExecutedQty  string `json:"executedQty"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderResult{}, fmt.Errorf("exchange: decode order response: %w", err)
	}
	price, _ := strconv.ParseFloat(raw.AvgPrice, 64)
	qty, _ := strconv.ParseFloat(raw.ExecutedQty, 64)
	return OrderResult{OrderID: strconv.FormatInt(raw.OrderID, 10), FilledPrice: price, FilledQty: qty}, nil
}

func (c *HTTPClient) ClosePosition(ctx context.Context, symbol string, fraction float64) (OrderResult, error) {
	pos, err := c.GetPositions(ctx, symbol)
	if err != nil {
		return OrderResult{}, err
	}
	if pos.Side == SideFlat || pos.Contracts == 0 {
		return OrderResult{}, fmt.Errorf("exchange: no open position to close on %s", symbol)
	}
	closeSide := SideShort
	if pos.Side == SideShort {
		closeSide = SideLong
	}
	qty := pos.Contracts * fraction
	return c.PlaceMarketOrder(ctx, symbol, closeSide, qty, true)
}
