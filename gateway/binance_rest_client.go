package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// timeNowMillis 可在测试中替换以获得确定性签名。
var timeNowMillis = func() int64 { return time.Now().UnixMilli() }

// BinanceRESTClient 现货 REST 客户端；HTTPClient 可注入 httptest，默认不发起真实网络调用。
type BinanceRESTClient struct {
	BaseURL      string
	APIKey       string
	Secret       string
	RecvWindowMs int
	HTTPClient   *http.Client
	Limiter      RateLimiter

	mu         sync.RWMutex
	idToSymbol map[string]string
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// Binance 各端点的请求权重（现货 API 文档口径）。
const (
	weightExchangeInfo = 20
	weightBookTicker   = 4
	weightKlines       = 2
	weightAccount      = 20
	weightOrder        = 1
)

func (c *BinanceRESTClient) wait(weight int) {
	if c.Limiter != nil {
		c.Limiter.WaitN(weight)
	}
}

func (c *BinanceRESTClient) sign(query string) string {
	h := hmac.New(sha256.New, []byte(c.Secret))
	h.Write([]byte(query))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// buildQuery 以固定顺序拼接参数，保证签名可复现。
func buildQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+url.QueryEscape(params[k]))
	}
	return strings.Join(parts, "&")
}

func (c *BinanceRESTClient) do(method, path string, weight int, params map[string]string, signed bool, out interface{}) error {
	if c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	c.wait(weight)
	if params == nil {
		params = map[string]string{}
	}
	if signed {
		params["timestamp"] = strconv.FormatInt(timeNowMillis(), 10)
		if c.RecvWindowMs > 0 {
			params["recvWindow"] = strconv.Itoa(c.RecvWindowMs)
		}
	}
	query := buildQuery(params)
	endpoint := c.BaseURL + path
	if query != "" {
		endpoint += "?" + query
		if signed {
			endpoint += "&signature=" + url.QueryEscape(c.sign(query))
		}
	}
	req, err := http.NewRequest(method, endpoint, nil)
	if err != nil {
		return err
	}
	if signed || c.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Code int64  `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return fmt.Errorf("%s %s status %d code %d: %s", method, path, resp.StatusCode, apiErr.Code, apiErr.Msg)
		}
		return fmt.Errorf("%s %s status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// SymbolID 统一符号转交易所原生格式（BNB/BTC -> BNBBTC）。
func SymbolID(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType  string `json:"filterType"`
			MinPrice    string `json:"minPrice"`
			MaxPrice    string `json:"maxPrice"`
			MinQty      string `json:"minQty"`
			MaxQty      string `json:"maxQty"`
			MinNotional string `json:"minNotional"`
			MaxNotional string `json:"maxNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// LoadMarkets 拉取 exchangeInfo 并构建统一交易对表。
func (c *BinanceRESTClient) LoadMarkets() (map[string]Market, error) {
	var info exchangeInfoResp
	if err := c.do(http.MethodGet, "/api/v3/exchangeInfo", weightExchangeInfo, nil, false, &info); err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}
	markets := make(map[string]Market, len(info.Symbols))
	idToSymbol := make(map[string]string, len(info.Symbols))
	for _, s := range info.Symbols {
		m := Market{
			Symbol: s.BaseAsset + "/" + s.QuoteAsset,
			ID:     s.Symbol,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Active: s.Status == "TRADING",
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				m.Limits.Price.Min = parseFloat(f.MinPrice)
				m.Limits.Price.Max = parseFloat(f.MaxPrice)
			case "LOT_SIZE":
				m.Limits.Amount.Min = parseFloat(f.MinQty)
				m.Limits.Amount.Max = parseFloat(f.MaxQty)
			case "MIN_NOTIONAL", "NOTIONAL":
				m.Limits.Cost.Min = parseFloat(f.MinNotional)
				m.Limits.Cost.Max = parseFloat(f.MaxNotional)
			}
		}
		markets[m.Symbol] = m
		idToSymbol[m.ID] = m.Symbol
	}
	c.mu.Lock()
	c.idToSymbol = idToSymbol
	c.mu.Unlock()
	return markets, nil
}

// FetchTickers 批量拉取全部交易对的最优买卖档。
func (c *BinanceRESTClient) FetchTickers() (map[string]BookTicker, error) {
	var raw []struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
		BidQty   string `json:"bidQty"`
		AskPrice string `json:"askPrice"`
		AskQty   string `json:"askQty"`
	}
	if err := c.do(http.MethodGet, "/api/v3/ticker/bookTicker", weightBookTicker, nil, false, &raw); err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}
	c.mu.RLock()
	idToSymbol := c.idToSymbol
	c.mu.RUnlock()
	tickers := make(map[string]BookTicker, len(raw))
	for _, t := range raw {
		symbol, ok := idToSymbol[t.Symbol]
		if !ok {
			continue
		}
		tickers[symbol] = BookTicker{
			Symbol: symbol,
			Ask:    parseFloat(t.AskPrice),
			AskQty: parseFloat(t.AskQty),
			Bid:    parseFloat(t.BidPrice),
			BidQty: parseFloat(t.BidQty),
		}
	}
	return tickers, nil
}

// FetchOHLCV 拉取最近 limit 根 K 线。
func (c *BinanceRESTClient) FetchOHLCV(symbol, timeframe string, limit int) ([]Candle, error) {
	if !SupportedTimeframe(timeframe) {
		return nil, fmt.Errorf("fetch ohlcv %s: unsupported timeframe %q", symbol, timeframe)
	}
	params := map[string]string{
		"symbol":   SymbolID(symbol),
		"interval": timeframe,
		"limit":    strconv.Itoa(limit),
	}
	var raw [][]interface{}
	if err := c.do(http.MethodGet, "/api/v3/klines", weightKlines, params, false, &raw); err != nil {
		return nil, fmt.Errorf("fetch ohlcv %s %s: %w", symbol, timeframe, err)
	}
	candles := make([]Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, Candle{
			OpenTime: int64(toFloat(row[0])),
			Open:     toFloat(row[1]),
			High:     toFloat(row[2]),
			Low:      toFloat(row[3]),
			Close:    toFloat(row[4]),
			Volume:   toFloat(row[5]),
		})
	}
	return candles, nil
}

// FetchBalances 拉取账户余额并过滤零余额资产。
func (c *BinanceRESTClient) FetchBalances() (map[string]Balance, error) {
	var acct struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := c.do(http.MethodGet, "/api/v3/account", weightAccount, nil, true, &acct); err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	balances := make(map[string]Balance)
	for _, b := range acct.Balances {
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		if free <= 0 && locked <= 0 {
			continue
		}
		balances[b.Asset] = Balance{Free: free, Locked: locked, All: free + locked}
	}
	return balances, nil
}

type orderResp struct {
	OrderID       json.Number `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId"`
	Symbol        string      `json:"symbol"`
	Status        string      `json:"status"`
	Side          string      `json:"side"`
	Type          string      `json:"type"`
	Price         string      `json:"price"`
	OrigQty       string      `json:"origQty"`
	ExecutedQty   string      `json:"executedQty"`
	TransactTime  int64       `json:"transactTime"`
	Time          int64       `json:"time"`
	Fills         []struct {
		Commission string `json:"commission"`
	} `json:"fills"`
}

func (r orderResp) toResult() OrderResult {
	res := OrderResult{
		ID:        r.OrderID.String(),
		ClientID:  r.ClientOrderID,
		Symbol:    r.Symbol,
		Side:      Side(r.Side),
		Type:      OrderType(r.Type),
		Price:     parseFloat(r.Price),
		Amount:    parseFloat(r.OrigQty),
		Filled:    parseFloat(r.ExecutedQty),
		Status:    r.Status,
		Timestamp: r.TransactTime,
	}
	if res.Timestamp == 0 {
		res.Timestamp = r.Time
	}
	for _, f := range r.Fills {
		res.Fee += parseFloat(f.Commission)
	}
	return res
}

// CreateOrder 提交新订单；clientID 为空时由交易所生成。
func (c *BinanceRESTClient) CreateOrder(symbol string, side Side, typ OrderType, amount, price float64, clientID string) (OrderResult, error) {
	params := map[string]string{
		"symbol":   SymbolID(symbol),
		"side":     string(side),
		"type":     string(typ),
		"quantity": strconv.FormatFloat(amount, 'f', -1, 64),
	}
	if typ == TypeLimit {
		params["price"] = strconv.FormatFloat(price, 'f', -1, 64)
		params["timeInForce"] = "GTC"
	}
	if clientID != "" {
		params["newClientOrderId"] = clientID
	}
	var resp orderResp
	if err := c.do(http.MethodPost, "/api/v3/order", weightOrder, params, true, &resp); err != nil {
		return OrderResult{}, fmt.Errorf("create order %s: %w", symbol, err)
	}
	res := resp.toResult()
	res.Symbol = symbol
	return res, nil
}

// CancelOrder 撤销指定订单。
func (c *BinanceRESTClient) CancelOrder(id, symbol string) error {
	params := map[string]string{"symbol": SymbolID(symbol)}
	setOrderID(params, id)
	if err := c.do(http.MethodDelete, "/api/v3/order", weightOrder, params, true, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", id, err)
	}
	return nil
}

// FetchOrder 查询订单当前状态。
func (c *BinanceRESTClient) FetchOrder(id, symbol string) (OrderResult, error) {
	params := map[string]string{"symbol": SymbolID(symbol)}
	setOrderID(params, id)
	var resp orderResp
	if err := c.do(http.MethodGet, "/api/v3/order", weightOrder, params, true, &resp); err != nil {
		return OrderResult{}, fmt.Errorf("fetch order %s: %w", id, err)
	}
	res := resp.toResult()
	res.Symbol = symbol
	return res, nil
}

// setOrderID 数字 ID 走 orderId，否则按客户端自定义 ID 查询。
func setOrderID(params map[string]string, id string) {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		params["orderId"] = id
	} else {
		params["origClientOrderId"] = id
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		return parseFloat(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	default:
		return 0
	}
}
