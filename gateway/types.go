package gateway

// Side 订单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType 订单类型。
type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

// LimitRange 交易所给出的某一维度限制；Max 为 0 表示无上限。
type LimitRange struct {
	Min float64
	Max float64
}

// MarketLimits 交易对的成本/数量/价格限制。
type MarketLimits struct {
	Cost   LimitRange
	Amount LimitRange
	Price  LimitRange
}

// Market 交易对元数据，每个刷新周期内视为不可变。
type Market struct {
	Symbol string // 统一格式，如 BNB/BTC
	ID     string // 交易所原生格式，如 BNBBTC
	Base   string
	Quote  string
	Active bool
	Limits MarketLimits
}

// BookTicker 最优买卖档快照。
type BookTicker struct {
	Symbol string
	Ask    float64
	AskQty float64
	Bid    float64
	BidQty float64
}

// Candle 单根 K 线；OpenTime 为毫秒时间戳。
type Candle struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Balance 账户某资产余额；All = Free + Locked。
type Balance struct {
	Free   float64
	Locked float64
	All    float64
}

// OrderResult 下单/查单/撤单的统一响应。
type OrderResult struct {
	ID        string
	ClientID  string
	Symbol    string
	Side      Side
	Type      OrderType
	Price     float64
	Amount    float64
	Filled    float64
	Fee       float64
	Status    string
	Timestamp int64
}

// Client 交易所接口；快照刷新与订单管理只依赖该抽象。
type Client interface {
	LoadMarkets() (map[string]Market, error)
	FetchTickers() (map[string]BookTicker, error)
	FetchOHLCV(symbol, timeframe string, limit int) ([]Candle, error)
	FetchBalances() (map[string]Balance, error)
	CreateOrder(symbol string, side Side, typ OrderType, amount, price float64, clientID string) (OrderResult, error)
	CancelOrder(id, symbol string) error
	FetchOrder(id, symbol string) (OrderResult, error)
}

var supportedTimeframes = map[string]struct{}{
	"1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {}, "1M": {},
}

// SupportedTimeframe 判断交易所是否支持该 K 线周期。
func SupportedTimeframe(tf string) bool {
	_, ok := supportedTimeframes[tf]
	return ok
}
