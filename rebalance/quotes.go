package rebalance

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"rebalancer-go/gateway"
	"rebalancer-go/infrastructure/logger"
	"rebalancer-go/market"
)

const (
	// DustThreshold 低于该数量的订单视为粉尘，不提交。
	DustThreshold = 1e-6
	// ResidualTolerance 撮合结束后允许残留的基准资产金额；超过说明缺少市场。
	ResidualTolerance = 10.0
)

// Quote 待提交的订单描述。
type Quote struct {
	Symbol string
	Side   gateway.Side
	Type   gateway.OrderType
	Amount float64
	Price  float64
}

// PriceResolver 把资产金额换算口径交给估值引擎。
type PriceResolver interface {
	PriceOf(a, b string) float64
}

// Engine 把连续的权重差值转换为离散的订单列表：
// 把需增持与需减持的资产在现有市场上两两撮合，避免不必要的基准资产来回兑换。
type Engine struct {
	log     *logger.Logger
	base    string
	markets map[string]gateway.Market
}

func NewEngine(log *logger.Logger, base string, markets map[string]gateway.Market) *Engine {
	return &Engine{log: log, base: base, markets: markets}
}

type imbalance struct {
	asset     string
	remaining float64 // 基准资产金额
}

// GenerateQuotes 差值绝对值低于 precision 的资产先被丢弃；其余按
// |差值|*baseTotal 得到基准金额，增持方与减持方贪心撮合。
// 撮合顺序固定：双方都按剩余金额降序、资产名升序，保证结果可复现。
func (e *Engine) GenerateQuotes(diff map[string]float64, precision float64, tickers map[string]market.Ticker, prices PriceResolver, baseTotal float64) []Quote {
	var longs, shorts []imbalance // longs 需增持（diff>0），shorts 需减持（diff<0）
	for asset, d := range diff {
		if math.Abs(d) < precision {
			continue
		}
		entry := imbalance{asset: asset, remaining: math.Abs(d) * baseTotal}
		if d > 0 {
			longs = append(longs, entry)
		} else {
			shorts = append(shorts, entry)
		}
	}
	sortImbalances(longs)
	sortImbalances(shorts)

	var quotes []Quote
	for i := range longs {
		long := &longs[i]
		for j := range shorts {
			short := &shorts[j]
			if long.remaining <= DustThreshold {
				break
			}
			if short.remaining <= DustThreshold {
				continue
			}
			matched := math.Min(long.remaining, short.remaining)

			q, ok := e.matchPair(long.asset, short.asset, matched, tickers, prices)
			if !ok {
				continue
			}
			if q.Amount < DustThreshold {
				// 剩余金额换算后已是粉尘，该增持资产不再继续撮合
				break
			}
			quotes = append(quotes, q)
			long.remaining -= matched
			short.remaining -= matched
		}
	}

	for _, entry := range append(longs, shorts...) {
		if entry.remaining > ResidualTolerance {
			e.log.Error("cross-matching left unresolved imbalance, missing markets",
				zap.String("asset", entry.asset),
				zap.Float64("residual", entry.remaining))
		}
	}
	return quotes
}

// matchPair 为一对 (增持 buyAsset, 减持 sellAsset) 寻找可用市场并生成订单。
func (e *Engine) matchPair(buyAsset, sellAsset string, matchedBase float64, tickers map[string]market.Ticker, prices PriceResolver) (Quote, bool) {
	if _, ok := e.markets[buyAsset+"/"+sellAsset]; ok {
		symbol := buyAsset + "/" + sellAsset
		tk, ok := tickers[symbol]
		if !ok {
			e.log.Error("no ticker for market, skipping pair", zap.String("symbol", symbol))
			return Quote{}, false
		}
		p := prices.PriceOf(buyAsset, e.base)
		if p <= 0 {
			e.log.Error("no price path to base asset, skipping pair", zap.String("asset", buyAsset))
			return Quote{}, false
		}
		return Quote{
			Symbol: symbol,
			Side:   gateway.SideBuy,
			Type:   gateway.TypeLimit,
			Amount: matchedBase / p,
			Price:  tk.Bid,
		}, true
	}
	if _, ok := e.markets[sellAsset+"/"+buyAsset]; ok {
		symbol := sellAsset + "/" + buyAsset
		tk, ok := tickers[symbol]
		if !ok {
			e.log.Error("no ticker for market, skipping pair", zap.String("symbol", symbol))
			return Quote{}, false
		}
		p := prices.PriceOf(sellAsset, e.base)
		if p <= 0 {
			e.log.Error("no price path to base asset, skipping pair", zap.String("asset", sellAsset))
			return Quote{}, false
		}
		return Quote{
			Symbol: symbol,
			Side:   gateway.SideSell,
			Type:   gateway.TypeLimit,
			Amount: matchedBase / p,
			Price:  tk.Ask,
		}, true
	}
	e.log.Error("no market for trading assets against each other",
		zap.String("buy", buyAsset), zap.String("sell", sellAsset))
	return Quote{}, false
}

func sortImbalances(entries []imbalance) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].remaining != entries[j].remaining {
			return entries[i].remaining > entries[j].remaining
		}
		return entries[i].asset < entries[j].asset
	})
}
