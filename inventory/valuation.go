package inventory

import (
	"sort"

	"rebalancer-go/catalog"
	"rebalancer-go/market"
)

// Engine 将任意资产余额折算为基准资产价值并计算当前组合权重。
// 定价路径依次尝试：直接市场收盘价、反向市场收盘价的倒数、经桥接资产两段换算。
// 路径缺失或除零时返回 0 而不是报错，受影响的资产记入 Unpriced 供上游告警。
type Engine struct {
	base      string
	timeframe string
	snap      *market.Snapshot
	unpriced  map[string]struct{}
}

func NewEngine(base, timeframe string, snap *market.Snapshot) *Engine {
	return &Engine{
		base:      base,
		timeframe: timeframe,
		snap:      snap,
		unpriced:  make(map[string]struct{}),
	}
}

// directOrInverse 返回 a 对 b 的价格，只考虑两方向的直接市场。
func (e *Engine) directOrInverse(a, b string) float64 {
	if close := e.snap.LastClose(a+"/"+b, e.timeframe); close > 0 {
		return close
	}
	if close := e.snap.LastClose(b+"/"+a, e.timeframe); close > 0 {
		return 1 / close
	}
	return 0
}

// PriceOf 解析 a 对 b 的价格；两条直接路径都不通时经桥接资产换算，仍不通返回 0。
func (e *Engine) PriceOf(a, b string) float64 {
	if a == b {
		return 1
	}
	if p := e.directOrInverse(a, b); p > 0 {
		return p
	}
	legA := e.directOrInverse(a, catalog.BridgeAsset)
	legB := e.directOrInverse(catalog.BridgeAsset, b)
	if legA > 0 && legB > 0 {
		return legA * legB
	}
	return 0
}

// BaseValueOf 将资产余额折算为基准资产价值；基准资产本身原样返回。
func (e *Engine) BaseValueOf(asset string) float64 {
	bal, ok := e.snap.Balances[asset]
	if !ok || bal.All == 0 {
		return 0
	}
	if asset == e.base {
		return bal.All
	}
	p := e.PriceOf(asset, e.base)
	if p == 0 {
		e.unpriced[asset] = struct{}{}
		return 0
	}
	return bal.All * p
}

// PortfolioBaseTotal 组合内全部资产的基准资产价值之和。
func (e *Engine) PortfolioBaseTotal(assets []string) float64 {
	var total float64
	for _, a := range assets {
		total += e.BaseValueOf(a)
	}
	return total
}

// CurrentWeights 每个组合资产的当前权重；组合总价值为零时全部权重为 0。
func (e *Engine) CurrentWeights(assets []string) map[string]float64 {
	weights := make(map[string]float64, len(assets))
	total := e.PortfolioBaseTotal(assets)
	for _, a := range assets {
		if total <= 0 {
			weights[a] = 0
			continue
		}
		weights[a] = e.BaseValueOf(a) / total
	}
	return weights
}

// Unpriced 本周期内定价路径失败但余额非零的资产。
func (e *Engine) Unpriced() []string {
	out := make([]string, 0, len(e.unpriced))
	for a := range e.unpriced {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
