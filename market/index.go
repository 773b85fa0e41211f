package market

import (
	"rebalancer-go/catalog"
	"rebalancer-go/gateway"
)

// Index 成交量加权的资产篮子指数（原始系统中的 SCINDEX）。
type Index struct {
	Volume24 float64
	Ask      float64
	Bid      float64
}

// Mid 指数中间价。
func (i Index) Mid() float64 { return (i.Ask + i.Bid) / 2 }

// IndexMarkets 从全部市场中挑出指数资产对桥接资产的市场（任一方向）。
func IndexMarkets(markets map[string]gateway.Market, indexAssets []string) []string {
	in := make(map[string]struct{}, len(indexAssets))
	for _, a := range indexAssets {
		in[a] = struct{}{}
	}
	out := make([]string, 0, len(indexAssets))
	for sym, m := range markets {
		_, baseIn := in[m.Base]
		_, quoteIn := in[m.Quote]
		if (baseIn && m.Quote == catalog.BridgeAsset) || (quoteIn && m.Base == catalog.BridgeAsset) {
			out = append(out, sym)
		}
	}
	return out
}

// ComputeIndex 以近 24 根 K 线的成交量为权重，对各市场的买卖价加权。
// 没有任何可用成交量时第二个返回值为 false。
func ComputeIndex(symbols []string, tickers map[string]Ticker, series map[string]map[string][]gateway.Candle, timeframe string) (Index, bool) {
	volumes := make(map[string]float64, len(symbols))
	var total float64
	for _, sym := range symbols {
		if _, ok := tickers[sym]; !ok {
			continue
		}
		byTF, ok := series[sym]
		if !ok {
			continue
		}
		candles := byTF[timeframe]
		if len(candles) == 0 {
			continue
		}
		start := len(candles) - 24
		if start < 0 {
			start = 0
		}
		var v float64
		for _, c := range candles[start:] {
			v += c.Volume
		}
		volumes[sym] = v
		total += v
	}
	if total <= 0 {
		return Index{}, false
	}
	var idx Index
	idx.Volume24 = total
	for sym, v := range volumes {
		t := tickers[sym]
		idx.Ask += t.Ask * v / total
		idx.Bid += t.Bid * v / total
	}
	return idx, true
}
