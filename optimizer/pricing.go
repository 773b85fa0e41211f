package optimizer

import (
	"strings"

	"rebalancer-go/catalog"
	"rebalancer-go/gateway"
	"rebalancer-go/market"
)

// PricingTable 基准资产计价的收盘价矩阵：每个组合资产一列，外加基准资产的常数 1 列。
// 各列按最短序列对齐（保留最近的行）。
type PricingTable struct {
	Assets    []string // 列顺序
	Rows      int
	Columns   map[string][]float64
	FirstTime int64 // 对齐后首行开盘时间，毫秒
	LastTime  int64 // 对齐后末行开盘时间，毫秒
}

// BuildPricingTable 把每个跟踪市场的收盘价序列换算成一条以基准资产计价的资产序列：
// 市场报价资产为基准时直接取收盘价；市场基础资产为基准时取倒数；
// 仅经桥接资产可达的市场用桥接资产对基准的序列逐行换算。
// 只为 assets 中的资产建列：桥接换算市场（如 BTC/USDT）可能只为估值服务，
// 其基础资产不在组合里时不得进入矩阵，否则推荐权重会多出组合外的键。
func BuildPricingTable(series map[string]map[string][]gateway.Candle, symbols, assets []string, base, timeframe string) PricingTable {
	table := PricingTable{Columns: make(map[string][]float64)}

	wanted := make(map[string]struct{}, len(assets)+1)
	for _, a := range assets {
		wanted[a] = struct{}{}
	}
	wanted[base] = struct{}{}

	closesOf := func(symbol string) []gateway.Candle {
		byTF, ok := series[symbol]
		if !ok {
			return nil
		}
		return byTF[timeframe]
	}

	// 桥接资产对基准的换算序列
	var bridgeToBase []float64
	if candles := closesOf(catalog.BridgeAsset + "/" + base); len(candles) > 0 {
		bridgeToBase = make([]float64, len(candles))
		for i, c := range candles {
			bridgeToBase[i] = c.Close
		}
	} else if candles := closesOf(base + "/" + catalog.BridgeAsset); len(candles) > 0 {
		bridgeToBase = make([]float64, len(candles))
		for i, c := range candles {
			if c.Close > 0 {
				bridgeToBase[i] = 1 / c.Close
			}
		}
	}

	times := make(map[string][]int64)
	addColumn := func(asset string, values []float64, openTimes []int64) {
		if _, ok := wanted[asset]; !ok {
			return
		}
		if _, dup := table.Columns[asset]; dup {
			return
		}
		table.Columns[asset] = values
		table.Assets = append(table.Assets, asset)
		times[asset] = openTimes
	}

	type deferred struct {
		asset   string
		symbol  string
		inverse bool
	}
	var bridgedAssets []deferred

	for _, sym := range symbols {
		mBase, mQuote := splitSymbol(sym)
		candles := closesOf(sym)
		if len(candles) == 0 {
			continue
		}
		openTimes := make([]int64, len(candles))
		for i, c := range candles {
			openTimes[i] = c.OpenTime
		}
		switch {
		case mQuote == base && mBase != base:
			values := make([]float64, len(candles))
			for i, c := range candles {
				values[i] = c.Close
			}
			addColumn(mBase, values, openTimes)
		case mBase == base && mQuote != base:
			values := make([]float64, len(candles))
			for i, c := range candles {
				if c.Close > 0 {
					values[i] = 1 / c.Close
				}
			}
			addColumn(mQuote, values, openTimes)
		case mQuote == catalog.BridgeAsset:
			bridgedAssets = append(bridgedAssets, deferred{asset: mBase, symbol: sym})
		case mBase == catalog.BridgeAsset:
			bridgedAssets = append(bridgedAssets, deferred{asset: mQuote, symbol: sym, inverse: true})
		}
	}

	if len(bridgeToBase) > 0 {
		for _, d := range bridgedAssets {
			if _, dup := table.Columns[d.asset]; dup {
				continue
			}
			candles := closesOf(d.symbol)
			n := len(candles)
			if len(bridgeToBase) < n {
				n = len(bridgeToBase)
			}
			if n == 0 {
				continue
			}
			values := make([]float64, n)
			openTimes := make([]int64, n)
			legA := candles[len(candles)-n:]
			legB := bridgeToBase[len(bridgeToBase)-n:]
			for i := 0; i < n; i++ {
				p := legA[i].Close
				if d.inverse {
					if p > 0 {
						p = 1 / p
					} else {
						p = 0
					}
				}
				values[i] = p * legB[i]
				openTimes[i] = legA[i].OpenTime
			}
			addColumn(d.asset, values, openTimes)
		}
	}

	// 对齐到最短序列，保留最近的行
	rows := -1
	for _, col := range table.Columns {
		if rows < 0 || len(col) < rows {
			rows = len(col)
		}
	}
	if rows < 0 {
		rows = 0
	}
	for asset, col := range table.Columns {
		table.Columns[asset] = col[len(col)-rows:]
	}
	table.Rows = rows

	// 区间取对齐后的行，先于对齐被截掉的行不算在内
	if rows > 0 {
		for _, a := range table.Assets {
			ts := times[a]
			if len(ts) < rows {
				continue
			}
			ts = ts[len(ts)-rows:]
			table.FirstTime = ts[0]
			table.LastTime = ts[rows-1]
			break
		}
	}

	// 基准资产本身恒为 1
	baseCol := make([]float64, rows)
	for i := range baseCol {
		baseCol[i] = 1
	}
	addColumn(base, baseCol, nil)

	return table
}

// Matrix 以 Assets 列序展开为 Rows x len(Assets) 的行主序矩阵。
func (t PricingTable) Matrix() []float64 {
	out := make([]float64, 0, t.Rows*len(t.Assets))
	for i := 0; i < t.Rows; i++ {
		for _, a := range t.Assets {
			out = append(out, t.Columns[a][i])
		}
	}
	return out
}

func splitSymbol(symbol string) (string, string) {
	if i := strings.IndexByte(symbol, '/'); i >= 0 {
		return symbol[:i], symbol[i+1:]
	}
	return symbol, ""
}

// BuildFromSnapshot 便捷入口：从周期快照构建定价矩阵。
func BuildFromSnapshot(snap *market.Snapshot, symbols, assets []string, base, timeframe string) PricingTable {
	return BuildPricingTable(snap.Series, symbols, assets, base, timeframe)
}
