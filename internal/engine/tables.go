package engine

import (
	"fmt"

	"rebalancer-go/internal/display"
	"rebalancer-go/inventory"
	"rebalancer-go/market"
)

// 价格变化表的回看档位：标签 → 距最后一根 K 线的偏移。
var changeLags = []struct {
	label  string
	offset int
}{
	{"1H%", 2}, {"3H%", 4}, {"6H%", 7}, {"12H%", 13}, {"24H%", 25}, {"72H%", 73},
}

// render 周期末尾把指数/组合/价格变化表推给展示层。
func (r *Rebalancer) render(snap *market.Snapshot, val *inventory.Engine, idx market.Index, idxOK bool, baseTotal float64, current map[string]float64) {
	tables := make([]display.Table, 0, 3)
	if idxOK {
		tables = append(tables, r.indexTable(idx, snap))
	}
	tables = append(tables,
		r.portfolioTable(snap, val, baseTotal, current),
		r.priceChangeTable(snap),
	)
	r.disp.Push("Rebalancer", "Status: OK", tables...)
	r.disp.Render()
}

func (r *Rebalancer) indexTable(idx market.Index, snap *market.Snapshot) display.Table {
	rows := [][]string{{"NAME", "VOLUME24", "ASK", "BID"}}
	rows = append(rows, []string{
		"INDEX",
		fmt.Sprintf("%.2f", idx.Volume24),
		fmt.Sprintf("%.2f", idx.Ask),
		fmt.Sprintf("%.2f", idx.Bid),
	})
	for _, sym := range r.indexMarkets {
		t, ok := snap.Tickers[sym]
		if !ok {
			continue
		}
		byTF := snap.Series[sym]
		var vol float64
		if byTF != nil {
			candles := byTF[r.timeframe]
			start := len(candles) - 24
			if start < 0 {
				start = 0
			}
			for _, c := range candles[start:] {
				vol += c.Volume
			}
		}
		rows = append(rows, []string{
			sym,
			fmt.Sprintf("%.2f", vol),
			fmt.Sprintf("%.8f", t.Ask),
			fmt.Sprintf("%.8f", t.Bid),
		})
	}
	return display.Table{Title: "INDEX", Rows: rows}
}

func (r *Rebalancer) portfolioTable(snap *market.Snapshot, val *inventory.Engine, baseTotal float64, current map[string]float64) display.Table {
	rows := [][]string{{"NAME", "BALANCE", "VALUE", "MIN%", "CURRENT%", "MAX%"}}
	for _, asset := range r.portfolioAssets {
		b := r.portfolio[asset]
		rows = append(rows, []string{
			asset,
			fmt.Sprintf("%.4f", snap.Balances[asset].All),
			fmt.Sprintf("%.2f", val.BaseValueOf(asset)),
			fmt.Sprintf("%.2f", 100*b.Min),
			fmt.Sprintf("%.2f", 100*current[asset]),
			fmt.Sprintf("%.2f", 100*b.Max),
		})
	}
	rows = append(rows, []string{"ALL", "-", fmt.Sprintf("%.2f", baseTotal), "-", "-", "-"})
	return display.Table{Title: "PORTFOLIO", Rows: rows}
}

// priceChangeTable 每个组合市场在各回看档位上的涨跌幅；K 线不足的档位留空。
func (r *Rebalancer) priceChangeTable(snap *market.Snapshot) display.Table {
	header := []string{"NAME"}
	for _, lag := range changeLags {
		header = append(header, lag.label)
	}
	rows := [][]string{header}
	for _, sym := range r.portfolioMarkets {
		closes := snap.Closes(sym, r.timeframe)
		if len(closes) == 0 {
			continue
		}
		p := closes[len(closes)-1]
		row := []string{sym}
		for _, lag := range changeLags {
			i := len(closes) - lag.offset
			if i < 0 || p == 0 {
				row = append(row, "-")
				continue
			}
			row = append(row, fmt.Sprintf("%+.2f", 100*(p-closes[i])/p))
		}
		rows = append(rows, row)
	}
	return display.Table{Title: "PRICE CHANGE", Rows: rows}
}
