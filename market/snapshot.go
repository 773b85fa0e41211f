package market

import (
	"time"

	"go.uber.org/zap"

	"rebalancer-go/calc"
	"rebalancer-go/gateway"
	"rebalancer-go/infrastructure/logger"
)

// MinOHLCVLimit 统计意义上建议的最少 K 线数量；低于该值的请求会被抬高。
const MinOHLCVLimit = 20

// Ticker 单个交易对的行情快照，含派生统计。
type Ticker struct {
	Symbol    string
	Ask       float64
	AskQty    float64
	Bid       float64
	BidQty    float64
	Mid       float64
	Spread    float64
	SpreadPct float64
	Timestamp time.Time
}

// Snapshot 一个周期内的行情/余额/K 线快照。每个周期整体重建，
// 不跨周期增量修改；刷新失败的部分保持为 nil/空，下游据此跳过本周期。
type Snapshot struct {
	Tickers  map[string]Ticker
	Balances map[string]gateway.Balance
	Series   map[string]map[string][]gateway.Candle // symbol -> timeframe -> candles
}

// TickersAvailable 行情表是否在本周期刷新成功。
func (s *Snapshot) TickersAvailable() bool { return s != nil && s.Tickers != nil }

// Closes 返回某交易对主周期的收盘价序列；缺失时返回 nil。
func (s *Snapshot) Closes(symbol, timeframe string) []float64 {
	if s == nil {
		return nil
	}
	byTF, ok := s.Series[symbol]
	if !ok {
		return nil
	}
	candles, ok := byTF[timeframe]
	if !ok {
		return nil
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// LastClose 某交易对主周期最近一根 K 线的收盘价；缺失时返回 0。
func (s *Snapshot) LastClose(symbol, timeframe string) float64 {
	closes := s.Closes(symbol, timeframe)
	if len(closes) == 0 {
		return 0
	}
	return closes[len(closes)-1]
}

// Refresher 按周期从交易所拉取数据构建快照。
type Refresher struct {
	log *logger.Logger
	cli gateway.Client
}

func NewRefresher(log *logger.Logger, cli gateway.Client) *Refresher {
	return &Refresher{log: log, cli: cli}
}

// Tickers 批量拉取行情并过滤到跟踪的市场。失败时返回 nil，
// 表示行情不可用，而不是沿用上一周期的旧数据。
func (r *Refresher) Tickers(symbols []string) map[string]Ticker {
	raw, err := r.cli.FetchTickers()
	if err != nil {
		r.log.Error("ticker refresh failed, marking unavailable", zap.Error(err))
		return nil
	}
	tracked := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		tracked[s] = struct{}{}
	}
	filtered := make(map[string]gateway.BookTicker, len(symbols))
	for sym, t := range raw {
		if _, ok := tracked[sym]; ok {
			filtered[sym] = t
		}
	}
	return DeriveTickerStats(filtered)
}

// DeriveTickerStats 过滤掉买卖价非正的未报价市场，并计算中间价/价差。
func DeriveTickerStats(raw map[string]gateway.BookTicker) map[string]Ticker {
	now := time.Now().UTC()
	out := make(map[string]Ticker, len(raw))
	for sym, t := range raw {
		if t.Ask <= 0 || t.Bid <= 0 {
			continue
		}
		mid := calc.Round((t.Ask+t.Bid)/2, 8)
		spread := calc.Round(t.Ask-t.Bid, 8)
		var spreadPct float64
		if mid > 0 {
			spreadPct = calc.Round(100*spread/mid, 4)
		}
		out[sym] = Ticker{
			Symbol:    sym,
			Ask:       t.Ask,
			AskQty:    t.AskQty,
			Bid:       t.Bid,
			BidQty:    t.BidQty,
			Mid:       mid,
			Spread:    spread,
			SpreadPct: spreadPct,
			Timestamp: now,
		}
	}
	return out
}

// OHLCV 为每个 (市场, 周期) 拉取最近 limit 根 K 线。
// 不支持的周期被过滤；单个市场失败只记日志并留空。
func (r *Refresher) OHLCV(symbols, timeframes []string, limit int) map[string]map[string][]gateway.Candle {
	valid := make([]string, 0, len(timeframes))
	for _, tf := range timeframes {
		if gateway.SupportedTimeframe(tf) {
			valid = append(valid, tf)
		} else {
			r.log.Warn("unsupported timeframe filtered out", zap.String("timeframe", tf))
		}
	}
	out := make(map[string]map[string][]gateway.Candle, len(symbols))
	if len(valid) == 0 {
		return out
	}
	if limit < MinOHLCVLimit {
		r.log.Warn("ohlcv limit below recommended minimum, clamping",
			zap.Int("limit", limit), zap.Int("min", MinOHLCVLimit))
		limit = MinOHLCVLimit
	}
	for _, sym := range symbols {
		byTF := make(map[string][]gateway.Candle, len(valid))
		for _, tf := range valid {
			candles, err := r.cli.FetchOHLCV(sym, tf, limit)
			if err != nil {
				r.log.Error("ohlcv refresh failed",
					zap.String("symbol", sym), zap.String("timeframe", tf), zap.Error(err))
				continue
			}
			byTF[tf] = candles
		}
		out[sym] = byTF
	}
	return out
}

// Balances 拉取账户余额；失败时清空并继续，视为瞬态错误。
func (r *Refresher) Balances() map[string]gateway.Balance {
	balances, err := r.cli.FetchBalances()
	if err != nil {
		r.log.Error("balance refresh failed, clearing", zap.Error(err))
		return map[string]gateway.Balance{}
	}
	return balances
}
