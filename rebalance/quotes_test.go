package rebalance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rebalancer-go/gateway"
	"rebalancer-go/infrastructure/logger"
	"rebalancer-go/market"
)

type fixedPrices map[string]float64

func (p fixedPrices) PriceOf(a, b string) float64 {
	if a == b {
		return 1
	}
	return p[a]
}

func usdtMarkets() map[string]gateway.Market {
	out := make(map[string]gateway.Market)
	for _, sym := range []string{"BTC/USDT", "ETH/USDT", "ETH/BTC"} {
		out[sym] = gateway.Market{Symbol: sym, Active: true}
	}
	return out
}

func usdtTickers() map[string]market.Ticker {
	return map[string]market.Ticker{
		"BTC/USDT": {Symbol: "BTC/USDT", Bid: 9990, Ask: 10010},
		"ETH/USDT": {Symbol: "ETH/USDT", Bid: 199, Ask: 201},
		"ETH/BTC":  {Symbol: "ETH/BTC", Bid: 0.0199, Ask: 0.0201},
	}
}

// 以 USDT 计价：BTC=10000, ETH=200
var usdtPrices = fixedPrices{"BTC": 10000, "ETH": 200}

func TestGenerateQuotesFiltersBelowPrecision(t *testing.T) {
	e := NewEngine(logger.NewNop(), "USDT", usdtMarkets())
	diff := map[string]float64{"BTC": 0.0005, "ETH": -0.0005, "USDT": 0}

	quotes := e.GenerateQuotes(diff, 0.001, usdtTickers(), usdtPrices, 10000)
	require.Empty(t, quotes)
}

func TestGenerateQuotesBuysDirectMarketAtBid(t *testing.T) {
	e := NewEngine(logger.NewNop(), "USDT", usdtMarkets())
	diff := map[string]float64{"BTC": 0.1, "USDT": -0.1, "ETH": 0}

	quotes := e.GenerateQuotes(diff, 0.001, usdtTickers(), usdtPrices, 10000)
	require.Len(t, quotes, 1)
	q := quotes[0]
	require.Equal(t, "BTC/USDT", q.Symbol)
	require.Equal(t, gateway.SideBuy, q.Side)
	require.Equal(t, gateway.TypeLimit, q.Type)
	require.Equal(t, 9990.0, q.Price)
	// 1000 USDT / 10000 = 0.1 BTC
	require.InDelta(t, 0.1, q.Amount, 1e-9)
}

func TestGenerateQuotesSellsInverseMarketAtAsk(t *testing.T) {
	e := NewEngine(logger.NewNop(), "USDT", usdtMarkets())
	diff := map[string]float64{"USDT": 0.1, "ETH": -0.1, "BTC": 0}

	quotes := e.GenerateQuotes(diff, 0.001, usdtTickers(), usdtPrices, 10000)
	require.Len(t, quotes, 1)
	q := quotes[0]
	require.Equal(t, "ETH/USDT", q.Symbol)
	require.Equal(t, gateway.SideSell, q.Side)
	require.Equal(t, 201.0, q.Price)
	require.InDelta(t, 5.0, q.Amount, 1e-9)
}

// 全部市场可用时，撮合应把双方金额完全消化。
func TestGenerateQuotesConservation(t *testing.T) {
	e := NewEngine(logger.NewNop(), "USDT", usdtMarkets())
	diff := map[string]float64{"BTC": 0.05, "USDT": 0.05, "ETH": -0.1}

	quotes := e.GenerateQuotes(diff, 0.001, usdtTickers(), usdtPrices, 10000)
	require.Len(t, quotes, 2)

	// 剩余金额相同按资产名升序：BTC 先于 USDT
	require.Equal(t, "ETH/BTC", quotes[0].Symbol)
	require.Equal(t, gateway.SideSell, quotes[0].Side)
	require.InDelta(t, 2.5, quotes[0].Amount, 1e-9)

	require.Equal(t, "ETH/USDT", quotes[1].Symbol)
	require.Equal(t, gateway.SideSell, quotes[1].Side)
	require.InDelta(t, 2.5, quotes[1].Amount, 1e-9)
}

func TestGenerateQuotesIsDeterministic(t *testing.T) {
	diff := map[string]float64{"BTC": 0.03, "USDT": 0.07, "ETH": -0.06, "XRP": -0.04}
	markets := usdtMarkets()
	markets["XRP/USDT"] = gateway.Market{Symbol: "XRP/USDT", Active: true}
	markets["XRP/BTC"] = gateway.Market{Symbol: "XRP/BTC", Active: true}
	tickers := usdtTickers()
	tickers["XRP/USDT"] = market.Ticker{Symbol: "XRP/USDT", Bid: 0.49, Ask: 0.51}
	tickers["XRP/BTC"] = market.Ticker{Symbol: "XRP/BTC", Bid: 0.000049, Ask: 0.000051}
	prices := fixedPrices{"BTC": 10000, "ETH": 200, "XRP": 0.5}

	e := NewEngine(logger.NewNop(), "USDT", markets)
	first := e.GenerateQuotes(diff, 0.001, tickers, prices, 10000)
	for i := 0; i < 5; i++ {
		again := e.GenerateQuotes(diff, 0.001, tickers, prices, 10000)
		require.Equal(t, first, again)
	}
}

func TestGenerateQuotesSkipsPairWithoutMarket(t *testing.T) {
	e := NewEngine(logger.NewNop(), "USDT", usdtMarkets())
	diff := map[string]float64{"XRP": 0.1, "USDT": -0.1}

	quotes := e.GenerateQuotes(diff, 0.001, usdtTickers(), usdtPrices, 10000)
	require.Empty(t, quotes)
}
