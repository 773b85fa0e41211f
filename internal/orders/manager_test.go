package orders

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"rebalancer-go/gateway"
	"rebalancer-go/infrastructure/logger"
	"rebalancer-go/internal/report"
	"rebalancer-go/rebalance"
)

type stubClient struct {
	createCalls int
	cancelCalls int
	fetchCalls  int

	createErr error
	createRes gateway.OrderResult
	cancelErr error
	fetchErr  map[string]error
	fetchRes  map[string]gateway.OrderResult
}

func (c *stubClient) LoadMarkets() (map[string]gateway.Market, error) { return nil, nil }

func (c *stubClient) FetchTickers() (map[string]gateway.BookTicker, error) { return nil, nil }

func (c *stubClient) FetchOHLCV(string, string, int) ([]gateway.Candle, error) { return nil, nil }

func (c *stubClient) FetchBalances() (map[string]gateway.Balance, error) { return nil, nil }

func (c *stubClient) CreateOrder(symbol string, side gateway.Side, typ gateway.OrderType, amount, price float64, clientID string) (gateway.OrderResult, error) {
	c.createCalls++
	if c.createErr != nil {
		return gateway.OrderResult{}, c.createErr
	}
	res := c.createRes
	if res.ID == "" {
		res.ID = fmt.Sprintf("ex-%d", c.createCalls)
	}
	res.Symbol = symbol
	res.ClientID = clientID
	return res, nil
}

func (c *stubClient) CancelOrder(id, symbol string) error {
	c.cancelCalls++
	return c.cancelErr
}

func (c *stubClient) FetchOrder(id, symbol string) (gateway.OrderResult, error) {
	c.fetchCalls++
	if err, ok := c.fetchErr[id]; ok {
		return gateway.OrderResult{}, err
	}
	if res, ok := c.fetchRes[id]; ok {
		return res, nil
	}
	return gateway.OrderResult{ID: id, Status: "NEW"}, nil
}

type capturingReporter struct {
	fills []report.Fill
}

func (r *capturingReporter) ReportFill(f report.Fill, _, _ string) { r.fills = append(r.fills, f) }

func (r *capturingReporter) ReportValuation(report.Valuation, string, string) {}

func (r *capturingReporter) Close() error { return nil }

func btcMarket() map[string]gateway.Market {
	return map[string]gateway.Market{
		"BNB/BTC": {
			Symbol: "BNB/BTC", ID: "BNBBTC", Base: "BNB", Quote: "BTC", Active: true,
			Limits: gateway.MarketLimits{
				Cost:   gateway.LimitRange{Min: 0.0001},
				Amount: gateway.LimitRange{Min: 0.01, Max: 100000},
				Price:  gateway.LimitRange{Min: 1e-8},
			},
		},
	}
}

func quote(amount, price float64) rebalance.Quote {
	return rebalance.Quote{Symbol: "BNB/BTC", Side: gateway.SideBuy, Type: gateway.TypeLimit, Amount: amount, Price: price}
}

func TestCreateDryRunNeverContactsExchange(t *testing.T) {
	cli := &stubClient{}
	m := NewManager(logger.NewNop(), cli, report.NopReporter{}, btcMarket(), Options{DryRun: true})

	o := m.Create(quote(1, 0.004))
	require.Equal(t, StatusDryRun, o.Status)
	require.NotEmpty(t, o.ClientID)
	require.Zero(t, cli.createCalls)
}

func TestCreateRejectsBelowMinCost(t *testing.T) {
	cli := &stubClient{}
	m := NewManager(logger.NewNop(), cli, report.NopReporter{}, btcMarket(), Options{})

	// cost = 0.004 * 0.02 远低于 0.0001 下限
	o := m.Create(quote(0.02, 0.004))
	require.Equal(t, StatusRejectedLimits, o.Status)
	require.Zero(t, cli.createCalls)
}

func TestCreateCapturesSubmitFailureAsStatus(t *testing.T) {
	cli := &stubClient{createErr: fmt.Errorf("create order BNB/BTC: status 400 code -2010: insufficient balance")}
	m := NewManager(logger.NewNop(), cli, report.NopReporter{}, btcMarket(), Options{})

	o := m.Create(quote(1, 0.004))
	require.Equal(t, StatusSubmitError, o.Status)
	require.Contains(t, o.LastError, "insufficient balance")
	require.Empty(t, o.ID)
}

func TestCreateMarketOnlyForcesType(t *testing.T) {
	cli := &stubClient{createRes: gateway.OrderResult{Status: "NEW"}}
	m := NewManager(logger.NewNop(), cli, report.NopReporter{}, btcMarket(), Options{MarketOnly: true})

	o := m.Create(quote(1, 0.004))
	require.Equal(t, gateway.TypeMarket, o.Type)
	require.Equal(t, StatusOpen, o.Status)
}

func TestPlaceAllIndexesByExchangeID(t *testing.T) {
	cli := &stubClient{createRes: gateway.OrderResult{Status: "NEW"}}
	m := NewManager(logger.NewNop(), cli, report.NopReporter{}, btcMarket(), Options{})

	placed := m.PlaceAll([]rebalance.Quote{quote(1, 0.004), quote(2, 0.004)})
	require.Len(t, placed, 2)
	require.Len(t, m.Active(), 2)
	for _, o := range m.Active() {
		require.NotEmpty(t, o.ID)
		require.Equal(t, StatusOpen, o.Status)
	}
}

func TestFetchProcessedBestEffort(t *testing.T) {
	cli := &stubClient{
		createRes: gateway.OrderResult{Status: "NEW"},
		fetchErr:  map[string]error{"ex-1": fmt.Errorf("fetch order ex-1: timeout")},
		fetchRes:  map[string]gateway.OrderResult{"ex-2": {ID: "ex-2", Status: "FILLED", Filled: 2, Fee: 0.001}},
	}
	m := NewManager(logger.NewNop(), cli, report.NopReporter{}, btcMarket(), Options{})
	m.PlaceAll([]rebalance.Quote{quote(1, 0.004), quote(2, 0.004)})

	m.FetchProcessed()
	require.Equal(t, 2, cli.fetchCalls)

	byID := map[string]*Order{}
	for _, o := range m.Active() {
		byID[o.ID] = o
	}
	require.Equal(t, StatusFetchError, byID["ex-1"].Status)
	require.Equal(t, StatusClosed, byID["ex-2"].Status)
	require.Equal(t, 2.0, byID["ex-2"].Filled)
}

func TestCancelProcessedSkipsTerminalOrders(t *testing.T) {
	cli := &stubClient{createRes: gateway.OrderResult{Status: "NEW"}}
	m := NewManager(logger.NewNop(), cli, report.NopReporter{}, btcMarket(), Options{DryRun: false})
	m.PlaceAll([]rebalance.Quote{quote(1, 0.004)})

	m.CancelProcessed()
	require.Equal(t, 1, cli.cancelCalls)
	require.Equal(t, StatusCanceled, m.Active()[0].Status)

	// 已终态的订单不再触发撤单
	m.CancelProcessed()
	require.Equal(t, 1, cli.cancelCalls)
}

func TestFlushReportsAndPurgesTerminalOrders(t *testing.T) {
	cli := &stubClient{
		createRes: gateway.OrderResult{Status: "NEW"},
		fetchRes: map[string]gateway.OrderResult{
			"ex-1": {ID: "ex-1", Status: "FILLED", Filled: 1, Fee: 0.0005},
			"ex-2": {ID: "ex-2", Status: "NEW"},
		},
	}
	rep := &capturingReporter{}
	m := NewManager(logger.NewNop(), cli, rep, btcMarket(), Options{Strategy: "rebalancer", Exchange: "binance"})
	m.PlaceAll([]rebalance.Quote{quote(1, 0.004), quote(2, 0.004)})

	m.FetchProcessed()
	m.CancelProcessed() // ex-2 仍挂着，被撤销且无成交
	m.Flush()

	require.Len(t, rep.fills, 1)
	require.Equal(t, "ex-1", rep.fills[0].OrderID)
	require.Equal(t, string(StatusClosed), rep.fills[0].Status)
	require.Empty(t, m.Active())
}

func TestDryRunOrdersAreNeverFetchedOrCanceled(t *testing.T) {
	cli := &stubClient{}
	m := NewManager(logger.NewNop(), cli, report.NopReporter{}, btcMarket(), Options{DryRun: true})
	m.PlaceAll([]rebalance.Quote{quote(1, 0.004)})

	m.FetchProcessed()
	m.CancelProcessed()
	require.Zero(t, cli.fetchCalls)
	require.Zero(t, cli.cancelCalls)

	m.Flush()
	require.Empty(t, m.Active())
}
