package report

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rebalancer-go/infrastructure/logger"
)

// newInfluxServer 模拟 influx /write 端点并记录收到的行协议内容。
func newInfluxServer(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := make([]string, len(bodies))
		copy(out, bodies)
		return out
	}
}

func TestReportFillWritesOrderFillPoint(t *testing.T) {
	srv, received := newInfluxServer(t)
	rep, err := NewInfluxReporter(logger.NewNop(), Config{Addr: srv.URL, Database: "trading"})
	require.NoError(t, err)
	defer rep.Close()

	rep.ReportFill(Fill{
		OrderID:   "ex-1",
		Symbol:    "BNB/BTC",
		Side:      "BUY",
		Price:     0.004,
		Amount:    1,
		Filled:    1,
		Fee:       0.0005,
		Status:    "CLOSED",
		Timestamp: time.Unix(1559818800, 0),
	}, "rebalancer", "binance")

	bodies := received()
	require.Len(t, bodies, 1)
	require.Contains(t, bodies[0], "order_fill")
	require.Contains(t, bodies[0], "side=BUY")
	require.Contains(t, bodies[0], "strategy=rebalancer")
	require.Contains(t, bodies[0], `status="CLOSED"`)
}

func TestReportValuationWritesPerAssetAndTotalPoints(t *testing.T) {
	srv, received := newInfluxServer(t)
	rep, err := NewInfluxReporter(logger.NewNop(), Config{Addr: srv.URL, Database: "trading"})
	require.NoError(t, err)
	defer rep.Close()

	rep.ReportValuation(Valuation{
		BaseAsset: "USDT",
		Total:     11000,
		Values:    map[string]float64{"BTC": 5000, "ETH": 2000, "USDT": 4000},
		Weights:   map[string]float64{"BTC": 5000.0 / 11000, "ETH": 2000.0 / 11000, "USDT": 4000.0 / 11000},
		Timestamp: time.Unix(1559818800, 0),
	}, "rebalancer", "binance")

	bodies := received()
	require.Len(t, bodies, 1)
	require.Contains(t, bodies[0], "portfolio_valuation")
	require.Contains(t, bodies[0], "asset=BTC")
	require.Contains(t, bodies[0], "asset=ALL")
	require.Contains(t, bodies[0], "base=USDT")
}

func TestReportFillSwallowsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database not found", http.StatusNotFound)
	}))
	defer srv.Close()
	rep, err := NewInfluxReporter(logger.NewNop(), Config{Addr: srv.URL, Database: "missing"})
	require.NoError(t, err)
	defer rep.Close()

	// 写入失败只记日志，不得 panic 或返回错误
	rep.ReportFill(Fill{OrderID: "ex-1", Symbol: "BNB/BTC", Side: "SELL"}, "rebalancer", "binance")
}
