package rebalance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rebalancer-go/calc"
	"rebalancer-go/infrastructure/logger"
)

func TestCompareProducesRoundedDifference(t *testing.T) {
	c := NewComparator(logger.NewNop())
	current := map[string]float64{"BTC": 0.5, "ETH": 0.3, "USDT": 0.2}
	recommended := map[string]float64{"BTC": 0.4, "ETH": 0.35, "USDT": 0.25}

	diff, ok := c.Compare(current, recommended)
	require.True(t, ok)
	// 截断（非四舍五入）：0.4-0.5 的浮点结果 -0.09999999999999998 截到 -0.0999
	require.Equal(t, calc.Round(0.4-0.5, 4), diff["BTC"])
	require.Equal(t, -0.0999, diff["BTC"])
	require.InDelta(t, 0.05, diff["ETH"], 2*1e-4)
	require.InDelta(t, 0.05, diff["USDT"], 2*1e-4)
}

// 差值加回当前权重应还原推荐权重（精度内）。
func TestCompareRoundTrip(t *testing.T) {
	c := NewComparator(logger.NewNop())
	current := map[string]float64{"BTC": 0.512345, "ETH": 0.287655, "USDT": 0.2}
	recommended := map[string]float64{"BTC": 0.25, "ETH": 0.45, "USDT": 0.3}

	diff, ok := c.Compare(current, recommended)
	require.True(t, ok)
	for k := range current {
		rebuilt := current[k] + diff[k]
		require.InDelta(t, recommended[k], rebuilt, 2*1e-4, "asset %s", k)
	}
}

func TestCompareKeyMismatchKeepsStaleDifference(t *testing.T) {
	c := NewComparator(logger.NewNop())
	current := map[string]float64{"BTC": 0.6, "ETH": 0.4}
	recommended := map[string]float64{"BTC": 0.5, "ETH": 0.5}

	first, ok := c.Compare(current, recommended)
	require.True(t, ok)

	// 键不一致：放弃计算，返回上一次的差值
	stale, ok := c.Compare(current, map[string]float64{"BTC": 0.5, "XRP": 0.5})
	require.False(t, ok)
	require.Equal(t, first, stale)

	_, ok = c.Compare(map[string]float64{"BTC": 1}, recommended)
	require.False(t, ok)
}

func TestComparePrecision(t *testing.T) {
	c := NewComparator(logger.NewNop())
	diff, ok := c.Compare(map[string]float64{"BTC": 0.123456789}, map[string]float64{"BTC": 0.2})
	require.True(t, ok)
	require.Equal(t, calc.Round(0.2-0.123456789, 4), diff["BTC"])
}
