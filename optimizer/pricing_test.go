package optimizer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rebalancer-go/catalog"
	"rebalancer-go/gateway"
)

func candlesFrom(rows [][6]float64) []gateway.Candle {
	out := make([]gateway.Candle, len(rows))
	for i, r := range rows {
		out[i] = gateway.Candle{
			OpenTime: int64(r[0]),
			Open:     r[1], High: r[2], Low: r[3], Close: r[4], Volume: r[5],
		}
	}
	return out
}

func bnbSeries() map[string]map[string][]gateway.Candle {
	raw := map[string][][6]float64{
		"BNB/BTC": {
			{1559818800000, 0.0040599, 0.0040803, 0.0040448, 0.0040715, 118153.28},
			{1559822400000, 0.0040715, 0.004073, 0.0040216, 0.0040239, 122524.7},
			{1559826000000, 0.0040259, 0.0040424, 0.0040056, 0.0040206, 108059.99},
			{1559829600000, 0.00402, 0.0040207, 0.003972, 0.0039936, 68399.02},
			{1559833200000, 0.003991, 0.0040165, 0.0039879, 0.0040117, 10286.37},
		},
		"BNB/ETH": {
			{1559818800000, 0.129004, 0.129649, 0.128541, 0.129576, 2192.35},
			{1559822400000, 0.129576, 0.129683, 0.127687, 0.127795, 3863.44},
			{1559826000000, 0.127917, 0.128341, 0.126857, 0.127539, 2752.44},
			{1559829600000, 0.127539, 0.127539, 0.1253, 0.126206, 6426.06},
			{1559833200000, 0.126204, 0.1271, 0.126204, 0.1271, 672.44},
		},
		"BNB/USDT": {
			{1559818800000, 31.6015, 31.929, 31.5787, 31.8971, 161252.27},
			{1559822400000, 31.8844, 31.96, 31.0348, 31.1578, 226336.86},
			{1559826000000, 31.1718, 31.1841, 30.61, 31.002, 142418.47},
			{1559829600000, 31.002, 31.025, 30.1928, 30.6608, 107857.95},
			{1559833200000, 30.6607, 30.8888, 30.5505, 30.8885, 9763.01},
		},
		"XRP/BNB": {
			{1559818800000, 0.01267, 0.0127, 0.01261, 0.01262, 123062.7},
			{1559822400000, 0.01261, 0.01276, 0.01261, 0.01276, 244539.8},
			{1559826000000, 0.01273, 0.01283, 0.01272, 0.01278, 196468.0},
			{1559829600000, 0.01278, 0.01295, 0.01278, 0.01288, 364455.2},
			{1559833200000, 0.01289, 0.0129, 0.01279, 0.01279, 117197.7},
		},
		"BNB/PAX": {
			{1559818800000, 31.7161, 31.9433, 31.6743, 31.9433, 400.68},
			{1559822400000, 31.9815, 32.0173, 31.2357, 31.2357, 1438.25},
			{1559826000000, 31.18, 31.3032, 30.7373, 31.1299, 1997.59},
			{1559829600000, 31.062, 31.062, 30.2501, 30.5664, 1234.44},
			{1559833200000, 30.7304, 30.9028, 30.7304, 30.9028, 97.6},
		},
		"BNB/TUSD": {
			{1559818800000, 31.6193, 31.8686, 31.6193, 31.8686, 546.22},
			{1559822400000, 31.8848, 31.9961, 31.2338, 31.2338, 3064.51},
			{1559826000000, 31.1869, 31.2718, 30.7301, 31.0797, 2152.86},
			{1559829600000, 31.0125, 31.0125, 30.2172, 30.5946, 4628.44},
			{1559833200000, 30.7374, 30.9289, 30.618, 30.9289, 60.75},
		},
		"BNB/USDC": {
			{1559818800000, 31.6282, 31.9456, 31.6279, 31.9456, 1433.61},
			{1559822400000, 31.965, 31.9987, 31.1992, 31.2471, 1890.94},
			{1559826000000, 31.1885, 31.2853, 30.7194, 31.0884, 2148.78},
			{1559829600000, 31.0025, 31.0025, 30.2001, 30.7122, 3028.0},
			{1559833200000, 30.6564, 30.9346, 30.6292, 30.9346, 320.28},
		},
		"BNB/USDS": {
			{1559818800000, 31.5369, 31.5369, 31.5369, 31.5369, 0.0},
			{1559822400000, 31.5236, 31.5236, 31.413, 31.4133, 20.95},
			{1559826000000, 31.14, 31.3199, 31.0924, 31.1282, 57.5},
			{1559829600000, 31.1282, 31.1282, 30.3398, 30.3398, 22.28},
			{1559833200000, 30.7882, 30.7882, 30.7882, 30.7882, 4.06},
		},
	}
	out := make(map[string]map[string][]gateway.Candle, len(raw))
	for sym, rows := range raw {
		out[sym] = map[string][]gateway.Candle{"1h": candlesFrom(rows)}
	}
	return out
}

var (
	bnbSymbols = []string{"BNB/BTC", "BNB/ETH", "BNB/USDT", "XRP/BNB", "BNB/PAX", "BNB/TUSD", "BNB/USDC", "BNB/USDS"}
	bnbAssets  = []string{"BTC", "ETH", "USDT", "XRP", "PAX", "TUSD", "USDC", "USDS", "BNB"}
)

func TestBuildPricingTableBNB(t *testing.T) {
	table := BuildPricingTable(bnbSeries(), bnbSymbols, bnbAssets, "BNB", "1h")

	require.Equal(t, []string{"BTC", "ETH", "USDT", "XRP", "PAX", "TUSD", "USDC", "USDS", "BNB"}, table.Assets)
	require.Equal(t, 5, table.Rows)
	require.Len(t, table.Columns, 9)
	for _, v := range table.Columns["BNB"] {
		require.Equal(t, 1.0, v)
	}
	// BNB/BTC 市场在以 BNB 为基准时取倒数
	require.InDelta(t, 1/0.0040715, table.Columns["BTC"][0], 1e-9)
	// XRP/BNB 市场方向已经正确，直接取收盘价
	require.Equal(t, 0.01262, table.Columns["XRP"][0])
}

func TestBuildPricingTableUSDTBase(t *testing.T) {
	series := map[string]map[string][]gateway.Candle{
		"BTC/USDT": {"1h": candlesFrom([][6]float64{
			{1559034000000, 8710.74, 8743.85, 8692.54, 8711.43, 1052.47},
			{1559037600000, 8712.89, 8718.8, 8647.1, 8683.12, 1318.35},
			{1559041200000, 8683.12, 8743.0, 8668.8, 8734.36, 1081.65},
		})},
		"ETH/USDT": {"1h": candlesFrom([][6]float64{
			{1559034000000, 270.11, 271.0, 269.01, 270.23, 14036.70},
			{1559037600000, 270.23, 270.49, 267.75, 268.75, 15579.45},
			{1559041200000, 268.75, 271.0, 267.75, 270.31, 15008.82},
		})},
		"AE/BTC": {"1h": candlesFrom([][6]float64{
			{1559034000000, 0.0001, 0.0001, 0.0001, 0.0001, 100},
			{1559037600000, 0.0001, 0.0001, 0.0001, 0.0002, 100},
			{1559041200000, 0.0002, 0.0002, 0.0001, 0.0001, 100},
		})},
	}
	table := BuildPricingTable(series, []string{"BTC/USDT", "ETH/USDT", "AE/BTC"},
		[]string{"BTC", "ETH", "AE", "USDT"}, "USDT", "1h")

	require.Equal(t, 3, table.Rows)
	require.Len(t, table.Columns, 4)
	// AE 经桥接换算为 USDT 计价
	require.InDelta(t, 0.0001*8711.43, table.Columns["AE"][0], 1e-9)
	require.InDelta(t, 0.0002*8683.12, table.Columns["AE"][1], 1e-9)
	for _, v := range table.Columns["USDT"] {
		require.Equal(t, 1.0, v)
	}
}

// 桥接换算市场只为估值服务时，其基础资产不得进入矩阵，
// 否则推荐权重会多出组合外的键，权重对比永远失败。
func TestBuildPricingTableExcludesNonPortfolioBridgeAsset(t *testing.T) {
	series := map[string]map[string][]gateway.Candle{
		"ETH/USDT": {"1h": candlesFrom([][6]float64{
			{1559034000000, 270.11, 271.0, 269.01, 270.23, 14036.70},
			{1559037600000, 270.23, 270.49, 267.75, 268.75, 15579.45},
			{1559041200000, 268.75, 271.0, 267.75, 270.31, 15008.82},
		})},
		"AE/BTC": {"1h": candlesFrom([][6]float64{
			{1559034000000, 0.0001, 0.0001, 0.0001, 0.0001, 100},
			{1559037600000, 0.0001, 0.0001, 0.0001, 0.0002, 100},
			{1559041200000, 0.0002, 0.0002, 0.0001, 0.0001, 100},
		})},
		// BTC 不在组合里，BTC/USDT 仅作桥接换算
		"BTC/USDT": {"1h": candlesFrom([][6]float64{
			{1559034000000, 8710.74, 8743.85, 8692.54, 8711.43, 1052.47},
			{1559037600000, 8712.89, 8718.8, 8647.1, 8683.12, 1318.35},
			{1559041200000, 8683.12, 8743.0, 8668.8, 8734.36, 1081.65},
		})},
	}
	assets := []string{"ETH", "AE", "USDT"}
	table := BuildPricingTable(series, []string{"ETH/USDT", "AE/BTC", "BTC/USDT"}, assets, "USDT", "1h")

	require.ElementsMatch(t, assets, table.Assets)
	require.NotContains(t, table.Columns, "BTC")
	// 桥接换算序列照常生效
	require.InDelta(t, 0.0001*8711.43, table.Columns["AE"][0], 1e-9)

	// 推荐权重的键集随之与组合一致
	weights, _, err := NewMeanVariance(8760).Optimize(table, catalog.Bounds{Min: 0, Max: 1}, Objective{})
	require.NoError(t, err)
	require.Len(t, weights, len(assets))
	for a := range weights {
		require.Contains(t, assets, a)
	}
}

func TestBuildPricingTablePeriodFromAlignedRows(t *testing.T) {
	series := map[string]map[string][]gateway.Candle{
		"BTC/USDT": {"1h": candlesFrom([][6]float64{
			{1559034000000, 8710, 8743, 8692, 8711, 1052},
			{1559037600000, 8712, 8718, 8647, 8683, 1318},
			{1559041200000, 8683, 8743, 8668, 8734, 1081},
			{1559044800000, 8734, 8750, 8700, 8720, 990},
			{1559048400000, 8720, 8760, 8710, 8745, 875},
		})},
		// 较短的序列决定对齐后的首行
		"ETH/USDT": {"1h": candlesFrom([][6]float64{
			{1559041200000, 268.75, 271.0, 267.75, 270.31, 15008},
			{1559044800000, 270.31, 271.5, 269.0, 270.9, 14211},
			{1559048400000, 270.9, 272.0, 270.1, 271.4, 13102},
		})},
	}
	table := BuildPricingTable(series, []string{"BTC/USDT", "ETH/USDT"},
		[]string{"BTC", "ETH", "USDT"}, "USDT", "1h")

	require.Equal(t, 3, table.Rows)
	require.Equal(t, int64(1559041200000), table.FirstTime)
	require.Equal(t, int64(1559048400000), table.LastTime)
}
