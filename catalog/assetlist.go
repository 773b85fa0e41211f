package catalog

// Bounds 单个资产在组合中的权重上下界（0~1）。
type Bounds struct {
	Min float64
	Max float64
}

// BridgeAsset 桥接资产：白名单资产与基准资产之间没有直接市场时，经由它定价和交易。
const BridgeAsset = "BTC"

// AssetList 资产列表能力。静态名单之外（例如按成交量动态排名）的实现
// 在构造时选择，不通过继承扩展。
type AssetList interface {
	// Validate 返回清洗后的白名单：去掉黑名单资产与交易所不存在的资产。
	Validate() []string
	// RefreshAssetList 重新清洗白名单并保存结果。
	RefreshAssetList()
	// BuildPortfolioMarkets 基于清洗后的白名单推导需要跟踪的市场集合，
	// 并返回最终资产的权重界映射（作为新的组合定义）。
	BuildPortfolioMarkets(baseAsset string) ([]string, map[string]Bounds)
	// Whitelist 当前白名单。
	Whitelist() []string
	// Portfolio 最近一次 BuildPortfolioMarkets 的组合定义。
	Portfolio() map[string]Bounds
}
