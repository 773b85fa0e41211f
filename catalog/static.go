package catalog

import (
	"sort"

	"go.uber.org/zap"

	"rebalancer-go/gateway"
	"rebalancer-go/infrastructure/logger"
)

// StaticAssetList 由配置给出的固定白名单/黑名单构建组合。
type StaticAssetList struct {
	log       *logger.Logger
	markets   map[string]gateway.Market
	whitelist []string
	blacklist map[string]struct{}
	bounds    Bounds
	portfolio map[string]Bounds
}

func NewStaticAssetList(log *logger.Logger, markets map[string]gateway.Market, whitelist, blacklist []string, bounds Bounds) *StaticAssetList {
	bl := make(map[string]struct{}, len(blacklist))
	for _, a := range blacklist {
		bl[a] = struct{}{}
	}
	return &StaticAssetList{
		log:       log,
		markets:   markets,
		whitelist: append([]string(nil), whitelist...),
		blacklist: bl,
		bounds:    bounds,
		portfolio: make(map[string]Bounds),
	}
}

// Whitelist 当前白名单。
func (s *StaticAssetList) Whitelist() []string {
	return append([]string(nil), s.whitelist...)
}

// Portfolio 最近一次构建的组合定义。
func (s *StaticAssetList) Portfolio() map[string]Bounds {
	out := make(map[string]Bounds, len(s.portfolio))
	for k, v := range s.portfolio {
		out[k] = v
	}
	return out
}

// Validate 去掉黑名单资产与任何市场都不包含的资产，重复项合并。
func (s *StaticAssetList) Validate() []string {
	available := make(map[string]struct{}, len(s.markets)*2)
	for _, m := range s.markets {
		available[m.Base] = struct{}{}
		available[m.Quote] = struct{}{}
	}

	seen := make(map[string]struct{}, len(s.whitelist))
	sanitized := make([]string, 0, len(s.whitelist))
	for _, asset := range s.whitelist {
		if _, dup := seen[asset]; dup {
			continue
		}
		seen[asset] = struct{}{}
		_, blacklisted := s.blacklist[asset]
		_, exists := available[asset]
		if blacklisted || !exists {
			s.log.Warn("asset not tradable on exchange or blacklisted, removing from whitelist",
				zap.String("asset", asset))
			continue
		}
		sanitized = append(sanitized, asset)
	}
	sort.Strings(sanitized)
	return sanitized
}

// RefreshAssetList 重新清洗白名单并保存。
func (s *StaticAssetList) RefreshAssetList() {
	s.whitelist = s.Validate()
}

// BuildPortfolioMarkets 为每个白名单资产寻找对基准资产的定价路径：
// 先找任一方向的直接市场，找不到时退回桥接资产市场；
// 一旦用到桥接，还需补上桥接资产与基准资产之间的市场用于价值换算。
// 两条路都不通的资产记告警后从组合中剔除。
func (s *StaticAssetList) BuildPortfolioMarkets(baseAsset string) ([]string, map[string]Bounds) {
	unresolved := make(map[string]struct{}, len(s.whitelist))
	for _, a := range s.whitelist {
		unresolved[a] = struct{}{}
	}

	marketSet := make(map[string]struct{})
	assets := make(map[string]struct{})

	symbols := make([]string, 0, len(s.markets))
	for sym := range s.markets {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		m := s.markets[sym]
		if _, ok := unresolved[m.Base]; ok && m.Quote == baseAsset {
			marketSet[sym] = struct{}{}
			assets[m.Base] = struct{}{}
			delete(unresolved, m.Base)
		} else if _, ok := unresolved[m.Quote]; ok && m.Base == baseAsset {
			marketSet[sym] = struct{}{}
			assets[m.Quote] = struct{}{}
			delete(unresolved, m.Quote)
		}
	}

	bridged := false
	remaining := make([]string, 0, len(unresolved))
	for a := range unresolved {
		remaining = append(remaining, a)
	}
	sort.Strings(remaining)
	for _, a := range remaining {
		if a == baseAsset {
			// 基准资产无需定价路径，总是保留
			delete(unresolved, a)
			continue
		}
		if _, ok := s.markets[a+"/"+BridgeAsset]; ok {
			marketSet[a+"/"+BridgeAsset] = struct{}{}
			assets[a] = struct{}{}
			bridged = true
			delete(unresolved, a)
		} else if _, ok := s.markets[BridgeAsset+"/"+a]; ok {
			marketSet[BridgeAsset+"/"+a] = struct{}{}
			assets[a] = struct{}{}
			bridged = true
			delete(unresolved, a)
		} else {
			s.log.Warn("no direct or bridge market to base asset, dropping from portfolio",
				zap.String("asset", a), zap.String("base", baseAsset))
			delete(unresolved, a)
		}
	}

	if bridged && baseAsset != BridgeAsset {
		if _, ok := s.markets[baseAsset+"/"+BridgeAsset]; ok {
			marketSet[baseAsset+"/"+BridgeAsset] = struct{}{}
		} else if _, ok := s.markets[BridgeAsset+"/"+baseAsset]; ok {
			marketSet[BridgeAsset+"/"+baseAsset] = struct{}{}
		} else {
			s.log.Warn("bridge market to base asset missing, bridged assets cannot be valued",
				zap.String("base", baseAsset), zap.String("bridge", BridgeAsset))
		}
	}

	assets[baseAsset] = struct{}{}

	portfolio := make(map[string]Bounds, len(assets))
	finalAssets := make([]string, 0, len(assets))
	for a := range assets {
		portfolio[a] = s.bounds
		finalAssets = append(finalAssets, a)
	}
	sort.Strings(finalAssets)
	s.whitelist = finalAssets
	s.portfolio = portfolio

	markets := make([]string, 0, len(marketSet))
	for sym := range marketSet {
		markets = append(markets, sym)
	}
	sort.Strings(markets)
	return markets, portfolio
}
