package rebalance

import (
	"go.uber.org/zap"

	"rebalancer-go/calc"
	"rebalancer-go/infrastructure/logger"
)

// diffPrecision 权重差值保留的小数位。
const diffPrecision = 4

// Comparator 计算推荐权重与当前权重的差值。
// 两组键不一致时放弃本周期计算，沿用上一次成功的差值（保持陈旧直到下个成功周期）。
type Comparator struct {
	log      *logger.Logger
	lastDiff map[string]float64
}

func NewComparator(log *logger.Logger) *Comparator {
	return &Comparator{log: log}
}

// Compare 返回 recommended[k] - current[k]（按 diffPrecision 截断）。
// 第二个返回值表示本次计算是否成功。
func (c *Comparator) Compare(current, recommended map[string]float64) (map[string]float64, bool) {
	if !sameKeys(current, recommended) {
		c.log.Warn("weight key sets mismatch, keeping previous difference",
			zap.Any("current", keysOf(current)),
			zap.Any("recommended", keysOf(recommended)))
		return c.lastDiff, false
	}
	diff := make(map[string]float64, len(current))
	for k, cur := range current {
		diff[k] = calc.Round(recommended[k]-cur, diffPrecision)
	}
	c.lastDiff = diff
	return diff, true
}

func sameKeys(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func keysOf(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
