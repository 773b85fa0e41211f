package optimizer

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"rebalancer-go/catalog"
)

// Objective 优化目标；两者都给出时以目标收益为准（与配置校验中的告警一致）。
type Objective struct {
	TargetReturn *float64
	TargetRisk   *float64
}

// MeanVariance 均值-方差组合优化器。输入基准资产计价的收盘价矩阵，
// 输出满足权重界的目标权重与一份简短的文字报告。
type MeanVariance struct {
	Frequency int     // 年化系数：每年的采样周期数
	RiskFree  float64 // 夏普比率用的无风险收益
	Cutoff    float64 // 清洗权重的截断阈值
	Rounding  int     // 清洗权重的小数位
}

func NewMeanVariance(frequency int) *MeanVariance {
	return &MeanVariance{
		Frequency: frequency,
		RiskFree:  0.02,
		Cutoff:    1e-4,
		Rounding:  2,
	}
}

// Optimize 求解有效前沿上的一点：给定目标收益时最小化方差，
// 给定目标波动时最大化收益；都未给出时退化为最小方差组合。
func (o *MeanVariance) Optimize(table PricingTable, bounds catalog.Bounds, obj Objective) (map[string]float64, []string, error) {
	n := len(table.Assets)
	if n == 0 || table.Rows < 2 {
		return nil, nil, fmt.Errorf("pricing table too small: %d assets, %d rows", n, table.Rows)
	}
	if bounds.Min*float64(n) > 1 || bounds.Max*float64(n) < 1 {
		return nil, nil, fmt.Errorf("weight bounds (%v, %v) infeasible for %d assets", bounds.Min, bounds.Max, n)
	}

	returns := o.periodReturns(table)
	mu := make([]float64, n)
	for j := 0; j < n; j++ {
		col := mat.Col(nil, j, returns)
		mu[j] = stat.Mean(col, nil) * float64(o.Frequency)
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, returns, nil)
	cov.ScaleSym(float64(o.Frequency), &cov)

	weights := o.solve(mu, &cov, bounds, obj)
	cleaned := o.cleanWeights(table.Assets, weights)

	expRet := dot(mu, weights)
	vol := math.Sqrt(quadForm(&cov, weights))
	sharpe := 0.0
	if vol > 0 {
		sharpe = (expRet - o.RiskFree) / vol
	}
	fwd := o.forwardLookingReturn(table, cleaned)

	report := []string{
		fmt.Sprintf("Period: %s - %s",
			time.UnixMilli(table.FirstTime).UTC().Format(time.ANSIC),
			time.UnixMilli(table.LastTime).UTC().Format(time.ANSIC)),
		fmt.Sprintf("Bounds: (%g, %g) Base: %s Freq: %d", bounds.Min, bounds.Max, table.Assets[len(table.Assets)-1], o.Frequency),
		fmt.Sprintf("Target return: %s Target risk: %s", fmtTarget(obj.TargetReturn), fmtTarget(obj.TargetRisk)),
		fmt.Sprintf("Portfolio return: %.2f%% Expected return: %.2f%%", 100*fwd, 100*expRet),
		fmt.Sprintf("Volatility: %10.2f%% Sharpe Ratio: %7.2f", 100*vol, sharpe),
	}
	return cleaned, report, nil
}

// periodReturns 逐期收益率矩阵，(Rows-1) x n。
func (o *MeanVariance) periodReturns(table PricingTable) *mat.Dense {
	n := len(table.Assets)
	rows := table.Rows - 1
	data := make([]float64, rows*n)
	for j, asset := range table.Assets {
		col := table.Columns[asset]
		for i := 0; i < rows; i++ {
			if col[i] != 0 {
				data[i*n+j] = col[i+1]/col[i] - 1
			}
		}
	}
	return mat.NewDense(rows, n, data)
}

// solve 投影梯度法：在 {sum w = 1, min <= w <= max} 上迭代，结果确定性。
func (o *MeanVariance) solve(mu []float64, cov *mat.SymDense, bounds catalog.Bounds, obj Objective) []float64 {
	n := len(mu)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	w = projectSimplexBox(w, bounds.Min, bounds.Max)

	const penalty = 200.0
	const iters = 2000
	grad := make([]float64, n)
	sigmaW := make([]float64, n)

	for k := 0; k < iters; k++ {
		mulSym(cov, w, sigmaW)
		switch {
		case obj.TargetReturn != nil:
			// min wᵀΣw s.t. μᵀw >= target
			shortfall := *obj.TargetReturn - dot(mu, w)
			for i := range grad {
				grad[i] = 2 * sigmaW[i]
				if shortfall > 0 {
					grad[i] -= 2 * penalty * shortfall * mu[i]
				}
			}
		case obj.TargetRisk != nil:
			// max μᵀw s.t. wᵀΣw <= target²
			excess := quadForm(cov, w) - (*obj.TargetRisk)*(*obj.TargetRisk)
			for i := range grad {
				grad[i] = -mu[i]
				if excess > 0 {
					grad[i] += 4 * penalty * excess * sigmaW[i]
				}
			}
		default:
			for i := range grad {
				grad[i] = 2 * sigmaW[i]
			}
		}
		norm := 0.0
		for _, g := range grad {
			norm += g * g
		}
		norm = math.Sqrt(norm)
		if norm < 1e-12 {
			break
		}
		step := 0.1 / (1 + 0.01*float64(k))
		for i := range w {
			w[i] -= step * grad[i] / norm
		}
		w = projectSimplexBox(w, bounds.Min, bounds.Max)
	}
	return w
}

// cleanWeights 截断微小权重并按固定小数位四舍五入。
func (o *MeanVariance) cleanWeights(assets []string, w []float64) map[string]float64 {
	scale := math.Pow(10, float64(o.Rounding))
	out := make(map[string]float64, len(assets))
	for i, a := range assets {
		v := w[i]
		if math.Abs(v) < o.Cutoff {
			v = 0
		}
		out[a] = math.Round(v*scale) / scale
	}
	return out
}

// forwardLookingReturn 以窗口首尾价格变化对非零权重加权。
func (o *MeanVariance) forwardLookingReturn(table PricingTable, weights map[string]float64) float64 {
	var sum float64
	for asset, w := range weights {
		if w <= 0 {
			continue
		}
		col := table.Columns[asset]
		if len(col) < 2 || col[0] == 0 {
			continue
		}
		sum += w * (col[len(col)-1]/col[0] - 1)
	}
	return sum
}

// projectSimplexBox 投影到 {sum w = 1, lo <= w <= hi}：对平移量做二分。
func projectSimplexBox(v []float64, lo, hi float64) []float64 {
	if hi <= 0 {
		hi = 1
	}
	out := make([]float64, len(v))
	loNu, hiNu := -2.0, 2.0
	for iter := 0; iter < 80; iter++ {
		nu := (loNu + hiNu) / 2
		s := 0.0
		for _, x := range v {
			s += clamp(x-nu, lo, hi)
		}
		if s > 1 {
			loNu = nu
		} else {
			hiNu = nu
		}
	}
	nu := (loNu + hiNu) / 2
	for i, x := range v {
		out[i] = clamp(x-nu, lo, hi)
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func mulSym(m *mat.SymDense, v, dst []float64) {
	n := len(v)
	for i := 0; i < n; i++ {
		var s float64
		for j := 0; j < n; j++ {
			s += m.At(i, j) * v[j]
		}
		dst[i] = s
	}
}

func quadForm(m *mat.SymDense, v []float64) float64 {
	n := len(v)
	var s float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			s += v[i] * m.At(i, j) * v[j]
		}
	}
	return s
}

func fmtTarget(v *float64) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%g", *v)
}
