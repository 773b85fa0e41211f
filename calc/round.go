package calc

import (
	"errors"
	"math"
)

// ErrNotANumber 输入不是有限数值。
var ErrNotANumber = errors.New("not a finite number")

// RoundToPrecision 按指定小数位向零截断，用于去除加减乘运算累积的浮点误差，
// 例如 401.46000000000004 -> 401.46。
func RoundToPrecision(x float64, precision int) (float64, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, ErrNotANumber
	}
	if precision <= 0 {
		return math.Trunc(x), nil
	}
	scale := math.Pow(10, float64(precision))
	return math.Trunc(x*scale) / scale, nil
}

// Round 与 RoundToPrecision 相同，非法输入时返回 0。
func Round(x float64, precision int) float64 {
	v, err := RoundToPrecision(x, precision)
	if err != nil {
		return 0
	}
	return v
}
