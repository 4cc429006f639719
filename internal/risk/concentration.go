package risk

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Concentration 퍼센트 기여도 벡터에 대한 집중도
// NaN 입력(분산 ≈ 0)은 NaN 으로 전파
func Concentration(pct []float64, measure Measure) (float64, error) {
	switch measure {
	case MeasureHerfindahl:
		return Herfindahl(pct), nil
	case MeasureEffectiveN:
		return EffectiveN(pct), nil
	case MeasureGini:
		return Gini(pct), nil
	case MeasureEntropy:
		return Entropy(pct), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMeasure, measure)
	}
}

// Herfindahl Σ p_i²
func Herfindahl(pct []float64) float64 {
	return floats.Dot(pct, pct)
}

// EffectiveN 1 / Herfindahl
// 균등 기여 (1/n) → n
func EffectiveN(pct []float64) float64 {
	return 1 / Herfindahl(pct)
}

// Gini |p| 의 Gini 계수 (0 = 균등, 1 에 가까울수록 집중)
func Gini(pct []float64) float64 {
	n := len(pct)
	if n == 0 {
		return math.NaN()
	}

	a := make([]float64, n)
	for i, v := range pct {
		a[i] = math.Abs(v)
	}
	sort.Float64s(a)

	total := floats.Sum(a)
	if total == 0 || math.IsNaN(total) {
		return math.NaN()
	}

	// G = Σ (2i - n - 1) a_(i) / (n Σ a), i = 1..n 오름차순
	var num float64
	for i, v := range a {
		num += float64(2*(i+1)-n-1) * v
	}
	return num / (float64(n) * total)
}

// Entropy exp(-Σ q log q), q = |p| / Σ|p|
// alpha → 1 인 ENC 의 극한
func Entropy(pct []float64) float64 {
	q := make([]float64, len(pct))
	for i, v := range pct {
		q[i] = math.Abs(v)
	}
	total := floats.Sum(q)
	if total == 0 || math.IsNaN(total) {
		return math.NaN()
	}

	var h float64
	for _, v := range q {
		if v == 0 {
			continue
		}
		p := v / total
		h -= p * math.Log(p)
	}
	return math.Exp(h)
}

// ENC 유효 구성종목 수 ‖w‖_α^(α/(1−α))
// alpha=2 → 1/Herfindahl, alpha=1 → Entropy
func ENC(weights []float64, alpha float64) (float64, error) {
	if alpha <= 0 || math.IsNaN(alpha) || math.IsInf(alpha, 0) {
		return 0, fmt.Errorf("%w: alpha must be a positive finite number, got %g", ErrInvalidConfig, alpha)
	}
	if alpha == 1 {
		return Entropy(weights), nil
	}
	return math.Pow(floats.Norm(weights, alpha), alpha/(1-alpha)), nil
}
