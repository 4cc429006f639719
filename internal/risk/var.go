package risk

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// =============================================================================
// Parametric VaR (팩터 모델 변동성, 정규분포 가정)
// =============================================================================

// ParametricVaR 정규분포 가정 VaR/CVaR
// mean: 기대 수익률, stdDev: 변동성, confidence: 신뢰수준
// VaR = z·σ − μ, CVaR = σ·φ(z)/(1−c) − μ (손실 양수, 하한 0)
func ParametricVaR(mean, stdDev, confidence float64) (VaRResult, error) {
	if confidence <= 0 || confidence >= 1 {
		return VaRResult{}, fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidConfig)
	}
	if stdDev < 0 || math.IsNaN(stdDev) {
		return VaRResult{}, fmt.Errorf("%w: stdDev must be non-negative", ErrInvalidConfig)
	}

	z := distuv.UnitNormal.Quantile(confidence)
	phi := distuv.UnitNormal.Prob(z)

	return VaRResult{
		Confidence: confidence,
		VaR:        math.Max(z*stdDev-mean, 0),
		CVaR:       math.Max(stdDev*phi/(1-confidence)-mean, 0),
	}, nil
}

// VaR 포트폴리오 팩터 모델 변동성 기반 VaR
// horizon: 공분산 기간 단위 배수 (σ·sqrt(horizon))
func (c *Calculator) VaR(x []float64, horizon, confidence float64) (VaRResult, error) {
	if horizon <= 0 {
		return VaRResult{}, fmt.Errorf("%w: horizon must be > 0", ErrInvalidConfig)
	}
	vol, err := c.Volatility(x)
	if err != nil {
		return VaRResult{}, err
	}
	return ParametricVaR(0, vol*math.Sqrt(horizon), confidence)
}

// =============================================================================
// Empirical VaR (시뮬레이션 표본)
// =============================================================================

// EmpiricalVaR 표본 기반 VaR/CVaR
// sorted: 오름차순 정렬된 수익률 (손실이 앞에)
func EmpiricalVaR(sorted []float64, confidence float64) VaRResult {
	if len(sorted) == 0 {
		return VaRResult{Confidence: confidence}
	}

	// VaR: (1-confidence) 분위수
	q := stat.Quantile(1-confidence, stat.Empirical, sorted, nil)

	// CVaR: 분위수 이하 tail 평균
	tail := sort.SearchFloat64s(sorted, q)
	if tail < len(sorted) && sorted[tail] == q {
		tail++
	}
	if tail == 0 {
		tail = 1
	}
	cvar := -stat.Mean(sorted[:tail], nil)

	return VaRResult{
		Confidence: confidence,
		VaR:        math.Max(-q, 0),
		CVaR:       math.Max(cvar, 0),
	}
}

// Percentiles 백분위수 (선형 보간 없는 경험적 분위수)
func Percentiles(sorted []float64, ps []int) map[int]float64 {
	out := make(map[int]float64, len(ps))
	if len(sorted) == 0 {
		return out
	}
	for _, p := range ps {
		out[p] = stat.Quantile(float64(p)/100, stat.Empirical, sorted, nil)
	}
	return out
}
