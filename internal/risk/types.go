package risk

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Concentration Measures
// =============================================================================

// Measure 집중도 지표 (닫힌 열거형)
// 모두 퍼센트 기여도 벡터의 순수 함수
type Measure string

const (
	MeasureHerfindahl Measure = "herfindahl"  // Σ p_i²
	MeasureEffectiveN Measure = "effective_n" // 1 / herfindahl
	MeasureGini       Measure = "gini"        // |p| 의 Gini 계수
	MeasureEntropy    Measure = "entropy"     // exp(-Σ q log q), q = |p| / Σ|p|
)

// DefaultMeasure 기본 집중도 지표
const DefaultMeasure = MeasureHerfindahl

// Measures 지원 지표 목록
func Measures() []Measure {
	return []Measure{MeasureHerfindahl, MeasureEffectiveN, MeasureGini, MeasureEntropy}
}

// ParseMeasure 문자열 → Measure
func ParseMeasure(s string) (Measure, error) {
	m := Measure(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Measures() {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMeasure, s)
}

// =============================================================================
// Decomposition Types
// =============================================================================

// PercentContribution 퍼센트 기여도
// 분산이 0에 가까우면 Values 는 NaN, Degenerate=true (유일한 soft 결과)
type PercentContribution struct {
	Values     []float64 `json:"values"`
	Degenerate bool      `json:"degenerate"`
}

// Decomposition 리스크 분해 결과
// ⭐ SSOT: FactorVariance + SpecificVariance == TotalVariance
// sum(Marginal) == TotalVariance (Euler)
type Decomposition struct {
	TotalVariance    float64 `json:"total_variance"`
	FactorVariance   float64 `json:"factor_variance"`
	SpecificVariance float64 `json:"specific_variance"`

	TotalRisk    float64 `json:"total_risk"`    // sqrt(total variance)
	FactorRisk   float64 `json:"factor_risk"`   // sqrt(factor variance)
	SpecificRisk float64 `json:"specific_risk"` // sqrt(specific variance)

	Marginal      []float64 `json:"marginal"`       // 종목별 Euler 분산 기여
	Percent       []float64 `json:"percent"`        // Marginal / TotalVariance
	Degenerate    bool      `json:"degenerate"`     // 분산 ≈ 0 → Percent 는 NaN
	Measure       Measure   `json:"measure"`        // 집중도 지표
	Concentration float64   `json:"concentration"`  // 집중도 값
	Exposure      []float64 `json:"factor_exposure"` // Eᵀx
}

// Breakdown 리스크 단위(변동성) 요약
type Breakdown struct {
	Total    float64 `json:"total"`
	Factor   float64 `json:"factor"`
	Specific float64 `json:"specific"`
}

// =============================================================================
// VaR/CVaR Types
// =============================================================================

// VaRConvention VaR 부호 규약
// ⭐ SSOT: Loss를 양수로 표현 (VaR=0.05 → 5% 손실 가능)
const VaRConvention = "loss_positive"

// VaRResult VaR 계산 결과
// - VaR=0.05 → 해당 신뢰수준에서 최대 5% 손실 가능
// - CVaR=0.07 → tail 평균 7% 손실 예상
type VaRResult struct {
	Confidence float64 `json:"confidence"` // 신뢰수준 (예: 0.95, 0.99)
	VaR        float64 `json:"var"`        // Value at Risk (손실, 양수)
	CVaR       float64 `json:"cvar"`       // Conditional VaR (Expected Shortfall, 양수)
}

// =============================================================================
// Factor Simulation Types
// =============================================================================

// Distribution 충격 분포
type Distribution string

const (
	DistributionNormal   Distribution = "normal"    // 정규분포
	DistributionStudentT Distribution = "student_t" // t-분포 (fat tail)
)

// SimulationConfig 팩터 모델 Monte Carlo 설정
// ⭐ SSOT: 재현성을 위해 모든 설정을 명시적으로 기록
type SimulationConfig struct {
	NumSimulations   int          `json:"num_simulations"`    // 시뮬레이션 횟수 (기본: 10000)
	Horizon          float64      `json:"horizon"`            // 공분산 기간 단위 배수 (기본: 1)
	ConfidenceLevels []float64    `json:"confidence_levels"`  // 신뢰수준 [0.95, 0.99]
	Distribution     Distribution `json:"distribution"`       // normal / student_t
	DegreesOfFreedom float64      `json:"degrees_of_freedom"` // t-분포 자유도 (> 2)
	Seed             uint64       `json:"seed"`               // 재현성용 시드 (0=랜덤)
}

// DefaultSimulationConfig 기본 시뮬레이션 설정
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		NumSimulations:   10000,
		Horizon:          1,
		ConfidenceLevels: []float64{0.95, 0.99},
		Distribution:     DistributionNormal,
		DegreesOfFreedom: 5,
		Seed:             0, // 랜덤
	}
}

// Validate 설정 유효성 검사
func (c SimulationConfig) Validate() error {
	if c.NumSimulations <= 0 {
		return fmt.Errorf("%w: NumSimulations must be > 0", ErrInvalidConfig)
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("%w: Horizon must be > 0", ErrInvalidConfig)
	}
	if len(c.ConfidenceLevels) == 0 {
		return fmt.Errorf("%w: ConfidenceLevels cannot be empty", ErrInvalidConfig)
	}
	for _, cl := range c.ConfidenceLevels {
		if cl <= 0 || cl >= 1 {
			return fmt.Errorf("%w: ConfidenceLevel must be between 0 and 1", ErrInvalidConfig)
		}
	}
	switch c.Distribution {
	case DistributionNormal:
	case DistributionStudentT:
		if c.DegreesOfFreedom <= 2 {
			return fmt.Errorf("%w: DegreesOfFreedom must be > 2 for finite variance", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown distribution %q", ErrInvalidConfig, c.Distribution)
	}
	return nil
}

// SimulationResult 시뮬레이션 결과
// ⭐ SSOT: 재현성을 위해 Config 포함, 추적을 위해 RunID 포함
type SimulationResult struct {
	RunID       string           `json:"run_id"`
	RunDate     time.Time        `json:"run_date"`
	Config      SimulationConfig `json:"config"`
	ModelHash   string           `json:"model_hash"`  // 모델 fingerprint
	MeanReturn  float64          `json:"mean_return"` // 평균 수익률
	StdDev      float64          `json:"std_dev"`     // 표준편차
	Tail        []VaRResult      `json:"tail"`        // 신뢰수준별 VaR/CVaR
	Percentiles map[int]float64  `json:"percentiles"` // 백분위수 (1, 5, 10, 25, 50, 75, 90, 95, 99)
}
