package optimizer

import (
	"time"

	"github.com/blaahhrrgg/equity-risk-model/internal/constraints"
	"github.com/blaahhrrgg/equity-risk-model/internal/risk"
	"github.com/blaahhrrgg/equity-risk-model/internal/solver"
)

// Phase 최적화 단계
type Phase string

const (
	PhaseSetup  Phase = "setup"
	PhaseSolve  Phase = "solve"
	PhaseResult Phase = "result"
)

// Status 최적화 종료 상태
type Status string

const (
	StatusOptimal          Status = "optimal"
	StatusInfeasible       Status = "infeasible"
	StatusUnbounded        Status = "unbounded"
	StatusNumericalFailure Status = "numerical_failure"

	// StatusConstraintViolation 솔버는 optimal 을 보고했지만 사후 검증 실패
	StatusConstraintViolation Status = "constraint_violation"
)

// Preset 목적함수/제약 조합 이름
type Preset string

const (
	PresetActiveVariance                 Preset = "active_variance"
	PresetMinimumVariance                Preset = "minimum_variance"
	PresetMeanVariance                   Preset = "mean_variance"
	PresetProportionalFactorNeutral      Preset = "proportional_factor_neutral"
	PresetInternallyHedgedFactorNeutral  Preset = "internally_hedged_factor_neutral"
	PresetInternallyHedgedFactorTolerant Preset = "internally_hedged_factor_tolerant"
)

// Presets 지원 프리셋 목록
func Presets() []Preset {
	return []Preset{
		PresetActiveVariance,
		PresetMinimumVariance,
		PresetMeanVariance,
		PresetProportionalFactorNeutral,
		PresetInternallyHedgedFactorNeutral,
		PresetInternallyHedgedFactorTolerant,
	}
}

// Request 액티브 분산 최소화 요청
type Request struct {
	// Benchmark 기준 포트폴리오 b (nil = 0, 절대 리스크)
	Benchmark []float64          `json:"benchmark,omitempty"`
	Policy    constraints.Policy `json:"policy"`

	// TargetVariance 리스크 예산 (w−b)ᵀΣ(w−b) ≤ target
	TargetVariance *float64 `json:"target_variance,omitempty"`

	// ExpectedReturns 가 있으면 목적함수는 λ·var − μᵀw
	ExpectedReturns []float64 `json:"expected_returns,omitempty"`
	RiskAversion    float64   `json:"risk_aversion,omitempty"` // λ (0 = 1)
}

// Result 최적화 결과
type Result struct {
	RunID    string   `json:"run_id"`
	Preset   Preset   `json:"preset"`
	Status   Status   `json:"status"`
	Universe []string `json:"universe"`

	// Weights 최적화 변수 (헤지 프리셋은 헤지 h)
	Weights []float64 `json:"weights,omitempty"`
	// Portfolio 최종 포트폴리오 (헤지 프리셋은 w0 + h)
	Portfolio []float64 `json:"portfolio,omitempty"`

	// Decomposition Portfolio − Benchmark 의 리스크 분해
	Decomposition *risk.Decomposition `json:"decomposition,omitempty"`

	Objective    float64                 `json:"objective"`
	SolverStatus solver.Status           `json:"solver_status"`
	Attempts     int                     `json:"attempts"`
	Iterations   int                     `json:"iterations"`
	Ridge        float64                 `json:"ridge,omitempty"` // 재시도에 적용된 ε
	Violations   []constraints.Violation `json:"violations,omitempty"`
	Duration     time.Duration           `json:"duration"`
}

// WeightsByAsset Portfolio 를 종목 코드 기준 맵으로 변환
func (r *Result) WeightsByAsset() map[string]float64 {
	if r.Portfolio == nil {
		return nil
	}
	out := make(map[string]float64, len(r.Universe))
	for i, id := range r.Universe {
		out[id] = r.Portfolio[i]
	}
	return out
}

// Observer 실행 결과 관찰자 (메트릭 등)
type Observer interface {
	ObserveRun(preset Preset, status Status, attempts int, elapsed time.Duration)
}
