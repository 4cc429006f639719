package contracts

import (
	"fmt"

	"github.com/blaahhrrgg/equity-risk-model/internal/constraints"
	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
	"github.com/blaahhrrgg/equity-risk-model/internal/policy"
	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
	"github.com/blaahhrrgg/equity-risk-model/internal/solver"
)

// OptimizeRequest POST /api/optimize
// 정책은 YAML 파일과 같은 구조, 포트폴리오는 정책에서 이름으로 참조
type OptimizeRequest struct {
	Policy     policy.Policy     `json:"policy"`
	Portfolios policy.Portfolios `json:"portfolios,omitempty"`
}

// OptimizeResponse 최적화 결과
// 상태가 optimal 이 아니면 가중치는 비어 있음
type OptimizeResponse struct {
	RunID        string           `json:"run_id"`
	PolicyID     string           `json:"policy_id"`
	PolicyHash   string           `json:"policy_hash"`
	Preset       optimizer.Preset `json:"preset"`
	Status       optimizer.Status `json:"status"`
	SolverStatus solver.Status    `json:"solver_status"`
	Attempts     int              `json:"attempts"`
	Iterations   int              `json:"iterations"`
	Ridge        float64          `json:"ridge,omitempty"`
	Objective    *float64         `json:"objective"`
	DurationMs   int64            `json:"duration_ms"`

	Weights       map[string]float64 `json:"weights,omitempty"`
	Portfolio     map[string]float64 `json:"portfolio,omitempty"`
	Decomposition *DecompositionView `json:"decomposition,omitempty"`
	Violations    []ViolationView    `json:"violations,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// ViolationView 사후 검증 위반 (NaN 잔차는 null)
type ViolationView struct {
	Kind     constraints.Kind `json:"kind"`
	Name     string           `json:"name"`
	Residual *float64         `json:"residual"`
}

func (v ViolationView) String() string {
	if v.Residual == nil {
		return fmt.Sprintf("%s (%s) violated by non-finite residual", v.Name, v.Kind)
	}
	return fmt.Sprintf("%s (%s) violated by %g", v.Name, v.Kind, *v.Residual)
}

// NewViolationViews 위반 목록 → JSON 안전 뷰
func NewViolationViews(vs []constraints.Violation) []ViolationView {
	if len(vs) == 0 {
		return nil
	}
	out := make([]ViolationView, len(vs))
	for i, v := range vs {
		out[i] = ViolationView{Kind: v.Kind, Name: v.Name, Residual: FiniteOrNil(v.Residual)}
	}
	return out
}

// NewOptimizeResponse Result → 응답 (err 는 비최적 상태의 사유)
func NewOptimizeResponse(model *riskmodel.FactorRiskModel, res *optimizer.Result, err error) OptimizeResponse {
	out := OptimizeResponse{
		RunID:        res.RunID,
		Preset:       res.Preset,
		Status:       res.Status,
		SolverStatus: res.SolverStatus,
		Attempts:     res.Attempts,
		Iterations:   res.Iterations,
		Ridge:        res.Ridge,
		Objective:    FiniteOrNil(res.Objective),
		DurationMs:   res.Duration.Milliseconds(),
		Violations:   NewViolationViews(res.Violations),
	}
	if err != nil {
		out.Error = err.Error()
	}
	if res.Status != optimizer.StatusOptimal {
		return out
	}

	out.Weights = Keyed(res.Universe, res.Weights)
	out.Portfolio = Keyed(res.Universe, res.Portfolio)
	if res.Decomposition != nil {
		view := NewDecompositionView(model, res.Decomposition)
		out.Decomposition = &view
	}
	return out
}
