package optimizer

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/blaahhrrgg/equity-risk-model/internal/constraints"
	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
)

// =============================================================================
// Presets
// =============================================================================

// PresetRequest 프리셋 실행 입력
type PresetRequest struct {
	Preset Preset `json:"preset"`

	// active_variance
	Request Request `json:"request"`

	ExpectedReturns  []float64          `json:"expected_returns,omitempty"`   // mean_variance, proportional_factor_neutral
	Gamma            float64            `json:"gamma,omitempty"`              // mean_variance
	Initial          []float64          `json:"initial,omitempty"`            // internally_hedged_*
	FactorRiskLimits map[string]float64 `json:"factor_risk_limits,omitempty"` // internally_hedged_factor_tolerant
}

// Run 프리셋 이름으로 분기
func (o *Optimizer) Run(ctx context.Context, req PresetRequest) (*Result, error) {
	switch req.Preset {
	case "", PresetActiveVariance:
		return o.Optimize(ctx, req.Request)
	case PresetMinimumVariance:
		return o.MinimumVariance(ctx)
	case PresetMeanVariance:
		return o.MeanVariance(ctx, req.ExpectedReturns, req.Gamma)
	case PresetProportionalFactorNeutral:
		return o.ProportionalFactorNeutral(ctx, req.ExpectedReturns)
	case PresetInternallyHedgedFactorNeutral:
		return o.InternallyHedgedFactorNeutral(ctx, req.Initial)
	case PresetInternallyHedgedFactorTolerant:
		return o.InternallyHedgedFactorTolerant(ctx, req.Initial, req.FactorRiskLimits)
	default:
		return nil, fmt.Errorf("%w: unknown preset %q", ErrInvalidRequest, req.Preset)
	}
}

// MinimumVariance 롱온리 완전투자 최소 분산 (min ½ wᵀΣw, Σw = 1, w ≥ 0)
func (o *Optimizer) MinimumVariance(ctx context.Context) (*Result, error) {
	set, err := o.setup(longOnlyPolicy(), nil)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, program{
		preset:    PresetMinimumVariance,
		set:       set,
		objective: activeObjective(nil, nil, 0.5),
	})
}

// MeanVariance 롱온리 완전투자 평균-분산 (min ½ wᵀΣw − γ·μᵀw)
func (o *Optimizer) MeanVariance(ctx context.Context, mu []float64, gamma float64) (*Result, error) {
	if err := o.model.CheckWeights(mu); err != nil {
		return nil, fmt.Errorf("%w: expected returns: %w", ErrInvalidRequest, err)
	}
	if gamma < 0 || math.IsNaN(gamma) || math.IsInf(gamma, 0) {
		return nil, fmt.Errorf("%w: gamma %g", ErrInvalidRequest, gamma)
	}

	set, err := o.setup(longOnlyPolicy(), nil)
	if err != nil {
		return nil, err
	}
	scaled := append([]float64(nil), mu...)
	floats.Scale(gamma, scaled)
	return o.run(ctx, program{
		preset:    PresetMeanVariance,
		set:       set,
		objective: activeObjective(nil, scaled, 0.5),
	})
}

// ProportionalFactorNeutral 기대수익에 가장 가까운 팩터 중립 포트폴리오
// min ‖w − μ‖² s.t. Eᵀw = 0
func (o *Optimizer) ProportionalFactorNeutral(ctx context.Context, mu []float64) (*Result, error) {
	if err := o.model.CheckWeights(mu); err != nil {
		return nil, fmt.Errorf("%w: expected returns: %w", ErrInvalidRequest, err)
	}

	set, err := o.setup(constraints.Policy{
		NeutralFactors: o.model.Factors(),
		Absolute:       true,
	}, nil)
	if err != nil {
		return nil, err
	}

	target := append([]float64(nil), mu...)
	return o.run(ctx, program{
		preset: PresetProportionalFactorNeutral,
		set:    set,
		objective: func(m *riskmodel.FactorRiskModel) (*mat.SymDense, []float64) {
			n := m.NumAssets()
			p := mat.NewSymDense(n, nil)
			for i := 0; i < n; i++ {
				p.SetSym(i, i, 2)
			}
			q := append([]float64(nil), target...)
			floats.Scale(-2, q)
			return p, q
		},
	})
}

// InternallyHedgedFactorNeutral 기존 보유 종목 안에서 헤지 h 를 찾아 w0 + h 를 팩터 중립으로
// min ½ hᵀSh s.t. Eᵀ(w0 + h) = 0, 각 종목 비중의 부호 유지
func (o *Optimizer) InternallyHedgedFactorNeutral(ctx context.Context, initial []float64) (*Result, error) {
	if err := o.model.CheckWeights(initial); err != nil {
		return nil, fmt.Errorf("%w: initial weights: %w", ErrInvalidRequest, err)
	}

	// 변수 h 에 대해 Eᵀh = Eᵀ(−w0): 벤치마크 −w0 의 팩터 중립과 동일
	set, err := o.setup(constraints.Policy{
		NeutralFactors: o.model.Factors(),
		Bounds:         o.signPreserving(initial),
	}, negate(initial))
	if err != nil {
		return nil, err
	}

	return o.run(ctx, program{
		preset:    PresetInternallyHedgedFactorNeutral,
		set:       set,
		objective: specificObjective,
		offset:    append([]float64(nil), initial...),
	})
}

// InternallyHedgedFactorTolerant 헤지 h 의 고유 분산 + 최종 포트폴리오 팩터 분산 최소화
// min hᵀSh + (w0+h)ᵀEFEᵀ(w0+h) s.t. |σ_f·e_f(w0+h)| ≤ limit_f, 부호 유지
func (o *Optimizer) InternallyHedgedFactorTolerant(ctx context.Context, initial []float64, limits map[string]float64) (*Result, error) {
	if err := o.model.CheckWeights(initial); err != nil {
		return nil, fmt.Errorf("%w: initial weights: %w", ErrInvalidRequest, err)
	}
	if len(limits) == 0 {
		return nil, fmt.Errorf("%w: no factor risk limits", ErrInvalidRequest)
	}

	set, err := o.setup(constraints.Policy{
		TolerantFactors: limits,
		ToleranceUnits:  constraints.UnitsRisk,
		Bounds:          o.signPreserving(initial),
	}, negate(initial))
	if err != nil {
		return nil, err
	}

	w0 := append([]float64(nil), initial...)
	return o.run(ctx, program{
		preset: PresetInternallyHedgedFactorTolerant,
		set:    set,
		objective: func(m *riskmodel.FactorRiskModel) (*mat.SymDense, []float64) {
			// P = 2(S + EFEᵀ) = 2Σ, q = 2·EFEᵀw0
			p := m.TotalCovariance()
			p.ScaleSym(2, p)
			q := m.FactorCovarianceMulVec(w0)
			floats.Scale(2, q)
			return p, q
		},
		offset: w0,
	})
}

// specificObjective ½ hᵀSh → P = S, q = 0
func specificObjective(m *riskmodel.FactorRiskModel) (*mat.SymDense, []float64) {
	s := m.SpecificVariance()
	p := mat.NewSymDense(len(s), nil)
	for i, v := range s {
		p.SetSym(i, i, v)
	}
	return p, make([]float64, len(s))
}

func longOnlyPolicy() constraints.Policy {
	one := 1.0
	return constraints.Policy{
		DefaultBound: &constraints.Bound{Lower: 0, Upper: math.Inf(1)},
		Budget:       &one,
	}
}

// signPreserving w0_i + h_i 가 w0_i 와 같은 부호를 갖도록 h 의 범위 설정
// 보유하지 않은 종목 (w0_i = 0) 은 헤지에 사용하지 않음
func (o *Optimizer) signPreserving(initial []float64) map[string]constraints.Bound {
	universe := o.model.Universe()
	out := make(map[string]constraints.Bound, len(initial))
	for i, w := range initial {
		switch {
		case w > 0:
			out[universe[i]] = constraints.Bound{Lower: -w, Upper: math.Inf(1)}
		case w < 0:
			out[universe[i]] = constraints.Bound{Lower: math.Inf(-1), Upper: -w}
		default:
			out[universe[i]] = constraints.Bound{Lower: 0, Upper: 0}
		}
	}
	return out
}

func negate(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = -x
	}
	return out
}
