package policy

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/blaahhrrgg/equity-risk-model/internal/constraints"
	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
)

// Bound 생략된 쪽을 ±Inf 로 채운 범위
func (b BoundSpec) Bound() constraints.Bound {
	return b.over(constraints.Unbounded())
}

// over 생략된 쪽은 base 값 유지
func (b BoundSpec) over(base constraints.Bound) constraints.Bound {
	out := base
	if b.Lower != nil {
		out.Lower = *b.Lower
	}
	if b.Upper != nil {
		out.Upper = *b.Upper
	}
	return out
}

// Request 정책 + 포트폴리오 → 옵티마이저 프리셋 요청
// 포트폴리오 이름과 종목 코드는 모델 유니버스 기준으로 재색인
func (p *Policy) Request(model *riskmodel.FactorRiskModel, portfolios Portfolios) (optimizer.PresetRequest, error) {
	var req optimizer.PresetRequest
	req.Preset = optimizer.Preset(p.Objective)
	req.Gamma = p.Gamma
	req.FactorRiskLimits = p.FactorRiskLimits

	cp, err := p.constraints(portfolios)
	if err != nil {
		return req, err
	}
	req.Request = optimizer.Request{
		Policy:         cp,
		TargetVariance: p.TargetVariance,
		RiskAversion:   p.RiskAversion,
	}

	if p.Benchmark != "" {
		if req.Request.Benchmark, err = named(model, portfolios, p.Benchmark); err != nil {
			return req, err
		}
	}
	if p.Initial != "" {
		if req.Initial, err = named(model, portfolios, p.Initial); err != nil {
			return req, err
		}
	}
	if len(p.ExpectedReturns) > 0 {
		mu, err := Vector(model, p.ExpectedReturns)
		if err != nil {
			return req, fmt.Errorf("expected_returns: %w", err)
		}
		req.ExpectedReturns = mu
		req.Request.ExpectedReturns = mu
	}
	return req, nil
}

func (p *Policy) constraints(portfolios Portfolios) (constraints.Policy, error) {
	out := constraints.Policy{
		NeutralFactors:  p.NeutralFactors,
		TolerantFactors: p.TolerantFactors,
		ToleranceUnits:  constraints.ToleranceUnits(p.ToleranceUnits),
		Budget:          p.Budget,
		Absolute:        p.Absolute,
	}
	def := constraints.Unbounded()
	if p.DefaultBounds != nil {
		def = p.DefaultBounds.Bound()
		out.DefaultBound = &def
	}
	// 종목별 범위에서 생략된 쪽은 default_bounds 를 따름
	if len(p.Bounds) > 0 {
		out.Bounds = make(map[string]constraints.Bound, len(p.Bounds))
		for id, b := range p.Bounds {
			out.Bounds[id] = b.over(def)
		}
	}
	if p.Turnover != nil {
		current, ok := portfolios[p.Turnover.Current]
		if !ok {
			return out, ValidationError{"turnover.current", fmt.Sprintf("unknown portfolio %q", p.Turnover.Current)}
		}
		out.Turnover = &constraints.Turnover{Current: current, Limit: p.Turnover.Limit}
	}
	return out, nil
}

func named(model *riskmodel.FactorRiskModel, portfolios Portfolios, name string) ([]float64, error) {
	weights, ok := portfolios[name]
	if !ok {
		return nil, ValidationError{"portfolios", fmt.Sprintf("unknown portfolio %q", name)}
	}
	v, err := Vector(model, weights)
	if err != nil {
		return nil, fmt.Errorf("portfolio %s: %w", name, err)
	}
	return v, nil
}

// Vector 종목 → 값 맵을 유니버스 순서 벡터로 (없는 종목은 0)
// 유니버스에 없는 종목이 있으면 ErrUnknownIdentifier
func Vector(model *riskmodel.FactorRiskModel, values map[string]float64) ([]float64, error) {
	out := make([]float64, model.NumAssets())
	var unknown []string
	for id, v := range values {
		i, ok := model.AssetIndex(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: value for %s is not finite", riskmodel.ErrDimensionMismatch, id)
		}
		out[i] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: assets %s", riskmodel.ErrUnknownIdentifier, strings.Join(unknown, ", "))
	}
	return out, nil
}
