package policy

import (
	"fmt"
	"math"
	"sort"

	"github.com/blaahhrrgg/equity-risk-model/internal/constraints"
	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// conflict 정책 안에서 이미 충돌하는 제약 (ValidationError + ErrConflictingConstraints)
func conflict(field, message string) error {
	return fmt.Errorf("%w: %w", constraints.ErrConflictingConstraints, ValidationError{field, message})
}

// Validate 정책 파일 검증 (모델 없이 가능한 검사만)
// 종목/팩터 존재 여부는 Builder 에서 ErrUnknownIdentifier 로 확인
func Validate(p *Policy) error {
	// === Meta ===
	if p.Meta.PolicyID == "" {
		return ValidationError{"meta.policy_id", "required"}
	}

	// === Objective ===
	preset := optimizer.Preset(p.Objective)
	if p.Objective != "" && !knownPreset(preset) {
		return ValidationError{"objective", fmt.Sprintf("unknown preset %q", p.Objective)}
	}

	// === Factor constraints ===
	switch constraints.ToleranceUnits(p.ToleranceUnits) {
	case "", constraints.UnitsExposure, constraints.UnitsRisk:
	default:
		return ValidationError{"tolerance_units", "must be exposure or risk"}
	}
	for _, f := range sortedKeys(p.TolerantFactors) {
		tol := p.TolerantFactors[f]
		if tol < 0 || !finite(tol) {
			return ValidationError{"tolerant_factors." + f, "must be >= 0"}
		}
	}
	for _, f := range p.NeutralFactors {
		if _, dup := p.TolerantFactors[f]; dup {
			return conflict("neutral_factors", fmt.Sprintf("factor %s is also tolerant", f))
		}
	}

	// === Bounds / budget / turnover ===
	for _, id := range sortedBoundKeys(p.Bounds) {
		if err := validateBound("bounds."+id, p.Bounds[id]); err != nil {
			return err
		}
	}
	if p.DefaultBounds != nil {
		if err := validateBound("default_bounds", *p.DefaultBounds); err != nil {
			return err
		}
	}
	if p.Budget != nil && !finite(*p.Budget) {
		return ValidationError{"budget", "must be finite"}
	}
	if t := p.Turnover; t != nil {
		if t.Current == "" {
			return ValidationError{"turnover.current", "required"}
		}
		if t.Limit < 0 || !finite(t.Limit) {
			return ValidationError{"turnover.limit", "must be >= 0"}
		}
	}

	// === Objective parameters ===
	if t := p.TargetVariance; t != nil && (*t < 0 || !finite(*t)) {
		return ValidationError{"target_variance", "must be >= 0"}
	}
	if p.RiskAversion < 0 || !finite(p.RiskAversion) {
		return ValidationError{"risk_aversion", "must be >= 0"}
	}
	if p.Gamma < 0 || !finite(p.Gamma) {
		return ValidationError{"gamma", "must be >= 0"}
	}
	for _, id := range sortedKeys(p.ExpectedReturns) {
		if !finite(p.ExpectedReturns[id]) {
			return ValidationError{"expected_returns." + id, "must be finite"}
		}
	}
	for _, f := range sortedKeys(p.FactorRiskLimits) {
		if v := p.FactorRiskLimits[f]; v < 0 || !finite(v) {
			return ValidationError{"factor_risk_limits." + f, "must be >= 0"}
		}
	}

	// 프리셋별 필수 항목
	switch preset {
	case optimizer.PresetMeanVariance, optimizer.PresetProportionalFactorNeutral:
		if len(p.ExpectedReturns) == 0 {
			return ValidationError{"expected_returns", fmt.Sprintf("required for %s", preset)}
		}
	case optimizer.PresetInternallyHedgedFactorNeutral:
		if p.Initial == "" {
			return ValidationError{"initial", fmt.Sprintf("required for %s", preset)}
		}
	case optimizer.PresetInternallyHedgedFactorTolerant:
		if p.Initial == "" {
			return ValidationError{"initial", fmt.Sprintf("required for %s", preset)}
		}
		if len(p.FactorRiskLimits) == 0 {
			return ValidationError{"factor_risk_limits", fmt.Sprintf("required for %s", preset)}
		}
	}

	// 다른 프리셋은 자체 제약을 구성하므로 active_variance 전용 항목을 받지 않음
	if preset != "" && preset != optimizer.PresetActiveVariance {
		if field := activeOnlyField(p); field != "" {
			return ValidationError{field, fmt.Sprintf("only used by %s, not %s", optimizer.PresetActiveVariance, preset)}
		}
	}

	return nil
}

// activeOnlyField active_variance 에서만 쓰이는 항목 중 설정된 첫 항목
func activeOnlyField(p *Policy) string {
	switch {
	case p.Benchmark != "":
		return "benchmark"
	case len(p.NeutralFactors) > 0:
		return "neutral_factors"
	case len(p.TolerantFactors) > 0:
		return "tolerant_factors"
	case p.ToleranceUnits != "":
		return "tolerance_units"
	case p.Absolute:
		return "absolute"
	case len(p.Bounds) > 0:
		return "bounds"
	case p.DefaultBounds != nil:
		return "default_bounds"
	case p.Budget != nil:
		return "budget"
	case p.Turnover != nil:
		return "turnover"
	case p.TargetVariance != nil:
		return "target_variance"
	case p.RiskAversion != 0:
		return "risk_aversion"
	}
	return ""
}

// ValidatePortfolios 비중 유한성 검사
func ValidatePortfolios(ps Portfolios) error {
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if len(ps[name]) == 0 {
			return ValidationError{"portfolios." + name, "empty portfolio"}
		}
		for _, id := range sortedKeys(ps[name]) {
			if !finite(ps[name][id]) {
				return ValidationError{fmt.Sprintf("portfolios.%s.%s", name, id), "weight must be finite"}
			}
		}
	}
	return nil
}

func validateBound(field string, b BoundSpec) error {
	if b.Lower != nil && math.IsNaN(*b.Lower) {
		return ValidationError{field + ".lower", "must be a number"}
	}
	if b.Upper != nil && math.IsNaN(*b.Upper) {
		return ValidationError{field + ".upper", "must be a number"}
	}
	if b.Lower != nil && b.Upper != nil && *b.Lower > *b.Upper {
		return conflict(field, fmt.Sprintf("lower %g exceeds upper %g", *b.Lower, *b.Upper))
	}
	return nil
}

func knownPreset(p optimizer.Preset) bool {
	for _, known := range optimizer.Presets() {
		if p == known {
			return true
		}
	}
	return false
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedBoundKeys(m map[string]BoundSpec) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
