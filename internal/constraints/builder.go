package constraints

import (
	"fmt"
	"math"
	"sort"

	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
	"github.com/blaahhrrgg/equity-risk-model/pkg/logger"
)

// ToleranceUnits factor-tolerant 허용오차 단위
type ToleranceUnits string

const (
	UnitsExposure ToleranceUnits = "exposure" // |e_f| ≤ tol
	UnitsRisk     ToleranceUnits = "risk"     // σ_f·|e_f| ≤ tol
)

// Turnover 종목별 회전율 제한 |w_i − c_i| ≤ Limit
// Current 에 없는 종목은 현재 비중 0
type Turnover struct {
	Current map[string]float64 `json:"current" yaml:"current"`
	Limit   float64            `json:"limit" yaml:"limit"`
}

// Policy 고수준 제약 정책
// ⭐ SSOT: 옵티마이저 제약은 이 정책에서만 생성
type Policy struct {
	NeutralFactors  []string           `json:"neutral_factors,omitempty"`
	TolerantFactors map[string]float64 `json:"tolerant_factors,omitempty"`
	ToleranceUnits  ToleranceUnits     `json:"tolerance_units,omitempty"`
	Bounds          map[string]Bound   `json:"bounds,omitempty"`
	DefaultBound    *Bound             `json:"default_bound,omitempty"`
	Budget          *float64           `json:"budget,omitempty"`
	Turnover        *Turnover          `json:"turnover,omitempty"`
	// Absolute 팩터 제약을 w−b 대신 w 에 적용
	Absolute bool `json:"absolute,omitempty"`
}

// Builder Policy → Set 변환기
type Builder struct {
	model *riskmodel.FactorRiskModel
	log   *logger.Logger
}

// NewBuilder 새 빌더 생성 (log 가 nil 이면 Nop)
func NewBuilder(model *riskmodel.FactorRiskModel, log *logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{model: model, log: log.WithComponent("constraints")}
}

// Build 정책과 벤치마크로 정규형 제약 집합 생성
// 변수는 절대 가중치 w, 팩터 제약은 액티브 x = w − b 기준
// benchmark 가 nil 이면 0 벡터
func (b *Builder) Build(p Policy, benchmark []float64) (*Set, error) {
	n := b.model.NumAssets()

	if benchmark == nil {
		benchmark = make([]float64, n)
	}
	if err := b.model.CheckWeights(benchmark); err != nil {
		return nil, fmt.Errorf("benchmark: %w", err)
	}

	neutral, err := b.factorIndices(p.NeutralFactors)
	if err != nil {
		return nil, err
	}
	tolerant, err := b.tolerances(p.TolerantFactors)
	if err != nil {
		return nil, err
	}
	for _, j := range neutral {
		if _, dup := tolerant[j]; dup {
			return nil, fmt.Errorf("%w: factor %s is both neutral and tolerant",
				ErrConflictingConstraints, b.model.Factors()[j])
		}
	}

	set := NewSet(n)
	if err := b.applyBounds(set, p); err != nil {
		return nil, err
	}

	// 팩터 기준점: active → E_fᵀb, absolute → 0
	base := b.model.FactorExposure(benchmark)
	if p.Absolute {
		base = make([]float64, len(base))
	}

	units := p.ToleranceUnits
	switch units {
	case "":
		units = UnitsExposure
	case UnitsExposure, UnitsRisk:
	default:
		return nil, fmt.Errorf("%w: unknown tolerance units %q", ErrConflictingConstraints, units)
	}
	vols := b.model.FactorVolatilities()
	factors := b.model.Factors()

	// === Factor-neutral ===
	for _, j := range neutral {
		if err := set.Add(Constraint{
			Kind:   KindFactorNeutral,
			Name:   "neutral:" + factors[j],
			Coeffs: b.column(j, 1),
			Sense:  SenseEQ,
			RHS:    base[j],
		}); err != nil {
			return nil, err
		}
	}

	// === Factor-tolerant (두 개의 ≤ 행) ===
	for _, j := range sortedKeys(tolerant) {
		scale := 1.0
		if units == UnitsRisk {
			scale = vols[j]
		}
		tol := tolerant[j]
		if err := set.Add(Constraint{
			Kind:   KindFactorTolerant,
			Name:   "tolerant:" + factors[j] + ":upper",
			Coeffs: b.column(j, scale),
			Sense:  SenseLE,
			RHS:    tol + scale*base[j],
		}); err != nil {
			return nil, err
		}
		if err := set.Add(Constraint{
			Kind:   KindFactorTolerant,
			Name:   "tolerant:" + factors[j] + ":lower",
			Coeffs: b.column(j, -scale),
			Sense:  SenseLE,
			RHS:    tol - scale*base[j],
		}); err != nil {
			return nil, err
		}
	}

	// === Budget ===
	if p.Budget != nil {
		ones := make([]float64, n)
		for i := range ones {
			ones[i] = 1
		}
		if err := set.Add(Constraint{
			Kind:   KindBudget,
			Name:   "budget",
			Coeffs: ones,
			Sense:  SenseEQ,
			RHS:    *p.Budget,
		}); err != nil {
			return nil, err
		}
	}

	// === Turnover ===
	current, err := b.turnover(set, p.Turnover)
	if err != nil {
		return nil, err
	}

	if err := b.precheckBudget(set, p, current); err != nil {
		return nil, err
	}

	b.log.WithFields(map[string]interface{}{
		"neutral":     set.Count(KindFactorNeutral),
		"tolerant":    set.Count(KindFactorTolerant) / 2,
		"budget":      p.Budget != nil,
		"turnover":    set.Count(KindTurnover) / 2,
		"constraints": set.Len(),
	}).Debug("constraint set assembled")

	return set, nil
}

// =============================================================================
// Assembly helpers
// =============================================================================

func (b *Builder) column(j int, scale float64) []float64 {
	out := make([]float64, b.model.NumAssets())
	for i := range out {
		out[i] = scale * b.model.Exposure(i, j)
	}
	return out
}

func (b *Builder) factorIndices(ids []string) ([]int, error) {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		j, ok := b.model.FactorIndex(id)
		if !ok {
			return nil, fmt.Errorf("%w: factor %q", ErrUnknownIdentifier, id)
		}
		if _, dup := seen[j]; dup {
			continue
		}
		seen[j] = struct{}{}
		out = append(out, j)
	}
	sort.Ints(out)
	return out, nil
}

func (b *Builder) tolerances(in map[string]float64) (map[int]float64, error) {
	out := make(map[int]float64, len(in))
	for id, tol := range in {
		j, ok := b.model.FactorIndex(id)
		if !ok {
			return nil, fmt.Errorf("%w: factor %q", ErrUnknownIdentifier, id)
		}
		if tol < 0 || math.IsNaN(tol) {
			return nil, fmt.Errorf("%w: factor %s has negative tolerance %g", ErrConflictingConstraints, id, tol)
		}
		out[j] = tol
	}
	return out, nil
}

func (b *Builder) applyBounds(set *Set, p Policy) error {
	def := Unbounded()
	if p.DefaultBound != nil {
		def = *p.DefaultBound
	}
	if err := checkBound("default", def); err != nil {
		return err
	}
	for i := 0; i < set.N(); i++ {
		set.SetBound(i, def)
	}

	for id, bound := range p.Bounds {
		i, ok := b.model.AssetIndex(id)
		if !ok {
			return fmt.Errorf("%w: asset %q", ErrUnknownIdentifier, id)
		}
		if err := checkBound(id, bound); err != nil {
			return err
		}
		set.SetBound(i, bound)
	}
	return nil
}

func checkBound(name string, bound Bound) error {
	if math.IsNaN(bound.Lower) || math.IsNaN(bound.Upper) {
		return fmt.Errorf("%w: %s bound is NaN", ErrConflictingConstraints, name)
	}
	if bound.Lower > bound.Upper {
		return fmt.Errorf("%w: %s lower bound %g exceeds upper bound %g",
			ErrConflictingConstraints, name, bound.Lower, bound.Upper)
	}
	return nil
}

// turnover 회전율 행 추가, 현재 비중 벡터 반환 (정책이 없으면 nil)
func (b *Builder) turnover(set *Set, t *Turnover) ([]float64, error) {
	if t == nil {
		return nil, nil
	}
	if t.Limit < 0 || math.IsNaN(t.Limit) {
		return nil, fmt.Errorf("%w: negative turnover limit %g", ErrConflictingConstraints, t.Limit)
	}

	n := set.N()
	current := make([]float64, n)
	for id, w := range t.Current {
		i, ok := b.model.AssetIndex(id)
		if !ok {
			return nil, fmt.Errorf("%w: asset %q in current holdings", ErrUnknownIdentifier, id)
		}
		current[i] = w
	}

	lower, upper := set.Bounds()
	universe := b.model.Universe()
	for i := 0; i < n; i++ {
		// 회전율 창 [c−t, c+t] 와 범위가 겹치지 않으면 사전 실패
		if current[i]+t.Limit < lower[i] || current[i]-t.Limit > upper[i] {
			return nil, fmt.Errorf("%w: turnover window [%g, %g] for %s is disjoint from bounds [%g, %g]",
				ErrConflictingConstraints, current[i]-t.Limit, current[i]+t.Limit, universe[i], lower[i], upper[i])
		}

		up := make([]float64, n)
		up[i] = 1
		if err := set.Add(Constraint{
			Kind:   KindTurnover,
			Name:   "turnover:" + universe[i] + ":upper",
			Coeffs: up,
			Sense:  SenseLE,
			RHS:    current[i] + t.Limit,
		}); err != nil {
			return nil, err
		}
		down := make([]float64, n)
		down[i] = -1
		if err := set.Add(Constraint{
			Kind:   KindTurnover,
			Name:   "turnover:" + universe[i] + ":lower",
			Coeffs: down,
			Sense:  SenseLE,
			RHS:    t.Limit - current[i],
		}); err != nil {
			return nil, err
		}
	}
	return current, nil
}

// precheckBudget 예산이 [Σlo, Σhi] (회전율 창 반영) 밖이면 실패
func (b *Builder) precheckBudget(set *Set, p Policy, current []float64) error {
	if p.Budget == nil {
		return nil
	}
	lower, upper := set.Bounds()
	var lo, hi float64
	for i := range lower {
		l, u := lower[i], upper[i]
		if current != nil {
			l = math.Max(l, current[i]-p.Turnover.Limit)
			u = math.Min(u, current[i]+p.Turnover.Limit)
		}
		lo += l
		hi += u
	}
	budget := *p.Budget
	if math.IsNaN(budget) || budget < lo-b.model.Tolerance() || budget > hi+b.model.Tolerance() {
		return fmt.Errorf("%w: budget %g outside attainable range [%g, %g]",
			ErrConflictingConstraints, budget, lo, hi)
	}
	return nil
}

func sortedKeys(m map[int]float64) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
