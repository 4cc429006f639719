package constraints

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// =============================================================================
// Constraint kinds (닫힌 열거형)
// =============================================================================

// Kind 제약조건 종류
type Kind string

const (
	KindFactorNeutral  Kind = "factor_neutral"  // E_fᵀ(w−b) == 0
	KindFactorTolerant Kind = "factor_tolerant" // |E_fᵀ(w−b)| ≤ tol_f
	KindBudget         Kind = "budget"          // Σw == target
	KindBound          Kind = "bound"           // lo_i ≤ w_i ≤ hi_i
	KindTurnover       Kind = "turnover"        // |w_i − c_i| ≤ t
	KindCustom         Kind = "custom"          // 프리셋 전용 선형 제약
)

// Sense 제약 방향
type Sense string

const (
	SenseEQ Sense = "=="
	SenseLE Sense = "<="
)

// Constraint 정규형 선형 제약 coeffsᵀw (sense) rhs
// 변수는 항상 절대 가중치 w (벤치마크는 rhs 로 이동)
type Constraint struct {
	Kind   Kind      `json:"kind"`
	Name   string    `json:"name"`
	Coeffs []float64 `json:"coeffs"`
	Sense  Sense     `json:"sense"`
	RHS    float64   `json:"rhs"`
}

// Eval coeffsᵀw
func (c Constraint) Eval(w []float64) float64 {
	return floats.Dot(c.Coeffs, w)
}

// Residual 위반량 (0 = 만족)
func (c Constraint) Residual(w []float64) float64 {
	lhs := c.Eval(w)
	if c.Sense == SenseEQ {
		return math.Abs(lhs - c.RHS)
	}
	return math.Max(lhs-c.RHS, 0)
}

// Bound 종목별 가중치 범위 (±Inf = 무제한)
type Bound struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Unbounded (−∞, +∞)
func Unbounded() Bound {
	return Bound{Lower: math.Inf(-1), Upper: math.Inf(1)}
}

// =============================================================================
// Set
// =============================================================================

// Set 정렬된 제약조건 집합 + 변수 범위
// ⭐ SSOT: 옵티마이저 조립과 사후 검증은 같은 Set 을 사용
type Set struct {
	n           int
	constraints []Constraint
	lower       []float64
	upper       []float64
}

// NewSet n 개 변수에 대한 빈 집합 (범위 무제한)
func NewSet(n int) *Set {
	s := &Set{
		n:     n,
		lower: make([]float64, n),
		upper: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		s.lower[i] = math.Inf(-1)
		s.upper[i] = math.Inf(1)
	}
	return s
}

// Add 제약 추가 (계수 길이는 변수 수와 같아야 함)
func (s *Set) Add(c Constraint) error {
	if len(c.Coeffs) != s.n {
		return fmt.Errorf("constraint %s has %d coefficients, expected %d", c.Name, len(c.Coeffs), s.n)
	}
	if c.Sense != SenseEQ && c.Sense != SenseLE {
		return fmt.Errorf("constraint %s has unknown sense %q", c.Name, c.Sense)
	}
	c.Coeffs = append([]float64(nil), c.Coeffs...)
	s.constraints = append(s.constraints, c)
	return nil
}

// SetBound i 번째 변수 범위
func (s *Set) SetBound(i int, b Bound) {
	s.lower[i] = b.Lower
	s.upper[i] = b.Upper
}

// N 변수 수
func (s *Set) N() int { return s.n }

// Len 선형 제약 수 (범위 제외)
func (s *Set) Len() int { return len(s.constraints) }

// Constraints 제약 목록 복사본
func (s *Set) Constraints() []Constraint {
	out := make([]Constraint, len(s.constraints))
	copy(out, s.constraints)
	return out
}

// Count 종류별 제약 수
func (s *Set) Count(kind Kind) int {
	var n int
	for _, c := range s.constraints {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Bounds 변수 범위 복사본
func (s *Set) Bounds() (lower, upper []float64) {
	return append([]float64(nil), s.lower...), append([]float64(nil), s.upper...)
}

// Equality A_eq, b_eq (없으면 nil)
func (s *Set) Equality() (*mat.Dense, []float64) {
	return s.rows(SenseEQ)
}

// Inequality G, h (Gw ≤ h, 없으면 nil)
func (s *Set) Inequality() (*mat.Dense, []float64) {
	return s.rows(SenseLE)
}

func (s *Set) rows(sense Sense) (*mat.Dense, []float64) {
	var data, rhs []float64
	for _, c := range s.constraints {
		if c.Sense != sense {
			continue
		}
		data = append(data, c.Coeffs...)
		rhs = append(rhs, c.RHS)
	}
	if len(rhs) == 0 {
		return nil, nil
	}
	return mat.NewDense(len(rhs), s.n, data), rhs
}

// =============================================================================
// Verification
// =============================================================================

// Violation 사후 검증 위반 항목
type Violation struct {
	Kind     Kind    `json:"kind"`
	Name     string  `json:"name"`
	Residual float64 `json:"residual"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s (%s) violated by %g", v.Name, v.Kind, v.Residual)
}

// Check w 가 모든 제약과 범위를 tol 이내로 만족하는지 검사
// 허용오차는 max(1, |rhs|) 로 스케일
func (s *Set) Check(w []float64, tol float64) []Violation {
	var out []Violation
	if len(w) != s.n {
		return []Violation{{Kind: KindCustom, Name: "dimension", Residual: math.Abs(float64(len(w) - s.n))}}
	}

	for _, c := range s.constraints {
		r := c.Residual(w)
		if r > tol*math.Max(1, math.Abs(c.RHS)) || math.IsNaN(r) {
			out = append(out, Violation{Kind: c.Kind, Name: c.Name, Residual: r})
		}
	}

	for i, v := range w {
		var r, limit float64
		switch {
		case math.IsNaN(v):
			r = math.NaN()
		case v < s.lower[i]:
			r, limit = s.lower[i]-v, s.lower[i]
		case v > s.upper[i]:
			r, limit = v-s.upper[i], s.upper[i]
		}
		if r > tol*math.Max(1, math.Abs(limit)) || math.IsNaN(r) {
			out = append(out, Violation{Kind: KindBound, Name: fmt.Sprintf("bound[%d]", i), Residual: r})
		}
	}
	return out
}
