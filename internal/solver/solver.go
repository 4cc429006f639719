package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidProblem 문제 정의 오류 (차원 불일치, 비유한 값)
var ErrInvalidProblem = errors.New("invalid problem")

// Status 솔버 종료 상태
type Status string

const (
	StatusOptimal        Status = "optimal"
	StatusInfeasible     Status = "infeasible"
	StatusUnbounded      Status = "unbounded"
	StatusMaxIterations  Status = "max_iterations"
	StatusTimeLimit      Status = "time_limit"
	StatusNumericalError Status = "numerical_error"
)

// Terminal Infeasible/Unbounded 는 재시도해도 바뀌지 않는 정책 오류
func (s Status) Terminal() bool {
	return s == StatusOptimal || s == StatusInfeasible || s == StatusUnbounded
}

// Problem 볼록 QP
//
//	minimize    ½ xᵀPx + qᵀx
//	subject to  Ax = b
//	            Gx ≤ h
//	            lower ≤ x ≤ upper
//
// A/G 는 nil 가능, Lower/Upper 가 nil 이면 무제한
type Problem struct {
	P     *mat.SymDense
	Q     []float64
	A     *mat.Dense
	B     []float64
	G     *mat.Dense
	H     []float64
	Lower []float64
	Upper []float64
}

// N 변수 수
func (p *Problem) N() int { return len(p.Q) }

// Validate 차원/유한성 검사
func (p *Problem) Validate() error {
	n := len(p.Q)
	if n == 0 {
		return fmt.Errorf("%w: empty objective", ErrInvalidProblem)
	}
	if p.P == nil || p.P.SymmetricDim() != n {
		return fmt.Errorf("%w: P must be %d×%d", ErrInvalidProblem, n, n)
	}
	if !finite(p.Q) {
		return fmt.Errorf("%w: q has non-finite entries", ErrInvalidProblem)
	}
	if err := checkRows("A", p.A, p.B, n); err != nil {
		return err
	}
	if err := checkRows("G", p.G, p.H, n); err != nil {
		return err
	}
	if p.Lower != nil && len(p.Lower) != n {
		return fmt.Errorf("%w: lower has %d entries, expected %d", ErrInvalidProblem, len(p.Lower), n)
	}
	if p.Upper != nil && len(p.Upper) != n {
		return fmt.Errorf("%w: upper has %d entries, expected %d", ErrInvalidProblem, len(p.Upper), n)
	}
	return nil
}

func checkRows(name string, m *mat.Dense, rhs []float64, n int) error {
	if m == nil {
		if len(rhs) != 0 {
			return fmt.Errorf("%w: %s is nil but has %d right-hand sides", ErrInvalidProblem, name, len(rhs))
		}
		return nil
	}
	r, c := m.Dims()
	if c != n || r != len(rhs) {
		return fmt.Errorf("%w: %s is %d×%d with %d right-hand sides, expected %d columns",
			ErrInvalidProblem, name, r, c, len(rhs), n)
	}
	if !finite(rhs) {
		return fmt.Errorf("%w: %s right-hand side has non-finite entries", ErrInvalidProblem, name)
	}
	return nil
}

// Objective ½ xᵀPx + qᵀx
func (p *Problem) Objective(x []float64) float64 {
	v := mat.NewVecDense(len(x), x)
	return 0.5*mat.Inner(v, p.P, v) + floats.Dot(p.Q, x)
}

// Solution 솔버 결과
type Solution struct {
	Status         Status        `json:"status"`
	X              []float64     `json:"x,omitempty"`
	Objective      float64       `json:"objective"`
	Iterations     int           `json:"iterations"`
	PrimalResidual float64       `json:"primal_residual"`
	DualResidual   float64       `json:"dual_residual"`
	SolveTime      time.Duration `json:"solve_time"`
}

// Options 솔버 설정
type Options struct {
	MaxIterations int           // 최대 반복
	EpsAbs        float64       // 절대 수렴 허용오차
	EpsRel        float64       // 상대 수렴 허용오차
	EpsInfeasible float64       // 실행불가/무한 인증서 허용오차
	Rho           float64       // ADMM 초기 penalty
	Sigma         float64       // x-블록 정규화
	Alpha         float64       // over-relaxation (0, 2)
	AdaptiveRho   int           // ρ 갱신 주기 (0 = 고정)
	TimeLimit     time.Duration // 0 = ctx 만 사용
}

// DefaultOptions 기본 솔버 설정
func DefaultOptions() Options {
	return Options{
		MaxIterations: 20000,
		EpsAbs:        1e-9,
		EpsRel:        1e-9,
		EpsInfeasible: 1e-6,
		Rho:           0.1,
		Sigma:         1e-6,
		Alpha:         1.6,
		AdaptiveRho:   25,
		TimeLimit:     0,
	}
}

// Tightened 재시도용 설정 (반복 2배, 허용오차 1/10, 완화 없음)
func (o Options) Tightened() Options {
	o.MaxIterations *= 2
	o.EpsAbs /= 10
	o.EpsRel /= 10
	o.Alpha = 1.0
	return o
}

// Solver 볼록 QP 솔버 능력 계약
// ⭐ SSOT: 옵티마이저는 이 인터페이스에만 의존 (테스트는 mock 주입)
type Solver interface {
	Solve(ctx context.Context, p *Problem, opts Options) (*Solution, error)
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
