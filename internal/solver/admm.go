package solver

import (
	"context"
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/blaahhrrgg/equity-risk-model/pkg/logger"
)

const (
	rhoMin           = 1e-6
	rhoMax           = 1e6
	rhoEqScale       = 1e3 // 등식 행 penalty 배수
	rhoRefactorRatio = 5.0 // ρ 가 이 배수 이상 변할 때만 재분해
	ctxCheckInterval = 50
	divisionTol      = 1e-12
)

// ADMM operator-splitting QP 솔버 (OSQP 방식)
//
//	l ≤ Cx ≤ u,  C = [A; G; I_bounded]
//
// 축약 KKT 시스템 (P + σI + Cᵀdiag(ρ)C) 을 Cholesky 로 분해해 재사용
// 실행불가/무한 여부는 연속 반복의 차분(δy, δx) 인증서로 판정
type ADMM struct {
	log *logger.Logger
}

// NewADMM 새 ADMM 솔버 (log 가 nil 이면 Nop)
func NewADMM(log *logger.Logger) *ADMM {
	if log == nil {
		log = logger.Nop()
	}
	return &ADMM{log: log.WithComponent("solver")}
}

// Solve Solver 구현
// 상태(Infeasible, MaxIterations 등)는 Solution.Status 로, 문제 정의 오류만 error 로 반환
func (s *ADMM) Solve(ctx context.Context, p *Problem, opts Options) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if opts.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TimeLimit)
		defer cancel()
	}

	start := time.Now()
	sol := s.solve(ctx, p, opts)
	sol.SolveTime = time.Since(start)

	s.log.WithFields(map[string]interface{}{
		"status":     sol.Status,
		"iterations": sol.Iterations,
		"primal_res": sol.PrimalResidual,
		"dual_res":   sol.DualResidual,
		"elapsed_ms": sol.SolveTime.Milliseconds(),
	}).Debug("admm finished")

	return sol, nil
}

func (s *ADMM) solve(ctx context.Context, p *Problem, opts Options) *Solution {
	if !presolveConsistent(p, opts.EpsInfeasible) {
		return &Solution{Status: StatusInfeasible}
	}

	rows := newConstraintRows(p)
	n, m := p.N(), rows.m()

	rho := opts.Rho
	rhoV := rows.rhoVector(rho)
	chol, ok := rows.factorize(p.P, opts.Sigma, rhoV)
	if !ok {
		return &Solution{Status: StatusNumericalError}
	}

	var (
		x, xPrev, xt = make([]float64, n), make([]float64, n), make([]float64, n)
		rhs, px, cty = make([]float64, n), make([]float64, n), make([]float64, n)
		z, y, yPrev  = make([]float64, m), make([]float64, m), make([]float64, m)
		zt, cx, tmp  = make([]float64, m), make([]float64, m), make([]float64, m)
		dx, dy       = make([]float64, n), make([]float64, m)
		xtVec        = mat.NewVecDense(n, xt)
		rhsVec       = mat.NewVecDense(n, rhs)
		pxVec        = mat.NewVecDense(n, px)
	)
	alpha, sigma := opts.Alpha, opts.Sigma

	sol := &Solution{Status: StatusMaxIterations}

	for k := 1; k <= opts.MaxIterations; k++ {
		sol.Iterations = k

		if k%ctxCheckInterval == 1 && ctx.Err() != nil {
			sol.Status = StatusTimeLimit
			sol.X = append([]float64(nil), x...)
			return sol
		}

		copy(xPrev, x)
		copy(yPrev, y)

		// x̃ = K⁻¹ (σx − q + Cᵀ(ρ∘z − y))
		for i := range tmp {
			tmp[i] = rhoV[i]*z[i] - y[i]
		}
		rows.mulT(rhs, tmp)
		for i := range rhs {
			rhs[i] += sigma*x[i] - p.Q[i]
		}
		if err := chol.SolveVecTo(xtVec, rhsVec); err != nil {
			// 조건수 경고는 해를 그대로 사용
			var cond mat.Condition
			if !errors.As(err, &cond) {
				sol.Status = StatusNumericalError
				return sol
			}
		}
		rows.mul(zt, xt)

		for i := range x {
			x[i] = alpha*xt[i] + (1-alpha)*x[i]
		}
		for i := range z {
			zr := alpha*zt[i] + (1-alpha)*z[i]
			zn := clamp(zr+y[i]/rhoV[i], rows.l[i], rows.u[i])
			y[i] += rhoV[i] * (zr - zn)
			z[i] = zn
		}

		if !finite(x) || !finite(y) {
			sol.Status = StatusNumericalError
			return sol
		}

		// === Residuals ===
		rows.mul(cx, x)
		pxVec.MulVec(p.P, mat.NewVecDense(n, x))
		rows.mulT(cty, y)

		var rPrim, rDual float64
		for i := range cx {
			rPrim = math.Max(rPrim, math.Abs(cx[i]-z[i]))
		}
		for i := range px {
			rDual = math.Max(rDual, math.Abs(px[i]+p.Q[i]+cty[i]))
		}
		primScale := math.Max(normInf(cx), normInf(z))
		dualScale := math.Max(normInf(px), math.Max(normInf(cty), normInf(p.Q)))
		sol.PrimalResidual, sol.DualResidual = rPrim, rDual

		if rPrim <= opts.EpsAbs+opts.EpsRel*primScale && rDual <= opts.EpsAbs+opts.EpsRel*dualScale {
			sol.Status = StatusOptimal
			sol.X = append([]float64(nil), x...)
			sol.Objective = p.Objective(sol.X)
			return sol
		}

		// === Certificates ===
		floats.SubTo(dy, y, yPrev)
		if rows.primalInfeasible(dy, opts.EpsInfeasible, cty) {
			sol.Status = StatusInfeasible
			return sol
		}
		floats.SubTo(dx, x, xPrev)
		if rows.dualInfeasible(p, dx, opts.EpsInfeasible, cx) {
			sol.Status = StatusUnbounded
			return sol
		}

		// === Adaptive ρ ===
		if opts.AdaptiveRho > 0 && k%opts.AdaptiveRho == 0 && m > 0 {
			num := rPrim / math.Max(primScale, divisionTol)
			den := rDual / math.Max(dualScale, divisionTol)
			if den > 0 && num > 0 {
				next := clamp(rho*math.Sqrt(num/den), rhoMin, rhoMax)
				if next > rho*rhoRefactorRatio || next < rho/rhoRefactorRatio {
					rho = next
					rhoV = rows.rhoVector(rho)
					if chol, ok = rows.factorize(p.P, sigma, rhoV); !ok {
						sol.Status = StatusNumericalError
						return sol
					}
				}
			}
		}
	}

	sol.X = append([]float64(nil), x...)
	sol.Objective = p.Objective(sol.X)
	return sol
}

// =============================================================================
// Constraint rows
// =============================================================================

// constraintRows C = [A; G] (dense) + 범위가 있는 변수의 단위 행
type constraintRows struct {
	n, md int
	dense *mat.Dense
	vars  []int
	l, u  []float64
}

func newConstraintRows(p *Problem) *constraintRows {
	n := p.N()
	r := &constraintRows{n: n}

	var ma, mg int
	if p.A != nil {
		ma, _ = p.A.Dims()
	}
	if p.G != nil {
		mg, _ = p.G.Dims()
	}
	r.md = ma + mg

	if r.md > 0 {
		r.dense = mat.NewDense(r.md, n, nil)
		if ma > 0 {
			r.dense.Slice(0, ma, 0, n).(*mat.Dense).Copy(p.A)
		}
		if mg > 0 {
			r.dense.Slice(ma, r.md, 0, n).(*mat.Dense).Copy(p.G)
		}
	}

	for _, b := range p.B {
		r.l = append(r.l, b)
		r.u = append(r.u, b)
	}
	for _, h := range p.H {
		r.l = append(r.l, math.Inf(-1))
		r.u = append(r.u, h)
	}

	for i := 0; i < n; i++ {
		lo, hi := math.Inf(-1), math.Inf(1)
		if p.Lower != nil {
			lo = p.Lower[i]
		}
		if p.Upper != nil {
			hi = p.Upper[i]
		}
		if math.IsInf(lo, -1) && math.IsInf(hi, 1) {
			continue
		}
		r.vars = append(r.vars, i)
		r.l = append(r.l, lo)
		r.u = append(r.u, hi)
	}
	return r
}

func (r *constraintRows) m() int { return r.md + len(r.vars) }

// mul dst = Cx
func (r *constraintRows) mul(dst, x []float64) {
	if r.md > 0 {
		mat.NewVecDense(r.md, dst[:r.md]).MulVec(r.dense, mat.NewVecDense(r.n, x))
	}
	for k, i := range r.vars {
		dst[r.md+k] = x[i]
	}
}

// mulT dst = Cᵀy
func (r *constraintRows) mulT(dst, y []float64) {
	if r.md > 0 {
		mat.NewVecDense(r.n, dst).MulVec(r.dense.T(), mat.NewVecDense(r.md, y[:r.md]))
	} else {
		for i := range dst {
			dst[i] = 0
		}
	}
	for k, i := range r.vars {
		dst[i] += y[r.md+k]
	}
}

// rhoVector 행별 ρ: 등식 행 ×1e3, 양쪽 무제한 행 ρ_min
func (r *constraintRows) rhoVector(rho float64) []float64 {
	out := make([]float64, r.m())
	for i := range out {
		switch {
		case r.l[i] == r.u[i]:
			out[i] = rhoEqScale * rho
		case math.IsInf(r.l[i], -1) && math.IsInf(r.u[i], 1):
			out[i] = rhoMin
		default:
			out[i] = rho
		}
	}
	return out
}

// factorize P + σI + Cᵀdiag(ρ)C 의 Cholesky 분해
func (r *constraintRows) factorize(P *mat.SymDense, sigma float64, rhoV []float64) (*mat.Cholesky, bool) {
	k := mat.NewSymDense(r.n, nil)
	k.CopySym(P)
	for i := 0; i < r.n; i++ {
		k.SetSym(i, i, k.At(i, i)+sigma)
	}

	if r.md > 0 {
		w := mat.DenseCopyOf(r.dense)
		for row := 0; row < r.md; row++ {
			floats.Scale(math.Sqrt(rhoV[row]), w.RawRowView(row))
		}
		var gram mat.SymDense
		gram.SymOuterK(1, w.T())
		k.AddSym(k, &gram)
	}
	for idx, i := range r.vars {
		k.SetSym(i, i, k.At(i, i)+rhoV[r.md+idx])
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(k); !ok {
		return nil, false
	}
	return &chol, true
}

// primalInfeasible δy 를 [l, u] recession cone 의 polar 로 사영한 뒤
// ‖Cᵀδy‖ ≈ 0 이고 uᵀδy⁺ + lᵀδy⁻ < 0 이면 실행불가 인증서
func (r *constraintRows) primalInfeasible(dy []float64, eps float64, work []float64) bool {
	for i := range dy {
		if math.IsInf(r.u[i], 1) {
			dy[i] = math.Min(dy[i], 0)
		}
		if math.IsInf(r.l[i], -1) {
			dy[i] = math.Max(dy[i], 0)
		}
	}
	norm := normInf(dy)
	if norm <= divisionTol {
		return false
	}

	r.mulT(work, dy)
	if normInf(work) > eps*norm {
		return false
	}

	var support float64
	for i, v := range dy {
		switch {
		case v > 0:
			support += r.u[i] * v
		case v < 0:
			support += r.l[i] * v
		}
	}
	return support < -eps*norm
}

// dualInfeasible Pδx ≈ 0, qᵀδx < 0, Cδx 가 recession cone 안이면 무한 인증서
func (r *constraintRows) dualInfeasible(p *Problem, dx []float64, eps float64, work []float64) bool {
	norm := normInf(dx)
	if norm <= divisionTol {
		return false
	}
	if floats.Dot(p.Q, dx) >= -eps*norm {
		return false
	}

	var pdx mat.VecDense
	pdx.MulVec(p.P, mat.NewVecDense(r.n, dx))
	if normInf(pdx.RawVector().Data) > eps*norm {
		return false
	}

	r.mul(work, dx)
	for i, v := range work {
		if !math.IsInf(r.u[i], 1) && v > eps*norm {
			return false
		}
		if !math.IsInf(r.l[i], -1) && v < -eps*norm {
			return false
		}
	}
	return true
}

// =============================================================================
// Presolve
// =============================================================================

// presolveConsistent 등식 Ax = b 가 해를 가질 수 있는지 (b ∈ range(A)) 와 변수 범위 순서 검사
// 랭크 부족 등식 (예: 같은 행에 서로 다른 rhs) 은 반복 전에 Infeasible 로 확정
func presolveConsistent(p *Problem, eps float64) bool {
	if p.Lower != nil && p.Upper != nil {
		for i := range p.Lower {
			if p.Lower[i] > p.Upper[i] {
				return false
			}
		}
	}
	if p.A == nil {
		return true
	}

	var svd mat.SVD
	if ok := svd.Factorize(p.A, mat.SVDThin); !ok {
		return true
	}
	values := svd.Values(nil)
	if len(values) == 0 {
		return true
	}
	var u mat.Dense
	svd.UTo(&u)

	ma, n := p.A.Dims()
	cut := values[0] * float64(max(ma, n)) * 1e-12

	b := mat.NewVecDense(len(p.B), append([]float64(nil), p.B...))
	proj := mat.NewVecDense(len(p.B), nil)
	for j, sv := range values {
		if sv <= cut {
			continue
		}
		col := u.ColView(j)
		proj.AddScaledVec(proj, mat.Dot(col, b), col)
	}

	var resid float64
	for i := 0; i < b.Len(); i++ {
		resid = math.Max(resid, math.Abs(b.AtVec(i)-proj.AtVec(i)))
	}
	return resid <= eps*math.Max(1, normInf(p.B))
}

// =============================================================================
// helpers
// =============================================================================

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func normInf(v []float64) float64 {
	var out float64
	for _, x := range v {
		out = math.Max(out, math.Abs(x))
	}
	return out
}
