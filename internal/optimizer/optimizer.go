package optimizer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/blaahhrrgg/equity-risk-model/internal/constraints"
	"github.com/blaahhrrgg/equity-risk-model/internal/risk"
	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
	"github.com/blaahhrrgg/equity-risk-model/internal/solver"
	"github.com/blaahhrrgg/equity-risk-model/pkg/logger"
)

// Config 옵티마이저 설정
type Config struct {
	Solver          solver.Options
	RidgeEpsilon    float64 // 재시도 시 F + εI 의 ε
	VerifyTolerance float64 // 사후 검증 허용오차 (max(1, |rhs|) 로 스케일)

	// 리스크 예산 + 기대수익 λ 탐색 범위
	BudgetSteps     int
	MinRiskAversion float64
	MaxRiskAversion float64
}

// DefaultConfig 기본 설정
func DefaultConfig() Config {
	return Config{
		Solver:          solver.DefaultOptions(),
		RidgeEpsilon:    1e-6,
		VerifyTolerance: 1e-6,
		BudgetSteps:     30,
		MinRiskAversion: 1e-2,
		MaxRiskAversion: 1e3,
	}
}

// Option 옵티마이저 옵션
type Option func(*Optimizer)

// WithConfig 설정 지정
func WithConfig(cfg Config) Option {
	return func(o *Optimizer) { o.cfg = cfg }
}

// WithLogger 로거 지정 (기본: Nop)
func WithLogger(log *logger.Logger) Option {
	return func(o *Optimizer) {
		if log != nil {
			o.log = log
		}
	}
}

// WithObserver 실행 결과 관찰자 (메트릭)
func WithObserver(obs Observer) Option {
	return func(o *Optimizer) { o.observer = obs }
}

// WithMeasure 결과 분해의 집중도 지표
func WithMeasure(m risk.Measure) Option {
	return func(o *Optimizer) { o.measure = m }
}

// Optimizer 포트폴리오 옵티마이저
// ⭐ SSOT: Setup → Solve → Result, 실행마다 독립 (공유 상태 없음)
type Optimizer struct {
	model    *riskmodel.FactorRiskModel
	solver   solver.Solver
	builder  *constraints.Builder
	calc     *risk.Calculator
	cfg      Config
	measure  risk.Measure
	log      *logger.Logger
	observer Observer
}

// New 새 옵티마이저 (solver 는 주입, 테스트는 mock)
func New(model *riskmodel.FactorRiskModel, s solver.Solver, opts ...Option) *Optimizer {
	o := &Optimizer{
		model:   model,
		solver:  s,
		cfg:     DefaultConfig(),
		measure: risk.DefaultMeasure,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.WithComponent("optimizer")
	o.builder = constraints.NewBuilder(model, o.log)
	o.calc = risk.NewCalculator(model, risk.WithLogger(o.log), risk.WithMeasure(o.measure))
	return o
}

// Model 대상 모델
func (o *Optimizer) Model() *riskmodel.FactorRiskModel { return o.model }

// objectiveFunc 모델 → (P, q); ridge 재시도 시 재조립
type objectiveFunc func(m *riskmodel.FactorRiskModel) (*mat.SymDense, []float64)

// program 조립된 최적화 문제
type program struct {
	preset    Preset
	set       *constraints.Set
	objective objectiveFunc
	offset    []float64 // 최종 포트폴리오 = offset + x (nil = 0)
	reference []float64 // 리스크 분해 기준 (nil = 0)
}

// =============================================================================
// Active variance
// =============================================================================

// Optimize 정책 제약 아래 액티브 분산 (w−b)ᵀΣ(w−b) 최소화
// ExpectedReturns 가 있으면 λ·var − μᵀw, TargetVariance 가 있으면 리스크 예산
//
// Result 는 솔버가 실행된 경우 항상 반환 (에러와 함께일 수 있음)
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*Result, error) {
	n := o.model.NumAssets()
	b := req.Benchmark
	if b == nil {
		b = make([]float64, n)
	}
	if req.ExpectedReturns != nil {
		if err := o.model.CheckWeights(req.ExpectedReturns); err != nil {
			return nil, fmt.Errorf("%w: expected returns: %w", ErrInvalidRequest, err)
		}
	}
	lambda := req.RiskAversion
	if lambda < 0 || math.IsNaN(lambda) || math.IsInf(lambda, 0) {
		return nil, fmt.Errorf("%w: risk aversion %g", ErrInvalidRequest, lambda)
	}
	if lambda == 0 {
		lambda = 1
	}
	if t := req.TargetVariance; t != nil && (*t < 0 || math.IsNaN(*t) || math.IsInf(*t, 0)) {
		return nil, fmt.Errorf("%w: target variance %g", ErrInvalidRequest, *t)
	}

	set, err := o.setup(req.Policy, b)
	if err != nil {
		return nil, err
	}

	// 리스크 예산 탐색의 모든 실행이 하나의 시간 한도를 공유
	ctx, cancel := o.withTimeLimit(ctx)
	defer cancel()

	prog := program{
		preset:    PresetActiveVariance,
		set:       set,
		objective: activeObjective(b, req.ExpectedReturns, lambda),
		reference: b,
	}
	if req.TargetVariance != nil {
		return o.riskBudget(ctx, prog, b, req.ExpectedReturns, *req.TargetVariance)
	}
	return o.run(ctx, prog)
}

// activeObjective λ·(w−b)ᵀΣ(w−b) − μᵀw → P = 2λΣ, q = −2λΣb − μ
func activeObjective(b, mu []float64, lambda float64) objectiveFunc {
	return func(m *riskmodel.FactorRiskModel) (*mat.SymDense, []float64) {
		p := m.TotalCovariance()
		p.ScaleSym(2*lambda, p)

		var q []float64
		if b != nil {
			q = m.CovarianceMulVec(b)
			floats.Scale(-2*lambda, q)
		} else {
			q = make([]float64, m.NumAssets())
		}
		if mu != nil {
			floats.Sub(q, mu)
		}
		return p, q
	}
}

// setup 정책 → 제약 집합 (Setup 단계)
func (o *Optimizer) setup(p constraints.Policy, benchmark []float64) (*constraints.Set, error) {
	o.log.WithField("phase", PhaseSetup).Debug("building constraints")
	set, err := o.builder.Build(p, benchmark)
	if err != nil {
		o.log.WithField("phase", PhaseSetup).WithError(err).Warn("constraint pre-check failed")
		return nil, err
	}
	return set, nil
}

// =============================================================================
// Run: Setup → Solve → Result
// =============================================================================

func (o *Optimizer) run(ctx context.Context, prog program) (*Result, error) {
	ctx, cancel := o.withTimeLimit(ctx)
	defer cancel()

	start := time.Now()
	res := &Result{
		RunID:    uuid.NewString(),
		Preset:   prog.preset,
		Universe: o.model.Universe(),
	}
	log := o.log.WithFields(map[string]interface{}{
		"run_id": res.RunID,
		"preset": prog.preset,
	})

	// === Setup ===
	log.WithFields(map[string]interface{}{
		"phase":       PhaseSetup,
		"assets":      prog.set.N(),
		"constraints": prog.set.Len(),
	}).Debug("assembling problem")
	problem := assemble(o.model, prog)

	// === Solve ===
	sol, err := o.attempt(ctx, log, problem, o.cfg.Solver, res)
	if err != nil {
		return nil, err
	}
	if !sol.Status.Terminal() {
		// 수치 실패/반복 한도/시간 초과: ridge + 강화 설정으로 정확히 1회 재시도
		log.WithFields(map[string]interface{}{
			"solver_status": sol.Status,
			"ridge":         o.cfg.RidgeEpsilon,
		}).Warn("solver did not converge, retrying with ridge")
		res.Ridge = o.cfg.RidgeEpsilon
		problem = assemble(o.model.WithRidge(o.cfg.RidgeEpsilon), prog)
		if sol, err = o.attempt(ctx, log, problem, o.cfg.Solver.Tightened(), res); err != nil {
			return nil, err
		}
	}

	// === Result ===
	log.WithFields(map[string]interface{}{
		"phase":         PhaseResult,
		"solver_status": sol.Status,
	}).Debug("evaluating solver result")

	switch sol.Status {
	case solver.StatusOptimal:
	case solver.StatusInfeasible:
		return o.finish(log, res, StatusInfeasible, start,
			fmt.Errorf("%w: %s", ErrInfeasible, prog.preset))
	case solver.StatusUnbounded:
		return o.finish(log, res, StatusUnbounded, start,
			fmt.Errorf("%w: %s", ErrUnbounded, prog.preset))
	default:
		return o.finish(log, res, StatusNumericalFailure, start,
			fmt.Errorf("%w: solver status %s after %d attempts", ErrNumericalFailure, sol.Status, res.Attempts))
	}

	if err := o.verify(prog, sol, res); err != nil {
		return o.finish(log, res, StatusConstraintViolation, start, err)
	}
	return o.finish(log, res, StatusOptimal, start, nil)
}

// assemble 목적함수 + 제약 → solver.Problem
func assemble(m *riskmodel.FactorRiskModel, prog program) *solver.Problem {
	p, q := prog.objective(m)
	A, b := prog.set.Equality()
	G, h := prog.set.Inequality()
	lower, upper := prog.set.Bounds()
	return &solver.Problem{P: p, Q: q, A: A, B: b, G: G, H: h, Lower: lower, Upper: upper}
}

// withTimeLimit 솔버 시간 한도를 실행 전체(ridge 재시도 포함)에 적용
// 바깥 ctx 의 마감이 더 이르면 그대로 유지
func (o *Optimizer) withTimeLimit(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.Solver.TimeLimit <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.cfg.Solver.TimeLimit)
}

// remaining 남은 시간으로 opts.TimeLimit 축소, 남은 시간이 없으면 false
func remaining(ctx context.Context, opts solver.Options) (solver.Options, bool) {
	if ctx.Err() != nil {
		return opts, false
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return opts, true
	}
	left := time.Until(deadline)
	if left <= 0 {
		return opts, false
	}
	if opts.TimeLimit <= 0 || left < opts.TimeLimit {
		opts.TimeLimit = left
	}
	return opts, true
}

// attempt 솔버 1회 호출 (Solve 단계)
func (o *Optimizer) attempt(ctx context.Context, log *logger.Logger, p *solver.Problem, opts solver.Options, res *Result) (*solver.Solution, error) {
	res.Attempts++
	log = log.WithFields(map[string]interface{}{
		"phase":   PhaseSolve,
		"attempt": res.Attempts,
	})

	opts, ok := remaining(ctx, opts)
	if !ok {
		log.Warn("time limit exhausted, skipping solver")
		res.SolverStatus = solver.StatusTimeLimit
		return &solver.Solution{Status: solver.StatusTimeLimit}, nil
	}
	log.Debug("invoking solver")

	sol, err := o.solver.Solve(ctx, p, opts)
	if err != nil {
		return nil, fmt.Errorf("solve %s: %w", res.Preset, err)
	}
	if sol == nil {
		sol = &solver.Solution{Status: solver.StatusNumericalError}
	}
	res.SolverStatus = sol.Status
	res.Iterations += sol.Iterations
	return sol, nil
}

// verify 모든 제약/범위 재검사 후 리스크 분해 재계산
func (o *Optimizer) verify(prog program, sol *solver.Solution, res *Result) error {
	x := sol.X
	if err := o.model.CheckWeights(x); err != nil {
		res.Violations = []constraints.Violation{{Kind: constraints.KindCustom, Name: "solution", Residual: math.NaN()}}
		return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	}
	if v := prog.set.Check(x, o.cfg.VerifyTolerance); len(v) > 0 {
		res.Violations = v
		return fmt.Errorf("%w: %d violated, first %s", ErrConstraintViolation, len(v), v[0])
	}

	portfolio := append([]float64(nil), x...)
	if prog.offset != nil {
		floats.Add(portfolio, prog.offset)
	}
	active := append([]float64(nil), portfolio...)
	if prog.reference != nil {
		floats.Sub(active, prog.reference)
	}

	d, err := o.calc.Decompose(active)
	if err != nil {
		return fmt.Errorf("decompose %s result: %w", prog.preset, err)
	}

	res.Weights = append([]float64(nil), x...)
	res.Portfolio = portfolio
	res.Decomposition = d
	res.Objective = sol.Objective
	return nil
}

func (o *Optimizer) finish(log *logger.Logger, res *Result, status Status, start time.Time, err error) (*Result, error) {
	res.Status = status
	res.Duration = time.Since(start)

	fields := map[string]interface{}{
		"status":     status,
		"attempts":   res.Attempts,
		"iterations": res.Iterations,
		"elapsed_ms": res.Duration.Milliseconds(),
	}
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("optimization failed")
	} else {
		fields["total_risk"] = res.Decomposition.TotalRisk
		log.WithFields(fields).Info("optimization finished")
	}

	if o.observer != nil {
		o.observer.ObserveRun(res.Preset, status, res.Attempts, res.Duration)
	}
	return res, err
}

// =============================================================================
// Risk budget
// =============================================================================

// riskBudget variance ≤ target
//  1. 최소 분산 해가 target 초과 → Infeasible
//  2. 기대수익이 없으면 최소 분산 해 반환
//  3. 있으면 예산을 만족하는 가장 작은 λ 를 로그 스케일 이분 탐색
func (o *Optimizer) riskBudget(ctx context.Context, prog program, b, mu []float64, target float64) (*Result, error) {
	minVar := prog
	minVar.objective = activeObjective(b, nil, 1)
	res, err := o.run(ctx, minVar)
	if err != nil {
		return res, err
	}

	log := o.log.WithFields(map[string]interface{}{
		"run_id":          res.RunID,
		"target_variance": target,
	})
	if !o.withinBudget(res, target) {
		res.Status = StatusInfeasible
		log.WithField("min_variance", res.Decomposition.TotalVariance).Warn("risk budget below minimum attainable variance")
		return res, fmt.Errorf("%w: minimum attainable variance %g exceeds target %g",
			ErrInfeasible, res.Decomposition.TotalVariance, target)
	}
	if mu == nil {
		return res, nil
	}

	best, attempts := res, res.Attempts
	try := func(lambda float64) (*Result, bool, error) {
		p := prog
		p.objective = activeObjective(b, mu, lambda)
		r, err := o.run(ctx, p)
		if r != nil {
			attempts += r.Attempts
		}
		if err != nil {
			return nil, false, err
		}
		return r, o.withinBudget(r, target), nil
	}

	lo, hi := o.cfg.MinRiskAversion, o.cfg.MaxRiskAversion
	r, ok, err := try(lo)
	if err != nil {
		return nil, err
	}
	if ok {
		best = r
	} else {
		// var(λ) 는 λ 에 대해 비증가
		for step := 0; step < o.cfg.BudgetSteps; step++ {
			mid := math.Sqrt(lo * hi)
			r, ok, err := try(mid)
			if err != nil {
				return nil, err
			}
			if ok {
				best, hi = r, mid
			} else {
				lo = mid
			}
		}
	}

	best.Attempts = attempts
	log.WithFields(map[string]interface{}{
		"variance": best.Decomposition.TotalVariance,
		"attempts": attempts,
	}).Debug("risk budget search finished")
	return best, nil
}

func (o *Optimizer) withinBudget(res *Result, target float64) bool {
	return res.Decomposition.TotalVariance <= target+o.cfg.VerifyTolerance*math.Max(1, target)
}
