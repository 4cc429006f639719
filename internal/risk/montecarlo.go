package risk

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// defaultPercentiles 결과에 기록할 백분위수
var defaultPercentiles = []int{1, 5, 10, 25, 50, 75, 90, 95, 99}

// Simulator 팩터 모델 Monte Carlo 시뮬레이터
// 팩터 수익률 F^{1/2}·z 와 종목 고유 충격 sqrt(s_i)·ε_i 를 독립적으로 샘플링
// student_t: 팩터 충격은 공통 χ² 스케일 (다변량 t), 고유 충격은 종목별 t
type Simulator struct {
	calc   *Calculator
	config SimulationConfig
}

// NewSimulator 새 시뮬레이터 생성
func NewSimulator(calc *Calculator, config SimulationConfig) (*Simulator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{calc: calc, config: config}, nil
}

// Simulate 포트폴리오 x 의 수익률 분포 시뮬레이션
// ctx 취소 시 중단 (1000 회마다 확인)
func (s *Simulator) Simulate(ctx context.Context, x []float64) (*SimulationResult, error) {
	model := s.calc.Model()
	if err := model.CheckWeights(x); err != nil {
		return nil, err
	}

	// a = Lᵀ(Eᵀx), LLᵀ = F → 팩터 수익 기여 = a·z
	a := factorLoadings(model.FactorCovariance(), model.FactorExposure(x))

	// b_i = x_i·sqrt(s_i)
	spec := model.SpecificVariance()
	b := make([]float64, len(x))
	for i := range x {
		b[i] = x[i] * math.Sqrt(spec[i])
	}

	seed := s.config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	rng := rand.New(src)

	var chi distuv.ChiSquared
	var tScale float64
	studentT := s.config.Distribution == DistributionStudentT
	if studentT {
		nu := s.config.DegreesOfFreedom
		chi = distuv.ChiSquared{K: nu, Src: src}
		// 단위 분산 t: sqrt(ν/χ²)·z·sqrt((ν−2)/ν) = z·sqrt((ν−2)/χ²)
		tScale = nu - 2
	}

	horizon := math.Sqrt(s.config.Horizon)
	returns := make([]float64, s.config.NumSimulations)

	for n := range returns {
		if n%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		var factorRet float64
		for _, aj := range a {
			factorRet += aj * rng.NormFloat64()
		}
		if studentT {
			factorRet *= math.Sqrt(tScale / chi.Rand())
		}

		var specificRet float64
		for _, bi := range b {
			if bi == 0 {
				continue
			}
			eps := rng.NormFloat64()
			if studentT {
				eps *= math.Sqrt(tScale / chi.Rand())
			}
			specificRet += bi * eps
		}

		returns[n] = horizon * (factorRet + specificRet)
	}

	return s.summarize(returns, model.Fingerprint()), nil
}

// summarize 시뮬레이션 결과 통계 계산
func (s *Simulator) summarize(returns []float64, modelHash string) *SimulationResult {
	sort.Float64s(returns)
	mean, std := stat.MeanStdDev(returns, nil)

	tail := make([]VaRResult, len(s.config.ConfidenceLevels))
	for i, cl := range s.config.ConfidenceLevels {
		tail[i] = EmpiricalVaR(returns, cl)
	}

	return &SimulationResult{
		RunID:       uuid.New().String(),
		RunDate:     time.Now(),
		Config:      s.config,
		ModelHash:   modelHash,
		MeanReturn:  mean,
		StdDev:      std,
		Tail:        tail,
		Percentiles: Percentiles(returns, defaultPercentiles),
	}
}

// factorLoadings Lᵀf, L = V·diag(sqrt(max(λ, 0)))
// 고유분해 기반이므로 준정부호(특이) 공분산에서도 동작
func factorLoadings(cov *mat.SymDense, f []float64) []float64 {
	k := len(f)
	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		// 분해 실패 시 대각 근사
		out := make([]float64, k)
		for j := range out {
			out[j] = f[j] * math.Sqrt(math.Max(cov.At(j, j), 0))
		}
		return out
	}

	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// (V·D)ᵀ f = D·Vᵀ f
	var vtf mat.VecDense
	vtf.MulVec(vecs.T(), mat.NewVecDense(k, f))

	out := make([]float64, k)
	for j := range out {
		out[j] = math.Sqrt(math.Max(values[j], 0)) * vtf.AtVec(j)
	}
	return out
}
