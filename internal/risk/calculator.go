package risk

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
	"github.com/blaahhrrgg/equity-risk-model/pkg/logger"
)

// =============================================================================
// Calculator - 순수 계산기
// =============================================================================

// Calculator 팩터 모델 기반 리스크 계산기
// ⭐ SSOT: 모델과 가중치만 입력으로 받는 순수 계산 (공유 가변 상태 없음)
// 동시 호출 안전 - 여러 포트폴리오를 같은 모델로 병렬 평가 가능
type Calculator struct {
	model   *riskmodel.FactorRiskModel
	tol     float64
	measure Measure
	log     *logger.Logger
}

// CalculatorOption 계산기 옵션
type CalculatorOption func(*Calculator)

// WithLogger 로거 지정 (기본: Nop)
func WithLogger(log *logger.Logger) CalculatorOption {
	return func(c *Calculator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMeasure Decompose 에서 사용할 집중도 지표
func WithMeasure(m Measure) CalculatorOption {
	return func(c *Calculator) { c.measure = m }
}

// WithTolerance 음수 분산 판정 허용오차 (기본: 모델 허용오차)
func WithTolerance(tol float64) CalculatorOption {
	return func(c *Calculator) {
		if tol > 0 {
			c.tol = tol
		}
	}
}

// NewCalculator 새 계산기 생성
func NewCalculator(model *riskmodel.FactorRiskModel, opts ...CalculatorOption) *Calculator {
	c := &Calculator{
		model:   model,
		tol:     model.Tolerance(),
		measure: DefaultMeasure,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithComponent("risk")
	return c
}

// Model 계산기가 사용하는 모델
func (c *Calculator) Model() *riskmodel.FactorRiskModel { return c.model }

// Measure 기본 집중도 지표
func (c *Calculator) Measure() Measure { return c.measure }

// =============================================================================
// Variance
// =============================================================================

// parts 팩터/고유 분산
// 팩터 분산은 f = Eᵀx 를 먼저 구한 뒤 fᵀFf (N×N 미생성, O(NK + K²))
func (c *Calculator) parts(x []float64) (factorVar, specificVar float64, f []float64, err error) {
	if err := c.model.CheckWeights(x); err != nil {
		return 0, 0, nil, err
	}

	f = c.model.FactorExposure(x)
	factorVar = c.model.FactorQuadForm(f)

	// 허용오차 내 음수는 PSD 경계의 반올림 오차 → 0
	if factorVar < 0 {
		scale := math.Max(1, floats.Dot(f, f))
		if factorVar < -c.tol*scale {
			return 0, 0, nil, fmt.Errorf("%w: factor variance %g is negative", ErrNumericalError, factorVar)
		}
		factorVar = 0
	}

	s := c.model.SpecificVariance()
	for i, xi := range x {
		specificVar += xi * xi * s[i]
	}

	return factorVar, specificVar, f, nil
}

// Variance 총 분산 xᵀEFEᵀx + Σ x_i² s_i
func (c *Calculator) Variance(x []float64) (float64, error) {
	fv, sv, _, err := c.parts(x)
	if err != nil {
		return 0, err
	}
	return fv + sv, nil
}

// FactorVariance 팩터 분산 xᵀEFEᵀx
func (c *Calculator) FactorVariance(x []float64) (float64, error) {
	fv, _, _, err := c.parts(x)
	return fv, err
}

// SpecificVariance 고유 분산 Σ x_i² s_i
func (c *Calculator) SpecificVariance(x []float64) (float64, error) {
	_, sv, _, err := c.parts(x)
	return sv, err
}

// Volatility sqrt(Variance)
func (c *Calculator) Volatility(x []float64) (float64, error) {
	v, err := c.Variance(x)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(v), nil
}

// Active 액티브 가중치 w - b
func (c *Calculator) Active(w, b []float64) ([]float64, error) {
	if err := c.model.CheckWeights(w); err != nil {
		return nil, err
	}
	if err := c.model.CheckWeights(b); err != nil {
		return nil, fmt.Errorf("benchmark: %w", err)
	}
	x := make([]float64, len(w))
	floats.SubTo(x, w, b)
	return x, nil
}

// =============================================================================
// Contributions
// =============================================================================

// MarginalContribution Euler 기여 g_i = x_i · (Σx)_i
// 분산은 x 에 대해 2차 동차이므로 x·∇var = 2·var → g = ½ x ∘ ∇var, sum(g) == var
func (c *Calculator) MarginalContribution(x []float64) ([]float64, error) {
	if _, _, _, err := c.parts(x); err != nil {
		return nil, err
	}
	g := c.model.CovarianceMulVec(x)
	floats.Mul(g, x)
	return g, nil
}

// PercentContribution g / variance
// 변동성이 허용오차 미만이면 NaN 벡터 + Degenerate (경고 로그)
func (c *Calculator) PercentContribution(x []float64) (PercentContribution, error) {
	g, err := c.MarginalContribution(x)
	if err != nil {
		return PercentContribution{}, err
	}
	v, err := c.Variance(x)
	if err != nil {
		return PercentContribution{}, err
	}
	return c.percent(g, v), nil
}

func (c *Calculator) percent(g []float64, variance float64) PercentContribution {
	out := make([]float64, len(g))
	if c.degenerate(variance) {
		for i := range out {
			out[i] = math.NaN()
		}
		c.log.WithField("variance", variance).Warn("percent contribution undefined for near-zero variance")
		return PercentContribution{Values: out, Degenerate: true}
	}
	floats.ScaleTo(out, 1/variance, g)
	return PercentContribution{Values: out}
}

func (c *Calculator) degenerate(variance float64) bool {
	return variance <= c.tol*c.tol
}

// Concentration 지정 지표로 집중도 계산
func (c *Calculator) Concentration(x []float64, measure Measure) (float64, error) {
	pct, err := c.PercentContribution(x)
	if err != nil {
		return 0, err
	}
	return Concentration(pct.Values, measure)
}

// Decompose 전체 리스크 분해 (분산, 기여도, 집중도, 팩터 노출)
func (c *Calculator) Decompose(x []float64) (*Decomposition, error) {
	fv, sv, f, err := c.parts(x)
	if err != nil {
		return nil, err
	}

	total := fv + sv
	g := c.model.CovarianceMulVec(x)
	floats.Mul(g, x)
	pct := c.percent(g, total)

	conc, err := Concentration(pct.Values, c.measure)
	if err != nil {
		return nil, err
	}

	return &Decomposition{
		TotalVariance:    total,
		FactorVariance:   fv,
		SpecificVariance: sv,
		TotalRisk:        math.Sqrt(total),
		FactorRisk:       math.Sqrt(fv),
		SpecificRisk:     math.Sqrt(sv),
		Marginal:         g,
		Percent:          pct.Values,
		Degenerate:       pct.Degenerate,
		Measure:          c.measure,
		Concentration:    conc,
		Exposure:         f,
	}, nil
}

// =============================================================================
// Risk units (volatility)
// =============================================================================

// Breakdown 총/팩터/고유 리스크 (변동성 단위)
func (c *Calculator) Breakdown(x []float64) (Breakdown, error) {
	fv, sv, _, err := c.parts(x)
	if err != nil {
		return Breakdown{}, err
	}
	return Breakdown{
		Total:    math.Sqrt(fv + sv),
		Factor:   math.Sqrt(fv),
		Specific: math.Sqrt(sv),
	}, nil
}

// FactorRisks 팩터별 단독 리스크 sign(e_f)·sqrt(e_f²·F_ff)
// 부호는 포트폴리오 노출 방향
func (c *Calculator) FactorRisks(x []float64) ([]float64, error) {
	if err := c.model.CheckWeights(x); err != nil {
		return nil, err
	}
	f := c.model.FactorExposure(x)
	floats.Mul(f, c.model.FactorVolatilities())
	return f, nil
}

// FactorRiskCovariance 팩터 간 공분산에 기인한 리스크
// signed sqrt(factor variance - Σ factor risk²)
func (c *Calculator) FactorRiskCovariance(x []float64) (float64, error) {
	fv, err := c.FactorVariance(x)
	if err != nil {
		return 0, err
	}
	fr, err := c.FactorRisks(x)
	if err != nil {
		return 0, err
	}
	return signedSqrt(fv - floats.Dot(fr, fr)), nil
}

// FactorGroupRisks 그룹별 리스크 sqrt(f_Gᵀ F_GG f_G)
func (c *Calculator) FactorGroupRisks(x []float64) (map[string]float64, error) {
	if err := c.model.CheckWeights(x); err != nil {
		return nil, err
	}
	f := c.model.FactorExposure(x)
	cov := c.model.FactorCovariance()

	out := make(map[string]float64, len(c.model.FactorGroups()))
	for _, name := range c.model.FactorGroups() {
		idx, _ := c.model.FactorGroup(name)
		var v float64
		for _, a := range idx {
			for _, b := range idx {
				v += f[a] * cov.At(a, b) * f[b]
			}
		}
		out[name] = math.Sqrt(math.Max(v, 0))
	}
	return out, nil
}

// FactorGroupCovariance 그룹 간 공분산에 기인한 리스크
// signed sqrt(factor variance - Σ group risk²)
func (c *Calculator) FactorGroupCovariance(x []float64) (float64, error) {
	fv, err := c.FactorVariance(x)
	if err != nil {
		return 0, err
	}
	groups, err := c.FactorGroupRisks(x)
	if err != nil {
		return 0, err
	}
	d := fv
	for _, r := range groups {
		d -= r * r
	}
	return signedSqrt(d), nil
}

// =============================================================================
// Marginal contributions in risk units (MCTR family)
// 리스크가 0이면 NaN (기여도 정규화 불가)
// =============================================================================

// MarginalContributionToTotalRisk x_i·(Σx)_i / σ, 합계 = σ
func (c *Calculator) MarginalContributionToTotalRisk(x []float64) ([]float64, error) {
	g, err := c.MarginalContribution(x)
	if err != nil {
		return nil, err
	}
	v, err := c.Variance(x)
	if err != nil {
		return nil, err
	}
	return scaleOrNaN(g, math.Sqrt(v)), nil
}

// MarginalContributionToFactorRisk x_i·(EFEᵀx)_i / σ_f, 합계 = σ_f
func (c *Calculator) MarginalContributionToFactorRisk(x []float64) ([]float64, error) {
	fv, err := c.FactorVariance(x)
	if err != nil {
		return nil, err
	}
	g := c.model.FactorCovarianceMulVec(x)
	floats.Mul(g, x)
	return scaleOrNaN(g, math.Sqrt(fv)), nil
}

// MarginalContributionToSpecificRisk x_i²·s_i / σ_s, 합계 = σ_s
func (c *Calculator) MarginalContributionToSpecificRisk(x []float64) ([]float64, error) {
	sv, err := c.SpecificVariance(x)
	if err != nil {
		return nil, err
	}
	g := c.model.SpecificVariance()
	floats.Mul(g, x)
	floats.Mul(g, x)
	return scaleOrNaN(g, math.Sqrt(sv)), nil
}

// MarginalContributionsToFactorRisks N×K 행렬, [i, j] = 종목 i 의 팩터 j 리스크 기여
// x_i·E_ij·F_jj·e_j / (e_j·sqrt(F_jj)) = x_i·E_ij·sqrt(F_jj), 열 합계 = FactorRisks
func (c *Calculator) MarginalContributionsToFactorRisks(x []float64) (*mat.Dense, error) {
	if err := c.model.CheckWeights(x); err != nil {
		return nil, err
	}
	vols := c.model.FactorVolatilities()
	out := c.model.Exposures()
	out.Apply(func(i, j int, v float64) float64 {
		return x[i] * v * vols[j]
	}, out)
	return out, nil
}

// EffectiveNumberOfCorrelatedBets MCTR/σ 의 ENC (alpha=2)
func (c *Calculator) EffectiveNumberOfCorrelatedBets(x []float64) (float64, error) {
	mctr, err := c.MarginalContributionToTotalRisk(x)
	if err != nil {
		return 0, err
	}
	return ENC(normalize(mctr), 2)
}

// EffectiveNumberOfUncorrelatedBets MCSR/σ_s 의 ENC (alpha=2)
func (c *Calculator) EffectiveNumberOfUncorrelatedBets(x []float64) (float64, error) {
	mcsr, err := c.MarginalContributionToSpecificRisk(x)
	if err != nil {
		return 0, err
	}
	return ENC(normalize(mcsr), 2)
}

// =============================================================================
// Weights reindexing
// =============================================================================

// WeightsFromMap 종목 식별자 맵 → 유니버스 순서 벡터
// 유니버스에 없는 종목은 0, 모델에 없는 종목은 반환 + 경고 로그
func (c *Calculator) WeightsFromMap(weights map[string]float64) ([]float64, []string) {
	x := make([]float64, c.model.NumAssets())
	var unknown []string
	for id, w := range weights {
		i, ok := c.model.AssetIndex(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		x[i] = w
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		c.log.WithField("tickers", unknown).Warn("tickers not in model universe")
	}
	return x, unknown
}

// =============================================================================
// helpers
// =============================================================================

func signedSqrt(v float64) float64 {
	if v < 0 {
		return -math.Sqrt(-v)
	}
	return math.Sqrt(v)
}

func scaleOrNaN(g []float64, denom float64) []float64 {
	if denom == 0 {
		for i := range g {
			g[i] = math.NaN()
		}
		return g
	}
	floats.Scale(1/denom, g)
	return g
}

// normalize v / Σv (합계 0 이면 NaN 전파)
func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	floats.ScaleTo(out, 1/floats.Sum(v), v)
	return out
}
