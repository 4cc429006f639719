package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/blaahhrrgg/equity-risk-model/internal/contracts"
	"github.com/blaahhrrgg/equity-risk-model/internal/metrics"
	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
	"github.com/blaahhrrgg/equity-risk-model/internal/policy"
	"github.com/blaahhrrgg/equity-risk-model/internal/risk"
	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
	"github.com/blaahhrrgg/equity-risk-model/internal/solver"
	"github.com/blaahhrrgg/equity-risk-model/internal/tearsheet"
	"github.com/blaahhrrgg/equity-risk-model/pkg/logger"
	"github.com/blaahhrrgg/equity-risk-model/pkg/redis"
)

// ErrInvalidInput 요청 형식 오류 (모델/정책과 무관한 입력 문제)
var ErrInvalidInput = errors.New("invalid input")

// RunStore 최적화 실행 기록 저장소 (선택)
type RunStore interface {
	SaveSnapshot(ctx context.Context, snap *policy.Snapshot) error
	SaveRun(ctx context.Context, res *optimizer.Result, policyHash, modelFingerprint string) error
}

// ResultCache 분해 결과 캐시 (redis.Cache 가 구현, 비활성이면 항상 miss)
type ResultCache interface {
	Enabled() bool
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Engine 모델 하나에 대한 리스크/최적화/tear sheet 조율
// ⭐ SSOT: API 와 CLI 는 모두 Engine 을 통해 코어를 호출
// 요청 간 공유 가변 상태 없음 (동시 호출 안전)
type Engine struct {
	model       *riskmodel.FactorRiskModel
	fingerprint string
	calc        *risk.Calculator
	opt         *optimizer.Optimizer

	optCfg  optimizer.Config
	measure risk.Measure
	workers int
	cache   ResultCache
	store   RunStore
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// Option 엔진 옵션
type Option func(*Engine)

// WithLogger 로거 지정
func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.logger = log
		}
	}
}

// WithOptimizerConfig 옵티마이저 설정
func WithOptimizerConfig(cfg optimizer.Config) Option {
	return func(e *Engine) { e.optCfg = cfg }
}

// WithMeasure 기본 집중도 지표
func WithMeasure(m risk.Measure) Option {
	return func(e *Engine) { e.measure = m }
}

// WithWorkers tear sheet 병렬 평가 수
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithCache 분해 결과 캐시
func WithCache(c ResultCache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithStore 실행 기록 저장소
func WithStore(s RunStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithMetrics Prometheus 수집기
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New 엔진 생성
func New(model *riskmodel.FactorRiskModel, s solver.Solver, opts ...Option) *Engine {
	e := &Engine{
		model:       model,
		fingerprint: model.Fingerprint(),
		optCfg:      optimizer.DefaultConfig(),
		measure:     risk.DefaultMeasure,
		workers:     4,
		cache:       redis.NewCache(nil, "riskmodel"),
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("engine")

	e.calc = e.calculator(e.measure)

	optOpts := []optimizer.Option{
		optimizer.WithConfig(e.optCfg),
		optimizer.WithLogger(e.logger),
		optimizer.WithMeasure(e.measure),
	}
	if e.metrics != nil {
		optOpts = append(optOpts, optimizer.WithObserver(e.metrics))
	}
	e.opt = optimizer.New(model, s, optOpts...)
	return e
}

// Model 대상 모델
func (e *Engine) Model() *riskmodel.FactorRiskModel { return e.model }

// Fingerprint 모델 지문
func (e *Engine) Fingerprint() string { return e.fingerprint }

func (e *Engine) calculator(m risk.Measure) *risk.Calculator {
	return risk.NewCalculator(e.model, risk.WithMeasure(m), risk.WithLogger(e.logger))
}

// =============================================================================
// Risk
// =============================================================================

// Risk 포트폴리오 리스크 분해 (Benchmark 가 있으면 액티브)
// 결과는 모델 지문 + 가중치 해시로 캐시
func (e *Engine) Risk(ctx context.Context, req contracts.RiskRequest) (resp *contracts.RiskResponse, err error) {
	defer func() { e.observe("risk", err) }()

	if len(req.Weights) == 0 {
		return nil, fmt.Errorf("%w: weights are required", ErrInvalidInput)
	}

	calc := e.calc
	if req.Measure != "" {
		m, err := risk.ParseMeasure(req.Measure)
		if err != nil {
			return nil, err
		}
		calc = e.calculator(m)
	}

	x, unknown := calc.WeightsFromMap(req.Weights)
	active := len(req.Benchmark) > 0
	if active {
		b, unknownB := calc.WeightsFromMap(req.Benchmark)
		unknown = mergeUnknown(unknown, unknownB)
		if x, err = calc.Active(x, b); err != nil {
			return nil, err
		}
	}

	key := redis.DecompositionKey(e.fingerprint, string(calc.Measure()), x)
	cacheable := len(req.Confidence) == 0
	if cacheable {
		var cached contracts.RiskResponse
		found, err := e.cache.Get(ctx, key, &cached)
		if err != nil {
			e.logger.WithError(err).Warn("cache lookup failed")
		}
		if e.cache.Enabled() && e.metrics != nil {
			e.metrics.ObserveCache(found)
		}
		if found {
			// 키는 x 만 반영: 같은 x 라도 요청마다 액티브 여부가 다를 수 있음
			cached.Cached = true
			cached.Active = active
			cached.UnknownAssets = unknown
			return &cached, nil
		}
	}

	resp, err = e.decompose(calc, x, req)
	if err != nil {
		return nil, err
	}
	resp.Active = active

	if cacheable {
		if err := e.cache.Set(ctx, key, resp, redis.TTLMedium); err != nil {
			e.logger.WithError(err).Warn("cache store failed")
		}
	}
	resp.UnknownAssets = unknown
	return resp, nil
}

func (e *Engine) decompose(calc *risk.Calculator, x []float64, req contracts.RiskRequest) (*contracts.RiskResponse, error) {
	d, err := calc.Decompose(x)
	if err != nil {
		return nil, err
	}
	breakdown, err := calc.Breakdown(x)
	if err != nil {
		return nil, err
	}
	fr, err := calc.FactorRisks(x)
	if err != nil {
		return nil, err
	}

	resp := &contracts.RiskResponse{
		ModelFingerprint: e.fingerprint,
		Decomposition:    contracts.NewDecompositionView(e.model, d),
		Breakdown:        breakdown,
		FactorRisks:      contracts.Keyed(e.model.Factors(), fr),
	}

	if len(e.model.FactorGroups()) > 0 {
		if resp.GroupRisks, err = calc.FactorGroupRisks(x); err != nil {
			return nil, err
		}
	}

	horizon := req.Horizon
	if horizon == 0 {
		horizon = 1
	}
	for _, c := range req.Confidence {
		v, err := calc.VaR(x, horizon, c)
		if err != nil {
			return nil, err
		}
		resp.VaR = append(resp.VaR, v)
	}
	return resp, nil
}

// Simulate 팩터 모델 Monte Carlo
func (e *Engine) Simulate(ctx context.Context, req contracts.SimulateRequest) (resp *contracts.SimulateResponse, err error) {
	defer func() { e.observe("simulate", err) }()

	if len(req.Weights) == 0 {
		return nil, fmt.Errorf("%w: weights are required", ErrInvalidInput)
	}
	sim, err := risk.NewSimulator(e.calc, req.Merge(risk.DefaultSimulationConfig()))
	if err != nil {
		return nil, err
	}
	x, unknown := e.calc.WeightsFromMap(req.Weights)
	res, err := sim.Simulate(ctx, x)
	if err != nil {
		return nil, err
	}
	return &contracts.SimulateResponse{SimulationResult: res, UnknownAssets: unknown}, nil
}

// =============================================================================
// Optimize
// =============================================================================

// Optimize 정책 + 포트폴리오 → 최적화 실행
// 솔버가 실행된 경우 응답은 항상 반환 (비최적 상태면 에러와 함께)
func (e *Engine) Optimize(ctx context.Context, req contracts.OptimizeRequest) (*contracts.OptimizeResponse, error) {
	p := req.Policy
	if err := policy.Validate(&p); err != nil {
		return nil, err
	}
	if len(req.Portfolios) > 0 {
		if err := policy.ValidatePortfolios(req.Portfolios); err != nil {
			return nil, err
		}
	}
	return e.RunPolicy(ctx, &p, req.Portfolios, nil)
}

// RunPolicy 검증된 정책 실행 (raw 는 감사용 원본 YAML, 없으면 nil)
func (e *Engine) RunPolicy(ctx context.Context, p *policy.Policy, portfolios policy.Portfolios, raw []byte) (*contracts.OptimizeResponse, error) {
	preq, err := p.Request(e.model, portfolios)
	if err != nil {
		return nil, err
	}
	hash, err := policy.Hash(p)
	if err != nil {
		return nil, err
	}

	res, runErr := e.opt.Run(ctx, preq)
	if res == nil {
		return nil, runErr
	}

	e.persist(ctx, p, raw, res)

	resp := contracts.NewOptimizeResponse(e.model, res, runErr)
	resp.PolicyID = p.Meta.PolicyID
	resp.PolicyHash = hash
	return &resp, runErr
}

// persist 저장 실패는 결과에 영향 없음 (경고 로그)
func (e *Engine) persist(ctx context.Context, p *policy.Policy, raw []byte, res *optimizer.Result) {
	if e.store == nil {
		return
	}
	log := e.logger.WithField("run_id", res.RunID)

	snap, err := policy.NewSnapshot(p, raw, e.fingerprint)
	if err != nil {
		log.WithError(err).Warn("failed to build policy snapshot")
		return
	}
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		log.WithError(err).Warn("failed to save policy snapshot")
		return
	}
	if err := e.store.SaveRun(ctx, res, snap.PolicyHash, e.fingerprint); err != nil {
		log.WithError(err).Warn("failed to save optimization run")
	}
}

// =============================================================================
// Tear sheet
// =============================================================================

// Tearsheet 여러 포트폴리오 요약 표
func (e *Engine) Tearsheet(ctx context.Context, req contracts.TearsheetRequest) (resp *contracts.TearsheetResponse, err error) {
	defer func() { e.observe("tearsheet", err) }()

	kind, err := tearsheet.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	if len(req.Portfolios) == 0 {
		return nil, fmt.Errorf("%w: portfolios are required", ErrInvalidInput)
	}

	vectors := make(map[string][]float64, len(req.Portfolios))
	var unknown []string
	for name, weights := range req.Portfolios {
		x, u := e.calc.WeightsFromMap(weights)
		vectors[name] = x
		unknown = mergeUnknown(unknown, u)
	}

	ts, err := tearsheet.Build(ctx, e.calc, vectors, kind, e.workers)
	if err != nil {
		return nil, err
	}
	out := contracts.NewTearsheetResponse(ts)
	out.UnknownAssets = unknown
	return &out, nil
}

func (e *Engine) observe(operation string, err error) {
	if e.metrics != nil {
		e.metrics.ObserveRisk(operation, err)
	}
}

// mergeUnknown 정렬된 합집합
func mergeUnknown(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, id := range append(append([]string{}, a...), b...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
