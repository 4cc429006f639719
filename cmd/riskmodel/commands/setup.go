package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/blaahhrrgg/equity-risk-model/internal/engine"
	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
	"github.com/blaahhrrgg/equity-risk-model/internal/policy"
	"github.com/blaahhrrgg/equity-risk-model/internal/risk"
	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
	"github.com/blaahhrrgg/equity-risk-model/internal/solver"
	"github.com/blaahhrrgg/equity-risk-model/pkg/config"
	"github.com/blaahhrrgg/equity-risk-model/pkg/httputil"
	"github.com/blaahhrrgg/equity-risk-model/pkg/logger"
)

// runtime 커맨드 공통 의존성
type runtime struct {
	cfg    *config.Config
	log    *logger.Logger
	fetch  *httputil.Client
	model  *riskmodel.FactorRiskModel
	engine *engine.Engine
}

// setup config → logger → model → engine
func setup(ctx context.Context, opts ...engine.Option) (*runtime, error) {
	rt, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if err := rt.build(opts...); err != nil {
		return nil, err
	}
	return rt, nil
}

// load config → logger → model
// CLI 는 기본적으로 warn 이상만 출력 (--verbose 시 debug)
func load(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	} else if cfg.LogLevel == "info" {
		cfg.LogLevel = "warn"
	}
	log := logger.New(cfg)

	if modelFile == "" {
		return nil, fmt.Errorf("--model is required")
	}
	fetch := httputil.New(log)
	data, err := readInput(ctx, fetch, modelFile)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	model, err := policy.ParseModel(data, riskmodel.WithTolerance(cfg.Risk.Tolerance))
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	return &runtime{cfg: cfg, log: log, fetch: fetch, model: model}, nil
}

// build 설정 기반 엔진 생성 (opts 는 설정 옵션 뒤에 적용)
func (rt *runtime) build(opts ...engine.Option) error {
	engineOpts, err := engineOptions(rt.cfg, rt.log)
	if err != nil {
		return err
	}
	engineOpts = append(engineOpts, opts...)
	rt.engine = engine.New(rt.model, solver.NewADMM(rt.log), engineOpts...)
	return nil
}

// engineOptions 설정 → 엔진 옵션
func engineOptions(cfg *config.Config, log *logger.Logger) ([]engine.Option, error) {
	measure, err := risk.ParseMeasure(cfg.Risk.ConcentrationMeasure)
	if err != nil {
		return nil, err
	}

	optCfg := optimizer.DefaultConfig()
	optCfg.RidgeEpsilon = cfg.Risk.RidgeEpsilon
	optCfg.Solver.MaxIterations = cfg.Solver.MaxIterations
	optCfg.Solver.EpsAbs = cfg.Solver.EpsAbs
	optCfg.Solver.EpsRel = cfg.Solver.EpsRel
	optCfg.Solver.TimeLimit = cfg.Solver.Timeout

	return []engine.Option{
		engine.WithLogger(log),
		engine.WithOptimizerConfig(optCfg),
		engine.WithMeasure(measure),
		engine.WithWorkers(cfg.Risk.Workers),
	}, nil
}

// readInput 로컬 파일 또는 http(s) URL
func readInput(ctx context.Context, fetch *httputil.Client, path string) ([]byte, error) {
	if httputil.IsURL(path) {
		return fetch.Fetch(ctx, path)
	}
	return os.ReadFile(path)
}

// loadPolicy --policy 파일/URL → 검증된 정책 + 원본 YAML
func (rt *runtime) loadPolicy(ctx context.Context, path string) (*policy.Policy, []byte, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("--policy is required")
	}
	data, err := readInput(ctx, rt.fetch, path)
	if err != nil {
		return nil, nil, fmt.Errorf("load policy: %w", err)
	}
	p, err := policy.ParsePolicy(data)
	if err != nil {
		return nil, data, fmt.Errorf("load policy: %w", err)
	}
	return p, data, nil
}

// loadPortfolios --portfolios 파일/URL (없으면 nil)
func (rt *runtime) loadPortfolios(ctx context.Context, path string, required bool) (policy.Portfolios, error) {
	if path == "" {
		if required {
			return nil, fmt.Errorf("--portfolios is required")
		}
		return nil, nil
	}
	data, err := readInput(ctx, rt.fetch, path)
	if err != nil {
		return nil, fmt.Errorf("load portfolios: %w", err)
	}
	ps, err := policy.ParsePortfolios(data)
	if err != nil {
		return nil, fmt.Errorf("load portfolios: %w", err)
	}
	return ps, nil
}
