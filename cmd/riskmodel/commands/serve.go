package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/blaahhrrgg/equity-risk-model/internal/api"
	"github.com/blaahhrrgg/equity-risk-model/internal/api/handlers"
	"github.com/blaahhrrgg/equity-risk-model/internal/engine"
	"github.com/blaahhrrgg/equity-risk-model/internal/metrics"
	"github.com/blaahhrrgg/equity-risk-model/internal/portfolio"
	"github.com/blaahhrrgg/equity-risk-model/internal/scheduler"
	"github.com/blaahhrrgg/equity-risk-model/internal/scheduler/jobs"
	"github.com/blaahhrrgg/equity-risk-model/pkg/database"
	"github.com/blaahhrrgg/equity-risk-model/pkg/redis"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

선택 구성요소 (환경변수):
- DATABASE_URL   설정 시 최적화 실행 기록 저장 (PostgreSQL)
- REDIS_ENABLED  true 시 분해 결과 캐시 + 공유 rate limit
- METRICS_ENABLED true 시 /metrics 노출

Endpoints:
  GET  /health
  GET  /metrics
  GET  /api/model
  POST /api/risk
  POST /api/simulate
  POST /api/optimize
  POST /api/tearsheet
  GET  /api/runs
  GET  /api/runs/{id}

--schedule 과 --policy 를 함께 지정하면 정해진 일정에 정책 최적화를 실행하고
결과를 (DB 설정 시) 실행 기록에 저장합니다.

Example:
  go run ./cmd/riskmodel serve --model examples/model.yaml
  go run ./cmd/riskmodel serve --model examples/model.yaml --port 8080
  go run ./cmd/riskmodel serve --model examples/model.yaml \
    --schedule "0 0 18 * * 1-5" --policy examples/policy.yaml --portfolios examples/portfolios.yaml`,
	RunE: runServe,
}

var (
	servePort       string
	serveSchedule   string
	servePolicy     string
	servePortfolios string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	// Flags
	serveCmd.Flags().StringVar(&servePort, "port", "", "API 서버 포트 (기본: PORT)")
	serveCmd.Flags().StringVar(&serveSchedule, "schedule", "", "정책 최적화 cron 일정 (초 포함, 예: \"0 0 18 * * 1-5\")")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "예약 실행할 정책 YAML 파일/URL")
	serveCmd.Flags().StringVar(&servePortfolios, "portfolios", "", "예약 실행용 포트폴리오 YAML 파일/URL")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Config, logger, model
	rt, err := load(ctx)
	if err != nil {
		return err
	}
	cfg, log := rt.cfg, rt.log
	if servePort != "" {
		cfg.Port = servePort
	}

	// 2. Optional dependencies (DB, Redis, metrics)
	deps, err := connect(ctx, rt)
	if err != nil {
		return err
	}
	defer deps.close()

	// 3. Engine
	var opts []engine.Option
	if deps.metrics != nil {
		opts = append(opts, engine.WithMetrics(deps.metrics))
	}
	if deps.repo != nil {
		opts = append(opts, engine.WithStore(deps.repo))
	}
	if deps.cache.Enabled() {
		opts = append(opts, engine.WithCache(deps.cache))
	}
	if err := rt.build(opts...); err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"port":        cfg.Port,
		"env":         cfg.Env,
		"assets":      rt.model.NumAssets(),
		"factors":     rt.model.NumFactors(),
		"fingerprint": rt.engine.Fingerprint(),
		"persistence": deps.repo != nil,
		"cache":       deps.cache.Enabled(),
	}).Info("Initializing API server")

	// 4. Handler / router
	var runs handlers.RunReader
	if deps.repo != nil {
		runs = deps.repo
	}
	handler := handlers.NewRiskHandler(rt.engine, runs, log.WithComponent("handlers"))
	limiter := api.NewRateLimiter(cfg.API.RateLimit, cfg.API.RateBurst, deps.limiter, log)
	router := api.NewRouter(handler, deps.metrics, limiter, log)

	// 5. Scheduled policy runs
	sched, err := scheduleRuns(ctx, rt)
	if err != nil {
		return err
	}
	if sched != nil {
		sched.Start()
		defer sched.Stop()
	}

	// 6. Start server with graceful shutdown
	server := api.New(cfg, log, router)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "\n✅ Server running on http://localhost:%s\n", cfg.Port)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}

// scheduleRuns --schedule 설정 시 정책 실행 작업 등록 (없으면 nil)
func scheduleRuns(ctx context.Context, rt *runtime) (*scheduler.Scheduler, error) {
	if serveSchedule == "" {
		if servePolicy != "" {
			return nil, fmt.Errorf("--policy requires --schedule when serving")
		}
		return nil, nil
	}
	p, raw, err := rt.loadPolicy(ctx, servePolicy)
	if err != nil {
		return nil, err
	}
	ps, err := rt.loadPortfolios(ctx, servePortfolios, false)
	if err != nil {
		return nil, err
	}
	// 모델/포트폴리오 참조를 시작 시점에 확인
	if _, err := p.Request(rt.model, ps); err != nil {
		return nil, err
	}

	sched := scheduler.New(rt.log)
	job := jobs.NewPolicyRunJob(rt.engine, p, raw, ps, serveSchedule, rt.log.WithComponent("jobs"))
	if err := sched.AddJob(job); err != nil {
		return nil, err
	}
	return sched, nil
}

// serveDeps 선택 외부 의존성
type serveDeps struct {
	db      *database.DB
	repo    *portfolio.Repository
	redis   *redis.Client
	cache   *redis.Cache
	limiter *redis.RateLimiter
	metrics *metrics.Metrics
}

// connect DB / Redis / metrics 연결 (설정되지 않은 항목은 건너뜀)
func connect(ctx context.Context, rt *runtime) (*serveDeps, error) {
	cfg, log := rt.cfg, rt.log
	deps := &serveDeps{}

	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		deps.metrics = metrics.New(reg)
	}

	db, err := database.New(ctx, cfg.Database)
	switch {
	case errors.Is(err, database.ErrDisabled):
		log.Info("DATABASE_URL not set, run persistence disabled")
	case err != nil:
		return nil, fmt.Errorf("connect to database: %w", err)
	default:
		deps.db = db
		deps.repo = portfolio.NewRepository(db.Pool)
		if err := deps.repo.EnsureSchema(ctx); err != nil {
			deps.close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		log.Info("Connected to database")
	}

	rc, err := redis.New(cfg)
	if err != nil {
		deps.close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	deps.redis = rc
	deps.cache = redis.NewCache(rc, "riskmodel")
	deps.limiter = redis.NewRateLimiter(rc, "riskmodel:ratelimit")

	return deps, nil
}

func (d *serveDeps) close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	d.db.Close()
}
