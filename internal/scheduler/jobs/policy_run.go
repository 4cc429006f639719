package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/blaahhrrgg/equity-risk-model/internal/contracts"
	"github.com/blaahhrrgg/equity-risk-model/internal/policy"
	"github.com/blaahhrrgg/equity-risk-model/pkg/logger"
)

// PolicyRunner 정책 실행자 (engine.Engine)
type PolicyRunner interface {
	RunPolicy(ctx context.Context, p *policy.Policy, portfolios policy.Portfolios, raw []byte) (*contracts.OptimizeResponse, error)
}

// PolicyRunJob 정해진 일정에 정책 최적화를 실행 (결과 저장은 엔진의 RunStore 가 담당)
// 비최적 종료 (infeasible 등) 는 재시도해도 같은 결과이므로 실패로 보지 않음
type PolicyRunJob struct {
	runner     PolicyRunner
	policy     *policy.Policy
	raw        []byte
	portfolios policy.Portfolios
	schedule   string
	logger     *logger.Logger

	mu   sync.Mutex
	last *contracts.OptimizeResponse
}

// NewPolicyRunJob creates a new scheduled policy run
func NewPolicyRunJob(runner PolicyRunner, p *policy.Policy, raw []byte, portfolios policy.Portfolios, schedule string, log *logger.Logger) *PolicyRunJob {
	if log == nil {
		log = logger.Nop()
	}
	return &PolicyRunJob{
		runner:     runner,
		policy:     p,
		raw:        raw,
		portfolios: portfolios,
		schedule:   schedule,
		logger:     log,
	}
}

// Name returns the job name
func (j *PolicyRunJob) Name() string {
	return "policy_run:" + j.policy.Meta.PolicyID
}

// Schedule returns the cron schedule
func (j *PolicyRunJob) Schedule() string {
	return j.schedule
}

// Last 마지막 실행 응답 (없으면 nil)
func (j *PolicyRunJob) Last() *contracts.OptimizeResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

// Run executes the optimization
func (j *PolicyRunJob) Run(ctx context.Context) error {
	resp, err := j.runner.RunPolicy(ctx, j.policy, j.portfolios, j.raw)
	if resp == nil {
		if err == nil {
			err = fmt.Errorf("policy %s: no result", j.policy.Meta.PolicyID)
		}
		return err
	}
	j.mu.Lock()
	j.last = resp
	j.mu.Unlock()

	log := j.logger.WithFields(map[string]interface{}{
		"policy_id": resp.PolicyID,
		"run_id":    resp.RunID,
		"status":    resp.Status,
		"attempts":  resp.Attempts,
	})
	if err != nil {
		log.WithError(err).Warn("Scheduled optimization did not reach optimal")
		return nil
	}
	log.Info("Scheduled optimization completed")
	return nil
}
