package portfolio

import (
	"errors"
	"math"
	"time"

	"github.com/blaahhrrgg/equity-risk-model/internal/contracts"
	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
)

// ErrNotFound 저장된 실행 없음
var ErrNotFound = errors.New("run not found")

// RunRecord 저장된 최적화 실행
// Weights 는 최적화 변수, Positions 는 최종 포트폴리오 (헤지 프리셋에서만 다름)
type RunRecord struct {
	RunID            string                    `json:"run_id"`
	Preset           string                    `json:"preset"`
	Status           string                    `json:"status"`
	SolverStatus     string                    `json:"solver_status"`
	Attempts         int                       `json:"attempts"`
	Iterations       int                       `json:"iterations"`
	Ridge            float64                   `json:"ridge"`
	Objective        *float64                  `json:"objective"`
	TotalVariance    *float64                  `json:"total_variance"`
	Violations       []contracts.ViolationView `json:"violations,omitempty"`
	PolicyHash       string                    `json:"policy_hash,omitempty"`
	ModelFingerprint string                    `json:"model_fingerprint"`
	DurationMs       int64                     `json:"duration_ms"`
	CreatedAt        time.Time                 `json:"created_at"`

	Weights   map[string]float64 `json:"weights,omitempty"`
	Positions map[string]float64 `json:"positions,omitempty"`
}

// NewRunRecord Result → 저장용 레코드
// 최적이 아닌 실행은 가중치 없이 상태만 기록
func NewRunRecord(res *optimizer.Result, policyHash, modelFingerprint string) RunRecord {
	rec := RunRecord{
		RunID:            res.RunID,
		Preset:           string(res.Preset),
		Status:           string(res.Status),
		SolverStatus:     string(res.SolverStatus),
		Attempts:         res.Attempts,
		Iterations:       res.Iterations,
		Ridge:            res.Ridge,
		Objective:        finiteOrNil(res.Objective),
		Violations:       contracts.NewViolationViews(res.Violations),
		PolicyHash:       policyHash,
		ModelFingerprint: modelFingerprint,
		DurationMs:       res.Duration.Milliseconds(),
	}
	if rec.Preset == "" {
		rec.Preset = string(optimizer.PresetActiveVariance)
	}
	if res.Decomposition != nil {
		rec.TotalVariance = finiteOrNil(res.Decomposition.TotalVariance)
	}
	if res.Status == optimizer.StatusOptimal && res.Portfolio != nil {
		rec.Weights = make(map[string]float64, len(res.Universe))
		rec.Positions = make(map[string]float64, len(res.Universe))
		for i, id := range res.Universe {
			rec.Weights[id] = res.Weights[i]
			rec.Positions[id] = res.Portfolio[i]
		}
	}
	return rec
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
