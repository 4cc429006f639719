package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/blaahhrrgg/equity-risk-model/internal/contracts"
	"github.com/blaahhrrgg/equity-risk-model/internal/engine"
	"github.com/blaahhrrgg/equity-risk-model/internal/portfolio"
	"github.com/blaahhrrgg/equity-risk-model/pkg/logger"
)

// RunReader 저장된 실행 조회 (선택)
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*portfolio.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]portfolio.RunRecord, error)
}

// RiskHandler handles risk model API endpoints
// ⭐ SSOT: 리스크 API 핸들러는 이 구조체에서만
type RiskHandler struct {
	engine *engine.Engine
	runs   RunReader
	logger *logger.Logger
}

// NewRiskHandler creates a new risk handler (runs 는 nil 가능)
func NewRiskHandler(e *engine.Engine, runs RunReader, log *logger.Logger) *RiskHandler {
	return &RiskHandler{
		engine: e,
		runs:   runs,
		logger: log,
	}
}

// ModelInfo 모델 메타데이터
type ModelInfo struct {
	Fingerprint  string              `json:"fingerprint"`
	Universe     []string            `json:"universe"`
	Factors      []string            `json:"factors"`
	FactorGroups map[string][]string `json:"factor_groups,omitempty"`
}

// GetModel returns the loaded model metadata
// GET /api/model
func (h *RiskHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	model := h.engine.Model()
	info := ModelInfo{
		Fingerprint: h.engine.Fingerprint(),
		Universe:    model.Universe(),
		Factors:     model.Factors(),
	}
	if groups := model.FactorGroups(); len(groups) > 0 {
		info.FactorGroups = make(map[string][]string, len(groups))
		factors := model.Factors()
		for _, g := range groups {
			idx, _ := model.FactorGroup(g)
			for _, i := range idx {
				info.FactorGroups[g] = append(info.FactorGroups[g], factors[i])
			}
		}
	}
	respondJSON(w, http.StatusOK, info)
}

// Risk decomposes portfolio risk
// POST /api/risk
func (h *RiskHandler) Risk(w http.ResponseWriter, r *http.Request) {
	var req contracts.RiskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}

	resp, err := h.engine.Risk(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Simulate runs a factor model Monte Carlo
// POST /api/simulate
func (h *RiskHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req contracts.SimulateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}

	res, err := h.engine.Simulate(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Optimize runs the optimizer for a policy
// POST /api/optimize
// 비최적 결과 (infeasible 등) 는 오류 상태 코드와 함께 전체 응답을 반환
func (h *RiskHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req contracts.OptimizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}

	resp, err := h.engine.Optimize(r.Context(), req)
	if err != nil {
		if resp == nil {
			h.fail(w, err)
			return
		}
		status, _ := errorStatus(err)
		respondJSON(w, status, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Tearsheet summarises several portfolios
// POST /api/tearsheet
func (h *RiskHandler) Tearsheet(w http.ResponseWriter, r *http.Request) {
	var req contracts.TearsheetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}

	resp, err := h.engine.Tearsheet(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListRuns returns recent optimization runs
// GET /api/runs?limit=50
func (h *RiskHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		respondError(w, http.StatusServiceUnavailable, "persistence_disabled", "run persistence is not configured")
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// GetRun returns a single optimization run with weights
// GET /api/runs/{id}
func (h *RiskHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		respondError(w, http.StatusServiceUnavailable, "persistence_disabled", "run persistence is not configured")
		return
	}

	run, err := h.runs.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// fail 오류 → 상태 코드, 5xx 만 error 로그
func (h *RiskHandler) fail(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("code", code).Error("request failed")
	} else {
		h.logger.WithError(err).WithField("code", code).Debug("request rejected")
	}
	respondError(w, status, code, err.Error())
}
