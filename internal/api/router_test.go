package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaahhrrgg/equity-risk-model/internal/api/handlers"
	"github.com/blaahhrrgg/equity-risk-model/internal/contracts"
	"github.com/blaahhrrgg/equity-risk-model/internal/engine"
	"github.com/blaahhrrgg/equity-risk-model/internal/metrics"
	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
	"github.com/blaahhrrgg/equity-risk-model/internal/portfolio"
	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
	"github.com/blaahhrrgg/equity-risk-model/internal/solver"
	"github.com/blaahhrrgg/equity-risk-model/pkg/logger"
)

func testEngine(t *testing.T, exposures ...float64) *engine.Engine {
	t.Helper()
	rows := make([][]float64, len(exposures))
	for i, e := range exposures {
		rows[i] = []float64{e}
	}
	m, err := riskmodel.New(riskmodel.Input{
		Universe:         []string{"AAA", "BBB", "CCC"},
		Factors:          []string{"market"},
		Exposures:        rows,
		FactorCovariance: [][]float64{{0.04}},
		SpecificVariance: []float64{0.01, 0.01, 0.01},
		FactorGroups:     map[string][]string{"equity": {"market"}},
	})
	require.NoError(t, err)
	return engine.New(m, solver.NewADMM(nil))
}

// fakeRuns 메모리 실행 저장소
type fakeRuns struct {
	runs map[string]*portfolio.RunRecord
}

func (f *fakeRuns) GetRun(_ context.Context, id string) (*portfolio.RunRecord, error) {
	r, ok := f.runs[id]
	if !ok {
		return nil, portfolio.ErrNotFound
	}
	return r, nil
}

func (f *fakeRuns) ListRuns(_ context.Context, limit int) ([]portfolio.RunRecord, error) {
	out := make([]portfolio.RunRecord, 0, len(f.runs))
	for _, r := range f.runs {
		if len(out) == limit {
			break
		}
		out = append(out, *r)
	}
	return out, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const neutralPolicy = `{
	"policy": {
		"meta": {"policy_id": "neutral"},
		"neutral_factors": ["market"],
		"budget": 1,
		"default_bounds": {"lower": 0, "upper": 1}
	}
}`

func TestRouter_Endpoints(t *testing.T) {
	log := logger.Nop()
	runs := &fakeRuns{runs: map[string]*portfolio.RunRecord{
		"run-1": {RunID: "run-1", Preset: string(optimizer.PresetActiveVariance), Status: string(optimizer.StatusOptimal)},
	}}
	router := NewRouter(handlers.NewRiskHandler(testEngine(t, 1, 1, -1), runs, log), nil, nil, log)

	t.Run("health", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	})

	t.Run("model", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/api/model", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var info handlers.ModelInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
		assert.Equal(t, []string{"AAA", "BBB", "CCC"}, info.Universe)
		assert.Equal(t, []string{"market"}, info.FactorGroups["equity"])
		assert.Len(t, info.Fingerprint, 64)
	})

	t.Run("risk", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/risk", `{"weights": {"AAA": 0.5, "BBB": 0.5}}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp contracts.RiskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		// 0.04 + 0.01·0.5
		assert.InDelta(t, 0.045, resp.Decomposition.TotalVariance, 1e-12)
	})

	t.Run("risk rejects unknown fields", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/risk", `{"weights": {"AAA": 1}, "foo": 1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_request")
	})

	t.Run("risk rejects bad measure", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/risk", `{"weights": {"AAA": 1}, "measure": "variance"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("optimize", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/optimize", neutralPolicy)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp contracts.OptimizeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, optimizer.StatusOptimal, resp.Status)
		assert.InDelta(t, 0.5, resp.Portfolio["CCC"], 1e-5)
	})

	t.Run("invalid policy", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/optimize", `{"policy": {}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_policy")
	})

	t.Run("policy bound order conflicts", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/optimize",
			`{"policy": {"meta": {"policy_id": "p"}, "bounds": {"AAA": {"lower": 1, "upper": 0}}}}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "conflicting_constraints")
	})

	t.Run("tearsheet", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/tearsheet",
			`{"kind": "risk_summary", "portfolios": {"a": {"AAA": 1}, "b": {"BBB": 1}}}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp contracts.TearsheetResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"a", "b"}, resp.Portfolios)
		assert.Len(t, resp.Values, 3)
	})

	t.Run("runs", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/api/runs?limit=10", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "run-1")

		rec = do(t, router, http.MethodGet, "/api/runs/run-1", "")
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = do(t, router, http.MethodGet, "/api/runs/missing", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = do(t, router, http.MethodGet, "/api/runs?limit=0", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRouter_OptimizeInfeasible(t *testing.T) {
	log := logger.Nop()
	router := NewRouter(handlers.NewRiskHandler(testEngine(t, 1, 1, 1), nil, log), nil, nil, log)

	rec := do(t, router, http.MethodPost, "/api/optimize", neutralPolicy)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	var resp contracts.OptimizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, optimizer.StatusInfeasible, resp.Status)
	assert.Empty(t, resp.Portfolio)
	assert.NotEmpty(t, resp.Error)
}

func TestRouter_RunsDisabled(t *testing.T) {
	log := logger.Nop()
	router := NewRouter(handlers.NewRiskHandler(testEngine(t, 1, 1, 1), nil, log), nil, nil, log)

	rec := do(t, router, http.MethodGet, "/api/runs", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_Metrics(t *testing.T) {
	log := logger.Nop()
	m := metrics.New(prometheus.NewRegistry())
	router := NewRouter(handlers.NewRiskHandler(testEngine(t, 1, 1, 1), nil, log), m, nil, log)

	do(t, router, http.MethodGet, "/api/runs/abc", "")

	rec := do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	// 경로 변수 대신 라우트 템플릿으로 기록
	assert.Contains(t, rec.Body.String(), `route="/api/runs/{id}",status="503"`)
}

func TestRateLimiter(t *testing.T) {
	log := logger.Nop()
	limiter := NewRateLimiter(1, 1, nil, log)
	router := NewRouter(handlers.NewRiskHandler(testEngine(t, 1, 1, 1), nil, log), nil, limiter, log)

	rec := do(t, router, http.MethodGet, "/api/model", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/model", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// health 는 제한 대상 아님
	rec = do(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// 다른 클라이언트는 별도 버킷
	req := httptest.NewRequest(http.MethodGet, "/api/model", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_Prune(t *testing.T) {
	limiter := NewRateLimiter(10, 10, nil, logger.Nop())
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.local("a")
	now = now.Add(time.Hour)
	limiter.local("b")

	assert.Len(t, limiter.clients, 1)
	_, ok := limiter.clients["b"]
	assert.True(t, ok)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		fwd    string
		want   string
	}{
		{"remote addr", "192.0.2.1:1234", "", "192.0.2.1"},
		{"forwarded", "10.0.0.1:80", "198.51.100.7, 10.0.0.1", "198.51.100.7"},
		{"no port", "192.0.2.5", "", "192.0.2.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.fwd != "" {
				req.Header.Set("X-Forwarded-For", tt.fwd)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "internal"))
}
