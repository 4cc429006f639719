package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
)

// counter 이름 + 라벨로 카운터 값 조회 (없으면 0)
func counter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun(optimizer.PresetActiveVariance, optimizer.StatusOptimal, 1, 10*time.Millisecond)
	m.ObserveRun(optimizer.PresetActiveVariance, optimizer.StatusOptimal, 2, 20*time.Millisecond)
	m.ObserveRun(optimizer.PresetActiveVariance, optimizer.StatusInfeasible, 1, time.Millisecond)

	assert.Equal(t, 2.0, counter(t, reg, "riskmodel_optimizer_runs_total",
		map[string]string{"preset": "active_variance", "status": "optimal"}))
	assert.Equal(t, 1.0, counter(t, reg, "riskmodel_optimizer_runs_total",
		map[string]string{"preset": "active_variance", "status": "infeasible"}))
	assert.Equal(t, 1.0, counter(t, reg, "riskmodel_optimizer_retries_total",
		map[string]string{"preset": "active_variance"}))
}

func TestObserveRiskAndCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRisk("decompose", nil)
	m.ObserveRisk("decompose", errors.New("boom"))
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)

	assert.Equal(t, 1.0, counter(t, reg, "riskmodel_risk_requests_total",
		map[string]string{"operation": "decompose", "outcome": "error"}))
	assert.Equal(t, 2.0, counter(t, reg, "riskmodel_cache_lookups_total",
		map[string]string{"result": "miss"}))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveHTTP(http.MethodPost, "/api/risk", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `riskmodel_http_requests_total{method="POST",route="/api/risk",status="200"} 1`), body)
}
