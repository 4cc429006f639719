package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaahhrrgg/equity-risk-model/internal/contracts"
	"github.com/blaahhrrgg/equity-risk-model/internal/metrics"
	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
	"github.com/blaahhrrgg/equity-risk-model/internal/policy"
	"github.com/blaahhrrgg/equity-risk-model/internal/risk"
	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
	"github.com/blaahhrrgg/equity-risk-model/internal/solver"
	"github.com/blaahhrrgg/equity-risk-model/internal/tearsheet"
)

func singleFactorModel(t *testing.T, exposures ...float64) *riskmodel.FactorRiskModel {
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
	})
	require.NoError(t, err)
	return m
}

func neutralPolicy() policy.Policy {
	one := 1.0
	lo, hi := 0.0, 1.0
	return policy.Policy{
		Meta:           policy.Meta{PolicyID: "neutral"},
		NeutralFactors: []string{"market"},
		Budget:         &one,
		DefaultBounds:  &policy.BoundSpec{Lower: &lo, Upper: &hi},
	}
}

// fakeStore 저장 호출 기록
type fakeStore struct {
	mu        sync.Mutex
	snapshots []*policy.Snapshot
	runs      []*optimizer.Result
	hashes    []string
	err       error
}

func (s *fakeStore) SaveSnapshot(_ context.Context, snap *policy.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return s.err
}

func (s *fakeStore) SaveRun(_ context.Context, res *optimizer.Result, policyHash, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, res)
	s.hashes = append(s.hashes, policyHash)
	return nil
}

func TestRisk(t *testing.T) {
	model := singleFactorModel(t, 1, 1, 1)
	e := New(model, solver.NewADMM(nil))
	ctx := context.Background()

	t.Run("decomposition", func(t *testing.T) {
		resp, err := e.Risk(ctx, contracts.RiskRequest{
			Weights:    map[string]float64{"AAA": 0.5, "BBB": 0.3, "CCC": 0.2, "ZZZ": 0.1},
			Confidence: []float64{0.95},
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"ZZZ"}, resp.UnknownAssets)
		assert.Equal(t, e.Fingerprint(), resp.ModelFingerprint)
		assert.False(t, resp.Active)

		// 0.04 + 0.01·(0.25 + 0.09 + 0.04)
		d := resp.Decomposition
		assert.InDelta(t, 0.0438, d.TotalVariance, 1e-12)
		assert.InDelta(t, d.TotalVariance, d.FactorVariance+d.SpecificVariance, 1e-12)
		assert.InDelta(t, 0.2, resp.FactorRisks["market"], 1e-12)
		require.Len(t, resp.VaR, 1)
		assert.Greater(t, resp.VaR[0].VaR, 0.0)
	})

	t.Run("active", func(t *testing.T) {
		resp, err := e.Risk(ctx, contracts.RiskRequest{
			Weights:   map[string]float64{"AAA": 0.5, "BBB": 0.5},
			Benchmark: map[string]float64{"AAA": 0.5, "BBB": 0.5},
		})
		require.NoError(t, err)
		assert.True(t, resp.Active)
		assert.True(t, resp.Decomposition.Degenerate)
		assert.Nil(t, resp.Decomposition.Percent)
	})

	t.Run("measure override", func(t *testing.T) {
		resp, err := e.Risk(ctx, contracts.RiskRequest{
			Weights: map[string]float64{"AAA": 1},
			Measure: "effective_n",
		})
		require.NoError(t, err)
		assert.Equal(t, "effective_n", resp.Decomposition.Measure)
		require.NotNil(t, resp.Decomposition.Concentration)
		assert.InDelta(t, 1.0, *resp.Decomposition.Concentration, 1e-12)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := e.Risk(ctx, contracts.RiskRequest{})
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = e.Risk(ctx, contracts.RiskRequest{Weights: map[string]float64{"AAA": 1}, Measure: "variance"})
		assert.ErrorIs(t, err, risk.ErrUnknownMeasure)
	})
}

// memCache JSON 왕복하는 메모리 캐시
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
}

func (c *memCache) Enabled() bool { return true }

func (c *memCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(b, dest)
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = b
	return nil
}

func TestRisk_CacheHitKeepsRequestFlags(t *testing.T) {
	cache := &memCache{data: map[string][]byte{}}
	e := New(singleFactorModel(t, 1, 1, 1), solver.NewADMM(nil), WithCache(cache))
	ctx := context.Background()
	weights := map[string]float64{"AAA": 0.5, "BBB": 0.5}

	abs, err := e.Risk(ctx, contracts.RiskRequest{Weights: weights})
	require.NoError(t, err)
	assert.False(t, abs.Active)
	assert.False(t, abs.Cached)

	// 벤치마크 0 → 같은 x, 같은 키
	active, err := e.Risk(ctx, contracts.RiskRequest{
		Weights:   weights,
		Benchmark: map[string]float64{"AAA": 0, "ZZZ": 0.1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
	assert.True(t, active.Cached)
	assert.True(t, active.Active)
	assert.Equal(t, []string{"ZZZ"}, active.UnknownAssets)
	assert.InDelta(t, abs.Decomposition.TotalVariance, active.Decomposition.TotalVariance, 1e-15)

	again, err := e.Risk(ctx, contracts.RiskRequest{Weights: weights})
	require.NoError(t, err)
	assert.Equal(t, 2, cache.hits)
	assert.False(t, again.Active)
	assert.Empty(t, again.UnknownAssets)
}

func TestOptimize(t *testing.T) {
	ctx := context.Background()

	t.Run("optimal run is persisted", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		store := &fakeStore{}
		e := New(singleFactorModel(t, 1, 1, -1), solver.NewADMM(nil),
			WithStore(store), WithMetrics(metrics.New(reg)))

		resp, err := e.Optimize(ctx, contracts.OptimizeRequest{Policy: neutralPolicy()})
		require.NoError(t, err)

		assert.Equal(t, optimizer.StatusOptimal, resp.Status)
		assert.Equal(t, "neutral", resp.PolicyID)
		assert.Len(t, resp.PolicyHash, 64)
		assert.InDelta(t, 0.25, resp.Portfolio["AAA"], 1e-5)
		assert.InDelta(t, 0.5, resp.Portfolio["CCC"], 1e-5)
		require.NotNil(t, resp.Decomposition)
		assert.InDelta(t, 0.00375, resp.Decomposition.TotalVariance, 1e-6)

		require.Len(t, store.runs, 1)
		require.Len(t, store.snapshots, 1)
		assert.Equal(t, resp.RunID, store.runs[0].RunID)
		assert.Equal(t, resp.PolicyHash, store.hashes[0])
		assert.Equal(t, e.Fingerprint(), store.snapshots[0].ModelFingerprint)

		families, err := reg.Gather()
		require.NoError(t, err)
		var runs float64
		for _, mf := range families {
			if mf.GetName() == "riskmodel_optimizer_runs_total" {
				for _, m := range mf.GetMetric() {
					runs += m.GetCounter().GetValue()
				}
			}
		}
		assert.Equal(t, 1.0, runs)
	})

	t.Run("infeasible returns response and error", func(t *testing.T) {
		store := &fakeStore{}
		e := New(singleFactorModel(t, 1, 1, 1), solver.NewADMM(nil), WithStore(store))

		resp, err := e.Optimize(ctx, contracts.OptimizeRequest{Policy: neutralPolicy()})
		assert.ErrorIs(t, err, optimizer.ErrInfeasible)
		require.NotNil(t, resp)
		assert.Equal(t, optimizer.StatusInfeasible, resp.Status)
		assert.Nil(t, resp.Portfolio)
		assert.NotEmpty(t, resp.Error)
		assert.Len(t, store.runs, 1)
	})

	t.Run("store failure does not fail the run", func(t *testing.T) {
		store := &fakeStore{err: errors.New("db down")}
		e := New(singleFactorModel(t, 1, 1, -1), solver.NewADMM(nil), WithStore(store))

		resp, err := e.Optimize(ctx, contracts.OptimizeRequest{Policy: neutralPolicy()})
		require.NoError(t, err)
		assert.Equal(t, optimizer.StatusOptimal, resp.Status)
		assert.Empty(t, store.runs)
	})

	t.Run("invalid policy", func(t *testing.T) {
		e := New(singleFactorModel(t, 1, 1, -1), solver.NewADMM(nil))

		resp, err := e.Optimize(ctx, contracts.OptimizeRequest{Policy: policy.Policy{}})
		assert.Nil(t, resp)
		var ve policy.ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("unknown factor", func(t *testing.T) {
		e := New(singleFactorModel(t, 1, 1, -1), solver.NewADMM(nil))
		p := neutralPolicy()
		p.NeutralFactors = []string{"momentum"}

		resp, err := e.Optimize(ctx, contracts.OptimizeRequest{Policy: p})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, riskmodel.ErrUnknownIdentifier)
	})
}

func TestTearsheet(t *testing.T) {
	e := New(singleFactorModel(t, 1, 1, 1), solver.NewADMM(nil), WithWorkers(2))
	ctx := context.Background()

	resp, err := e.Tearsheet(ctx, contracts.TearsheetRequest{
		Kind: string(tearsheet.KindRiskSummary),
		Portfolios: map[string]map[string]float64{
			"long": {"AAA": 1},
			"zero": {"QQQ": 1},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"long", "zero"}, resp.Portfolios)
	assert.Equal(t, []string{"QQQ"}, resp.UnknownAssets)
	require.NotNil(t, resp.Values[0][0])
	assert.InDelta(t, 0.2236067977, *resp.Values[0][0], 1e-9) // sqrt(0.05)
	require.NotNil(t, resp.Values[0][1])
	assert.Equal(t, 0.0, *resp.Values[0][1])

	_, err = e.Tearsheet(ctx, contracts.TearsheetRequest{Kind: "sharpe", Portfolios: map[string]map[string]float64{"a": {"AAA": 1}}})
	assert.ErrorIs(t, err, tearsheet.ErrUnknownKind)

	_, err = e.Tearsheet(ctx, contracts.TearsheetRequest{Kind: "risk_summary"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSimulate(t *testing.T) {
	e := New(singleFactorModel(t, 1, 1, 1), solver.NewADMM(nil))

	res, err := e.Simulate(context.Background(), contracts.SimulateRequest{
		Weights: map[string]float64{"AAA": 0.5, "BBB": 0.5, "ZZZ": 0.2},
		Config:  risk.SimulationConfig{NumSimulations: 2000, Seed: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ZZZ"}, res.UnknownAssets)
	assert.Equal(t, 2000, res.Config.NumSimulations)
	assert.Len(t, res.Tail, 2)
	// σ = sqrt(0.04 + 0.005) ≈ 0.212
	assert.InDelta(t, 0.212, res.StdDev, 0.02)

	_, err = e.Simulate(context.Background(), contracts.SimulateRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
