package contracts

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaahhrrgg/equity-risk-model/internal/constraints"
	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
	"github.com/blaahhrrgg/equity-risk-model/internal/risk"
	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
	"github.com/blaahhrrgg/equity-risk-model/internal/solver"
	"github.com/blaahhrrgg/equity-risk-model/internal/tearsheet"
)

func testModel(t *testing.T) *riskmodel.FactorRiskModel {
	t.Helper()
	m, err := riskmodel.New(riskmodel.Input{
		Universe:         []string{"AAA", "BBB", "CCC"},
		Factors:          []string{"market"},
		Exposures:        [][]float64{{1}, {1}, {1}},
		FactorCovariance: [][]float64{{0.04}},
		SpecificVariance: []float64{0.01, 0.01, 0.01},
	})
	require.NoError(t, err)
	return m
}

func TestNewDecompositionView(t *testing.T) {
	model := testModel(t)
	calc := risk.NewCalculator(model)

	t.Run("regular", func(t *testing.T) {
		d, err := calc.Decompose([]float64{0.5, 0.3, 0.2})
		require.NoError(t, err)

		v := NewDecompositionView(model, d)
		assert.Len(t, v.Percent, 3)
		assert.InDelta(t, d.Percent[0], v.Percent["AAA"], 1e-15)
		assert.InDelta(t, 1.0, v.Exposure["market"], 1e-15)
		require.NotNil(t, v.Concentration)

		_, err = json.Marshal(v)
		assert.NoError(t, err)
	})

	t.Run("degenerate", func(t *testing.T) {
		d, err := calc.Decompose([]float64{0, 0, 0})
		require.NoError(t, err)
		require.True(t, d.Degenerate)

		v := NewDecompositionView(model, d)
		assert.True(t, v.Degenerate)
		assert.Nil(t, v.Percent)
		assert.Nil(t, v.Concentration)

		// 원본 Decomposition 은 NaN 때문에 직렬화 불가
		_, err = json.Marshal(d)
		assert.Error(t, err)
		_, err = json.Marshal(v)
		assert.NoError(t, err)
	})
}

func TestKeyed(t *testing.T) {
	assert.Nil(t, Keyed([]string{"a"}, nil))
	assert.Equal(t,
		map[string]float64{"a": 1, "c": 3},
		Keyed([]string{"a", "b", "c"}, []float64{1, math.NaN(), 3}))
}

func TestNewOptimizeResponse(t *testing.T) {
	model := testModel(t)

	t.Run("infeasible omits weights", func(t *testing.T) {
		res := &optimizer.Result{
			RunID:        "run-1",
			Preset:       optimizer.PresetActiveVariance,
			Status:       optimizer.StatusInfeasible,
			SolverStatus: solver.StatusInfeasible,
			Universe:     model.Universe(),
			Objective:    math.NaN(),
			Attempts:     1,
		}
		out := NewOptimizeResponse(model, res, errors.New("infeasible"))
		assert.Equal(t, "infeasible", out.Error)
		assert.Nil(t, out.Weights)
		assert.Nil(t, out.Objective)

		_, err := json.Marshal(out)
		assert.NoError(t, err)
	})

	t.Run("non-finite violation residual", func(t *testing.T) {
		res := &optimizer.Result{
			RunID:        "run-3",
			Status:       optimizer.StatusConstraintViolation,
			SolverStatus: solver.StatusOptimal,
			Universe:     model.Universe(),
			Violations: []constraints.Violation{
				{Kind: constraints.KindCustom, Name: "solution", Residual: math.NaN()},
				{Kind: constraints.KindBound, Name: "bound[0]", Residual: 0.25},
			},
		}
		out := NewOptimizeResponse(model, res, errors.New("constraint violation"))
		require.Len(t, out.Violations, 2)
		assert.Nil(t, out.Violations[0].Residual)
		require.NotNil(t, out.Violations[1].Residual)
		assert.Equal(t, 0.25, *out.Violations[1].Residual)
		assert.Contains(t, out.Violations[0].String(), "non-finite")

		body, err := json.Marshal(out)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"residual":null`)
	})

	t.Run("optimal", func(t *testing.T) {
		x := []float64{0.2, 0.3, 0.5}
		d, err := risk.NewCalculator(model).Decompose(x)
		require.NoError(t, err)

		res := &optimizer.Result{
			RunID:         "run-2",
			Status:        optimizer.StatusOptimal,
			Universe:      model.Universe(),
			Weights:       x,
			Portfolio:     x,
			Decomposition: d,
			Objective:     0.01,
			Duration:      1500 * time.Millisecond,
		}
		out := NewOptimizeResponse(model, res, nil)
		assert.Equal(t, map[string]float64{"AAA": 0.2, "BBB": 0.3, "CCC": 0.5}, out.Portfolio)
		require.NotNil(t, out.Decomposition)
		assert.InDelta(t, d.TotalVariance, out.Decomposition.TotalVariance, 1e-15)
		assert.Equal(t, int64(1500), out.DurationMs)
		assert.Empty(t, out.Error)
	})
}

func TestNewTearsheetResponse(t *testing.T) {
	ts := &tearsheet.Tearsheet{
		Kind:       tearsheet.KindRiskSummary,
		Rows:       []string{"Total"},
		Portfolios: []string{"a", "zero"},
		Panels: map[string]tearsheet.Panel{
			"a":    {"Total": 0.2},
			"zero": {"Total": math.NaN()},
		},
	}

	out := NewTearsheetResponse(ts)
	require.Len(t, out.Values, 1)
	require.NotNil(t, out.Values[0][0])
	assert.Equal(t, 0.2, *out.Values[0][0])
	assert.Nil(t, out.Values[0][1])

	_, err := json.Marshal(out)
	assert.NoError(t, err)
}
