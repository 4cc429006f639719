package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func equal(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

func TestConcentration_EqualContributions(t *testing.T) {
	for _, n := range []int{1, 2, 5, 20} {
		pct := equal(n)

		h, err := Concentration(pct, MeasureHerfindahl)
		require.NoError(t, err)
		assert.InDelta(t, 1/float64(n), h, 1e-12)

		eff, err := Concentration(pct, MeasureEffectiveN)
		require.NoError(t, err)
		assert.InDelta(t, float64(n), eff, 1e-9)

		g, err := Concentration(pct, MeasureGini)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, g, 1e-12)

		e, err := Concentration(pct, MeasureEntropy)
		require.NoError(t, err)
		assert.InDelta(t, float64(n), e, 1e-9)
	}
}

func TestConcentration_Concentrated(t *testing.T) {
	pct := []float64{0, 0, 1, 0}

	assert.InDelta(t, 1.0, Herfindahl(pct), 1e-15)
	assert.InDelta(t, 1.0, EffectiveN(pct), 1e-15)
	assert.InDelta(t, 0.75, Gini(pct), 1e-15)
	assert.InDelta(t, 1.0, Entropy(pct), 1e-15)
}

func TestConcentration_NegativeContributions(t *testing.T) {
	// hedge 포지션은 음의 기여
	pct := []float64{0.8, 0.5, -0.3}

	assert.InDelta(t, 0.64+0.25+0.09, Herfindahl(pct), 1e-12)
	g := Gini(pct)
	assert.True(t, g > 0 && g < 1)
}

func TestConcentration_NaNPropagates(t *testing.T) {
	pct := []float64{math.NaN(), math.NaN()}
	for _, m := range Measures() {
		v, err := Concentration(pct, m)
		require.NoError(t, err)
		assert.True(t, math.IsNaN(v), "measure %s", m)
	}
}

func TestConcentration_UnknownMeasure(t *testing.T) {
	_, err := Concentration(equal(3), Measure("variance"))
	assert.ErrorIs(t, err, ErrUnknownMeasure)
}

func TestENC(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		alpha   float64
		want    float64
	}{
		{"single asset", []float64{1, 0, 0, 0, 0}, 2, 1},
		{"equal alpha 2", equal(5), 2, 5},
		{"equal alpha 3", equal(4), 3, 4},
		{"equal alpha 0.5", equal(4), 0.5, 4},
		{"entropy limit", equal(6), 1, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ENC(tt.weights, tt.alpha)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := ENC(equal(3), 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
