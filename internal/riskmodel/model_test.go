package riskmodel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func threeAssetInput() Input {
	return Input{
		Universe:         []string{"AAA", "BBB", "CCC"},
		Factors:          []string{"market"},
		Exposures:        [][]float64{{1}, {1}, {1}},
		FactorCovariance: [][]float64{{0.04}},
		SpecificVariance: []float64{0.01, 0.01, 0.01},
	}
}

func twoFactorInput() Input {
	return Input{
		Universe: []string{"AAA", "BBB", "CCC", "DDD"},
		Factors:  []string{"market", "value"},
		Exposures: [][]float64{
			{1.0, 0.5},
			{0.8, -0.2},
			{1.2, 0.1},
			{0.9, -0.4},
		},
		FactorCovariance: [][]float64{
			{0.04, 0.006},
			{0.006, 0.01},
		},
		SpecificVariance: []float64{0.02, 0.015, 0.03, 0.01},
		FactorGroups: map[string][]string{
			"style":  {"value"},
			"market": {"market"},
		},
	}
}

func TestNew_Valid(t *testing.T) {
	m, err := New(twoFactorInput())
	require.NoError(t, err)

	assert.Equal(t, 4, m.NumAssets())
	assert.Equal(t, 2, m.NumFactors())
	assert.Equal(t, DefaultTolerance, m.Tolerance())
	assert.Equal(t, []string{"AAA", "BBB", "CCC", "DDD"}, m.Universe())
	assert.Equal(t, []string{"market", "value"}, m.Factors())
	assert.Equal(t, []string{"market", "style"}, m.FactorGroups())

	i, ok := m.AssetIndex("CCC")
	assert.True(t, ok)
	assert.Equal(t, 2, i)

	j, ok := m.FactorIndex("value")
	assert.True(t, ok)
	assert.Equal(t, 1, j)

	_, ok = m.AssetIndex("ZZZ")
	assert.False(t, ok)

	idx, ok := m.FactorGroup("style")
	assert.True(t, ok)
	assert.Equal(t, []int{1}, idx)

	assert.InDeltaSlice(t, []float64{0.2, 0.1}, m.FactorVolatilities(), 1e-12)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(in *Input)
		wantErr error
	}{
		{
			name:    "specific variance length",
			mutate:  func(in *Input) { in.SpecificVariance = []float64{0.01, 0.01} },
			wantErr: ErrDimensionMismatch,
		},
		{
			name:    "exposure columns vs covariance",
			mutate:  func(in *Input) { in.Exposures = [][]float64{{1, 0}, {1, 0}, {1, 0}} },
			wantErr: ErrDimensionMismatch,
		},
		{
			name:    "duplicate asset",
			mutate:  func(in *Input) { in.Universe = []string{"AAA", "AAA", "CCC"} },
			wantErr: ErrDimensionMismatch,
		},
		{
			name:    "empty universe",
			mutate:  func(in *Input) { *in = Input{Factors: []string{"market"}, FactorCovariance: [][]float64{{0.04}}} },
			wantErr: ErrDimensionMismatch,
		},
		{
			name:    "negative specific variance",
			mutate:  func(in *Input) { in.SpecificVariance[1] = -0.001 },
			wantErr: ErrInvalidVariance,
		},
		{
			name:    "negative factor variance",
			mutate:  func(in *Input) { in.FactorCovariance = [][]float64{{-0.01}} },
			wantErr: ErrInvalidCovariance,
		},
		{
			name:    "unknown group member",
			mutate:  func(in *Input) { in.FactorGroups = map[string][]string{"style": {"momentum"}} },
			wantErr: ErrUnknownIdentifier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := threeAssetInput()
			tt.mutate(&in)

			m, err := New(in)
			assert.Nil(t, m)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestNew_AsymmetricCovariance(t *testing.T) {
	in := twoFactorInput()
	in.FactorCovariance[0][1] = 0.007

	_, err := New(in)
	assert.ErrorIs(t, err, ErrInvalidCovariance)

	// within tolerance → accepted and symmetrized
	in.FactorCovariance[0][1] = 0.006 + 1e-10
	m, err := New(in)
	require.NoError(t, err)
	cov := m.FactorCovariance()
	assert.Equal(t, cov.At(0, 1), cov.At(1, 0))
}

func TestNew_NotPSD(t *testing.T) {
	in := twoFactorInput()
	// eigenvalues 0.05 ± 0.06 → one negative
	in.FactorCovariance = [][]float64{{0.05, 0.06}, {0.06, 0.05}}

	err := Validate(in)
	assert.ErrorIs(t, err, ErrInvalidCovariance)
}

func TestNew_ToleranceOption(t *testing.T) {
	in := threeAssetInput()
	in.FactorCovariance = [][]float64{{-1e-6}}

	_, err := New(in)
	assert.ErrorIs(t, err, ErrInvalidCovariance)

	_, err = New(in, WithTolerance(1e-4))
	assert.NoError(t, err)
}

func TestIsPositiveSemidefinite(t *testing.T) {
	psd := mat.NewSymDense(2, []float64{2, 1, 1, 2})
	ok, minEig := IsPositiveSemidefinite(psd, 1e-8)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, minEig, 1e-12)

	indefinite := mat.NewSymDense(2, []float64{1, 2, 2, 1})
	ok, minEig = IsPositiveSemidefinite(indefinite, 1e-8)
	assert.False(t, ok)
	assert.InDelta(t, -1.0, minEig, 1e-12)
}

func TestAccessorsReturnCopies(t *testing.T) {
	m, err := New(twoFactorInput())
	require.NoError(t, err)

	u := m.Universe()
	u[0] = "mutated"
	assert.Equal(t, "AAA", m.Universe()[0])

	s := m.SpecificVariance()
	s[0] = 99
	assert.Equal(t, 0.02, m.SpecificVariance()[0])

	e := m.Exposures()
	e.Set(0, 0, 99)
	assert.Equal(t, 1.0, m.Exposure(0, 0))

	f := m.FactorCovariance()
	f.SetSym(0, 0, 99)
	assert.Equal(t, 0.04, m.FactorCovariance().At(0, 0))
}

func TestInputNotAliased(t *testing.T) {
	in := threeAssetInput()
	m, err := New(in)
	require.NoError(t, err)

	in.Exposures[0][0] = 5
	in.SpecificVariance[0] = 5
	assert.Equal(t, 1.0, m.Exposure(0, 0))
	assert.Equal(t, 0.01, m.SpecificVariance()[0])
}

func TestCovarianceMulVec_MatchesTotalCovariance(t *testing.T) {
	m, err := New(twoFactorInput())
	require.NoError(t, err)

	x := []float64{0.3, -0.1, 0.5, 0.3}
	fast := m.CovarianceMulVec(x)

	var dense mat.VecDense
	dense.MulVec(m.TotalCovariance(), mat.NewVecDense(len(x), x))

	assert.InDeltaSlice(t, dense.RawVector().Data, fast, 1e-14)
}

func TestFactorExposure(t *testing.T) {
	m, err := New(twoFactorInput())
	require.NoError(t, err)

	x := []float64{0.25, 0.25, 0.25, 0.25}
	assert.InDeltaSlice(t, []float64{0.975, 0.0}, m.FactorExposure(x), 1e-12)
}

func TestCheckWeights(t *testing.T) {
	m, err := New(threeAssetInput())
	require.NoError(t, err)

	assert.NoError(t, m.CheckWeights([]float64{1, 0, 0}))
	assert.ErrorIs(t, m.CheckWeights([]float64{1, 0}), ErrDimensionMismatch)
}

func TestWithRidge(t *testing.T) {
	m, err := New(twoFactorInput())
	require.NoError(t, err)

	r := m.WithRidge(1e-3)
	assert.InDelta(t, 0.041, r.FactorCovariance().At(0, 0), 1e-15)
	assert.InDelta(t, 0.011, r.FactorCovariance().At(1, 1), 1e-15)
	assert.InDelta(t, 0.006, r.FactorCovariance().At(0, 1), 1e-15)

	// original untouched
	assert.Equal(t, 0.04, m.FactorCovariance().At(0, 0))
	assert.NotEqual(t, m.Fingerprint(), r.Fingerprint())
}

func TestFingerprint(t *testing.T) {
	a, err := New(twoFactorInput())
	require.NoError(t, err)
	b, err := New(twoFactorInput())
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)

	in := twoFactorInput()
	in.SpecificVariance[3] = 0.011
	c, err := New(in)
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
