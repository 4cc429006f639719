package riskmodel

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// DefaultTolerance 대칭/PSD 검사 기본 허용오차
const DefaultTolerance = 1e-8

// Input 외부에서 공급되는 팩터 모델 원시 입력
// exposures 는 N×K (행 = 종목, 열 = 팩터)
type Input struct {
	Universe         []string            `json:"universe" yaml:"universe"`
	Factors          []string            `json:"factors" yaml:"factors"`
	Exposures        [][]float64         `json:"exposures" yaml:"exposures"`
	FactorCovariance [][]float64         `json:"factor_covariance" yaml:"factor_covariance"`
	SpecificVariance []float64           `json:"specific_variance" yaml:"specific_variance"`
	FactorGroups     map[string][]string `json:"factor_groups,omitempty" yaml:"factor_groups,omitempty"`
}

// FactorRiskModel 멀티팩터 리스크 모델 (불변 값 타입)
// ⭐ SSOT: 노출/팩터공분산/고유분산의 정합성은 생성 시점에만 검증
// 생성 이후 변경 불가 - 모든 "수정"은 새 인스턴스를 반환
// 동시 읽기 안전 (내부 상태를 외부에 노출하지 않음)
type FactorRiskModel struct {
	universe    []string
	factors     []string
	assetIndex  map[string]int
	factorIndex map[string]int

	exposures *mat.Dense    // N×K
	factorCov *mat.SymDense // K×K
	specific  []float64     // N

	groupNames []string
	groups     map[string][]int // group → factor indices

	tol float64
}

// Option 모델 생성 옵션
type Option func(*options)

type options struct {
	tolerance float64
}

// WithTolerance 대칭/PSD 허용오차 지정
func WithTolerance(tol float64) Option {
	return func(o *options) {
		if tol > 0 {
			o.tolerance = tol
		}
	}
}

// New 입력을 검증하고 모델 생성
// 실패 시 ErrDimensionMismatch, ErrInvalidCovariance, ErrInvalidVariance 등을 래핑
func New(in Input, opts ...Option) (*FactorRiskModel, error) {
	o := options{tolerance: DefaultTolerance}
	for _, opt := range opts {
		opt(&o)
	}

	if err := validate(in, o.tolerance); err != nil {
		return nil, err
	}

	n, k := len(in.Universe), len(in.Factors)

	m := &FactorRiskModel{
		universe:    append([]string(nil), in.Universe...),
		factors:     append([]string(nil), in.Factors...),
		assetIndex:  make(map[string]int, n),
		factorIndex: make(map[string]int, k),
		exposures:   mat.NewDense(n, k, nil),
		factorCov:   mat.NewSymDense(k, nil),
		specific:    append([]float64(nil), in.SpecificVariance...),
		groups:      make(map[string][]int, len(in.FactorGroups)),
		tol:         o.tolerance,
	}

	for i, id := range m.universe {
		m.assetIndex[id] = i
	}
	for j, id := range m.factors {
		m.factorIndex[id] = j
	}

	for i, row := range in.Exposures {
		m.exposures.SetRow(i, row)
	}

	// 미세 비대칭은 평균으로 대칭화
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			m.factorCov.SetSym(i, j, 0.5*(in.FactorCovariance[i][j]+in.FactorCovariance[j][i]))
		}
	}

	for name, members := range in.FactorGroups {
		idx := make([]int, len(members))
		for i, f := range members {
			idx[i] = m.factorIndex[f]
		}
		m.groups[name] = idx
		m.groupNames = append(m.groupNames, name)
	}
	sort.Strings(m.groupNames)

	return m, nil
}

// Validate 입력 정합성 검사 (New 가 내부적으로 호출)
func Validate(in Input, opts ...Option) error {
	o := options{tolerance: DefaultTolerance}
	for _, opt := range opts {
		opt(&o)
	}
	return validate(in, o.tolerance)
}

func validate(in Input, tol float64) error {
	n, k := len(in.Universe), len(in.Factors)

	if n == 0 {
		return fmt.Errorf("%w: empty universe", ErrDimensionMismatch)
	}
	if k == 0 {
		return fmt.Errorf("%w: no factors", ErrDimensionMismatch)
	}
	if err := checkUnique(in.Universe, "asset"); err != nil {
		return err
	}
	if err := checkUnique(in.Factors, "factor"); err != nil {
		return err
	}

	// === Exposures (N×K) ===
	if len(in.Exposures) != len(in.SpecificVariance) {
		return fmt.Errorf("%w: exposures have %d rows, specific variance has %d entries",
			ErrDimensionMismatch, len(in.Exposures), len(in.SpecificVariance))
	}
	if len(in.Exposures) != n {
		return fmt.Errorf("%w: exposures have %d rows, universe has %d assets",
			ErrDimensionMismatch, len(in.Exposures), n)
	}
	for i, row := range in.Exposures {
		if len(row) != len(in.FactorCovariance) || len(row) != k {
			return fmt.Errorf("%w: exposure row %d (%s) has %d columns, factor covariance has dimension %d (%d factors)",
				ErrDimensionMismatch, i, in.Universe[i], len(row), len(in.FactorCovariance), k)
		}
		for j, v := range row {
			if !isFinite(v) {
				return fmt.Errorf("%w: exposure[%s][%s] is not finite", ErrInvalidExposure, in.Universe[i], in.Factors[j])
			}
		}
	}

	// === Factor covariance (K×K, symmetric, PSD) ===
	for i, row := range in.FactorCovariance {
		if len(row) != k {
			return fmt.Errorf("%w: factor covariance row %d has %d columns, expected %d",
				ErrDimensionMismatch, i, len(row), k)
		}
		for _, v := range row {
			if !isFinite(v) {
				return fmt.Errorf("%w: non-finite entry in row %d", ErrInvalidCovariance, i)
			}
		}
	}
	if ok, i, j := isSymmetric(in.FactorCovariance, tol); !ok {
		return fmt.Errorf("%w: not symmetric at (%s, %s): %g != %g",
			ErrInvalidCovariance, in.Factors[i], in.Factors[j], in.FactorCovariance[i][j], in.FactorCovariance[j][i])
	}
	sym := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sym.SetSym(i, j, in.FactorCovariance[i][j])
		}
	}
	if ok, minEig := IsPositiveSemidefinite(sym, tol); !ok {
		return fmt.Errorf("%w: not positive semi-definite (min eigenvalue %g < %g)",
			ErrInvalidCovariance, minEig, -tol)
	}

	// === Specific variance ===
	for i, v := range in.SpecificVariance {
		if !isFinite(v) || v < 0 {
			return fmt.Errorf("%w: %s has specific variance %g", ErrInvalidVariance, in.Universe[i], v)
		}
	}

	// === Factor groups ===
	known := make(map[string]struct{}, k)
	for _, f := range in.Factors {
		known[f] = struct{}{}
	}
	for name, members := range in.FactorGroups {
		if len(members) == 0 {
			return fmt.Errorf("%w: factor group %q is empty", ErrDimensionMismatch, name)
		}
		for _, f := range members {
			if _, ok := known[f]; !ok {
				return fmt.Errorf("%w: factor group %q references factor %q", ErrUnknownIdentifier, name, f)
			}
		}
	}

	return nil
}

func checkUnique(ids []string, kind string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty %s identifier", ErrDimensionMismatch, kind)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate %s identifier %q", ErrDimensionMismatch, kind, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// =============================================================================
// Read-only accessors (복사본 반환)
// =============================================================================

// NumAssets 종목 수 N
func (m *FactorRiskModel) NumAssets() int { return len(m.universe) }

// NumFactors 팩터 수 K
func (m *FactorRiskModel) NumFactors() int { return len(m.factors) }

// Tolerance 모델 허용오차
func (m *FactorRiskModel) Tolerance() float64 { return m.tol }

// Universe 종목 식별자 (정렬 순서 = 모든 벡터의 인덱스)
func (m *FactorRiskModel) Universe() []string {
	return append([]string(nil), m.universe...)
}

// Factors 팩터 식별자
func (m *FactorRiskModel) Factors() []string {
	return append([]string(nil), m.factors...)
}

// AssetIndex 종목 식별자 → 인덱스
func (m *FactorRiskModel) AssetIndex(id string) (int, bool) {
	i, ok := m.assetIndex[id]
	return i, ok
}

// FactorIndex 팩터 식별자 → 인덱스
func (m *FactorRiskModel) FactorIndex(id string) (int, bool) {
	j, ok := m.factorIndex[id]
	return j, ok
}

// Exposures N×K 노출 행렬 복사본
func (m *FactorRiskModel) Exposures() *mat.Dense {
	return mat.DenseCopyOf(m.exposures)
}

// Exposure 단일 노출값
func (m *FactorRiskModel) Exposure(asset, factor int) float64 {
	return m.exposures.At(asset, factor)
}

// FactorCovariance K×K 팩터 공분산 복사본
func (m *FactorRiskModel) FactorCovariance() *mat.SymDense {
	k := len(m.factors)
	c := mat.NewSymDense(k, nil)
	c.CopySym(m.factorCov)
	return c
}

// SpecificVariance 고유분산 복사본
func (m *FactorRiskModel) SpecificVariance() []float64 {
	return append([]float64(nil), m.specific...)
}

// FactorVolatilities sqrt(diag(F))
func (m *FactorRiskModel) FactorVolatilities() []float64 {
	vols := make([]float64, len(m.factors))
	for j := range vols {
		vols[j] = math.Sqrt(math.Max(m.factorCov.At(j, j), 0))
	}
	return vols
}

// FactorGroups 그룹 이름 (정렬됨)
func (m *FactorRiskModel) FactorGroups() []string {
	return append([]string(nil), m.groupNames...)
}

// FactorGroup 그룹에 속한 팩터 인덱스
func (m *FactorRiskModel) FactorGroup(name string) ([]int, bool) {
	idx, ok := m.groups[name]
	if !ok {
		return nil, false
	}
	return append([]int(nil), idx...), true
}

// =============================================================================
// Linear-algebra primitives (N×N 공분산을 만들지 않음)
// 길이가 맞지 않으면 gonum 과 동일하게 panic - 호출 전에 CheckWeights 사용
// =============================================================================

// CheckWeights 가중치 벡터 길이/유한성 검사
func (m *FactorRiskModel) CheckWeights(x []float64) error {
	if len(x) != len(m.universe) {
		return fmt.Errorf("%w: weight vector has %d entries, universe has %d",
			ErrDimensionMismatch, len(x), len(m.universe))
	}
	for i, v := range x {
		if !isFinite(v) {
			return fmt.Errorf("%w: weight for %s is not finite", ErrDimensionMismatch, m.universe[i])
		}
	}
	return nil
}

// FactorExposure 포트폴리오 팩터 노출 Eᵀx (길이 K)
func (m *FactorRiskModel) FactorExposure(x []float64) []float64 {
	out := mat.NewVecDense(len(m.factors), nil)
	out.MulVec(m.exposures.T(), mat.NewVecDense(len(x), x))
	return out.RawVector().Data
}

// FactorCovMulVec F·f (길이 K)
func (m *FactorRiskModel) FactorCovMulVec(f []float64) []float64 {
	out := mat.NewVecDense(len(m.factors), nil)
	out.MulVec(m.factorCov, mat.NewVecDense(len(f), f))
	return out.RawVector().Data
}

// ExposureMulVec E·f (길이 N)
func (m *FactorRiskModel) ExposureMulVec(f []float64) []float64 {
	out := mat.NewVecDense(len(m.universe), nil)
	out.MulVec(m.exposures, mat.NewVecDense(len(f), f))
	return out.RawVector().Data
}

// FactorQuadForm fᵀFf
func (m *FactorRiskModel) FactorQuadForm(f []float64) float64 {
	v := mat.NewVecDense(len(f), f)
	return mat.Inner(v, m.factorCov, v)
}

// CovarianceMulVec Σx = E F Eᵀx + diag(s)x, O(NK + K²)
func (m *FactorRiskModel) CovarianceMulVec(x []float64) []float64 {
	out := m.ExposureMulVec(m.FactorCovMulVec(m.FactorExposure(x)))
	for i := range out {
		out[i] += m.specific[i] * x[i]
	}
	return out
}

// FactorCovarianceMulVec E F Eᵀx (팩터 부분만)
func (m *FactorRiskModel) FactorCovarianceMulVec(x []float64) []float64 {
	return m.ExposureMulVec(m.FactorCovMulVec(m.FactorExposure(x)))
}

// TotalCovariance N×N 전체 공분산 E F Eᵀ + diag(s)
// 옵티마이저(QP 목적함수) 전용 - 리스크 계산에는 사용하지 않음
func (m *FactorRiskModel) TotalCovariance() *mat.SymDense {
	n := len(m.universe)
	cov := mat.NewSymDense(n, nil)

	var ef mat.Dense
	ef.Mul(m.exposures, m.factorCov) // N×K
	var full mat.Dense
	full.Mul(&ef, m.exposures.T()) // N×N
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, 0.5*(full.At(i, j)+full.At(j, i)))
		}
	}

	for i := 0; i < n; i++ {
		cov.SetSym(i, i, cov.At(i, i)+m.specific[i])
	}
	return cov
}

// =============================================================================
// Derived instances
// =============================================================================

// WithRidge F + εI 를 갖는 새 모델 (수치 안정화 재시도용)
// 고유값이 증가하므로 PSD 재검사는 불필요
func (m *FactorRiskModel) WithRidge(eps float64) *FactorRiskModel {
	k := len(m.factors)
	cov := mat.NewSymDense(k, nil)
	cov.CopySym(m.factorCov)
	for j := 0; j < k; j++ {
		cov.SetSym(j, j, cov.At(j, j)+eps)
	}

	out := *m
	out.factorCov = cov
	return &out
}

// Fingerprint 모델 내용 sha256 (캐시 키)
func (m *FactorRiskModel) Fingerprint() string {
	h := sha256.New()
	for _, id := range m.universe {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	h.Write([]byte{1})
	for _, id := range m.factors {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}

	var buf [8]byte
	writeFloat := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}

	n, k := len(m.universe), len(m.factors)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			writeFloat(m.exposures.At(i, j))
		}
	}
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			writeFloat(m.factorCov.At(i, j))
		}
	}
	for _, v := range m.specific {
		writeFloat(v)
	}

	return hex.EncodeToString(h.Sum(nil))
}
