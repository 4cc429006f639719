package contracts

import (
	"math"

	"github.com/blaahhrrgg/equity-risk-model/internal/risk"
	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
)

// RiskRequest POST /api/risk
// 가중치는 종목 코드 → 비중, 유니버스에 없는 종목은 UnknownAssets 로 보고
type RiskRequest struct {
	Weights   map[string]float64 `json:"weights"`
	Benchmark map[string]float64 `json:"benchmark,omitempty"` // 있으면 액티브 리스크
	Measure   string             `json:"measure,omitempty"`   // 집중도 지표 (기본: 서버 설정)

	// VaR 파라미터 (선택)
	Confidence []float64 `json:"confidence,omitempty"` // 예: [0.95, 0.99]
	Horizon    float64   `json:"horizon,omitempty"`    // 공분산 기간 단위 배수 (기본 1)
}

// RiskResponse 리스크 분해 응답
type RiskResponse struct {
	ModelFingerprint string   `json:"model_fingerprint"`
	UnknownAssets    []string `json:"unknown_assets,omitempty"`
	Active           bool     `json:"active"`
	Cached           bool     `json:"cached"`

	Decomposition DecompositionView  `json:"decomposition"`
	Breakdown     risk.Breakdown     `json:"breakdown"`
	FactorRisks   map[string]float64 `json:"factor_risks"`
	GroupRisks    map[string]float64 `json:"factor_group_risks,omitempty"`
	VaR           []risk.VaRResult   `json:"var,omitempty"`
}

// DecompositionView JSON 직렬화 가능한 분해 결과
// NaN (분산 ≈ 0) 은 JSON 으로 표현할 수 없으므로 Percent 는 생략, Concentration 은 null
type DecompositionView struct {
	TotalVariance    float64 `json:"total_variance"`
	FactorVariance   float64 `json:"factor_variance"`
	SpecificVariance float64 `json:"specific_variance"`
	TotalRisk        float64 `json:"total_risk"`

	Marginal      map[string]float64 `json:"marginal"`
	Percent       map[string]float64 `json:"percent,omitempty"`
	Degenerate    bool               `json:"degenerate"`
	Measure       string             `json:"measure"`
	Concentration *float64           `json:"concentration"`
	Exposure      map[string]float64 `json:"factor_exposure"`
}

// NewDecompositionView 유니버스/팩터 이름으로 키를 붙인 뷰
func NewDecompositionView(model *riskmodel.FactorRiskModel, d *risk.Decomposition) DecompositionView {
	universe := model.Universe()
	v := DecompositionView{
		TotalVariance:    d.TotalVariance,
		FactorVariance:   d.FactorVariance,
		SpecificVariance: d.SpecificVariance,
		TotalRisk:        d.TotalRisk,
		Marginal:         Keyed(universe, d.Marginal),
		Degenerate:       d.Degenerate,
		Measure:          string(d.Measure),
		Concentration:    FiniteOrNil(d.Concentration),
		Exposure:         Keyed(model.Factors(), d.Exposure),
	}
	if !d.Degenerate {
		v.Percent = Keyed(universe, d.Percent)
	}
	return v
}

// Keyed 이름 순서 벡터 → 맵 (NaN/Inf 항목 제외)
func Keyed(names []string, values []float64) map[string]float64 {
	if values == nil {
		return nil
	}
	out := make(map[string]float64, len(names))
	for i, name := range names {
		if isFinite(values[i]) {
			out[name] = values[i]
		}
	}
	return out
}

// FiniteOrNil NaN/Inf → nil
func FiniteOrNil(v float64) *float64 {
	if !isFinite(v) {
		return nil
	}
	return &v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SimulateRequest POST /api/simulate
// Config 의 0 값 항목은 기본 설정으로 채움
type SimulateRequest struct {
	Weights map[string]float64    `json:"weights"`
	Config  risk.SimulationConfig `json:"config"`
}

// SimulateResponse 시뮬레이션 결과, 유니버스에 없는 종목은 UnknownAssets 로 보고
type SimulateResponse struct {
	*risk.SimulationResult
	UnknownAssets []string `json:"unknown_assets,omitempty"`
}

// Merge 0 값 항목을 기본값으로
func (r SimulateRequest) Merge(def risk.SimulationConfig) risk.SimulationConfig {
	cfg := r.Config
	if cfg.NumSimulations == 0 {
		cfg.NumSimulations = def.NumSimulations
	}
	if cfg.Horizon == 0 {
		cfg.Horizon = def.Horizon
	}
	if len(cfg.ConfidenceLevels) == 0 {
		cfg.ConfidenceLevels = def.ConfidenceLevels
	}
	if cfg.Distribution == "" {
		cfg.Distribution = def.Distribution
	}
	if cfg.DegreesOfFreedom == 0 {
		cfg.DegreesOfFreedom = def.DegreesOfFreedom
	}
	return cfg
}
