package policy

import "time"

// Policy 옵티마이저 정책 파일 (YAML)
// 종목/팩터는 코드로, 포트폴리오는 portfolios 파일의 이름으로 참조
type Policy struct {
	Meta Meta `yaml:"meta" json:"meta"`

	// Objective 프리셋 이름 (기본: active_variance)
	Objective string `yaml:"objective" json:"objective"`
	Benchmark string `yaml:"benchmark" json:"benchmark"` // 포트폴리오 이름 (없으면 0)
	Initial   string `yaml:"initial" json:"initial"`     // 헤지 프리셋의 기존 포트폴리오

	NeutralFactors  []string           `yaml:"neutral_factors" json:"neutral_factors"`
	TolerantFactors map[string]float64 `yaml:"tolerant_factors" json:"tolerant_factors"`
	ToleranceUnits  string             `yaml:"tolerance_units" json:"tolerance_units"` // exposure | risk
	Absolute        bool               `yaml:"absolute" json:"absolute"`

	Bounds        map[string]BoundSpec `yaml:"bounds" json:"bounds"`
	DefaultBounds *BoundSpec           `yaml:"default_bounds" json:"default_bounds"`
	Budget        *float64             `yaml:"budget" json:"budget"`
	Turnover      *Turnover            `yaml:"turnover" json:"turnover"`

	TargetVariance   *float64           `yaml:"target_variance" json:"target_variance"`
	RiskAversion     float64            `yaml:"risk_aversion" json:"risk_aversion"`
	Gamma            float64            `yaml:"gamma" json:"gamma"`
	ExpectedReturns  map[string]float64 `yaml:"expected_returns" json:"expected_returns"`
	FactorRiskLimits map[string]float64 `yaml:"factor_risk_limits" json:"factor_risk_limits"`
}

// Meta 메타 정보
type Meta struct {
	PolicyID    string `yaml:"policy_id" json:"policy_id"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description" json:"description"`
}

// BoundSpec 종목 비중 범위, 생략된 쪽은 무제한
type BoundSpec struct {
	Lower *float64 `yaml:"lower" json:"lower"`
	Upper *float64 `yaml:"upper" json:"upper"`
}

// Turnover 회전율 제한 (current = 포트폴리오 이름)
type Turnover struct {
	Current string  `yaml:"current" json:"current"`
	Limit   float64 `yaml:"limit" json:"limit"`
}

// Portfolios 이름 → (종목 → 비중)
type Portfolios map[string]map[string]float64

// portfoliosFile portfolios YAML 최상위
type portfoliosFile struct {
	Portfolios Portfolios `yaml:"portfolios"`
}

// Snapshot 최적화 입력 스냅샷 (재현성/감사용)
type Snapshot struct {
	PolicyHash       string    `json:"policy_hash"`
	PolicyYAML       string    `json:"policy_yaml"`
	PolicyID         string    `json:"policy_id"`
	ModelFingerprint string    `json:"model_fingerprint"`
	CreatedAt        time.Time `json:"created_at"`
}
