package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
)

// decode KnownFields(true) 로 오타/미사용 필드 즉시 실패
func decode(data []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// LoadPolicy 정책 YAML 파일을 읽고 검증, 원본 바이트도 반환
func LoadPolicy(path string) (*Policy, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return nil, data, err
	}
	return p, data, nil
}

// ParsePolicy 정책 YAML 파싱 + 검증
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := decode(data, &p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadModel 모델 입력 YAML 파일 → 검증된 FactorRiskModel
func LoadModel(path string, opts ...riskmodel.Option) (*riskmodel.FactorRiskModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseModel(data, opts...)
}

// ParseModel 모델 입력 YAML 파싱 + 생성
func ParseModel(data []byte, opts ...riskmodel.Option) (*riskmodel.FactorRiskModel, error) {
	var in riskmodel.Input
	if err := decode(data, &in); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	return riskmodel.New(in, opts...)
}

// LoadPortfolios 포트폴리오 YAML 파일 읽기
func LoadPortfolios(path string) (Portfolios, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePortfolios(data)
}

// ParsePortfolios portfolios YAML 파싱 + 검증
func ParsePortfolios(data []byte) (Portfolios, error) {
	var f portfoliosFile
	if err := decode(data, &f); err != nil {
		return nil, fmt.Errorf("decode portfolios: %w", err)
	}
	if err := ValidatePortfolios(f.Portfolios); err != nil {
		return nil, err
	}
	return f.Portfolios, nil
}

// Hash 정책의 canonical JSON sha256
// encoding/json 은 map 키를 정렬하므로 같은 정책은 같은 해시
func Hash(p *Policy) (string, error) {
	jsonBytes, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}

// NewSnapshot 감사용 스냅샷 생성
func NewSnapshot(p *Policy, yamlData []byte, modelFingerprint string) (*Snapshot, error) {
	hash, err := Hash(p)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		PolicyHash:       hash,
		PolicyYAML:       string(yamlData),
		PolicyID:         p.Meta.PolicyID,
		ModelFingerprint: modelFingerprint,
		CreatedAt:        time.Now(),
	}, nil
}
