package tearsheet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/blaahhrrgg/equity-risk-model/internal/risk"
)

// =============================================================================
// Tear sheet - 포트폴리오별 요약 표
// =============================================================================

// ErrUnknownKind 등록되지 않은 tear sheet 종류
var ErrUnknownKind = errors.New("unknown tearsheet kind")

// Kind tear sheet 종류
type Kind string

const (
	KindRiskSummary   Kind = "risk_summary"  // Total / Factor / Specific
	KindFactorRisk    Kind = "factor_risk"   // 팩터별 단독 리스크
	KindFactorGroup   Kind = "factor_group"  // 그룹별 리스크 + Covariance
	KindConcentration Kind = "concentration" // ENC / 엔트로피 / 유효 베팅 수
)

// Kinds 지원 종류 목록
func Kinds() []Kind {
	return []Kind{KindRiskSummary, KindFactorRisk, KindFactorGroup, KindConcentration}
}

// ParseKind 문자열 → Kind
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if Kind(s) == k {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// 행 이름
const (
	RowTotal      = "Total"
	RowFactor     = "Factor"
	RowSpecific   = "Specific"
	RowCovariance = "Covariance"

	RowENC        = "ENC"
	RowEntropy    = "Entropy"
	RowENCB       = "ENCB"
	RowENUB       = "ENUB"
	RowHerfindahl = "Herfindahl"
	RowGini       = "Gini"
)

// Panel 한 포트폴리오의 지표 (행 이름 → 값)
type Panel map[string]float64

// Tearsheet 행 = 지표, 열 = 포트폴리오 (이름순)
type Tearsheet struct {
	Kind       Kind             `json:"kind"`
	Rows       []string         `json:"rows"`
	Portfolios []string         `json:"portfolios"`
	Panels     map[string]Panel `json:"panels"`
}

// Value 행/포트폴리오 값 (없으면 NaN)
func (t *Tearsheet) Value(row, portfolio string) float64 {
	p, ok := t.Panels[portfolio]
	if !ok {
		return math.NaN()
	}
	v, ok := p[row]
	if !ok {
		return math.NaN()
	}
	return v
}

// Table 행 우선 2차원 표 [row][portfolio]
func (t *Tearsheet) Table() [][]float64 {
	out := make([][]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = make([]float64, len(t.Portfolios))
		for j, name := range t.Portfolios {
			out[i][j] = t.Value(row, name)
		}
	}
	return out
}

// Build 포트폴리오들을 병렬로 평가해 tear sheet 생성
// 포트폴리오 간 의존성이 없으므로 순서 무관, 결과는 이름순으로 정렬
// workers <= 0 이면 제한 없음
func Build(ctx context.Context, calc *risk.Calculator, portfolios map[string][]float64, kind Kind, workers int) (*Tearsheet, error) {
	panel, rows, err := panelFunc(calc, kind)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(portfolios))
	for name := range portfolios {
		names = append(names, name)
	}
	sort.Strings(names)

	panels := make([]Panel, len(names))
	g, gCtx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, name := range names {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			p, err := panel(portfolios[name])
			if err != nil {
				return fmt.Errorf("portfolio %s: %w", name, err)
			}
			panels[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ts := &Tearsheet{
		Kind:       kind,
		Rows:       rows,
		Portfolios: names,
		Panels:     make(map[string]Panel, len(names)),
	}
	for i, name := range names {
		ts.Panels[name] = panels[i]
	}
	return ts, nil
}

// panelFunc 종류별 패널 계산 함수와 행 순서
func panelFunc(calc *risk.Calculator, kind Kind) (func([]float64) (Panel, error), []string, error) {
	model := calc.Model()
	switch kind {
	case KindRiskSummary:
		return func(w []float64) (Panel, error) {
			b, err := calc.Breakdown(w)
			if err != nil {
				return nil, err
			}
			return Panel{RowTotal: b.Total, RowFactor: b.Factor, RowSpecific: b.Specific}, nil
		}, []string{RowTotal, RowFactor, RowSpecific}, nil

	case KindFactorRisk:
		factors := model.Factors()
		return func(w []float64) (Panel, error) {
			fr, err := calc.FactorRisks(w)
			if err != nil {
				return nil, err
			}
			p := make(Panel, len(factors))
			for i, f := range factors {
				p[f] = fr[i]
			}
			return p, nil
		}, factors, nil

	case KindFactorGroup:
		groups := model.FactorGroups()
		rows := append(append([]string{}, groups...), RowCovariance)
		return func(w []float64) (Panel, error) {
			gr, err := calc.FactorGroupRisks(w)
			if err != nil {
				return nil, err
			}
			cov, err := calc.FactorGroupCovariance(w)
			if err != nil {
				return nil, err
			}
			p := make(Panel, len(rows))
			for name, v := range gr {
				p[name] = v
			}
			p[RowCovariance] = cov
			return p, nil
		}, rows, nil

	case KindConcentration:
		return func(w []float64) (Panel, error) {
			return concentrationPanel(calc, w)
		}, []string{RowENC, RowEntropy, RowENCB, RowENUB, RowHerfindahl, RowGini}, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// concentrationPanel 비중 기준 ENC/엔트로피 + 리스크 기준 유효 베팅 수
// 비중은 |w| / Σ|w| 로 정규화
func concentrationPanel(calc *risk.Calculator, w []float64) (Panel, error) {
	if err := calc.Model().CheckWeights(w); err != nil {
		return nil, err
	}
	abs := make([]float64, len(w))
	for i, v := range w {
		abs[i] = math.Abs(v)
	}
	floats.Scale(1/floats.Sum(abs), abs)

	enc, err := risk.ENC(abs, 2)
	if err != nil {
		return nil, err
	}
	encb, err := calc.EffectiveNumberOfCorrelatedBets(w)
	if err != nil {
		return nil, err
	}
	enub, err := calc.EffectiveNumberOfUncorrelatedBets(w)
	if err != nil {
		return nil, err
	}
	pct, err := calc.PercentContribution(w)
	if err != nil {
		return nil, err
	}

	return Panel{
		RowENC:        enc,
		RowEntropy:    risk.Entropy(abs),
		RowENCB:       encb,
		RowENUB:       enub,
		RowHerfindahl: risk.Herfindahl(pct.Values),
		RowGini:       risk.Gini(pct.Values),
	}, nil
}
