package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blaahhrrgg/equity-risk-model/internal/policy"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "모델/정책/포트폴리오 파일 검증",
	Long: `입력 파일을 읽고 검증만 수행합니다 (최적화 실행 X).

- 모델: 차원, 대칭성, PSD, 음수 고유분산, 중복 식별자
- 정책: 스키마, 프리셋, 제약 충돌
- 정책 ↔ 모델: 알 수 없는 팩터/종목, 포트폴리오 참조

Example:
  go run ./cmd/riskmodel validate --model examples/model.yaml
  go run ./cmd/riskmodel validate --model examples/model.yaml --policy examples/policy.yaml --portfolios examples/portfolios.yaml`,
	RunE: runValidate,
}

var (
	validatePolicy     string
	validatePortfolios string
)

func init() {
	rootCmd.AddCommand(validateCmd)

	// Flags
	validateCmd.Flags().StringVar(&validatePolicy, "policy", "", "policy YAML file")
	validateCmd.Flags().StringVar(&validatePortfolios, "portfolios", "", "portfolios YAML file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	rt, err := setup(cmd.Context())
	if err != nil {
		printError(out, err.Error())
		return err
	}
	printSuccess(out, fmt.Sprintf("model: %d assets, %d factors (%s)",
		rt.model.NumAssets(), rt.model.NumFactors(), rt.engine.Fingerprint()[:12]))
	if groups := rt.model.FactorGroups(); len(groups) > 0 {
		printSuccess(out, "factor groups: "+strings.Join(groups, ", "))
	}

	ps, err := rt.loadPortfolios(cmd.Context(), validatePortfolios, false)
	if err != nil {
		printError(out, err.Error())
		return err
	}
	if ps != nil {
		printSuccess(out, fmt.Sprintf("portfolios: %d", len(ps)))
	}

	if validatePolicy == "" {
		return nil
	}
	p, _, err := rt.loadPolicy(cmd.Context(), validatePolicy)
	if err != nil {
		printError(out, err.Error())
		return err
	}
	// 모델/포트폴리오 대조 (식별자, 참조)
	if _, err := p.Request(rt.model, ps); err != nil {
		printError(out, err.Error())
		return err
	}
	hash, err := policy.Hash(p)
	if err != nil {
		return err
	}
	printSuccess(out, fmt.Sprintf("policy %s: %s (%s)", p.Meta.PolicyID, p.Objective, hash[:12]))
	return nil
}
