package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blaahhrrgg/equity-risk-model/internal/contracts"
	"github.com/blaahhrrgg/equity-risk-model/internal/tearsheet"
)

// tearsheetCmd represents the tearsheet command
var tearsheetCmd = &cobra.Command{
	Use:   "tearsheet",
	Short: "여러 포트폴리오 요약 표",
	Long: `포트폴리오 파일의 모든 포트폴리오를 병렬로 평가해 표로 출력합니다.

Kinds:
  risk_summary   Total / Factor / Specific 리스크
  factor_risk    팩터별 단독 리스크
  factor_group   팩터 그룹별 리스크 + Covariance
  concentration  ENC / Entropy / ENCB / ENUB / Herfindahl / Gini

Example:
  go run ./cmd/riskmodel tearsheet --model examples/model.yaml --portfolios examples/portfolios.yaml
  go run ./cmd/riskmodel tearsheet ... --kind concentration`,
	RunE: runTearsheet,
}

var (
	tearsheetPortfolios string
	tearsheetKind       string
)

func init() {
	rootCmd.AddCommand(tearsheetCmd)

	// Flags
	tearsheetCmd.Flags().StringVar(&tearsheetPortfolios, "portfolios", "", "portfolios YAML file")
	tearsheetCmd.Flags().StringVar(&tearsheetKind, "kind", string(tearsheet.KindRiskSummary), "tearsheet kind")
}

func runTearsheet(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	ps, err := rt.loadPortfolios(cmd.Context(), tearsheetPortfolios, true)
	if err != nil {
		return err
	}

	resp, err := rt.engine.Tearsheet(cmd.Context(), contracts.TearsheetRequest{
		Kind:       tearsheetKind,
		Portfolios: ps,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(out, resp)
	}

	printHeader(out, "Tear Sheet: "+resp.Kind)

	// 리스크 행은 %, 집중도 행은 숫자
	format := pct
	if resp.Kind == string(tearsheet.KindConcentration) {
		format = func(v float64) string { return fmt.Sprintf("%.4f", v) }
	}

	widths := []int{12}
	for _, row := range resp.Rows {
		if len(row) > widths[0] {
			widths[0] = len(row)
		}
	}
	columns := append([]string{""}, resp.Portfolios...)
	for _, name := range resp.Portfolios {
		widths = append(widths, max(len(name), 10))
	}

	printTableHeader(out, columns, widths)
	for i, row := range resp.Rows {
		values := []string{row}
		for _, v := range resp.Values[i] {
			if v == nil {
				values = append(values, "n/a")
				continue
			}
			values = append(values, format(*v))
		}
		printTableRow(out, values, widths)
	}

	if len(resp.UnknownAssets) > 0 {
		fmt.Fprintln(out)
		printWarning(out, "ignored unknown assets: "+strings.Join(resp.UnknownAssets, ", "))
	}
	printSeparator(out)
	return nil
}
