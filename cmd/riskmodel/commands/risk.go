package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blaahhrrgg/equity-risk-model/internal/contracts"
)

// riskCmd represents the risk command
var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "포트폴리오 리스크 분해",
	Long: `포트폴리오 하나의 리스크를 팩터/고유로 분해합니다.

출력:
- 총/팩터/고유 분산과 변동성
- 종목별 marginal / percent 기여도
- 팩터 노출, 팩터별 단독 리스크
- 집중도 지표, 신뢰수준별 parametric VaR/CVaR

Example:
  go run ./cmd/riskmodel risk --model examples/model.yaml --portfolios examples/portfolios.yaml --name current
  go run ./cmd/riskmodel risk --model examples/model.yaml --portfolios examples/portfolios.yaml --name current --benchmark benchmark
  go run ./cmd/riskmodel risk ... --confidence 0.95,0.99 -o json`,
	RunE: runRisk,
}

var (
	riskPortfolios string
	riskName       string
	riskBenchmark  string
	riskMeasure    string
	riskConfidence []float64
	riskHorizon    float64
)

func init() {
	rootCmd.AddCommand(riskCmd)

	// Flags
	riskCmd.Flags().StringVar(&riskPortfolios, "portfolios", "", "portfolios YAML file")
	riskCmd.Flags().StringVar(&riskName, "name", "", "portfolio name")
	riskCmd.Flags().StringVar(&riskBenchmark, "benchmark", "", "benchmark portfolio name (active risk)")
	riskCmd.Flags().StringVar(&riskMeasure, "measure", "", "concentration measure (herfindahl|effective_n|gini|entropy)")
	riskCmd.Flags().Float64SliceVar(&riskConfidence, "confidence", nil, "VaR confidence levels")
	riskCmd.Flags().Float64Var(&riskHorizon, "horizon", 1, "VaR horizon in covariance periods")
}

func runRisk(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	ps, err := rt.loadPortfolios(cmd.Context(), riskPortfolios, true)
	if err != nil {
		return err
	}

	weights, ok := ps[riskName]
	if !ok {
		return fmt.Errorf("portfolio %q not found", riskName)
	}
	req := contracts.RiskRequest{
		Weights:    weights,
		Measure:    riskMeasure,
		Confidence: riskConfidence,
		Horizon:    riskHorizon,
	}
	if riskBenchmark != "" {
		b, ok := ps[riskBenchmark]
		if !ok {
			return fmt.Errorf("benchmark %q not found", riskBenchmark)
		}
		req.Benchmark = b
	}

	resp, err := rt.engine.Risk(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(out, resp)
	}

	title := "Risk Decomposition: " + riskName
	if resp.Active {
		title += " vs " + riskBenchmark
	}
	printHeader(out, title)

	d := resp.Decomposition
	printKeyValue(out, "Total risk", pct(resp.Breakdown.Total), 16)
	printKeyValue(out, "Factor risk", pct(resp.Breakdown.Factor), 16)
	printKeyValue(out, "Specific risk", pct(resp.Breakdown.Specific), 16)
	printKeyValue(out, "Total variance", num(d.TotalVariance), 16)
	if d.Concentration != nil {
		printKeyValue(out, d.Measure, num(*d.Concentration), 16)
	}
	if len(resp.UnknownAssets) > 0 {
		printWarning(out, "ignored unknown assets: "+strings.Join(resp.UnknownAssets, ", "))
	}
	if d.Degenerate {
		printWarning(out, "zero total variance: percent contributions undefined")
	}

	printMap(out, "Factor exposure", d.Exposure, num)
	printMap(out, "Factor risk (stand-alone)", resp.FactorRisks, pct)
	printMap(out, "Factor group risk", resp.GroupRisks, pct)
	printMap(out, "Marginal contribution", d.Marginal, num)
	printMap(out, "Percent contribution", d.Percent, pct)

	if len(resp.VaR) > 0 {
		fmt.Fprintln(out)
		widths := []int{10, 10, 10}
		printTableHeader(out, []string{"Confidence", "VaR", "CVaR"}, widths)
		for _, v := range resp.VaR {
			printTableRow(out, []string{pct(v.Confidence), pct(v.VaR), pct(v.CVaR)}, widths)
		}
	}
	printSeparator(out)
	return nil
}
