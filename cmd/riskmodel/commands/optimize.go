package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blaahhrrgg/equity-risk-model/internal/contracts"
	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
)

// optimizeCmd represents the optimize command
var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "정책 기반 포트폴리오 최적화",
	Long: `정책 YAML 을 검증하고 최적화를 실행합니다.

정책이 참조하는 benchmark / initial / turnover.current 포트폴리오는
--portfolios 파일에서 이름으로 찾습니다.

비최적 종료 (infeasible, unbounded, 수치 실패 등) 시 결과를 출력하고
0 이 아닌 종료 코드를 반환합니다.

Example:
  go run ./cmd/riskmodel optimize --model examples/model.yaml --policy examples/policy.yaml --portfolios examples/portfolios.yaml
  go run ./cmd/riskmodel optimize ... -o json`,
	RunE: runOptimize,
}

var (
	optimizePolicy     string
	optimizePortfolios string
)

func init() {
	rootCmd.AddCommand(optimizeCmd)

	// Flags
	optimizeCmd.Flags().StringVar(&optimizePolicy, "policy", "", "policy YAML file")
	optimizeCmd.Flags().StringVar(&optimizePortfolios, "portfolios", "", "portfolios YAML file")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	p, raw, err := rt.loadPolicy(cmd.Context(), optimizePolicy)
	if err != nil {
		return err
	}
	ps, err := rt.loadPortfolios(cmd.Context(), optimizePortfolios, false)
	if err != nil {
		return err
	}

	resp, runErr := rt.engine.RunPolicy(cmd.Context(), p, ps, raw)
	if resp == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	if jsonOutput() {
		if err := printJSON(out, resp); err != nil {
			return err
		}
		return runErr
	}

	printOptimizeResult(cmd, resp)
	return runErr
}

func printOptimizeResult(cmd *cobra.Command, resp *contracts.OptimizeResponse) {
	out := cmd.OutOrStdout()
	printHeader(out, "Optimization: "+resp.PolicyID)

	printKeyValue(out, "Run ID", resp.RunID, 14)
	printKeyValue(out, "Preset", string(resp.Preset), 14)
	printKeyValue(out, "Status", string(resp.Status), 14)
	printKeyValue(out, "Solver status", string(resp.SolverStatus), 14)
	printKeyValue(out, "Attempts", fmt.Sprintf("%d", resp.Attempts), 14)
	printKeyValue(out, "Iterations", fmt.Sprintf("%d", resp.Iterations), 14)
	printKeyValue(out, "Duration", fmt.Sprintf("%dms", resp.DurationMs), 14)
	if resp.Objective != nil {
		printKeyValue(out, "Objective", num(*resp.Objective), 14)
	}
	if resp.Ridge > 0 {
		printKeyValue(out, "Ridge", fmt.Sprintf("%g", resp.Ridge), 14)
	}

	if resp.Status != optimizer.StatusOptimal {
		fmt.Fprintln(out)
		printError(out, resp.Error)
		for _, v := range resp.Violations {
			printWarning(out, v.String())
		}
		printSeparator(out)
		return
	}

	switch resp.Preset {
	case optimizer.PresetInternallyHedgedFactorNeutral, optimizer.PresetInternallyHedgedFactorTolerant:
		// 헤지 프리셋: Weights = 헤지, Portfolio = 기존 + 헤지
		printMap(out, "Hedge", resp.Weights, pct)
		printMap(out, "Portfolio", resp.Portfolio, pct)
	default:
		printMap(out, "Weights", resp.Weights, pct)
	}
	if d := resp.Decomposition; d != nil {
		fmt.Fprintln(out)
		printKeyValue(out, "Total variance", num(d.TotalVariance), 16)
		printKeyValue(out, "Factor variance", num(d.FactorVariance), 16)
		printMap(out, "Factor exposure", d.Exposure, num)
	}
	fmt.Fprintln(out)
	printSuccess(out, "optimal")
	printSeparator(out)
}
