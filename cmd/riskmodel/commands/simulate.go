package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blaahhrrgg/equity-risk-model/internal/contracts"
	"github.com/blaahhrrgg/equity-risk-model/internal/risk"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "팩터 모델 Monte Carlo",
	Long: `팩터 공분산 + 고유분산으로 수익률을 시뮬레이션해 VaR/CVaR 를 추정합니다.

Example:
  go run ./cmd/riskmodel simulate --model examples/model.yaml --portfolios examples/portfolios.yaml --name current
  go run ./cmd/riskmodel simulate ... --sims 50000 --distribution student_t --dof 5 --seed 42`,
	RunE: runSimulate,
}

var (
	simPortfolios   string
	simName         string
	simCount        int
	simHorizon      float64
	simDistribution string
	simDoF          float64
	simSeed         uint64
	simConfidence   []float64
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	// Flags
	simulateCmd.Flags().StringVar(&simPortfolios, "portfolios", "", "portfolios YAML file")
	simulateCmd.Flags().StringVar(&simName, "name", "", "portfolio name")
	simulateCmd.Flags().IntVar(&simCount, "sims", 0, "number of simulations (default 10000)")
	simulateCmd.Flags().Float64Var(&simHorizon, "horizon", 0, "horizon in covariance periods (default 1)")
	simulateCmd.Flags().StringVar(&simDistribution, "distribution", "", "normal|student_t")
	simulateCmd.Flags().Float64Var(&simDoF, "dof", 0, "student-t degrees of freedom")
	simulateCmd.Flags().Uint64Var(&simSeed, "seed", 0, "random seed (0 = random)")
	simulateCmd.Flags().Float64SliceVar(&simConfidence, "confidence", nil, "confidence levels")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	ps, err := rt.loadPortfolios(cmd.Context(), simPortfolios, true)
	if err != nil {
		return err
	}
	weights, ok := ps[simName]
	if !ok {
		return fmt.Errorf("portfolio %q not found", simName)
	}

	res, err := rt.engine.Simulate(cmd.Context(), contracts.SimulateRequest{
		Weights: weights,
		Config: risk.SimulationConfig{
			NumSimulations:   simCount,
			Horizon:          simHorizon,
			ConfidenceLevels: simConfidence,
			Distribution:     risk.Distribution(simDistribution),
			DegreesOfFreedom: simDoF,
			Seed:             simSeed,
		},
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(out, res)
	}

	printHeader(out, "Monte Carlo: "+simName)
	if len(res.UnknownAssets) > 0 {
		printWarning(out, "ignored unknown assets: "+strings.Join(res.UnknownAssets, ", "))
	}
	printKeyValue(out, "Simulations", fmt.Sprintf("%d", res.Config.NumSimulations), 12)
	printKeyValue(out, "Distribution", string(res.Config.Distribution), 12)
	printKeyValue(out, "Mean", pct(res.MeanReturn), 12)
	printKeyValue(out, "Std dev", pct(res.StdDev), 12)

	fmt.Fprintln(out)
	widths := []int{10, 10, 10}
	printTableHeader(out, []string{"Confidence", "VaR", "CVaR"}, widths)
	for _, v := range res.Tail {
		printTableRow(out, []string{pct(v.Confidence), pct(v.VaR), pct(v.CVaR)}, widths)
	}

	levels := make([]int, 0, len(res.Percentiles))
	for p := range res.Percentiles {
		levels = append(levels, p)
	}
	sort.Ints(levels)
	fmt.Fprintln(out)
	for _, p := range levels {
		printKeyValue(out, fmt.Sprintf("p%d", p), pct(res.Percentiles[p]), 12)
	}
	printSeparator(out)
	return nil
}
