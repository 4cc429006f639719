package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	modelFile string
	output    string
	verbose   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "riskmodel",
	Short: "Equity factor risk model - 리스크 분해 / 포트폴리오 최적화",
	Long: `Equity Factor Risk Model CLI

멀티팩터 리스크 모델 기반 리스크 분해, tear sheet, 제약 최적화.
모델/정책/포트폴리오는 YAML 파일로 입력.

Usage:
  go run ./cmd/riskmodel [command]

Examples:
  go run ./cmd/riskmodel validate --model examples/model.yaml --policy examples/policy.yaml
  go run ./cmd/riskmodel risk --model examples/model.yaml --portfolios examples/portfolios.yaml --name current
  go run ./cmd/riskmodel optimize --model examples/model.yaml --policy examples/policy.yaml --portfolios examples/portfolios.yaml
  go run ./cmd/riskmodel tearsheet --model examples/model.yaml --portfolios examples/portfolios.yaml --kind concentration
  go run ./cmd/riskmodel serve --model examples/model.yaml`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&modelFile, "model", "", "risk model YAML file")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table|json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
