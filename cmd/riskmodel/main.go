package main

import (
	"os"

	"github.com/blaahhrrgg/equity-risk-model/cmd/riskmodel/commands"
)

// main is the entry point for the risk model CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/riskmodel [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
