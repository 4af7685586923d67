package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Ask the LLM for a diagnosis of a date range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		rng, err := parseRange(start, end, env.Location)
		if err != nil {
			return err
		}

		res, err := env.Analyzer.Analyze(ctx, rng)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Analysis)
	},
}

func init() {
	addRangeFlags(analyzeCmd)
	rootCmd.AddCommand(analyzeCmd)
}
