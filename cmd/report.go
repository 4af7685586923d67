package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ciplastic/funnel-dashboard/internal/dashboard"
	"github.com/ciplastic/funnel-dashboard/internal/export"
	"github.com/ciplastic/funnel-dashboard/internal/model"
	"github.com/ciplastic/funnel-dashboard/pkg/notion"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export a period's metrics to xlsx and/or Notion",
	Long: `Builds a funnel report for a date range. Ad campaigns are included
when Meta credentials are set; the LLM diagnosis with --analysis.

Examples:
  funnel report --out marzo.xlsx --start 2025-03-01 --end 2025-03-31
  funnel report --notion --analysis`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "report"))

		out, _ := cmd.Flags().GetString("out")
		toNotion, _ := cmd.Flags().GetBool("notion")
		withAnalysis, _ := cmd.Flags().GetBool("analysis")
		if out == "" && !toNotion {
			return eris.New("report: set --out and/or --notion")
		}
		if toNotion {
			if err := cfg.Validate("report"); err != nil {
				return err
			}
		}

		env, err := initEnv(ctx, "sync")
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

		res, err := env.Service.Metrics(ctx, rng, dashboard.Options{})
		if err != nil {
			return err
		}

		var ads *model.AccountSummary
		if env.Ads.Configured() {
			ads, err = env.Service.Campaigns(ctx, rng)
			if err != nil {
				log.Warn("ad summary unavailable, report continues without it", zap.Error(err))
				ads = nil
			}
		}

		var diagnosis *model.Analysis
		if withAnalysis {
			ar, err := env.Analyzer.Analyze(ctx, rng)
			if err != nil {
				return err
			}
			diagnosis = &ar.Analysis
		}

		if out != "" {
			if err := export.SaveWorkbook(out, rng, res, ads); err != nil {
				return err
			}
			log.Info("workbook written", zap.String("path", out))
		}

		if toNotion {
			client := notion.NewClient(cfg.Notion.Token)
			page, err := notion.PublishReport(ctx, client, cfg.Notion.ReportDB, notion.Report{
				Range:    rng,
				Metrics:  res,
				Ads:      ads,
				Analysis: diagnosis,
			})
			if err != nil {
				return err
			}
			log.Info("notion report published", zap.String("page_id", string(page.ID)), zap.String("url", page.URL))
		}
		return nil
	},
}

func init() {
	addRangeFlags(reportCmd)
	reportCmd.Flags().String("out", "", "write an xlsx workbook to this path")
	reportCmd.Flags().Bool("notion", false, "publish to the configured Notion reports database")
	reportCmd.Flags().Bool("analysis", false, "include the LLM diagnosis (requires anthropic.key)")
	rootCmd.AddCommand(reportCmd)
}
