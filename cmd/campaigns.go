package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Show Meta campaign spend with allocated CRM outcomes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		asJSON, _ := cmd.Flags().GetBool("json")

		rng, err := parseRange(start, end, env.Location)
		if err != nil {
			return err
		}
		summary, err := env.Service.Campaigns(ctx, rng)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}
		formatCampaigns(os.Stdout, summary)
		return nil
	},
}

func init() {
	addRangeFlags(campaignsCmd)
	campaignsCmd.Flags().Bool("json", false, "print the summary as JSON")
	rootCmd.AddCommand(campaignsCmd)
}

// formatCampaigns writes one row per campaign followed by account totals.
func formatCampaigns(out io.Writer, s *model.AccountSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CAMPAIGN\tSTATUS\tSPEND\tLEADS\tCPL\tCRM_LEADS\tCRM_CIERRES\tCRM_VALOR\tCRM_CONV%")
	for _, c := range s.Campaigns {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t%d\t%d\t%d\t%s\n",
			c.CampaignName, c.Status, c.SpendFormatted, c.Leads, c.CostPerLead,
			c.GHLLeads, c.GHLCierres, c.GHLValor, c.GHLConversion)
	}
	_, _ = fmt.Fprintf(w, "TOTAL\t%d activas\t%s\t%d\t%.2f\t", s.ActiveCampaigns, s.SpendFormatted, s.Leads, s.AvgCostPerLead)
	if t := s.GHLTotals; t != nil {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%.0f\t\n", t.Total, t.Cierres, t.Valor)
	} else {
		_, _ = fmt.Fprintln(w, "-\t-\t-\t")
	}
	_ = w.Flush()
}
