package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ciplastic/funnel-dashboard/internal/dashboard"
	"github.com/ciplastic/funnel-dashboard/internal/model"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Compute funnel metrics for a date range",
	Long: `Computes funnel metrics through the same tiers as the API: memory,
stored snapshot, stored records, then the CRM.

Examples:
  # Current month as a table
  funnel metrics

  # Explicit range, fresh from the CRM, as JSON
  funnel metrics --start 2025-03-01 --end 2025-03-31 --refresh --json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		refresh, _ := cmd.Flags().GetBool("refresh")
		asJSON, _ := cmd.Flags().GetBool("json")

		rng, err := parseRange(start, end, env.Location)
		if err != nil {
			return err
		}
		res, tier, err := env.Service.Lookup(ctx, rng, dashboard.Options{ForceRefresh: refresh})
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		fmt.Fprintf(os.Stdout, "Periodo %s al %s (source: %s)\n\n", rng.Start, rng.End, tier)
		formatFunnel(os.Stdout, res)
		return nil
	},
}

func init() {
	addRangeFlags(metricsCmd)
	metricsCmd.Flags().Bool("refresh", false, "skip caches and re-fetch from the CRM")
	metricsCmd.Flags().Bool("json", false, "print the full result as JSON")
	rootCmd.AddCommand(metricsCmd)
}

func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("start", "", "range start YYYY-MM-DD (default: first of current month)")
	cmd.Flags().String("end", "", "range end YYYY-MM-DD (default: last of current month)")
}

// formatFunnel writes the headline counts and the channel table to w.
func formatFunnel(out io.Writer, res *model.MetricsResult) {
	f := res.Funnel
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Leads\t%d\n", f.TotalLeads)
	_, _ = fmt.Fprintf(w, "Calificados\t%d\n", f.LeadsCalificados)
	_, _ = fmt.Fprintf(w, "Agendadas valoración\t%d\n", f.AgendadasValoracion)
	_, _ = fmt.Fprintf(w, "Valoradas con cotización\t%d\n", f.ValoradasCotizacion)
	_, _ = fmt.Fprintf(w, "Oportunidades de cierre\t%d\n", f.OportunidadesCierreTotal)
	_, _ = fmt.Fprintf(w, "Depósitos\t%d\n", f.DepositosRealizados)
	_, _ = fmt.Fprintf(w, "Valor depósitos\t%.2f\n", f.TotalDepositos)
	_, _ = fmt.Fprintf(w, "Tasa de contacto\t%s%%\n", f.TasaContacto)
	_, _ = fmt.Fprintf(w, "Tasa de conversión\t%s%%\n", f.TasaConversion)
	_, _ = fmt.Fprintf(w, "Días promedio a cierre\t%d\n", res.Times.PromedioTiempoCierre)
	_ = w.Flush()

	if len(res.Sources) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tLEADS\tCALIFICADOS\tDEPOSITOS\tVALOR\tCONV%")
	for _, s := range res.Sources {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.2f\t%s\n",
			s.Source, s.Total, s.Calificados, s.Depositos, s.ValorTotal, s.TasaConversion)
	}
	_ = w.Flush()
}
