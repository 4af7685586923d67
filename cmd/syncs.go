package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ciplastic/funnel-dashboard/internal/model"
	"github.com/ciplastic/funnel-dashboard/internal/monitoring"
)

var syncsCmd = &cobra.Command{
	Use:   "syncs",
	Short: "Inspect CRM sync history",
	Long:  "Commands for listing sync runs, summarizing them and checking sync health.",
}

// -- syncs list --

var syncsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sync runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListSyncs(ctx, time.Now().Add(-since), limit)
		if err != nil {
			return eris.Wrap(err, "syncs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No sync runs found.")
			return nil
		}

		formatSyncList(os.Stdout, runs)
		return nil
	},
}

// -- syncs stats --

var syncsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate sync statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		since, _ := cmd.Flags().GetDuration("since")
		runs, err := st.ListSyncs(ctx, time.Now().Add(-since), 10000)
		if err != nil {
			return eris.Wrap(err, "syncs stats")
		}

		formatSyncStats(os.Stdout, computeSyncStats(runs))
		return nil
	},
}

// -- syncs health --

var syncsHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Evaluate sync health alerts once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return err
		}
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)

		if send, _ := cmd.Flags().GetBool("send"); send && len(alerts) > 0 {
			alerter.SendAlerts(ctx, alerts)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"health": snap, "alerts": alerts})
	},
}

func init() {
	syncsListCmd.Flags().Duration("since", 7*24*time.Hour, "time window (e.g. 24h, 168h)")
	syncsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	syncsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats")

	syncsHealthCmd.Flags().Bool("send", false, "post triggered alerts to the monitoring webhook")

	syncsCmd.AddCommand(syncsListCmd)
	syncsCmd.AddCommand(syncsStatsCmd)
	syncsCmd.AddCommand(syncsHealthCmd)
	rootCmd.AddCommand(syncsCmd)
}

// syncStats holds aggregate statistics computed from a set of sync runs.
type syncStats struct {
	Total      int
	Succeeded  int
	Failed     int
	Running    int
	Fetched    int
	New        int
	Updated    int
	AvgDurSecs float64
}

func computeSyncStats(runs []model.SyncRun) syncStats {
	var s syncStats
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		switch r.Status {
		case model.SyncSucceeded:
			s.Succeeded++
			s.Fetched += r.Fetched
			s.New += r.New
			s.Updated += r.Updated
			if !r.FinishedAt.IsZero() {
				totalDur += r.FinishedAt.Sub(r.StartedAt)
				durCount++
			}
		case model.SyncFailed:
			s.Failed++
		default:
			s.Running++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatSyncList writes a tabular list of sync runs to out.
func formatSyncList(out io.Writer, runs []model.SyncRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPROVIDER\tSTATUS\tFETCHED\tNEW\tUPDATED\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t--------\t------\t-------\t---\t-------\t-------\t--------\t-----")

	for _, r := range runs {
		dur := "-"
		if !r.FinishedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		msg := r.Error
		if len(msg) > 40 {
			msg = msg[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Provider,
			r.Status,
			r.Fetched,
			r.New,
			r.Updated,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			msg,
		)
	}
	_ = w.Flush()
}

func formatSyncStats(out io.Writer, s syncStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total syncs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Succeeded:\t%d\n", s.Succeeded)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	_, _ = fmt.Fprintf(w, "Records fetched:\t%d\n", s.Fetched)
	_, _ = fmt.Fprintf(w, "  New:\t%d\n", s.New)
	_, _ = fmt.Fprintf(w, "  Updated:\t%d\n", s.Updated)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
