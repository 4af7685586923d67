package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/model"
)

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List CRM pipeline stages and their funnel keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		stages, err := env.Service.Stages(ctx)
		if err != nil {
			return err
		}
		formatStages(os.Stdout, stages, env.Service.Calculator().Taxonomy)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stagesCmd)
}

// formatStages prints CRM stages next to the taxonomy key they resolve to.
func formatStages(out io.Writer, stages []model.Stage, tax *funnel.Taxonomy) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tKEY")
	for _, s := range stages {
		key := "-"
		if known, ok := tax.Lookup(s.ID); ok {
			key = known.Key
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.DisplayName, key)
	}
	_ = w.Flush()
}
