package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/importer"
)

var importFile string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Backfill the store from a CRM opportunity export (.csv or .xlsx)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if importFile == "" {
			return eris.New("import: --file is required")
		}

		loc, err := funnel.LoadLocation(cfg.Funnel.Timezone)
		if err != nil {
			return err
		}
		tax, err := funnel.LoadTaxonomy(cfg.Funnel.TaxonomyFile)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		sum, err := importer.Load(ctx, st, importFile, tax, loc)
		if err != nil {
			zap.L().Error("import failed", zap.String("file", importFile), zap.Error(err))
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to the export file")
	rootCmd.AddCommand(importCmd)
}
