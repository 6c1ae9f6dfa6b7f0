package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/toolscout/catalogd/internal/domain"
	"github.com/toolscout/catalogd/internal/quality"
)

func newQualityPassCmd(opts *GlobalOpts) *cobra.Command {
	var (
		autoFix bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "quality-pass",
		Short: "Run one data quality pass over the catalog and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			qcfg, err := quality.LoadConfig(ctx, a.settings)
			if err != nil {
				return fmt.Errorf("load quality config: %w", err)
			}
			if cmd.Flags().Changed("auto-fix") {
				qcfg.AutoFix = autoFix
			}

			report, err := a.engine.RunQualityPass(ctx, qcfg)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printQualitySummary(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&autoFix, "auto-fix", false, "apply corrective fixes (overrides the persisted setting)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}

func printQualitySummary(w io.Writer, r *domain.QualityReport) {
	fmt.Fprintf(w, "quality score %d (%d records, %d clean, %d with errors, %d with warnings)\n",
		r.QualityScore, r.TotalRecords, r.CleanRecords, r.RecordsWithErrors, r.RecordsWithWarnings)
	fmt.Fprintf(w, "mock data %d (%.1f%%), suspicious %d, fixes applied %d\n",
		r.MockDataRecords, r.MockDataPct(), r.SuspiciousRecords, r.FixesApplied)
	for _, reason := range r.AlertReasons {
		fmt.Fprintf(w, "alert: %s\n", reason)
	}
}
