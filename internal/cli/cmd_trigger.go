package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/toolscout/catalogd/internal/domain"
)

func newTriggerCmd(opts *GlobalOpts) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "trigger <discovery|refresh|manual-refresh>",
		Short: "Start an automation run in this process",
		Long: `Start an automation run in this process. Without --wait the command
returns as soon as the run is accepted and the run is cancelled on exit, so
--wait is what you want outside of tests.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseJobKind(args[0])
			if err != nil {
				return err
			}
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

			if err := a.orch.Start(ctx); err != nil {
				return err
			}
			defer a.orch.Stop()

			accepted, err := a.orch.TriggerRun(ctx, kind)
			if err != nil {
				return err
			}
			if accepted.AlreadyRunning {
				slog.Warn("trigger: run already in progress", "kind", kind)
			}
			out := cmd.OutOrStdout()
			if !wait {
				return json.NewEncoder(out).Encode(accepted)
			}

			if err := a.orch.Wait(ctx, kind); err != nil {
				return err
			}
			st, err := a.orch.GetStatus(ctx, kind)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(st); err != nil {
				return err
			}
			if st.State != domain.RunStateCompleted {
				return fmt.Errorf("%s run finished with state %s", kind, st.State)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the run finishes and print its status")
	return cmd
}
