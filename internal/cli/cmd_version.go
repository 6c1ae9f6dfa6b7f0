package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/toolscout/catalogd/internal/api"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print catalogd version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "catalogd %s (commit %s, built %s, %s)\n",
				api.Version, api.GitCommit, api.BuildTime, runtime.Version())
		},
	}
}
