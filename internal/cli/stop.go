package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/config"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/daemon"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running ralphd daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			stopped, err := daemon.Stop(cmd.Context(), home)
			if err != nil {
				return err
			}
			if !stopped {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ralphd is not running")
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Stopped")
			return nil
		},
	}
}
