package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/config"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/daemon"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ralphd daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := daemon.Status(cmd.Context(), home)
			if err != nil {
				return err
			}
			if !st.Running {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ralphd not running")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ralphd running (pid %d, addr %s)\n", st.PID, st.Addr)

			// Show active runs when the API answers.
			if c, err := apiClient(cmd.Context()); err == nil {
				if runs, err := c.OrchestratorStatus(cmd.Context()); err == nil && len(runs) > 0 {
					for id, r := range runs {
						_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  project %s: %s (iteration %d)\n", id, r.Status, r.Iteration)
					}
				}
			}
			return nil
		},
	}
}
