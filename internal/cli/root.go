// Package cli defines the ralphd command tree. Catalog and task commands go
// through the HTTP API of the running daemon; lifecycle commands manage the
// daemon process itself.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/config"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/daemon"
	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/client"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "ralphd",
		Short:        "ralphd: autonomous coding-agent orchestration",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override ralphd home directory (default: ~/.ralphd, env: RALPHD_HOME)")

	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())

	cmd.AddCommand(newRepoCmd())
	cmd.AddCommand(newProjectCmd())
	cmd.AddCommand(newTaskCmd())

	// Hidden internal subcommand used by `ralphd start` for background mode.
	cmd.AddCommand(newDaemonCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}

// apiClient returns a client for the running daemon, or an error when no
// daemon is up.
func apiClient(ctx context.Context) (*client.Client, error) {
	home := config.MustHomeFrom(ctx)
	st, err := daemon.Status(ctx, home)
	if err != nil {
		return nil, err
	}
	if !st.Running {
		return nil, fmt.Errorf("ralphd is not running (start it with `ralphd start`)")
	}
	return client.New("http://" + st.Addr), nil
}
