package cli

import (
	"github.com/spf13/cobra"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/config"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	var (
		port      int
		dev       bool
		pprofAddr string
	)

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run the daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			return daemon.StartForeground(cmd.Context(), daemon.StartOptions{
				Home:      home,
				Port:      port,
				Dev:       dev,
				PprofAddr: pprofAddr,
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "API listen port")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address")

	return cmd
}
