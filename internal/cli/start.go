package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/config"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/daemon"
)

func newStartCmd() *cobra.Command {
	var (
		port       int
		foreground bool
		dev        bool
		pprofAddr  string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the ralphd daemon (HTTP API + orchestrator)",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			opts := daemon.StartOptions{
				Home:      home,
				Port:      port,
				Dev:       dev,
				PprofAddr: pprofAddr,
			}
			if foreground {
				return daemon.StartForeground(cmd.Context(), opts)
			}
			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ralphd started (pid %d)\n", pid)
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "API listen port (default: config.yaml or 7381)")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")

	return cmd
}
