package cli

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/config"
	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Verify runtime dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string

			if _, err := exec.LookPath("git"); err != nil {
				problems = append(problems, "missing dependency: git (not found on PATH)")
			}
			// gh is needed for pull requests and the repository browser.
			if _, err := exec.LookPath("gh"); err != nil {
				problems = append(problems, "missing dependency: gh (not found on PATH)")
			}

			agentExe := models.DefaultAgentExecutable
			if fc, err := config.LoadFileConfig(home); err == nil && fc.Defaults.AgentExecutable != "" {
				agentExe = fc.Defaults.AgentExecutable
			}
			if _, err := exec.LookPath(agentExe); err != nil {
				problems = append(problems, fmt.Sprintf("missing dependency: %s (agent executable not found on PATH)", agentExe))
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
