package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectCreateCmd())
	cmd.AddCommand(newProjectDeleteCmd())
	cmd.AddCommand(newProjectRunCmd("start", "Start the orchestrator loop for a project"))
	cmd.AddCommand(newProjectRunCmd("stop", "Stop a running project"))
	cmd.AddCommand(newProjectRunCmd("pause", "Pause a running project"))
	cmd.AddCommand(newProjectRunCmd("resume", "Resume a paused project"))
	cmd.AddCommand(newProjectLogsCmd())
	return cmd
}

func newProjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			projects, err := c.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No projects.")
				return nil
			}
			for _, p := range projects {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s  %s [%s] branch=%s iteration=%d/%d\n",
					p.ID, p.Name, p.Status, p.WorkingBranch, p.CurrentIteration, p.MaxIterations)
			}
			return nil
		},
	}
}

func newProjectCreateCmd() *cobra.Command {
	var (
		repoID        string
		name          string
		description   string
		productBrief  string
		solutionBrief string
		baseBranch    string
		maxIterations int
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			if repoID == "" {
				return errors.New("--repo is required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			project, err := c.CreateProject(cmd.Context(), models.Project{
				RepositoryID:  repoID,
				Name:          name,
				Description:   description,
				ProductBrief:  productBrief,
				SolutionBrief: solutionBrief,
				BaseBranch:    baseBranch,
				MaxIterations: maxIterations,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created project %q (%s), working branch %s\n", project.Name, project.ID, project.WorkingBranch)
			return nil
		},
	}
	cmd.Flags().StringVar(&repoID, "repo", "", "Repository id")
	cmd.Flags().StringVar(&name, "name", "", "Project name")
	cmd.Flags().StringVar(&description, "description", "", "Project description")
	cmd.Flags().StringVar(&productBrief, "product-brief", "", "Product brief given to the agent")
	cmd.Flags().StringVar(&solutionBrief, "solution-brief", "", "Solution brief given to the agent")
	cmd.Flags().StringVar(&baseBranch, "base-branch", "", "Base branch (default: repository default)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Iteration cap (default 50)")
	return cmd
}

func newProjectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project, its workspace, and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.DeleteProject(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Deleted")
			return nil
		},
	}
}

func newProjectRunCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			switch verb {
			case "start":
				err = c.StartProject(cmd.Context(), args[0])
			case "stop":
				err = c.StopProject(cmd.Context(), args[0])
			case "pause":
				err = c.PauseProject(cmd.Context(), args[0])
			case "resume":
				err = c.ResumeProject(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newProjectLogsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show orchestrator messages for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			logs, err := c.GetOrchestratorLogs(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			for _, l := range logs {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", l.Timestamp.Format("2006-01-02 15:04:05"), l.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Max messages (0 = all)")
	return cmd
}
