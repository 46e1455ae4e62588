package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage project tasks",
	}
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskAddCmd())
	cmd.AddCommand(newTaskDeleteCmd())
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return errors.New("--project is required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := c.ListTasks(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
				return nil
			}
			for _, t := range tasks {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s  [%s] p%d attempts=%d  %s\n", t.ID, t.Status, t.Priority, t.Attempts, t.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Project id")
	return cmd
}

func newTaskAddCmd() *cobra.Command {
	var (
		projectID   string
		title       string
		description string
		criteria    []string
		priority    int
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task to a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return errors.New("--project is required")
			}
			if title == "" {
				return errors.New("--title is required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			task, err := c.AddTask(cmd.Context(), projectID, models.Task{
				Title:              title,
				Description:        description,
				AcceptanceCriteria: criteria,
				Priority:           priority,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added task %q (%s)\n", task.Title, task.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Project id")
	cmd.Flags().StringVar(&title, "title", "", "Task title")
	cmd.Flags().StringVar(&description, "description", "", "Task description")
	cmd.Flags().StringArrayVar(&criteria, "criterion", nil, "Acceptance criterion (repeatable)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority (lower runs earlier)")
	return cmd
}

func newTaskDeleteCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "delete <taskId>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return errors.New("--project is required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.DeleteTask(cmd.Context(), projectID, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Deleted")
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Project id")
	return cmd
}
