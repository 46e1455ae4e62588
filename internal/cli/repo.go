package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

func newRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage the repository catalog",
	}
	cmd.AddCommand(newRepoListCmd())
	cmd.AddCommand(newRepoCreateCmd())
	cmd.AddCommand(newRepoDeleteCmd())
	cmd.AddCommand(newRepoBrowseCmd())
	return cmd
}

func newRepoListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			repos, err := c.ListRepositories(cmd.Context())
			if err != nil {
				return err
			}
			if len(repos) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No repositories.")
				return nil
			}
			for _, r := range repos {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s  %s (default %s) [%s]\n", r.ID, r.FullName, r.DefaultBranch, r.URL)
			}
			return nil
		},
	}
}

func newRepoCreateCmd() *cobra.Command {
	var (
		url           string
		name          string
		fullName      string
		defaultBranch string
		private       bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				return errors.New("--url is required")
			}
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			repo, err := c.CreateRepository(cmd.Context(), models.Repository{
				URL:           url,
				Name:          name,
				FullName:      fullName,
				DefaultBranch: defaultBranch,
				IsPrivate:     private,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s)\n", repo.FullName, repo.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Clone URL")
	cmd.Flags().StringVar(&name, "name", "", "Repository name (derived from --full-name when empty)")
	cmd.Flags().StringVar(&fullName, "full-name", "", "owner/name")
	cmd.Flags().StringVar(&defaultBranch, "default-branch", "", "Default branch (default: main)")
	cmd.Flags().BoolVar(&private, "private", false, "Mark as private")
	return cmd
}

func newRepoDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a repository (fails while projects reference it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.DeleteRepository(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Deleted")
			return nil
		},
	}
}

func newRepoBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "List your GitHub repositories (via gh)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			repos, err := c.GitHubRepos(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range repos {
				vis := "public"
				if r.IsPrivate {
					vis = "private"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s (%s) %s\n", r.NameWithOwner, vis, r.URL)
			}
			return nil
		},
	}
}
