// Package github wraps the GitHub CLI (gh) for authentication checks and
// listing the user's repositories. All operations shell out; nothing here
// talks to the GitHub API directly.
package github

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

// AuthStatus reports whether gh is installed and authenticated.
type AuthStatus struct {
	Installed     bool   `json:"installed"`
	Authenticated bool   `json:"authenticated"`
	Detail        string `json:"detail,omitempty"`
}

// CheckAuth probes `gh auth status`.
func CheckAuth(ctx context.Context) AuthStatus {
	if _, err := exec.LookPath("gh"); err != nil {
		return AuthStatus{Installed: false, Detail: "gh not found on PATH"}
	}
	out, err := exec.CommandContext(ctx, "gh", "auth", "status").CombinedOutput()
	if err != nil {
		return AuthStatus{Installed: true, Authenticated: false, Detail: strings.TrimSpace(string(out))}
	}
	return AuthStatus{Installed: true, Authenticated: true}
}

// Login starts the browser-based gh login flow. Blocks until gh exits.
func Login(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "gh", "auth", "login", "--web").CombinedOutput()
	if err != nil {
		return fmt.Errorf("gh auth login: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// ghRepoQuery emits one JSON object per repository. url carries the web
// URL (html_url); cloning derives its own URL from it.
const ghRepoQuery = `.[] | {name: .name, nameWithOwner: .full_name, url: .html_url, isPrivate: .private, owner: {login: .owner.login}}`

// ListRepos returns the authenticated user's repositories, sorted by
// owner/name.
func ListRepos(ctx context.Context) ([]models.GitHubRepo, error) {
	cmd := exec.CommandContext(ctx, "gh", "api", "/user/repos", "--paginate", "-q", ghRepoQuery)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gh api /user/repos: %s", strings.TrimSpace(stderr.String()))
	}
	return parseRepoLines(&stdout)
}

// parseRepoLines decodes one repository per line and sorts by owner/name.
func parseRepoLines(r io.Reader) ([]models.GitHubRepo, error) {
	repos := []models.GitHubRepo{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var repo models.GitHubRepo
		if err := json.Unmarshal([]byte(line), &repo); err != nil {
			return nil, fmt.Errorf("parse gh output: %w", err)
		}
		repos = append(repos, repo)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.Slice(repos, func(i, j int) bool {
		return repos[i].NameWithOwner < repos[j].NameWithOwner
	})
	return repos, nil
}
