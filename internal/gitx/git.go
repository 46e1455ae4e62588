// Package gitx encapsulates all git and pull-request operations for project
// workspaces. Every operation shells out to the git CLI (or gh for pull
// requests) and returns a uniform Result; the orchestrator decides which
// failures are fatal.
package gitx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/workspace"
)

// CoAuthorTrailer attributes agent-authored commits.
const CoAuthorTrailer = "Co-Authored-By: Ralph Agent <ralph@localhost>"

// Result is the uniform outcome of a git or gh invocation.
type Result struct {
	OK     bool
	Output string
	Err    string
}

func ok(output string) Result { return Result{OK: true, Output: output} }

func fail(output string, err error) Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if output != "" {
		msg = strings.TrimSpace(output)
	}
	return Result{OK: false, Output: output, Err: msg}
}

// Driver runs git operations inside project workspaces.
type Driver struct {
	Workspaces *workspace.Store
}

// NewDriver returns a driver over the given workspace store.
func NewDriver(ws *workspace.Store) *Driver {
	return &Driver{Workspaces: ws}
}

// repoDir computes <workspaces>/<projectID>/<repoName(url)>.
func (d *Driver) repoDir(projectID, url string) string {
	return filepath.Join(d.Workspaces.ProjectDir(projectID), workspace.RepoNameFromURL(url))
}

// run executes git with the given args in dir, returning combined output.
func (d *Driver) run(ctx context.Context, dir string, args ...string) Result {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fail(string(out), fmt.Errorf("git %s: %w", args[0], err))
	}
	return ok(string(out))
}

// Clone clones url into the project workspace. If the checkout already
// exists with .git, it fetches instead (idempotent); a directory without
// .git is removed and cloned fresh.
func (d *Driver) Clone(ctx context.Context, projectID, url string) Result {
	dir := d.repoDir(projectID, url)
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return d.run(ctx, dir, "fetch", "origin", "--prune")
	}
	if _, err := os.Stat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return fail("", fmt.Errorf("remove stale checkout: %w", err))
		}
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fail("", err)
	}
	return d.run(ctx, filepath.Dir(dir), "clone", url, dir)
}

// CheckoutOrCreateBranch tries a local checkout, falls back to a remote
// tracking checkout, and finally creates the branch from HEAD.
func (d *Driver) CheckoutOrCreateBranch(ctx context.Context, projectID, url, branch string) Result {
	dir := d.repoDir(projectID, url)
	if res := d.run(ctx, dir, "checkout", branch); res.OK {
		return res
	}
	if res := d.run(ctx, dir, "checkout", "-b", branch, "origin/"+branch); res.OK {
		return res
	}
	return d.run(ctx, dir, "checkout", "-b", branch)
}

// CreateWorkingBranch prepares the per-project working branch. When the
// branch already exists remotely (a prior run), it is checked out and
// pulled to resume; otherwise it is created from baseBranch after pulling.
func (d *Driver) CreateWorkingBranch(ctx context.Context, projectID, url, workingBranch, baseBranch string) Result {
	dir := d.repoDir(projectID, url)
	if exists, res := d.remoteBranchExists(ctx, dir, workingBranch); !res.OK {
		return res
	} else if exists {
		if res := d.CheckoutOrCreateBranch(ctx, projectID, url, workingBranch); !res.OK {
			return res
		}
		return d.run(ctx, dir, "pull", "origin", workingBranch)
	}
	if res := d.CheckoutOrCreateBranch(ctx, projectID, url, baseBranch); !res.OK {
		return res
	}
	// Pull may fail for a base branch that only exists locally; not fatal.
	_ = d.run(ctx, dir, "pull", "origin", baseBranch)
	return d.run(ctx, dir, "checkout", "-b", workingBranch)
}

// Commit stages everything and commits with the agent co-author trailer.
// A clean working tree is a successful no-op.
func (d *Driver) Commit(ctx context.Context, projectID, url, message string) Result {
	dir := d.repoDir(projectID, url)
	status := d.run(ctx, dir, "status", "--porcelain")
	if !status.OK {
		return status
	}
	if strings.TrimSpace(status.Output) == "" {
		return ok("nothing to commit")
	}
	if res := d.run(ctx, dir, "add", "-A"); !res.OK {
		return res
	}
	return d.run(ctx, dir, "commit", "-m", message+"\n\n"+CoAuthorTrailer)
}

// Push pushes branch with upstream. When the branch exists remotely a
// rebase pull runs first so the push does not fail on a stale remote.
func (d *Driver) Push(ctx context.Context, projectID, url, branch string) Result {
	dir := d.repoDir(projectID, url)
	if exists, res := d.remoteBranchExists(ctx, dir, branch); res.OK && exists {
		if pull := d.run(ctx, dir, "pull", "--rebase", "origin", branch); !pull.OK {
			return pull
		}
	}
	return d.run(ctx, dir, "push", "-u", "origin", branch)
}

// RemoteBranchExists probes origin for the branch.
func (d *Driver) RemoteBranchExists(ctx context.Context, projectID, url, branch string) (bool, Result) {
	return d.remoteBranchExists(ctx, d.repoDir(projectID, url), branch)
}

func (d *Driver) remoteBranchExists(ctx context.Context, dir, branch string) (bool, Result) {
	res := d.run(ctx, dir, "ls-remote", "--heads", "origin", branch)
	if !res.OK {
		return false, res
	}
	return strings.TrimSpace(res.Output) != "", res
}

// GetCurrentBranch returns the checked-out branch name.
func (d *Driver) GetCurrentBranch(ctx context.Context, projectID, url string) Result {
	res := d.run(ctx, d.repoDir(projectID, url), "rev-parse", "--abbrev-ref", "HEAD")
	if res.OK {
		res.Output = strings.TrimSpace(res.Output)
	}
	return res
}

// GetDiff returns git diff HEAD (uncommitted changes).
func (d *Driver) GetDiff(ctx context.Context, projectID, url string) Result {
	return d.run(ctx, d.repoDir(projectID, url), "diff", "HEAD")
}

// GetDiffFromBase returns the diff of the working branch against baseBranch.
func (d *Driver) GetDiffFromBase(ctx context.Context, projectID, url, baseBranch string) Result {
	dir := d.repoDir(projectID, url)
	res := d.run(ctx, dir, "diff", "origin/"+baseBranch+"...HEAD")
	if res.OK {
		return res
	}
	return d.run(ctx, dir, "diff", baseBranch+"...HEAD")
}

// CreatePullRequest invokes the GitHub CLI. gh must be on PATH and
// authenticated; base is the PR target branch.
func (d *Driver) CreatePullRequest(ctx context.Context, projectID, url, title, body, base string) Result {
	dir := d.repoDir(projectID, url)
	cmd := exec.CommandContext(ctx, "gh", "pr", "create", "--title", title, "--body", body, "--base", base)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fail(string(out), fmt.Errorf("gh pr create: %w", err))
	}
	return ok(string(out))
}

// CleanupWorkspace removes the project workspace directory.
func (d *Driver) CleanupWorkspace(projectID string) Result {
	if err := d.Workspaces.Remove(projectID); err != nil {
		return fail("", err)
	}
	return ok("")
}
