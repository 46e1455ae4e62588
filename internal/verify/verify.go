// Package verify decides whether a task's changes satisfy its acceptance
// criteria: it runs the project's test suite (when one is detected) and then
// a second agent pass whose sole job is to emit a verdict over the diff and
// test output.
package verify

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/mattmoran56/ralph-orchestrator-ui/internal/agent"
	"github.com/mattmoran56/ralph-orchestrator-ui/internal/prompt"
	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

// Test runner limits.
const (
	DefaultTestTimeout = 5 * time.Minute
	maxTestOutputBytes = 10 << 20
)

// AgentRunner is the subset of the agent runner the verifier needs.
type AgentRunner interface {
	Run(ctx context.Context, spec agent.ProcessSpec) (agent.Outcome, error)
}

// TestResult records the test-runner step.
type TestResult struct {
	Ran     bool
	Passed  bool
	Command string
	Output  string
}

// ReviewResult records the self-review step.
type ReviewResult struct {
	Passed bool
	Reason string
	Output string
}

// Result is the combined verification outcome:
// passed = (tests didn't run OR tests passed) AND review passed.
type Result struct {
	Passed bool
	Tests  TestResult
	Review ReviewResult
}

// Request describes one verification.
type Request struct {
	ProjectID   string
	Task        models.Task
	WorkDir     string
	Diff        string
	LogFilePath string // verify-pass transcript, keyed <taskId>-verify
}

// Verifier runs the verification pipeline.
type Verifier struct {
	Agent       AgentRunner
	TestTimeout time.Duration
	// Strict fails the review when the agent emits neither verdict marker.
	// Default (lenient) passes unless a clear failure is present.
	Strict bool
	Log    *slog.Logger
}

// NewVerifier returns a verifier using the given agent runner.
func NewVerifier(runner AgentRunner, strict bool, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{Agent: runner, TestTimeout: DefaultTestTimeout, Strict: strict, Log: log}
}

// VerifyTask runs tests then the self-review. A verifier subprocess failure
// counts as a failed review, not an error.
func (v *Verifier) VerifyTask(ctx context.Context, req Request) Result {
	tests := v.runTests(ctx, req.WorkDir)
	review := v.runReview(ctx, req, tests.Output)
	return Result{
		Passed: (!tests.Ran || tests.Passed) && review.Passed,
		Tests:  tests,
		Review: review,
	}
}

func (v *Verifier) runTests(ctx context.Context, dir string) TestResult {
	cmdArgs, ok := DetectTestCommand(dir)
	if !ok {
		return TestResult{Ran: false}
	}
	timeout := v.TestTimeout
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}
	testCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(testCtx, cmdArgs[0], cmdArgs[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if len(out) > maxTestOutputBytes {
		out = out[:maxTestOutputBytes]
	}
	res := TestResult{
		Ran:     true,
		Passed:  err == nil,
		Command: strings.Join(cmdArgs, " "),
		Output:  string(out),
	}
	if testCtx.Err() == context.DeadlineExceeded {
		res.Passed = false
		res.Output += "\n(test runner timed out)"
	}
	return res
}

func (v *Verifier) runReview(ctx context.Context, req Request, testOutput string) ReviewResult {
	p := prompt.Verification(req.Task, req.Diff, testOutput)
	outcome, err := v.Agent.Run(ctx, agent.ProcessSpec{
		ProjectID:        req.ProjectID,
		TaskID:           req.Task.ID + "-verify",
		Prompt:           p,
		WorkingDirectory: req.WorkDir,
		LogFilePath:      req.LogFilePath,
	})
	if err != nil {
		v.Log.Warn("verifier agent failed", "task", req.Task.ID, "err", err)
		return ReviewResult{Passed: false, Reason: "verifier error"}
	}
	if !outcome.OK {
		// A crashed or killed verifier leaves a partial transcript; its
		// verdict (or lenient default) cannot be trusted.
		v.Log.Warn("verifier agent exited abnormally", "task", req.Task.ID,
			"exit", outcome.ExitCode, "stopped", outcome.Stopped)
		return ReviewResult{Passed: false, Reason: "verifier error", Output: outcome.CombinedOutput}
	}
	passed, reason := ParseVerdict(outcome.CombinedOutput, v.Strict)
	return ReviewResult{Passed: passed, Reason: reason, Output: outcome.CombinedOutput}
}

var lenientPassPhrases = []string{
	"all criteria met",
	"looks good",
	"verified",
}

// ParseVerdict extracts the review verdict from a transcript. Explicit
// markers win; otherwise lenient mode passes unless a clear failure phrase
// is present, while strict mode fails on an unknown verdict.
func ParseVerdict(output string, strict bool) (passed bool, reason string) {
	if idx := strings.Index(output, prompt.VerificationFailed); idx >= 0 {
		rest := output[idx+len(prompt.VerificationFailed):]
		rest = strings.TrimLeft(rest, ": \t")
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[:nl]
		}
		return false, strings.TrimSpace(rest)
	}
	if strings.Contains(output, prompt.VerificationPassed) {
		return true, ""
	}
	if strict {
		return false, "no verification verdict in output"
	}
	lower := strings.ToLower(output)
	for _, phrase := range lenientPassPhrases {
		if strings.Contains(lower, phrase) {
			return true, ""
		}
	}
	// Lenient fallback: no clear failure means pass.
	return true, ""
}
