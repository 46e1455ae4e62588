// Package prompt builds the prompts sent to the code-agent CLI: the
// execution prompt for working a task and the verification prompt for the
// self-review pass.
package prompt

import (
	"fmt"
	"strings"

	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

// Markers the agent is instructed to emit.
const (
	TaskComplete       = "TASK_COMPLETE"
	TaskBlocked        = "TASK_BLOCKED"
	VerificationPassed = "VERIFICATION_PASSED"
	VerificationFailed = "VERIFICATION_FAILED"
)

// Execution builds the prompt for working one task. Other tasks are listed
// for context only, tagged with their status.
func Execution(project models.ProjectInfo, task models.Task, others []models.Task) string {
	var b strings.Builder

	if project.ProductBrief != "" {
		b.WriteString("## Project Context\n\n")
		b.WriteString(project.ProductBrief)
		b.WriteString("\n\n")
	}
	if project.SolutionBrief != "" {
		b.WriteString("## Solution Overview\n\n")
		b.WriteString(project.SolutionBrief)
		b.WriteString("\n\n")
	}

	b.WriteString("## Current Task\n\n")
	b.WriteString("**" + task.Title + "**\n\n")
	if task.Description != "" {
		b.WriteString(task.Description)
		b.WriteString("\n\n")
	}

	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("## Acceptance Criteria\n\n")
		for i, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Instructions\n\n")
	b.WriteString("1. Read the existing code to understand the project structure and conventions.\n")
	b.WriteString("2. Implement the task so every acceptance criterion is satisfied.\n")
	b.WriteString("3. Run the project's tests and make sure they pass.\n")
	b.WriteString("4. Commit your changes with a descriptive message (git add + git commit).\n\n")
	fmt.Fprintf(&b, "When the task is fully complete, print %s on its own line.\n", TaskComplete)
	fmt.Fprintf(&b, "If you cannot proceed, print %s: <reason> and stop.\n\n", TaskBlocked)

	if len(others) > 0 {
		b.WriteString("## Other Tasks\n\n")
		b.WriteString("For context only. Do not work on these.\n\n")
		for _, t := range others {
			fmt.Fprintf(&b, "- [%s] %s\n", t.Status, t.Title)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Important Notes\n\n")
	b.WriteString("- Stay focused on the current task; do not expand scope.\n")
	b.WriteString("- Never push to the remote or open pull requests; the orchestrator handles that.\n")
	b.WriteString("- Keep the test suite green.\n")

	return b.String()
}

// Verification builds the self-review prompt over the task, its criteria,
// the diff, and the test output.
func Verification(task models.Task, diff, testOutput string) string {
	var b strings.Builder

	b.WriteString("You are verifying whether a completed coding task satisfies its acceptance criteria.\n\n")
	b.WriteString("## Task\n\n")
	b.WriteString("**" + task.Title + "**\n\n")
	if task.Description != "" {
		b.WriteString(task.Description)
		b.WriteString("\n\n")
	}

	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("## Acceptance Criteria\n\n")
		for i, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Changes\n\n```diff\n")
	b.WriteString(diff)
	if !strings.HasSuffix(diff, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n\n")

	b.WriteString("## Test Output\n\n```\n")
	if testOutput == "" {
		b.WriteString("(no test runner detected)\n")
	} else {
		b.WriteString(testOutput)
		if !strings.HasSuffix(testOutput, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("```\n\n")

	b.WriteString("## Verdict\n\n")
	fmt.Fprintf(&b, "Review the changes against every criterion. Respond with exactly %s if all criteria are met, or %s: <reason> if any are not.\n", VerificationPassed, VerificationFailed)

	return b.String()
}
