package agent

import (
	"regexp"
	"strings"
)

var (
	taskBlockedReason = regexp.MustCompile(`TASK_BLOCKED:\s*(.+)`)
	blockedReason     = regexp.MustCompile(`BLOCKED:\s*(.+)`)
)

// ParseMarkers scans a transcript for the completion markers. Blocked
// dominates: TASK_COMPLETE alongside a blocker still counts as blocked.
// Matching is case-sensitive.
func ParseMarkers(output string) (taskComplete, taskBlocked bool, reason string) {
	taskBlocked = strings.Contains(output, "TASK_BLOCKED") || strings.Contains(output, "BLOCKED")
	taskComplete = strings.Contains(output, "TASK_COMPLETE") && !taskBlocked
	if taskBlocked {
		if m := taskBlockedReason.FindStringSubmatch(output); m != nil {
			reason = strings.TrimSpace(m[1])
		} else if m := blockedReason.FindStringSubmatch(output); m != nil {
			reason = strings.TrimSpace(m[1])
		}
	}
	return taskComplete, taskBlocked, reason
}
