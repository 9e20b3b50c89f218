package workflow

import (
	"fmt"
	"strings"
)

// Audit action tags. Every distinct transition has its own tag; stage
// numbers are embedded so reporting can tell stages apart.
const (
	TagSubmitted               = "submitted"
	TagSubmittedStage1Approved = "submitted_and_stage1_approved"
	TagSubmittedForCrossCheck  = "submitted_for_cross_check"
	TagSubmittedAutoCompleted  = "submitted_and_auto_completed"
	TagRejected                = "rejected"
	escalatedSuffix            = "_escalated"
)

func approvedTag(stage int) string {
	return fmt.Sprintf("stage%d_approved", stage)
}

func completedTag(stage int) string {
	return fmt.Sprintf("stage%d_completed", stage)
}

func approvedSkippingTag(stage int, skipped []int) string {
	return fmt.Sprintf("stage%d_approved_%s_skipped", stage, joinStages(skipped, "_"))
}

func skippedTag(stage int, skipped []int) string {
	return fmt.Sprintf("stage%d_skipped_%s", stage, joinStages(skipped, "_"))
}

func skipNote(skipped []int) string {
	return "[skipped " + joinStages(skipped, ", ") + "]"
}

func joinStages(stages []int, sep string) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = fmt.Sprintf("stage%d", s)
	}
	return strings.Join(parts, sep)
}

// IsEscalated reports whether an audit tag records an escalation-role action.
func IsEscalated(tag string) bool {
	return strings.HasSuffix(tag, escalatedSuffix)
}
