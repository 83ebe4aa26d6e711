package roles

import (
	"fmt"
	"strings"

	"maestro/internal/messages"
)

// PlannerPrompt renders the planning request. Sub-task lines in the answer
// must follow the SUBTASK marker format so the coordinator can spawn them.
func PlannerPrompt(req messages.ExecuteRole) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the planner for a development task.\n\n")
	fmt.Fprintf(&b, "Task: %s\n", req.Title)
	if req.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", req.Description)
	}
	b.WriteString("\nProduce a concrete step-by-step plan. ")
	b.WriteString("If the task should be split, emit one line per sub-task in the form:\n")
	b.WriteString("SUBTASK: <title>|<description>\n")
	return b.String()
}

// BuilderPrompt renders the build request, threading the plan and any rework
// feedback through.
func BuilderPrompt(req messages.ExecuteRole) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the builder for a development task.\n\n")
	fmt.Fprintf(&b, "Task: %s\n", req.Title)
	if req.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", req.Description)
	}
	if req.PlanOutput != "" {
		fmt.Fprintf(&b, "\nPlan:\n%s\n", req.PlanOutput)
	}
	if req.BuildOutput != "" {
		fmt.Fprintf(&b, "\nPrevious build output:\n%s\n", req.BuildOutput)
	}
	if req.ReworkFeedback != "" {
		fmt.Fprintf(&b, "\nRework feedback to address:\n%s\n", req.ReworkFeedback)
	}
	b.WriteString("\nImplement the plan. Describe the changes you made.\n")
	return b.String()
}

// ReviewerPrompt renders the review request. The verdict marker line is the
// primary signal the coordinator parses.
func ReviewerPrompt(req messages.ExecuteRole) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the reviewer for a development task.\n\n")
	fmt.Fprintf(&b, "Task: %s\n", req.Title)
	if req.PlanOutput != "" {
		fmt.Fprintf(&b, "\nPlan:\n%s\n", req.PlanOutput)
	}
	if req.BuildOutput != "" {
		fmt.Fprintf(&b, "\nBuild output under review:\n%s\n", req.BuildOutput)
	}
	b.WriteString("\nReview the build against the plan. End with exactly one line:\n")
	b.WriteString("ACTION: Approve\nor\nACTION: Reject\n")
	return b.String()
}

func promptFor(req messages.ExecuteRole) (string, bool) {
	if req.Prompt != "" {
		return req.Prompt, true
	}
	switch req.Role {
	case messages.RolePlanner:
		return PlannerPrompt(req), true
	case messages.RoleBuilder:
		return BuilderPrompt(req), true
	case messages.RoleReviewer:
		return ReviewerPrompt(req), true
	default:
		return "", false
	}
}
