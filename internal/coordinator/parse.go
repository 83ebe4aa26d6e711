package coordinator

import (
	"regexp"
	"strings"

	"maestro/internal/goap"
	"maestro/internal/quality"
)

// Verdict is the parsed outcome of a reviewer output.
type Verdict struct {
	Approved bool
	Feedback string
}

var (
	actionMarkerRe = regexp.MustCompile(`(?im)^\s*ACTION:\s*(\w+)\s*$`)
	rejectionRe    = regexp.MustCompile(`(?i)\b(reject(ed)?|fail(ed|ure)?|blocked?)\b`)
)

// parseVerdict extracts the reviewer's decision. Precedence: an explicit
// `ACTION: Approve|Reject` marker, then the quality confidence against the
// concern threshold, then the broad rejection regex as a last resort. The
// regex is known to false-positive on text like "does not block", which is
// why it sits last.
func parseVerdict(output string, confidence float64) Verdict {
	feedback := strings.TrimSpace(output)

	if m := actionMarkerRe.FindStringSubmatch(output); m != nil {
		switch strings.ToLower(m[1]) {
		case "approve", "approved":
			return Verdict{Approved: true, Feedback: feedback}
		case "reject", "rejected":
			return Verdict{Approved: false, Feedback: feedback}
		}
	}
	if confidence >= quality.ConcernThreshold {
		return Verdict{Approved: true, Feedback: feedback}
	}
	if rejectionRe.MatchString(output) {
		return Verdict{Approved: false, Feedback: feedback}
	}
	return Verdict{Approved: true, Feedback: feedback}
}

// SubTaskRequest is one parsed SUBTASK line from planner output.
type SubTaskRequest struct {
	Title       string
	Description string
}

const subTaskMarker = "SUBTASK:"

// parseSubTasks scans planner output for `SUBTASK: <title>|<description>`
// lines. Malformed lines are skipped.
func parseSubTasks(output string) []SubTaskRequest {
	var out []SubTaskRequest
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, subTaskMarker) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, subTaskMarker))
		title, description, _ := strings.Cut(rest, "|")
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		out = append(out, SubTaskRequest{
			Title:       title,
			Description: strings.TrimSpace(description),
		})
	}
	return out
}

var knownActions = map[string]bool{
	goap.ActionPlan:            true,
	goap.ActionBuild:           true,
	goap.ActionReview:          true,
	goap.ActionRework:          true,
	goap.ActionSecondOpinion:   true,
	goap.ActionWaitForSubTasks: true,
	goap.ActionFinalize:        true,
	goap.ActionEscalate:        true,
}

// parseActionChoice extracts `ACTION: <name>` from an orchestrator response.
// Unknown names fail the parse so the caller falls back to the GOAP
// recommendation.
func parseActionChoice(output string) (string, bool) {
	m := actionMarkerRe.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	name := m[1]
	if !knownActions[name] {
		return "", false
	}
	return name, true
}

// keywordOverlap reports whether two task titles share a significant word.
// Drives the SimilarTaskSucceeded stigmergy signal.
func keywordOverlap(a, b string) bool {
	words := func(s string) map[string]bool {
		out := make(map[string]bool)
		for _, w := range strings.Fields(strings.ToLower(s)) {
			if len(w) >= 4 {
				out[w] = true
			}
		}
		return out
	}
	wa := words(a)
	for w := range words(b) {
		if wa[w] {
			return true
		}
	}
	return false
}
