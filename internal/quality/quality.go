// Package quality scores role outputs with a deterministic heuristic. The
// score is advisory: it gates self-retries and surfaces concerns, it never
// fails a task by itself.
package quality

import (
	"strings"

	"maestro/internal/messages"
)

// Exported thresholds consumed by workers and the supervisor.
const (
	// ConcernThreshold is the confidence below which a worker surfaces a
	// quality concern.
	ConcernThreshold = 0.5
	// SelfRetryThreshold is the confidence below which a worker re-executes
	// once with an alternative adapter.
	SelfRetryThreshold = 0.3
)

// Factor weights. They sum to 1 so the result stays in [0,1].
const (
	weightLength    = 0.3
	weightKeywords  = 0.3
	weightAdapter   = 0.2
	weightStructure = 0.2
)

// Role-dependent length normalisation.
const (
	lengthNormDefault  = 500
	lengthNormReviewer = 300
)

var roleKeywords = map[string][]string{
	messages.RolePlanner:  {"step", "plan", "approach", "first", "then", "subtask"},
	messages.RoleBuilder:  {"implement", "code", "function", "test", "file", "change"},
	messages.RoleReviewer: {"review", "approve", "reject", "issue", "correct", "quality"},
}

var adapterPriors = map[string]float64{
	"claude": 0.85,
	"gemini": 0.75,
	"codex":  0.70,
	"qwen":   0.65,
	"ollama": 0.60,
}

// Evaluate returns a confidence in [0,1] for an adapter's output. The same
// inputs always yield the same score.
func Evaluate(output, role, adapterID string) float64 {
	return weightLength*lengthScore(output, role) +
		weightKeywords*keywordScore(output, role) +
		weightAdapter*adapterPrior(adapterID) +
		weightStructure*structureScore(output, role)
}

func lengthScore(output, role string) float64 {
	norm := lengthNormDefault
	if role == messages.RoleReviewer {
		norm = lengthNormReviewer
	}
	score := float64(len(output)) / float64(norm)
	if score > 1 {
		return 1
	}
	return score
}

func keywordScore(output, role string) float64 {
	words, ok := roleKeywords[role]
	if !ok {
		return 0.5
	}
	lower := strings.ToLower(output)
	hits := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

func adapterPrior(adapterID string) float64 {
	if p, ok := adapterPriors[adapterID]; ok {
		return p
	}
	return 0.5
}

func structureScore(output, role string) float64 {
	if role == messages.RoleOrchestrator {
		return 0.5
	}
	indicators := []bool{
		strings.Contains(output, "```"),
		hasListMarker(output),
		hasHeader(output),
	}
	sum := 0.0
	for _, present := range indicators {
		if present {
			sum += 1.0
		} else {
			sum += 0.5
		}
	}
	return sum / float64(len(indicators))
}

func hasListMarker(output string) bool {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			return true
		}
		if len(trimmed) > 2 && trimmed[0] >= '0' && trimmed[0] <= '9' &&
			(trimmed[1] == '.' || trimmed[1] == ')') {
			return true
		}
	}
	return false
}

func hasHeader(output string) bool {
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			return true
		}
	}
	return false
}
