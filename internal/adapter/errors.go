package adapter

import (
	"fmt"
	"strings"
)

// AttemptError records one failed candidate during fallback.
type AttemptError struct {
	AdapterID string
	Err       error
}

func (a AttemptError) Error() string {
	return fmt.Sprintf("%s: %v", a.AdapterID, a.Err)
}

// AllAdaptersFailedError is returned when every eligible candidate failed.
// Callers branch on it to classify the failure as retriable.
type AllAdaptersFailedError struct {
	Role     string
	Attempts []AttemptError
}

func (e *AllAdaptersFailedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return fmt.Sprintf("all adapters failed for role %s: [%s]", e.Role, strings.Join(parts, "; "))
}

// ErrNoCandidates is wrapped when the skip/circuit filters leave nothing to
// try.
var ErrNoCandidates = fmt.Errorf("no eligible adapters")
