// Package goap implements goal-oriented action planning: a world state bit
// vector over a closed key set, an action catalogue with preconditions,
// effects and costs, and an A* planner over the induced state space.
package goap

import (
	"sort"
	"strings"
)

// Key is one Boolean fact about a task's world.
type Key uint

// The closed key set. Every world state is a valuation of exactly these.
const (
	TaskExists Key = iota
	AdapterAvailable
	PlanExists
	BuildExists
	ReviewPassed
	ReviewRejected
	RetryLimitReached
	TaskBlocked
	SubTasksSpawned
	SubTasksCompleted
	ConsensusReached
	ConsensusDisputed
	HighFailureRateDetected
	SimilarTaskSucceeded

	numKeys
)

var keyNames = [numKeys]string{
	"TaskExists",
	"AdapterAvailable",
	"PlanExists",
	"BuildExists",
	"ReviewPassed",
	"ReviewRejected",
	"RetryLimitReached",
	"TaskBlocked",
	"SubTasksSpawned",
	"SubTasksCompleted",
	"ConsensusReached",
	"ConsensusDisputed",
	"HighFailureRateDetected",
	"SimilarTaskSucceeded",
}

// String returns the key's canonical name.
func (k Key) String() string {
	if k < numKeys {
		return keyNames[k]
	}
	return "Unknown"
}

// State is an immutable-semantics valuation of the closed key set. The zero
// value has every key false. Mutation always returns a new value.
type State uint16

// With returns a copy of s with key set to value.
func (s State) With(key Key, value bool) State {
	if value {
		return s | 1<<key
	}
	return s &^ (1 << key)
}

// Get reports the value of key in s.
func (s State) Get(key Key) bool {
	return s&(1<<key) != 0
}

// Condition is a partial assignment: only the keys in Mask are constrained,
// and Want carries their required values.
type Condition struct {
	Mask State
	Want State
}

// Cond builds a Condition from key/value pairs.
func Cond(pairs ...KeyValue) Condition {
	var c Condition
	for _, kv := range pairs {
		c.Mask |= 1 << kv.Key
		if kv.Value {
			c.Want |= 1 << kv.Key
		}
	}
	return c
}

// KeyValue pairs a key with a required or produced value.
type KeyValue struct {
	Key   Key
	Value bool
}

// KV is shorthand for building KeyValue pairs.
func KV(key Key, value bool) KeyValue {
	return KeyValue{Key: key, Value: value}
}

// SatisfiedBy reports whether state s meets every constrained key of c.
func (c Condition) SatisfiedBy(s State) bool {
	return s&c.Mask == c.Want&c.Mask
}

// Apply overlays the condition's constrained keys onto s, returning the new
// state.
func (c Condition) Apply(s State) State {
	return (s &^ c.Mask) | (c.Want & c.Mask)
}

// Unsatisfied counts the constrained keys of c whose value in s differs.
// This is the planner's admissible heuristic: each action sets at most one
// goal key, so the count never overestimates remaining actions.
func (c Condition) Unsatisfied(s State) int {
	diff := (s ^ c.Want) & c.Mask
	count := 0
	for diff != 0 {
		diff &= diff - 1
		count++
	}
	return count
}

// String renders the true keys of s for logs and test failures.
func (s State) String() string {
	var names []string
	for k := Key(0); k < numKeys; k++ {
		if s.Get(k) {
			names = append(names, keyNames[k])
		}
	}
	if len(names) == 0 {
		return "{}"
	}
	sort.Strings(names)
	return "{" + strings.Join(names, ",") + "}"
}
