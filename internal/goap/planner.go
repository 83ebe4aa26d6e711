package goap

import (
	"container/heap"
	"fmt"
)

// Plan is the planner's answer: either an ordered action list reaching the
// goal, or DeadEnd when the goal is unreachable from the current state.
type Plan struct {
	Actions []Action
	DeadEnd bool
}

// Empty reports whether the plan reached the goal with no work left.
func (p Plan) Empty() bool {
	return !p.DeadEnd && len(p.Actions) == 0
}

// First returns the recommended next action.
func (p Plan) First() (Action, bool) {
	if p.DeadEnd || len(p.Actions) == 0 {
		return Action{}, false
	}
	return p.Actions[0], true
}

// Names lists the plan's action names in order, for logs and events.
func (p Plan) Names() []string {
	out := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		out[i] = a.Name
	}
	return out
}

// Planner runs A* over the discrete world-state space.
type Planner struct{}

// NewPlanner returns a stateless planner. Determinism is guaranteed for
// identical inputs, including cost overrides.
func NewPlanner() *Planner {
	return &Planner{}
}

type node struct {
	state   State
	g       float64 // cost from start
	f       float64 // g + heuristic
	parent  *node
	arrival Action // action that produced this node
	hasArr  bool
	index   int // heap bookkeeping
	order   uint64
}

type openSet []*node

func (o openSet) Len() int { return len(o) }

func (o openSet) Less(i, j int) bool {
	if o[i].f != o[j].f {
		return o[i].f < o[j].f
	}
	// Reproducible plans: break ties on insertion order, which is itself
	// derived from the lexically sorted action expansion below.
	return o[i].order < o[j].order
}

func (o openSet) Swap(i, j int) {
	o[i], o[j] = o[j], o[i]
	o[i].index = i
	o[j].index = j
}

func (o *openSet) Push(x any) {
	n := x.(*node)
	n.index = len(*o)
	*o = append(*o, n)
}

func (o *openSet) Pop() any {
	old := *o
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*o = old[:len(old)-1]
	return n
}

// Plan searches for the cheapest action sequence from current to a state
// subsuming goal. costOverrides multiplies the base cost of the named
// actions (absent entries default to 1.0). Overrides must be non-negative.
func (pl *Planner) Plan(current State, goal Condition, actions []Action, costOverrides map[string]float64) (Plan, error) {
	for name, mult := range costOverrides {
		if mult < 0 {
			return Plan{}, fmt.Errorf("negative cost override for action %q: %v", name, mult)
		}
	}
	for _, a := range actions {
		if a.BaseCost < 0 {
			return Plan{}, fmt.Errorf("negative base cost for action %q: %d", a.Name, a.BaseCost)
		}
	}

	if goal.SatisfiedBy(current) {
		return Plan{}, nil
	}

	// Expansion in lexical action-name order keeps tie-broken plans stable
	// across runs.
	sorted := append([]Action(nil), actions...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Name < sorted[j-1].Name; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	start := &node{state: current, f: float64(goal.Unsatisfied(current))}
	open := &openSet{}
	heap.Init(open)
	heap.Push(open, start)

	best := map[State]float64{current: 0}
	var pushes uint64

	for open.Len() > 0 {
		n := heap.Pop(open).(*node)
		if goal.SatisfiedBy(n.state) {
			return Plan{Actions: unwind(n)}, nil
		}
		if n.g > best[n.state] {
			continue // stale entry
		}

		for _, a := range sorted {
			if !a.Preconditions.SatisfiedBy(n.state) {
				continue
			}
			next := a.Effects.Apply(n.state)
			if next == n.state {
				continue // no progress; avoids zero-cost loops
			}
			mult := 1.0
			if costOverrides != nil {
				if m, ok := costOverrides[a.Name]; ok {
					mult = m
				}
			}
			g := n.g + float64(a.BaseCost)*mult
			if seen, ok := best[next]; ok && g >= seen {
				continue
			}
			best[next] = g
			pushes++
			heap.Push(open, &node{
				state:   next,
				g:       g,
				f:       g + float64(goal.Unsatisfied(next)),
				parent:  n,
				arrival: a,
				hasArr:  true,
				order:   pushes,
			})
		}
	}

	return Plan{DeadEnd: true}, nil
}

func unwind(n *node) []Action {
	var rev []Action
	for cur := n; cur != nil && cur.hasArr; cur = cur.parent {
		rev = append(rev, cur.arrival)
	}
	out := make([]Action, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}
