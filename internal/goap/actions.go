package goap

// Canonical action names. The coordinator's dispatch table is keyed on
// these.
const (
	ActionPlan            = "Plan"
	ActionBuild           = "Build"
	ActionReview          = "Review"
	ActionRework          = "Rework"
	ActionSecondOpinion   = "SecondOpinion"
	ActionWaitForSubTasks = "WaitForSubTasks"
	ActionFinalize        = "Finalize"
	ActionEscalate        = "Escalate"
)

// Action describes one step the coordinator can take: the partial state it
// requires, the partial state it produces, and its base cost.
type Action struct {
	Name          string
	Preconditions Condition
	Effects       Condition
	BaseCost      int
}

// DefaultCatalogue returns the static action set. Effects model the
// optimistic outcome of each action; the coordinator overwrites the world
// state with observed reality after every dispatch.
//
// Finalize and Escalate carry no planner-visible effects: the coordinator
// synthesizes Finalize when the plan comes back empty and Escalate on a dead
// end, so neither needs to move the search.
func DefaultCatalogue() []Action {
	return []Action{
		{
			Name: ActionPlan,
			Preconditions: Cond(
				KV(TaskExists, true),
				KV(AdapterAvailable, true),
				KV(PlanExists, false),
				KV(TaskBlocked, false),
			),
			Effects:  Cond(KV(PlanExists, true)),
			BaseCost: 2,
		},
		{
			Name: ActionBuild,
			Preconditions: Cond(
				KV(PlanExists, true),
				KV(AdapterAvailable, true),
				KV(BuildExists, false),
				KV(TaskBlocked, false),
			),
			Effects:  Cond(KV(BuildExists, true)),
			BaseCost: 3,
		},
		{
			Name: ActionReview,
			Preconditions: Cond(
				KV(BuildExists, true),
				KV(AdapterAvailable, true),
				KV(ReviewPassed, false),
				KV(ReviewRejected, false),
				KV(TaskBlocked, false),
			),
			Effects: Cond(
				KV(ReviewPassed, true),
				KV(ReviewRejected, false),
			),
			BaseCost: 2,
		},
		{
			Name: ActionRework,
			Preconditions: Cond(
				KV(ReviewRejected, true),
				KV(AdapterAvailable, true),
				KV(RetryLimitReached, false),
				KV(TaskBlocked, false),
			),
			Effects: Cond(
				KV(BuildExists, true),
				KV(ReviewPassed, false),
				KV(ReviewRejected, false),
			),
			BaseCost: 4,
		},
		{
			Name: ActionSecondOpinion,
			Preconditions: Cond(
				KV(ConsensusDisputed, true),
				KV(AdapterAvailable, true),
				KV(TaskBlocked, false),
			),
			Effects: Cond(
				KV(ConsensusReached, true),
				KV(ConsensusDisputed, false),
				KV(ReviewPassed, true),
				KV(ReviewRejected, false),
			),
			BaseCost: 3,
		},
		{
			Name: ActionWaitForSubTasks,
			Preconditions: Cond(
				KV(SubTasksSpawned, true),
				KV(SubTasksCompleted, false),
				KV(TaskBlocked, false),
			),
			Effects:  Cond(KV(SubTasksCompleted, true)),
			BaseCost: 1,
		},
		{
			Name:          ActionFinalize,
			Preconditions: Cond(KV(ReviewPassed, true), KV(TaskBlocked, false)),
			Effects:       Condition{},
			BaseCost:      1,
		},
		{
			Name:          ActionEscalate,
			Preconditions: Cond(KV(TaskBlocked, false)),
			Effects:       Cond(KV(TaskBlocked, true)),
			BaseCost:      10,
		},
	}
}

// CatalogueWithout returns actions minus the named ones. Used by tests and
// dead-end drills.
func CatalogueWithout(actions []Action, names ...string) []Action {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		if !drop[a.Name] {
			out = append(out, a)
		}
	}
	return out
}
