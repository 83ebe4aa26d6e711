package coordinator

import (
	"strconv"

	"maestro/internal/events"
	"maestro/internal/messages"
	"maestro/internal/registry"
)

// handleIntervention applies one human action. Every intervention gets an
// outcome on its reply channel; the bool result tells the caller whether the
// current await should be abandoned.
func (c *Coordinator) handleIntervention(m messages.Intervention) bool {
	outcome, interrupt := c.applyIntervention(m)
	if interrupt {
		// the course changed; any remembered decision is stale
		c.deferredAction = ""
	}

	eventType := events.TypeActionAcknowledged
	if !outcome.Accepted {
		eventType = events.TypeActionRejected
	}
	c.deps.Bus.Publish(events.TypeTaskIntervention, c.id, map[string]any{
		"action":   m.Action,
		"accepted": outcome.Accepted,
		"code":     outcome.Code,
	})
	c.deps.Bus.Publish(eventType, c.id, map[string]any{
		"action": m.Action,
		"code":   outcome.Code,
		"detail": outcome.Detail,
	})

	if m.Reply != nil {
		select {
		case m.Reply <- outcome:
		default:
		}
	}
	return interrupt
}

func (c *Coordinator) applyIntervention(m messages.Intervention) (messages.InterventionOutcome, bool) {
	if c.terminal {
		return reject(messages.RejectInvalidState, "task is terminal"), false
	}

	switch m.Action {
	case messages.ActionApproveReview:
		if c.status != registry.StatusReviewing {
			return reject(messages.RejectInvalidState, "task is not in review"), false
		}
		c.deps.Consensus.Cancel(c.id)
		c.applyVerdict(true, "")
		c.consensusDisputed = false
		return accept("review approved"), true

	case messages.ActionRejectReview:
		if c.status != registry.StatusReviewing {
			return reject(messages.RejectInvalidState, "task is not in review"), false
		}
		reason := m.Payload["reason"]
		if reason == "" {
			return reject(messages.RejectPayloadInvalid, "reason is required"), false
		}
		c.deps.Consensus.Cancel(c.id)
		c.escalate("review rejected by operator: " + reason)
		return accept("task blocked"), true

	case messages.ActionRequestRework:
		if c.status != registry.StatusBuilding && c.status != registry.StatusReviewing {
			return reject(messages.RejectInvalidState, "task is not building or reviewing"), false
		}
		feedback := m.Payload["feedback"]
		if feedback == "" {
			return reject(messages.RejectPayloadInvalid, "feedback is required"), false
		}
		c.deps.Consensus.Cancel(c.id)
		c.applyVerdict(false, feedback)
		c.consensusDisputed = false
		return accept("rework dispatched"), true

	case messages.ActionPauseTask:
		if c.paused {
			return reject(messages.RejectInvalidState, "already paused"), false
		}
		c.paused = true
		// Paused/Resumed are stream-only states; the registry status is
		// untouched.
		c.deps.Bus.Publish(events.TypeTaskTransition, c.id, map[string]any{
			"from": string(c.status), "to": "Paused",
		})
		return accept("paused"), false

	case messages.ActionResumeTask:
		if !c.paused {
			return reject(messages.RejectInvalidState, "not paused"), false
		}
		c.paused = false
		c.deps.Bus.Publish(events.TypeTaskTransition, c.id, map[string]any{
			"from": "Paused", "to": "Resumed",
		})
		return accept("resumed"), false

	case messages.ActionSetSubTaskDepth:
		task, _ := c.deps.Store.Get(c.id)
		if task.PlanningOutput != "" {
			return reject(messages.RejectInvalidState, "planner output already exists"), false
		}
		raw, ok := m.Payload["depth"]
		if !ok {
			return reject(messages.RejectPayloadInvalid, "depth is required"), false
		}
		depth, err := strconv.Atoi(raw)
		if err != nil || depth < 0 || depth > HardDepthCap {
			return reject(messages.RejectPayloadInvalid, "depth must be an integer in [0,10]"), false
		}
		c.cfg.MaxSubTaskDepth = depth
		return accept("depth cap set to " + raw), false

	default:
		return reject(messages.RejectUnsupportedAction, "unknown action "+m.Action), false
	}
}

func accept(detail string) messages.InterventionOutcome {
	return messages.InterventionOutcome{Accepted: true, Detail: detail}
}

func reject(code, detail string) messages.InterventionOutcome {
	return messages.InterventionOutcome{Accepted: false, Code: code, Detail: detail}
}
