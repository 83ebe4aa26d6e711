package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"maestro/internal/events"
	"maestro/internal/messages"
)

// replyWait bounds how long a handler blocks on the coordinator's answer.
// Coordinators reply from their own goroutine, so this only trips when a
// coordinator is wedged mid-dispatch.
const replyWait = 5 * time.Second

type actionRequest struct {
	TaskID  string            `json:"task_id" binding:"required"`
	Action  string            `json:"action" binding:"required"`
	Payload map[string]string `json:"payload"`
}

func (s *Server) handleAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id and action are required"})
		return
	}

	// The receipt is on the stream before any outcome event.
	s.deps.Bus.Publish(events.TypeActionReceived, req.TaskID, map[string]any{
		"action":  req.Action,
		"payload": req.Payload,
	})

	if _, ok := s.deps.Store.Get(req.TaskID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	msg := messages.Intervention{
		TaskID:  req.TaskID,
		Action:  req.Action,
		Payload: req.Payload,
		Reply:   messages.NewInterventionReply(),
	}
	if !s.deps.Tasks.Deliver(req.TaskID, msg) {
		// Known task without a live coordinator: already terminal.
		c.JSON(http.StatusConflict, gin.H{
			"error": "task is no longer running",
			"code":  messages.RejectInvalidState,
		})
		return
	}

	select {
	case outcome := <-msg.Reply:
		s.writeOutcome(c, outcome)
	case <-time.After(replyWait):
		c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
	}
}

func (s *Server) writeOutcome(c *gin.Context, outcome messages.InterventionOutcome) {
	if outcome.Accepted {
		status := http.StatusOK
		body := gin.H{"status": "accepted"}
		if outcome.Deferred {
			status = http.StatusAccepted
			body["status"] = "deferred"
		}
		if outcome.Detail != "" {
			body["detail"] = outcome.Detail
		}
		c.JSON(status, body)
		return
	}

	status := http.StatusConflict
	switch outcome.Code {
	case messages.RejectPayloadInvalid, messages.RejectUnsupportedAction:
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{
		"error": outcome.Detail,
		"code":  outcome.Code,
	})
}
