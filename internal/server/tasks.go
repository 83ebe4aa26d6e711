package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"maestro/internal/registry"
)

type submitTaskRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

func (s *Server) handleSubmitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	if s.cfg.SoftTaskCap > 0 && s.deps.Tasks.ActiveCount() >= s.cfg.SoftTaskCap {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "task capacity reached, retry later",
		})
		return
	}

	task, err := s.deps.Tasks.Submit(req.Title, req.Description)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (s *Server) handleListTasks(c *gin.Context) {
	var tasks []registry.Task
	if status := c.Query("status"); status != "" {
		st := registry.Status(status)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + status})
			return
		}
		for _, t := range s.deps.Store.List() {
			if t.Status == st {
				tasks = append(tasks, t)
			}
		}
	} else {
		tasks = s.deps.Store.List()
	}
	if tasks == nil {
		tasks = []registry.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, ok := s.deps.Store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}
