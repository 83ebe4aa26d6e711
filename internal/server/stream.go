package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const heartbeatInterval = 30 * time.Second

// handleSSE streams the event bus over Server-Sent Events. The subscription
// replays the ring first, so a reconnecting client sees recent history
// before live envelopes.
func (s *Server) handleSSE(c *gin.Context) {
	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel := s.deps.Bus.Subscribe()
	defer cancel()

	if _, err := fmt.Fprintf(w, "event: connected\ndata: {\"sequence\":%d}\n\n", s.deps.Bus.Sequence()); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case env, open := <-ch:
			if !open {
				// Dropped as a slow subscriber; the client reconnects
				// and replays the ring.
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				s.logger.Error("marshal envelope %d: %v", env.Sequence, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, data); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

// handleWebSocket streams the same envelopes over a WebSocket connection.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch, cancel := s.deps.Bus.Subscribe()
	defer cancel()

	// Reader goroutine notices client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case env, open := <-ch:
			if !open {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// handleRecent returns a bounded slice of the ring for polling clients.
func (s *Server) handleRecent(c *gin.Context) {
	count := 50
	if raw := c.Query("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a positive integer"})
			return
		}
		count = parsed
	}
	c.JSON(http.StatusOK, gin.H{
		"sequence": s.deps.Bus.Sequence(),
		"events":   s.deps.Bus.Recent(count),
	})
}
