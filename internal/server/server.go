// Package server exposes the HTTP ingress: task submission, human actions,
// event streaming over SSE and WebSocket, health and metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"maestro/internal/events"
	"maestro/internal/logging"
	"maestro/internal/registry"
)

// TaskService is the slice of the dispatcher the HTTP layer needs.
type TaskService interface {
	Submit(title, description string) (registry.Task, error)
	Deliver(taskID string, msg any) bool
	ActiveCount() int
}

// FleetReporter exposes supervisor counters for the health endpoint.
type FleetReporter interface {
	Snapshot() FleetSnapshot
}

// FleetSnapshot mirrors dispatch.Snapshot without importing the package.
type FleetSnapshot struct {
	Started         int
	Completed       int
	Failed          int
	Escalated       int
	QualityConcerns int
}

// Config tunes the ingress server.
type Config struct {
	Addr        string
	SoftTaskCap int
	Debug       bool
}

// Deps carries the runtime components the handlers call into.
type Deps struct {
	Tasks    TaskService
	Store    *registry.Store
	Bus      *events.Bus
	Fleet    FleetReporter
	Registry *prometheus.Registry
	Logger   logging.Logger
}

// Server is the HTTP ingress.
type Server struct {
	cfg        Config
	deps       Deps
	engine     *gin.Engine
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	logger     logging.Logger
	startTime  time.Time
}

// New builds the server and wires all routes.
func New(cfg Config, deps Deps) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Requested-With"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		engine: engine,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:    logging.OrNop(deps.Logger),
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold connections open
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")

	api.GET("/health", s.handleHealth)

	tasks := api.Group("/tasks")
	{
		tasks.POST("", s.handleSubmitTask)
		tasks.GET("", s.handleListTasks)
		tasks.GET("/:id", s.handleGetTask)
	}

	api.POST("/actions", s.handleAction)

	eventsGroup := api.Group("/events")
	{
		eventsGroup.GET("", s.handleSSE)
		eventsGroup.GET("/ws", s.handleWebSocket)
		eventsGroup.GET("/recent", s.handleRecent)
	}

	if s.deps.Registry != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			s.deps.Registry,
			promhttp.HandlerOpts{},
		)))
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("http ingress listening on %s", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server: %v", err)
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).String(),
		"active_tasks": s.deps.Tasks.ActiveCount(),
	}
	if s.deps.Fleet != nil {
		snap := s.deps.Fleet.Snapshot()
		body["fleet"] = gin.H{
			"started":          snap.Started,
			"completed":        snap.Completed,
			"failed":           snap.Failed,
			"escalated":        snap.Escalated,
			"quality_concerns": snap.QualityConcerns,
		}
	}
	c.JSON(http.StatusOK, body)
}
