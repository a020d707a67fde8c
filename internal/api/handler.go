// Package api exposes the control surface over HTTP: operator auth, engine
// start/stop/shutdown, read-only state queries, and a websocket event stream.
package api

import (
	"net/http"
	"time"

	"apex-core/internal/engine"
	"apex-core/internal/events"
	"apex-core/internal/monitor"
	"apex-core/internal/state"
	"apex-core/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the trading core.
type Server struct {
	Router    *gin.Engine
	Engine    *engine.Engine
	Store     *state.Store
	Bus       *events.Bus
	DB        *db.Database
	Metrics   *monitor.Metrics
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime identity exposed to clients.
type SystemMeta struct {
	Venue       string   `json:"venue"`
	Symbols     []string `json:"symbols"`
	DryRun      bool     `json:"dry_run"`
	InstanceTag string   `json:"instance_tag"`
	Version     string   `json:"version"`
}

// NewServer builds the router with the standard middleware stack.
func NewServer(eng *engine.Engine, store *state.Store, bus *events.Bus, database *db.Database, metrics *monitor.Metrics, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Order matters: recovery first, logging after the request ID is set.
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Engine:    eng,
		Store:     store,
		Bus:       bus,
		DB:        database,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/status", s.getStatus)
			protected.GET("/positions", s.getPositions)
			protected.GET("/positions/history", s.getPositionHistory)
			protected.GET("/positions/:id", s.getPositionDetail)
			protected.GET("/signals", s.getSignals)
			protected.GET("/stats", s.getStats)
			protected.GET("/stats/daily", s.getDailyStats)
			protected.GET("/balance", s.getBalance)
			protected.GET("/metrics", s.getMetrics)
			protected.GET("/shutdown", s.getShutdownRecord)

			protected.POST("/engine/start", s.startEngine)
			protected.POST("/engine/stop", s.stopEngine)
			protected.POST("/engine/shutdown", s.shutdownEngine)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
