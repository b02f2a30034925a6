// Package server exposes the HTTP surface: session CRUD, stage advance,
// the SSE turn endpoint, and operational endpoints.
package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/user/sagecodex/internal/orchestrator"
	"github.com/user/sagecodex/internal/types"
)

// Server wires handlers to their dependencies. Everything is injected;
// substituting fakes in tests needs no global state.
type Server struct {
	engine   *gin.Engine
	orch     *orchestrator.Orchestrator
	sessions types.SessionStore
	messages types.MessageStore
	states   types.StateStore
	metrics  *Metrics
	log      zerolog.Logger
}

// Options configures the HTTP surface.
type Options struct {
	JWTSecret   string
	CORSOrigins []string
}

// New creates the Server and registers all routes.
func New(
	orch *orchestrator.Orchestrator,
	sessions types.SessionStore,
	messages types.MessageStore,
	states types.StateStore,
	reg *prometheus.Registry,
	opts Options,
	log zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(log))

	corsCfg := cors.DefaultConfig()
	if len(opts.CORSOrigins) == 1 && opts.CORSOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = opts.CORSOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	engine.Use(cors.New(corsCfg))

	s := &Server{
		engine:   engine,
		orch:     orch,
		sessions: sessions,
		messages: messages,
		states:   states,
		metrics:  NewMetrics(reg),
		log:      log,
	}

	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api := engine.Group("/api", JWTAuth(opts.JWTSecret))
	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleGetSession)
	api.POST("/sessions/:id/deactivate", s.handleDeactivateSession)
	api.POST("/sessions/:id/advance", s.handleAdvanceStage)
	api.POST("/sessions/:id/messages", s.handleMessage)

	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
