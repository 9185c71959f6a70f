// Package stubserver is an in-process implementation of the clinic backend
// API, used by integration tests and local development. It enforces the
// authoritative guards the portal client defers to.
package stubserver

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/sitwo-project/clinic-portal/pkg/auth"
	"github.com/sitwo-project/clinic-portal/pkg/logger"
	"github.com/sitwo-project/clinic-portal/pkg/security"
	"github.com/sitwo-project/clinic-portal/pkg/validator"
)

type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
	RateLimit   rate.Limit
	RateBurst   int
}

type Server struct {
	engine    *gin.Engine
	data      *Data
	tokens    auth.TokenService
	hasher    security.PasswordHasher
	validator *validator.Validator
	metrics   *serverMetrics
	logger    *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "clinic-portal-dev-secret"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 200
	}

	hasher := security.NewBcryptHasher(10)
	s := &Server{
		engine:    gin.New(),
		data:      NewData(hasher),
		tokens:    auth.NewJWTService(cfg.JWTSecret, cfg.TokenExpiry),
		hasher:    hasher,
		validator: validator.New(),
		metrics:   newServerMetrics(),
		logger:    log.WithComponent("stubserver"),
	}
	s.setupRoutes(cfg)
	return s
}

// Engine exposes the router for httptest.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Data exposes the backing state for test setup.
func (s *Server) Data() *Data {
	return s.data
}

// SetClock overrides the stale-pruning clock, for tests.
func (s *Server) SetClock(now func() time.Time) {
	s.data.now = now
}

func (s *Server) setupRoutes(cfg Config) {
	s.engine.Use(gin.Recovery())
	s.engine.Use(s.metrics.middleware())
	s.engine.Use(rateLimit(cfg.RateLimit, cfg.RateBurst))
	s.engine.Use(csrfProtect())

	s.engine.GET("/metrics", s.metrics.handler())
	s.engine.GET("/auth/csrf/", seedCSRF)
	s.engine.POST("/auth/login/", s.login)

	authed := s.engine.Group("/", s.requireToken())
	{
		authed.GET("/auth/user/", s.currentUser)
		authed.PATCH("/auth/user/settings/", s.updateSettings)

		authed.GET("/consultas/", s.listConsultas)
		authed.POST("/consultas/", s.createConsulta)
		authed.PATCH("/consultas/:id/", s.updateConsulta)
		authed.POST("/consultas/:id/cancelar/", s.cancelConsulta)
		authed.PATCH("/consultas/:id/reprogramar/", s.rescheduleConsulta)

		authed.GET("/horarios-disponibles/", s.availableSlots)
		authed.GET("/odontologos/", s.listOdontologos)
		authed.GET("/horarios/", s.listHorarios)
		authed.GET("/tipos-consulta/", s.listTiposConsulta)
		authed.GET("/pacientes/", s.listPacientes)
	}
}
