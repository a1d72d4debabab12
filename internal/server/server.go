// Package server exposes the quota ledger, projects and generation gateway over HTTP.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/ineyio/sitegen"
	"github.com/ineyio/sitegen/meter"
)

// Server wires HTTP handlers to the service components.
type Server struct {
	ledger    *sitegen.Ledger
	projects  sitegen.ProjectStore
	gateway   *sitegen.Gateway
	jwtSecret []byte

	prom    *meter.PromMeter
	logger  log.FieldLogger
	limiter *clientLimiter
	now     func() time.Time

	engine *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithPromMeter exposes /metrics from the meter's registry and records HTTP metrics.
func WithPromMeter(m *meter.PromMeter) Option {
	return func(s *Server) { s.prom = m }
}

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRateLimit throttles each client to rps requests per second with the given burst.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newClientLimiter(rps, burst)
		}
	}
}

// WithNow sets the time source used for Retry-After headers.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server and builds its routes.
func New(ledger *sitegen.Ledger, projects sitegen.ProjectStore, gateway *sitegen.Gateway, jwtSecret string, opts ...Option) (*Server, error) {
	if ledger == nil || projects == nil || gateway == nil {
		return nil, fmt.Errorf("sitegen/server: ledger, project store and gateway are required")
	}
	if jwtSecret == "" {
		return nil, fmt.Errorf("sitegen/server: jwt secret is required")
	}

	s := &Server{
		ledger:    ledger,
		projects:  projects,
		gateway:   gateway,
		jwtSecret: []byte(jwtSecret),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Apply defaults after options.
	if s.logger == nil {
		s.logger = log.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.engine = s.routes()
	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if s.prom != nil {
		r.Use(s.httpMetrics())
		r.GET("/metrics", gin.WrapH(s.prom.Handler()))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api", s.identify())
	if s.limiter != nil {
		api.Use(s.rateLimit())
	}
	api.Use(s.requireSubject())

	api.GET("/quota", s.getQuota)
	api.POST("/quota/consume", s.consumeQuota)

	api.GET("/projects", s.listProjects)
	api.POST("/projects", s.createProject)
	api.GET("/projects/:id", s.getProject)
	api.DELETE("/projects/:id", s.deleteProject)
	api.POST("/projects/:id/generate", s.generate)

	api.GET("/frames/:id", s.getFrame)
	api.PUT("/frames/:id/design", s.updateFrameDesign)
	api.GET("/frames/:id/chat", s.getChat)
	api.PUT("/frames/:id/chat", s.updateChat)

	return r
}
