// internal/server/server.go
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/avivl/conference-lock/internal/auth"
	"github.com/avivl/conference-lock/internal/conference"
	"github.com/avivl/conference-lock/internal/events"
	"github.com/avivl/conference-lock/internal/lockservice"
	"github.com/avivl/conference-lock/internal/observability"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// LockService is the lock API the HTTP layer drives.
type LockService interface {
	AcquireLock(ctx context.Context, conferenceID int64, user lockservice.User) (*lockservice.AcquireResult, error)
	ReleaseLock(ctx context.Context, conferenceID, userID int64) (bool, error)
	RefreshLock(ctx context.Context, conferenceID, userID int64) (bool, error)
	CheckLock(ctx context.Context, conferenceID int64) (*lockservice.LockRecord, error)
	ForceReleaseLock(ctx context.Context, conferenceID int64) (bool, error)
	ReleaseAllUserLocks(ctx context.Context, userID int64) (int, error)
	GetUserLocks(ctx context.Context, userID int64) ([]lockservice.UserLock, error)
	CleanupExpiredLocks(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

var _ LockService = (*lockservice.Service)(nil)

// Config holds the HTTP listener settings
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Dependencies are the collaborators the handlers call. Hub and
// MetricsHandler are optional.
type Dependencies struct {
	Locks          LockService
	Conferences    conference.Repository
	Auth           *auth.Authenticator
	Hub            *events.Hub
	Metrics        observability.MetricsClient
	MetricsHandler http.Handler
	Logger         *observability.SLogger
}

type Server struct {
	config      Config
	router      *gin.Engine
	httpServer  *http.Server
	locks       LockService
	conferences conference.Repository
	auth        *auth.Authenticator
	hub         *events.Hub
	metrics     observability.MetricsClient
	tracer      trace.Tracer
	logger      *observability.SLogger
}

func NewServer(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Locks == nil {
		return nil, errors.New("lock service is nil")
	}
	if deps.Conferences == nil {
		return nil, errors.New("conference repository is nil")
	}
	if deps.Auth == nil {
		return nil, errors.New("authenticator is nil")
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NoopMetrics{}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		config:      cfg,
		router:      gin.New(),
		locks:       deps.Locks,
		conferences: deps.Conferences,
		auth:        deps.Auth,
		hub:         deps.Hub,
		metrics:     deps.Metrics,
		tracer:      otel.Tracer("conference-lock/server"),
		logger:      deps.Logger,
	}
	s.routes(deps.MetricsHandler)

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s, nil
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(metricsHandler http.Handler) {
	s.router.Use(s.recovery(), s.requestID(), s.requestLogger(), s.telemetry())

	s.router.GET("/healthz", s.healthz)
	if metricsHandler != nil {
		s.router.GET("/metrics", gin.WrapH(metricsHandler))
	}
	if s.hub != nil {
		s.router.GET("/ws/locks", s.authenticate(), s.hub.Handler())
	}

	api := s.router.Group("/api", s.authenticate())
	api.POST("/auth/logout", s.logout)
	api.GET("/locks/mine", s.myLocks)
	api.POST("/admin/locks/cleanup", s.requireAdmin(), s.cleanupLocks)

	api.GET("/conferences", s.listConferences)

	conf := api.Group("/conferences/:id", s.resolveConference())
	conf.GET("", s.showConference)
	conf.PUT("", s.conferenceLockGate(), s.updateConference)
	conf.PUT("/latest", s.conferenceLockGate(), s.setLatestConference)

	conf.GET("/lock", s.checkLock)
	conf.POST("/lock", s.acquireLock)
	conf.POST("/lock/refresh", s.refreshLock)
	conf.DELETE("/lock", s.releaseLock)
	conf.DELETE("/lock/force", s.requireAdmin(), s.forceReleaseLock)

	conf.POST("/editors", s.requireAdmin(), s.attachEditor)
	conf.DELETE("/editors/:userId", s.requireAdmin(), s.detachEditor)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.logger.ErrorCtx(ctx, err)
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.InfoCtx(ctx, "server listening at "+listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.Stop()
	}
}

func (s *Server) Stop() error {
	s.logger.Info("stopping server")
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
