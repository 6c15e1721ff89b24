// Package api exposes the driver over HTTP: the execute lifecycle entry
// point, the SOL003 notification receiver, the grant endpoint forwarded to
// the grant provider and the SOL005 package endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/thc1006/nephoran-sol003-driver/internal/audit"
	"github.com/thc1006/nephoran-sol003-driver/internal/sol003"
	"github.com/thc1006/nephoran-sol003-driver/pkg/models"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sol003_http_requests_total",
	Help: "Inbound HTTP requests by route and status code",
}, []string{"route", "code"})

// Executor runs execute-lifecycle requests.
type Executor interface {
	Execute(ctx context.Context, req *models.ExecutionRequest) (*models.ExecutionAccepted, error)
}

// PackageRepository serves VNF packages.
type PackageRepository interface {
	QueryAllVnfPkgInfos(ctx context.Context, group string) ([]sol003.VnfPkgInfo, error)
	GetVnfPkgInfo(ctx context.Context, id string) (*sol003.VnfPkgInfo, error)
	GetVnfPackage(ctx context.Context, id string) ([]byte, error)
}

// GrantProvider decides grants.
type GrantProvider interface {
	RequestGrant(ctx context.Context, req *sol003.GrantRequest) (*sol003.Grant, string, error)
	GetGrant(ctx context.Context, grantID string) (*sol003.Grant, error)
}

// NotificationHandler consumes a decoded lifecycle notification.
type NotificationHandler func(ctx context.Context, n sol003.Notification) error

// Config holds the listener settings.
type Config struct {
	Address         string        `yaml:"address" envconfig:"ADDRESS"`
	ReadTimeout     time.Duration `yaml:"readTimeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idleTimeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" envconfig:"SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes" envconfig:"MAX_BODY_BYTES"`
}

// DefaultConfig returns the listener defaults.
func DefaultConfig() Config {
	return Config{
		Address:         ":8296",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxBodyBytes:    1 << 20,
	}
}

// Dependencies are the components behind the routes. Packages, Grants and
// Notifications are optional; their routes are only registered when set.
type Dependencies struct {
	Executor      Executor
	Packages      PackageRepository
	Grants        GrantProvider
	Notifications NotificationHandler
}

// Server is the inbound HTTP server.
type Server struct {
	cfg        Config
	deps       Dependencies
	validator  *requestValidator
	router     *mux.Router
	httpServer *http.Server
	ready      atomic.Bool
	log        logr.Logger
}

// NewServer builds the router.
func NewServer(cfg Config, deps Dependencies, log logr.Logger) (*Server, error) {
	if deps.Executor == nil {
		return nil, errors.New("an executor is required")
	}
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	if deps.Notifications == nil {
		deps.Notifications = LogNotifications(log)
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		validator: validator,
		router:    mux.NewRouter(),
		log:       log.WithName("api"),
	}
	s.setupRoutes()
	s.router.Use(s.recoveryMiddleware, s.correlationMiddleware, s.loggingMiddleware)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/api/driver/lifecycle/execute", s.handleExecute).Methods(http.MethodPost)

	lcm := s.router.PathPrefix("/vnflcm/v2").Subrouter()
	lcm.HandleFunc("/notifications", s.handleNotificationTest).Methods(http.MethodGet)
	lcm.HandleFunc("/notifications", s.handleNotification).Methods(http.MethodPost)

	if s.deps.Grants != nil {
		grants := s.router.PathPrefix("/grant/v1").Subrouter()
		grants.HandleFunc("/grants", s.handleRequestGrant).Methods(http.MethodPost)
		grants.HandleFunc("/grants/{grantId}", s.handleGetGrant).Methods(http.MethodGet)
	}

	if s.deps.Packages != nil {
		pkgm := s.router.PathPrefix("/vnfpkgm/v2").Subrouter()
		pkgm.HandleFunc("/vnf_packages", s.handleListPackages).Methods(http.MethodGet)
		pkgm.HandleFunc("/vnf_packages/{vnfPkgId}", s.handleGetPackage).Methods(http.MethodGet)
		pkgm.HandleFunc("/vnf_packages/{vnfPkgId}/vnfd", s.handleGetVnfd).Methods(http.MethodGet)
		pkgm.HandleFunc("/vnf_packages/{vnfPkgId}/package_content", s.handleGetPackageContent).Methods(http.MethodGet)
		pkgm.HandleFunc("/vnf_packages/{vnfPkgId}/artifacts/{artifactPath:.+}", s.handleGetArtifact).Methods(http.MethodGet)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.ready.Store(true)
		s.log.Info("HTTP server is accepting connections", "addr", listener.Addr().String())
		return s.httpServer.Serve(listener)
	})
	g.Go(func() error {
		<-gCtx.Done()
		s.ready.Store(false)
		s.log.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		requestsTotal.WithLabelValues(route, fmt.Sprint(wrapper.statusCode)).Inc()
		logr.FromContextOrDiscard(r.Context()).V(1).Info("Handled request",
			"method", r.Method, "path", r.URL.Path, "status", wrapper.statusCode,
			"duration", time.Since(start).String())
	})
}

// correlationMiddleware carries the caller's correlation id, or a new one,
// into the context so outbound SOL003 messages are recorded under it.
func (s *Server) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = r.Header.Get("X-Request-ID")
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-ID", id)

		ctx := audit.WithCorrelationID(r.Context(), id)
		ctx = logr.NewContext(ctx, s.log.WithValues("correlationId", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error(fmt.Errorf("panic: %v", rec), "Request panic recovered", "method", r.Method, "path", r.URL.Path)
				writeProblem(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
