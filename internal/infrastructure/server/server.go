// Package server assembles the application manager daemon: the reference
// host, its gRPC and HTTP fronts, health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	apihttp "github.com/GriffinCanCode/AgentOS/appmanager/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/host"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/observer"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/permission"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/process"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/grpc/appmgr"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/device"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/hostproc"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/tracing"
)

// Server wraps the listeners and their dependencies.
type Server struct {
	config  *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
	pool    *ants.Pool

	host    *host.Service
	service appmanager.Service
	tokens  *permission.Tokens
	mirror  *hostproc.Mirror

	router     *gin.Engine
	grpc       *grpc.Server
	grpcHealth *health.Server
	ready      atomic.Bool
}

// Option customizes a Server.
type Option func(*options)

type options struct {
	memory device.MemorySource
	lister hostproc.Lister
}

// WithMemorySource replaces the physical memory reading.
func WithMemorySource(src device.MemorySource) Option {
	return func(o *options) { o.memory = src }
}

// WithLister replaces the OS process listing used for mirroring.
func WithLister(l hostproc.Lister) Option {
	return func(o *options) { o.lister = l }
}

// New builds a server from configuration and a host profile.
func New(cfg *config.Config, profile *config.Profile, logger *logging.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if profile == nil {
		profile = &config.Profile{}
	}

	deviceCfg := cfg.Device
	profile.Apply(&deviceCfg)
	probeCfg, err := deviceConfig(deviceCfg)
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing application manager",
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.String("grpc_addr", cfg.Server.GRPCAddr),
		zap.Int("bundles", len(profile.Bundles)),
		zap.Int("callers", len(profile.Callers)),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)
	tracer := tracing.New("appmanager", logger.Component("tracing"))

	pool, err := ants.NewPool(cfg.Observers.PoolSize, ants.WithNonblocking(true))
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("observer pool: %w", err)
	}

	hubOpts := []observer.Option{observer.WithMetrics(metrics)}
	if cfg.Observers.MaxObservers > 0 {
		hubOpts = append(hubOpts, observer.WithLimit(cfg.Observers.MaxObservers))
	}
	hub := observer.NewHub(pool, logger.Component("observer"), hubOpts...)
	registry := process.NewRegistry(hub).WithMetrics(metrics)
	checker := permission.NewChecker(cfg.Host.AuditSize)
	catalog := catalogFrom(profile)
	tokens := callersFrom(profile, checker)
	probe := device.NewProbe(probeCfg, o.memory)

	hostOpts := []host.Option{host.WithLogger(logger.Component("host"))}
	if cfg.Host.Terminate {
		hostOpts = append(hostOpts, host.WithTerminator(hostproc.Terminator{}))
	}
	hs := host.New(registry, hub, checker, catalog, probe, hostOpts...)
	svc := monitoring.Instrument(hs, metrics)

	s := &Server{
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		pool:    pool,
		host:    hs,
		service: svc,
		tokens:  tokens,
	}
	if cfg.Host.MirrorEnabled {
		s.mirror = hostproc.NewMirror(registry, catalog, o.lister, cfg.Host.MirrorInterval, logger.Component("mirror"))
	}

	s.grpc, s.grpcHealth = s.newGRPC()
	s.router = s.newRouter(reg, checker, probe)

	logger.Info("Application manager initialized",
		zap.Bool("host_control", cfg.Host.ControlEnabled),
		zap.Bool("mirror", cfg.Host.MirrorEnabled),
	)
	return s, nil
}

func (s *Server) newGRPC() (*grpc.Server, *health.Server) {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			tracing.GRPCUnaryInterceptor(s.tracer),
			monitoring.GRPCUnaryInterceptor(s.metrics),
			appmgr.AuthUnaryInterceptor(s.tokens),
		),
		grpc.ChainStreamInterceptor(
			tracing.GRPCStreamInterceptor(s.tracer),
			monitoring.GRPCStreamInterceptor(s.metrics),
			appmgr.AuthStreamInterceptor(s.tokens),
		),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	appmgr.RegisterAppManagerServer(gs, appmgr.NewServer(s.service, s.logger.Component("grpc")))

	hs := health.NewServer()
	hs.SetServingStatus(appmgr.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs, hs
}

func (s *Server) newRouter(reg *prometheus.Registry, checker *permission.Checker, probe *device.Probe) *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(s.config.Server.CORSOrigins...)))

	checks := healthcheck.NewHandler()
	checks.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	checks.AddReadinessCheck("serving", func() error {
		if !s.ready.Load() {
			return errors.New("not serving")
		}
		return nil
	})
	checks.AddReadinessCheck("device-probe", healthcheck.Timeout(func() error {
		_, err := probe.TotalMB(context.Background())
		return err
	}, 2*time.Second))
	router.GET("/health/live", gin.WrapF(checks.LiveEndpoint))
	router.GET("/health/ready", gin.WrapF(checks.ReadyEndpoint))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	api := router.Group("")
	api.Use(middleware.Authenticate(s.tokens))
	if s.config.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = s.config.RateLimit.RequestsPerSecond
		rl.Burst = s.config.RateLimit.Burst
		api.Use(middleware.RateLimit(rl))
	}

	handlers := apihttp.NewHandlers(s.service, checker, s.logger.Component("http"))
	if s.config.Host.ControlEnabled {
		handlers.WithHostControl(s.host)
	}
	handlers.Register(api)
	ws.NewHandler(s.service, s.metrics, s.logger.Component("ws")).Register(api)
	return router
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Host returns the reference host.
func (s *Server) Host() *host.Service { return s.host }

// Service returns the instrumented contract implementation.
func (s *Server) Service() appmanager.Service { return s.service }

// Run serves HTTP and gRPC until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	grpcLis, err := net.Listen("tcp", s.config.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	httpLis, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		grpcLis.Close()
		return fmt.Errorf("listen http: %w", err)
	}
	return s.Serve(ctx, httpLis, grpcLis)
}

// Serve is Run on existing listeners.
func (s *Server) Serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 2)
	go func() {
		s.logger.Info("Starting gRPC server", zap.String("addr", grpcLis.Addr().String()))
		if err := s.grpc.Serve(grpcLis); err != nil {
			errs <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", httpLis.Addr().String()))
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http: %w", err)
		}
	}()

	mirrorCtx, stopMirror := context.WithCancel(ctx)
	defer stopMirror()
	if s.mirror != nil {
		go s.mirror.Run(mirrorCtx)
	}

	s.ready.Store(true)
	s.grpcHealth.SetServingStatus(appmgr.ServiceName, healthpb.HealthCheckResponse_SERVING)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		s.logger.Error("Listener failed", zap.Error(runErr))
	}

	stopMirror()
	if err := s.shutdown(httpSrv); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown stops accepting work, detaches every observer so streams end, and
// drains both listeners within the configured timeout.
func (s *Server) shutdown(httpSrv *http.Server) error {
	s.logger.Info("Shutting down server...")
	s.ready.Store(false)
	s.grpcHealth.Shutdown()
	s.host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	err := httpSrv.Shutdown(ctx)
	if err != nil {
		s.logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	select {
	case <-stopped:
	case <-ctx.Done():
		s.logger.Warn("gRPC drain timed out, forcing stop")
		s.grpc.Stop()
	}

	s.Close()
	return err
}

// Close releases resources not owned by the listeners. It is safe to call
// after Run returns.
func (s *Server) Close() {
	s.host.Close()
	s.pool.Release()
	s.tracer.Close()
	_ = s.logger.Sync()
}
