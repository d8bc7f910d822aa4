// ABOUTME: Server orchestrator that wires the gate into HTTP and gRPC listeners
// ABOUTME: Owns the store, decision log, metrics, and graceful shutdown lifecycle

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/plangate/internal/auth"
	"github.com/2389/plangate/internal/config"
	"github.com/2389/plangate/internal/decisionlog"
	"github.com/2389/plangate/internal/edge"
	"github.com/2389/plangate/internal/gate"
	"github.com/2389/plangate/internal/identity"
	"github.com/2389/plangate/internal/metrics"
	"github.com/2389/plangate/internal/middleware"
	"github.com/2389/plangate/internal/plan"
	"github.com/2389/plangate/internal/store"
)

// Server runs the gated HTTP surface and, when configured, the gRPC surface.
type Server struct {
	config     *config.Config
	store      *store.SQLiteStore
	usage      store.UsageStore
	redis      *store.RedisUsageStore
	ring       *decisionlog.Ring
	metrics    *metrics.Metrics
	gate       *gate.Gate
	decorators *middleware.Decorators
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	logger     *slog.Logger
}

// GRPCPolicy is the method policy applied by the gRPC interceptors.
// Health checks are public; everything else needs a resolved account.
var GRPCPolicy = middleware.Policy{
	Public: []string{
		"/grpc.health.v1.Health/Check",
		"/grpc.health.v1.Health/Watch",
		"/grpc.health.v1.Health/List",
	},
}

// Parts are the collaborators NewGate builds from configuration.
type Parts struct {
	Accounts store.AccountStore
	Usage    store.UsageStore
	Sink     decisionlog.Sink
	Metrics  *metrics.Metrics
}

// NewGate assembles a gate from configuration and the given collaborators.
func NewGate(cfg *config.Config, p Parts, logger *slog.Logger) (*gate.Gate, error) {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating verifier: %w", err)
	}
	matrix, err := cfg.Matrix()
	if err != nil {
		return nil, fmt.Errorf("compiling access matrix: %w", err)
	}
	quotas, err := cfg.PlanQuotas()
	if err != nil {
		return nil, fmt.Errorf("loading quotas: %w", err)
	}

	resolver := identity.NewResolver(p.Accounts, identity.Config{
		RetryDelay: cfg.Resolver.RetryDelay,
		Timeout:    cfg.Resolver.Timeout,
	}, logger)
	if p.Metrics != nil {
		resolver = resolver.WithObserver(p.Metrics)
	}

	return gate.New(gate.Deps{
		Locator:  auth.NewLocator(cfg.Auth.CookieNames),
		Verifier: verifier,
		Resolver: resolver,
		Matrix:   matrix,
		Quotas:   quotas,
		Usage:    p.Usage,
		Sink:     p.Sink,
		Metrics:  p.Metrics,
		Logger:   logger,
	})
}

// New creates a Server from cfg. It opens the store (and Redis when enabled).
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	sqlStore, err := store.NewSQLiteStore(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	s := &Server{
		config:  cfg,
		store:   sqlStore,
		usage:   sqlStore,
		metrics: metrics.New(cfg.Metrics.Enabled),
		logger:  logger.With("component", "server"),
	}

	if cfg.Redis.Enabled {
		rs, err := store.NewRedisUsageStore(ctx, store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			_ = sqlStore.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		s.redis = rs
		s.usage = rs
		s.logger.Info("usage counters stored in redis", "addr", cfg.Redis.Addr)
	}

	s.ring = decisionlog.NewRing(cfg.DecisionLog.Capacity)
	s.ring.OnDrop(s.metrics.IncDecisionLogDrop)
	sink := decisionlog.Multi(s.ring, decisionlog.NewSlogSink(logger.With("component", "decisionlog")))

	s.gate, err = NewGate(cfg, Parts{
		Accounts: sqlStore,
		Usage:    s.usage,
		Sink:     sink,
		Metrics:  s.metrics,
	}, logger)
	if err != nil {
		s.closeStores()
		return nil, err
	}
	s.decorators = middleware.New(s.gate, logger)

	router := edge.NewRouter(s.gate.Locator(), cfg.Access.ProtectedUIPrefixes, sink)
	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           decisionlog.Middleware(router.Middleware(s.routes())),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.GRPCAddr != "" {
		s.grpcServer = grpc.NewServer(
			grpc.UnaryInterceptor(s.decorators.UnaryInterceptor(GRPCPolicy)),
			grpc.StreamInterceptor(s.decorators.StreamInterceptor(GRPCPolicy)),
		)
		s.health = health.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Gate returns the server's gate.
func (s *Server) Gate() *gate.Gate { return s.gate }

// DecisionLog returns the in-memory decision log.
func (s *Server) DecisionLog() *decisionlog.Ring { return s.ring }

// Accounts returns the account store.
func (s *Server) Accounts() store.AccountStore { return s.store }

// routes registers every HTTP endpoint on a fresh mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	d := s.decorators

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	if s.metrics.Enabled() {
		mux.Handle("GET "+s.config.Metrics.Path, s.metrics.Handler())
	}
	if s.config.DecisionLog.Export {
		mux.Handle("GET /debug/decisions", decisionlog.ExportHandler(s.ring, s.config.DecisionLog.ExportToken))
	}

	mux.HandleFunc("GET /login", s.handleLogin)
	mux.HandleFunc("GET /pricing", s.handlePricing)

	mux.Handle("GET /api/me", d.RequireAuthenticated()(http.HandlerFunc(s.handleMe)))
	mux.Handle("GET /api/websites", d.RequireFeature()(http.HandlerFunc(s.handleListWebsites)))
	mux.Handle("POST /api/websites", d.RequireFeature(middleware.Quota("website_scrape"))(
		d.Metered("website_scrape")(http.HandlerFunc(s.handleScrapeWebsite))))
	mux.Handle("POST /api/ai/generate", d.RequireActivePremiumFeature("content_generation")(
		d.Metered("content_generation")(http.HandlerFunc(s.handleGenerate))))
	mux.Handle("GET /api/crm/contacts", d.RequireActivePremiumFeature("crm")(http.HandlerFunc(s.handleContacts)))
	mux.Handle("GET /api/experiments", d.RequireTierAtLeast(plan.TierEnterprise)(http.HandlerFunc(s.handleExperiments)))

	dashboard := d.RequireFeature(middleware.UI())(http.HandlerFunc(s.handleDashboard))
	mux.Handle("GET /dashboard", dashboard)
	mux.Handle("GET /dashboard/", dashboard)

	return mux
}

// setupListeners creates TCP listeners. grpcLn is nil when gRPC is disabled.
func (s *Server) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	s.logger.Info("starting plangate",
		"http_addr", s.config.Server.HTTPAddr,
		"grpc_addr", s.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	if s.grpcServer == nil {
		return nil, httpLn, nil
	}

	grpcLn, err = net.Listen("tcp", s.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// startServers starts the servers in goroutines, returning their error channel.
func (s *Server) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			s.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		s.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (s *Server) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		s.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers and blocks until ctx is canceled or a server fails.
// Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	grpcLn, httpLn, err := s.setupListeners()
	if err != nil {
		return err
	}

	errCh := s.startServers(grpcLn, httpLn)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (s *Server) closeStores() []error {
	var errs []error
	if s.redis != nil {
		errs = appendCloseError(errs, "redis close", s.redis.Close())
	}
	return appendCloseError(errs, "store close", s.store.Close())
}

// Shutdown gracefully stops all servers and releases the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down plangate")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	s.shutdownGRPCServer(ctx)
	errs = append(errs, s.closeStores()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
