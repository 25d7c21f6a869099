// ABOUTME: Gateway orchestrator that owns the HTTP server and session registry
// ABOUTME: Manages principal store, auth middleware, and health endpoints lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/strand-relay/internal/auth"
	"github.com/2389/strand-relay/internal/config"
	"github.com/2389/strand-relay/internal/producer"
	"github.com/2389/strand-relay/internal/session"
	"github.com/2389/strand-relay/internal/store"
)

// Gateway orchestrates the strand-relay server components.
// It manages the session registry, the principal store backing bearer auth,
// and the HTTP server that exposes the submit/stream API.
type Gateway struct {
	config     *config.Config
	registry   *session.Registry
	store      store.Store
	httpServer *http.Server
	logger     *slog.Logger

	// serverID identifies this relay instance
	serverID string
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("STRAND_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// authMiddleware returns the middleware guarding /api routes. With a JWT
// secret configured, requests need a bearer token minted for an approved
// principal; without one, every request runs as the anonymous principal.
func (g *Gateway) authMiddleware(cfg *config.Config, s store.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth disabled - no jwt_secret configured")
		return auth.NoAuthMiddleware()
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	logger.Info("HTTP auth middleware enabled")
	return auth.HTTPAuthMiddleware(s, verifier)
}

// registerRoutes registers all HTTP routes on the mux.
func (g *Gateway) registerRoutes(mux *http.ServeMux, authMW func(http.Handler) http.Handler) {
	// Health endpoints - no auth required
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	mux.Handle("POST /api/sessions/{id}/prompts", authMW(http.HandlerFunc(g.handleSubmitPrompt)))
	mux.Handle("GET /api/sessions/{id}/events", authMW(http.HandlerFunc(g.handleStreamEvents)))
	mux.Handle("GET /api/sessions/{id}", authMW(http.HandlerFunc(g.handleGetSession)))
	mux.Handle("DELETE /api/sessions/{id}", authMW(http.HandlerFunc(g.handleDeleteSession)))
	mux.Handle("GET /api/sessions", authMW(http.HandlerFunc(g.handleListSessions)))
}

// New creates a new Gateway instance with the given configuration. The
// runner is what prompts ultimately execute on; serve mode passes the
// configured producer command, tests and --scripted pass an in-memory one.
func New(cfg *config.Config, runner producer.Runner, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry(runner, session.RegistryConfig{
		BufferSize:    cfg.Sessions.ReplayBuffer,
		IdleTimeout:   cfg.Sessions.IdleTimeout,
		GracePeriod:   cfg.Sessions.GracePeriod,
		SweepInterval: cfg.Sessions.SweepInterval,
	}, logger)

	gw := &Gateway{
		config:   cfg,
		registry: registry,
		store:    s,
		logger:   logger.With("component", "gateway"),
		serverID: generateServerID(),
	}

	authMW := gw.authMiddleware(cfg, s, logger)

	mux := http.NewServeMux()
	gw.registerRoutes(mux, authMW)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Registry exposes the session registry for command-line inspection tools.
func (g *Gateway) Registry() *session.Registry {
	return g.registry
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "server_id", g.serverID)
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
// Closing the registry terminates every session, which unwinds any SSE
// streams still writing.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.registry.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive, identifying the
// instance so probes against a pool can tell replies apart.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK %s", g.serverID)
}

// handleReady returns 200 OK once the principal store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.CountPrincipals(r.Context(), store.PrincipalFilter{}); err != nil {
		g.logger.Error("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", len(g.registry.List()))
}

// generateServerID creates a unique identifier for this relay instance.
func generateServerID() string {
	return fmt.Sprintf("strand-relay-%d", time.Now().UnixNano()%1000000)
}
