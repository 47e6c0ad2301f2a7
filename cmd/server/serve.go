package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"mindgrate/backend/internal/api"
	"mindgrate/backend/internal/auth"
	"mindgrate/backend/internal/logging"
	"mindgrate/backend/internal/mcp"
	"mindgrate/backend/internal/repository"
	"mindgrate/backend/internal/tls"
)

var (
	serveWithWorker bool
	serveMigrate    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", true, "Run the collaboration worker in the same process")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply pending migrations before starting")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, logger := a.cfg, a.logger

	if serveMigrate {
		applied, err := repository.Migrate(ctx, a.pool)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", "count", len(applied))
	}

	var sessions auth.SessionBackend
	if cfg.Supabase.URL != "" && cfg.Supabase.AnonKey != "" {
		s, err := auth.NewSupabaseSessions(cfg.Supabase.URL, cfg.Supabase.AnonKey)
		if err != nil {
			return fmt.Errorf("supabase client: %w", err)
		}
		sessions = s
	}
	authz, err := auth.New(ctx, cfg, sessions, logger.With("component", "auth"))
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}
	if cfg.IsDev() && cfg.DevModeBypass {
		logger.Warn("auth bypass enabled, every request runs as the dev user")
	}

	e := echo.New()
	api.Configure(e, logger)
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	if len(cfg.Server.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.Server.CORSOrigins,
			AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, "apikey", "x-client-info"},
		}))
	}
	e.Use(api.RequestLogger(logger.With("component", "http")))
	e.Use(otelecho.Middleware("mindgrate"))

	e.GET("/health", echo.WrapHandler(http.HandlerFunc(api.NewHandler(a.store).HandleHealth)))

	e.POST("/api/v1/auth/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.POST("/api/v1/auth/refresh", echo.WrapHandler(http.HandlerFunc(authz.RefreshHandler)))
	e.POST("/api/v1/auth/logout", echo.WrapHandler(authz.RequireAuth(http.HandlerFunc(authz.LogoutHandler))))

	requireAuth := echo.WrapMiddleware(authz.RequireAuth)
	apiGroup := e.Group("/api/v1", requireAuth)
	functions := e.Group("/functions/v1", requireAuth)
	srv := api.NewServer(a.mindops, a.follows, a.collab, a.vectors, a.worker, logger.With("component", "api"))
	api.RegisterHandlers(apiGroup, functions, srv)
	logger.Info("REST API handlers mounted")

	if cfg.MCP.Enable {
		if cfg.MCP.ServiceUser == "" {
			logger.Warn("mcp enabled without mcp.service_user, tools that need a MindOp will fail")
		}
		mcpServer := mcp.NewServer(a.mindops, a.vectors, cfg.MCP.ServiceUser)
		// Tools act as the service user, so only service-role callers get in.
		mcpHandler := mcp.Handler(mcpServer.GetMCPServer(), authz.RequireAuth, auth.RequireRole(auth.RoleServiceRole))
		e.Any("/mcp", echo.WrapHandler(mcpHandler))
		e.Any("/mcp/*", echo.WrapHandler(mcpHandler))
		logger.Info("MCP protocol handlers mounted")
	}

	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Supabase.URL)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler()))

	// The worker must be done with the pool before a.close runs.
	var workers sync.WaitGroup
	defer func() {
		stop()
		workers.Wait()
	}()
	if serveWithWorker {
		goBackground(ctx, &workers, a.worker.Run, logger.With("component", "worker"))
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			generated, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
			if err != nil {
				serverErrors <- fmt.Errorf("tls certificate: %w", err)
				return
			}
			if generated {
				logger.Warn("generated self-signed certificate", "cert_file", cfg.TLS.CertFile)
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("server close error", "error", err)
		}
	}
	stop()
	workers.Wait()
	logger.Info("server stopped gracefully")
	return nil
}

// goBackground runs fn on its own goroutine, tracked by wg.
func goBackground(ctx context.Context, wg *sync.WaitGroup, fn func(context.Context) error, logger *logging.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("background task stopped", "error", err)
		}
	}()
}
