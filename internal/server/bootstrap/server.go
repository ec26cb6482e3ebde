package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cragcoach/internal/async"
	"cragcoach/internal/config"
	"cragcoach/internal/logging"
	serverHTTP "cragcoach/internal/server/http"
)

const shutdownTimeout = 10 * time.Second

// NewHTTPServer builds the http.Server for a container.
func NewHTTPServer(c *Container) *http.Server {
	cfg := c.Config
	router := serverHTTP.NewRouter(serverHTTP.Dependencies{
		Contexts:       c.Orchestrator,
		Cache:          c.Cache,
		Chat:           c.Chat,
		Events:         c.Events,
		Metrics:        c.Obs.Metrics.Handler(),
		Tracer:         c.Obs.Tracer,
		Logger:         logging.NewComponentLogger("HTTP"),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		BulkBatchSize:  cfg.Context.BulkBatchSize,
	})
	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
}

// RunServer builds the container, starts the scheduler and serves HTTP until
// ctx is canceled or SIGINT/SIGTERM arrives.
func RunServer(ctx context.Context, cfg config.Config) error {
	c, err := BuildContainer(ctx, cfg, BuildOptions{})
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	logger := logging.NewComponentLogger("Main")
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shutdown container: %v", err)
		}
	}()

	LogConfiguration(logger, cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	optional := []Stage{{
		Name: "scheduler",
		Init: func() error { return c.Scheduler.Start(ctx) },
	}}
	if err := RunStages(optional, c.Degraded, logger); err != nil {
		return err
	}
	if !c.Degraded.IsEmpty() {
		logger.Warn("[Bootstrap] Server starting in degraded mode: %v", c.Degraded.Map())
	}

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
	}
	return Serve(ctx, NewHTTPServer(c), listener, c, logger)
}

// Serve runs server on listener until ctx ends, then drains event streams
// and shuts the server down gracefully.
func Serve(ctx context.Context, server *http.Server, listener net.Listener, c *Container, logger logging.Logger) error {
	logger = logging.OrNop(logger)

	errCh := make(chan error, 1)
	async.Go(logger, "server.listen", func() {
		logger.Info("Server listening on %s", listener.Addr())
		errCh <- server.Serve(listener)
	})

	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("Shutting down server...")
		// Streams block their handlers; closing them lets Shutdown finish.
		if c != nil && c.Events != nil {
			c.Events.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := server.Shutdown(shutdownCtx)

		serveErr := <-errCh
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		if serveErr != nil {
			return fmt.Errorf("server error: %w", serveErr)
		}
		logger.Info("Server stopped")
		return nil
	}
}

// LogConfiguration logs the effective settings without secrets.
func LogConfiguration(logger logging.Logger, cfg config.Config) {
	logger = logging.OrNop(logger)
	cfg = config.Redact(cfg)
	logger.Info("=== Server Configuration ===")
	logger.Info("Listen: %s", cfg.Server.Addr)
	logger.Info("Cache: backend=%s prefix=%s ttl=%s", cfg.Cache.Backend, cfg.Cache.Prefix, cfg.Cache.TTL)
	logger.Info("Database: driver=%s dsn=%s", cfg.Database.Driver, cfg.Database.DSN)
	logger.Info("Context: window=%dd history=%d batch=%d", cfg.Context.ActivityWindowDays, cfg.Context.ChatHistoryLimit, cfg.Context.BulkBatchSize)
	logger.Info("Events: heartbeat=%s cleanup=%s", cfg.Events.HeartbeatInterval, cfg.Events.CleanupInterval)
	logger.Info("LLM: provider=%s model=%s key=%s", cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.APIKey)
	logger.Info("Scheduler: enabled=%v spec=%s", cfg.Scheduler.Enabled, cfg.Scheduler.Spec)
	logger.Info("===========================")
}
