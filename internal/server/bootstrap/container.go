// Package bootstrap wires configuration into running services and owns the
// server lifecycle.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cragcoach/internal/aggregator"
	"cragcoach/internal/cache/store"
	"cragcoach/internal/chat"
	"cragcoach/internal/climbing"
	"cragcoach/internal/climbing/repository/postgres"
	"cragcoach/internal/climbing/repository/sqlite"
	"cragcoach/internal/config"
	"cragcoach/internal/contextcache"
	"cragcoach/internal/enhancer"
	"cragcoach/internal/events"
	"cragcoach/internal/llm"
	"cragcoach/internal/logging"
	"cragcoach/internal/observability"
	"cragcoach/internal/orchestrator"
	"cragcoach/internal/scheduler"
)

// Container holds every long-lived component built from one Config.
type Container struct {
	Config       config.Config
	Obs          *observability.Observability
	Store        store.Store
	Cache        *contextcache.Manager
	Repository   climbing.Store
	Aggregator   *aggregator.Aggregator
	Orchestrator *orchestrator.Orchestrator
	Events       *events.Manager
	Model        llm.Client
	Chat         *chat.Service
	Scheduler    *scheduler.Scheduler
	Degraded     *DegradedComponents

	logger logging.Logger
}

// BuildOptions customizes BuildContainer. An injected Repository is owned
// by the container and closed on Shutdown.
type BuildOptions struct {
	LogOutput  io.Writer        // defaults to stdout
	Repository climbing.Store   // overrides database.* when set
	Model      llm.Client       // overrides llm.* when set
	Clock      func() time.Time // defaults to time.Now
}

// BuildContainer opens stores and constructs the service graph. Components
// already built are closed when a later required stage fails.
func BuildContainer(ctx context.Context, cfg config.Config, opts BuildOptions) (c *Container, err error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	c = &Container{Config: cfg, Degraded: NewDegradedComponents()}
	defer func() {
		if err != nil {
			_ = c.Shutdown(context.Background())
			c = nil
		}
	}()

	c.Obs, err = observability.New(cfg.Observability, opts.LogOutput)
	if err != nil {
		return c, fmt.Errorf("init observability: %w", err)
	}
	logging.SetDefault(c.Obs.Logger.Slog())
	c.logger = logging.NewComponentLogger("Bootstrap")

	stages := []Stage{
		{Name: "cache-store", Required: true, Init: func() (err error) {
			c.Store, err = store.Open(ctx, cfg.Cache.Config)
			return err
		}},
		{Name: "repository", Required: true, Init: func() (err error) {
			if opts.Repository != nil {
				c.Repository = opts.Repository
				return nil
			}
			c.Repository, err = openRepository(ctx, cfg.Database)
			return err
		}},
		{Name: "model", Required: true, Init: func() error {
			c.Model = opts.Model
			if c.Model == nil {
				c.Model = newModel(cfg.LLM, c.Obs.Tracer)
			}
			return nil
		}},
	}
	if err = RunStages(stages, c.Degraded, c.logger); err != nil {
		return c, err
	}

	metrics, tracer := c.Obs.Metrics, c.Obs.Tracer
	c.Cache = contextcache.NewManager(c.Store, contextcache.Config{
		Prefix:        cfg.Cache.Prefix,
		TTL:           cfg.Cache.TTL,
		RefreshOnRead: cfg.Cache.RefreshOnRead,
	}, contextcache.WithLogger(logging.NewComponentLogger("ContextCache")), contextcache.WithMetrics(metrics))

	c.Aggregator = aggregator.New(c.Repository, aggregator.Config{
		WindowDays:       cfg.Context.ActivityWindowDays,
		ChatHistoryLimit: cfg.Context.ChatHistoryLimit,
	}, aggregator.WithClock(opts.Clock), aggregator.WithLogger(logging.NewComponentLogger("Aggregator")))

	c.Orchestrator = orchestrator.New(c.Aggregator, enhancer.NewHeuristic(), c.Cache,
		orchestrator.Config{BatchSize: cfg.Context.BulkBatchSize},
		orchestrator.WithLogger(logging.NewComponentLogger("Orchestrator")),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithTracer(tracer),
	)

	c.Events = events.NewManager(events.Config{
		HeartbeatInterval: cfg.Events.HeartbeatInterval,
		CleanupInterval:   cfg.Events.CleanupInterval,
		CancelWait:        cfg.Events.CancelWait,
	}, events.WithClock(opts.Clock), events.WithLogger(logging.NewComponentLogger("Events")), events.WithMetrics(metrics))

	c.Chat = chat.NewService(chat.Dependencies{
		Contexts: c.Orchestrator,
		Events:   c.Events,
		Model:    c.Model,
		Activity: c.Aggregator,
		Recorder: c.Repository,
		Quota:    chat.QuotaConfig{PerMinute: cfg.Chat.QuotaPerMinute, Burst: cfg.Chat.QuotaBurst},
		Logger:   logging.NewComponentLogger("Chat"),
		Metrics:  metrics,
		Tracer:   tracer,
		Clock:    opts.Clock,
	})

	c.Scheduler = scheduler.New(scheduler.Config{
		Enabled:           cfg.Scheduler.Enabled,
		Spec:              cfg.Scheduler.Spec,
		ActiveWindow:      cfg.Scheduler.ActiveWindow,
		BatchSize:         cfg.Context.BulkBatchSize,
		RunTimeout:        cfg.Scheduler.RunTimeout,
		ConcurrencyPolicy: cfg.Scheduler.ConcurrencyPolicy,
	}, c.Repository, c.Orchestrator, logging.NewComponentLogger("Scheduler"), scheduler.WithClock(opts.Clock))

	c.logger.Info("Container ready (cache=%s, database=%s, model=%s)", cfg.Cache.Backend, cfg.Database.Driver, c.Model.Model())
	return c, nil
}

func openRepository(ctx context.Context, cfg config.DatabaseConfig) (climbing.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		repo, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, nil
	case "sqlite", "":
		return sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func newModel(cfg config.LLMConfig, tracer *observability.TracerProvider) llm.Client {
	if strings.EqualFold(cfg.Provider, "echo") {
		return &llm.Echo{}
	}
	return llm.NewOpenAI(llm.Config{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		MaxRetries: cfg.MaxRetries,
		Timeout:    cfg.Timeout,
		Tracer:     tracer,
	})
}

// Shutdown stops the scheduler and event streams and closes the stores.
// It is safe on a partially built container.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Events != nil {
		c.Events.Close()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache store: %w", err))
		}
	}
	if c.Repository != nil {
		if err := c.Repository.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close repository: %w", err))
		}
	}
	if c.Obs != nil {
		if err := c.Obs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown observability: %w", err))
		}
	}
	return errors.Join(errs...)
}
