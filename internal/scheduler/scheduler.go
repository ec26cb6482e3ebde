// Package scheduler periodically refreshes the cached context of recently
// active users.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cragcoach/internal/climbing"
	"cragcoach/internal/logging"
)

const (
	DefaultSpec         = "*/30 * * * *"
	DefaultActiveWindow = 7 * 24 * time.Hour
)

// Config holds scheduler configuration.
type Config struct {
	Enabled           bool
	Spec              string        // cron expression, five fields
	ActiveWindow      time.Duration // users active within this window are refreshed
	BatchSize         int
	RunTimeout        time.Duration
	ConcurrencyPolicy string // skip | delay
}

// ActiveUsers lists users with recent activity.
type ActiveUsers interface {
	ListActiveUsers(ctx context.Context, since time.Time) ([]climbing.UserID, error)
}

// Refresher regenerates contexts for a set of users.
type Refresher interface {
	BulkRefresh(ctx context.Context, userIDs []any, batchSize int) map[climbing.UserID]bool
}

// Summary reports one refresh run.
type Summary struct {
	Users     int
	Refreshed int
	Failed    []climbing.UserID
	Duration  time.Duration
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler runs the refresh job on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	users     ActiveUsers
	refresher Refresher
	config    Config
	logger    logging.Logger
	now       func() time.Time

	mu       sync.Mutex
	entryID  cron.EntryID
	started  bool
	last     Summary
	runs     int
	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates a Scheduler.
func New(cfg Config, users ActiveUsers, refresher Refresher, logger logging.Logger, opts ...Option) *Scheduler {
	logger = logging.OrNop(logger)
	if strings.TrimSpace(cfg.Spec) == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = DefaultActiveWindow
	}
	s := &Scheduler{
		cron:      newCron(cfg, logger),
		users:     users,
		refresher: refresher,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newCron(cfg Config, logger logging.Logger) *cron.Cron {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	options := []cron.Option{cron.WithParser(parser)}
	policy := strings.ToLower(strings.TrimSpace(cfg.ConcurrencyPolicy))
	switch policy {
	case "delay":
		options = append(options, cron.WithChain(cron.DelayIfStillRunning(cron.DefaultLogger)))
	case "skip", "":
		options = append(options, cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	default:
		logger.Warn("Scheduler: unknown concurrency policy %q, defaulting to skip", policy)
		options = append(options, cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	}
	return cron.New(options...)
}

// Start registers the refresh job and starts cron. The scheduler stops when
// ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler disabled by config")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	entryID, err := s.cron.AddFunc(s.config.Spec, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.Warn("Scheduler: refresh run failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", s.config.Spec, err)
	}
	s.entryID = entryID
	s.started = true
	s.cron.Start()
	s.logger.Info("Scheduler started (schedule=%s, active window=%s)", s.config.Spec, s.config.ActiveWindow)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for a running job and stops cron. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Scheduler stopping...")
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		close(s.stopped)
		s.logger.Info("Scheduler stopped")
	})
}

// Done is closed once the scheduler has fully stopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.stopped
}

// Next returns the next scheduled run, or the zero time when not started.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// RunOnce refreshes every user active within the window.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	started := s.now()
	users, err := s.users.ListActiveUsers(ctx, started.Add(-s.config.ActiveWindow))
	if err != nil {
		return Summary{}, fmt.Errorf("list active users: %w", err)
	}

	summary := Summary{Users: len(users)}
	if len(users) > 0 {
		ids := make([]any, len(users))
		for i, u := range users {
			ids[i] = u
		}
		results := s.refresher.BulkRefresh(ctx, ids, s.config.BatchSize)
		for _, u := range users {
			if results[u] {
				summary.Refreshed++
			} else {
				summary.Failed = append(summary.Failed, u)
			}
		}
	}
	summary.Duration = s.now().Sub(started)

	s.mu.Lock()
	s.last = summary
	s.runs++
	s.mu.Unlock()

	s.logger.Info("Scheduler: refreshed %d/%d active users in %s", summary.Refreshed, summary.Users, summary.Duration)
	if len(summary.Failed) > 0 {
		s.logger.Warn("Scheduler: refresh failed for users %v", summary.Failed)
	}
	return summary, nil
}

// LastRun returns the summary of the most recent run and the run count.
func (s *Scheduler) LastRun() (Summary, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.runs
}
