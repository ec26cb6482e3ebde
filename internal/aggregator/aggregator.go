// Package aggregator collects the raw climbing data a context document is
// built from.
package aggregator

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"cragcoach/internal/climbing"
	cerrors "cragcoach/internal/errors"
	"cragcoach/internal/logging"
)

const (
	DefaultWindowDays       = 30
	DefaultChatHistoryLimit = 10
)

// Config holds the aggregation windows.
type Config struct {
	WindowDays       int
	ChatHistoryLimit int
}

// Aggregator fetches profile, activity, performance and conversation data
// for a user. Fetch failures are returned as context errors naming the source.
type Aggregator struct {
	repo         climbing.Repository
	windowDays   int
	historyLimit int
	now          func() time.Time
	logger       logging.Logger
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source used for activity windows.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(a *Aggregator) { a.logger = logging.OrNop(logger) }
}

// New creates an Aggregator over repo.
func New(repo climbing.Repository, cfg Config, opts ...Option) *Aggregator {
	a := &Aggregator{
		repo:         repo,
		windowDays:   cfg.WindowDays,
		historyLimit: cfg.ChatHistoryLimit,
		now:          time.Now,
		logger:       logging.NewComponentLogger("aggregator"),
	}
	if a.windowDays <= 0 {
		a.windowDays = DefaultWindowDays
	}
	if a.historyLimit <= 0 {
		a.historyLimit = DefaultChatHistoryLimit
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) windowStart(days int) time.Time {
	y, m, d := a.now().UTC().AddDate(0, 0, -days).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FetchProfile returns the climber profile, or an empty map when none exists.
func (a *Aggregator) FetchProfile(ctx context.Context, userID any) (map[string]any, error) {
	id, err := climbing.NormalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	return a.fetchProfile(ctx, id)
}

func (a *Aggregator) fetchProfile(ctx context.Context, id climbing.UserID) (map[string]any, error) {
	profile, err := a.repo.FetchProfile(ctx, id)
	if err != nil {
		return nil, cerrors.Context("aggregator.fetch_profile", id.String(), err)
	}
	if profile == nil {
		profile = map[string]any{}
	}
	return profile, nil
}

// FetchRecentActivity returns ticks from the trailing window, newest first.
// windowDays <= 0 uses the configured window.
func (a *Aggregator) FetchRecentActivity(ctx context.Context, userID any, windowDays int) ([]climbing.Tick, error) {
	id, err := climbing.NormalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	return a.fetchRecentActivity(ctx, id, windowDays)
}

func (a *Aggregator) fetchRecentActivity(ctx context.Context, id climbing.UserID, windowDays int) ([]climbing.Tick, error) {
	if windowDays <= 0 {
		windowDays = a.windowDays
	}
	since := a.windowStart(windowDays)
	ticks, err := a.repo.FetchTicksSince(ctx, id, since)
	if err != nil {
		return nil, cerrors.Context("aggregator.fetch_recent_activity", id.String(), err)
	}
	return newestFirstSince(ticks, since), nil
}

// FetchPerformanceMetrics returns the performance pyramid, or an empty map.
func (a *Aggregator) FetchPerformanceMetrics(ctx context.Context, userID any) (map[string]any, error) {
	id, err := climbing.NormalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	return a.fetchPerformance(ctx, id)
}

func (a *Aggregator) fetchPerformance(ctx context.Context, id climbing.UserID) (map[string]any, error) {
	metrics, err := a.repo.FetchPerformance(ctx, id)
	if err != nil {
		return nil, cerrors.Context("aggregator.fetch_performance", id.String(), err)
	}
	if metrics == nil {
		metrics = map[string]any{}
	}
	return metrics, nil
}

// FetchChatHistory returns up to limit prior turns, newest first, scoped to
// conversationID when given. limit <= 0 uses the configured limit.
func (a *Aggregator) FetchChatHistory(ctx context.Context, userID any, conversationID string, limit int) ([]climbing.ChatTurn, error) {
	id, err := climbing.NormalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	return a.fetchChatHistory(ctx, id, conversationID, limit)
}

func (a *Aggregator) fetchChatHistory(ctx context.Context, id climbing.UserID, conversationID string, limit int) ([]climbing.ChatTurn, error) {
	if limit <= 0 {
		limit = a.historyLimit
	}
	turns, err := a.repo.FetchChatHistory(ctx, id, conversationID, limit)
	if err != nil {
		return nil, cerrors.Context("aggregator.fetch_chat_history", id.String(), err)
	}
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].CreatedAt.After(turns[j].CreatedAt) })
	if len(turns) > limit {
		turns = turns[:limit]
	}
	return turns, nil
}

// ParseUpload parses uploaded tick records.
func (a *Aggregator) ParseUpload(content []byte, format climbing.Format) ([]climbing.Tick, error) {
	return climbing.ParseUpload(content, format)
}

// Deduplicate merges incoming ticks into existing ones by route.
func (a *Aggregator) Deduplicate(existing, incoming []climbing.Tick) []climbing.Tick {
	return climbing.Deduplicate(existing, incoming)
}

// AggregateAll fetches every source for the user concurrently. Ticks from
// pending uploads are merged into the recent activity.
func (a *Aggregator) AggregateAll(ctx context.Context, userID any, conversationID string) (climbing.Aggregate, error) {
	id, err := climbing.NormalizeUserID(userID)
	if err != nil {
		return climbing.Aggregate{}, err
	}

	agg := climbing.Aggregate{
		UserID:         id,
		ConversationID: conversationID,
		WindowDays:     a.windowDays,
		CollectedAt:    a.now().UTC(),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		agg.Profile, err = a.fetchProfile(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		agg.RecentTicks, err = a.fetchRecentActivity(gctx, id, 0)
		return err
	})
	g.Go(func() (err error) {
		agg.Performance, err = a.fetchPerformance(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		agg.ChatHistory, err = a.fetchChatHistory(gctx, id, conversationID, 0)
		return err
	})
	g.Go(func() error {
		uploads, err := a.repo.FetchPendingUploads(gctx, id)
		if err != nil {
			return cerrors.Context("aggregator.fetch_pending_uploads", id.String(), err)
		}
		agg.PendingUploads = uploads
		return nil
	})
	if err := g.Wait(); err != nil {
		a.logger.Warn("Aggregation failed for user %s: %v", id, err)
		return climbing.Aggregate{}, err
	}

	var pending []climbing.Tick
	for _, upload := range agg.PendingUploads {
		pending = append(pending, upload.Ticks...)
	}
	if len(pending) > 0 {
		merged := climbing.Deduplicate(agg.RecentTicks, pending)
		agg.RecentTicks = newestFirstSince(merged, a.windowStart(a.windowDays))
	}
	return agg, nil
}

// newestFirstSince drops ticks dated before since and orders the rest newest first.
func newestFirstSince(ticks []climbing.Tick, since time.Time) []climbing.Tick {
	out := make([]climbing.Tick, 0, len(ticks))
	for _, t := range ticks {
		if when := t.Time(); !when.IsZero() && when.Before(since) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time().After(out[j].Time()) })
	return out
}
