// Package orchestrator serves per-user context documents, regenerating them
// from raw data on a cache miss and keeping the cache in step with data
// changes.
//
// Pipeline failures never escape: they are logged and reported as an absent
// document or a false result, and chat handling continues without context.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"cragcoach/internal/async"
	"cragcoach/internal/climbing"
	"cragcoach/internal/contextcache"
	"cragcoach/internal/formatter"
	"cragcoach/internal/logging"
	"cragcoach/internal/observability"
	"cragcoach/internal/utils/id"
)

// DefaultBatchSize bounds the concurrency of BulkRefresh.
const DefaultBatchSize = 50

// Generation triggers recorded on metrics.
const (
	TriggerRequest    = "request"
	TriggerRelevance  = "relevance"
	TriggerDataUpdate = "data_update"
	TriggerRefresh    = "refresh"
)

var errRefreshFailed = errors.New("context refresh failed")

// Aggregator collects the raw data for one user.
type Aggregator interface {
	AggregateAll(ctx context.Context, userID any, conversationID string) (climbing.Aggregate, error)
}

// Enhancer enriches raw or formatted data, adding relevance when query is set.
type Enhancer interface {
	Enhance(ctx context.Context, data map[string]any, query string) (map[string]any, error)
}

// Cache is the subset of the context cache used here.
type Cache interface {
	Set(ctx context.Context, userID string, doc contextcache.Document, conversationID string) bool
	Invalidate(ctx context.Context, userID, conversationID string) bool
	GetOrPopulate(ctx context.Context, userID, conversationID string, generate contextcache.Generator) (contextcache.Document, bool)
	Update(ctx context.Context, userID string, data contextcache.Document, conversationID string, merge bool) bool
}

// Config holds orchestrator tuning.
type Config struct {
	BatchSize int
}

// GetOptions selects the document GetContext serves.
type GetOptions struct {
	Query          string
	ConversationID string
	// ForceRefresh invalidates the cached document before serving.
	ForceRefresh bool
}

// Orchestrator coordinates the cache, aggregator, enhancer and formatter.
type Orchestrator struct {
	aggregator Aggregator
	enhancer   Enhancer
	cache      Cache
	batchSize  int
	logger     logging.Logger
	metrics    *observability.MetricsCollector
	tracer     *observability.TracerProvider
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(logger logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrNop(logger) }
}

func WithMetrics(collector *observability.MetricsCollector) Option {
	return func(o *Orchestrator) { o.metrics = collector }
}

func WithTracer(tracer *observability.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// New creates an Orchestrator.
func New(aggregator Aggregator, enhancer Enhancer, cache Cache, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		aggregator: aggregator,
		enhancer:   enhancer,
		cache:      cache,
		batchSize:  cfg.BatchSize,
		logger:     logging.NewComponentLogger("orchestrator"),
		tracer:     observability.NoopTracer(),
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GetContext returns the user's context document.
//
// A cached document is served as is unless a query is given and the document
// has no relevance scores yet; then it is enhanced again with the query,
// reformatted and merged back into the cache. On a miss the document is
// generated and cached. It returns false when no document could be produced.
func (o *Orchestrator) GetContext(ctx context.Context, userID any, opts GetOptions) (*formatter.Document, bool) {
	uid, err := climbing.NormalizeUserID(userID)
	if err != nil {
		o.logger.Warn("Rejecting context request: %v", err)
		return nil, false
	}
	ctx = id.WithIDs(ctx, id.IDs{UserID: uid.String(), ConversationID: opts.ConversationID})
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanContextGet,
		attribute.Bool(observability.AttrQueryPresent, opts.Query != ""))
	var spanErr error
	defer func() { observability.EndSpan(span, spanErr) }()

	if opts.ForceRefresh {
		o.cache.Invalidate(ctx, uid.String(), opts.ConversationID)
	}

	generated := false
	raw, ok := o.cache.GetOrPopulate(ctx, uid.String(), opts.ConversationID, func(ctx context.Context) (contextcache.Document, error) {
		generated = true
		return o.generate(ctx, uid, opts.ConversationID, opts.Query, TriggerRequest)
	})
	span.SetAttributes(attribute.Bool(observability.AttrCacheHit, ok && !generated))
	if !ok {
		spanErr = errors.New("context unavailable")
		return nil, false
	}

	doc, err := formatter.DecodeDocument(raw)
	if err != nil {
		o.logger.Warn("Cached context for user %s is unreadable: %v", uid, err)
		spanErr = err
		return nil, false
	}

	if opts.Query != "" && !doc.HasRelevance() {
		if updated, err := o.updateRelevance(ctx, uid, opts.ConversationID, raw, opts.Query); err != nil {
			o.logger.Warn("Relevance update failed for user %s: %v", uid, err)
		} else {
			doc = updated
		}
	}
	return doc, true
}

// HandleDataUpdate drops every cached document for the user and writes a
// freshly generated one. Relevance merged into earlier documents is not
// carried over.
func (o *Orchestrator) HandleDataUpdate(ctx context.Context, userID any, updateType string, updateData map[string]any, conversationID string) bool {
	uid, err := climbing.NormalizeUserID(userID)
	if err != nil {
		o.logger.Warn("Rejecting data update: %v", err)
		return false
	}
	o.logger.Info("Data update %q for user %s (%d fields)", updateType, uid, len(updateData))

	o.cache.Invalidate(ctx, uid.String(), conversationID)
	doc, err := o.generate(ctx, uid, conversationID, "", TriggerDataUpdate)
	if err != nil {
		o.logger.Error("Regeneration after %s update failed for user %s: %v", updateType, uid, err)
		return false
	}
	return o.cache.Set(ctx, uid.String(), doc, conversationID)
}

// RefreshContext regenerates and overwrites the cached document without
// invalidating it first, so readers keep the old document meanwhile.
func (o *Orchestrator) RefreshContext(ctx context.Context, userID any, conversationID string) bool {
	uid, err := climbing.NormalizeUserID(userID)
	if err != nil {
		o.logger.Warn("Rejecting refresh: %v", err)
		return false
	}
	doc, err := o.generate(ctx, uid, conversationID, "", TriggerRefresh)
	if err != nil {
		o.logger.Error("Context refresh failed for user %s: %v", uid, err)
		return false
	}
	return o.cache.Set(ctx, uid.String(), doc, conversationID)
}

// BulkRefresh refreshes users in batches of batchSize. Batches run one after
// another; users within a batch are refreshed concurrently. A failure or
// panic for one user is recorded as false for that user only.
func (o *Orchestrator) BulkRefresh(ctx context.Context, userIDs []any, batchSize int) map[climbing.UserID]bool {
	if batchSize <= 0 {
		batchSize = o.batchSize
	}
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanContextBulk,
		attribute.Int(observability.AttrBatchSize, batchSize))
	defer observability.EndSpan(span, nil)

	results := make(map[climbing.UserID]bool, len(userIDs))
	var mu sync.Mutex
	record := func(uid climbing.UserID, ok bool) {
		mu.Lock()
		results[uid] = ok
		mu.Unlock()
		o.metrics.RecordBulkRefresh(ctx, ok)
	}

	for start := 0; start < len(userIDs); start += batchSize {
		end := min(start+batchSize, len(userIDs))
		batch := userIDs[start:end]
		if ctx.Err() != nil {
			for _, raw := range batch {
				record(bulkKey(raw), false)
			}
			continue
		}

		var g errgroup.Group
		for _, raw := range batch {
			g.Go(func() error {
				uid := bulkKey(raw)
				err := async.Safe(o.logger, "bulk-refresh", func() error {
					if !o.RefreshContext(ctx, raw, "") {
						return errRefreshFailed
					}
					return nil
				})
				if err != nil {
					o.logger.Warn("Bulk refresh failed for user %s: %v", uid, err)
				}
				record(uid, err == nil)
				return nil
			})
		}
		_ = g.Wait()
	}

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	o.logger.Info("Bulk refresh finished: %d/%d succeeded", succeeded, len(results))
	return results
}

func (o *Orchestrator) generate(ctx context.Context, uid climbing.UserID, conversationID, query, trigger string) (doc contextcache.Document, err error) {
	started := time.Now()
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanContextGenerate,
		attribute.String(observability.AttrUserID, uid.String()))
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		o.metrics.RecordContextGeneration(ctx, trigger, status, time.Since(started))
		observability.EndSpan(span, err)
	}()

	agg, err := o.aggregator.AggregateAll(ctx, uid, conversationID)
	if err != nil {
		return nil, err
	}
	enriched, err := o.enhancer.Enhance(ctx, agg.AsMap(), query)
	if err != nil {
		return nil, fmt.Errorf("enhance context: %w", err)
	}
	return formatter.Format(enriched, query).Map()
}

func (o *Orchestrator) updateRelevance(ctx context.Context, uid climbing.UserID, conversationID string, cached contextcache.Document, query string) (doc *formatter.Document, err error) {
	started := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		o.metrics.RecordContextGeneration(ctx, TriggerRelevance, status, time.Since(started))
	}()

	enriched, err := o.enhancer.Enhance(ctx, cached, query)
	if err != nil {
		return nil, fmt.Errorf("enhance cached context: %w", err)
	}
	doc = formatter.Format(enriched, query)
	update, err := doc.Map()
	if err != nil {
		return nil, err
	}
	if !o.cache.Update(ctx, uid.String(), update, conversationID, true) {
		o.logger.Debug("Relevance for user %s was not written back", uid)
	}
	return doc, nil
}

// bulkKey is the result key for a raw id; invalid ids keep their text form.
func bulkKey(raw any) climbing.UserID {
	if uid, err := climbing.NormalizeUserID(raw); err == nil {
		return uid
	}
	return climbing.UserID(strings.TrimSpace(fmt.Sprint(raw)))
}
