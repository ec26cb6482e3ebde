// Package chat processes coaching prompts and uploaded tick logs, reporting
// progress to the user's event stream.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"

	"cragcoach/internal/climbing"
	cerrors "cragcoach/internal/errors"
	"cragcoach/internal/events"
	"cragcoach/internal/formatter"
	"cragcoach/internal/llm"
	"cragcoach/internal/logging"
	"cragcoach/internal/observability"
	"cragcoach/internal/orchestrator"
	"cragcoach/internal/utils/id"
)

// Contexts resolves and refreshes context documents.
type Contexts interface {
	GetContext(ctx context.Context, userID any, opts orchestrator.GetOptions) (*formatter.Document, bool)
	HandleDataUpdate(ctx context.Context, userID any, updateType string, updateData map[string]any, conversationID string) bool
}

// Publisher delivers events to a user's stream.
type Publisher interface {
	Publish(ctx context.Context, userID any, eventType events.Type, content any, processingTime time.Duration) error
}

// Activity reads and merges tick history.
type Activity interface {
	FetchRecentActivity(ctx context.Context, userID any, windowDays int) ([]climbing.Tick, error)
	ParseUpload(content []byte, format climbing.Format) ([]climbing.Tick, error)
	Deduplicate(existing, incoming []climbing.Tick) []climbing.Tick
}

// Recorder persists conversation turns and pending uploads.
type Recorder interface {
	climbing.ChatRecorder
	climbing.UploadWriter
}

// Dependencies wires a Service.
type Dependencies struct {
	Contexts Contexts
	Events   Publisher
	Model    llm.Client
	Activity Activity
	Recorder Recorder
	Quota    QuotaConfig
	Logger   logging.Logger
	Metrics  *observability.MetricsCollector
	Tracer   *observability.TracerProvider
	Clock    func() time.Time
}

// Service handles chat prompts and uploads.
type Service struct {
	contexts Contexts
	events   Publisher
	model    llm.Client
	activity Activity
	recorder Recorder
	quota    *quota
	logger   logging.Logger
	metrics  *observability.MetricsCollector
	tracer   *observability.TracerProvider
	now      func() time.Time
}

// NewService creates a Service. Recorder may be nil, in which case turns
// and uploads are not persisted.
func NewService(deps Dependencies) *Service {
	s := &Service{
		contexts: deps.Contexts,
		events:   deps.Events,
		model:    deps.Model,
		activity: deps.Activity,
		recorder: deps.Recorder,
		quota:    newQuota(deps.Quota),
		logger:   logging.OrNop(deps.Logger),
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		now:      deps.Clock,
	}
	if deps.Logger == nil {
		s.logger = logging.NewComponentLogger("chat")
	}
	if s.tracer == nil {
		s.tracer = observability.NoopTracer()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Request is one chat prompt.
type Request struct {
	UserID         any
	ConversationID string
	Prompt         string
}

// Response is the outcome of a processed prompt. ContextAvailable is false
// when the prompt was answered without personalized context.
type Response struct {
	UserID           climbing.UserID `json:"user_id"`
	ConversationID   string          `json:"conversation_id"`
	Text             string          `json:"text"`
	Model            string          `json:"model"`
	ContextAvailable bool            `json:"context_available"`
	ProcessingTime   time.Duration   `json:"processing_time"`
}

// Process answers a prompt. The user's stream receives processing, partial
// responses and a final response or error event. A missing context never
// fails the request; quota, validation and model failures do.
func (s *Service) Process(ctx context.Context, req Request) (resp *Response, err error) {
	started := s.now()
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, cerrors.Validation("chat.process", "prompt must not be empty", "prompt")
	}
	uid, err := climbing.NormalizeUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = id.NewConversationID()
	}

	ctx = id.WithIDs(ctx, id.IDs{UserID: uid.String(), ConversationID: conversationID})
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanChatProcess,
		attribute.String(observability.AttrModel, s.model.Model()))
	defer func() {
		status := "success"
		if err != nil {
			status = string(kindOr(err, "error"))
		}
		s.metrics.RecordChatRequest(ctx, status, s.now().Sub(started))
		observability.EndSpan(span, err)
	}()

	if !s.quota.allow(uid, s.now()) {
		err = cerrors.QuotaExceeded(uid.String(), "chat quota exceeded, please wait a moment before asking again")
		s.publishError(ctx, uid, conversationID, err, started)
		return nil, err
	}

	s.publish(ctx, uid, events.TypeProcessing, map[string]any{
		"message":         "Analyzing your climbing data",
		"conversation_id": conversationID,
	}, 0)

	doc, ok := s.contexts.GetContext(ctx, uid, orchestrator.GetOptions{Query: prompt, ConversationID: conversationID})
	if !ok {
		s.logger.Warn("Answering user %s without personalized context", uid)
		doc = formatter.Empty()
	}

	if chart, ok := visualizationFor(prompt); ok {
		s.publish(ctx, uid, events.TypeVisualizationSuggestion, map[string]any{
			"chart_type":      chart,
			"conversation_id": conversationID,
			"data":            visualizationData(chart, doc),
		}, 0)
	}

	text, err := s.model.Stream(ctx, llm.Request{
		Context: doc,
		Prompt:  prompt,
		History: doc.RecentActivity.ChatHistory,
	}, func(chunk string) {
		s.publish(ctx, uid, events.TypePartialResponse, map[string]any{
			"chunk":           chunk,
			"conversation_id": conversationID,
		}, 0)
	})
	if err != nil {
		if _, classified := cerrors.KindOf(err); !classified {
			err = cerrors.Model("chat.model", err)
		}
		s.publishError(ctx, uid, conversationID, err, started)
		return nil, err
	}

	s.record(ctx, uid, climbing.ChatTurn{ConversationID: conversationID, Role: "user", Content: prompt, CreatedAt: started.UTC()})
	s.record(ctx, uid, climbing.ChatTurn{ConversationID: conversationID, Role: "assistant", Content: text, CreatedAt: s.now().UTC()})

	elapsed := s.now().Sub(started)
	s.publish(ctx, uid, events.TypeResponse, map[string]any{
		"text":            text,
		"conversation_id": conversationID,
		"context_version": doc.ContextVersion,
	}, elapsed)

	return &Response{
		UserID:           uid,
		ConversationID:   conversationID,
		Text:             text,
		Model:            s.model.Model(),
		ContextAvailable: ok,
		ProcessingTime:   elapsed,
	}, nil
}

// UploadResult summarizes a processed upload.
type UploadResult struct {
	UploadID       string          `json:"upload_id"`
	UserID         climbing.UserID `json:"user_id"`
	Filename       string          `json:"filename"`
	Format         climbing.Format `json:"format"`
	Records        int             `json:"records"`
	NewRecords     int             `json:"new_records"`
	MergedTotal    int             `json:"merged_total"`
	ContextUpdated bool            `json:"context_updated"`
}

// HandleUpload parses an uploaded tick log, stores it as pending, refreshes
// the user's context and notifies the stream. Parse failures are returned as
// validation errors.
func (s *Service) HandleUpload(ctx context.Context, userID any, filename string, content []byte) (*UploadResult, error) {
	started := s.now()
	uid, err := climbing.NormalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	format, err := climbing.DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Processing %s upload %q for user %s", humanize.Bytes(uint64(len(content))), filename, uid)

	incoming, err := s.activity.ParseUpload(content, format)
	if err != nil {
		return nil, err
	}
	existing, err := s.activity.FetchRecentActivity(ctx, uid, 0)
	if err != nil {
		s.logger.Warn("Could not load recent ticks of user %s for dedup: %v", uid, err)
		existing = nil
	}
	merged := s.activity.Deduplicate(existing, incoming)

	upload := climbing.Upload{
		ID:        id.NewUploadID(),
		Filename:  filename,
		Ticks:     incoming,
		CreatedAt: started.UTC(),
	}
	if s.recorder != nil {
		if err := s.recorder.SavePendingUpload(ctx, uid, upload); err != nil {
			return nil, cerrors.Context("chat.save_upload", uid.String(), err)
		}
	}

	result := &UploadResult{
		UploadID:    upload.ID,
		UserID:      uid,
		Filename:    filename,
		Format:      format,
		Records:     len(incoming),
		NewRecords:  countNew(existing, incoming),
		MergedTotal: len(merged),
	}
	result.ContextUpdated = s.contexts.HandleDataUpdate(ctx, uid, "upload", map[string]any{
		"upload_id": upload.ID,
		"records":   len(incoming),
	}, "")

	s.publish(ctx, uid, events.TypeUploadProcessed, result, s.now().Sub(started))
	return result, nil
}

func (s *Service) publish(ctx context.Context, uid climbing.UserID, eventType events.Type, content any, elapsed time.Duration) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, uid, eventType, content, elapsed)
	switch {
	case err == nil:
	case errors.Is(err, cerrors.ErrNotSubscribed):
		s.logger.Debug("User %s has no event stream; dropping %s event", uid, eventType)
	default:
		s.logger.Warn("Publishing %s event for user %s failed: %v", eventType, uid, err)
	}
}

func (s *Service) publishError(ctx context.Context, uid climbing.UserID, conversationID string, err error, started time.Time) {
	s.publish(ctx, uid, events.TypeError, map[string]any{
		"message":         cerrors.UserMessage(err),
		"kind":            string(kindOr(err, cerrors.KindModel)),
		"conversation_id": conversationID,
	}, s.now().Sub(started))
}

func (s *Service) record(ctx context.Context, uid climbing.UserID, turn climbing.ChatTurn) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.AppendChatTurn(ctx, uid, turn); err != nil {
		s.logger.Warn("Failed to record %s turn for user %s: %v", turn.Role, uid, err)
	}
}

func kindOr(err error, fallback cerrors.Kind) cerrors.Kind {
	if kind, ok := cerrors.KindOf(err); ok {
		return kind
	}
	return fallback
}

func countNew(existing, incoming []climbing.Tick) int {
	known := make(map[string]bool, len(existing))
	for _, t := range existing {
		known[climbing.RouteKey(t.RouteName)] = true
	}
	n := 0
	for _, t := range incoming {
		key := climbing.RouteKey(t.RouteName)
		if !known[key] {
			known[key] = true
			n++
		}
	}
	return n
}

var visualizationKeywords = []string{"chart", "graph", "plot", "visual", "progress"}

// visualizationFor reports whether the prompt asks for a visual view, and which.
func visualizationFor(prompt string) (string, bool) {
	lower := strings.ToLower(prompt)
	for _, keyword := range visualizationKeywords {
		if strings.Contains(lower, keyword) {
			if strings.Contains(lower, "grade") || strings.Contains(lower, "progress") {
				return "grade_progression", true
			}
			return "activity", true
		}
	}
	return "", false
}

func visualizationData(chart string, doc *formatter.Document) map[string]any {
	switch chart {
	case "grade_progression":
		points := make([]map[string]any, 0, len(doc.RecentActivity.Ticks))
		for i := len(doc.RecentActivity.Ticks) - 1; i >= 0; i-- {
			t := doc.RecentActivity.Ticks[i]
			points = append(points, map[string]any{
				"date":  t.Date,
				"grade": t.Grade,
				"value": climbing.GradeValue(t.Grade),
			})
		}
		return map[string]any{"points": points, "progression": doc.Performance.GradeProgression}
	default:
		return map[string]any{"activity_levels": doc.Performance.ActivityLevels, "frequency": doc.Training.Frequency}
	}
}
