package climbing

import (
	"context"
	"time"
)

// ChatTurn is one prior message in a conversation.
type ChatTurn struct {
	ConversationID string    `json:"conversation_id,omitempty"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Map returns the turn in its JSON value form.
func (c ChatTurn) Map() map[string]any {
	out := map[string]any{
		"role":       c.Role,
		"content":    c.Content,
		"created_at": c.CreatedAt.UTC().Format(time.RFC3339),
	}
	if c.ConversationID != "" {
		out["conversation_id"] = c.ConversationID
	}
	return out
}

// Aggregate is the raw data collected for one user before enhancement.
// It is built per call and never stored as is.
type Aggregate struct {
	UserID         UserID
	ConversationID string
	WindowDays     int
	Profile        map[string]any
	RecentTicks    []Tick // newest first
	Performance    map[string]any
	ChatHistory    []ChatTurn // newest first
	PendingUploads []Upload
	CollectedAt    time.Time
}

// AsMap returns the aggregate in the JSON value form consumed by the enhancer.
func (a Aggregate) AsMap() map[string]any {
	history := make([]any, len(a.ChatHistory))
	for i, turn := range a.ChatHistory {
		history[i] = turn.Map()
	}
	uploads := make([]any, len(a.PendingUploads))
	for i, upload := range a.PendingUploads {
		uploads[i] = map[string]any{
			"id":         upload.ID,
			"filename":   upload.Filename,
			"tick_count": len(upload.Ticks),
			"created_at": upload.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	profile := a.Profile
	if profile == nil {
		profile = map[string]any{}
	}
	performance := a.Performance
	if performance == nil {
		performance = map[string]any{}
	}
	return map[string]any{
		"user_id":         a.UserID.String(),
		"conversation_id": a.ConversationID,
		"window_days":     a.WindowDays,
		"profile":         profile,
		"recent_ticks":    TicksToSlice(a.RecentTicks),
		"performance":     performance,
		"chat_history":    history,
		"pending_uploads": uploads,
		"collected_at":    a.CollectedAt.UTC().Format(time.RFC3339),
	}
}

// Repository is the persistence read interface. Single-row lookups return an
// empty map, not an error, when no row exists.
type Repository interface {
	FetchProfile(ctx context.Context, userID UserID) (map[string]any, error)
	// FetchTicksSince returns ticks on or after since, newest first.
	FetchTicksSince(ctx context.Context, userID UserID, since time.Time) ([]Tick, error)
	FetchPerformance(ctx context.Context, userID UserID) (map[string]any, error)
	// FetchChatHistory returns up to limit turns, newest first, restricted
	// to conversationID when it is non-empty.
	FetchChatHistory(ctx context.Context, userID UserID, conversationID string, limit int) ([]ChatTurn, error)
	FetchPendingUploads(ctx context.Context, userID UserID) ([]Upload, error)
	// ListActiveUsers returns users with ticks or chat activity since the given time.
	ListActiveUsers(ctx context.Context, since time.Time) ([]UserID, error)
}

// UploadWriter persists parsed uploads awaiting merge.
type UploadWriter interface {
	SavePendingUpload(ctx context.Context, userID UserID, upload Upload) error
}

// ChatRecorder appends conversation turns to the chat history.
type ChatRecorder interface {
	AppendChatTurn(ctx context.Context, userID UserID, turn ChatTurn) error
}

// Store is a repository that also records uploads and chat turns.
type Store interface {
	Repository
	UploadWriter
	ChatRecorder
	Close() error
}
