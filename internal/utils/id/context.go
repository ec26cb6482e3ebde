package id

import "context"

type contextKey string

const (
	userKey         contextKey = "cragcoach_user_id"
	conversationKey contextKey = "cragcoach_conversation_id"
	requestKey      contextKey = "cragcoach_request_id"
)

// IDs captures the identifiers propagated across request boundaries.
type IDs struct {
	UserID         string
	ConversationID string
	RequestID      string
}

// WithUserID stores the user identifier on the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey, userID)
}

// WithConversationID stores the conversation identifier on the context.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	if conversationID == "" {
		return ctx
	}
	return context.WithValue(ctx, conversationKey, conversationID)
}

// WithRequestID stores the request identifier on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestKey, requestID)
}

// WithIDs stores any provided identifiers on the context.
func WithIDs(ctx context.Context, ids IDs) context.Context {
	ctx = WithUserID(ctx, ids.UserID)
	ctx = WithConversationID(ctx, ids.ConversationID)
	return WithRequestID(ctx, ids.RequestID)
}

// UserIDFromContext extracts the user identifier from context.
func UserIDFromContext(ctx context.Context) string {
	return stringValue(ctx, userKey)
}

// ConversationIDFromContext extracts the conversation identifier from context.
func ConversationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, conversationKey)
}

// RequestIDFromContext extracts the request identifier from context.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestKey)
}

// IDsFromContext collects all known identifiers from the context.
func IDsFromContext(ctx context.Context) IDs {
	return IDs{
		UserID:         UserIDFromContext(ctx),
		ConversationID: ConversationIDFromContext(ctx),
		RequestID:      RequestIDFromContext(ctx),
	}
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
