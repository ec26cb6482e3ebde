package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the closed set of failure classes the service reports. Callers
// switch on Kind instead of matching concrete error types.
type Kind string

const (
	// KindQuotaExceeded - the user ran out of chat quota
	KindQuotaExceeded Kind = "quota_exceeded"
	// KindModel - the LLM call failed
	KindModel Kind = "model_error"
	// KindContext - context pipeline or data access failed
	KindContext Kind = "context_error"
	// KindValidation - user supplied input is invalid and must be corrected
	KindValidation Kind = "validation_error"
	// KindSubscription - event stream protocol violation (e.g. publish without subscribe)
	KindSubscription Kind = "subscription_error"
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{KindQuotaExceeded, KindModel, KindContext, KindValidation, KindSubscription}

var (
	// ErrNotSubscribed is returned when publishing to a user without a live stream.
	ErrNotSubscribed = errors.New("user is not subscribed")
	// ErrInvalidUserID is returned when a user identifier cannot be normalized.
	ErrInvalidUserID = errors.New("invalid user id format")
	// ErrStoreUnavailable marks cache store failures that were short-circuited.
	ErrStoreUnavailable = errors.New("cache store unavailable")
	// ErrCircuitOpen is returned while a circuit breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Error is the structured payload carried by every classified failure.
type Error struct {
	Kind    Kind
	Op      string   // operation that failed, e.g. "aggregator.fetch_profile"
	UserID  string   // user the failure concerns, when known
	Message string   // user-facing message
	Fields  []string // violated fields or columns for validation failures
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" [")
		b.WriteString(e.Op)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation builds a validation error naming the violated fields.
func Validation(op, message string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message, Fields: fields}
}

// Subscription builds a subscription-state error for userID.
func Subscription(op, userID string, err error) *Error {
	return &Error{Kind: KindSubscription, Op: op, UserID: userID, Err: err}
}

// Context builds a context pipeline / data access error for userID.
func Context(op, userID string, err error) *Error {
	return &Error{Kind: KindContext, Op: op, UserID: userID, Err: err}
}

// Model wraps an LLM failure.
func Model(op string, err error) *Error {
	return &Error{Kind: KindModel, Op: op, Err: err}
}

// QuotaExceeded reports that userID is over quota.
func QuotaExceeded(userID, message string) *Error {
	return &Error{Kind: KindQuotaExceeded, Op: "quota", UserID: userID, Message: message}
}

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	got, ok := KindOf(err)
	return ok && got == kind
}

// HTTPStatus maps err to the status code the HTTP layer should answer with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrInvalidUserID) {
		return http.StatusBadRequest
	}
	kind, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindSubscription:
		return http.StatusConflict
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindModel:
		return http.StatusBadGateway
	case KindContext:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns a message suitable for an error response body.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) && classified.Message != "" {
		return classified.Message
	}
	if errors.Is(err, ErrInvalidUserID) {
		return ErrInvalidUserID.Error()
	}
	if errors.Is(err, ErrNotSubscribed) {
		return ErrNotSubscribed.Error()
	}
	return fmt.Sprintf("request failed: %v", err)
}
