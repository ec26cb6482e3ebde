package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfFollowsWrapChain(t *testing.T) {
	base := Subscription("events.publish", "42", ErrNotSubscribed)
	wrapped := fmt.Errorf("chat: %w", base)

	kind, ok := KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindSubscription, kind)
	assert.True(t, IsKind(wrapped, KindSubscription))
	assert.False(t, IsKind(wrapped, KindValidation))
	assert.True(t, errors.Is(wrapped, ErrNotSubscribed))

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrorMessageIncludesOpAndCause(t *testing.T) {
	err := Context("aggregator.fetch_profile", "7", errors.New("connection refused"))
	assert.Equal(t, "context_error [aggregator.fetch_profile]: connection refused", err.Error())

	v := Validation("upload.csv", "missing required columns: date, grade", "date", "grade")
	assert.Equal(t, "validation_error [upload.csv]: missing required columns: date, grade", v.Error())
	assert.Equal(t, []string{"date", "grade"}, v.Fields)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", Validation("op", "bad"), http.StatusBadRequest},
		{"subscription", Subscription("op", "1", ErrNotSubscribed), http.StatusConflict},
		{"quota", QuotaExceeded("1", "slow down"), http.StatusTooManyRequests},
		{"model", Model("llm", errors.New("503")), http.StatusBadGateway},
		{"context", Context("op", "1", errors.New("db")), http.StatusInternalServerError},
		{"invalid user", Context("normalize", "", ErrInvalidUserID), http.StatusBadRequest},
		{"unclassified", errors.New("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "slow down", UserMessage(QuotaExceeded("1", "slow down")))
	assert.Equal(t, ErrNotSubscribed.Error(), UserMessage(Subscription("op", "1", ErrNotSubscribed)))
	assert.Equal(t, "", UserMessage(nil))
}
