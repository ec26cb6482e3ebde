package id

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the identifier generation algorithm to use.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers using KSUID.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered identifiers using UUID version 7.
	StrategyUUIDv7
	// StrategyULID generates monotonic, sortable identifiers using ULID.
	StrategyULID
)

var defaultGenerator = &Generator{strategy: StrategyKSUID}

// Generator produces prefixed identifiers for events, conversations and requests.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.mu.Lock()
	defaultGenerator.strategy = strategy
	defaultGenerator.mu.Unlock()
}

// NewEventID generates a unique identifier for a stream event.
func NewEventID() string {
	return defaultGenerator.newIdentifier("evt")
}

// NewConversationID generates a conversation identifier.
func NewConversationID() string {
	return defaultGenerator.newIdentifier("conv")
}

// NewUploadID generates an identifier for a pending upload.
func NewUploadID() string {
	return defaultGenerator.newIdentifier("upl")
}

// NewRequestID generates an identifier used to correlate a single HTTP request.
func NewRequestID() string {
	return defaultGenerator.newIdentifier("req")
}

func (g *Generator) newIdentifier(prefix string) string {
	g.mu.RLock()
	strategy := g.strategy
	g.mu.RUnlock()

	var body string
	switch strategy {
	case StrategyUUIDv7:
		v7, err := uuid.NewV7()
		if err == nil {
			body = v7.String()
			break
		}
		body = ksuid.New().String()
	case StrategyULID:
		body = ulid.Make().String()
	default:
		body = ksuid.New().String()
	}
	return fmt.Sprintf("%s-%s", prefix, body)
}
