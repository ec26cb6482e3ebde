package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cragcoach/internal/async"
	"cragcoach/internal/climbing"
	cerrors "cragcoach/internal/errors"
	"cragcoach/internal/logging"
	"cragcoach/internal/observability"
	"cragcoach/internal/utils/id"
)

const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultCleanupInterval   = 30 * time.Second
	DefaultCancelWait        = time.Second
)

// ErrManagerClosed is returned by Subscribe after Close.
var ErrManagerClosed = errors.New("event manager closed")

// Transport reports whether the client behind a stream is still connected.
type Transport interface {
	Connected() bool
}

// TransportFunc adapts a function to Transport.
type TransportFunc func() bool

func (f TransportFunc) Connected() bool { return f() }

// Config holds stream timings. Zero values use the defaults.
type Config struct {
	HeartbeatInterval time.Duration
	CleanupInterval   time.Duration
	// CancelWait bounds how long teardown waits for a cleanup goroutine.
	CancelWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.CancelWait <= 0 {
		c.CancelWait = DefaultCancelWait
	}
	return c
}

// Manager owns the per-user subscription table. At most one live session
// exists per user; subscribing again replaces the previous one.
type Manager struct {
	cfg     Config
	now     func() time.Time
	newID   func() string
	logger  logging.Logger
	metrics *observability.MetricsCollector

	mu       sync.Mutex
	sessions map[climbing.UserID]*session
	closed   bool
}

// Option customizes a Manager.
type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithIDGenerator(next func() string) Option {
	return func(m *Manager) {
		if next != nil {
			m.newID = next
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrNop(logger) }
}

func WithMetrics(collector *observability.MetricsCollector) Option {
	return func(m *Manager) { m.metrics = collector }
}

// NewManager creates an empty Manager.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		newID:    id.NewEventID,
		logger:   logging.NewComponentLogger("events"),
		sessions: make(map[climbing.UserID]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// session is one user's live subscription.
type session struct {
	userID    climbing.UserID
	transport Transport

	mu     sync.Mutex
	queue  []Event
	closed bool

	// wake has capacity 1: any number of publishes before the consumer runs
	// collapse into one wake-up.
	wake    chan struct{}
	removed chan struct{}
	once    sync.Once

	cancelCleanup context.CancelFunc
	cleanupDone   chan struct{}
}

func newSession(userID climbing.UserID, transport Transport) (*session, context.Context) {
	cleanupCtx, cancel := context.WithCancel(context.Background())
	return &session{
		userID:        userID,
		transport:     transport,
		wake:          make(chan struct{}, 1),
		removed:       make(chan struct{}),
		cancelCleanup: cancel,
		cleanupDone:   make(chan struct{}),
	}, cleanupCtx
}

// close discards the queue, wakes the consumer and stops the cleanup
// goroutine. It reports whether this call closed the session.
func (s *session) close() bool {
	closed := false
	s.once.Do(func() {
		s.mu.Lock()
		s.queue = nil
		s.closed = true
		s.mu.Unlock()
		close(s.removed)
		s.cancelCleanup()
		closed = true
	})
	return closed
}

func (s *session) enqueue(e Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *session) drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.queue
	s.queue = nil
	return pending
}

func (s *session) transportGone() bool {
	return s.transport != nil && !s.transport.Connected()
}

// Subscribe opens the user's stream. A live stream for the same user is torn
// down first and its cleanup goroutine awaited for at most CancelWait.
func (m *Manager) Subscribe(ctx context.Context, userID any, transport Transport) (*Stream, error) {
	uid, err := climbing.NormalizeUserID(userID)
	if err != nil {
		return nil, cerrors.Subscription("events.subscribe", "", err)
	}
	s, cleanupCtx := newSession(uid, transport)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.cancelCleanup()
		return nil, cerrors.Subscription("events.subscribe", uid.String(), ErrManagerClosed)
	}
	previous := m.sessions[uid]
	m.sessions[uid] = s
	m.mu.Unlock()

	if previous != nil {
		m.logger.Info("Replacing existing event stream for user %s", uid)
		m.teardown(ctx, previous, true)
	}

	async.Go(m.logger, "events-cleanup", func() { m.cleanupLoop(cleanupCtx, s) })

	m.metrics.IncrementSubscriptions(ctx)
	m.logger.Debug("User %s subscribed", uid)
	return &Stream{manager: m, session: s}, nil
}

// Publish queues an event for the user's live stream. It fails with a
// subscription error wrapping ErrNotSubscribed when the user has none;
// nothing is buffered for absent subscribers.
func (m *Manager) Publish(ctx context.Context, userID any, eventType Type, content any, processingTime time.Duration) error {
	if !eventType.Publishable() {
		return cerrors.Validation("events.publish", fmt.Sprintf("unknown event type %q", eventType), "type")
	}
	uid, err := climbing.NormalizeUserID(userID)
	if err != nil {
		return cerrors.Subscription("events.publish", "", err)
	}

	m.mu.Lock()
	s := m.sessions[uid]
	m.mu.Unlock()
	if s == nil {
		return cerrors.Subscription("events.publish", uid.String(), cerrors.ErrNotSubscribed)
	}

	e := Event{
		Type:    eventType,
		Content: content,
		ID:      m.newID(),
		Metadata: Metadata{
			Timestamp:      m.now().UTC(),
			ResponseLength: contentLength(content),
			ProcessingTime: processingTime.Seconds(),
		},
	}
	if !s.enqueue(e) {
		return cerrors.Subscription("events.publish", uid.String(), cerrors.ErrNotSubscribed)
	}
	m.metrics.RecordEventPublished(ctx, string(eventType))
	return nil
}

// Disconnect ends the user's stream. It is a no-op for unknown users and
// never fails.
func (m *Manager) Disconnect(ctx context.Context, userID any) {
	uid, err := climbing.NormalizeUserID(userID)
	if err != nil {
		m.logger.Debug("Ignoring disconnect: %v", err)
		return
	}
	m.mu.Lock()
	s := m.sessions[uid]
	delete(m.sessions, uid)
	m.mu.Unlock()
	if s != nil {
		m.teardown(ctx, s, true)
		m.logger.Debug("User %s disconnected", uid)
	}
}

// IsSubscribed reports whether the user has a live stream.
func (m *Manager) IsSubscribed(userID any) bool {
	uid, err := climbing.NormalizeUserID(userID)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[uid] != nil
}

// ActiveSubscriptions returns the number of live streams.
func (m *Manager) ActiveSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close disconnects every user and rejects further subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[climbing.UserID]*session)
	m.mu.Unlock()

	for _, s := range sessions {
		m.teardown(context.Background(), s, true)
	}
}

// removeIfCurrent drops s from the table unless a newer session replaced it,
// then tears s down.
func (m *Manager) removeIfCurrent(ctx context.Context, s *session, wait bool) {
	m.mu.Lock()
	if m.sessions[s.userID] == s {
		delete(m.sessions, s.userID)
	}
	m.mu.Unlock()
	m.teardown(ctx, s, wait)
}

func (m *Manager) isCurrent(s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[s.userID] == s
}

func (m *Manager) teardown(ctx context.Context, s *session, wait bool) {
	if s.close() {
		m.metrics.DecrementSubscriptions(ctx)
	}
	if !wait {
		return
	}
	timer := time.NewTimer(m.cfg.CancelWait)
	defer timer.Stop()
	select {
	case <-s.cleanupDone:
	case <-timer.C:
		m.logger.Warn("Cleanup for user %s did not stop within %v", s.userID, m.cfg.CancelWait)
	}
}

// cleanupLoop removes the session once it is no longer current or its
// transport reports the client gone. It always cleans up on exit.
func (m *Manager) cleanupLoop(ctx context.Context, s *session) {
	defer close(s.cleanupDone)
	defer m.removeIfCurrent(context.Background(), s, false)

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.removed:
			return
		case <-ticker.C:
			if !m.isCurrent(s) {
				return
			}
			if s.transportGone() {
				m.logger.Info("Client of user %s went away; closing stream", s.userID)
				return
			}
		}
	}
}
