package events

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "cragcoach/internal/errors"
	"cragcoach/internal/logging"
)

var fixedNow = time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("evt-%d", n.Add(1)) }
}

func newTestManager(cfg Config) *Manager {
	if cfg.CancelWait == 0 {
		cfg.CancelWait = 200 * time.Millisecond
	}
	return NewManager(cfg,
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(sequentialIDs()),
		WithLogger(logging.Nop()),
	)
}

func nextFrame(t *testing.T, st *Stream) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := st.Next(ctx)
	require.NoError(t, err)
	return frame
}

func TestFrameEncode(t *testing.T) {
	frame := eventFrame(Event{
		Type:     TypeResponse,
		Content:  map[string]any{"text": "hi"},
		ID:       "evt-1",
		Metadata: Metadata{Timestamp: fixedNow, ResponseLength: 13, ProcessingTime: 1.5},
	})

	payload, err := frame.Encode()
	require.NoError(t, err)
	assert.Equal(t, "event: response\nid: evt-1\n"+
		`data: {"type":"response","content":{"text":"hi"},"id":"evt-1",`+
		`"metadata":{"timestamp":"2024-01-31T12:00:00Z","response_length":13,"processing_time":1.5}}`+
		"\n\n", string(payload))
}

func TestSubscribeYieldsConnectedFrame(t *testing.T) {
	m := newTestManager(Config{})
	defer m.Close()

	st, err := m.Subscribe(context.Background(), 7, nil)
	require.NoError(t, err)

	frame := nextFrame(t, st)
	assert.Equal(t, TypeConnected, frame.Type)
	assert.Equal(t, "evt-1", frame.ID)
	assert.Equal(t, "7", frame.Data.(map[string]any)["user_id"])
	assert.True(t, m.IsSubscribed("7"))
	assert.Equal(t, 1, m.ActiveSubscriptions())
}

func TestPublishWithoutSubscriptionFails(t *testing.T) {
	m := newTestManager(Config{})
	defer m.Close()

	for range 10 {
		err := m.Publish(context.Background(), 5, TypeResponse, "hello", 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, cerrors.ErrNotSubscribed)
		assert.True(t, cerrors.IsKind(err, cerrors.KindSubscription))
	}
	assert.Zero(t, m.ActiveSubscriptions())
	assert.False(t, m.IsSubscribed(5))
}

func TestPublishValidatesInput(t *testing.T) {
	m := newTestManager(Config{})
	defer m.Close()
	_, err := m.Subscribe(context.Background(), 1, nil)
	require.NoError(t, err)

	err = m.Publish(context.Background(), 1, TypeHeartbeat, nil, 0)
	assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))

	err = m.Publish(context.Background(), "not-an-id", TypeResponse, nil, 0)
	assert.True(t, cerrors.IsKind(err, cerrors.KindSubscription))
	assert.ErrorIs(t, err, cerrors.ErrInvalidUserID)
}

func TestPublishBuildsMetadata(t *testing.T) {
	m := newTestManager(Config{})
	defer m.Close()
	st, err := m.Subscribe(context.Background(), 1, nil)
	require.NoError(t, err)
	nextFrame(t, st)

	require.NoError(t, m.Publish(context.Background(), 1, TypeResponse, map[string]any{"text": "hello"}, 2*time.Second))

	frame := nextFrame(t, st)
	e, ok := frame.Event()
	require.True(t, ok)
	assert.Equal(t, TypeResponse, e.Type)
	assert.Equal(t, frame.ID, e.ID)
	assert.Equal(t, Metadata{Timestamp: fixedNow, ResponseLength: len(`{"text":"hello"}`), ProcessingTime: 2}, e.Metadata)
}

func TestEventsAreDeliveredInPublishOrder(t *testing.T) {
	for trial := range 100 {
		m := newTestManager(Config{})
		st, err := m.Subscribe(context.Background(), 11, nil)
		require.NoError(t, err)
		require.Equal(t, TypeConnected, nextFrame(t, st).Type)

		for i := 1; i <= 3; i++ {
			require.NoError(t, m.Publish(context.Background(), 11, TypePartialResponse, fmt.Sprintf("e%d", i), 0))
		}
		for i := 1; i <= 3; i++ {
			e, ok := nextFrame(t, st).Event()
			require.True(t, ok)
			require.Equal(t, fmt.Sprintf("e%d", i), e.Content, "trial %d", trial)
		}
		m.Disconnect(context.Background(), 11)
		m.Close()
	}
}

func TestConcurrentPublishesCoalesceIntoOneWake(t *testing.T) {
	m := newTestManager(Config{})
	defer m.Close()
	st, err := m.Subscribe(context.Background(), 3, nil)
	require.NoError(t, err)
	nextFrame(t, st)

	for i := range 5 {
		require.NoError(t, m.Publish(context.Background(), 3, TypeProcessing, i, 0))
	}
	assert.Len(t, st.session.wake, 1)

	for i := range 5 {
		e, ok := nextFrame(t, st).Event()
		require.True(t, ok)
		assert.Equal(t, i, e.Content)
	}
	assert.Len(t, st.session.wake, 0)
}

func TestHeartbeatWhenIdle(t *testing.T) {
	m := newTestManager(Config{HeartbeatInterval: 10 * time.Millisecond})
	defer m.Close()
	st, err := m.Subscribe(context.Background(), 1, nil)
	require.NoError(t, err)
	nextFrame(t, st)

	assert.Equal(t, TypeHeartbeat, nextFrame(t, st).Type)
	assert.Equal(t, TypeHeartbeat, nextFrame(t, st).Type)
	assert.True(t, m.IsSubscribed(1))
}

func TestResubscribeReplacesPreviousSession(t *testing.T) {
	m := newTestManager(Config{})
	defer m.Close()
	ctx := context.Background()

	first, err := m.Subscribe(ctx, 9, nil)
	require.NoError(t, err)
	nextFrame(t, first)
	require.NoError(t, m.Publish(ctx, 9, TypeProcessing, "stale", 0))

	second, err := m.Subscribe(ctx, 9, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, m.ActiveSubscriptions())
	assert.Nil(t, first.session.queue)
	select {
	case <-first.session.cleanupDone:
	default:
		t.Fatal("previous cleanup goroutine still running")
	}

	_, err = first.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, m.IsSubscribed(9), "ending the old stream must not remove the new one")

	nextFrame(t, second)
	require.NoError(t, m.Publish(ctx, 9, TypeResponse, "fresh", 0))
	e, ok := nextFrame(t, second).Event()
	require.True(t, ok)
	assert.Equal(t, "fresh", e.Content)
}

func TestDisconnectIsIdempotentAndWakesConsumer(t *testing.T) {
	m := newTestManager(Config{})
	defer m.Close()
	ctx := context.Background()

	m.Disconnect(ctx, 4)
	m.Disconnect(ctx, "garbage")

	st, err := m.Subscribe(ctx, 4, nil)
	require.NoError(t, err)
	nextFrame(t, st)

	done := make(chan error, 1)
	go func() {
		_, err := st.Next(ctx)
		done <- err
	}()

	m.Disconnect(ctx, 4)
	m.Disconnect(ctx, 4)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer was not woken by disconnect")
	}
	assert.False(t, m.IsSubscribed(4))
	assert.ErrorIs(t, m.Publish(ctx, 4, TypeResponse, "late", 0), cerrors.ErrNotSubscribed)
}

func TestStreamEndsWhenTransportDisconnects(t *testing.T) {
	m := newTestManager(Config{HeartbeatInterval: 10 * time.Millisecond})
	defer m.Close()
	var connected atomic.Bool
	connected.Store(true)

	st, err := m.Subscribe(context.Background(), 2, TransportFunc(connected.Load))
	require.NoError(t, err)
	nextFrame(t, st)
	assert.Equal(t, TypeHeartbeat, nextFrame(t, st).Type)

	connected.Store(false)
	_, err = st.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, m.IsSubscribed(2))
}

func TestCleanupLoopRemovesAbandonedSession(t *testing.T) {
	m := newTestManager(Config{CleanupInterval: 10 * time.Millisecond})
	defer m.Close()

	_, err := m.Subscribe(context.Background(), 6, TransportFunc(func() bool { return false }))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return !m.IsSubscribed(6) }, 2*time.Second, 5*time.Millisecond)
}

func TestNextHonorsContextCancellation(t *testing.T) {
	m := newTestManager(Config{})
	defer m.Close()
	st, err := m.Subscribe(context.Background(), 8, nil)
	require.NoError(t, err)
	nextFrame(t, st)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = st.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, m.IsSubscribed(8))

	_, err = st.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestCloseRejectsSubscriptions(t *testing.T) {
	m := newTestManager(Config{})
	st, err := m.Subscribe(context.Background(), 1, nil)
	require.NoError(t, err)
	nextFrame(t, st)

	m.Close()

	_, err = st.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	_, err = m.Subscribe(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.Zero(t, m.ActiveSubscriptions())
}

type notifyingWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writes chan struct{}
}

func (w *notifyingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	n, err := w.buf.Write(p)
	w.mu.Unlock()
	w.writes <- struct{}{}
	return n, err
}

func (w *notifyingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestServeWritesSSEFrames(t *testing.T) {
	m := newTestManager(Config{})
	defer m.Close()
	ctx := context.Background()
	st, err := m.Subscribe(ctx, 12, nil)
	require.NoError(t, err)
	require.NoError(t, m.Publish(ctx, 12, TypeResponse, "done", 0))

	w := &notifyingWriter{writes: make(chan struct{}, 8)}
	flushes := 0
	served := make(chan error, 1)
	go func() { served <- st.Serve(ctx, w, func() { flushes++ }) }()

	for range 2 {
		select {
		case <-w.writes:
		case <-time.After(2 * time.Second):
			t.Fatal("frame not written")
		}
	}
	m.Disconnect(ctx, 12)
	require.NoError(t, <-served)

	out := w.String()
	// the event was published before the connected frame took its id
	assert.True(t, strings.HasPrefix(out, "event: connected\nid: evt-2\n"))
	assert.Contains(t, out, "event: response\nid: evt-1\ndata: ")
	assert.Contains(t, out, `"content":"done"`)
	assert.Equal(t, 2, flushes)
}
