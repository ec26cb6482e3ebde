package events

import (
	"context"
	"io"
	"time"
)

type streamState int

const (
	stateConnecting streamState = iota
	stateWaiting
	stateDraining
	stateClosed
)

// Stream is the consumer side of one subscription. It is not safe for
// concurrent use.
type Stream struct {
	manager *Manager
	session *session
	state   streamState
	pending []Event
}

// Next returns the next frame: first the connected notice, then queued
// events in publish order, with a heartbeat whenever nothing arrives for a
// heartbeat interval. It returns io.EOF once the subscription is gone and
// ctx.Err() when ctx ends; in both cases the subscription is cleaned up.
func (st *Stream) Next(ctx context.Context) (Frame, error) {
	for {
		switch st.state {
		case stateConnecting:
			st.state = stateWaiting
			return Frame{
				Type: TypeConnected,
				ID:   st.manager.newID(),
				Data: map[string]any{
					"user_id":   st.session.userID.String(),
					"timestamp": st.manager.now().UTC(),
				},
			}, nil

		case stateDraining:
			if len(st.pending) == 0 {
				st.state = stateWaiting
				continue
			}
			e := st.pending[0]
			st.pending = st.pending[1:]
			return eventFrame(e), nil

		case stateWaiting:
			if st.session.transportGone() {
				st.finish()
				return Frame{}, io.EOF
			}
			frame, ok, err := st.wait(ctx)
			if ok {
				return frame, err
			}

		default:
			return Frame{}, io.EOF
		}
	}
}

// wait blocks for the next wake-up. ok is false when the wake-up found the
// queue empty and the caller should loop.
func (st *Stream) wait(ctx context.Context) (Frame, bool, error) {
	timer := time.NewTimer(st.manager.cfg.HeartbeatInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		st.finish()
		return Frame{}, true, ctx.Err()
	case <-st.session.removed:
		st.finish()
		return Frame{}, true, io.EOF
	case <-timer.C:
		return Frame{
			Type: TypeHeartbeat,
			ID:   st.manager.newID(),
			Data: map[string]any{"timestamp": st.manager.now().UTC()},
		}, true, nil
	case <-st.session.wake:
		st.pending = st.session.drain()
		if len(st.pending) > 0 {
			st.state = stateDraining
		}
		return Frame{}, false, nil
	}
}

// Close ends the stream and releases its subscription unless a newer one
// replaced it.
func (st *Stream) Close() {
	if st.state != stateClosed {
		st.finish()
	}
}

func (st *Stream) finish() {
	st.state = stateClosed
	st.pending = nil
	st.manager.removeIfCurrent(context.Background(), st.session, true)
}

// Serve writes frames to w until the stream ends, calling flush after each
// frame. A stream ending on its own returns nil.
func (st *Stream) Serve(ctx context.Context, w io.Writer, flush func()) error {
	defer st.Close()
	for {
		frame, err := st.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		payload, err := frame.Encode()
		if err != nil {
			st.manager.logger.Warn("Dropping unencodable %s frame for user %s: %v", frame.Type, st.session.userID, err)
			continue
		}
		if _, err := w.Write(payload); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
	}
}
