// Package events fans chat and upload notifications out to per-user
// Server-Sent-Event streams.
package events

import (
	"bytes"
	"fmt"
	"time"

	jsonx "cragcoach/internal/shared/json"
)

// Type names an event on the wire.
type Type string

const (
	TypeProcessing              Type = "processing"
	TypePartialResponse         Type = "partial_response"
	TypeResponse                Type = "response"
	TypeUploadProcessed         Type = "upload_processed"
	TypeVisualizationSuggestion Type = "visualization_suggestion"
	TypeError                   Type = "error"

	// Stream control frames; never published.
	TypeConnected Type = "connected"
	TypeHeartbeat Type = "heartbeat"
)

var publishable = map[Type]bool{
	TypeProcessing:              true,
	TypePartialResponse:         true,
	TypeResponse:                true,
	TypeUploadProcessed:         true,
	TypeVisualizationSuggestion: true,
	TypeError:                   true,
}

// Publishable reports whether t may be passed to Manager.Publish.
func (t Type) Publishable() bool {
	return publishable[t]
}

// Metadata accompanies every published event.
type Metadata struct {
	Timestamp      time.Time `json:"timestamp"`
	ResponseLength int       `json:"response_length"`
	ProcessingTime float64   `json:"processing_time"` // seconds
}

// Event is immutable once queued.
type Event struct {
	Type     Type     `json:"type"`
	Content  any      `json:"content"`
	ID       string   `json:"id"`
	Metadata Metadata `json:"metadata"`
}

// Frame is one item of a stream: the connected notice, a heartbeat, or a
// published event.
type Frame struct {
	Type Type
	ID   string
	Data any
}

func eventFrame(e Event) Frame {
	return Frame{Type: e.Type, ID: e.ID, Data: e}
}

// Event returns the published event carried by the frame.
func (f Frame) Event() (Event, bool) {
	e, ok := f.Data.(Event)
	return e, ok
}

// Encode renders the frame in SSE wire format.
func (f Frame) Encode() ([]byte, error) {
	data, err := jsonx.MarshalString(f.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + len(f.ID) + len(f.Type) + 20)
	fmt.Fprintf(&buf, "event: %s\nid: %s\ndata: %s\n\n", f.Type, f.ID, data)
	return buf.Bytes(), nil
}

func contentLength(content any) int {
	text, err := jsonx.MarshalString(content)
	if err != nil {
		return len(fmt.Sprint(content))
	}
	return len(text)
}
