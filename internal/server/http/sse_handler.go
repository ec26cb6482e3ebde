package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	cerrors "cragcoach/internal/errors"
	"cragcoach/internal/logging"
	"cragcoach/internal/observability"
	id "cragcoach/internal/utils/id"
)

type sseHandler struct {
	events EventStreams
	tracer *observability.TracerProvider
	logger logging.Logger
}

// requestTransport reports the client as connected until the request
// context ends.
type requestTransport struct {
	ctx context.Context
}

func (t requestTransport) Connected() bool {
	return t.ctx.Err() == nil
}

// handleStream serves GET /api/events/:user_id as text/event-stream.
func (h *sseHandler) handleStream(c *gin.Context) {
	uid, ok := userParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	stream, err := h.events.Subscribe(ctx, uid, requestTransport{ctx: ctx})
	if err != nil {
		if !cerrors.IsKind(err, cerrors.KindSubscription) {
			err = cerrors.Subscription("http.events", uid.String(), err)
		}
		h.logger.Warn("Subscribe failed for user %s: %v", uid, err)
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.logger.Info("SSE stream opened for user %s", uid)
	spanCtx, span := h.tracer.StartSpan(id.WithUserID(ctx, uid.String()), observability.SpanSSEConnection)
	err = stream.Serve(spanCtx, c.Writer, c.Writer.Flush)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		observability.EndSpan(span, nil)
		h.logger.Info("SSE stream closed for user %s", uid)
	default:
		observability.EndSpan(span, err)
		h.logger.Warn("SSE stream for user %s ended with error: %v", uid, err)
	}
}
