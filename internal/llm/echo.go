package llm

import (
	"context"
	"strings"
	"time"
)

// Echo is an offline Client that answers from the context summary. It lets
// the service run without model credentials.
type Echo struct {
	// Delay is slept between chunks.
	Delay time.Duration
}

var _ Client = (*Echo)(nil)

func (e *Echo) Model() string { return "echo" }

func (e *Echo) Stream(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	answer := "You asked: " + strings.TrimSpace(req.Prompt)
	if req.Context != nil && req.Context.Summary != "" {
		answer += "\nWhat I know about your climbing: " + req.Context.Summary
	}

	words := strings.SplitAfter(answer, " ")
	var b strings.Builder
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return b.String(), err
		}
		b.WriteString(w)
		if onChunk != nil {
			onChunk(w)
		}
		if e.Delay > 0 {
			time.Sleep(e.Delay)
		}
	}
	return b.String(), nil
}
