// Package llm streams coaching responses from a language model.
package llm

import (
	"context"
	"strings"

	"cragcoach/internal/climbing"
	"cragcoach/internal/formatter"
)

// Request is one coaching turn.
type Request struct {
	Context *formatter.Document
	Prompt  string
	// History holds prior turns, newest first, as stored.
	History []climbing.ChatTurn
}

// Client produces a response for req, passing each text chunk to onChunk as
// it arrives. It returns the full response text.
type Client interface {
	Stream(ctx context.Context, req Request, onChunk func(string)) (string, error)
	Model() string
}

const systemPreamble = `You are an experienced climbing coach. Use the climber context below to ` +
	`personalize your advice. Prefer concrete, safe recommendations and mention injury ` +
	`considerations when relevant.`

// SystemPrompt renders the system message for doc. A nil document yields
// the preamble alone.
func SystemPrompt(doc *formatter.Document) string {
	if doc == nil {
		return systemPreamble
	}
	serialized, err := formatter.Serialize(doc)
	if err != nil {
		return systemPreamble + "\n\nClimber summary: " + doc.Summary
	}
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\nClimber context (JSON):\n")
	b.WriteString(serialized)
	return b.String()
}
