package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"

	cerrors "cragcoach/internal/errors"
	"cragcoach/internal/logging"
	"cragcoach/internal/observability"
)

const (
	DefaultModel      = openai.GPT4oMini
	DefaultMaxRetries = 3
)

// Config configures the OpenAI-compatible client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxRetries int
	Timeout    time.Duration
	// Backoff builds the retry policy for opening a stream. Defaults to
	// exponential backoff capped by MaxRetries.
	Backoff func() backoff.BackOff
	Tracer  *observability.TracerProvider
}

// OpenAI streams chat completions from any OpenAI-compatible endpoint.
// Opening the stream is retried on transient failures; once chunks flow the
// request is never retried, so partial responses are not duplicated.
type OpenAI struct {
	client  *openai.Client
	model   string
	backoff func() backoff.BackOff
	breaker *cerrors.CircuitBreaker
	tracer  *observability.TracerProvider
	logger  logging.Logger
}

var _ Client = (*OpenAI)(nil)

// NewOpenAI creates the client. APIKey may be empty for local gateways.
func NewOpenAI(cfg Config) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	factory := cfg.Backoff
	if factory == nil {
		factory = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxElapsedTime = 20 * time.Second
			return backoff.WithMaxRetries(b, uint64(retries))
		}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NoopTracer()
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		backoff: factory,
		breaker: cerrors.NewCircuitBreaker("llm", cerrors.DefaultCircuitBreakerConfig()),
		tracer:  tracer,
		logger:  logging.NewComponentLogger("llm"),
	}
}

func (c *OpenAI) Model() string {
	return c.model
}

// Stream implements Client. Failures are returned as model errors.
func (c *OpenAI) Stream(ctx context.Context, req Request, onChunk func(string)) (text string, err error) {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanLLMStream, attribute.String(observability.AttrModel, c.model))
	defer func() { observability.EndSpan(span, err) }()

	text, err = cerrors.ExecuteFunc(c.breaker, ctx, func(ctx context.Context) (string, error) {
		return c.stream(ctx, req, onChunk)
	})
	if err != nil {
		return text, cerrors.Model("llm.stream", err)
	}
	return text, nil
}

func (c *OpenAI) stream(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: buildMessages(req),
		Stream:   true,
	}

	var stream *openai.ChatCompletionStream
	attempt := 0
	open := func() error {
		attempt++
		s, err := c.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			if !isTransient(err) {
				return backoff.Permanent(err)
			}
			c.logger.Warn("Opening model stream failed (attempt %d): %v", attempt, err)
			return err
		}
		stream = s
		return nil
	}
	if err := backoff.Retry(open, backoff.WithContext(c.backoff(), ctx)); err != nil {
		return "", fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), fmt.Errorf("read stream: %w", err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			b.WriteString(choice.Delta.Content)
			if onChunk != nil {
				onChunk(choice.Delta.Content)
			}
		}
	}
}

// buildMessages orders history oldest first between the system prompt and
// the new user prompt.
func buildMessages(req Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: SystemPrompt(req.Context),
	})
	for i := len(req.History) - 1; i >= 0; i-- {
		turn := req.History[i]
		role := openai.ChatMessageRoleUser
		if turn.Role == openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
}

// isTransient reports whether err is worth retrying: rate limits, server
// errors and network failures.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		lower := strings.ToLower(err.Error())
		return strings.Contains(lower, "connection refused") ||
			strings.Contains(lower, "timeout") ||
			strings.Contains(lower, "eof")
	}
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
