package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tutorstack/retrieval/internal/fault"
	"github.com/tutorstack/retrieval/internal/retry"
)

// Message roles accepted by the completion service.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a chat-style completion request.
type Message struct {
	Role    string
	Content string
}

// CompleteOptions tunes a single completion call.
type CompleteOptions struct {
	// Temperature of the sampling. Zero means provider default.
	Temperature float32

	// MaxTokens caps output length. Zero means provider default.
	MaxTokens int
}

// chatAPI is the slice of the OpenAI client the Completer consumes.
// Tests substitute a fake.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Completer issues chat completions with credential rotation and the
// shared retry policy. Used for answer synthesis and query rewriting.
type Completer struct {
	model     string
	keyring   *Keyring
	policy    retry.Policy
	timeout   time.Duration
	logger    *slog.Logger
	newClient func(apiKey string) chatAPI
}

// CompleterConfig wires a Completer.
type CompleterConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewCompleter creates a Completer. A nil logger falls back to
// slog.Default.
func NewCompleter(cfg CompleterConfig, keyring *Keyring, policy retry.Policy, logger *slog.Logger) *Completer {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Completer{
		model:   cfg.Model,
		keyring: keyring,
		policy:  policy,
		timeout: timeout,
		logger:  logger,
		newClient: func(apiKey string) chatAPI {
			return NewAPIClient(cfg.BaseURL, apiKey)
		},
	}
}

// Complete sends messages to the completion service and returns the
// trimmed reply text. Retries follow the shared policy; an empty or
// malformed response is a permanent failure.
func (c *Completer) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error) {
	if len(messages) == 0 {
		return "", fault.Validationf("completion request has no messages")
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, len(messages)),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	var reply string
	err := c.policy.Do(ctx, "completion", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		client := c.newClient(c.keyring.Next())
		resp, err := client.CreateChatCompletion(callCtx, req)
		if err != nil {
			return Classify(err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return fault.Permanent(fmt.Errorf("completion response has no choices"))
		}
		reply = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	return reply, nil
}
