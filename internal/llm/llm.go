// Package llm holds the outbound client plumbing shared by the embedding
// and completion call sites: the rotating credential pool, the
// OpenAI-compatible client factory, and the mapping from provider errors
// to the pipeline's fault taxonomy.
package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tutorstack/retrieval/internal/fault"
)

// NewAPIClient builds an OpenAI-compatible client against baseURL using
// the given credential. Both the embedding and completion services in
// this deployment speak the OpenAI wire protocol behind router endpoints,
// so one factory serves both.
func NewAPIClient(baseURL, apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// Classify maps a provider error onto the fault taxonomy so the shared
// retry policy can pick the right schedule.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fault.RateLimited(err)
		case apiErr.HTTPStatusCode >= 500:
			return fault.Transient(err)
		default:
			// Auth failures, malformed requests, 4xx in general.
			return fault.Permanent(err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fault.Transient(err)
	}

	return fault.Permanent(err)
}
