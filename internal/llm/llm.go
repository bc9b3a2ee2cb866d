// Package llm provides chat-completion transports behind one interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNoCompletion means the model answered with nothing usable.
	ErrNoCompletion = errors.New("no completion returned")
	// ErrNotConfigured means no transport is available.
	ErrNotConfigured = errors.New("language model not configured")
)

// Request is one completion call.
type Request struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Completer turns a prompt into text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Options selects and configures a transport.
type Options struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// New returns the transport named by opts.Provider wrapped in a circuit
// breaker. Provider "none" or a missing key yields ErrNotConfigured.
func New(ctx context.Context, opts Options, logger *zap.Logger) (Completer, error) {
	provider := strings.ToLower(opts.Provider)
	if provider == "" || provider == "none" {
		return nil, ErrNotConfigured
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s API key not set", ErrNotConfigured, provider)
	}

	var (
		c   Completer
		err error
	)
	switch provider {
	case "openai":
		c = NewOpenAI(opts.APIKey, opts.BaseURL, opts.Model, opts.Timeout)
	case "gemini":
		c, err = NewGemini(ctx, opts.APIKey, opts.Model, opts.Timeout)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, opts.Provider)
	}
	return NewBreaker(provider, c, logger), nil
}

// CleanResponse strips markdown code fences around a model answer.
func CleanResponse(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
