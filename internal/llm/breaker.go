package llm

import (
	"context"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/breaker"
)

// Breaker guards a Completer with a circuit breaker. While open, calls fail
// fast with gobreaker.ErrOpenState.
type Breaker struct {
	next Completer
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next.
func NewBreaker(name string, next Completer, logger *zap.Logger) *Breaker {
	return &Breaker{
		next: next,
		cb:   breaker.New(breaker.DefaultConfig("llm-"+name), logger),
	}
}

// Complete forwards the request through the breaker.
func (b *Breaker) Complete(ctx context.Context, req Request) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Complete(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// State returns the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
