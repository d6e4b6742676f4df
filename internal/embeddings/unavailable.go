package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// Unavailable stands in for a provider that could not be created. Every
// call fails with ErrProviderUnavailable and Degraded reports true, which the
// engine surfaces in search responses and stats.
type Unavailable struct {
	model string
	cause error
}

// NewUnavailable creates a degraded provider. model is still reported so
// stored passages keep a stable model id.
func NewUnavailable(model, reason string) *Unavailable {
	return &Unavailable{model: model, cause: errors.New(reason)}
}

func unavailableFor(model string, cause error) *Unavailable {
	return &Unavailable{model: model, cause: cause}
}

// unavailableErr wraps cause in ErrProviderUnavailable unless it already is one.
func unavailableErr(cause error) error {
	if errors.Is(cause, ErrProviderUnavailable) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrProviderUnavailable, cause)
}

func (u *Unavailable) EmbedPassages(context.Context, []string) ([][]float32, error) {
	return nil, unavailableErr(u.cause)
}

func (u *Unavailable) EmbedPassage(context.Context, string) ([]float32, error) {
	return nil, unavailableErr(u.cause)
}

func (u *Unavailable) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, unavailableErr(u.cause)
}

func (u *Unavailable) ModelID() string { return u.model }
func (u *Unavailable) Dimension() int  { return 0 }
func (u *Unavailable) Close() error    { return nil }

// Degraded always reports true.
func (u *Unavailable) Degraded() bool { return true }

// Reason explains why the provider is unavailable.
func (u *Unavailable) Reason() string { return u.cause.Error() }
