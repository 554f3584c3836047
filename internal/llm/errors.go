package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrProviderTimeout reports that a provider call exceeded its time budget.
var ErrProviderTimeout = errors.New("provider timed out")

// ProviderError is a failure reported by the provider itself, such as an
// authentication or quota error.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s returned %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the call may succeed.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// classify maps a raw provider failure onto the error taxonomy. Parent
// cancellation is passed through untouched.
func classify(parent, call context.Context, id string, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(call.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", id, ErrProviderTimeout)
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: id, Err: err}
}
