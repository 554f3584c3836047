package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// limited wraps a provider with a request-rate limiter and a bounded retry for
// retryable provider errors. Timeouts and parent cancellation are never retried.
type limited struct {
	id         string
	provider   Provider
	limiter    *rate.Limiter
	maxRetries int
}

// WithLimits decorates p. A requestsPerMinute of zero disables rate limiting.
func WithLimits(id string, p Provider, requestsPerMinute, maxRetries int) Provider {
	l := &limited{id: id, provider: p, maxRetries: maxRetries}
	if requestsPerMinute > 0 {
		l.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return l
}

func (l *limited) IsConfigured() bool {
	return l.provider.IsConfigured()
}

func (l *limited) Generate(ctx context.Context, req Request) (string, error) {
	var text string
	attempt := 0

	op := func() error {
		attempt++
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		out, err := l.provider.Generate(ctx, req)
		if err == nil {
			text = out
			return nil
		}

		var pe *ProviderError
		if errors.As(err, &pe) && pe.Retryable() {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		zap.L().Warn("llm: retrying provider call",
			zap.String("provider", l.id),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(l.maxRetries, 0))), ctx)

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return "", err
	}
	return text, nil
}
