package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Registry holds the providers resolved once at startup. The first entry is the
// primary provider; the rest take part in the ensemble only.
type Registry struct {
	entries []entry
}

type entry struct {
	id       string
	provider Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a provider under id. Registration order defines the primary.
func (r *Registry) Register(id string, p Provider) error {
	if id == "" {
		return fmt.Errorf("provider id is required")
	}
	for _, e := range r.entries {
		if e.id == id {
			return fmt.Errorf("provider %q registered twice", id)
		}
	}
	r.entries = append(r.entries, entry{id: id, provider: p})
	return nil
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.entries)
}

// IDs returns the provider identifiers in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.entries))
	for i, e := range r.entries {
		ids[i] = e.id
	}
	return ids
}

// Primary returns the identifier of the primary provider, or "" when empty.
func (r *Registry) Primary() string {
	if len(r.entries) == 0 {
		return ""
	}
	return r.entries[0].id
}

// Invoke calls provider id with its own bounded timeout. Failures come back as
// ErrProviderTimeout, *ProviderError, or the parent context's error.
func (r *Registry) Invoke(ctx context.Context, id string, req Request) (string, error) {
	p, ok := r.lookup(id)
	if !ok {
		return "", &ProviderError{Provider: id, Err: fmt.Errorf("provider not registered")}
	}

	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := p.Generate(callCtx, req)
	if err != nil {
		return "", classify(ctx, callCtx, id, err)
	}

	zap.L().Debug("llm: provider call complete",
		zap.String("provider", id),
		zap.Duration("duration", time.Since(start)),
		zap.Int("response_len", len(text)),
	)
	return text, nil
}

func (r *Registry) lookup(id string) (Provider, bool) {
	for _, e := range r.entries {
		if e.id == id {
			return e.provider, true
		}
	}
	return nil, false
}

// Build creates, decorates and registers every configured provider. Providers
// that report themselves unconfigured are skipped with a warning.
func Build(ctx context.Context, specs []Spec) (*Registry, error) {
	reg := NewRegistry()
	for _, spec := range specs {
		p, err := CreateProvider(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", spec.ID, err)
		}
		if !p.IsConfigured() {
			zap.L().Warn("llm: provider not configured, skipping",
				zap.String("provider", spec.ID),
				zap.String("kind", spec.Kind),
			)
			continue
		}
		if err := reg.Register(spec.ID, WithLimits(spec.ID, p, spec.RequestsPerMinute, spec.MaxRetries)); err != nil {
			return nil, err
		}
		zap.L().Info("llm: provider registered",
			zap.String("provider", spec.ID),
			zap.String("kind", spec.Kind),
			zap.String("model", spec.Model),
		)
	}
	return reg, nil
}
