package llm

import (
	"context"
	"errors"
	"sync"
)

// StaticProvider replays canned responses in order, repeating the last one.
// It backs offline demos and is configured with kind "static".
type StaticProvider struct {
	mu        sync.Mutex
	responses []string
	next      int
}

// NewStaticProvider creates a provider that answers with the given responses.
func NewStaticProvider(responses ...string) *StaticProvider {
	return &StaticProvider{responses: responses}
}

func (s *StaticProvider) IsConfigured() bool {
	return len(s.responses) > 0
}

func (s *StaticProvider) Generate(ctx context.Context, _ Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return "", &ProviderError{Provider: KindStatic, Err: errors.New("no canned responses")}
	}
	resp := s.responses[s.next]
	if s.next < len(s.responses)-1 {
		s.next++
	}
	return resp, nil
}
