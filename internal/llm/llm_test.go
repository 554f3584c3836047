package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcProvider func(ctx context.Context, req Request) (string, error)

func (f funcProvider) Generate(ctx context.Context, req Request) (string, error) { return f(ctx, req) }
func (f funcProvider) IsConfigured() bool                                        { return true }

func TestRegistryPrimaryAndIDs(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, "", reg.Primary())

	require.NoError(t, reg.Register("main", NewStaticProvider("a")))
	require.NoError(t, reg.Register("second", NewStaticProvider("b")))
	assert.Error(t, reg.Register("main", NewStaticProvider("c")))
	assert.Error(t, reg.Register("", NewStaticProvider("c")))

	assert.Equal(t, "main", reg.Primary())
	assert.Equal(t, []string{"main", "second"}, reg.IDs())
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryInvokeTimeout(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("slow", funcProvider(func(ctx context.Context, _ Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})))

	_, err := reg.Invoke(context.Background(), "slow", Request{Timeout: 10 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderTimeout)
}

func TestRegistryInvokeParentCanceled(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("slow", funcProvider(func(ctx context.Context, _ Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := reg.Invoke(ctx, "slow", Request{Timeout: time.Second})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrProviderTimeout)
}

func TestRegistryInvokeWrapsPlainErrors(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("broken", funcProvider(func(context.Context, Request) (string, error) {
		return "", errors.New("connection refused")
	})))

	_, err := reg.Invoke(context.Background(), "broken", Request{})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "broken", pe.Provider)
}

func TestRegistryInvokeUnknownProvider(t *testing.T) {
	_, err := NewRegistry().Invoke(context.Background(), "missing", Request{})
	var pe *ProviderError
	assert.ErrorAs(t, err, &pe)
}

func TestOpenAIProviderGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(256), body["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_OPENAI_KEY", "test-key")
	p := NewOpenAIProvider("gpt-4o-mini", "TEST_OPENAI_KEY", srv.URL)
	require.True(t, p.IsConfigured())

	text, err := p.Generate(context.Background(), Request{Prompt: "hi", MaxTokens: 256})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestOpenAIProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	t.Setenv("TEST_OPENAI_KEY", "bad")
	_, err := NewOpenAIProvider("m", "TEST_OPENAI_KEY", srv.URL).Generate(context.Background(), Request{})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.False(t, pe.Retryable())
}

func TestOpenAIProviderMissingKey(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "")
	p := NewOpenAIProvider("m", "TEST_OPENAI_KEY", "")
	assert.False(t, p.IsConfigured())
}

func TestAnthropicProviderSendsZeroTemperature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		temp, ok := body["temperature"]
		assert.True(t, ok, "temperature must be sent even when zero")
		assert.Equal(t, float64(0), temp)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",` +
			`"content":[{"type":"text","text":"steady"}],"stop_reason":"end_turn",` +
			`"usage":{"input_tokens":3,"output_tokens":1}}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_ANTHROPIC_KEY", "test-key")
	p := NewAnthropicProvider("claude-test", "TEST_ANTHROPIC_KEY", srv.URL)
	require.True(t, p.IsConfigured())

	text, err := p.Generate(context.Background(), Request{Prompt: "hi", MaxTokens: 64, Temperature: 0})
	require.NoError(t, err)
	assert.Equal(t, "steady", text)
}

func TestOllamaProviderGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"qwen2.5:7b"}]}`))
		case "/api/chat":
			w.Write([]byte(`{"message":{"content":"draft text"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen2.5:7b", srv.URL)
	assert.True(t, p.IsConfigured())

	text, err := p.Generate(context.Background(), Request{Prompt: "x", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "draft text", text)
}

func TestWithLimitsRetriesRetryableErrors(t *testing.T) {
	var calls atomic.Int32
	p := funcProvider(func(context.Context, Request) (string, error) {
		if calls.Add(1) < 3 {
			return "", &ProviderError{Provider: "p", StatusCode: http.StatusTooManyRequests, Err: errors.New("slow down")}
		}
		return "done", nil
	})

	text, err := WithLimits("p", p, 0, 3).Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "done", text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWithLimitsDoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	p := funcProvider(func(context.Context, Request) (string, error) {
		calls.Add(1)
		return "", &ProviderError{Provider: "p", StatusCode: http.StatusForbidden, Err: errors.New("quota")}
	})

	_, err := WithLimits("p", p, 0, 3).Generate(context.Background(), Request{})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusForbidden, pe.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStaticProviderRepeatsLastResponse(t *testing.T) {
	p := NewStaticProvider("one", "two")
	ctx := context.Background()

	for _, want := range []string{"one", "two", "two"} {
		got, err := p.Generate(ctx, Request{})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestCreateProviderUnknownKind(t *testing.T) {
	_, err := CreateProvider(context.Background(), Spec{ID: "x", Kind: "carrier-pigeon"})
	assert.Error(t, err)
}
