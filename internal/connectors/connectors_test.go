package connectors

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
	"github.com/xela07ax/dropwatch/internal/infra"
	"go.uber.org/zap"
)

func testConfig(url string) infra.GeneratorConfig {
	return infra.GeneratorConfig{BaseURL: url, APIKey: "sk-test", Model: "gpt-4o-mini", Timeout: 5 * time.Second}
}

func TestOpenAIClientGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "Hype the drop")
		assert.Contains(t, req.Messages[1].Content, `"product":"cargo-pants"`)

		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Cargo season is here.  "}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(testConfig(srv.URL+"/"), srv.Client())
	text, err := c.Generate(context.Background(), GenerateRequest{
		Prompt:  "Hype the drop",
		Context: map[string]any{"product": "cargo-pants"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Cargo season is here.", text)
}

func TestOpenAIClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("X-Case") {
		case "throttle":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case "bad":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"bad model"}}`))
		case "empty":
			w.Write([]byte(`{"choices":[]}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	call := func(kind string) error {
		client := &http.Client{Transport: headerTransport{kind: kind}}
		_, err := NewOpenAIClient(testConfig(srv.URL), client).Generate(context.Background(), GenerateRequest{Prompt: "x"})
		return err
	}

	var tErr *ThrottleError
	require.ErrorAs(t, call("throttle"), &tErr)
	assert.Equal(t, 7*time.Second, tErr.RetryAfter)

	var pErr *PermanentError
	require.ErrorAs(t, call("bad"), &pErr)
	assert.Equal(t, http.StatusBadRequest, pErr.Status)

	assert.ErrorContains(t, call("empty"), "empty choices")
	assert.ErrorContains(t, call("boom"), "status 500")

	_, err := NewOpenAIClient(infra.GeneratorConfig{BaseURL: srv.URL}, nil).Generate(context.Background(), GenerateRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

type headerTransport struct{ kind string }

func (h headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("X-Case", h.kind)
	return http.DefaultTransport.RoundTrip(r)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, defaultRetryAfter, parseRetryAfter(""))
	assert.Equal(t, defaultRetryAfter, parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}

type scriptedGenerator struct {
	calls atomic.Int32
	errs  []error
}

func (g *scriptedGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	n := int(g.calls.Add(1)) - 1
	if n < len(g.errs) && g.errs[n] != nil {
		return "", g.errs[n]
	}
	return "copy:" + req.Prompt, nil
}

func fastSettings() ReliabilitySettings {
	return ReliabilitySettings{Attempts: 3, BaseDelay: time.Millisecond, CallTimeout: time.Second}
}

func TestReliabilityWrapperRetriesTransientErrors(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{
		errors.New("connection reset"),
		&ThrottleError{RetryAfter: time.Millisecond, Cause: errors.New("429")},
	}}
	w := NewReliabilityWrapper(gen, infra.GeneratorConfig{}, fastSettings(), nil, zap.NewNop())

	text, err := w.Generate(context.Background(), GenerateRequest{Prompt: "drop"})
	require.NoError(t, err)
	assert.Equal(t, "copy:drop", text)
	assert.EqualValues(t, 3, gen.calls.Load())
}

func TestReliabilityWrapperDoesNotRetryPermanentErrors(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{&PermanentError{Status: 400, Cause: errors.New("bad")}}}
	w := NewReliabilityWrapper(gen, infra.GeneratorConfig{}, fastSettings(), nil, zap.NewNop())

	_, err := w.Generate(context.Background(), GenerateRequest{Prompt: "drop"})
	var pErr *PermanentError
	assert.ErrorAs(t, err, &pErr)
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestReliabilityWrapperHonorsCanceledContext(t *testing.T) {
	gen := &scriptedGenerator{}
	w := NewReliabilityWrapper(gen, infra.GeneratorConfig{RateLimit: 1, Burst: 1}, fastSettings(), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.Generate(ctx, GenerateRequest{Prompt: "drop"})
	assert.ErrorContains(t, err, "rate limit exceeded")
	assert.EqualValues(t, 0, gen.calls.Load())
}
