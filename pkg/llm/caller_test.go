package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	name    string
	results []func(req Request) (string, error)
	calls   []string
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(_ context.Context, req Request) (string, error) {
	p.calls = append(p.calls, req.Model)
	i := len(p.calls) - 1
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	return p.results[i](req)
}

func succeed(text string) func(Request) (string, error) {
	return func(Request) (string, error) { return text, nil }
}

func fail(err error) func(Request) (string, error) {
	return func(Request) (string, error) { return "", err }
}

func newTestCaller(p Provider) *Caller {
	c := NewCaller(slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	c.Register(p)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestCaller_SuccessFirstAttempt(t *testing.T) {
	p := &scriptedProvider{name: "openai", results: []func(Request) (string, error){succeed("ok")}}
	c := newTestCaller(p)

	out, err := c.Complete(context.Background(), "openai", Request{Model: "gpt-4o"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, []string{"gpt-4o"}, p.calls)
}

func TestCaller_TransientRetriedOncePerModel(t *testing.T) {
	transient := errorFromStatus("openai", 429, "rate limited")
	p := &scriptedProvider{name: "openai", results: []func(Request) (string, error){
		fail(transient),
		succeed("recovered"),
	}}
	c := newTestCaller(p)

	out, err := c.Complete(context.Background(), "openai", Request{Model: "gpt-4o"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o"}, p.calls)
}

func TestCaller_PersistentFailureFallsThroughChain(t *testing.T) {
	permanent := errorFromStatus("openai", 401, "bad key")
	p := &scriptedProvider{name: "openai", results: []func(Request) (string, error){
		fail(permanent), // requested model, no retry (non-transient)
		succeed("from fallback"),
	}}
	c := newTestCaller(p)

	out, err := c.Complete(context.Background(), "openai", Request{Model: "gpt-4o"}, []string{"gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", out)
	require.Len(t, p.calls, 2)
	assert.Equal(t, "gpt-4o-mini", p.calls[1])
}

func TestCaller_AllModelsFail(t *testing.T) {
	p := &scriptedProvider{name: "openai", results: []func(Request) (string, error){
		fail(errorFromStatus("openai", 401, "bad key")),
	}}
	c := newTestCaller(p)

	_, err := c.Complete(context.Background(), "openai", Request{Model: "gpt-4o"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all models failed")
	// requested + the two default fallbacks, one attempt each (non-transient)
	assert.Len(t, p.calls, 3)
}

func TestCaller_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &scriptedProvider{name: "openai", results: []func(Request) (string, error){
		func(Request) (string, error) {
			cancel()
			return "", errorFromStatus("openai", 503, "down")
		},
	}}
	c := newTestCaller(p)

	_, err := c.Complete(ctx, "openai", Request{Model: "gpt-4o"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProviderFor_InfersFromModel(t *testing.T) {
	c := NewCaller(slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	c.Register(&scriptedProvider{name: "openai"})
	c.Register(&scriptedProvider{name: "anthropic"})

	p, err := c.ProviderFor("", "claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	p, err = c.ProviderFor("", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = c.ProviderFor("mystery", "m")
	assert.Error(t, err)
}

func TestModelChain_Deduplicates(t *testing.T) {
	chain := modelChain("m1", []string{"m2", "m1", DefaultFallbackModels[0]})
	assert.Equal(t, append([]string{"m1", "m2"}, DefaultFallbackModels...), chain)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errorFromStatus("p", 429, "")))
	assert.True(t, IsTransient(errorFromStatus("p", 500, "")))
	assert.True(t, IsTransient(errorFromStatus("p", 408, "")))
	assert.True(t, IsTransient(errorFromStatus("p", 400, "connection timeout")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(errorFromStatus("p", 401, "bad key")))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("parse failure")))
}
