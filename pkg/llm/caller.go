package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Retry policy for model calls. Transient failures get one retry on the
// same model after retryWait; anything persistent falls through to the
// next model in the fallback chain.
const (
	retryWait      = 800 * time.Millisecond
	attemptTimeout = 30 * time.Second
)

// DefaultFallbackModels are appended after explicitly requested fallbacks.
var DefaultFallbackModels = []string{
	"claude-3-5-haiku-latest",
	"gpt-4o-mini",
}

// Caller runs completions through a provider with retry, model fallback,
// and a global request rate limit.
type Caller struct {
	providers map[string]Provider
	limiter   *rate.Limiter
	logger    *slog.Logger

	sleep func(context.Context, time.Duration) error
}

// NewCaller creates a Caller. requestsPerSecond bounds outbound calls
// across all models; zero disables the limit.
func NewCaller(logger *slog.Logger, requestsPerSecond float64) *Caller {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &Caller{
		providers: make(map[string]Provider),
		limiter:   limiter,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Register adds a provider adapter.
func (c *Caller) Register(p Provider) {
	c.providers[p.Name()] = p
}

// ProviderFor resolves the adapter for a provider name, defaulting to
// anthropic-style for unknown claude models and openai otherwise.
func (c *Caller) ProviderFor(provider, model string) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		if strings.HasPrefix(strings.ToLower(model), "claude") {
			name = "anthropic"
		} else {
			name = "openai"
		}
	}
	p, ok := c.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

// Complete runs the request against the model chain
// [requested, explicitFallbacks..., DefaultFallbackModels...], retrying
// each model once on transient failure with retryWait between attempts.
// Each attempt gets its own attemptTimeout deadline.
func (c *Caller) Complete(ctx context.Context, provider string, req Request, fallbacks []string) (string, error) {
	chain := modelChain(req.Model, fallbacks)
	if len(chain) == 0 {
		return "", fmt.Errorf("no model specified")
	}

	var lastErr error
	for _, model := range chain {
		attempt := req
		attempt.Model = model
		p, err := c.ProviderFor(provider, model)
		if err != nil {
			lastErr = err
			continue
		}

		for try := 0; try < 2; try++ {
			text, err := c.completeOnce(ctx, p, attempt)
			if err == nil {
				return text, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if !IsTransient(err) {
				break
			}
			c.logger.Warn("model call failed, retrying",
				slog.String("model", model), slog.Any("error", err))
			if try == 0 {
				if err := c.sleep(ctx, retryWait); err != nil {
					return "", err
				}
			}
		}
		c.logger.Warn("model exhausted, falling back",
			slog.String("model", model), slog.Any("error", lastErr))
	}
	return "", fmt.Errorf("all models failed: %w", lastErr)
}

func (c *Caller) completeOnce(ctx context.Context, p Provider, req Request) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()
	return p.Complete(attemptCtx, req)
}

// modelChain deduplicates [requested, explicit..., defaults...] keeping
// first occurrence order.
func modelChain(requested string, explicit []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(m string) {
		m = strings.TrimSpace(m)
		if m != "" && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	add(requested)
	for _, m := range explicit {
		add(m)
	}
	for _, m := range DefaultFallbackModels {
		add(m)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
