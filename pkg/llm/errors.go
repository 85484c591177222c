package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ProviderError is the unified error returned by adapters. Transient
// errors are worth retrying on the same model; anything else falls
// through to the next model in the fallback chain.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Transient  bool
}

func (e *ProviderError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "request failed"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status=%d): %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, msg)
}

// errorFromStatus classifies an HTTP failure. 429, 408, and 5xx are
// transient; ambiguous statuses are refined by message hints.
func errorFromStatus(provider string, status int, message string) error {
	e := &ProviderError{Provider: provider, StatusCode: status, Message: message}
	switch {
	case status == 408 || status == 429 || status >= 500:
		e.Transient = true
	default:
		e.Transient = transientByMessage(message)
	}
	return e
}

// transientByMessage catches providers that tunnel rate limits and
// timeouts through non-standard statuses or plain text.
func transientByMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, hint := range []string{"timeout", "timed out", "network", "rate limit", "rate_limit", "overloaded", "econnreset"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// IsTransient reports whether the error is worth one more attempt on the
// same model. Network-level failures and deadline expiry count; context
// cancellation does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return transientByMessage(err.Error())
}
