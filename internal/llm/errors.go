package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind classifies a failed exchange. Callers may retry RateLimited with
// backoff; this package never retries on its own.
type ErrorKind int

const (
	// ErrConnection covers unreachable hosts and timeouts.
	ErrConnection ErrorKind = iota
	// ErrAuthentication covers rejected credentials.
	ErrAuthentication
	// ErrRateLimited covers throttling signals.
	ErrRateLimited
	// ErrProtocol covers malformed or unparseable wire frames.
	ErrProtocol
	// ErrCapability covers attachments the selected model cannot accept.
	// Recovered locally by stripping with a warning, never fatal.
	ErrCapability
)

func (k ErrorKind) String() string {
	switch k {
	case ErrConnection:
		return "connection"
	case ErrAuthentication:
		return "authentication"
	case ErrRateLimited:
		return "rate_limited"
	case ErrProtocol:
		return "protocol"
	case ErrCapability:
		return "capability"
	default:
		return "unknown"
	}
}

// ProviderError is the terminal error carried by an EventError. It wraps the
// underlying cause and names the provider that produced it.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from err, defaulting to ErrConnection for
// plain transport errors.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrConnection
}

// classifyStatus maps an HTTP response status to an error kind. Auth-shaped
// bodies on 4xx responses count as authentication failures.
func classifyStatus(status int, body string) ErrorKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrAuthentication
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 400 && status < 500 && looksLikeAuthBody(body):
		return ErrAuthentication
	default:
		return ErrProtocol
	}
}

func looksLikeAuthBody(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range []string{"api key", "api_key", "unauthorized", "invalid token", "authentication"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// classifyTransport wraps a pre-response error (dial failure, timeout,
// context cancellation) as a connection error.
func classifyTransport(provider string, err error) *ProviderError {
	kind := ErrConnection
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = ErrConnection
	case errors.As(err, &netErr):
		kind = ErrConnection
	}
	return &ProviderError{Kind: kind, Provider: provider, Err: err}
}

func statusError(provider string, status int, body string) *ProviderError {
	trimmed := strings.TrimSpace(body)
	if len(trimmed) > 512 {
		trimmed = trimmed[:512]
	}
	return &ProviderError{
		Kind:     classifyStatus(status, trimmed),
		Provider: provider,
		Err:      fmt.Errorf("status %d: %s", status, trimmed),
	}
}

func protocolError(provider string, err error) *ProviderError {
	return &ProviderError{Kind: ErrProtocol, Provider: provider, Err: err}
}
