package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Reason classifies a provider failure. The gateway maps each reason to an
// HTTP status on the client surface.
type Reason string

const (
	// ReasonAuth: the vendor rejected our credentials (401/403).
	ReasonAuth Reason = "auth"
	// ReasonRateLimit: the vendor throttled the request (429).
	ReasonRateLimit Reason = "rate_limit"
	// ReasonModelNotFound: the requested model does not exist or is not
	// enabled for the account (404, "model_not_found" codes).
	ReasonModelNotFound Reason = "model_not_found"
	// ReasonConnection: transport-level failure (DNS, dial, 5xx, timeout).
	ReasonConnection Reason = "connection"
	// ReasonGeneric: everything else.
	ReasonGeneric Reason = "generic"
)

// Error is a classified provider failure. Adapters wrap every vendor error in
// one of these so the orchestrator and HTTP layer can branch on Reason
// without knowing vendor specifics.
type Error struct {
	Reason    Reason
	Provider  string
	Model     string
	Status    int
	Code      string
	RequestID string
	Cause     error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s provider error (%s)", e.Provider, e.Reason)
	if e.Model != "" {
		fmt.Fprintf(&b, " model=%s", e.Model)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the adapter may retry the request once.
// Only transport failures are retried; auth, quota, and model errors are
// surfaced immediately.
func (e *Error) Retryable() bool {
	return e.Reason == ReasonConnection
}

// NewError wraps and classifies a vendor error.
func NewError(providerName, model string, cause error) *Error {
	e := &Error{
		Reason:   ReasonGeneric,
		Provider: providerName,
		Model:    model,
		Cause:    cause,
	}
	e.Reason = classify(0, "", cause)
	return e
}

// WithStatus records the HTTP status and reclassifies.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	e.Reason = classify(status, e.Code, e.Cause)
	return e
}

// WithCode records the vendor error code and reclassifies.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	e.Reason = classify(e.Status, code, e.Cause)
	return e
}

// WithRequestID records the vendor request id for support correlation.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// AsProviderError extracts a classified provider error from an error chain.
func AsProviderError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func classify(status int, code string, cause error) Reason {
	if r, ok := classifyStatus(status); ok {
		return r
	}
	if r, ok := classifyCode(code); ok {
		return r
	}
	return classifyCause(cause)
}

func classifyStatus(status int) (Reason, bool) {
	switch {
	case status == 401 || status == 403:
		return ReasonAuth, true
	case status == 404:
		return ReasonModelNotFound, true
	case status == 429:
		return ReasonRateLimit, true
	case status >= 500:
		return ReasonConnection, true
	}
	return ReasonGeneric, false
}

func classifyCode(code string) (Reason, bool) {
	switch strings.ToLower(code) {
	case "invalid_api_key", "authentication_error", "permission_error", "account_deactivated":
		return ReasonAuth, true
	case "rate_limit_error", "rate_limit_exceeded", "insufficient_quota", "overloaded_error":
		return ReasonRateLimit, true
	case "model_not_found", "not_found_error":
		return ReasonModelNotFound, true
	case "api_connection_error", "timeout", "service_unavailable":
		return ReasonConnection, true
	}
	return ReasonGeneric, false
}

func classifyCause(cause error) Reason {
	if cause == nil {
		return ReasonGeneric
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return ReasonConnection
	}
	var netErr net.Error
	if errors.As(cause, &netErr) {
		return ReasonConnection
	}

	msg := strings.ToLower(cause.Error())
	switch {
	case containsAny(msg, "api key", "unauthorized", "authentication", "invalid x-api-key"):
		return ReasonAuth
	case containsAny(msg, "rate limit", "too many requests", "quota"):
		return ReasonRateLimit
	case containsAny(msg, "model not found", "does not exist", "unknown model"):
		return ReasonModelNotFound
	case containsAny(msg, "connection refused", "connection reset", "no such host", "eof", "timeout", "deadline exceeded"):
		return ReasonConnection
	}
	return ReasonGeneric
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
