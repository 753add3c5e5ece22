package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailReason categorizes why a model request failed. The class decides
// whether the retry wrapper may try the call again.
type FailReason string

const (
	// ReasonTimeout indicates the request or stream timed out.
	ReasonTimeout FailReason = "timeout"

	// ReasonRateLimit indicates throttling (HTTP 429).
	ReasonRateLimit FailReason = "rate_limit"

	// ReasonConnReset indicates the connection dropped mid-request.
	ReasonConnReset FailReason = "connection_reset"

	// ReasonServerError indicates a provider-side failure (HTTP 5xx).
	ReasonServerError FailReason = "server_error"

	// ReasonAuth indicates an invalid or missing credential (HTTP 401, 403).
	ReasonAuth FailReason = "auth"

	// ReasonInvalidRequest indicates the provider rejected the request
	// shape (HTTP 400, 404, 422).
	ReasonInvalidRequest FailReason = "invalid_request"

	// ReasonContentPolicy indicates the request was refused by the
	// provider's safety filters.
	ReasonContentPolicy FailReason = "content_policy"

	// ReasonUnknown indicates an unclassified error.
	ReasonUnknown FailReason = "unknown"
)

// Transient reports whether the class is retried automatically. Anything
// not positively identified as transient is treated as fatal, including
// unclassified errors.
func (r FailReason) Transient() bool {
	switch r {
	case ReasonTimeout, ReasonRateLimit, ReasonConnReset, ReasonServerError:
		return true
	default:
		return false
	}
}

// ModelError is a structured error from a model provider. It carries the
// context the retry wrapper and the logs need: the failure class, which
// provider and model produced it, and the provider's own status, code,
// and message when available.
type ModelError struct {
	// Reason classifies the failure for retry decisions.
	Reason FailReason

	// Provider is the provider name, e.g. "anthropic".
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code, if applicable.
	Status int

	// Code is the provider-specific error code.
	Code string

	// Message is the human-readable error message.
	Message string

	// RequestID is the provider's request ID for support tickets.
	RequestID string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ModelError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}

	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ModelError) Unwrap() error {
	return e.Cause
}

// Transient reports whether the error's class is retryable.
func (e *ModelError) Transient() bool {
	return e.Reason.Transient()
}

// NewModelError wraps cause with provider context, classifying it from
// the error text. Use the With* chain to refine the classification when
// the provider reports a status or code.
func NewModelError(provider, model string, cause error) *ModelError {
	err := &ModelError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = Classify(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies from it. Status
// codes override text-based classification.
func (e *ModelError) WithStatus(status int) *ModelError {
	e.Status = status
	if reason := classifyStatus(status); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithCode records a provider-specific error code and reclassifies when
// the code is recognized.
func (e *ModelError) WithCode(code string) *ModelError {
	e.Code = code
	if reason := classifyCode(code); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithMessage sets the human-readable message.
func (e *ModelError) WithMessage(msg string) *ModelError {
	if msg != "" {
		e.Message = msg
	}
	return e
}

// WithRequestID records the provider's request ID.
func (e *ModelError) WithRequestID(id string) *ModelError {
	e.RequestID = id
	return e
}

// Classify inspects an error and returns its failure class. A ModelError
// anywhere in the chain wins; otherwise the error text is matched against
// known provider and transport failure patterns. Cancellation is never
// classified as transient.
func Classify(err error) FailReason {
	if err == nil {
		return ReasonUnknown
	}

	var modelErr *ModelError
	if errors.As(err, &modelErr) {
		return modelErr.Reason
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "context canceled"):
		return ReasonUnknown

	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "etimedout"):
		return ReasonTimeout

	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429"):
		return ReasonRateLimit

	case strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unexpected eof") ||
		strings.Contains(msg, "no such host"):
		return ReasonConnReset

	case strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "invalid_api_key") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "401") ||
		strings.Contains(msg, "403"):
		return ReasonAuth

	case strings.Contains(msg, "content_filter") ||
		strings.Contains(msg, "content policy") ||
		strings.Contains(msg, "content_policy") ||
		strings.Contains(msg, "blocked by safety"):
		return ReasonContentPolicy

	case strings.Contains(msg, "internal server") ||
		strings.Contains(msg, "server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504"):
		return ReasonServerError

	case strings.Contains(msg, "invalid request") ||
		strings.Contains(msg, "invalid_request") ||
		strings.Contains(msg, "malformed"):
		return ReasonInvalidRequest
	}

	return ReasonUnknown
}

// classifyStatus maps an HTTP status code to a failure class.
func classifyStatus(status int) FailReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status == http.StatusBadRequest ||
		status == http.StatusNotFound ||
		status == http.StatusUnprocessableEntity ||
		status == http.StatusRequestEntityTooLarge:
		return ReasonInvalidRequest
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// classifyCode maps provider-specific error codes to a failure class.
func classifyCode(code string) FailReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded", "insufficient_quota":
		return ReasonRateLimit
	case "authentication_error", "permission_error", "invalid_api_key":
		return ReasonAuth
	case "overloaded_error", "api_error", "server_error", "internal_error":
		return ReasonServerError
	case "timeout", "timeout_error":
		return ReasonTimeout
	case "invalid_request_error", "not_found_error", "request_too_large":
		return ReasonInvalidRequest
	case "content_policy_violation", "content_filter":
		return ReasonContentPolicy
	default:
		return ReasonUnknown
	}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return Classify(err).Transient()
}

// AsModelError extracts a ModelError from an error chain.
func AsModelError(err error) (*ModelError, bool) {
	var modelErr *ModelError
	if errors.As(err, &modelErr) {
		return modelErr, true
	}
	return nil, false
}

// RetryExhaustedError reports that every attempt failed with a transient
// error. Attempts counts the initial call plus all retries; Last is the
// error from the final attempt.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("model call failed after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the final attempt's error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}
