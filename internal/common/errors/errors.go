// Package errors provides the closed error taxonomy shared by the
// retrieval and deliberation cores. Callers branch on codes, never on
// provider-specific error strings.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Embedding pipeline.
	ErrCodeEmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE"
	ErrCodeDimensionMismatch    ErrorCode = "DIMENSION_MISMATCH"

	// Provider gateway. These five are the only classes a caller ever sees
	// for an external completion service.
	ErrCodeProviderRateLimited ErrorCode = "PROVIDER_RATE_LIMITED"
	ErrCodeProviderTimeout     ErrorCode = "PROVIDER_TIMEOUT"
	ErrCodeProviderAuth        ErrorCode = "PROVIDER_AUTH_ERROR"
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderMalformed   ErrorCode = "PROVIDER_MALFORMED"

	// Deliberation.
	ErrCodeJudgeFailure ErrorCode = "JUDGE_FAILURE"

	// Cache tiers. Never surfaced to callers, only logged.
	ErrCodeCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// CodeOf extracts the ErrorCode from err, or "" when err is not a
// StandardError.
func CodeOf(err error) ErrorCode {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsRetryable reports whether err carries a retryable error class.
func IsRetryable(err error) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsProviderError reports whether err belongs to the provider gateway
// taxonomy.
func IsProviderError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeProviderRateLimited, ErrCodeProviderTimeout,
		ErrCodeProviderAuth, ErrCodeProviderUnavailable, ErrCodeProviderMalformed:
		return true
	}
	return false
}

// NewEmbeddingUnavailableError signals that every cache tier and the
// source-of-truth embedder failed for the listed chunks. Fatal for the
// request that needed them.
func NewEmbeddingUnavailableError(details string, chunkIDs []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEmbeddingUnavailable,
		Message:   "No embedding tier could supply the requested vectors",
		Details:   details,
		Retryable: true,
		Metadata:  map[string]interface{}{"chunkIds": chunkIDs},
		Timestamp: time.Now().UTC(),
	}
}

// NewDimensionMismatchError signals mixed vector dimensionalities inside a
// single index generation. Always a programming or data corruption error.
func NewDimensionMismatchError(want, got int, chunkID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDimensionMismatch,
		Message:   "Embedding dimensionality differs within one index generation",
		Details:   fmt.Sprintf("chunkId: %s, want %d, got %d", chunkID, want, got),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderRateLimitedError creates a retryable rate-limit error.
func NewProviderRateLimitedError(provider, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderRateLimited,
		Message:   "Provider rejected the call with a rate limit",
		Details:   details,
		Retryable: true,
		Metadata:  map[string]interface{}{"provider": provider},
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderTimeoutError creates a retryable timeout error.
func NewProviderTimeoutError(provider string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderTimeout,
		Message:   "Provider call exceeded its deadline",
		Retryable: true,
		Metadata:  map[string]interface{}{"provider": provider},
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderAuthError creates a non-retryable credential error.
func NewProviderAuthError(provider, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderAuth,
		Message:   "Provider rejected the configured credentials",
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"provider": provider},
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderUnavailableError creates a retryable upstream failure error.
func NewProviderUnavailableError(provider, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderUnavailable,
		Message:   "Provider endpoint unavailable",
		Details:   details,
		Retryable: true,
		Metadata:  map[string]interface{}{"provider": provider},
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderMalformedError creates a non-retryable malformed-response error.
func NewProviderMalformedError(provider, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderMalformed,
		Message:   "Provider returned a response the gateway could not parse",
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"provider": provider},
		Timestamp: time.Now().UTC(),
	}
}

// NewJudgeFailureError records a judge call that failed after its own
// retries. The council converts this into a mechanical fallback Verdict,
// it never aborts the request.
func NewJudgeFailureError(judge string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:      ErrCodeJudgeFailure,
		Message:   "Judge provider failed to synthesize a verdict",
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"judge": judge},
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheUnavailableError records a cache tier round-trip failure. Logged
// and bypassed, never returned across component boundaries.
func NewCacheUnavailableError(tier string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:      ErrCodeCacheUnavailable,
		Message:   "Cache tier unreachable, continuing without it",
		Details:   details,
		Retryable: true,
		Metadata:  map[string]interface{}{"tier": tier},
		Timestamp: time.Now().UTC(),
	}
}
