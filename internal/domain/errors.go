// Package domain provides shared domain-level sentinel and coded errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates another writer persisted the same record concurrently.
var ErrConflict = errors.New("conflict: record already persisted by another writer")

// Stable error codes surfaced to callers of the core pipeline and adapters.
const (
	CodeSecretMissing         = "webhook_secret_missing"
	CodeSignatureInvalid      = "webhook_signature_invalid"
	CodeDeliveryInvalid       = "delivery_invalid"
	CodeStorageError          = "delivery_storage_error"
	CodeReplayScheduled       = "replay_retry_scheduled"
	CodeReplayEnqueueFailed   = "replay_enqueue_failed"
	CodeReplayMaxAttempts     = "replay_max_attempts"
	CodeTokenNull             = "token_null"
	CodeGitHubHTTPError       = "github_http_error"
	CodeGitHubError           = "github_error"
	CodeGitHubDeserialization = "github_deserialization_error"
	CodeGraphQLError          = "graphql_error"
	CodeGraphQLNoData         = "graphql_no_data"
)

// CodedError is an expected failure carrying a stable string code so callers
// can branch without parsing messages.
type CodedError struct {
	Code    string
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error { return e.Err }

// NewCoded creates a CodedError without an underlying cause.
func NewCoded(code, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapCoded creates a CodedError wrapping an underlying cause.
func WrapCoded(code string, err error, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Code extracts the stable code from err, or "" when err carries none.
func Code(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsCode reports whether err carries the given stable code.
func IsCode(err error, code string) bool {
	return Code(err) == code
}
