package oauth

import (
	"fmt"
	"net/http"
)

// Canonical error codes returned to clients.
const (
	ErrorInvalidRequest       = "invalid_request"
	ErrorInvalidClient        = "invalid_client"
	ErrorInvalidGrant         = "invalid_grant"
	ErrorUnauthorizedClient   = "unauthorized_client"
	ErrorUnsupportedGrantType = "unsupported_grant_type"
	ErrorInvalidScope         = "invalid_scope"
	ErrorInvalidToken         = "invalid_token"
	ErrorInsufficientScope    = "insufficient_scope"
	ErrorRedirectURIMismatch  = "redirect_uri_mismatch"
	ErrorServerError          = "server_error"
)

// Error is a client-correctable failure: bad or missing parameters, unknown
// principal, bad credential, replayed assertion. It is never retried.
type Error struct {
	Status      int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Description)
}

// IntegrationError reports a storage adapter that returned data violating the
// shape the core requires, e.g. a principal profile without an auth_id.
// The end user did nothing wrong, so it must never be mapped to a 4xx.
type IntegrationError struct {
	Component string
	Reason    string
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("integration error in %s: %s", e.Component, e.Reason)
}

// StorageError wraps a backend failure (unreachable, timeout, constraint
// failure we did not expect). It is propagated as-is, without retries.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err for operation op, or returns nil when err is nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// ServerError is the response body used for integration and storage failures.
// Details never leak to the client.
func ServerError() *Error {
	return &Error{
		Status:      http.StatusInternalServerError,
		Code:        ErrorServerError,
		Description: "The authorization server encountered an unexpected condition",
	}
}
