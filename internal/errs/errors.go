package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// auth errors
	ErrAuthRequired            = errors.New("authentication required")
	ErrSessionNotFound         = errors.New("session not found")
	ErrCredentialUnrecoverable = errors.New("credential expired with no refresh token")

	// provider errors
	ErrUnknownProvider      = errors.New("unknown provider")
	ErrProviderNotConnected = errors.New("provider not connected")

	// mutation errors
	ErrNoMessagesSelected = errors.New("no messages selected")
	ErrTooManyMessages    = errors.New("too many messages (max 1000)")
	ErrQuotaExhausted     = errors.New("monthly trash limit reached")

	// scan errors
	ErrEmptyQuery = errors.New("query is required")

	// vault errors
	ErrVaultNotConfigured = errors.New("vault is not configured")
)

// RefreshError reports a failed OAuth refresh round-trip. It is terminal for
// the owning provider: callers demote the provider instead of retrying.
type RefreshError struct {
	Provider string
	Reason   string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed for %s: %s", e.Provider, e.Reason)
}

// QuotaWouldExceedError is returned when a live trash request is larger than
// the remaining monthly allowance. No messages are processed; the caller
// decides whether to resubmit a smaller request.
type QuotaWouldExceedError struct {
	Remaining int
	Requested int
}

func (e *QuotaWouldExceedError) Error() string {
	return fmt.Sprintf("request of %d exceeds remaining allowance of %d", e.Requested, e.Remaining)
}

// ProviderAPIError wraps an upstream mail-provider failure, keeping the
// provider's own message and status code.
type ProviderAPIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsAuthProblem reports whether the upstream signalled an auth failure, in
// which case the error propagates to the session reauth path instead of a 500.
func (e *ProviderAPIError) IsAuthProblem() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}
