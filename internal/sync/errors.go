package sync

import "errors"

// Common errors returned by sync operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, sync.ErrStoreUnavailable) {
//	    // Retry the whole request unchanged
//	}
var (
	// ErrStoreUnavailable is returned when the note store fails mid-request.
	// The whole request fails fast with no partial cursor advance; the
	// client retries the entire request unchanged.
	ErrStoreUnavailable = errors.New("note store unavailable")

	// ErrInvalidRequest is returned when the request as a whole is
	// malformed (as opposed to a single bad mutation, which lands in the
	// response's rejected bucket while processing continues).
	ErrInvalidRequest = errors.New("invalid sync request")

	// ErrUnauthorized is returned when the request's owner cannot be
	// resolved or does not match the authenticated principal. Nothing is
	// processed; the caller must re-authenticate.
	ErrUnauthorized = errors.New("owner not authorized")
)

// IsRetryable returns true if the error is likely to succeed on retry.
// Retrying a sync request is always safe: accepted mutations reclassify as
// no-ops or conflicts on resubmission, never as double applies.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStoreUnavailable)
}

// IsUserActionRequired returns true if the error cannot be resolved by
// retrying and needs the caller to change something first.
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}

	// A malformed request will stay malformed
	if errors.Is(err, ErrInvalidRequest) {
		return true
	}

	// Re-authentication is on the caller
	if errors.Is(err, ErrUnauthorized) {
		return true
	}

	return false
}
