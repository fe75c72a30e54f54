package provider

import "fmt"

// TransientError is a retryable failure: rate limiting, timeouts,
// 5xx-equivalents, connection resets, and malformed model output. The
// Client absorbs these up to its attempt ceiling.
type TransientError struct {
	Status int
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient: %s (status %d)", e.Reason, e.Status)
	}
	return "transient: " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError ends the request immediately: authentication, malformed
// requests, and content-policy rejections are not retried.
type FatalError struct {
	Status int
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fatal: %s (status %d)", e.Reason, e.Status)
	}
	return "fatal: " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

// PayloadTooLargeError is the pre-flight rejection raised when the
// projected token cost of a request exceeds the configured ceiling. No
// network attempt is made.
type PayloadTooLargeError struct {
	Estimated int
	Ceiling   int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("request payload too large: estimated %d tokens exceeds ceiling %d", e.Estimated, e.Ceiling)
}
