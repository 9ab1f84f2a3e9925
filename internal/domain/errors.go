package domain

import (
	"errors"
	"fmt"
)

type AuthStep string

const (
	AuthStepRequestCode AuthStep = "request_code"
	AuthStepApproval    AuthStep = "approval"
	AuthStepExchange    AuthStep = "exchange"
)

// ErrNotApproved is returned when the operator declines the authorization.
var ErrNotApproved = errors.New("authorization not approved")

// AuthError reports which step of the authorization handshake failed.
type AuthError struct {
	Step AuthStep
	Err  error
}

func (e *AuthError) Error() string {
	switch e.Step {
	case AuthStepRequestCode:
		return fmt.Sprintf("auth: request code failed: %v", e.Err)
	case AuthStepApproval:
		return fmt.Sprintf("auth: operator did not confirm approval: %v", e.Err)
	case AuthStepExchange:
		return fmt.Sprintf("auth: exchange code for token failed: %v", e.Err)
	}
	return fmt.Sprintf("auth: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FatalFetchError is a non-retryable answer from the list endpoint.
type FatalFetchError struct {
	Offset     int
	StatusCode int
	Err        error
}

func (e *FatalFetchError) Error() string {
	return fmt.Sprintf("fetch page at offset %d: status %d: %v", e.Offset, e.StatusCode, e.Err)
}

func (e *FatalFetchError) Unwrap() error { return e.Err }

// TransientFetchError is returned once the retry budget for a page is spent.
// StatusCode is zero when the last attempt failed below HTTP.
type TransientFetchError struct {
	Offset     int
	Attempts   int
	StatusCode int
	Err        error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch page at offset %d: gave up after %d attempts (last status %d): %v",
		e.Offset, e.Attempts, e.StatusCode, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// ExtractionFailure describes why one item could not be extracted. It is
// recorded in the item's result and never aborts a run.
type ExtractionFailure struct {
	URL    string
	Reason string
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("%s: %s", e.URL, e.Reason)
}
