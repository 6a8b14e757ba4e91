package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrRaceRejection is returned when a mutation is attempted while
	// another mutation for the same (account, instrument) is in flight.
	// Callers should retry.
	ErrRaceRejection = errors.New("mutation already in flight for instrument")

	errOrderNotFound   = errors.New("order not found")
	errUnknownAccount  = errors.New("unknown account")
	errTrackerStopped  = errors.New("tracker stopped")
	errAlreadyStarted  = errors.New("tracker already started")
	errNotPaused       = errors.New("account poll loop is not paused")
	errInvalidQuantity = errors.New("quantity must be positive")
	errInvalidPrice    = errors.New("price must be positive")
)

// ValidationError is a local guard violation, rejected before any gateway
// call.
type ValidationError struct {
	Reason string

	// ExistingOrderID is set when the violation is a duplicate of an
	// already-working order.
	ExistingOrderID string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// TransientGatewayError wraps a network/timeout/rate-limit failure. The
// poll loop retries on the next tick without clearing cached state.
type TransientGatewayError struct {
	Err error
}

func (e *TransientGatewayError) Error() string {
	return fmt.Sprintf("transient gateway error: %v", e.Err)
}

func (e *TransientGatewayError) Unwrap() error { return e.Err }

// AuthExpiredError is fatal to the poll loop: it pauses until the caller
// re-authenticates and resumes.
type AuthExpiredError struct {
	Err error
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("auth expired: %v", e.Err)
}

func (e *AuthExpiredError) Unwrap() error { return e.Err }

// IsAuthExpired reports whether err is (or wraps) an AuthExpiredError.
func IsAuthExpired(err error) bool {
	var ae *AuthExpiredError
	return errors.As(err, &ae)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// classifyGatewayError folds raw gateway failures into the taxonomy. Errors
// already typed pass through; anything else is treated as transient.
func classifyGatewayError(err error) error {
	if err == nil {
		return nil
	}
	var ae *AuthExpiredError
	if errors.As(err, &ae) {
		return err
	}
	var te *TransientGatewayError
	if errors.As(err, &te) {
		return err
	}
	return &TransientGatewayError{Err: err}
}
