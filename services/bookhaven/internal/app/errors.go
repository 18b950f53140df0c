package app

import (
	"errors"
	"fmt"

	"github.com/iamakashsinghrajput/BookHaven/pkg/store"
)

var (
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")

	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("not permitted")
	ErrNotFound        = errors.New("not found")

	// ErrDeleteNotPermitted is returned both for unknown papers and for an
	// email that does not own the paper, so callers cannot tell them apart.
	ErrDeleteNotPermitted = fmt.Errorf("%w: paper not found or email does not match the uploader", ErrForbidden)

	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidCredentials is shown to end users and must not enable
	// account enumeration.
	ErrInvalidCredentials = errors.New("Incorrect email address or password")
	ErrUserDisabled       = errors.New("user disabled")
	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrEmailNotVerified   = errors.New("email address has not been verified")

	ErrPaymentsDisabled = errors.New("payments are not configured")
	ErrPaymentInvalid   = errors.New("payment verification failed")
	ErrPaperUnavailable = errors.New("paper is not available")

	// Verification failures surface unchanged from the code store.
	ErrCodeNotFoundOrExpired = store.ErrCodeNotFoundOrExpired
	ErrCodeMismatch          = store.ErrCodeMismatch
	ErrTooManyAttempts       = store.ErrTooManyAttempts
	ErrCodeRequired          = store.ErrCodeRequired
)

// ValidationError reports a single rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
