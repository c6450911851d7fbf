package errors

import (
	"errors"
	"fmt"
)

var (
	// Resource errors
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")

	// Validation errors
	ErrValidation = errors.New("validation error")

	// Signature errors
	ErrMissingSignature       = errors.New("missing signature")
	ErrInvalidSignatureFormat = errors.New("invalid signature format")
	ErrInvalidSignature       = errors.New("invalid signature")

	// Transport errors
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrPublishTimeout       = errors.New("publish timeout")

	// Contention: a conditional update matched zero rows because another
	// worker won the race. Callers treat this as a no-op.
	ErrStorageConflict = errors.New("storage conflict")
)

// Phase identifies where in the delivery pipeline an error occurred.
type Phase string

const (
	PhaseReception        Phase = "reception"
	PhaseValidation       Phase = "validation"
	PhaseSignature        Phase = "signature"
	PhasePreparation      Phase = "preparation"
	PhaseDelivery         Phase = "delivery"
	PhaseResponseHandling Phase = "response_handling"
	PhaseRetryScheduling  Phase = "retry_scheduling"
	PhaseCleanup          Phase = "cleanup"
)

// AppError is a custom error type with additional context
type AppError struct {
	Err         error
	Code        string
	Message     string
	Phase       Phase
	WebhookName string
	MessageID   string
	Details     map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target by code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Err:     err,
		Code:    code,
		Message: message,
	}
}

func (e *AppError) WithPhase(phase Phase) *AppError {
	e.Phase = phase
	return e
}

func (e *AppError) WithWebhook(name string) *AppError {
	e.WebhookName = name
	return e
}

func (e *AppError) WithMessageID(id string) *AppError {
	e.MessageID = id
	return e
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// FromError converts any error to an AppError, preserving an existing one
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return Wrap(err, ErrCodeNotFound, "Resource not found")
	case errors.Is(err, ErrAlreadyExists):
		return Wrap(err, ErrCodeAlreadyExists, "Resource already exists")
	case errors.Is(err, ErrValidation):
		return Wrap(err, ErrCodeValidation, "Validation error")
	default:
		return Wrap(err, ErrCodeInternal, "An unexpected error occurred")
	}
}
