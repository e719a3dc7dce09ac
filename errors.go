package microauth

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrorKind classifies failures so callers can pick one public outcome per request.
type ErrorKind string

const (
	KindValidation ErrorKind = "Validation Error"
	KindAuth       ErrorKind = "Auth Error"
	KindConfig     ErrorKind = "Config Error"
	KindProvider   ErrorKind = "Provider Error"
	KindStorage    ErrorKind = "Storage Error"
	KindSecurity   ErrorKind = "Security Error"
	KindRequest    ErrorKind = "Request Error"
)

// Machine readable error codes returned to the presentation layer.
const (
	ErrCodeMissingField    = "missing_field"
	ErrCodeInvalidEmail    = "invalid_email"
	ErrCodeWeakPassword    = "weak_password"
	ErrCodeInvalidCreds    = "invalid_credentials"
	ErrCodeEmailExists     = "email_exists"
	ErrCodeInvalidCSRF     = "invalid_csrf_token"
	ErrCodeAuthRequired    = "auth_required"
	ErrCodeInvalidToken    = "invalid_token"
	ErrCodeMethodDisabled  = "method_disabled"
	ErrCodeInvalidProvider = "invalid_provider"
	ErrCodeStorage         = "storage_error"
)

var (
	// ErrRecordNotFound is returned by a RecordStore when no record exists for the id.
	ErrRecordNotFound = errors.New("record not found")

	// ErrVersionConflict is returned by a RecordStore when a conditional write loses.
	ErrVersionConflict = errors.New("record version conflict")

	// ErrIdentityNotFound is returned by identity lookups that match nothing.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrMethodDisabled is returned when a login method is switched off in config.
	ErrMethodDisabled = errors.New("login method disabled")

	// ErrEmailTaken is returned when an email already belongs to another identity.
	ErrEmailTaken = errors.New("email already registered")
)

// Error is the typed failure used across the engine.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Field   string
	cause   error
}

// NewError creates an Error with no underlying cause.
func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WithField records which input field the error refers to.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithCause attaches the underlying error, capturing a stack for debug output.
func (e *Error) WithCause(err error) *Error {
	if err != nil {
		e.cause = pkgerrors.WithStack(err)
	}
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, pkgerrors.Cause(e.cause))
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e.cause == nil {
		return nil
	}
	return pkgerrors.Cause(e.cause)
}

// Detail returns the underlying cause message, or "" when there is none.
func (e *Error) Detail() string {
	if e.cause == nil {
		return ""
	}
	return pkgerrors.Cause(e.cause).Error()
}

// Stack renders the captured stack trace of the cause.
func (e *Error) Stack() string {
	if e.cause == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.cause)
}

// KindOf reports the ErrorKind of err, defaulting to KindStorage for
// record store failures and "" for anything unclassified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrVersionConflict) {
		return KindStorage
	}
	return ""
}

func storageError(message string, err error) *Error {
	return NewError(KindStorage, ErrCodeStorage, message).WithCause(err)
}
