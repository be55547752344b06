package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrBadRequest      = errors.New("bad request")
	ErrTooManyRequests = errors.New("too many requests")
	ErrUnavailable     = errors.New("unavailable")

	// ErrAlreadyConsumed is returned by OTP stores when a conditional consume
	// loses to an earlier writer.
	ErrAlreadyConsumed = errors.New("otp already consumed")

	// ErrAttemptsExhausted is returned by OTP stores when a request has no
	// verification attempts left or was consumed in the meantime.
	ErrAttemptsExhausted = errors.New("otp attempts exhausted")
)

// Code is a machine-readable reason callers can branch on.
type Code string

const (
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeDeliveryFailed   Code = "DELIVERY_FAILED"
	CodeInvalidCode      Code = "INVALID_CODE"
	CodeInvalidToken     Code = "INVALID_TOKEN"
	CodeExpiredToken     Code = "EXPIRED_TOKEN"
	CodeWrongPurpose     Code = "WRONG_PURPOSE"
	CodeEmailMismatch    Code = "EMAIL_MISMATCH"
	CodePetitionNotFound Code = "PETITION_NOT_FOUND"
	CodePetitionNotLive  Code = "PETITION_NOT_LIVE"
	CodeAlreadySigned    Code = "ALREADY_SIGNED"
	CodeInvalidSignature Code = "INVALID_SIGNATURE"
	CodeNotFound         Code = "NOT_FOUND"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeInternal         Code = "INTERNAL"
)

// Error is a typed failure: Code for clients, Message safe to show to users,
// Fields for input errors, and Err as the sentinel class it unwraps to.
type Error struct {
	Code    Code
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a typed error of the given class.
func NewError(class error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: class}
}

// InvalidInput builds an input error carrying per-field detail.
func InvalidInput(msg string, fields map[string]string) *Error {
	return &Error{Code: CodeInvalidInput, Message: msg, Fields: fields, Err: ErrBadRequest}
}

// CodeOf returns the reason code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
