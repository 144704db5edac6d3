// Package apperr is the error taxonomy shared by services and the HTTP
// layer. Errors match with errors.Is on kind and, when set, code.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindConflict     Kind = "conflict"
	KindAuth         Kind = "auth_failure"
	KindToken        Kind = "token_error"
	KindOTP          Kind = "otp_error"
	KindKYCState     Kind = "kyc_state_error"
	KindDocument     Kind = "document_error"
	KindAccessDenied Kind = "challenge_access_denied"
	KindProvider     Kind = "provider_error"
	KindInternal     Kind = "internal"
)

type Code string

// Token codes
const (
	CodeExpired          Code = "expired"
	CodeInvalid          Code = "invalid"
	CodeRevoked          Code = "revoked"
	CodeWrongType        Code = "wrong_type"
	CodeMalformed        Code = "malformed"
	CodeSignatureInvalid Code = "signature_invalid"
	CodeUnknown          Code = "unknown"
	CodeInactiveUser     Code = "inactive_user"
)

// OTP codes (CodeInvalid and CodeExpired are shared with tokens)
const (
	CodeExhausted   Code = "exhausted"
	CodeRateLimited Code = "rate_limited"
)

// Auth codes
const (
	CodeBadCredentials Code = "bad_credentials"
	CodeInactive       Code = "inactive"
	CodeLockedOut      Code = "locked_out"
	CodeForbidden      Code = "forbidden"
)

// KYC state codes
const (
	CodeNotFound            Code = "not_found"
	CodeFrozen              Code = "frozen"
	CodeMissingRequired     Code = "missing_required"
	CodeTransitionForbidden Code = "transition_forbidden"
)

// Document codes
const (
	CodeTooLarge     Code = "too_large"
	CodeMimeRejected Code = "mime_rejected"
	CodeTypeInvalid  Code = "type_invalid"
)

// Validation and provider codes
const (
	CodeWeakPassword Code = "weak_password"
	CodeTransient    Code = "transient"
	CodePermanent    Code = "permanent"
)

// Cohort join outcomes
const (
	CodeInvalidCode   Code = "invalid_code"
	CodeAlreadyMember Code = "already_member"
)

type Error struct {
	Kind       Kind
	Code       Code
	Field      string
	Message    string
	RetryAfter time.Duration
	Timeout    bool
	Cause      error
}

func (e *Error) Error() string {
	var s string
	switch {
	case e.Code != "" && e.Field != "":
		s = fmt.Sprintf("%s(%s) %s", e.Kind, e.Code, e.Field)
	case e.Code != "":
		s = fmt.Sprintf("%s(%s)", e.Kind, e.Code)
	case e.Field != "":
		s = fmt.Sprintf("%s %s", e.Kind, e.Field)
	default:
		s = string(e.Kind)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches targets of the same kind whose code is empty or equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrAuth         = &Error{Kind: KindAuth}
	ErrToken        = &Error{Kind: KindToken}
	ErrOTP          = &Error{Kind: KindOTP}
	ErrKYCState     = &Error{Kind: KindKYCState}
	ErrDocument     = &Error{Kind: KindDocument}
	ErrAccessDenied = &Error{Kind: KindAccessDenied}
	ErrProvider     = &Error{Kind: KindProvider}
	ErrInternal     = &Error{Kind: KindInternal}

	ErrOTPInvalid     = &Error{Kind: KindOTP, Code: CodeInvalid}
	ErrOTPExpired     = &Error{Kind: KindOTP, Code: CodeExpired}
	ErrOTPExhausted   = &Error{Kind: KindOTP, Code: CodeExhausted}
	ErrOTPRateLimited = &Error{Kind: KindOTP, Code: CodeRateLimited}

	ErrTokenExpired   = &Error{Kind: KindToken, Code: CodeExpired}
	ErrTokenInvalid   = &Error{Kind: KindToken, Code: CodeInvalid}
	ErrTokenRevoked   = &Error{Kind: KindToken, Code: CodeRevoked}
	ErrTokenWrongType = &Error{Kind: KindToken, Code: CodeWrongType}
	ErrTokenUnknown   = &Error{Kind: KindToken, Code: CodeUnknown}
	ErrInactiveUser   = &Error{Kind: KindToken, Code: CodeInactiveUser}

	ErrKYCNotFound            = &Error{Kind: KindKYCState, Code: CodeNotFound}
	ErrKYCFrozen              = &Error{Kind: KindKYCState, Code: CodeFrozen}
	ErrKYCMissingRequired     = &Error{Kind: KindKYCState, Code: CodeMissingRequired}
	ErrKYCTransitionForbidden = &Error{Kind: KindKYCState, Code: CodeTransitionForbidden}

	ErrDocumentTooLarge     = &Error{Kind: KindDocument, Code: CodeTooLarge}
	ErrDocumentMimeRejected = &Error{Kind: KindDocument, Code: CodeMimeRejected}
	ErrDocumentTypeInvalid  = &Error{Kind: KindDocument, Code: CodeTypeInvalid}
	ErrDocumentNotFound     = &Error{Kind: KindDocument, Code: CodeNotFound}

	ErrProviderTransient = &Error{Kind: KindProvider, Code: CodeTransient}
	ErrProviderPermanent = &Error{Kind: KindProvider, Code: CodePermanent}
)

func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

func WeakPassword(message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeWeakPassword, Field: "password", Message: message}
}

// Conflict names the unique attribute that collided.
func Conflict(what string) *Error {
	return &Error{Kind: KindConflict, Field: what, Message: what + " already in use"}
}

func AuthFailure(code Code, cause error) *Error {
	return &Error{Kind: KindAuth, Code: code, Message: "invalid credentials", Cause: cause}
}

func LockedOut(retryAfter time.Duration) *Error {
	return &Error{Kind: KindAuth, Code: CodeLockedOut, Message: "too many failed attempts", RetryAfter: retryAfter}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindAuth, Code: CodeForbidden, Message: message}
}

func Token(code Code, cause error) *Error {
	return &Error{Kind: KindToken, Code: code, Cause: cause}
}

func OTP(code Code, message string) *Error {
	return &Error{Kind: KindOTP, Code: code, Message: message}
}

func OTPExhausted(cooldown time.Duration) *Error {
	return &Error{
		Kind:       KindOTP,
		Code:       CodeExhausted,
		Message:    fmt.Sprintf("too many failed attempts, retry in %s", cooldown.Round(time.Second)),
		RetryAfter: cooldown,
	}
}

func OTPRateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindOTP,
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("a code was sent recently, retry in %s", retryAfter.Round(time.Second)),
		RetryAfter: retryAfter,
	}
}

func KYCState(code Code, message string) *Error {
	return &Error{Kind: KindKYCState, Code: code, Message: message}
}

func Document(code Code, message string) *Error {
	return &Error{Kind: KindDocument, Code: code, Message: message}
}

func AccessDenied(reason string) *Error {
	return &Error{Kind: KindAccessDenied, Message: reason}
}

// Cohort join failures reuse the validation and conflict kinds.
func InvalidCohortCode() *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidCode, Field: "code", Message: "unknown cohort code"}
}

func CohortInactive() *Error {
	return &Error{Kind: KindAccessDenied, Code: CodeInactive, Message: "cohort is not active"}
}

func AlreadyMember() *Error {
	return &Error{Kind: KindConflict, Code: CodeAlreadyMember, Field: "membership", Message: "already a member of this cohort"}
}

func Provider(transient bool, detail string, cause error) *Error {
	code := CodePermanent
	if transient {
		code = CodeTransient
	}
	return &Error{Kind: KindProvider, Code: code, Message: detail, Cause: cause}
}

// Timeout is a transient provider error raised by an outbound deadline.
func Timeout(detail string, cause error) *Error {
	return &Error{Kind: KindProvider, Code: CodeTransient, Message: detail, Timeout: true, Cause: cause}
}

func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Cause: cause}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func IsTimeout(err error) bool {
	if e, ok := As(err); ok {
		return e.Timeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderTransient)
}
