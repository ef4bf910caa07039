// Package apierr implements the error-kind taxonomy of spec.md §7.
// It follows the teacher's RecordNotFoundError/DatabaseError split in
// dataoperations.go, generalized into one tagged error type so the
// HTTP layer can map a Kind to a status code without type-switching on
// concrete error structs.
package apierr

import "fmt"

// Kind names one of the error categories spec.md §7 enumerates.
type Kind string

const (
	CredentialInvalid   Kind = "credential_invalid"
	MfaRequired         Kind = "mfa_required"
	MfaMethodBusy       Kind = "mfa_method_busy"
	ChallengeExpired    Kind = "challenge_expired"
	ChallengeUnknown    Kind = "challenge_unknown"
	CounterRegression   Kind = "counter_regression"
	OriginMismatch      Kind = "origin_mismatch"
	CredentialAlreadyRegistered Kind = "credential_already_registered"
	AttestationInvalid  Kind = "attestation_invalid"
	CredentialUnknown   Kind = "credential_unknown"
	TokenExpired        Kind = "token_expired"
	TokenUsed           Kind = "token_used"
	NoAddressAvailable  Kind = "no_address_available"
	PolicyDenied        Kind = "policy_denied"
	GatewayBackpressure Kind = "gateway_backpressure"
	IntegrityViolation  Kind = "integrity_violation"
	NotFound            Kind = "not_found"
	Internal            Kind = "internal"
)

// Error is a public-safe error carrying an internal Cause that is
// logged but never serialized back to a client.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no internal cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error that carries an internal cause, logged but
// never shown to the client.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is allows errors.Is(err, apierr.CredentialInvalid) style checks by
// comparing Kind, since *Error values are never compared by identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind of err, defaulting to Internal when err is
// not an *Error (or is nil, in which case KindOf is meaningless but
// safe to call).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to the status column of spec.md §7's table.
func HTTPStatus(k Kind) int {
	switch k {
	case CredentialInvalid:
		return 401
	case MfaRequired:
		return 200 // returned as a success body with MFA context
	case MfaMethodBusy:
		return 409
	case ChallengeExpired, ChallengeUnknown:
		return 400
	case CounterRegression:
		return 401
	case OriginMismatch, AttestationInvalid:
		return 400
	case CredentialAlreadyRegistered:
		return 409
	case CredentialUnknown:
		return 401
	case TokenExpired, TokenUsed:
		return 410
	case NoAddressAvailable:
		return 507
	case PolicyDenied:
		return 403
	case GatewayBackpressure:
		return 500
	case IntegrityViolation:
		return 500
	case NotFound:
		return 404
	default:
		return 500
	}
}
