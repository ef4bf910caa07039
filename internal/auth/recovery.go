package auth

import (
	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/db"
)

// VerifyRecoveryCode accepts one of the user's stored recovery codes.
// It is method-agnostic: a recovery code completes the login
// regardless of the account's configured mfa_method, and never
// re-enables MFA by itself (spec.md §4.3).
func (m *Machine) VerifyRecoveryCode(tokenString, code string) (*db.User, error) {
	session, user, err := m.Resolve(tokenString)
	if err != nil {
		return nil, err
	}
	if session.InFlight {
		return nil, apierr.New(apierr.MfaMethodBusy, "another mfa challenge is already in flight")
	}

	if err := m.store.ConsumeRecoveryCode(user.ID, code); err != nil {
		return nil, m.MarkFailed(session)
	}
	if err := m.MarkSucceeded(session); err != nil {
		return nil, err
	}
	return user, nil
}
