package auth

import (
	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/db"
)

// BeginWebAuthnChallenge resolves tokenString to its pre-auth session
// and marks it in-flight, handing the session and user back to the
// webauthn ceremony package so it can generate and store its own
// challenge row. It does not touch WebAuthn-specific state itself;
// that lives entirely in internal/webauthn.
func (m *Machine) BeginWebAuthnChallenge(tokenString string) (*db.PreAuthSession, *db.User, error) {
	session, user, err := m.Resolve(tokenString)
	if err != nil {
		return nil, nil, err
	}
	if session.Method != db.MFAMethodWebAuthn {
		return nil, nil, apierr.New(apierr.ChallengeUnknown, "pre-auth session is not a webauthn challenge")
	}
	if err := m.BeginChallenge(session); err != nil {
		return nil, nil, err
	}
	return session, user, nil
}

// CompleteWebAuthnChallenge is called by internal/webauthn once an
// authentication ceremony has been cryptographically verified. success
// reflects that verification; the machine only owns the shared
// failure-accounting and in-flight state at this layer.
func (m *Machine) CompleteWebAuthnChallenge(session *db.PreAuthSession, success bool) error {
	if !success {
		return m.MarkFailed(session)
	}
	return m.MarkSucceeded(session)
}
