package auth

import (
	"time"

	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/crypto"
	"github.com/defguard/core/internal/db"
)

func totpAAD(userID uint) []byte {
	return []byte{
		byte(userID >> 24), byte(userID >> 16), byte(userID >> 8), byte(userID),
	}
}

// VerifyTOTP validates a 6-digit code against session's owning user,
// enforcing the +/-1 step window and the last_totp_step replay guard
// (spec.md §4.3).
func (m *Machine) VerifyTOTP(tokenString, code string) (*db.User, error) {
	session, user, err := m.Resolve(tokenString)
	if err != nil {
		return nil, err
	}
	if session.Method != db.MFAMethodTOTP {
		return nil, apierr.New(apierr.ChallengeUnknown, "pre-auth session is not a totp challenge")
	}
	if session.InFlight {
		return nil, apierr.New(apierr.MfaMethodBusy, "another mfa challenge is already in flight")
	}
	if !user.TOTPEnabled || len(user.TOTPSecret) == 0 {
		return nil, apierr.New(apierr.CredentialInvalid, "totp is not enabled for this user")
	}

	plaintext, err := m.envelope.Open(user.TOTPSecret, totpAAD(user.ID))
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "decrypt totp secret", err)
	}

	now := time.Now()
	step := crypto.CurrentStep(now)
	ok, err := crypto.ValidateTOTP(code, string(plaintext), now)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "validate totp code", err)
	}
	if ok && step == user.LastTOTPStep {
		// Same window as the last successful use: reject as replay.
		ok = false
	}
	if !ok {
		return nil, m.MarkFailed(session)
	}

	user.LastTOTPStep = step
	if err := m.store.UpdateUser(user); err != nil {
		return nil, err
	}
	if err := m.MarkSucceeded(session); err != nil {
		return nil, err
	}
	return user, nil
}
