package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jinzhu/gorm"

	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/db"
)

// preAuthClaims is the pre-auth JWT payload: user_id, chosen method and
// expiry, plus the nonce that names the PreAuthSession row.
type preAuthClaims struct {
	UserID uint   `json:"user_id"`
	Method string `json:"method"`
	Nonce  string `json:"nonce"`
	jwt.RegisteredClaims
}

func (m *Machine) issuePreAuthToken(userID uint, method db.MFAMethod, nonce string, expiresAt time.Time) (string, error) {
	claims := preAuthClaims{
		UserID: userID,
		Method: string(method),
		Nonce:  nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.cfg.AuthSecret)
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, "sign pre-auth token", err)
	}
	return signed, nil
}

func (m *Machine) parsePreAuthToken(tokenString string) (*preAuthClaims, error) {
	claims := &preAuthClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.cfg.AuthSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, apierr.Wrap(apierr.ChallengeExpired, "pre-auth token invalid or expired", err)
	}
	return claims, nil
}

// Resolve loads and validates the PreAuthSession a pre-auth token
// names, returning the session row and its owning user. It does not
// itself check which method is being attempted; callers that are
// method-specific (TOTP, email) check session.Method themselves.
// Recovery-code verification is method-agnostic by design (spec.md
// §4.3: "a recovery code never re-enables MFA by itself — it completes
// this one login") so it calls Resolve directly.
func (m *Machine) Resolve(tokenString string) (*db.PreAuthSession, *db.User, error) {
	claims, err := m.parsePreAuthToken(tokenString)
	if err != nil {
		return nil, nil, err
	}

	var session db.PreAuthSession
	if err := m.store.Conn().Where("nonce = ?", claims.Nonce).First(&session).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, nil, apierr.New(apierr.ChallengeUnknown, "pre-auth session not found")
		}
		return nil, nil, wrapGorm(err)
	}
	if session.Failed {
		return nil, nil, apierr.New(apierr.ChallengeExpired, "pre-auth session already failed")
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, nil, apierr.New(apierr.ChallengeExpired, "pre-auth session expired")
	}

	user, err := m.store.GetUser(session.UserID)
	if err != nil {
		return nil, nil, err
	}
	return &session, user, nil
}

// BeginChallenge marks session in-flight for a begin/response method
// (email, WebAuthn). It fails with MfaMethodBusy if any challenge,
// of the same method or another, is already open under this token (spec.md §4.3: "at most
// one method may be in-flight per pre-auth token").
func (m *Machine) BeginChallenge(session *db.PreAuthSession) error {
	if session.InFlight {
		return apierr.New(apierr.MfaMethodBusy, "another mfa challenge is already in flight")
	}
	return wrapGorm(m.store.Conn().Model(&db.PreAuthSession{}).
		Where("nonce = ?", session.Nonce).
		Update("in_flight", true).Error)
}

// MarkSucceeded resolves the pre-auth session into the terminal
// Authenticated state by deleting its row: there is nothing further to
// validate against this nonce once a method has completed.
func (m *Machine) MarkSucceeded(session *db.PreAuthSession) error {
	return wrapGorm(m.store.Conn().Delete(&db.PreAuthSession{}, "nonce = ?", session.Nonce).Error)
}

// MarkFailed records one failed attempt against the shared per-session
// counter. Once the counter reaches cfg.MaxFailures the session
// transitions to Failed and every subsequent Resolve on this token
// reports ChallengeExpired, per spec.md §4.3's failure-accounting rule.
func (m *Machine) MarkFailed(session *db.PreAuthSession) error {
	terminal := false
	err := m.store.Conn().Transaction(func(tx *gorm.DB) error {
		var s db.PreAuthSession
		if err := tx.Set("gorm:query_option", "FOR UPDATE").
			Where("nonce = ?", session.Nonce).First(&s).Error; err != nil {
			return err
		}
		s.FailureCount++
		s.InFlight = false
		if s.FailureCount >= m.cfg.MaxFailures {
			s.Failed = true
		}
		terminal = s.Failed
		return tx.Save(&s).Error
	})
	if err != nil {
		return wrapGorm(err)
	}
	if terminal {
		return apierr.New(apierr.CredentialInvalid, "mfa failed too many times, session terminated")
	}
	return apierr.New(apierr.CredentialInvalid, "mfa verification failed")
}
