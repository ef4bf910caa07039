package auth

import (
	"context"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/crypto"
	"github.com/defguard/core/internal/db"
)

// BeginEmailChallenge generates a 6-digit one-time code, stores only
// its hash keyed by the pre-auth nonce, and hands it to the configured
// EmailSender. The plaintext code never touches the return value or a
// log line.
func (m *Machine) BeginEmailChallenge(ctx context.Context, tokenString string) error {
	session, user, err := m.Resolve(tokenString)
	if err != nil {
		return err
	}
	if session.Method != db.MFAMethodEmail {
		return apierr.New(apierr.ChallengeUnknown, "pre-auth session is not an email challenge")
	}
	if !user.EmailMFAEnabled {
		return apierr.New(apierr.CredentialInvalid, "email mfa is not enabled for this user")
	}
	if m.sender == nil {
		return apierr.New(apierr.Internal, "email mfa sender not configured")
	}
	if err := m.BeginChallenge(session); err != nil {
		return err
	}

	code, err := crypto.RandomNumericCode(6)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "generate email code", err)
	}
	challenge := db.EmailMFAChallenge{
		ID:        session.Nonce,
		UserID:    user.ID,
		CodeHash:  crypto.HashEmailCode(code),
		ExpiresAt: time.Now().Add(m.cfg.EmailChallengeTTL),
	}
	if err := m.store.Conn().Where("id = ?", session.Nonce).Delete(&db.EmailMFAChallenge{}).Error; err != nil {
		return wrapGorm(err)
	}
	if err := m.store.Conn().Create(&challenge).Error; err != nil {
		return wrapGorm(err)
	}

	return m.sender.SendMFACode(ctx, user, code)
}

// VerifyEmailCode compares code against the stored hash in constant
// time. It is consumed on first match or after cfg.EmailMaxAttempts
// failures (spec.md §4.3).
func (m *Machine) VerifyEmailCode(tokenString, code string) (*db.User, error) {
	session, user, err := m.Resolve(tokenString)
	if err != nil {
		return nil, err
	}
	if session.Method != db.MFAMethodEmail {
		return nil, apierr.New(apierr.ChallengeUnknown, "pre-auth session is not an email challenge")
	}

	var challenge db.EmailMFAChallenge
	err = m.store.Conn().Transaction(func(tx *gorm.DB) error {
		if err := tx.Set("gorm:query_option", "FOR UPDATE").
			Where("id = ?", session.Nonce).First(&challenge).Error; err != nil {
			return err
		}
		if challenge.Consumed || time.Now().After(challenge.ExpiresAt) {
			return apierr.New(apierr.ChallengeExpired, "email code challenge expired")
		}
		if !crypto.VerifyEmailCode(code, challenge.CodeHash) {
			challenge.Attempts++
			if challenge.Attempts >= m.cfg.EmailMaxAttempts {
				challenge.Consumed = true
			}
			if err := tx.Save(&challenge).Error; err != nil {
				return err
			}
			return apierr.New(apierr.CredentialInvalid, "email code mismatch")
		}
		challenge.Consumed = true
		return tx.Save(&challenge).Error
	})
	if err != nil {
		if apiErr, ok := err.(*apierr.Error); ok {
			switch apiErr.Kind {
			case apierr.ChallengeExpired:
				return nil, apiErr
			case apierr.CredentialInvalid:
				return nil, m.MarkFailed(session)
			}
		}
		if gorm.IsRecordNotFoundError(err) {
			return nil, apierr.New(apierr.ChallengeUnknown, "email challenge not found")
		}
		return nil, wrapGorm(err)
	}

	if err := m.MarkSucceeded(session); err != nil {
		return nil, err
	}
	return user, nil
}
