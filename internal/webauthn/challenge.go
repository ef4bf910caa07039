package webauthn

import (
	"encoding/json"
	"time"

	gowebauthn "github.com/go-webauthn/webauthn/webauthn"
	"github.com/jinzhu/gorm"

	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/crypto"
	"github.com/defguard/core/internal/db"
)

const challengeTTL = 5 * time.Minute

func (c *Ceremony) storeChallenge(userID uint, purpose string, session *gowebauthn.SessionData) (string, error) {
	encoded, err := json.Marshal(session)
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, "marshal webauthn session data", err)
	}
	id, err := crypto.RandomToken(24)
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, "generate webauthn challenge id", err)
	}
	row := db.WebauthnChallenge{
		ID:          id,
		UserID:      userID,
		Purpose:     purpose,
		SessionData: encoded,
		ExpiresAt:   time.Now().Add(challengeTTL),
	}
	if err := c.store.Conn().Create(&row).Error; err != nil {
		return "", apierr.Wrap(apierr.Internal, "persist webauthn challenge", err)
	}
	return id, nil
}

// loadChallenge loads and consumes (single-use) the challenge row,
// enforcing the 5-minute TTL spec.md §4.4 requires.
func (c *Ceremony) loadChallenge(challengeID, purpose string) (*gowebauthn.SessionData, uint, error) {
	var row db.WebauthnChallenge
	err := c.store.Conn().Transaction(func(tx *gorm.DB) error {
		if err := tx.Set("gorm:query_option", "FOR UPDATE").
			Where("id = ?", challengeID).First(&row).Error; err != nil {
			return err
		}
		if row.Consumed {
			return apierr.New(apierr.ChallengeUnknown, "webauthn challenge already consumed")
		}
		if row.Purpose != purpose {
			return apierr.New(apierr.ChallengeUnknown, "webauthn challenge purpose mismatch")
		}
		if time.Now().After(row.ExpiresAt) {
			return apierr.New(apierr.ChallengeExpired, "webauthn challenge expired")
		}
		row.Consumed = true
		return tx.Save(&row).Error
	})
	if err != nil {
		if apiErr, ok := err.(*apierr.Error); ok {
			return nil, 0, apiErr
		}
		if gorm.IsRecordNotFoundError(err) {
			return nil, 0, apierr.New(apierr.ChallengeUnknown, "webauthn challenge not found")
		}
		return nil, 0, apierr.Wrap(apierr.Internal, "load webauthn challenge", err)
	}

	var session gowebauthn.SessionData
	if err := json.Unmarshal(row.SessionData, &session); err != nil {
		return nil, 0, apierr.Wrap(apierr.Internal, "unmarshal webauthn session data", err)
	}
	return &session, row.UserID, nil
}
