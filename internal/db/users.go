package db

import (
	"strings"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/defguard/core/internal/apierr"
)

// FindUserByLogin matches username OR email (case-insensitive) OR
// phone, per spec.md §4.1. It never errors on absence: the second
// return value reports whether a user was found.
func (s *Store) FindUserByLogin(login string) (*User, bool, error) {
	var user User
	err := s.conn.
		Where("username = ? OR LOWER(email) = LOWER(?) OR phone = ?", login, login, login).
		First(&user).Error
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, wrapPackageError(err)
	}
	return &user, true, nil
}

// FindOrCreateByOpenIDSub loads the user bound to an OpenID-Connect
// subject, creating one on first sign-in, mirroring the teacher's
// RegisterUser FirstOrCreate idiom keyed on the OAuth provider's user
// id instead of AuthPlatformUserID/AuthPlatform.
func (s *Store) FindOrCreateByOpenIDSub(sub, email, username string) (*User, error) {
	var user User
	err := s.conn.Where("open_id_sub = ?", sub).First(&user).Error
	switch {
	case gorm.IsRecordNotFoundError(err):
		user = User{OpenIDSub: &sub, Email: email, Username: username, IsActive: true}
		if err := s.conn.Create(&user).Error; err != nil {
			return nil, wrapPackageError(err)
		}
	case err != nil:
		return nil, wrapPackageError(err)
	default:
		user.Email = email
		if err := s.conn.Save(&user).Error; err != nil {
			return nil, wrapPackageError(err)
		}
	}
	return &user, nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(userID uint) (*User, error) {
	var user User
	if err := s.conn.First(&user, userID).Error; err != nil {
		return nil, wrapPackageError(err)
	}
	return &user, nil
}

// CreateUser persists a new user with IsActive as the caller set it
// (false unless set). Used by the enrollment
// flow (C6) and admin-provisioning paths.
func (s *Store) CreateUser(user *User) error {
	return wrapPackageError(s.conn.Create(user).Error)
}

// UpdateUser saves the full row. Callers are expected to have loaded
// the row first; this is not a partial/patch update.
func (s *Store) UpdateUser(user *User) error {
	return wrapPackageError(s.conn.Save(user).Error)
}

// DeleteUser removes a user and its owned rows. Passkeys and
// authentication keys are removed first so no orphaned FK rows
// survive a partial failure outside the transaction.
func (s *Store) DeleteUser(userID uint) error {
	return wrapPackageError(s.conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&Passkey{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&AuthenticationKey{}).Error; err != nil {
			return err
		}
		return tx.Delete(&User{}, userID).Error
	}))
}

// RecordFailedLogin increments the sliding-window failure counter
// exposed to C3. It does not lock the account itself (spec.md §4.1) —
// it only maintains the count the MFA state machine reads.
func (s *Store) RecordFailedLogin(userID uint, window time.Duration, now time.Time) error {
	return wrapPackageError(s.conn.Transaction(func(tx *gorm.DB) error {
		var user User
		if err := tx.Set("gorm:query_option", "FOR UPDATE").First(&user, userID).Error; err != nil {
			return err
		}
		if now.Sub(user.FailedLoginWindowAt) > window {
			user.FailedLoginCount = 0
			user.FailedLoginWindowAt = now
		}
		user.FailedLoginCount++
		return tx.Save(&user).Error
	}))
}

// ResetFailedLogin clears the counter on a successful authentication.
func (s *Store) ResetFailedLogin(userID uint) error {
	return wrapPackageError(s.conn.Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{"failed_login_count": 0}).Error)
}

// ConsumeRecoveryCode atomically removes code from the user's
// recovery-code list if present, under a row lock (spec.md §9, Open
// Question 3: the spec requires this even though the source left the
// race unordered). It returns apierr.CredentialInvalid if the code is
// not present (already used, or never existed).
func (s *Store) ConsumeRecoveryCode(userID uint, code string) error {
	return wrapPackageError(s.conn.Transaction(func(tx *gorm.DB) error {
		var user User
		if err := tx.Set("gorm:query_option", "FOR UPDATE").First(&user, userID).Error; err != nil {
			return err
		}
		remaining, ok := user.RecoveryCodes.Remove(code)
		if !ok {
			return apierr.New(apierr.CredentialInvalid, "recovery code not recognized")
		}
		user.RecoveryCodes = remaining
		return tx.Save(&user).Error
	}))
}

// CreatePasskey persists a newly registered WebAuthn credential.
// CredentialAlreadyRegistered is surfaced via the unique index on
// CredentialID: a duplicate insert returns apierr.IntegrityViolation,
// which the webauthn ceremony layer translates.
func (s *Store) CreatePasskey(p *Passkey) error {
	return wrapPackageError(s.conn.Create(p).Error)
}

// PasskeysForUser loads every passkey owned by userID.
func (s *Store) PasskeysForUser(userID uint) ([]Passkey, error) {
	var out []Passkey
	if err := s.conn.Where("user_id = ?", userID).Find(&out).Error; err != nil {
		return nil, wrapPackageError(err)
	}
	return out, nil
}

// PasskeyByCredentialID looks up a passkey for the authenticate
// ceremony.
func (s *Store) PasskeyByCredentialID(credentialID []byte) (*Passkey, error) {
	var p Passkey
	if err := s.conn.Where("credential_id = ?", credentialID).First(&p).Error; err != nil {
		return nil, wrapPackageError(err)
	}
	return &p, nil
}

// UpdatePasskeyCounter persists a new counter value after a
// successful authentication ceremony, or flags the credential on a
// CounterRegression without advancing the stored counter.
func (s *Store) UpdatePasskeyCounter(id uint, counter uint32, flagged bool) error {
	updates := map[string]interface{}{"flagged": flagged}
	if !flagged {
		updates["counter"] = counter
	}
	return wrapPackageError(s.conn.Model(&Passkey{}).Where("id = ?", id).Updates(updates).Error)
}

// CreateAuthenticationKey persists an SSH/GPG key.
func (s *Store) CreateAuthenticationKey(k *AuthenticationKey) error {
	return wrapPackageError(s.conn.Create(k).Error)
}

// AuthenticationKeysForUser loads keys owned by userID, optionally
// filtered by type — mirrors original_source's
// AuthenticationKey::find_by_user_id.
func (s *Store) AuthenticationKeysForUser(userID uint, keyType *AuthenticationKeyType) ([]AuthenticationKey, error) {
	query := s.conn.Where("user_id = ?", userID)
	if keyType != nil {
		query = query.Where("key_type = ?", *keyType)
	}
	var out []AuthenticationKey
	if err := query.Find(&out).Error; err != nil {
		return nil, wrapPackageError(err)
	}
	return out, nil
}

// normalizeLogin trims surrounding whitespace from a login string; it
// does not change its case.
func normalizeLogin(login string) string {
	return strings.TrimSpace(login)
}
