// Package auth implements the MFA state machine (C3): the post-password
// step that selects a second factor, issues a pre-authenticated session
// token, and validates TOTP, email-code, WebAuthn, or recovery-code
// responses against it.
//
// The pre-auth token shape (a signed JWT carrying only user_id, method,
// and a nonce) is the Go-native reading of the coroutine-style pending
// state the source models in-process; here it is a row in
// db.PreAuthSession plus a bearer token, so it survives a restart and
// works across replicas.
package auth

import (
	"context"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/crypto"
	"github.com/defguard/core/internal/db"
)

// Config holds the tunables spec.md §4.3 leaves as "(config, default
// N)".
type Config struct {
	AuthSecret        []byte
	PreAuthTTL        time.Duration
	MaxFailures       int
	FailureWindow     time.Duration
	EmailChallengeTTL time.Duration
	EmailMaxAttempts  int
}

// DefaultConfig fills in the defaults spec.md names explicitly.
func DefaultConfig(secret []byte) Config {
	return Config{
		AuthSecret:        secret,
		PreAuthTTL:        5 * time.Minute,
		MaxFailures:       5,
		FailureWindow:     15 * time.Minute,
		EmailChallengeTTL: 5 * time.Minute,
		EmailMaxAttempts:  3,
	}
}

// EmailSender delivers a one-time MFA code out of band. The machine
// never logs or returns the plaintext code to a caller.
type EmailSender interface {
	SendMFACode(ctx context.Context, user *db.User, code string) error
}

// Machine implements C3 over a Store, an Envelope for decrypting MFA
// secret columns, and a Pool for running Argon2id off the request
// goroutine.
type Machine struct {
	store    *db.Store
	envelope *crypto.Envelope
	pool     *crypto.Pool
	sender   EmailSender
	cfg      Config
}

// NewMachine constructs a Machine. sender may be nil if the email MFA
// method is disabled deployment-wide.
func NewMachine(store *db.Store, envelope *crypto.Envelope, pool *crypto.Pool, sender EmailSender, cfg Config) *Machine {
	return &Machine{store: store, envelope: envelope, pool: pool, sender: sender, cfg: cfg}
}

// LoginResult is the outcome of the password step.
type LoginResult struct {
	Authenticated bool
	User          *db.User

	MFARequired bool
	Token       string
	Method      db.MFAMethod
	ExpiresAt   time.Time
}

// Login runs the password step (C2) and, if the account requires a
// second factor, opens a pre-auth session for it (C3). It never
// reveals whether a login was rejected for an unknown user or a wrong
// password.
func (m *Machine) Login(ctx context.Context, login, password, ip string) (*LoginResult, error) {
	user, found, err := m.store.FindUserByLogin(login)
	if err != nil {
		return nil, err
	}

	var storedHash *string
	if found {
		storedHash = user.PasswordHash
	}
	verify, err := m.pool.VerifyPassword(ctx, password, storedHash, crypto.DefaultArgon2Params)
	if err != nil {
		return nil, err
	}

	if !found || !verify.OK || !user.IsActive {
		if found {
			_ = m.store.RecordFailedLogin(user.ID, m.cfg.FailureWindow, time.Now())
		}
		return nil, apierr.New(apierr.CredentialInvalid, "invalid credentials")
	}

	if verify.NeedsRehash {
		if rehashed, herr := crypto.HashPassword(password, crypto.DefaultArgon2Params); herr == nil {
			user.PasswordHash = &rehashed
			_ = m.store.UpdateUser(user)
		}
	}
	if err := m.store.ResetFailedLogin(user.ID); err != nil {
		return nil, err
	}

	if !user.MFAEnabled {
		return &LoginResult{Authenticated: true, User: user}, nil
	}

	if !db.ValidMFAMethodForWrite(user.MFAMethod) || !m.methodEnabled(user) {
		// Open Question 1: a configured-but-disabled method fails closed
		// rather than silently falling back to another enabled method.
		return nil, apierr.New(apierr.CredentialInvalid, "mfa method unavailable")
	}

	nonce, err := crypto.RandomToken(24)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "generate mfa nonce", err)
	}
	now := time.Now()
	expiresAt := now.Add(m.cfg.PreAuthTTL)
	session := &db.PreAuthSession{
		Nonce:     nonce,
		UserID:    user.ID,
		Method:    user.MFAMethod,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		ClientIP:  ip,
	}
	if err := m.store.Conn().Create(session).Error; err != nil {
		return nil, apierr.Wrap(apierr.Internal, "create pre-auth session", err)
	}

	token, err := m.issuePreAuthToken(user.ID, user.MFAMethod, nonce, expiresAt)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		MFARequired: true,
		Token:       token,
		Method:      user.MFAMethod,
		ExpiresAt:   expiresAt,
	}, nil
}

// methodEnabled reports whether the user's chosen mfa_method currently
// has a live credential backing it.
func (m *Machine) methodEnabled(user *db.User) bool {
	if user.MFAMethod == db.MFAMethodWebAuthn {
		passkeys, err := m.store.PasskeysForUser(user.ID)
		return err == nil && len(passkeys) > 0
	}
	return user.HasMFAMethodEnabled(user.MFAMethod, 0)
}

// wrapGorm mirrors the Store package's wrapPackageError for the
// transactions this package opens directly against Conn().
func wrapGorm(err error) error {
	if err == nil {
		return nil
	}
	if gorm.IsRecordNotFoundError(err) {
		return apierr.Wrap(apierr.NotFound, "record not found", err)
	}
	return apierr.Wrap(apierr.IntegrityViolation, "database constraint failure", err)
}
