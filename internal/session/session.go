// Package session implements the Session Manager (C5): signed session
// cookies, admin elevation, revocation, and the LDAP-bound refresh
// cookie.
//
// The session cookie uses gorilla/securecookie directly for its
// authenticated-encryption codec, since spec.md §4.5 asks for
// "symmetric authenticated encryption" over a flat struct, exactly
// securecookie.New(hashKey, blockKey).Encode/Decode's contract. The
// refresh cookie keeps gorilla/sessions' store abstraction, matching
// the teacher's own use of that package for its OAuth session cookie
// in auth.go.
package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/jinzhu/gorm"

	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/db"
)

const (
	// CookieName is the private, signed session cookie.
	CookieName = "defguard_session"
	// RefreshCookieName carries the LDAP-bound refresh token.
	RefreshCookieName = "defguard_refresh"
)

// Config holds the cookie-signing keys and policy knobs spec.md §4.5
// requires.
type Config struct {
	HashKey    []byte
	BlockKey   []byte
	SessionTTL time.Duration
	Secure     bool // false only for local development
	Domain     string
}

// DefaultConfig fills in the session lifetime spec.md leaves implicit
// (a full workday) and turns on Secure, the safe default.
func DefaultConfig(hashKey, blockKey []byte) Config {
	return Config{
		HashKey:    hashKey,
		BlockKey:   blockKey,
		SessionTTL: 8 * time.Hour,
		Secure:     true,
	}
}

// cookieValue is the flat struct spec.md §4.5 names verbatim as the
// thing the cookie's AEAD envelope protects.
type cookieValue struct {
	SessionID     string
	UserID        uint
	ExpiresAt     time.Time
	MFAVerified   bool
	AdminElevated bool
}

// Manager implements C5 over a *db.Store for session/revocation
// persistence and a securecookie codec for the private cookie.
type Manager struct {
	store   *db.Store
	codec   *securecookie.SecureCookie
	refresh *sessions.CookieStore
	cfg     Config
}

// NewManager constructs a Manager. HashKey must be 32 or 64 bytes and
// BlockKey 16, 24, or 32 bytes, per securecookie's AES-CTR/HMAC
// requirements.
func NewManager(store *db.Store, cfg Config) *Manager {
	codec := securecookie.New(cfg.HashKey, cfg.BlockKey)
	codec.MaxAge(int(cfg.SessionTTL.Seconds()))
	return &Manager{
		store:   store,
		codec:   codec,
		refresh: sessions.NewCookieStore(cfg.HashKey, cfg.BlockKey),
		cfg:     cfg,
	}
}

// GothicStore exposes the refresh cookie store's underlying
// gorilla/sessions.Store for gothic.Store, so the OpenID-Connect
// login flow's provider-state cookie is signed with the same keys as
// everything else this package manages.
func (m *Manager) GothicStore() sessions.Store {
	return m.refresh
}

// Create allocates a session row for user, with mfa_verified set iff
// the login already completed its MFA step (mfaVerified true) or MFA was
// never required for this account.
func (m *Manager) Create(user *db.User, mfaVerified bool, ip, deviceFingerprint string) (*db.Session, error) {
	now := time.Now()
	sess := &db.Session{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(m.cfg.SessionTTL),
		MFAVerified:       mfaVerified,
		IP:                ip,
		DeviceFingerprint: deviceFingerprint,
	}
	if err := m.store.Conn().Create(sess).Error; err != nil {
		return nil, apierr.Wrap(apierr.Internal, "create session", err)
	}
	return sess, nil
}

// Encode produces the signed cookie value for sess.
func (m *Manager) Encode(sess *db.Session) (string, error) {
	value := cookieValue{
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		ExpiresAt:     sess.ExpiresAt,
		MFAVerified:   sess.MFAVerified,
		AdminElevated: sess.AdminElevated,
	}
	encoded, err := m.codec.Encode(CookieName, value)
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, "encode session cookie", err)
	}
	return encoded, nil
}

// SetCookie writes the session cookie with the security attributes
// spec.md §4.5 mandates: SameSite=Lax, HttpOnly, Secure (configurable
// for dev), and a conservative path.
func (m *Manager) SetCookie(w http.ResponseWriter, sess *db.Session) error {
	encoded, err := m.Encode(sess)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     "/",
		Domain:   m.cfg.Domain,
		Expires:  sess.ExpiresAt,
		Secure:   m.cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearCookie overwrites the session cookie with an already-expired
// empty value.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.cfg.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   m.cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Verify decodes cookieRaw, checks expiry and the revocation list, and
// loads the current session row. It never trusts the cookie's own
// mfa_verified/admin_elevated fields over the database: those flags
// are re-read fresh so a revoked elevation cannot survive in a stale
// cookie.
func (m *Manager) Verify(cookieRaw string) (*db.Session, error) {
	var value cookieValue
	if err := m.codec.Decode(CookieName, cookieRaw, &value); err != nil {
		return nil, apierr.Wrap(apierr.CredentialInvalid, "session cookie signature invalid", err)
	}

	revoked, err := m.isRevoked(value.SessionID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, apierr.New(apierr.CredentialInvalid, "session has been revoked")
	}

	var sess db.Session
	if err := m.store.Conn().First(&sess, "id = ?", value.SessionID).Error; err != nil {
		return nil, apierr.Wrap(apierr.CredentialInvalid, "session not found", err)
	}
	if time.Now().After(sess.ExpiresAt) {
		return nil, apierr.New(apierr.CredentialInvalid, "session expired")
	}
	return &sess, nil
}

// ElevateAdmin promotes sess to admin_elevated, requiring the caller
// to have already confirmed group membership and mfa_verified (spec.md
// §4.5). The promotion flag is stored server-side so it cannot be
// forged by replaying an old cookie.
func (m *Manager) ElevateAdmin(sess *db.Session, isAdminGroupMember bool) error {
	if !isAdminGroupMember {
		return apierr.New(apierr.PolicyDenied, "user is not a member of the admin group")
	}
	if !sess.MFAVerified {
		return apierr.New(apierr.PolicyDenied, "admin elevation requires a completed mfa step")
	}
	sess.AdminElevated = true
	if err := m.store.Conn().Save(sess).Error; err != nil {
		return apierr.Wrap(apierr.Internal, "persist admin elevation", err)
	}
	return nil
}

// Revoke inserts sessionID into the revocation list, with a TTL equal
// to the session's remaining lifetime so the row can be garbage
// collected once it would have expired anyway.
func (m *Manager) Revoke(sess *db.Session) error {
	row := db.RevokedSession{SessionID: sess.ID, ExpiresAt: sess.ExpiresAt}
	if err := m.store.Conn().Create(&row).Error; err != nil {
		return apierr.Wrap(apierr.Internal, "revoke session", err)
	}
	return nil
}

// Logout clears both cookies and revokes the session.
func (m *Manager) Logout(w http.ResponseWriter, sess *db.Session) error {
	if err := m.Revoke(sess); err != nil {
		return err
	}
	m.ClearCookie(w)
	m.clearRefreshCookie(w)
	return nil
}

func (m *Manager) isRevoked(sessionID string) (bool, error) {
	var row db.RevokedSession
	err := m.store.Conn().Where("session_id = ? AND expires_at > ?", sessionID, time.Now()).First(&row).Error
	if err == nil {
		return true, nil
	}
	if gorm.IsRecordNotFoundError(err) {
		return false, nil
	}
	return false, apierr.Wrap(apierr.Internal, "check session revocation", err)
}
