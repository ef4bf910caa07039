package session

import (
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/defguard/core/internal/apierr"
)

// refreshValues is the gorilla/sessions key set for the LDAP-bound
// refresh cookie. It carries only what's needed to re-establish an
// LDAP bind without asking for the password again; the session itself
// still goes through Create/Verify like any other login.
const (
	refreshKeyUserID = "user_id"
	refreshKeyBindDN = "ldap_bind_dn"
)

// SetRefreshCookie writes the optional LDAP-bound refresh cookie
// alongside the private session cookie, for accounts whose first
// factor is an LDAP bind rather than a local password.
func (m *Manager) SetRefreshCookie(w http.ResponseWriter, r *http.Request, userID uint, bindDN string) error {
	s, err := m.refresh.Get(r, RefreshCookieName)
	if err != nil {
		// A tampered or stale cookie decodes to a fresh session by
		// gorilla/sessions' own contract; proceed with that fresh one.
		s, _ = m.refresh.New(r, RefreshCookieName)
	}
	s.Values[refreshKeyUserID] = userID
	s.Values[refreshKeyBindDN] = bindDN
	s.Options = refreshCookieOptions(m.cfg)
	if err := s.Save(r, w); err != nil {
		return apierr.Wrap(apierr.Internal, "persist refresh cookie", err)
	}
	return nil
}

// ReadRefreshCookie returns the bound user id and LDAP DN, if present.
func (m *Manager) ReadRefreshCookie(r *http.Request) (uint, string, bool) {
	s, err := m.refresh.Get(r, RefreshCookieName)
	if err != nil {
		return 0, "", false
	}
	userID, ok1 := s.Values[refreshKeyUserID].(uint)
	bindDN, ok2 := s.Values[refreshKeyBindDN].(string)
	if !ok1 || !ok2 {
		return 0, "", false
	}
	return userID, bindDN, true
}

func refreshCookieOptions(cfg Config) *sessions.Options {
	return &sessions.Options{
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   int(cfg.SessionTTL.Seconds()),
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *Manager) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.cfg.Domain,
		MaxAge:   -1,
		Secure:   m.cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
