package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/defguard/core/internal/db"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := db.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := db.Migrate(store.Conn()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	hashKey := []byte("01234567890123456789012345678901")
	blockKey := []byte("0123456789012345")
	cfg := DefaultConfig(hashKey, blockKey)
	cfg.Secure = false
	return NewManager(store, cfg)
}

func TestCreateEncodeVerifyRoundTrip(t *testing.T) {
	m := newTestManager(t)
	user := &db.User{Username: "alice"}
	user.ID = 1

	sess, err := m.Create(user, true, "127.0.0.1", "fingerprint")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	encoded, err := m.Encode(sess)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	verified, err := m.Verify(encoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.ID != sess.ID || verified.UserID != user.ID {
		t.Fatalf("expected verified session to match created session")
	}
}

func TestVerifyRejectsTamperedCookie(t *testing.T) {
	m := newTestManager(t)
	user := &db.User{Username: "alice"}
	user.ID = 1
	sess, err := m.Create(user, true, "127.0.0.1", "fingerprint")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	encoded, err := m.Encode(sess)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	tampered := encoded + "x"
	if _, err := m.Verify(tampered); err == nil {
		t.Fatalf("expected tampered cookie to fail verification")
	}
}

func TestVerifyRejectsRevokedSession(t *testing.T) {
	m := newTestManager(t)
	user := &db.User{Username: "alice"}
	user.ID = 1
	sess, err := m.Create(user, true, "127.0.0.1", "fingerprint")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	encoded, err := m.Encode(sess)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := m.Revoke(sess); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := m.Verify(encoded); err == nil {
		t.Fatalf("expected revoked session to fail verification")
	}
}

func TestElevateAdminRequiresMFAVerified(t *testing.T) {
	m := newTestManager(t)
	user := &db.User{Username: "alice"}
	user.ID = 1
	sess, err := m.Create(user, false, "127.0.0.1", "fingerprint")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.ElevateAdmin(sess, true); err == nil {
		t.Fatalf("expected elevation to fail without mfa_verified")
	}
}

func TestElevateAdminRequiresGroupMembership(t *testing.T) {
	m := newTestManager(t)
	user := &db.User{Username: "alice"}
	user.ID = 1
	sess, err := m.Create(user, true, "127.0.0.1", "fingerprint")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.ElevateAdmin(sess, false); err == nil {
		t.Fatalf("expected elevation to fail for a non-admin-group user")
	}
	if err := m.ElevateAdmin(sess, true); err != nil {
		t.Fatalf("ElevateAdmin: %v", err)
	}
	if !sess.AdminElevated {
		t.Fatalf("expected AdminElevated to be set")
	}
}

func TestLogoutRevokesAndClearsCookies(t *testing.T) {
	m := newTestManager(t)
	user := &db.User{Username: "alice"}
	user.ID = 1
	sess, err := m.Create(user, true, "127.0.0.1", "fingerprint")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w := httptest.NewRecorder()
	if err := m.Logout(w, sess); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	resp := w.Result()
	var cleared int
	for _, c := range resp.Cookies() {
		if (c.Name == CookieName || c.Name == RefreshCookieName) && c.MaxAge < 0 {
			cleared++
		}
	}
	if cleared != 2 {
		t.Fatalf("expected both cookies to be cleared, got %d", cleared)
	}
}

func TestSetCookieAttributes(t *testing.T) {
	m := newTestManager(t)
	user := &db.User{Username: "alice"}
	user.ID = 1
	sess, err := m.Create(user, true, "127.0.0.1", "fingerprint")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w := httptest.NewRecorder()
	if err := m.SetCookie(w, sess); err != nil {
		t.Fatalf("SetCookie: %v", err)
	}
	resp := w.Result()
	var found *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == CookieName {
			found = c
		}
	}
	if found == nil {
		t.Fatalf("expected session cookie to be set")
	}
	if !found.HttpOnly || found.SameSite != http.SameSiteLaxMode {
		t.Fatalf("expected HttpOnly and SameSite=Lax, got %+v", found)
	}
}

func TestCreateSetsExpiry(t *testing.T) {
	m := newTestManager(t)
	user := &db.User{Username: "alice"}
	user.ID = 1
	before := time.Now()
	sess, err := m.Create(user, true, "127.0.0.1", "fingerprint")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !sess.ExpiresAt.After(before) {
		t.Fatalf("expected ExpiresAt to be in the future")
	}
}
