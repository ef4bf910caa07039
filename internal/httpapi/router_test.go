package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/defguard/core/internal/auth"
	"github.com/defguard/core/internal/crypto"
	"github.com/defguard/core/internal/db"
	"github.com/defguard/core/internal/enrollment"
	"github.com/defguard/core/internal/gateway"
	"github.com/defguard/core/internal/httpapi"
	"github.com/defguard/core/internal/network"
	"github.com/defguard/core/internal/session"
	"github.com/defguard/core/internal/webauthn"
)

func newTestDeps(t *testing.T) *httpapi.Deps {
	t.Helper()
	store, err := db.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := db.Migrate(store.Conn()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	envelope, err := crypto.NewEnvelope([]byte("test-secret-key"))
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	pool := crypto.NewPool(1)
	machine := auth.NewMachine(store, envelope, pool, nil, auth.DefaultConfig([]byte("test-auth-secret")))

	waCeremony, err := webauthn.NewCeremony(webauthn.Config{
		RPID:          "localhost",
		RPDisplayName: "test",
		RPOrigins:     []string{"http://localhost"},
	}, store, machine)
	if err != nil {
		t.Fatalf("new ceremony: %v", err)
	}

	allocator := network.NewAllocator(store)
	hub := gateway.NewHub(gateway.NewStoreSecretProvider(store), 8)
	notifier := gateway.NewNotifier(hub)
	enrollmentSvc := enrollment.NewService(store, allocator, notifier)

	sessionMgr := session.NewManager(store, session.Config{
		HashKey:    []byte(strings.Repeat("a", 32)),
		BlockKey:   []byte(strings.Repeat("b", 16)),
		SessionTTL: 8 * time.Hour,
		Secure:     false,
	})

	return &httpapi.Deps{
		Store:      store,
		Machine:    machine,
		Sessions:   sessionMgr,
		WebAuthn:   waCeremony,
		Enrollment: enrollmentSvc,
		Allocator:  allocator,
		Gateway:    hub,
		Config: httpapi.Config{
			IsDebug:        true,
			AdminGroupName: db.AdminGroupName,
			AuthRateLimit:  1000,
			AuthRateBurst:  1000,
		},
	}
}

func TestProtectedRoutesRejectMissingSession(t *testing.T) {
	deps := newTestDeps(t)
	router := httpapi.Router(deps)

	for _, path := range []string{"/api/user/me", "/api/device"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want %d", path, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	deps := newTestDeps(t)
	router := httpapi.Router(deps)

	body := strings.NewReader(`{"username":"nobody","password":"wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusUnauthorized, w.Body.String())
	}
}

func TestLoginSucceedsWithoutMFA(t *testing.T) {
	deps := newTestDeps(t)
	router := httpapi.Router(deps)

	hash, err := crypto.HashPassword("correct horse battery staple", crypto.DefaultArgon2Params)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &db.User{Username: "alice", Email: "alice@example.com", PasswordHash: &hash, IsActive: true}
	if err := deps.Store.CreateUser(user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	body := strings.NewReader(`{"username":"alice","password":"correct horse battery staple"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := resp["user"]; !ok {
		t.Fatalf("response missing user field: %s", w.Body.String())
	}
	if len(w.Result().Cookies()) == 0 {
		t.Fatal("expected a session cookie to be set")
	}
}
