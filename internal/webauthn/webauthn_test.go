package webauthn

import (
	"testing"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/defguard/core/internal/db"
)

func TestCredentialUserWebAuthnID(t *testing.T) {
	user := &db.User{Username: "alice"}
	user.ID = 42
	cu := &credentialUser{user: user}
	if string(cu.WebAuthnID()) != "42" {
		t.Fatalf("expected WebAuthnID to encode the numeric id, got %q", cu.WebAuthnID())
	}
	if cu.WebAuthnName() != "alice" {
		t.Fatalf("expected WebAuthnName to be the username")
	}
}

func TestCredentialUserDisplayNameFallsBackToUsername(t *testing.T) {
	user := &db.User{Username: "alice"}
	cu := &credentialUser{user: user}
	if cu.WebAuthnDisplayName() != "alice" {
		t.Fatalf("expected display name to fall back to username when no name is set")
	}
	user.FirstName = "Alice"
	user.LastName = "Liddell"
	if cu.WebAuthnDisplayName() != "Alice Liddell" {
		t.Fatalf("expected display name to combine first and last name")
	}
}

func TestTransportsRoundTrip(t *testing.T) {
	transports := []protocol.AuthenticatorTransport{protocol.USB, protocol.NFC}
	csv := joinTransports(transports)
	parsed := parseTransports(csv)
	if len(parsed) != 2 || parsed[0] != protocol.USB || parsed[1] != protocol.NFC {
		t.Fatalf("expected transports to round-trip, got %v", parsed)
	}
}

func newTestCeremonyStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := db.Migrate(store.Conn()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func TestChallengeStoreAndLoadRoundTrip(t *testing.T) {
	store := newTestCeremonyStore(t)
	c := &Ceremony{store: store}

	id, err := c.storeChallenge(7, "register", nil)
	if err != nil {
		t.Fatalf("storeChallenge: %v", err)
	}

	if _, _, err := c.loadChallenge(id, "register"); err != nil {
		t.Fatalf("loadChallenge: %v", err)
	}

	if _, _, err := c.loadChallenge(id, "register"); err == nil {
		t.Fatalf("expected a second load of a single-use challenge to fail")
	}
}

func TestChallengeRejectsWrongPurpose(t *testing.T) {
	store := newTestCeremonyStore(t)
	c := &Ceremony{store: store}

	id, err := c.storeChallenge(7, "register", nil)
	if err != nil {
		t.Fatalf("storeChallenge: %v", err)
	}
	if _, _, err := c.loadChallenge(id, "authenticate"); err == nil {
		t.Fatalf("expected purpose mismatch to fail")
	}
}
