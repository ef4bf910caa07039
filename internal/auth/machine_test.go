package auth

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/defguard/core/internal/crypto"
	"github.com/defguard/core/internal/db"
)

func newTestStore(t *testing.T) *db.Store {
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

func newTestMachine(t *testing.T, store *db.Store, sender EmailSender) (*Machine, *crypto.Envelope) {
	t.Helper()
	env, err := crypto.NewEnvelope([]byte("test-only-secret-key-long-enough"))
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	pool := crypto.NewPool(2)
	cfg := DefaultConfig([]byte("test-only-auth-secret"))
	return NewMachine(store, env, pool, sender, cfg), env
}

func createUser(t *testing.T, store *db.Store, password string) *db.User {
	t.Helper()
	hash, err := crypto.HashPassword(password, crypto.DefaultArgon2Params)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := &db.User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: &hash,
		IsActive:     true,
	}
	if err := store.CreateUser(user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func TestLoginNoMFASucceeds(t *testing.T) {
	store := newTestStore(t)
	machine, _ := newTestMachine(t, store, nil)
	createUser(t, store, "hunter2")

	result, err := machine.Login(context.Background(), "alice", "hunter2", "127.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !result.Authenticated || result.MFARequired {
		t.Fatalf("expected immediate authentication, got %+v", result)
	}
}

func TestLoginWrongPasswordFails(t *testing.T) {
	store := newTestStore(t)
	machine, _ := newTestMachine(t, store, nil)
	createUser(t, store, "hunter2")

	_, err := machine.Login(context.Background(), "alice", "wrong", "127.0.0.1")
	if err == nil {
		t.Fatalf("expected wrong password to fail")
	}

	reloaded, _, err := store.FindUserByLogin("alice")
	if err != nil {
		t.Fatalf("FindUserByLogin: %v", err)
	}
	_ = reloaded
}

func TestLoginUnknownUserFailsLikeWrongPassword(t *testing.T) {
	store := newTestStore(t)
	machine, _ := newTestMachine(t, store, nil)

	_, err := machine.Login(context.Background(), "nobody", "whatever", "127.0.0.1")
	if err == nil {
		t.Fatalf("expected unknown user to fail credential check")
	}
}

func TestLoginWithTOTPRequiresMFAThenVerifies(t *testing.T) {
	store := newTestStore(t)
	machine, env := newTestMachine(t, store, nil)
	user := createUser(t, store, "hunter2")

	secret := "JBSWY3DPEHPK3PXP"
	sealed, err := env.Seal([]byte(secret), totpAAD(user.ID))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	user.TOTPEnabled = true
	user.TOTPSecret = sealed
	user.MFAEnabled = true
	user.MFAMethod = db.MFAMethodTOTP
	if err := store.UpdateUser(user); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	result, err := machine.Login(context.Background(), "alice", "hunter2", "127.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !result.MFARequired || result.Method != db.MFAMethodTOTP {
		t.Fatalf("expected mfa_required totp, got %+v", result)
	}

	now := time.Now()
	code, err := totp.GenerateCode(secret, now)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	authed, err := machine.VerifyTOTP(result.Token, code)
	if err != nil {
		t.Fatalf("VerifyTOTP: %v", err)
	}
	if authed.ID != user.ID {
		t.Fatalf("expected to authenticate as the same user")
	}

	if _, err := machine.VerifyTOTP(result.Token, code); err == nil {
		t.Fatalf("expected pre-auth session to be consumed after success")
	}
}

func TestVerifyTOTPRejectsReplayWithinSameStep(t *testing.T) {
	store := newTestStore(t)
	machine, env := newTestMachine(t, store, nil)
	user := createUser(t, store, "hunter2")

	secret := "JBSWY3DPEHPK3PXP"
	sealed, err := env.Seal([]byte(secret), totpAAD(user.ID))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	user.TOTPEnabled = true
	user.TOTPSecret = sealed
	user.MFAEnabled = true
	user.MFAMethod = db.MFAMethodTOTP
	if err := store.UpdateUser(user); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	user.LastTOTPStep = crypto.CurrentStep(time.Now())
	if err := store.UpdateUser(user); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	result, err := machine.Login(context.Background(), "alice", "hunter2", "127.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	now := time.Now()
	code, err := totp.GenerateCode(secret, now)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if _, err := machine.VerifyTOTP(result.Token, code); err == nil {
		t.Fatalf("expected replay within the same step to be rejected")
	}
}

func TestVerifyRecoveryCodeConsumesCodeOnce(t *testing.T) {
	store := newTestStore(t)
	machine, _ := newTestMachine(t, store, nil)
	user := createUser(t, store, "hunter2")

	user.MFAEnabled = true
	user.MFAMethod = db.MFAMethodTOTP
	user.TOTPEnabled = true
	user.TOTPSecret = []byte("placeholder")
	user.RecoveryCodes = db.RecoveryCodes{"code-one", "code-two"}
	if err := store.UpdateUser(user); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	result, err := machine.Login(context.Background(), "alice", "hunter2", "127.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	authed, err := machine.VerifyRecoveryCode(result.Token, "code-one")
	if err != nil {
		t.Fatalf("VerifyRecoveryCode: %v", err)
	}
	if authed.ID != user.ID {
		t.Fatalf("expected to authenticate as the same user")
	}

	reloaded, err := store.GetUser(user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if reloaded.RecoveryCodes.Contains("code-one") {
		t.Fatalf("expected code-one to be consumed")
	}
	if !reloaded.RecoveryCodes.Contains("code-two") {
		t.Fatalf("expected code-two to remain unused")
	}
}

type fakeEmailSender struct {
	lastCode string
}

func (f *fakeEmailSender) SendMFACode(ctx context.Context, user *db.User, code string) error {
	f.lastCode = code
	return nil
}

func TestEmailChallengeBeginThenVerify(t *testing.T) {
	store := newTestStore(t)
	sender := &fakeEmailSender{}
	machine, _ := newTestMachine(t, store, sender)
	user := createUser(t, store, "hunter2")

	user.MFAEnabled = true
	user.MFAMethod = db.MFAMethodEmail
	user.EmailMFAEnabled = true
	if err := store.UpdateUser(user); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	result, err := machine.Login(context.Background(), "alice", "hunter2", "127.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := machine.BeginEmailChallenge(context.Background(), result.Token); err != nil {
		t.Fatalf("BeginEmailChallenge: %v", err)
	}
	if sender.lastCode == "" {
		t.Fatalf("expected a code to be sent")
	}

	if err := machine.BeginEmailChallenge(context.Background(), result.Token); err == nil {
		t.Fatalf("expected a second begin while in flight to fail with MfaMethodBusy")
	}

	authed, err := machine.VerifyEmailCode(result.Token, sender.lastCode)
	if err != nil {
		t.Fatalf("VerifyEmailCode: %v", err)
	}
	if authed.ID != user.ID {
		t.Fatalf("expected to authenticate as the same user")
	}
}
