// Package webauthn adapts go-webauthn/webauthn into the register and
// authenticate ceremonies of C4, storing per-ceremony challenge state
// in db.WebauthnChallenge instead of the library's in-memory session
// store so it survives across requests hitting different replicas.
package webauthn

import (
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"
	gowebauthn "github.com/go-webauthn/webauthn/webauthn"

	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/auth"
	"github.com/defguard/core/internal/db"
)

// Config configures the relying party. RPID is derived from the
// external URL's host component per spec.md §4.4, with an explicit
// override for deployments behind a different public hostname.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
}

// Ceremony implements C4 over a *db.Store for persistence and an
// *auth.Machine for the authenticate ceremony's pre-auth session
// bookkeeping (registration does not touch the MFA state machine: it
// runs under a normal authenticated session).
type Ceremony struct {
	wa    *gowebauthn.WebAuthn
	store *db.Store
	mfa   *auth.Machine
}

// NewCeremony constructs the relying party configuration once at
// startup.
func NewCeremony(cfg Config, store *db.Store, mfa *auth.Machine) (*Ceremony, error) {
	wa, err := gowebauthn.New(&gowebauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "construct webauthn relying party", err)
	}
	return &Ceremony{wa: wa, store: store, mfa: mfa}, nil
}

func (c *Ceremony) loadCredentialUser(userID uint) (*credentialUser, error) {
	user, err := c.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	passkeys, err := c.store.PasskeysForUser(userID)
	if err != nil {
		return nil, err
	}
	return &credentialUser{user: user, passkeys: passkeys}, nil
}

// BeginRegistration starts a "register" ceremony for a user that is
// already authenticated (not gated by an MFA pre-auth token).
func (c *Ceremony) BeginRegistration(userID uint) (*protocol.CredentialCreation, string, error) {
	cu, err := c.loadCredentialUser(userID)
	if err != nil {
		return nil, "", err
	}
	options, session, err := c.wa.BeginRegistration(cu)
	if err != nil {
		return nil, "", apierr.Wrap(apierr.AttestationInvalid, "begin webauthn registration", err)
	}
	challengeID, err := c.storeChallenge(userID, "register", session)
	if err != nil {
		return nil, "", err
	}
	return options, challengeID, nil
}

// FinishRegistration verifies the attestation response and persists a
// new Passkey. Transports and AAGUID come from the client's reported
// authenticator metadata.
func (c *Ceremony) FinishRegistration(challengeID string, r *http.Request) (*db.Passkey, error) {
	session, userID, err := c.loadChallenge(challengeID, "register")
	if err != nil {
		return nil, err
	}
	cu, err := c.loadCredentialUser(userID)
	if err != nil {
		return nil, err
	}

	credential, err := c.wa.FinishRegistration(cu, *session, r)
	if err != nil {
		return nil, apierr.Wrap(apierr.AttestationInvalid, "verify webauthn attestation", err)
	}

	if existing, err := c.store.PasskeyByCredentialID(credential.ID); err == nil && existing != nil {
		return nil, apierr.New(apierr.CredentialAlreadyRegistered, "credential is already registered")
	}

	passkey := &db.Passkey{
		UserID:       userID,
		CredentialID: credential.ID,
		PublicKey:    credential.PublicKey,
		Counter:      credential.Authenticator.SignCount,
		Transports:   joinTransports(credential.Transport),
		AAGUID:       credential.Authenticator.AAGUID,
	}
	if err := c.store.CreatePasskey(passkey); err != nil {
		if apierr.KindOf(err) == apierr.IntegrityViolation {
			return nil, apierr.New(apierr.CredentialAlreadyRegistered, "credential is already registered")
		}
		return nil, err
	}
	return passkey, nil
}

// BeginAuthentication opens a WebAuthn assertion challenge under an
// existing MFA pre-auth token, delegating the shared in-flight/failure
// bookkeeping to auth.Machine (spec.md §4.3: "WebAuthn: delegates to
// C4").
func (c *Ceremony) BeginAuthentication(preAuthToken string) (*protocol.CredentialAssertion, string, error) {
	_, user, err := c.mfa.BeginWebAuthnChallenge(preAuthToken)
	if err != nil {
		return nil, "", err
	}
	cu, err := c.loadCredentialUser(user.ID)
	if err != nil {
		return nil, "", err
	}
	options, session, err := c.wa.BeginLogin(cu)
	if err != nil {
		return nil, "", apierr.Wrap(apierr.Internal, "begin webauthn authentication", err)
	}
	challengeID, err := c.storeChallenge(user.ID, "authenticate", session)
	if err != nil {
		return nil, "", err
	}
	return options, challengeID, nil
}

// FinishAuthentication verifies the assertion, enforces counter
// monotonicity, and resolves the pre-auth session.
func (c *Ceremony) FinishAuthentication(preAuthToken, challengeID string, r *http.Request) (*db.User, error) {
	preAuthSession, expectedUser, err := c.mfa.Resolve(preAuthToken)
	if err != nil {
		return nil, err
	}
	if preAuthSession.Method != db.MFAMethodWebAuthn {
		return nil, apierr.New(apierr.ChallengeUnknown, "pre-auth session is not a webauthn challenge")
	}

	session, userID, err := c.loadChallenge(challengeID, "authenticate")
	if err != nil {
		return nil, err
	}
	if userID != expectedUser.ID {
		return nil, apierr.New(apierr.CredentialUnknown, "webauthn challenge does not belong to this session")
	}

	passkeysBefore, err := c.store.PasskeysForUser(userID)
	if err != nil {
		return nil, err
	}
	cu := &credentialUser{user: expectedUser, passkeys: passkeysBefore}

	credential, err := c.wa.FinishLogin(cu, *session, r)
	if err != nil {
		_ = c.mfa.CompleteWebAuthnChallenge(preAuthSession, false)
		return nil, apierr.Wrap(apierr.CredentialUnknown, "verify webauthn assertion", err)
	}

	passkey, err := c.store.PasskeyByCredentialID(credential.ID)
	if err != nil {
		_ = c.mfa.CompleteWebAuthnChallenge(preAuthSession, false)
		return nil, err
	}

	newCounter := credential.Authenticator.SignCount
	regression := (passkey.Counter != 0 || newCounter != 0) && newCounter <= passkey.Counter
	if err := c.store.UpdatePasskeyCounter(passkey.ID, newCounter, regression); err != nil {
		return nil, err
	}
	if regression {
		_ = c.mfa.CompleteWebAuthnChallenge(preAuthSession, false)
		return nil, apierr.New(apierr.CounterRegression, "authenticator counter did not advance")
	}

	if err := c.mfa.CompleteWebAuthnChallenge(preAuthSession, true); err != nil {
		return nil, err
	}
	return expectedUser, nil
}
