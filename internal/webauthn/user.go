package webauthn

import (
	"strconv"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	gowebauthn "github.com/go-webauthn/webauthn/webauthn"

	"github.com/defguard/core/internal/db"
)

// credentialUser adapts a db.User plus its Passkeys onto the library's
// webauthn.User interface, the way containerish-OpenRegistry's
// WebauthnCredential/WebauthnSession pair models the same relationship
// over bun instead of gorm.
type credentialUser struct {
	user     *db.User
	passkeys []db.Passkey
}

func (u *credentialUser) WebAuthnID() []byte {
	return []byte(strconv.FormatUint(uint64(u.user.ID), 10))
}

func (u *credentialUser) WebAuthnName() string { return u.user.Username }

func (u *credentialUser) WebAuthnDisplayName() string {
	name := strings.TrimSpace(u.user.FirstName + " " + u.user.LastName)
	if name == "" {
		return u.user.Username
	}
	return name
}

func (u *credentialUser) WebAuthnIcon() string { return "" }

func (u *credentialUser) WebAuthnCredentials() []gowebauthn.Credential {
	out := make([]gowebauthn.Credential, 0, len(u.passkeys))
	for _, p := range u.passkeys {
		out = append(out, gowebauthn.Credential{
			ID:        p.CredentialID,
			PublicKey: p.PublicKey,
			Transport: parseTransports(p.Transports),
			Flags: gowebauthn.CredentialFlags{
				UserPresent:  true,
				UserVerified: true,
			},
			Authenticator: gowebauthn.Authenticator{
				AAGUID:    p.AAGUID,
				SignCount: p.Counter,
			},
		})
	}
	return out
}

func parseTransports(csv string) []protocol.AuthenticatorTransport {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]protocol.AuthenticatorTransport, 0, len(parts))
	for _, p := range parts {
		out = append(out, protocol.AuthenticatorTransport(p))
	}
	return out
}

func joinTransports(t []protocol.AuthenticatorTransport) string {
	parts := make([]string, 0, len(t))
	for _, x := range t {
		parts = append(parts, string(x))
	}
	return strings.Join(parts, ",")
}
