package crypto

import (
	"time"

	"github.com/pquerna/otp/totp"
)

// TOTPWindow is the +/- step tolerance spec.md §4.3 requires ("the
// 30-second window +/-1 step").
const TOTPWindow = 1

// GenerateTOTPSecret creates a new base32 TOTP seed for the given
// account/issuer pair, suitable for rendering into an otpauth:// QR
// code by the caller.
func GenerateTOTPSecret(issuer, accountName string) (*totpKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, err
	}
	return &totpKey{secret: key.Secret(), uri: key.String()}, nil
}

type totpKey struct {
	secret string
	uri    string
}

// Secret returns the base32-encoded seed to persist (envelope
// encrypted by the caller before it is written to the database).
func (k *totpKey) Secret() string { return k.secret }

// URI returns the otpauth:// URI for QR-code rendering.
func (k *totpKey) URI() string { return k.uri }

// ValidateTOTP validates a submitted code against secret at instant
// now, within +/-TOTPWindow steps.
func ValidateTOTP(code, secret string, now time.Time) (bool, error) {
	return totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      TOTPWindow,
		Digits:    6,
		Algorithm: 0, // otp.AlgorithmSHA1, the package default
	})
}

// CurrentStep returns the 30-second step index for now, used to
// record last_totp_step and reject same-window replay (spec.md §4.3).
func CurrentStep(now time.Time) uint64 {
	return uint64(now.Unix() / 30)
}
