package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// RandomToken returns n cryptographically random bytes, URL-safe
// base64 encoded with no padding. Used for enrollment tokens (128
// bits, spec.md §3) and MFA challenge/pre-auth nonces.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto: random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ConstantTimeEqual reports whether a and b are equal, in time
// independent of where they first differ. Used for enrollment-token
// comparison (spec.md §4.6: "Token comparison is constant-time").
func ConstantTimeEqual(a, b string) bool {
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}

// HashEmailCode returns a comparison hash for a one-time email MFA
// code. Only the hash is ever persisted (spec.md §4.3).
func HashEmailCode(code string) []byte {
	sum := sha256.Sum256([]byte(code))
	return sum[:]
}

// VerifyEmailCode compares a submitted code against a stored hash in
// constant time.
func VerifyEmailCode(code string, hash []byte) bool {
	got := HashEmailCode(code)
	return subtle.ConstantTimeCompare(got, hash) == 1
}

// RandomNumericCode returns an n-digit numeric one-time code (used for
// the email MFA method), using rejection sampling over crypto/rand so
// the distribution is uniform.
func RandomNumericCode(digits int) (string, error) {
	const charset = "0123456789"
	out := make([]byte, 0, digits)
	b := make([]byte, digits)
	for len(out) < digits {
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("crypto: random code: %w", err)
		}
		for _, v := range b {
			// Bytes >= 250 are discarded: 250 is the largest multiple
			// of 10 a byte can hold, so v%10 stays uniform below it.
			if v < 250 && len(out) < digits {
				out = append(out, charset[int(v)%len(charset)])
			}
		}
	}
	return string(out), nil
}
