// Package crypto implements the memory-hard password verifier (C2),
// envelope encryption for MFA seeds, and the random-token helpers used
// across the enrollment and MFA state machines.
//
// Argon2id parameters and the salted-hash-and-compare shape are
// grounded on and161185-goph-keeper's internal/crypto/passhash.go.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params are the current server-side hashing parameters. A
// stored hash encodes the parameters it was created with, so a change
// here is detected as Verify's needsRehash return value without a
// data migration step.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultArgon2Params mirrors and161185-goph-keeper's tuning.
var DefaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 1,
	KeyLen:  32,
	SaltLen: 16,
}

// dummyHash is verified against when a user is unknown so that
// CredentialInvalid on a missing user costs the same wall-clock time
// as a real mismatch (spec.md §4.2: "Always takes roughly the same
// time for mismatch and for a user with no hash").
var dummyHash = mustHash("defguard-dummy-password-for-timing", DefaultArgon2Params)

// HashPassword returns an encoded Argon2id hash string:
// argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt-b64>$<hash-b64>
func HashPassword(password string, params Argon2Params) (string, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen)
	return encode(params, salt, hash), nil
}

func mustHash(password string, params Argon2Params) string {
	salt := make([]byte, params.SaltLen)
	// A fixed, non-secret salt is fine here: this hash authenticates
	// nothing, it only exists to burn the same CPU time as a real
	// verification.
	for i := range salt {
		salt[i] = byte(i)
	}
	hash := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen)
	return encode(params, salt, hash)
}

func encode(params Argon2Params, salt, hash []byte) string {
	return fmt.Sprintf("argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		params.Memory, params.Time, params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
}

func decode(encoded string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return Argon2Params{}, nil, nil, fmt.Errorf("crypto: malformed hash")
	}
	var params Argon2Params
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Threads); err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("crypto: malformed hash params: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("crypto: malformed salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("crypto: malformed hash: %w", err)
	}
	params.SaltLen = uint32(len(salt))
	params.KeyLen = uint32(len(hash))
	return params, salt, hash, nil
}

// VerifyResult is the outcome of Verify.
type VerifyResult struct {
	OK          bool
	NeedsRehash bool
}

// Verify checks password against an encoded hash. If stored is nil
// (LDAP-only user), it still runs the dummy-hash comparison so the
// timing profile matches a real mismatch, then reports !OK.
func Verify(password string, stored *string, current Argon2Params) VerifyResult {
	encoded := dummyHash
	hadStored := stored != nil
	if hadStored {
		encoded = *stored
	}

	params, salt, hash, err := decode(encoded)
	if err != nil {
		// Malformed stored hash: still burn the comparison against the
		// dummy hash so failure timing does not leak the distinction.
		return compareAgainstDummy(password)
	}

	got := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen)
	match := subtle.ConstantTimeCompare(got, hash) == 1

	if !hadStored {
		return VerifyResult{OK: false}
	}
	needsRehash := params.Time != current.Time || params.Memory != current.Memory ||
		params.Threads != current.Threads || params.KeyLen != current.KeyLen
	return VerifyResult{OK: match, NeedsRehash: match && needsRehash}
}

func compareAgainstDummy(password string) VerifyResult {
	params, salt, hash, err := decode(dummyHash)
	if err != nil {
		return VerifyResult{OK: false}
	}
	got := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen)
	subtle.ConstantTimeCompare(got, hash)
	return VerifyResult{OK: false}
}
