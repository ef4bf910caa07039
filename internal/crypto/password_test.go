package crypto

import "testing"

func TestHashAndVerifyRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple", DefaultArgon2Params)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	result := Verify("correct horse battery staple", &hash, DefaultArgon2Params)
	if !result.OK {
		t.Fatalf("expected correct password to verify")
	}
	if result.NeedsRehash {
		t.Fatalf("expected no rehash when params match")
	}
}

func TestVerifyMismatch(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple", DefaultArgon2Params)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	result := Verify("wrong password", &hash, DefaultArgon2Params)
	if result.OK {
		t.Fatalf("expected mismatch to fail verification")
	}
}

func TestVerifyUnknownUserUsesDummyHash(t *testing.T) {
	result := Verify("whatever", nil, DefaultArgon2Params)
	if result.OK {
		t.Fatalf("expected nil stored hash to never verify")
	}
}

func TestVerifyDetectsNeedsRehash(t *testing.T) {
	oldParams := Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}
	hash, err := HashPassword("correct horse battery staple", oldParams)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	result := Verify("correct horse battery staple", &hash, DefaultArgon2Params)
	if !result.OK {
		t.Fatalf("expected password to still verify against old params")
	}
	if !result.NeedsRehash {
		t.Fatalf("expected needs_rehash when current params differ from stored")
	}
}
