package crypto

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestValidateTOTPAcceptsCurrentCode(t *testing.T) {
	key, err := GenerateTOTPSecret("defguard", "alice")
	if err != nil {
		t.Fatalf("GenerateTOTPSecret: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	code, err := totp.GenerateCode(key.Secret(), now)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	ok, err := ValidateTOTP(code, key.Secret(), now)
	if err != nil {
		t.Fatalf("ValidateTOTP: %v", err)
	}
	if !ok {
		t.Fatalf("expected current code to validate")
	}
}

func TestValidateTOTPRejectsWrongCode(t *testing.T) {
	key, err := GenerateTOTPSecret("defguard", "alice")
	if err != nil {
		t.Fatalf("GenerateTOTPSecret: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	ok, err := ValidateTOTP("000000", key.Secret(), now)
	if err != nil {
		t.Fatalf("ValidateTOTP: %v", err)
	}
	if ok {
		t.Fatalf("expected wrong code to fail validation")
	}
}

func TestCurrentStepAdvancesEveryThirtySeconds(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	t1 := t0.Add(30 * time.Second)
	if CurrentStep(t0) == CurrentStep(t1) {
		t.Fatalf("expected step to change across a 30s boundary")
	}
}
