package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/defguard/core/internal/config"
)

func clearEnv() {
	for _, k := range []string{
		"DEFGUARD_AUTH_SECRET", "DEFGUARD_SECRET_KEY", "DEFGUARD_GATEWAY_SECRET",
		"DEFGUARD_URL", "DEFGUARD_AUTH_SESSION_LIFETIME", "DEFGUARD_ADMIN_GROUPNAME",
		"DEFGUARD_COOKIE_INSECURE", "DEFGUARD_DATABASE_HOST", "DEFGUARD_DATABASE_PORT",
	} {
		os.Unsetenv(k)
	}
}

func TestLoad_MissingRequiredSecrets(t *testing.T) {
	clearEnv()
	defer clearEnv()

	if _, err := config.Load(); err == nil {
		t.Fatal("expected an error when DEFGUARD_AUTH_SECRET/DEFGUARD_SECRET_KEY are unset")
	}
}

func TestLoad_ReadsEnvironmentAndDefaults(t *testing.T) {
	clearEnv()
	defer clearEnv()

	os.Setenv("DEFGUARD_AUTH_SECRET", "s3cr3t")
	os.Setenv("DEFGUARD_SECRET_KEY", "0123456789abcdef0123456789abcdef")
	os.Setenv("DEFGUARD_URL", "https://vpn.example.com")
	os.Setenv("DEFGUARD_DATABASE_HOST", "db.internal")

	c, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Auth.Secret != "s3cr3t" {
		t.Errorf("Auth.Secret = %q", c.Auth.Secret)
	}
	if c.URL != "https://vpn.example.com" {
		t.Errorf("URL = %q", c.URL)
	}
	if c.Database.Host != "db.internal" {
		t.Errorf("Database.Host = %q", c.Database.Host)
	}
	if c.Database.Port != 3306 {
		t.Errorf("Database.Port default = %d, want 3306", c.Database.Port)
	}
	if c.Auth.SessionLifetime != 8*time.Hour {
		t.Errorf("Auth.SessionLifetime default = %v, want 8h", c.Auth.SessionLifetime)
	}
	if c.Admin.GroupName != "admin" {
		t.Errorf("Admin.GroupName default = %q, want admin", c.Admin.GroupName)
	}
}

func TestLoad_SessionLifetimeOverride(t *testing.T) {
	clearEnv()
	defer clearEnv()

	os.Setenv("DEFGUARD_AUTH_SECRET", "s3cr3t")
	os.Setenv("DEFGUARD_SECRET_KEY", "0123456789abcdef0123456789abcdef")
	os.Setenv("DEFGUARD_AUTH_SESSION_LIFETIME", "1h")

	c, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Auth.SessionLifetime != time.Hour {
		t.Errorf("Auth.SessionLifetime = %v, want 1h", c.Auth.SessionLifetime)
	}
}
