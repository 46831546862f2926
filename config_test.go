package goGuard

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with key",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "missing private key",
			mutate: func(c *Config) {
				c.JWT.PrivateKey = nil
			},
			wantValid: false,
		},
		{
			name: "signing method hs256",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "HS256"
				c.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
			},
			wantValid: true,
		},
		{
			name: "signing method rs256",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "zero login limit",
			mutate: func(c *Config) {
				c.RateLimit.LoginMaxPerMinute = 0
			},
			wantValid: false,
		},
		{
			name: "action override",
			mutate: func(c *Config) {
				c.RateLimit.Actions = map[string][]RateWindow{
					"password_reset": {{Size: time.Hour, Limit: 3}},
				}
			},
			wantValid: true,
		},
		{
			name: "empty action override",
			mutate: func(c *Config) {
				c.RateLimit.Actions = map[string][]RateWindow{"export": nil}
			},
			wantValid: false,
		},
		{
			name: "no tiers",
			mutate: func(c *Config) {
				c.RateLimit.Tiers = nil
			},
			wantValid: false,
		},
		{
			name: "lock default above max",
			mutate: func(c *Config) {
				c.Lockout.DefaultDuration = 48 * time.Hour
			},
			wantValid: false,
		},
		{
			name: "block max zero",
			mutate: func(c *Config) {
				c.Blocklist.MaxDuration = 0
			},
			wantValid: false,
		},
		{
			name: "argon memory too low",
			mutate: func(c *Config) {
				c.Password.Memory = 1024
			},
			wantValid: false,
		},
		{
			name: "inverted hour band",
			mutate: func(c *Config) {
				c.Risk.SuspiciousHourStart = 6
				c.Risk.SuspiciousHourEnd = 2
			},
			wantValid: false,
		},
		{
			name: "zero velocity threshold",
			mutate: func(c *Config) {
				c.Risk.RapidAttemptThreshold = 0
			},
			wantValid: false,
		},
		{
			name: "unknown replay severity",
			mutate: func(c *Config) {
				c.Violation.ReplaySeverity = "severe"
			},
			wantValid: false,
		},
		{
			name: "audit without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "negative store timeout",
			mutate: func(c *Config) {
				c.Store.Timeout = -time.Second
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid {
				if err == nil {
					t.Fatal("expected invalid config, got nil")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
			}
		})
	}
}

func TestConfigValidateReportsEverySection(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWT.PrivateKey = nil
	cfg.Lockout.FailureThreshold = 0
	cfg.Store.Timeout = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, section := range []string{"jwt", "lockout", "store"} {
		if !strings.Contains(err.Error(), ": "+section+": ") {
			t.Fatalf("expected %s in %q", section, err)
		}
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWT.PrivateKey = nil

	if _, err := New().WithConfig(cfg).Build(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	b := New().WithConfig(testConfig(t))
	g, err := b.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer g.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestConfigIsCopiedOnBuild(t *testing.T) {
	cfg := testConfig(t)
	key := cfg.JWT.PrivateKey
	g, err := New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer g.Close()

	key[0] ^= 0xff
	if g.Config().JWT.PrivateKey[0] == key[0] {
		t.Fatal("guard must keep its own copy of key material")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("GGTEST_JWT_SIGNING_METHOD", "hs256")
	t.Setenv("GGTEST_JWT_PRIVATE_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("GGTEST_ACCESS_TTL", "5m")
	t.Setenv("GGTEST_LOGIN_MAX_PER_MINUTE", "3")
	t.Setenv("GGTEST_SUSPICIOUS_HOUR_BAND", "1-4")
	t.Setenv("GGTEST_AUDIT_ENABLED", "true")
	t.Setenv("GGTEST_STORE_NAMESPACE", "tenant1")

	cfg, err := ConfigFromEnv("GGTEST")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.JWT.SigningMethod != "hs256" || string(cfg.JWT.PrivateKey) != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("unexpected jwt section %+v", cfg.JWT)
	}
	if cfg.Credentials.AccessTTL != 5*time.Minute {
		t.Fatalf("expected 5m access ttl, got %v", cfg.Credentials.AccessTTL)
	}
	if cfg.RateLimit.LoginMaxPerMinute != 3 || cfg.RateLimit.LoginMaxPerHour != 100 {
		t.Fatalf("unexpected login limits %+v", cfg.RateLimit)
	}
	if cfg.Risk.SuspiciousHourStart != 1 || cfg.Risk.SuspiciousHourEnd != 4 {
		t.Fatalf("unexpected hour band %d-%d", cfg.Risk.SuspiciousHourStart, cfg.Risk.SuspiciousHourEnd)
	}
	if !cfg.Audit.Enabled || cfg.Store.Namespace != "tenant1" {
		t.Fatalf("unexpected audit/store sections %+v %+v", cfg.Audit, cfg.Store)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("env config must validate: %v", err)
	}
}

func TestConfigFromEnvRejectsBadHourBand(t *testing.T) {
	t.Setenv("GGBAD_SUSPICIOUS_HOUR_BAND", "late")

	_, err := ConfigFromEnv("GGBAD")
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "suspicious_hour_band" {
		t.Fatalf("expected hour band validation error, got %v", err)
	}
}

func TestLoadConfigFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goguard.yaml")
	body := "refresh_ttl: 48h\nmax_per_minute: 120\nstore_namespace: fromfile\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GGFILE_STORE_NAMESPACE", "fromenv")

	cfg, err := LoadConfig(path, "GGFILE")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Credentials.RefreshTTL != 48*time.Hour || cfg.RateLimit.MaxPerMinute != 120 {
		t.Fatalf("file values not applied: %+v %+v", cfg.Credentials, cfg.RateLimit)
	}
	if cfg.Store.Namespace != "fromenv" {
		t.Fatalf("environment must win over the file, got %q", cfg.Store.Namespace)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), "GGFILE"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for a missing file, got %v", err)
	}
}
