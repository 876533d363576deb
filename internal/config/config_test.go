package config

import (
	"os"
	"testing"
)

func TestLoadControlPlaneDefaults(t *testing.T) {
	cfg, err := LoadControlPlane()
	if err != nil {
		t.Fatalf("LoadControlPlane: %v", err)
	}

	cases := []struct {
		name  string
		check func(*ControlPlane) bool
	}{
		{"http addr default", func(c *ControlPlane) bool { return c.HTTPAddr == ":8080" }},
		{"access token minutes default", func(c *ControlPlane) bool { return c.AccessTokenMinutes == 15 }},
		{"refresh token days default", func(c *ControlPlane) bool { return c.RefreshTokenDays == 30 }},
		{"runner token ttl default", func(c *ControlPlane) bool { return c.RunnerTokenTTLSeconds == 120 }},
		{"rate limit default", func(c *ControlPlane) bool { return c.RateLimitSignupPerMinute == 5 }},
		{"cors wildcard default", func(c *ControlPlane) bool { return len(c.CORSAllowedOrigins) == 1 && c.CORSAllowedOrigins[0] == "*" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !tc.check(cfg) {
				t.Fatalf("unexpected value for %s: %+v", tc.name, cfg)
			}
		})
	}
}

func TestLoadControlPlaneOverride(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_MINUTES", "5")
	t.Setenv("RUNNER_BASE_URL", "http://runner.internal:9000")

	cfg, err := LoadControlPlane()
	if err != nil {
		t.Fatalf("LoadControlPlane: %v", err)
	}
	if cfg.AccessTokenMinutes != 5 {
		t.Fatalf("got AccessTokenMinutes=%d, want 5", cfg.AccessTokenMinutes)
	}
	if cfg.RunnerBaseURL != "http://runner.internal:9000" {
		t.Fatalf("got RunnerBaseURL=%q", cfg.RunnerBaseURL)
	}
}

func TestLoadRunnerDefaults(t *testing.T) {
	cfg, err := LoadRunner()
	if err != nil {
		t.Fatalf("LoadRunner: %v", err)
	}
	if cfg.BridgePort != 8765 {
		t.Fatalf("got BridgePort=%d, want 8765", cfg.BridgePort)
	}
	if cfg.TenantRoot == "" {
		t.Fatalf("expected non-empty TenantRoot default")
	}
}

func TestLoadRunnerUnknownVarsIgnored(t *testing.T) {
	t.Setenv("NEXUS_SOME_UNRECOGNIZED_FLAG", "true")
	if _, err := LoadRunner(); err != nil {
		t.Fatalf("unexpected error from unrecognized env var: %v", err)
	}
	_ = os.Unsetenv("NEXUS_SOME_UNRECOGNIZED_FLAG")
}
