package tokens

import (
	"testing"
	"time"
)

func testService(t *testing.T) *Service {
	t.Helper()
	s, err := New(Config{
		AppJWTSecret:          "app-secret-at-least-16-bytes",
		RunnerSharedSecret:    "runner-secret-at-least-16-bytes",
		AccessTokenMinutes:    1,
		RefreshTokenDays:      1,
		RunnerTokenTTLSeconds: 60,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestUserAccessTokenRoundTrip(t *testing.T) {
	s := testService(t)
	tok, ttl, err := s.IssueAccessToken("user-1", "a@example.com")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if ttl != 60 {
		t.Fatalf("got ttl=%d, want 60", ttl)
	}

	claims, err := s.VerifyUserToken(tok, "access")
	if err != nil {
		t.Fatalf("VerifyUserToken: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "a@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestUserTokenWrongTypeRejected(t *testing.T) {
	s := testService(t)
	refresh, err := s.IssueRefreshToken("user-1")
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	if _, err := s.VerifyUserToken(refresh, "access"); err == nil {
		t.Fatalf("expected error verifying refresh token as access")
	}
}

func TestRunnerTokenScopeMismatches(t *testing.T) {
	s := testService(t)
	tok, err := s.IssueRunnerToken("tenant-a", "start")
	if err != nil {
		t.Fatalf("IssueRunnerToken: %v", err)
	}

	if _, err := s.VerifyRunnerToken(tok, "tenant-a", "start"); err != nil {
		t.Fatalf("expected valid verification, got %v", err)
	}

	_, err = s.VerifyRunnerToken(tok, "tenant-b", "start")
	terr, ok := err.(*TokenError)
	if !ok || terr.Code != ErrTenantScopeMismatch {
		t.Fatalf("got err=%v, want tenant_scope_mismatch", err)
	}

	_, err = s.VerifyRunnerToken(tok, "tenant-a", "stop")
	terr, ok = err.(*TokenError)
	if !ok || terr.Code != ErrActionScopeMismatch {
		t.Fatalf("got err=%v, want action_scope_mismatch", err)
	}
}

func TestRunnerTokenRejectedByUserSecret(t *testing.T) {
	s := testService(t)
	tok, err := s.IssueRunnerToken("tenant-a", "start")
	if err != nil {
		t.Fatalf("IssueRunnerToken: %v", err)
	}
	if _, err := s.VerifyUserToken(tok, "access"); err == nil {
		t.Fatalf("expected runner token to be rejected under the app secret")
	}
}

func TestGoogleOAuthStateRoundTrip(t *testing.T) {
	s := testService(t)
	tok, ttl, err := s.IssueGoogleOAuthState("user-1", "tenant-a", "https://app.example.com")
	if err != nil {
		t.Fatalf("IssueGoogleOAuthState: %v", err)
	}
	if ttl <= 0 {
		t.Fatalf("expected positive ttl")
	}

	claims, err := s.VerifyGoogleOAuthState(tok)
	if err != nil {
		t.Fatalf("VerifyGoogleOAuthState: %v", err)
	}
	if claims.TenantID != "tenant-a" || claims.Origin != "https://app.example.com" || claims.Nonce == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestRunnerTokenTTLClampedTo120Seconds(t *testing.T) {
	s, err := New(Config{
		AppJWTSecret:          "app-secret-at-least-16-bytes",
		RunnerSharedSecret:    "runner-secret-at-least-16-bytes",
		RunnerTokenTTLSeconds: 600,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.runnerTokenLifetime != 120*time.Second {
		t.Fatalf("got runnerTokenLifetime=%v, want 120s", s.runnerTokenLifetime)
	}
}
