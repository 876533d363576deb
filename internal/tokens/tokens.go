// Package tokens implements the Token Service (§4.2): HS256 JWTs for three
// distinct audiences — user access/refresh, per-action runner tokens, and
// Google OAuth state nonces. Verification primitives are the one piece of
// the system allowed to remain global/pure per §9; everything else is
// threaded through an explicit Service value.
package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Error codes from the §7 Auth taxonomy that this package can produce.
const (
	ErrInvalidToken          = "invalid_token"
	ErrTenantScopeMismatch   = "tenant_scope_mismatch"
	ErrActionScopeMismatch   = "action_scope_mismatch"
	ErrInvalidGoogleState    = "invalid_google_oauth_state"
)

// TokenError carries one of the codes above plus a human message.
type TokenError struct {
	Code    string
	Message string
}

func (e *TokenError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func newTokenError(code, format string, args ...any) *TokenError {
	return &TokenError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// UserClaims are the custom claims carried by user access/refresh tokens.
type UserClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Type    string `json:"type"` // "access" or "refresh"
}

// RunnerClaims are the custom claims carried by per-action runner tokens.
// The "aud" claim itself is carried as a registered jwt claim, not here.
type RunnerClaims struct {
	TenantID string `json:"tenant_id"`
	Action   string `json:"action"`
}

// GoogleOAuthStateClaims are the custom claims carried by the Google OAuth
// state nonce.
type GoogleOAuthStateClaims struct {
	Type     string `json:"type"` // always "google_oauth_state"
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Origin   string `json:"origin"`
	Nonce    string `json:"nonce"`
}

// Service issues and verifies every token audience the system uses.
type Service struct {
	appSecret             []byte
	runnerSecret          []byte
	accessTokenLifetime   time.Duration
	refreshTokenLifetime  time.Duration
	runnerTokenLifetime   time.Duration
	googleStateTTL        time.Duration
}

// Config parameterizes token lifetimes; zero values fall back to the spec's
// defaults (15m access, 30d refresh, 120s runner, 10m google oauth state).
type Config struct {
	AppJWTSecret         string
	RunnerSharedSecret   string
	AccessTokenMinutes   int
	RefreshTokenDays     int
	RunnerTokenTTLSeconds int
}

// New creates a token Service. RunnerTokenTTLSeconds is clamped to the
// spec's ≤2-minute ceiling for per-action runner tokens (§4.2).
func New(cfg Config) (*Service, error) {
	if cfg.AppJWTSecret == "" {
		return nil, errors.New("APP_JWT_SECRET must not be empty")
	}
	if cfg.RunnerSharedSecret == "" {
		return nil, errors.New("RUNNER_SHARED_SECRET must not be empty")
	}

	accessMinutes := cfg.AccessTokenMinutes
	if accessMinutes <= 0 {
		accessMinutes = 15
	}
	refreshDays := cfg.RefreshTokenDays
	if refreshDays <= 0 {
		refreshDays = 30
	}
	runnerTTL := cfg.RunnerTokenTTLSeconds
	if runnerTTL <= 0 {
		runnerTTL = 120
	}
	if runnerTTL > 120 {
		runnerTTL = 120
	}

	return &Service{
		appSecret:            []byte(cfg.AppJWTSecret),
		runnerSecret:         []byte(cfg.RunnerSharedSecret),
		accessTokenLifetime:  time.Duration(accessMinutes) * time.Minute,
		refreshTokenLifetime: time.Duration(refreshDays) * 24 * time.Hour,
		runnerTokenLifetime:  time.Duration(runnerTTL) * time.Second,
		googleStateTTL:       10 * time.Minute,
	}, nil
}

// IssueAccessToken returns a signed access token and its lifetime in seconds.
func (s *Service) IssueAccessToken(userID, email string) (string, int, error) {
	tok, err := s.sign(s.appSecret, UserClaims{Subject: userID, Email: email, Type: "access"}, s.accessTokenLifetime)
	if err != nil {
		return "", 0, err
	}
	return tok, int(s.accessTokenLifetime.Seconds()), nil
}

// IssueRefreshToken returns a signed refresh token.
func (s *Service) IssueRefreshToken(userID string) (string, error) {
	return s.sign(s.appSecret, UserClaims{Subject: userID, Type: "refresh"}, s.refreshTokenLifetime)
}

// VerifyUserToken verifies a user access/refresh token and checks its type.
func (s *Service) VerifyUserToken(raw string, wantType string) (*UserClaims, error) {
	var custom UserClaims
	if err := s.verify(s.appSecret, raw, "", &custom); err != nil {
		return nil, err
	}
	if custom.Type != wantType {
		return nil, newTokenError(ErrInvalidToken, "expected token type %q, got %q", wantType, custom.Type)
	}
	return &custom, nil
}

// IssueRunnerToken returns a per-action runner token scoped to tenantID/action.
func (s *Service) IssueRunnerToken(tenantID, action string) (string, error) {
	claims := RunnerClaims{TenantID: tenantID, Action: action}
	return s.signWithAudience(s.runnerSecret, claims, s.runnerTokenLifetime, "runner")
}

// VerifyRunnerToken verifies signature, audience, tenant scope, and action
// scope, returning distinct error codes for each mismatch per §4.2/§8.
func (s *Service) VerifyRunnerToken(raw, wantTenantID, wantAction string) (*RunnerClaims, error) {
	var custom RunnerClaims
	if err := s.verify(s.runnerSecret, raw, "runner", &custom); err != nil {
		return nil, err
	}
	if custom.TenantID != wantTenantID {
		return nil, newTokenError(ErrTenantScopeMismatch, "token scoped to tenant %q, requested %q", custom.TenantID, wantTenantID)
	}
	if custom.Action != wantAction {
		return nil, newTokenError(ErrActionScopeMismatch, "token scoped to action %q, requested %q", custom.Action, wantAction)
	}
	return &custom, nil
}

// IssueGoogleOAuthState returns a signed state token and its TTL in seconds.
func (s *Service) IssueGoogleOAuthState(userID, tenantID, origin string) (string, int, error) {
	nonce, err := randomNonce(16)
	if err != nil {
		return "", 0, err
	}
	claims := GoogleOAuthStateClaims{
		Type:     "google_oauth_state",
		UserID:   userID,
		TenantID: tenantID,
		Origin:   origin,
		Nonce:    nonce,
	}
	tok, err := s.sign(s.appSecret, claims, s.googleStateTTL)
	if err != nil {
		return "", 0, err
	}
	return tok, int(s.googleStateTTL.Seconds()), nil
}

// VerifyGoogleOAuthState verifies a state token's signature, expiry and type.
// It does not consume the token: single-use enforcement (e.g. a Redis SETNX
// on the nonce) is the caller's responsibility.
func (s *Service) VerifyGoogleOAuthState(raw string) (*GoogleOAuthStateClaims, error) {
	var custom GoogleOAuthStateClaims
	if err := s.verify(s.appSecret, raw, "", &custom); err != nil {
		return nil, err
	}
	if custom.Type != "google_oauth_state" {
		return nil, newTokenError(ErrInvalidGoogleState, "token is not a google_oauth_state token")
	}
	return &custom, nil
}

func (s *Service) sign(secret []byte, custom any, ttl time.Duration) (string, error) {
	return s.signWithAudience(secret, custom, ttl, "")
}

func (s *Service) signWithAudience(secret []byte, custom any, ttl time.Duration, audience string) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	registered := jwt.Claims{
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
		Issuer:   "nexus",
	}
	if audience != "" {
		registered.Audience = jwt.Audience{audience}
	}

	tok, err := jwt.Signed(signer).Claims(registered).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return tok, nil
}

// verify parses and validates raw against secret, optionally checking the
// audience, and decodes custom claims into dest.
func (s *Service) verify(secret []byte, raw string, wantAudience string, dest any) error {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return newTokenError(ErrInvalidToken, "parsing token: %v", err)
	}

	var registered jwt.Claims
	if err := tok.Claims(secret, &registered, dest); err != nil {
		return newTokenError(ErrInvalidToken, "verifying signature: %v", err)
	}

	expected := jwt.Expected{Issuer: "nexus", Time: time.Now()}
	if wantAudience != "" {
		expected.AnyAudience = jwt.Audience{wantAudience}
	}
	if err := registered.ValidateWithLeeway(expected, 5*time.Second); err != nil {
		return newTokenError(ErrInvalidToken, "validating claims: %v", err)
	}
	return nil
}

func randomNonce(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
