package orchestrator

import (
	"context"
	"strconv"
	"time"

	"github.com/nexusruntime/nexus/internal/googleoauth"
)

// GoogleStatus is what GoogleStatus returns to a tenant owner.
type GoogleStatus struct {
	Connected   bool
	Scopes      []string
	ConnectedAt string
	LastError   string
}

// GoogleCallbackResult is what GoogleCallback returns, for the HTTP layer to
// render as a postMessage page back to the opener window.
type GoogleCallbackResult struct {
	Success bool
	TenantID string
	Origin   string
	Code     string
	Message  string
}

// GoogleConnectStart validates the caller's origin and issues a state-bound
// consent URL for tenantID.
func (s *Service) GoogleConnectStart(ctx context.Context, tenantID string, ownerUserID int64, origin string) (string, error) {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return "", err
	}
	if err := googleoauth.EnsureConfigured(s.google); err != nil {
		return "", wrapOAuthErr(err, 503)
	}
	allowed := googleoauth.ParseAllowedOrigins(s.google.AllowedOrigins)
	if err := googleoauth.EnsureOriginAllowed(origin, allowed); err != nil {
		return "", wrapOAuthErr(err, 403)
	}

	state, _, err := s.tokens.IssueGoogleOAuthState(strconv.FormatInt(ownerUserID, 10), tenantID, origin)
	if err != nil {
		return "", err
	}
	s.recordAdminAction(ownerUserID, tenantID, "google_connect_start", nil)
	return googleoauth.BuildConsentURL(s.google.ClientID, s.google.RedirectURI, state), nil
}

// GoogleCallback verifies the OAuth state, exchanges the authorization code,
// persists the resulting tokens into the tenant secret, and notifies the
// Runner. Every failure path records google_oauth_last_error on the tenant
// secret (when a tenant could be identified) and is surfaced in the result
// rather than as a Go error, since the HTTP layer always renders a
// postMessage page regardless of outcome.
func (s *Service) GoogleCallback(ctx context.Context, state, code string) GoogleCallbackResult {
	claims, err := s.tokens.VerifyGoogleOAuthState(state)
	if err != nil {
		return GoogleCallbackResult{Code: "google_oauth_invalid_state", Message: err.Error()}
	}
	tenantID := claims.TenantID

	token, err := googleoauth.ExchangeCode(ctx, s.google, code)
	if err != nil {
		s.recordGoogleOAuthError(ctx, tenantID, err.Error())
		return GoogleCallbackResult{TenantID: tenantID, Origin: claims.Origin, Code: "google_oauth_exchange_failed", Message: err.Error()}
	}
	if token.RefreshToken == "" {
		msg := "google did not return a refresh token; retry with prompt=consent"
		s.recordGoogleOAuthError(ctx, tenantID, msg)
		return GoogleCallbackResult{TenantID: tenantID, Origin: claims.Origin, Code: "google_oauth_refresh_token_missing", Message: msg}
	}
	if token.AccessToken == "" {
		msg := "google did not return an access token"
		s.recordGoogleOAuthError(ctx, tenantID, msg)
		return GoogleCallbackResult{TenantID: tenantID, Origin: claims.Origin, Code: "google_oauth_access_token_missing", Message: msg}
	}

	connectedAt := nowHeartbeat().Format(time.RFC3339)
	tokenJSON := map[string]any{
		"access_token":  token.AccessToken,
		"refresh_token": token.RefreshToken,
		"token_type":    token.TokenType,
		"expires_in":    token.ExpiresIn,
		"expiry":        token.ExpiryTime().Format(time.RFC3339),
	}
	scopes := token.Scopes()

	secret, err := s.readSecret(ctx, tenantID)
	if err != nil {
		s.recordGoogleOAuthError(ctx, tenantID, err.Error())
		return GoogleCallbackResult{TenantID: tenantID, Origin: claims.Origin, Code: "google_oauth_secret_write_failed", Message: err.Error()}
	}
	secret.Google = &googleSecretBlock{TokenJSON: tokenJSON, Scopes: scopes, ConnectedAt: connectedAt}
	secret.GoogleOAuthLastError = ""
	if err := s.writeSecret(ctx, tenantID, secret); err != nil {
		s.recordGoogleOAuthError(ctx, tenantID, err.Error())
		return GoogleCallbackResult{TenantID: tenantID, Origin: claims.Origin, Code: "google_oauth_secret_write_failed", Message: err.Error()}
	}

	if _, err := s.runnerCall(ctx, tenantID, "google_connect", func() (map[string]any, error) {
		return s.runner.GoogleConnect(ctx, tenantID, map[string]any{"token_json": tokenJSON, "scopes": scopes})
	}); err != nil {
		s.recordGoogleOAuthError(ctx, tenantID, err.Error())
		return GoogleCallbackResult{TenantID: tenantID, Origin: claims.Origin, Code: "google_oauth_runner_notify_failed", Message: err.Error()}
	}

	s.emit(ctx, tenantID, "google.connected", map[string]any{"scopes": scopes})
	if ownerUserID, err := strconv.ParseInt(claims.UserID, 10, 64); err == nil {
		s.recordAdminAction(ownerUserID, tenantID, "google_connect", map[string]any{"scopes": scopes})
	}
	return GoogleCallbackResult{Success: true, TenantID: tenantID, Origin: claims.Origin}
}

// GoogleStatus reports the tenant's current Google link state.
func (s *Service) GoogleStatus(ctx context.Context, tenantID string, ownerUserID int64) (GoogleStatus, error) {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return GoogleStatus{}, err
	}
	secret, err := s.readSecret(ctx, tenantID)
	if err != nil {
		return GoogleStatus{}, err
	}
	status := GoogleStatus{LastError: secret.GoogleOAuthLastError}
	if secret.Google != nil {
		status.Connected = true
		status.Scopes = secret.Google.Scopes
		status.ConnectedAt = secret.Google.ConnectedAt
	}
	return status, nil
}

// GoogleDisconnect clears the tenant's Google link and tells the Runner to
// drop its cached credentials.
func (s *Service) GoogleDisconnect(ctx context.Context, tenantID string, ownerUserID int64) error {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return err
	}
	secret, err := s.readSecret(ctx, tenantID)
	if err != nil {
		return err
	}
	secret.Google = nil
	secret.GoogleOAuthLastError = ""
	if err := s.writeSecret(ctx, tenantID, secret); err != nil {
		return err
	}
	if _, err := s.runnerCall(ctx, tenantID, "google_disconnect", func() (map[string]any, error) {
		return s.runner.GoogleDisconnect(ctx, tenantID)
	}); err != nil {
		return err
	}
	s.emit(ctx, tenantID, "google.disconnected", nil)
	s.recordAdminAction(ownerUserID, tenantID, "google_disconnect", nil)
	return nil
}

func (s *Service) recordGoogleOAuthError(ctx context.Context, tenantID, message string) {
	secret, err := s.readSecret(ctx, tenantID)
	if err != nil {
		return
	}
	secret.GoogleOAuthLastError = message
	_ = s.writeSecret(ctx, tenantID, secret)
}

func wrapOAuthErr(err error, status int) error {
	if oerr, ok := err.(*googleoauth.OAuthError); ok {
		return &Error{Status: status, Code: oerr.Code, Message: oerr.Message}
	}
	return newErr(status, "google_oauth_error", "%v", err)
}
