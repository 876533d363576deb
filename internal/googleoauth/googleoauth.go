// Package googleoauth implements the Google OAuth linkage used by §4.4.5:
// origin validation, consent-URL construction, and the authorization-code
// token exchange. Grounded directly on original_source's google_oauth.py,
// with the exchange itself built on golang.org/x/oauth2 rather than a
// hand-rolled HTTP call.
package googleoauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes is the fixed OAuth scope list requested on every consent URL.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/calendar.events",
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/drive.file",
	"https://www.googleapis.com/auth/contacts.readonly",
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/documents",
}

// OAuthError carries one of the §7 google_oauth_* error codes.
type OAuthError struct {
	Code    string
	Message string
}

func (e *OAuthError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func newErr(code, format string, args ...any) *OAuthError {
	return &OAuthError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Config holds the Google OAuth client configuration read from the
// environment.
type Config struct {
	ClientID       string
	ClientSecret   string
	RedirectURI    string
	AllowedOrigins []string
}

// oauth2Config adapts Config into the shape golang.org/x/oauth2 expects.
func oauth2Config(cfg Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}
}

func normalizeOrigin(raw string) string {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return ""
	}
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
}

// ParseAllowedOrigins normalizes an already-split origin list into a set,
// dropping entries that do not normalize to a scheme://host origin.
func ParseAllowedOrigins(values []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, raw := range values {
		if n := normalizeOrigin(raw); n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}

// RequestOrigin resolves the caller's origin from the Origin header, falling
// back to Referer, then to the request's own scheme+host.
func RequestOrigin(r *http.Request) string {
	if origin := normalizeOrigin(r.Header.Get("Origin")); origin != "" {
		return origin
	}
	if referer := r.Header.Get("Referer"); referer != "" {
		if parsed, err := url.Parse(referer); err == nil {
			if n := normalizeOrigin(parsed.Scheme + "://" + parsed.Host); n != "" {
				return n
			}
		}
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return normalizeOrigin(scheme + "://" + r.Host)
}

// EnsureConfigured returns a google_oauth_not_configured error naming every
// missing setting.
func EnsureConfigured(cfg Config) error {
	var missing []string
	if strings.TrimSpace(cfg.ClientID) == "" {
		missing = append(missing, "GOOGLE_OAUTH_CLIENT_ID")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		missing = append(missing, "GOOGLE_OAUTH_CLIENT_SECRET")
	}
	if strings.TrimSpace(cfg.RedirectURI) == "" {
		missing = append(missing, "GOOGLE_OAUTH_REDIRECT_URI")
	}
	if len(cfg.AllowedOrigins) == 0 {
		missing = append(missing, "GOOGLE_OAUTH_ALLOWED_ORIGINS")
	}
	if len(missing) > 0 {
		return newErr("google_oauth_not_configured", "missing Google OAuth config: %s", strings.Join(missing, ", "))
	}
	return nil
}

// EnsureOriginAllowed checks a resolved request origin against the allowed set.
func EnsureOriginAllowed(origin string, allowed map[string]struct{}) error {
	if origin == "" {
		return newErr("google_oauth_origin_missing", "could not resolve request origin")
	}
	if _, ok := allowed[origin]; !ok {
		return newErr("google_oauth_origin_forbidden", "origin not allowed: %s", origin)
	}
	return nil
}

// BuildConsentURL builds the Google consent screen URL for state.
func BuildConsentURL(clientID, redirectURI, state string) string {
	cfg := oauth2Config(Config{ClientID: clientID, RedirectURI: redirectURI})
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// TokenResponse is the normalized shape callers work with, built from the
// oauth2.Token golang.org/x/oauth2 returns.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	Scope        string
}

// Scopes splits the token response's space-separated scope string, falling
// back to the requested Scopes list if Google omitted it.
func (t TokenResponse) Scopes() []string {
	if t.Scope == "" {
		return Scopes
	}
	return strings.Fields(t.Scope)
}

// ExpiryTime converts ExpiresIn into an absolute timestamp.
func (t TokenResponse) ExpiryTime() time.Time {
	if t.ExpiresIn <= 0 {
		return time.Time{}
	}
	return time.Now().UTC().Add(time.Duration(t.ExpiresIn) * time.Second)
}

// ExchangeCode exchanges an authorization code for tokens via
// golang.org/x/oauth2's Exchange, translating any failure into a
// google_token_exchange_failed OAuthError.
func ExchangeCode(ctx context.Context, cfg Config, code string) (*TokenResponse, error) {
	oc := oauth2Config(cfg)
	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		return nil, newErr("google_token_exchange_failed", "%v", err)
	}

	expiresIn := 0
	if !tok.Expiry.IsZero() {
		if d := time.Until(tok.Expiry); d > 0 {
			expiresIn = int(d.Seconds())
		}
	}
	scope, _ := tok.Extra("scope").(string)

	return &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    expiresIn,
		Scope:        scope,
	}, nil
}
