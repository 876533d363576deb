package userauth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nexusruntime/nexus/internal/db"
	"github.com/nexusruntime/nexus/internal/httpserver"
	"github.com/nexusruntime/nexus/internal/tokens"
)

// Limiter is the subset of internal/ratelimit's limiters the signup handler
// needs, kept as an interface so the Redis-backed and in-memory limiters are
// interchangeable.
type Limiter interface {
	Check(ctx context.Context, key string) error
}

// Service implements signup/login/refresh over the users table.
type Service struct {
	queries      *db.Queries
	tokenService *tokens.Service
	signupLimit  Limiter
}

// New constructs a Service.
func New(queries *db.Queries, tokenService *tokens.Service, signupLimit Limiter) *Service {
	return &Service{queries: queries, tokenService: tokenService, signupLimit: signupLimit}
}

// TokenService exposes the underlying token Service for callers (the
// WebSocket event stream) that need to verify a user token outside the
// Signup/Login/Refresh/RequireUser handlers.
func (s *Service) TokenService() *tokens.Service { return s.tokenService }

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userOut struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type authTokens struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

type authResponse struct {
	User   userOut    `json:"user"`
	Tokens authTokens `json:"tokens"`
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Signup registers a new user, rate-limited per client address.
func (s *Service) Signup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.signupLimit.Check(ctx, clientKey(r)); err != nil {
		httpserver.RespondDetailError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
		return
	}

	var body signupRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpserver.RespondDetailError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" || body.Password == "" {
		httpserver.RespondDetailError(w, http.StatusBadRequest, "invalid_request", "Email and password are required")
		return
	}

	existing, err := s.queries.GetUserByEmail(ctx, email)
	if err == nil && existing.ID != 0 {
		httpserver.RespondDetailError(w, http.StatusConflict, "email_already_registered", "Email already registered")
		return
	}

	hash, err := HashPassword(body.Password)
	if err != nil {
		httpserver.RespondDetailError(w, http.StatusInternalServerError, "password_hash_failed", err.Error())
		return
	}

	user, err := s.queries.CreateUser(ctx, email, hash)
	if err != nil {
		if db.IsUniqueViolation(err) {
			httpserver.RespondDetailError(w, http.StatusConflict, "email_already_registered", "Email already registered")
			return
		}
		httpserver.RespondDetailError(w, http.StatusInternalServerError, "signup_failed", err.Error())
		return
	}

	s.respondWithTokens(w, user)
}

// Login authenticates an existing user by email+password.
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body loginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpserver.RespondDetailError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))

	user, err := s.queries.GetUserByEmail(ctx, email)
	if err != nil || !VerifyPassword(body.Password, user.PasswordHash) {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
		return
	}

	s.respondWithTokens(w, user)
}

// Refresh exchanges a valid refresh token for a fresh access+refresh pair.
func (s *Service) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpserver.RespondDetailError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return
	}

	claims, err := s.tokenService.VerifyUserToken(body.RefreshToken, "refresh")
	if err != nil {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "invalid_token", "Invalid refresh token")
		return
	}

	userID, err := parseUserID(claims.Subject)
	if err != nil {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "invalid_token", "Invalid refresh token")
		return
	}

	user, err := s.queries.GetUserByID(ctx, userID)
	if err != nil {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "invalid_token", "User not found")
		return
	}

	access, expires, err := s.tokenService.IssueAccessToken(itoa(user.ID), user.Email)
	if err != nil {
		httpserver.RespondDetailError(w, http.StatusInternalServerError, "token_issue_failed", err.Error())
		return
	}
	refresh, err := s.tokenService.IssueRefreshToken(itoa(user.ID))
	if err != nil {
		httpserver.RespondDetailError(w, http.StatusInternalServerError, "token_issue_failed", err.Error())
		return
	}

	httpserver.Respond(w, http.StatusOK, authTokens{AccessToken: access, RefreshToken: refresh, ExpiresInSeconds: expires})
}

func (s *Service) respondWithTokens(w http.ResponseWriter, user db.User) {
	access, expires, err := s.tokenService.IssueAccessToken(itoa(user.ID), user.Email)
	if err != nil {
		httpserver.RespondDetailError(w, http.StatusInternalServerError, "token_issue_failed", err.Error())
		return
	}
	refresh, err := s.tokenService.IssueRefreshToken(itoa(user.ID))
	if err != nil {
		httpserver.RespondDetailError(w, http.StatusInternalServerError, "token_issue_failed", err.Error())
		return
	}

	httpserver.Respond(w, http.StatusOK, authResponse{
		User: userOut{ID: user.ID, Email: user.Email, CreatedAt: user.CreatedAt},
		Tokens: authTokens{
			AccessToken:      access,
			RefreshToken:     refresh,
			ExpiresInSeconds: expires,
		},
	})
}
