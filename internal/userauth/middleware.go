package userauth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/nexusruntime/nexus/internal/db"
	"github.com/nexusruntime/nexus/internal/httpserver"
)

type contextKey string

const userContextKey contextKey = "userauth_user"

// UserFromContext returns the authenticated user stashed by RequireUser.
func UserFromContext(ctx context.Context) (db.User, bool) {
	u, ok := ctx.Value(userContextKey).(db.User)
	return u, ok
}

// RequireUser is bearer-token auth middleware: it verifies the Authorization
// header as a user access token and loads the corresponding row, mirroring
// deps.py's get_current_user.
func (s *Service) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_token", "Missing bearer token")
			return
		}
		raw := strings.TrimPrefix(header, prefix)

		claims, err := s.tokenService.VerifyUserToken(raw, "access")
		if err != nil {
			httpserver.RespondDetailError(w, http.StatusUnauthorized, "invalid_token", "Invalid token")
			return
		}

		userID, err := parseUserID(claims.Subject)
		if err != nil {
			httpserver.RespondDetailError(w, http.StatusUnauthorized, "invalid_token", "Invalid token")
			return
		}

		user, err := s.queries.GetUserByID(r.Context(), userID)
		if err != nil {
			httpserver.RespondDetailError(w, http.StatusUnauthorized, "invalid_token", "User not found")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func parseUserID(sub string) (int64, error) { return strconv.ParseInt(sub, 10, 64) }
