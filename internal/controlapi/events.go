package controlapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nexusruntime/nexus/internal/events"
	"github.com/nexusruntime/nexus/internal/httpserver"
	"github.com/nexusruntime/nexus/internal/tokens"
)

func (s *Server) handleEventsRecent(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	id := tenantID(r)
	if err := s.orch.VerifyTenantOwner(r.Context(), id, userID); err != nil {
		writeOrchestratorError(w, err)
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	afterEventID, _ := strconv.ParseInt(q.Get("after_event_id"), 10, 64)
	var types []string
	if raw := q.Get("types"); raw != "" {
		types = strings.Split(raw, ",")
	}

	recent, err := s.bus.RecentEvents(r.Context(), id, afterEventID, int32(limit), types)
	if err != nil {
		httpserver.RespondDetailError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, recent)
}

// handleEventsWS authenticates via the `token` query parameter (the
// WebSocket handshake carries no Authorization header from a browser
// client), verifies the caller owns tenant_id, then hands off to the Event
// Bus's upgrade-replay-stream loop. Any failure closes with code 1008 per
// §4.5.2/§6.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("tenant_id")

	claims, err := s.authTokenService().VerifyUserToken(q.Get("token"), "access")
	if err != nil {
		events.RejectUnauthorized(w, r, "invalid or expired access token")
		return
	}
	userID, parseErr := strconv.ParseInt(claims.Subject, 10, 64)
	if parseErr != nil {
		events.RejectUnauthorized(w, r, "invalid token subject")
		return
	}
	if id == "" {
		events.RejectUnauthorized(w, r, "tenant_id is required")
		return
	}
	if err := s.orch.VerifyTenantOwner(r.Context(), id, userID); err != nil {
		events.RejectUnauthorized(w, r, "foreign tenant")
		return
	}

	replay := events.ReplayParams{AfterEventID: 0, Limit: 20}
	if raw := q.Get("replay"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			replay.Limit = int32(n)
		}
	}
	if raw := q.Get("after_event_id"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			replay.AfterEventID = n
		}
	}

	if err := s.bus.ServeTenantEvents(w, r, id, replay); err != nil {
		s.logger.Warn("events ws session ended", "tenant_id", id, "error", err)
	}
}

// authTokenService exposes the token service the Server needs to verify the
// WebSocket's query-param access token; Signup/Login/Refresh already do
// this verification inside userauth.Service, so the Server borrows the same
// instance rather than taking a second constructor parameter.
func (s *Server) authTokenService() *tokens.Service {
	return s.auth.TokenService()
}
