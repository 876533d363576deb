package controlapi

import (
	"fmt"
	"html"
	"net/http"

	"github.com/nexusruntime/nexus/internal/googleoauth"
	"github.com/nexusruntime/nexus/internal/httpserver"
)

func (s *Server) handleGoogleConnectStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	origin := googleoauth.RequestOrigin(r)
	url, err := s.orch.GoogleConnectStart(r.Context(), tenantID(r), userID, origin)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"consent_url": url})
}

func (s *Server) handleGoogleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	status, err := s.orch.GoogleStatus(r.Context(), tenantID(r), userID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, status)
}

func (s *Server) handleGoogleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	s.runtimeAction(w, r, func() error { return s.orch.GoogleDisconnect(r.Context(), tenantID(r), userID) })
}

// handleGoogleCallback is the one route in this package that is public: the
// browser lands here straight off Google's redirect with no bearer token,
// carrying only the signed state nonce. The response is always an HTML page
// that posts a structured message back to window.opener and closes itself,
// regardless of whether the link succeeded.
func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")

	if errParam := q.Get("error"); errParam != "" {
		writeOpenerPage(w, "", false, "google_oauth_denied", errParam)
		return
	}
	code := q.Get("code")
	if code == "" {
		writeOpenerPage(w, "", false, "google_oauth_missing_code", "missing authorization code")
		return
	}

	result := s.orch.GoogleCallback(r.Context(), state, code)
	writeOpenerPage(w, result.Origin, result.Success, result.Code, result.Message)
}

// writeOpenerPage renders the postMessage popup payload §4.4.5 describes,
// scoped to the originating window when an origin could be resolved.
func writeOpenerPage(w http.ResponseWriter, origin string, success bool, errorCode, message string) {
	targetOrigin := origin
	if targetOrigin == "" {
		targetOrigin = "*"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Google account linked</title></head>
<body>
<script>
  (function() {
    var payload = {type: "google_oauth_result", success: %t, error: %q, message: %q};
    if (window.opener) {
      window.opener.postMessage(payload, %q);
    }
    window.close();
  })();
</script>
<p>%s</p>
</body></html>`, success, errorCode, message, targetOrigin, html.EscapeString(statusText(success, message)))
}

func statusText(success bool, message string) string {
	if success {
		return "Google account linked. You can close this window."
	}
	if message == "" {
		return "Could not link your Google account. You can close this window."
	}
	return "Could not link your Google account: " + message
}
