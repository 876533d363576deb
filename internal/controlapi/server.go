// Package controlapi is the Control Plane's public HTTP+WebSocket surface
// (§6): thin handlers over the Tenant Orchestrator, the Event Bus, and the
// user-auth Service, grounded on the teacher's per-domain handler packages
// (pkg/incident, pkg/alert, ...), each exposing a Routes()/Mount-style chi
// wiring method.
package controlapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexusruntime/nexus/internal/events"
	"github.com/nexusruntime/nexus/internal/httpserver"
	"github.com/nexusruntime/nexus/internal/orchestrator"
	"github.com/nexusruntime/nexus/internal/userauth"
)

// Server wires the orchestrator and event bus onto the public route tree.
type Server struct {
	orch *orchestrator.Service
	bus  *events.Bus
	auth *userauth.Service

	logger *slog.Logger
}

// New constructs a Server.
func New(orch *orchestrator.Service, bus *events.Bus, auth *userauth.Service, logger *slog.Logger) *Server {
	return &Server{orch: orch, bus: bus, auth: auth, logger: logger}
}

// Mount wires every /v1/... route onto r, including the public Google OAuth
// callback (reached via browser redirect, not a bearer token) and the
// WebSocket event stream (authenticated via its own `token` query param
// rather than an Authorization header).
func (s *Server) Mount(r chi.Router) {
	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/signup", s.auth.Signup)
		r.Post("/login", s.auth.Login)
		r.Post("/refresh", s.auth.Refresh)
	})

	r.Get("/v1/oauth/google/callback", s.handleGoogleCallback)
	r.Get("/v1/events/ws", s.handleEventsWS)

	r.Route("/v1/tenants", func(r chi.Router) {
		r.Use(s.auth.RequireUser)

		r.Post("/setup", s.handleSetup)
		r.Route("/{tenantID}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Route("/runtime", func(r chi.Router) {
				r.Post("/start", s.handleStart)
				r.Post("/stop", s.handleStop)
				r.Post("/restart", s.handleRestart)
			})
			r.Route("/whatsapp", func(r chi.Router) {
				r.Post("/pair/start", s.handlePairStart)
				r.Post("/disconnect", s.handleWhatsAppDisconnect)
			})
			r.Route("/google", func(r chi.Router) {
				r.Post("/connect/start", s.handleGoogleConnectStart)
				r.Get("/status", s.handleGoogleStatus)
				r.Post("/disconnect", s.handleGoogleDisconnect)
			})
			r.Post("/assistant/bootstrap", s.handleAssistantBootstrap)

			r.Get("/config", s.handleGetConfig)
			r.Patch("/config", s.handlePatchConfig)

			r.Get("/prompts", s.handleListPrompts)
			r.Put("/prompts/{name}", s.handlePutPrompt)

			r.Get("/skills", s.handleListSkills)
			r.Put("/skills/{skillID}", s.handlePutSkill)

			r.Get("/events/recent", s.handleEventsRecent)
		})
	})
}

// ownerUserID pulls the authenticated caller's id off the request context,
// set by userauth.Service.RequireUser.
func ownerUserID(r *http.Request) (int64, bool) {
	u, ok := userauth.UserFromContext(r.Context())
	if !ok {
		return 0, false
	}
	return u.ID, true
}

func tenantID(r *http.Request) string { return chi.URLParam(r, "tenantID") }

// writeOrchestratorError maps an *orchestrator.Error onto the runner-style
// {detail:{error,message}} envelope; any other error is a 500.
func writeOrchestratorError(w http.ResponseWriter, err error) {
	if oerr, ok := err.(*orchestrator.Error); ok {
		httpserver.RespondDetailError(w, oerr.Status, oerr.Code, oerr.Message)
		return
	}
	httpserver.RespondDetailError(w, http.StatusInternalServerError, "internal_error", err.Error())
}
