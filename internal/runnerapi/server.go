// Package runnerapi implements the Runner's internal tenant-management API
// (§4.6/§6): the HTTP surface the Control Plane's runnerclient.Client calls,
// authenticated by a per-action runner token and dispatching to the Runtime
// Manager, Bridge Monitor, and Reconciler.
package runnerapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nexusruntime/nexus/internal/bridgemonitor"
	"github.com/nexusruntime/nexus/internal/httpserver"
	"github.com/nexusruntime/nexus/internal/reconciler"
	"github.com/nexusruntime/nexus/internal/runtimemanager"
	"github.com/nexusruntime/nexus/internal/tokens"
)

// Server holds every dependency the Runner's internal API dispatches to.
type Server struct {
	manager     *runtimemanager.Manager
	monitor     *bridgemonitor.Monitor
	reconciler  *reconciler.Reconciler
	tokenSvc    *tokens.Service
	logger      *slog.Logger
}

// New constructs a Server.
func New(manager *runtimemanager.Manager, monitor *bridgemonitor.Monitor, rec *reconciler.Reconciler, tokenSvc *tokens.Service, logger *slog.Logger) *Server {
	return &Server{manager: manager, monitor: monitor, reconciler: rec, tokenSvc: tokenSvc, logger: logger}
}

// Mount wires every /internal/tenants/... route onto r.
func (s *Server) Mount(r chi.Router) {
	r.Route("/internal/tenants/{tenantID}", func(r chi.Router) {
		r.Post("/provision", s.authorize("provision", s.handleProvision))
		r.Post("/start", s.authorize("start", s.handleStart))
		r.Post("/stop", s.authorize("stop", s.handleStop))
		r.Post("/restart", s.authorize("restart", s.handleRestart))
		r.Post("/pair/start", s.authorize("pair_start", s.handlePairStart))
		r.Post("/whatsapp/disconnect", s.authorize("whatsapp_disconnect", s.handleDisconnect))
		r.Post("/apply-config", s.authorize("apply_config", s.handleApplyConfig))
		r.Get("/health", s.authorize("health", s.handleHealth))
		r.Delete("/", s.authorize("delete", s.handleDelete))
		r.Post("/google/connect", s.authorize("google_connect", s.handleGoogleConnect))
		r.Post("/google/disconnect", s.authorize("google_disconnect", s.handleGoogleDisconnect))
	})
}

// authorize verifies the bearer token is scoped to this tenant and action
// before calling next.
func (s *Server) authorize(action string, next func(w http.ResponseWriter, r *http.Request, tenantID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_token", "missing Authorization header")
			return
		}
		if _, err := s.tokenSvc.VerifyRunnerToken(raw, tenantID, action); err != nil {
			code := "invalid_token"
			if terr, ok := err.(*tokens.TokenError); ok {
				code = terr.Code
			}
			httpserver.RespondDetailError(w, http.StatusUnauthorized, code, err.Error())
			return
		}
		next(w, r, tenantID)
	}
}

func decodeBody(r *http.Request, dest any) error {
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

func (s *Server) writeRuntimeError(w http.ResponseWriter, err error) {
	rerr, ok := err.(*runtimemanager.RuntimeError)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusBadGateway, "runner_internal_error", err.Error())
		return
	}
	httpserver.RespondDetailError(w, runtimeErrorStatus(rerr.Code), rerr.Code, rerr.Message)
}

func runtimeErrorStatus(code string) int {
	switch code {
	case runtimemanager.ErrInvalidTenantID, runtimemanager.ErrInvalidTenantPath, runtimemanager.ErrInvalidConfigItem,
		runtimemanager.ErrUnsafePath, runtimemanager.ErrNexusImageInvalid:
		return http.StatusBadRequest
	case runtimemanager.ErrTenantNotFound, runtimemanager.ErrComposeMissing:
		return http.StatusNotFound
	case runtimemanager.ErrTemplateMissing:
		return http.StatusInternalServerError
	case runtimemanager.ErrDockerUnavailable:
		return http.StatusServiceUnavailable
	case runtimemanager.ErrDockerCommandFailed:
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

type provisionRequest struct {
	NexusImage         string            `json:"nexus_image"`
	RuntimeEnv         map[string]string `json:"runtime_env"`
	BridgeSharedSecret string            `json:"bridge_shared_secret"`
	Prompts            map[string]string `json:"prompts"`
	Skills             map[string]string `json:"skills"`
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req provisionRequest
	if err := decodeBody(r, &req); err != nil {
		httpserver.RespondDetailError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	ctx := r.Context()

	if err := s.manager.EnsureLayout(tenantID); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	env := req.RuntimeEnv
	if env == nil {
		env = map[string]string{}
	}
	env["BRIDGE_SHARED_SECRET"] = req.BridgeSharedSecret
	if err := s.manager.WriteRuntimeEnv(tenantID, env); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	envAny := make(map[string]any, len(env))
	for k, v := range env {
		envAny[k] = v
	}
	if err := s.manager.WriteConfigFiles(tenantID, envAny, req.Prompts, req.Skills); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	if err := s.manager.WriteCompose(tenantID, req.NexusImage); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	if err := s.manager.ComposeUp(ctx, tenantID, req.NexusImage); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	s.monitor.Start(context.WithoutCancel(ctx), tenantID)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "provisioned"})
}

type nexusImageRequest struct {
	NexusImage string `json:"nexus_image"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req nexusImageRequest
	if err := decodeBody(r, &req); err != nil {
		httpserver.RespondDetailError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	if err := s.manager.ComposeStart(r.Context(), tenantID, req.NexusImage); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	s.monitor.Start(context.WithoutCancel(r.Context()), tenantID)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, tenantID string) {
	if err := s.manager.ComposeStop(r.Context(), tenantID); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	s.monitor.Stop(tenantID)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req nexusImageRequest
	if err := decodeBody(r, &req); err != nil {
		httpserver.RespondDetailError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	if err := s.manager.ComposeRestart(r.Context(), tenantID, req.NexusImage); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	s.monitor.Start(context.WithoutCancel(r.Context()), tenantID)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "restarted"})
}

// handlePairStart clears any existing WhatsApp session before restarting,
// so the tenant runtime boots straight into a fresh pairing flow.
func (s *Server) handlePairStart(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req nexusImageRequest
	if err := decodeBody(r, &req); err != nil {
		httpserver.RespondDetailError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	ctx := r.Context()
	if err := s.manager.ClearSessionVolume(ctx, tenantID); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	if err := s.manager.ComposeStart(ctx, tenantID, req.NexusImage); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	s.monitor.Start(context.WithoutCancel(ctx), tenantID)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "pending_pairing"})
}

// handleDisconnect tears down the active WhatsApp session and lets the
// container come back up without one, so the next message to the bridge
// triggers a fresh QR pairing.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request, tenantID string) {
	ctx := r.Context()
	if err := s.manager.ClearSessionVolume(ctx, tenantID); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	if err := s.manager.ComposeRestart(ctx, tenantID, ""); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

type applyConfigRequest struct {
	Env            map[string]any    `json:"env"`
	Prompts        map[string]string `json:"prompts"`
	Skills         map[string]string `json:"skills"`
	ConfigRevision int32             `json:"config_revision,omitempty"`
}

func (s *Server) handleApplyConfig(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req applyConfigRequest
	if err := decodeBody(r, &req); err != nil {
		httpserver.RespondDetailError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	if err := s.manager.WriteConfigFiles(tenantID, req.Env, req.Prompts, req.Skills); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, tenantID string) {
	ctx := r.Context()
	running, status, err := s.manager.IsRunning(ctx, tenantID)
	if err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"container_running":  running,
		"container_status":   status,
		"docker_available":   s.manager.DockerAvailable(ctx),
		"last_reconcile_at":  s.reconciler.LastReconcileAt(),
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, tenantID string) {
	ctx := r.Context()
	s.monitor.Stop(tenantID)
	if err := s.manager.ComposeDown(ctx, tenantID, true); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	if err := s.manager.DeleteTenantFiles(tenantID); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type googleConnectRequest struct {
	TokenJSON map[string]any `json:"token_json"`
	Scopes    []string       `json:"scopes"`
}

func (s *Server) handleGoogleConnect(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req googleConnectRequest
	if err := decodeBody(r, &req); err != nil {
		httpserver.RespondDetailError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	raw, err := json.Marshal(req.TokenJSON)
	if err != nil {
		httpserver.RespondDetailError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	if err := s.manager.WriteGoogleToken(tenantID, raw); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "connected"})
}

func (s *Server) handleGoogleDisconnect(w http.ResponseWriter, r *http.Request, tenantID string) {
	if err := s.manager.ClearGoogleToken(tenantID); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "disconnected"})
}
