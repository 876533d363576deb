package controlapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexusruntime/nexus/internal/httpserver"
)

type tenantOut struct {
	TenantID      string  `json:"tenant_id"`
	Status        string  `json:"status,omitempty"`
	DesiredState  string  `json:"desired_state"`
	ActualState   string  `json:"actual_state"`
	LastHeartbeat string  `json:"last_heartbeat,omitempty"`
	LastError     *string `json:"last_error"`
}

type setupRequest struct {
	InitialConfig map[string]string `json:"initial_config"`
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	var body setupRequest
	_ = json.NewDecoder(r.Body).Decode(&body)

	result, err := s.orch.Setup(r.Context(), userID, body.InitialConfig)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, tenantOut{
		TenantID:     result.TenantID,
		Status:       result.Status,
		DesiredState: result.DesiredState,
		ActualState:  result.ActualState,
		LastError:    result.LastError,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	result, err := s.orch.GetStatus(r.Context(), tenantID(r), userID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, tenantOut{
		TenantID:      result.TenantID,
		DesiredState:  result.DesiredState,
		ActualState:   result.ActualState,
		LastHeartbeat: result.LastHeartbeat,
		LastError:     result.LastError,
	})
}

// runtimeAction adapts a no-return-value orchestrator call (Start, Stop, ...)
// into a uniform {status:"ok"} response, since every one of them only
// surfaces an error or success.
func (s *Server) runtimeAction(w http.ResponseWriter, r *http.Request, call func() error) {
	if err := call(); err != nil {
		writeOrchestratorError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	s.runtimeAction(w, r, func() error { return s.orch.Start(r.Context(), tenantID(r), userID) })
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	s.runtimeAction(w, r, func() error { return s.orch.Stop(r.Context(), tenantID(r), userID) })
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	s.runtimeAction(w, r, func() error { return s.orch.Restart(r.Context(), tenantID(r), userID) })
}

func (s *Server) handlePairStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	s.runtimeAction(w, r, func() error { return s.orch.PairStart(r.Context(), tenantID(r), userID) })
}

func (s *Server) handleWhatsAppDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	s.runtimeAction(w, r, func() error { return s.orch.Disconnect(r.Context(), tenantID(r), userID) })
}

func (s *Server) handleAssistantBootstrap(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	result, err := s.orch.BootstrapAssistant(r.Context(), tenantID(r), userID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	cfg, err := s.orch.GetConfig(r.Context(), tenantID(r), userID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, cfg)
}

type patchConfigRequest struct {
	Values     map[string]string `json:"values"`
	RemoveKeys []string          `json:"remove_keys"`
}

func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	var body patchConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpserver.RespondDetailError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	cfg, err := s.orch.PatchConfig(r.Context(), tenantID(r), userID, body.Values, body.RemoveKeys)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, cfg)
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	prompts, err := s.orch.ListPrompts(r.Context(), tenantID(r), userID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, prompts)
}

type putContentRequest struct {
	Content string `json:"content"`
}

func (s *Server) handlePutPrompt(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	var body putContentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpserver.RespondDetailError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	name := chi.URLParam(r, "name")
	prompt, err := s.orch.PutPrompt(r.Context(), tenantID(r), userID, name, body.Content)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, prompt)
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	skills, err := s.orch.ListSkills(r.Context(), tenantID(r), userID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, skills)
}

func (s *Server) handlePutSkill(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerUserID(r)
	if !ok {
		httpserver.RespondDetailError(w, http.StatusUnauthorized, "missing_bearer_token", "missing bearer token")
		return
	}
	var body putContentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpserver.RespondDetailError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	skillID := chi.URLParam(r, "skillID")
	skill, err := s.orch.PutSkill(r.Context(), tenantID(r), userID, skillID, body.Content)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, skill)
}
