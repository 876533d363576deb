package orchestrator

import "context"

// StatusResult is the tenant runtime status surfaced to callers.
type StatusResult struct {
	TenantID     string
	DesiredState string
	ActualState  string
	LastHeartbeat string
	LastError    *string
}

// GetStatus best-effort-probes the Runner's health endpoint and reconciles
// the observed container state into actual_state, without overriding states
// the event stream has already projected (e.g. pending_pairing).
func (s *Service) GetStatus(ctx context.Context, tenantID string, ownerUserID int64) (StatusResult, error) {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return StatusResult{}, err
	}
	rt, err := s.runtimeForTenant(ctx, tenantID)
	if err != nil {
		return StatusResult{}, err
	}

	containerRunning := false
	if health, err := s.runner.Health(ctx, tenantID); err == nil {
		if running, ok := health["container_running"].(bool); ok {
			containerRunning = running
		}
	}

	actual := rt.ActualState
	switch {
	case containerRunning && (actual == "provisioning" || actual == "paused") && rt.DesiredState == "running":
		actual = "running"
	case !containerRunning && actual != "error" && actual != "deleted" && actual != "provisioning":
		actual = "paused"
	}

	var lastError *string
	if actual == "error" {
		lastError = rt.LastError
	}

	updated, err := s.q.UpdateActualState(ctx, tenantID, actual, lastError, nowHeartbeat())
	if err != nil {
		return StatusResult{}, err
	}

	var heartbeat string
	if updated.LastHeartbeat != nil {
		heartbeat = updated.LastHeartbeat.Format("2006-01-02T15:04:05Z07:00")
	}

	return StatusResult{
		TenantID:      tenantID,
		DesiredState:  updated.DesiredState,
		ActualState:   updated.ActualState,
		LastHeartbeat: heartbeat,
		LastError:     updated.LastError,
	}, nil
}

func (s *Service) setRuntimeState(ctx context.Context, tenantID, state string) error {
	if err := s.q.UpdateDesiredState(ctx, tenantID, state); err != nil {
		return err
	}
	if _, err := s.q.UpdateActualState(ctx, tenantID, state, nil, nowHeartbeat()); err != nil {
		return err
	}
	s.emit(ctx, tenantID, "runtime.status", map[string]any{"state": state})
	return nil
}

// Start starts a stopped tenant runtime, requiring an OpenRouter API key.
func (s *Service) Start(ctx context.Context, tenantID string, ownerUserID int64) error {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return err
	}
	if err := s.requireOpenRouterAPIKey(ctx, tenantID); err != nil {
		return err
	}
	if _, err := s.runnerCall(ctx, tenantID, "start", func() (map[string]any, error) {
		return s.runner.Start(ctx, tenantID, map[string]any{"nexus_image": s.nexusImage})
	}); err != nil {
		return err
	}
	if err := s.setRuntimeState(ctx, tenantID, "running"); err != nil {
		return err
	}
	s.recordAdminAction(ownerUserID, tenantID, "runtime_start", nil)
	return nil
}

// Stop stops a running tenant runtime.
func (s *Service) Stop(ctx context.Context, tenantID string, ownerUserID int64) error {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return err
	}
	if _, err := s.runnerCall(ctx, tenantID, "stop", func() (map[string]any, error) {
		return s.runner.Stop(ctx, tenantID)
	}); err != nil {
		return err
	}
	if err := s.setRuntimeState(ctx, tenantID, "paused"); err != nil {
		return err
	}
	s.recordAdminAction(ownerUserID, tenantID, "runtime_stop", nil)
	return nil
}

// Restart restarts a tenant runtime, requiring an OpenRouter API key.
func (s *Service) Restart(ctx context.Context, tenantID string, ownerUserID int64) error {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return err
	}
	if err := s.requireOpenRouterAPIKey(ctx, tenantID); err != nil {
		return err
	}
	if _, err := s.runnerCall(ctx, tenantID, "restart", func() (map[string]any, error) {
		return s.runner.Restart(ctx, tenantID, map[string]any{"nexus_image": s.nexusImage})
	}); err != nil {
		return err
	}
	if err := s.setRuntimeState(ctx, tenantID, "running"); err != nil {
		return err
	}
	s.recordAdminAction(ownerUserID, tenantID, "runtime_restart", nil)
	return nil
}

// PairStart begins a new WhatsApp pairing flow, requiring an OpenRouter API key.
func (s *Service) PairStart(ctx context.Context, tenantID string, ownerUserID int64) error {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return err
	}
	if err := s.requireOpenRouterAPIKey(ctx, tenantID); err != nil {
		return err
	}
	if _, err := s.runnerCall(ctx, tenantID, "pair_start", func() (map[string]any, error) {
		return s.runner.PairStart(ctx, tenantID, map[string]any{"nexus_image": s.nexusImage})
	}); err != nil {
		return err
	}
	if err := s.setRuntimeState(ctx, tenantID, "pending_pairing"); err != nil {
		return err
	}
	s.recordAdminAction(ownerUserID, tenantID, "whatsapp_pair_start", nil)
	return nil
}

// Disconnect tears down the active WhatsApp session. It does not write the
// runtime's desired/actual state itself; it emits a whatsapp.disconnected
// event, which the Event Bus projection maps onto actual_state.
func (s *Service) Disconnect(ctx context.Context, tenantID string, ownerUserID int64) error {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return err
	}
	if _, err := s.runnerCall(ctx, tenantID, "whatsapp_disconnect", func() (map[string]any, error) {
		return s.runner.Disconnect(ctx, tenantID)
	}); err != nil {
		return err
	}
	s.emit(ctx, tenantID, "whatsapp.disconnected", map[string]any{"reason": "requested"})
	s.recordAdminAction(ownerUserID, tenantID, "whatsapp_disconnect", nil)
	return nil
}
