package events

import (
	"context"
	"fmt"
	"time"
)

// projectRuntimeState folds an event onto tenant_runtimes.actual_state /
// last_error and tenants.status (§4.5.1). Only a handful of event types
// carry runtime-state information; everything else is a no-op here, it
// still gets persisted to the log and broadcast by the caller.
func (b *Bus) projectRuntimeState(ctx context.Context, tenantID, eventType string, payload map[string]any) error {
	if _, err := b.q.GetTenantRuntime(ctx, tenantID); err != nil {
		return nil // no runtime row yet (tenant not yet provisioned); nothing to project
	}

	mappedState, mappedError := mapEventToState(eventType, payload)
	if mappedState == "" {
		return nil
	}

	var lastErr *string
	if mappedState == "error" {
		lastErr = &mappedError
	}

	if _, err := b.q.UpdateActualState(ctx, tenantID, mappedState, lastErr, time.Now()); err != nil {
		return fmt.Errorf("projecting runtime state: %w", err)
	}
	if _, err := b.q.UpdateTenantStatus(ctx, tenantID, mappedState); err != nil {
		return fmt.Errorf("projecting tenant status: %w", err)
	}
	return nil
}

// runtimeStateSet is the documented actual_state domain (§4.5.1); any other
// value in a runtime.status payload is left unprojected rather than fed
// straight into tenant_runtimes.actual_state / tenants.status.
var runtimeStateSet = map[string]bool{
	"provisioning":    true,
	"pending_pairing": true,
	"running":         true,
	"paused":          true,
	"error":           true,
	"deleted":         true,
}

// mapEventToState mirrors the teacher's _project_runtime_state dispatch:
// runtime.status carries an explicit state, runtime.error always means
// "error", and the two WhatsApp connection events imply running/
// pending_pairing respectively.
func mapEventToState(eventType string, payload map[string]any) (state, errMsg string) {
	switch eventType {
	case "runtime.status":
		s, _ := payload["state"].(string)
		if !runtimeStateSet[s] {
			return "", ""
		}
		if s == "error" {
			return s, errorMessage(payload)
		}
		return s, ""
	case "runtime.error":
		return "error", errorMessage(payload)
	case "whatsapp.connected":
		return "running", ""
	case "whatsapp.disconnected":
		return "pending_pairing", ""
	default:
		return "", ""
	}
}

func errorMessage(payload map[string]any) string {
	if msg, ok := payload["message"].(string); ok && msg != "" {
		return msg
	}
	if msg, ok := payload["error"].(string); ok && msg != "" {
		return msg
	}
	return "runtime_error"
}
