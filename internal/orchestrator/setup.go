package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nexusruntime/nexus/internal/assistant"
	"github.com/nexusruntime/nexus/internal/db"
	"github.com/nexusruntime/nexus/internal/runtimemanager"
)

const setupMaxAttempts = 3

// defaultInitialEnv is merged under the caller-supplied initial config on
// every Setup call.
func defaultInitialEnv() map[string]string {
	return map[string]string{
		"NEXUS_CLI_ENABLED": "false",
		"NEXUS_CONFIG_DIR":  "/data/config",
		"NEXUS_DATA_DIR":    "/data/state",
		"NEXUS_PROMPTS_DIR": "/data/config/prompts",
		"NEXUS_SKILLS_DIR":  "/data/config/skills",
	}
}

// SetupResult is what Setup returns: enough to render the tenant status the
// same way GetStatus would.
type SetupResult struct {
	TenantID     string
	Status       string
	DesiredState string
	ActualState  string
	LastError    *string
}

// Setup provisions a new tenant for ownerUserID, idempotently: an owner who
// already has a tenant gets that tenant back unchanged, regardless of its
// current state.
func (s *Service) Setup(ctx context.Context, ownerUserID int64, initialConfig map[string]string) (SetupResult, error) {
	if existing, err := s.q.GetTenantByOwner(ctx, ownerUserID); err == nil {
		return s.toSetupResult(ctx, existing)
	}

	env := defaultInitialEnv()
	for k, v := range initialConfig {
		env[k] = v
	}
	if strings.TrimSpace(env[openRouterAPIKeyEnvKey]) == "" {
		return SetupResult{}, openRouterAPIKeyRequiredError()
	}
	if err := runtimemanager.ValidateNexusImage(s.nexusImage); err != nil {
		message := err.Error()
		if rerr, ok := err.(*runtimemanager.RuntimeError); ok {
			message = rerr.Message
		}
		return SetupResult{}, newErr(400, "nexus_image_invalid", "%s", message)
	}

	var tenant db.Tenant
	var provisionErr error
	for attempt := 0; attempt < setupMaxAttempts; attempt++ {
		tenantID, err := randomTenantID()
		if err != nil {
			return SetupResult{}, err
		}

		created, err := s.createTenantRow(ctx, tenantID, ownerUserID, env)
		if err != nil {
			if db.IsUniqueViolation(err) {
				if existing, err2 := s.q.GetTenantByOwner(ctx, ownerUserID); err2 == nil {
					return s.toSetupResult(ctx, existing)
				}
				continue
			}
			return SetupResult{}, err
		}
		tenant = created
		provisionErr = nil
		break
	}
	if tenant.ID == "" {
		return SetupResult{}, newErr(409, "tenant_setup_conflict", "could not allocate a unique tenant id after %d attempts", setupMaxAttempts)
	}

	bridgeSecret, err := randomURLSafeToken(24)
	if err != nil {
		return SetupResult{}, err
	}
	if err := s.writeSecret(ctx, tenant.ID, tenantSecretPayload{
		BridgeSharedSecret:       bridgeSecret,
		AssistantDefaultsVersion: assistant.Version,
	}); err != nil {
		return SetupResult{}, err
	}

	prompts, skills, err := s.seedAssistantDefaults(ctx, tenant.ID)
	if err != nil {
		return SetupResult{}, err
	}

	payload := map[string]any{
		"tenant_id":           tenant.ID,
		"nexus_image":         s.nexusImage,
		"runtime_env":         env,
		"bridge_shared_secret": bridgeSecret,
		"prompts":             prompts,
		"skills":              skills,
	}

	_, provisionErr = s.runner.Provision(ctx, tenant.ID, payload)
	if provisionErr != nil {
		return s.recordProvisionFailure(ctx, tenant.ID, ownerUserID, provisionErr)
	}

	rt, err := s.q.UpdateActualState(ctx, tenant.ID, "pending_pairing", nil, nowHeartbeat())
	if err != nil {
		return SetupResult{}, err
	}
	if err := s.q.UpdateDesiredState(ctx, tenant.ID, "running"); err != nil {
		return SetupResult{}, err
	}
	if _, err := s.q.UpdateTenantStatus(ctx, tenant.ID, "pending_pairing"); err != nil {
		return SetupResult{}, err
	}
	s.emit(ctx, tenant.ID, "runtime.status", map[string]any{"state": "pending_pairing"})
	s.recordAdminAction(ownerUserID, tenant.ID, "tenant_setup", nil)

	return SetupResult{TenantID: tenant.ID, Status: "pending_pairing", DesiredState: "running", ActualState: rt.ActualState, LastError: nil}, nil
}

func (s *Service) createTenantRow(ctx context.Context, tenantID string, ownerUserID int64, env map[string]string) (db.Tenant, error) {
	tenant, err := s.q.CreateTenant(ctx, tenantID, ownerUserID, "provisioning")
	if err != nil {
		return db.Tenant{}, err
	}
	if _, err := s.q.CreateTenantRuntime(ctx, tenantID, "stopped", "provisioning"); err != nil {
		return db.Tenant{}, err
	}
	if _, err := s.configs.Propose(ctx, tenantID, env); err != nil {
		return db.Tenant{}, err
	}
	if err := s.configs.Activate(ctx, tenantID, 1); err != nil {
		return db.Tenant{}, err
	}
	return tenant, nil
}

// seedAssistantDefaults proposes and activates revision 1 of every default
// prompt and skill, returning the content maps for the Runner payload.
func (s *Service) seedAssistantDefaults(ctx context.Context, tenantID string) (map[string]string, map[string]string, error) {
	prompts := make(map[string]string, len(assistant.PromptDefaults))
	for name, content := range assistant.PromptDefaults {
		if _, err := s.prompts.Propose(ctx, tenantID, name, content); err != nil {
			return nil, nil, err
		}
		if err := s.prompts.Activate(ctx, tenantID, name, 1); err != nil {
			return nil, nil, err
		}
		prompts[name] = content
	}

	skills := make(map[string]string, len(assistant.SkillDefaults))
	for id, content := range assistant.SkillDefaults {
		if _, err := s.skills.Propose(ctx, tenantID, id, content); err != nil {
			return nil, nil, err
		}
		if err := s.skills.Activate(ctx, tenantID, id, 1); err != nil {
			return nil, nil, err
		}
		skills[id] = content
	}

	return prompts, skills, nil
}

// recordProvisionFailure mirrors the original behavior: a failed Runner
// provision call does not fail Setup itself — the tenant row already exists
// and is instead left in an error state for the caller to observe via
// GetStatus.
func (s *Service) recordProvisionFailure(ctx context.Context, tenantID string, ownerUserID int64, provisionErr error) (SetupResult, error) {
	message := provisionErr.Error()
	code := "runner_error"
	if oerr, ok := provisionErr.(*Error); ok {
		code = oerr.Code
		message = oerr.Message
	}
	errMsg := fmt.Sprintf("%s: %s", code, message)

	if _, err := s.q.UpdateTenantStatus(ctx, tenantID, "error"); err != nil {
		return SetupResult{}, err
	}
	rt, err := s.q.UpdateActualState(ctx, tenantID, "error", &errMsg, nowHeartbeat())
	if err != nil {
		return SetupResult{}, err
	}
	s.emit(ctx, tenantID, "runtime.error", map[string]any{"error": code, "message": message})
	s.recordAdminAction(ownerUserID, tenantID, "tenant_setup_failed", map[string]any{"error": code, "message": message})

	return SetupResult{TenantID: tenantID, Status: "error", DesiredState: rt.DesiredState, ActualState: "error", LastError: &errMsg}, nil
}

func (s *Service) toSetupResult(ctx context.Context, tenant db.Tenant) (SetupResult, error) {
	rt, err := s.q.GetTenantRuntime(ctx, tenant.ID)
	if err != nil {
		return SetupResult{}, err
	}
	return SetupResult{
		TenantID:     tenant.ID,
		Status:       tenant.Status,
		DesiredState: rt.DesiredState,
		ActualState:  rt.ActualState,
		LastError:    rt.LastError,
	}, nil
}

func randomTenantID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating tenant id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func randomURLSafeToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
