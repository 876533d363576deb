// Package orchestrator implements the Tenant Orchestrator (§4.4): tenant
// setup, runtime lifecycle, config/prompt/skill patching, assistant
// bootstrap, and Google OAuth linkage, grounded directly on
// original_source's routers/tenants.py.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexusruntime/nexus/internal/crypto"
	"github.com/nexusruntime/nexus/internal/db"
	"github.com/nexusruntime/nexus/internal/events"
	"github.com/nexusruntime/nexus/internal/googleoauth"
	"github.com/nexusruntime/nexus/internal/revision"
	"github.com/nexusruntime/nexus/internal/runnerclient"
	"github.com/nexusruntime/nexus/internal/tokens"
)

// openRouterAPIKeyEnvKey is the config-env key every tenant must hold before
// it can be started.
const openRouterAPIKeyEnvKey = "NEXUS_OPENROUTER_API_KEY"

// Error carries an HTTP status and §7 error code for the orchestrator's
// HTTP layer to surface directly.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func newErr(status int, code, format string, args ...any) *Error {
	return &Error{Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Service is the Tenant Orchestrator.
type Service struct {
	pool   *pgxpool.Pool
	q      *db.Queries
	cipher *crypto.SecretCipher
	runner *runnerclient.Client
	bus    *events.Bus
	tokens *tokens.Service
	google googleoauth.Config

	configs *revision.ConfigStore
	prompts *revision.PromptStore
	skills  *revision.SkillStore

	audit *auditWriter

	nexusImage string
	logger     *slog.Logger
}

// New constructs a Service.
func New(pool *pgxpool.Pool, cipher *crypto.SecretCipher, runner *runnerclient.Client, bus *events.Bus, tokenService *tokens.Service, google googleoauth.Config, nexusImage string, logger *slog.Logger) *Service {
	q := db.New(pool)
	return &Service{
		pool:       pool,
		q:          q,
		cipher:     cipher,
		runner:     runner,
		bus:        bus,
		tokens:     tokenService,
		google:     google,
		configs:    revision.NewConfigStore(pool),
		prompts:    revision.NewPromptStore(pool),
		skills:     revision.NewSkillStore(pool),
		audit:      newAuditWriter(q, logger),
		nexusImage: nexusImage,
		logger:     logger,
	}
}

// tenantForOwner loads a tenant and verifies ownership, 404ing on either a
// missing tenant or a cross-owner access attempt (indistinguishable to the
// caller, per the original's _tenant_for_owner).
func (s *Service) tenantForOwner(ctx context.Context, tenantID string, ownerUserID int64) (db.Tenant, error) {
	tenant, err := s.q.GetTenantByID(ctx, tenantID)
	if err != nil {
		return db.Tenant{}, newErr(404, "tenant_not_found", "tenant not found")
	}
	if tenant.OwnerUserID != ownerUserID {
		return db.Tenant{}, newErr(404, "tenant_not_found", "tenant not found")
	}
	return tenant, nil
}

// VerifyTenantOwner 404s unless tenantID exists and belongs to ownerUserID,
// for callers (the WebSocket and events/recent endpoints) that only need the
// ownership check itself, not a full tenant row.
func (s *Service) VerifyTenantOwner(ctx context.Context, tenantID string, ownerUserID int64) error {
	_, err := s.tenantForOwner(ctx, tenantID, ownerUserID)
	return err
}

func (s *Service) runtimeForTenant(ctx context.Context, tenantID string) (db.TenantRuntime, error) {
	rt, err := s.q.GetTenantRuntime(ctx, tenantID)
	if err != nil {
		return db.TenantRuntime{}, newErr(404, "tenant_runtime_not_found", "tenant runtime not found")
	}
	return rt, nil
}

func (s *Service) emit(ctx context.Context, tenantID, eventType string, payload map[string]any) {
	if err := s.bus.Emit(ctx, tenantID, eventType, payload); err != nil {
		s.logger.Warn("orchestrator emit failed", "tenant_id", tenantID, "event_type", eventType, "error", err)
	}
}

// requireOpenRouterAPIKey 400s unless the tenant's active config revision
// carries a non-empty NEXUS_OPENROUTER_API_KEY.
func (s *Service) requireOpenRouterAPIKey(ctx context.Context, tenantID string) error {
	active, err := s.configs.ActiveRevision(ctx, tenantID)
	if err != nil || active.Env[openRouterAPIKeyEnvKey] == "" {
		return openRouterAPIKeyRequiredError()
	}
	return nil
}

func openRouterAPIKeyRequiredError() error {
	return newErr(400, "openrouter_api_key_required", "%s must be set before the assistant can run", openRouterAPIKeyEnvKey)
}

// runnerCall wraps a Runner client call: on a *runnerclient.Error it emits
// runtime.error and returns an orchestrator Error carrying the same status
// code, mirroring the original's _runner_call.
func (s *Service) runnerCall(ctx context.Context, tenantID, action string, call func() (map[string]any, error)) (map[string]any, error) {
	result, err := call()
	if err != nil {
		if rerr, ok := err.(*runnerclient.Error); ok {
			s.emit(ctx, tenantID, "runtime.error", map[string]any{
				"error":   rerr.Code,
				"message": rerr.Message,
				"action":  action,
			})
			return nil, &Error{Status: rerr.StatusCode, Code: rerr.Code, Message: rerr.Message}
		}
		return nil, newErr(502, "runner_error", "%v", err)
	}
	return result, nil
}
