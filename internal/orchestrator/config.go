package orchestrator

import (
	"context"
	"maps"

	"github.com/nexusruntime/nexus/internal/db"
)

// GetConfig returns the tenant's active config revision.
func (s *Service) GetConfig(ctx context.Context, tenantID string, ownerUserID int64) (db.ConfigRevision, error) {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return db.ConfigRevision{}, err
	}
	active, err := s.configs.ActiveRevision(ctx, tenantID)
	if err != nil {
		return db.ConfigRevision{}, newErr(404, "config_not_found", "no active config revision")
	}
	return active, nil
}

// PatchConfig computes the merged env, no-ops if unchanged, and otherwise
// proposes → applies (via the Runner) → activates the new revision, exactly
// per §4.4.3.
func (s *Service) PatchConfig(ctx context.Context, tenantID string, ownerUserID int64, values map[string]string, removeKeys []string) (db.ConfigRevision, error) {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return db.ConfigRevision{}, err
	}
	active, err := s.configs.ActiveRevision(ctx, tenantID)
	if err != nil {
		return db.ConfigRevision{}, newErr(404, "config_not_found", "no active config revision")
	}

	merged := maps.Clone(active.Env)
	if merged == nil {
		merged = map[string]string{}
	}
	for k, v := range values {
		merged[k] = v
	}
	for _, k := range removeKeys {
		delete(merged, k)
	}

	if envEqual(merged, active.Env) {
		return active, nil
	}

	proposed, err := s.configs.Propose(ctx, tenantID, merged)
	if err != nil {
		return db.ConfigRevision{}, err
	}

	prompts, err := s.prompts.ListActive(ctx, tenantID)
	if err != nil {
		return db.ConfigRevision{}, err
	}
	skills, err := s.skills.ListActive(ctx, tenantID)
	if err != nil {
		return db.ConfigRevision{}, err
	}

	payload := map[string]any{
		"env":             merged,
		"prompts":         promptsPayload(prompts, nil),
		"skills":          skillsPayload(skills, nil),
		"config_revision": proposed.Revision,
	}
	if _, err := s.runnerCall(ctx, tenantID, "apply_config", func() (map[string]any, error) {
		return s.runner.ApplyConfig(ctx, tenantID, payload)
	}); err != nil {
		return db.ConfigRevision{}, err
	}

	if err := s.configs.Activate(ctx, tenantID, proposed.Revision); err != nil {
		return db.ConfigRevision{}, err
	}
	s.emit(ctx, tenantID, "config.applied", map[string]any{"revision": proposed.Revision})
	s.recordAdminAction(ownerUserID, tenantID, "config_patch", map[string]any{"revision": proposed.Revision})

	proposed.IsActive = true
	return proposed, nil
}

// ListPrompts returns every active prompt for a tenant.
func (s *Service) ListPrompts(ctx context.Context, tenantID string, ownerUserID int64) ([]db.PromptRevision, error) {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return nil, err
	}
	return s.prompts.ListActive(ctx, tenantID)
}

// PutPrompt proposes a new revision for one prompt, applies the converged
// view (active config env, active prompts/skills with this prompt
// overlaid) through the Runner, then activates on success.
func (s *Service) PutPrompt(ctx context.Context, tenantID string, ownerUserID int64, name, content string) (db.PromptRevision, error) {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return db.PromptRevision{}, err
	}

	proposed, err := s.prompts.Propose(ctx, tenantID, name, content)
	if err != nil {
		return db.PromptRevision{}, err
	}

	env := map[string]string{}
	if active, err := s.configs.ActiveRevision(ctx, tenantID); err == nil {
		env = active.Env
	}
	prompts, err := s.prompts.ListActive(ctx, tenantID)
	if err != nil {
		return db.PromptRevision{}, err
	}
	skills, err := s.skills.ListActive(ctx, tenantID)
	if err != nil {
		return db.PromptRevision{}, err
	}

	payload := map[string]any{
		"env":     env,
		"prompts": promptsPayload(prompts, map[string]string{name: content}),
		"skills":  skillsPayload(skills, nil),
	}
	if _, err := s.runnerCall(ctx, tenantID, "apply_config", func() (map[string]any, error) {
		return s.runner.ApplyConfig(ctx, tenantID, payload)
	}); err != nil {
		return db.PromptRevision{}, err
	}

	if err := s.prompts.Activate(ctx, tenantID, name, proposed.Revision); err != nil {
		return db.PromptRevision{}, err
	}
	s.emit(ctx, tenantID, "config.applied", map[string]any{"prompt": name, "revision": proposed.Revision})
	s.recordAdminAction(ownerUserID, tenantID, "prompt_put", map[string]any{"prompt": name, "revision": proposed.Revision})

	proposed.IsActive = true
	return proposed, nil
}

// ListSkills returns every active skill for a tenant.
func (s *Service) ListSkills(ctx context.Context, tenantID string, ownerUserID int64) ([]db.SkillRevision, error) {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return nil, err
	}
	return s.skills.ListActive(ctx, tenantID)
}

// PutSkill mirrors PutPrompt, keyed by skill id.
func (s *Service) PutSkill(ctx context.Context, tenantID string, ownerUserID int64, skillID, content string) (db.SkillRevision, error) {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return db.SkillRevision{}, err
	}

	proposed, err := s.skills.Propose(ctx, tenantID, skillID, content)
	if err != nil {
		return db.SkillRevision{}, err
	}

	env := map[string]string{}
	if active, err := s.configs.ActiveRevision(ctx, tenantID); err == nil {
		env = active.Env
	}
	prompts, err := s.prompts.ListActive(ctx, tenantID)
	if err != nil {
		return db.SkillRevision{}, err
	}
	skills, err := s.skills.ListActive(ctx, tenantID)
	if err != nil {
		return db.SkillRevision{}, err
	}

	payload := map[string]any{
		"env":     env,
		"prompts": promptsPayload(prompts, nil),
		"skills":  skillsPayload(skills, map[string]string{skillID: content}),
	}
	if _, err := s.runnerCall(ctx, tenantID, "apply_config", func() (map[string]any, error) {
		return s.runner.ApplyConfig(ctx, tenantID, payload)
	}); err != nil {
		return db.SkillRevision{}, err
	}

	if err := s.skills.Activate(ctx, tenantID, skillID, proposed.Revision); err != nil {
		return db.SkillRevision{}, err
	}
	s.emit(ctx, tenantID, "config.applied", map[string]any{"skill_id": skillID, "revision": proposed.Revision})
	s.recordAdminAction(ownerUserID, tenantID, "skill_put", map[string]any{"skill_id": skillID, "revision": proposed.Revision})

	proposed.IsActive = true
	return proposed, nil
}

func envEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func promptsPayload(active []db.PromptRevision, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(active)+len(overlay))
	for _, p := range active {
		out[p.Name] = p.Content
	}
	maps.Copy(out, overlay)
	return out
}

func skillsPayload(active []db.SkillRevision, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(active)+len(overlay))
	for _, sk := range active {
		out[sk.SkillID] = sk.Content
	}
	maps.Copy(out, overlay)
	return out
}
