package orchestrator

import (
	"context"

	"github.com/nexusruntime/nexus/internal/assistant"
	"github.com/nexusruntime/nexus/internal/db"
)

// BootstrapResult reports what the assistant bootstrap operation did.
type BootstrapResult struct {
	Applied          bool
	Reason           string
	Version          string
	RestartedRuntime bool
	Prompts          []string
	Skills           []string
}

// BootstrapAssistant seeds missing/scaffold prompts and skills and, when the
// stored assistant_defaults_version has changed, refreshes every managed
// entry, per §4.4.4.
func (s *Service) BootstrapAssistant(ctx context.Context, tenantID string, ownerUserID int64) (BootstrapResult, error) {
	if _, err := s.tenantForOwner(ctx, tenantID, ownerUserID); err != nil {
		return BootstrapResult{}, err
	}

	secret, err := s.readSecret(ctx, tenantID)
	if err != nil {
		return BootstrapResult{}, err
	}
	versionChanged := secret.AssistantDefaultsVersion != assistant.Version

	activePrompts, err := s.prompts.ListActive(ctx, tenantID)
	if err != nil {
		return BootstrapResult{}, err
	}
	activePromptByName := make(map[string]db.PromptRevision, len(activePrompts))
	for _, p := range activePrompts {
		activePromptByName[p.Name] = p
	}

	activeSkills, err := s.skills.ListActive(ctx, tenantID)
	if err != nil {
		return BootstrapResult{}, err
	}
	activeSkillByID := make(map[string]db.SkillRevision, len(activeSkills))
	for _, sk := range activeSkills {
		activeSkillByID[sk.SkillID] = sk
	}

	promptsToUpdate := map[string]string{}
	for name, content := range assistant.PromptDefaults {
		var existing *string
		if p, ok := activePromptByName[name]; ok {
			existing = &p.Content
		}
		_, managed := assistant.ManagedPromptIDs[name]
		if assistant.PromptNeedsDefault(name, existing) || (managed && versionChanged) {
			promptsToUpdate[name] = content
		}
	}

	skillsToUpdate := map[string]string{}
	for id, content := range assistant.SkillDefaults {
		var existing *string
		if sk, ok := activeSkillByID[id]; ok {
			existing = &sk.Content
		}
		_, managed := assistant.ManagedSkillIDs[id]
		if assistant.SkillNeedsDefault(id, existing) || (managed && versionChanged) {
			skillsToUpdate[id] = content
		}
	}

	if len(promptsToUpdate) == 0 && len(skillsToUpdate) == 0 {
		secret.AssistantDefaultsVersion = assistant.Version
		if err := s.writeSecret(ctx, tenantID, secret); err != nil {
			return BootstrapResult{}, err
		}
		return BootstrapResult{Applied: false, Reason: "already_bootstrapped", Version: assistant.Version}, nil
	}

	proposedPrompts := make(map[string]db.PromptRevision, len(promptsToUpdate))
	for name, content := range promptsToUpdate {
		proposed, err := s.prompts.Propose(ctx, tenantID, name, content)
		if err != nil {
			return BootstrapResult{}, err
		}
		proposedPrompts[name] = proposed
	}
	proposedSkills := make(map[string]db.SkillRevision, len(skillsToUpdate))
	for id, content := range skillsToUpdate {
		proposed, err := s.skills.Propose(ctx, tenantID, id, content)
		if err != nil {
			return BootstrapResult{}, err
		}
		proposedSkills[id] = proposed
	}

	env := map[string]string{}
	if active, err := s.configs.ActiveRevision(ctx, tenantID); err == nil {
		env = active.Env
	}
	payload := map[string]any{
		"env":     env,
		"prompts": promptsPayload(activePrompts, promptsToUpdate),
		"skills":  skillsPayload(activeSkills, skillsToUpdate),
	}
	if _, err := s.runnerCall(ctx, tenantID, "apply_config", func() (map[string]any, error) {
		return s.runner.ApplyConfig(ctx, tenantID, payload)
	}); err != nil {
		return BootstrapResult{}, err
	}

	names := make([]string, 0, len(proposedPrompts))
	for name, proposed := range proposedPrompts {
		if err := s.prompts.Activate(ctx, tenantID, name, proposed.Revision); err != nil {
			return BootstrapResult{}, err
		}
		names = append(names, name)
	}
	ids := make([]string, 0, len(proposedSkills))
	for id, proposed := range proposedSkills {
		if err := s.skills.Activate(ctx, tenantID, id, proposed.Revision); err != nil {
			return BootstrapResult{}, err
		}
		ids = append(ids, id)
	}

	secret.AssistantDefaultsVersion = assistant.Version
	if err := s.writeSecret(ctx, tenantID, secret); err != nil {
		return BootstrapResult{}, err
	}

	restarted := false
	if rt, err := s.runtimeForTenant(ctx, tenantID); err == nil {
		if rt.ActualState == "running" || rt.ActualState == "pending_pairing" || rt.ActualState == "provisioning" {
			if _, err := s.runnerCall(ctx, tenantID, "restart", func() (map[string]any, error) {
				return s.runner.Restart(ctx, tenantID, map[string]any{"nexus_image": s.nexusImage})
			}); err == nil {
				restarted = true
			}
		}
	}

	s.emit(ctx, tenantID, "assistant.bootstrap.applied", map[string]any{
		"version":           assistant.Version,
		"restarted_runtime": restarted,
		"prompts":           names,
		"skills":            ids,
	})

	return BootstrapResult{
		Applied:          true,
		Version:          assistant.Version,
		RestartedRuntime: restarted,
		Prompts:          names,
		Skills:           ids,
	}, nil
}
