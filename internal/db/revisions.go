// Revision queries implement the Revision Store's persistence (§4.3): for
// each family (config | prompt | skill), revisions monotonically increase
// and at most one is active per key within a (tenant_id[, name|skill_id]).
package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// --- Config revisions (keyed by tenant_id) ---

// MaxConfigRevision returns the highest existing revision number for a
// tenant, or 0 if none exists.
func (q *Queries) MaxConfigRevision(ctx context.Context, tenantID string) (int32, error) {
	var max int32
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(revision), 0) FROM config_revisions WHERE tenant_id = $1
	`, tenantID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("reading max config revision: %w", err)
	}
	return max, nil
}

// InsertConfigRevision inserts a new, inactive config revision.
func (q *Queries) InsertConfigRevision(ctx context.Context, tenantID string, revision int32, env map[string]string) (ConfigRevision, error) {
	envJSON, err := json.Marshal(env)
	if err != nil {
		return ConfigRevision{}, fmt.Errorf("marshaling env: %w", err)
	}

	var r ConfigRevision
	var raw []byte
	err = q.db.QueryRow(ctx, `
		INSERT INTO config_revisions (tenant_id, revision, env, is_active)
		VALUES ($1, $2, $3, false)
		RETURNING tenant_id, revision, env, is_active, created_at
	`, tenantID, revision, envJSON).Scan(&r.TenantID, &r.Revision, &raw, &r.IsActive, &r.CreatedAt)
	if err != nil {
		return ConfigRevision{}, fmt.Errorf("inserting config revision: %w", err)
	}
	if err := json.Unmarshal(raw, &r.Env); err != nil {
		return ConfigRevision{}, fmt.Errorf("unmarshaling env: %w", err)
	}
	return r, nil
}

// ActivateConfigRevisionTx deactivates every other revision for the tenant and
// activates the target, atomically (§4.3). tx must already be open.
func ActivateConfigRevisionTx(ctx context.Context, tx pgx.Tx, tenantID string, revision int32) error {
	if _, err := tx.Exec(ctx, `UPDATE config_revisions SET is_active = false WHERE tenant_id = $1 AND is_active`, tenantID); err != nil {
		return fmt.Errorf("deactivating config revisions: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE config_revisions SET is_active = true WHERE tenant_id = $1 AND revision = $2`, tenantID, revision)
	if err != nil {
		return fmt.Errorf("activating config revision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("config revision %d not found for tenant %s", revision, tenantID)
	}
	return nil
}

// GetActiveConfigRevision returns the tenant's currently active config revision.
func (q *Queries) GetActiveConfigRevision(ctx context.Context, tenantID string) (ConfigRevision, error) {
	var r ConfigRevision
	var raw []byte
	err := q.db.QueryRow(ctx, `
		SELECT tenant_id, revision, env, is_active, created_at
		FROM config_revisions WHERE tenant_id = $1 AND is_active
	`, tenantID).Scan(&r.TenantID, &r.Revision, &raw, &r.IsActive, &r.CreatedAt)
	if err != nil {
		return ConfigRevision{}, err
	}
	if err := json.Unmarshal(raw, &r.Env); err != nil {
		return ConfigRevision{}, fmt.Errorf("unmarshaling env: %w", err)
	}
	return r, nil
}

// --- Prompt revisions (keyed by tenant_id, name) ---

func (q *Queries) MaxPromptRevision(ctx context.Context, tenantID, name string) (int32, error) {
	var max int32
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(revision), 0) FROM prompt_revisions WHERE tenant_id = $1 AND name = $2
	`, tenantID, name).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("reading max prompt revision: %w", err)
	}
	return max, nil
}

func (q *Queries) InsertPromptRevision(ctx context.Context, tenantID, name string, revision int32, content string) (PromptRevision, error) {
	var r PromptRevision
	err := q.db.QueryRow(ctx, `
		INSERT INTO prompt_revisions (tenant_id, name, revision, content, is_active)
		VALUES ($1, $2, $3, $4, false)
		RETURNING tenant_id, name, revision, content, is_active, created_at
	`, tenantID, name, revision, content).Scan(&r.TenantID, &r.Name, &r.Revision, &r.Content, &r.IsActive, &r.CreatedAt)
	if err != nil {
		return PromptRevision{}, fmt.Errorf("inserting prompt revision: %w", err)
	}
	return r, nil
}

func ActivatePromptRevisionTx(ctx context.Context, tx pgx.Tx, tenantID, name string, revision int32) error {
	if _, err := tx.Exec(ctx, `UPDATE prompt_revisions SET is_active = false WHERE tenant_id = $1 AND name = $2 AND is_active`, tenantID, name); err != nil {
		return fmt.Errorf("deactivating prompt revisions: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE prompt_revisions SET is_active = true WHERE tenant_id = $1 AND name = $2 AND revision = $3`, tenantID, name, revision)
	if err != nil {
		return fmt.Errorf("activating prompt revision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("prompt revision %d not found for tenant %s name %s", revision, tenantID, name)
	}
	return nil
}

func (q *Queries) ListActivePrompts(ctx context.Context, tenantID string) ([]PromptRevision, error) {
	rows, err := q.db.Query(ctx, `
		SELECT tenant_id, name, revision, content, is_active, created_at
		FROM prompt_revisions WHERE tenant_id = $1 AND is_active ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing active prompts: %w", err)
	}
	defer rows.Close()

	var result []PromptRevision
	for rows.Next() {
		var r PromptRevision
		if err := rows.Scan(&r.TenantID, &r.Name, &r.Revision, &r.Content, &r.IsActive, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning prompt revision: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (q *Queries) GetActivePrompt(ctx context.Context, tenantID, name string) (PromptRevision, error) {
	var r PromptRevision
	err := q.db.QueryRow(ctx, `
		SELECT tenant_id, name, revision, content, is_active, created_at
		FROM prompt_revisions WHERE tenant_id = $1 AND name = $2 AND is_active
	`, tenantID, name).Scan(&r.TenantID, &r.Name, &r.Revision, &r.Content, &r.IsActive, &r.CreatedAt)
	if err != nil {
		return PromptRevision{}, err
	}
	return r, nil
}

// --- Skill revisions (keyed by tenant_id, skill_id) ---

func (q *Queries) MaxSkillRevision(ctx context.Context, tenantID, skillID string) (int32, error) {
	var max int32
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(revision), 0) FROM skill_revisions WHERE tenant_id = $1 AND skill_id = $2
	`, tenantID, skillID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("reading max skill revision: %w", err)
	}
	return max, nil
}

func (q *Queries) InsertSkillRevision(ctx context.Context, tenantID, skillID string, revision int32, content string) (SkillRevision, error) {
	var r SkillRevision
	err := q.db.QueryRow(ctx, `
		INSERT INTO skill_revisions (tenant_id, skill_id, revision, content, is_active)
		VALUES ($1, $2, $3, $4, false)
		RETURNING tenant_id, skill_id, revision, content, is_active, created_at
	`, tenantID, skillID, revision, content).Scan(&r.TenantID, &r.SkillID, &r.Revision, &r.Content, &r.IsActive, &r.CreatedAt)
	if err != nil {
		return SkillRevision{}, fmt.Errorf("inserting skill revision: %w", err)
	}
	return r, nil
}

func ActivateSkillRevisionTx(ctx context.Context, tx pgx.Tx, tenantID, skillID string, revision int32) error {
	if _, err := tx.Exec(ctx, `UPDATE skill_revisions SET is_active = false WHERE tenant_id = $1 AND skill_id = $2 AND is_active`, tenantID, skillID); err != nil {
		return fmt.Errorf("deactivating skill revisions: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE skill_revisions SET is_active = true WHERE tenant_id = $1 AND skill_id = $2 AND revision = $3`, tenantID, skillID, revision)
	if err != nil {
		return fmt.Errorf("activating skill revision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("skill revision %d not found for tenant %s skill %s", revision, tenantID, skillID)
	}
	return nil
}

func (q *Queries) ListActiveSkills(ctx context.Context, tenantID string) ([]SkillRevision, error) {
	rows, err := q.db.Query(ctx, `
		SELECT tenant_id, skill_id, revision, content, is_active, created_at
		FROM skill_revisions WHERE tenant_id = $1 AND is_active ORDER BY skill_id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing active skills: %w", err)
	}
	defer rows.Close()

	var result []SkillRevision
	for rows.Next() {
		var r SkillRevision
		if err := rows.Scan(&r.TenantID, &r.SkillID, &r.Revision, &r.Content, &r.IsActive, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning skill revision: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (q *Queries) GetActiveSkill(ctx context.Context, tenantID, skillID string) (SkillRevision, error) {
	var r SkillRevision
	err := q.db.QueryRow(ctx, `
		SELECT tenant_id, skill_id, revision, content, is_active, created_at
		FROM skill_revisions WHERE tenant_id = $1 AND skill_id = $2 AND is_active
	`, tenantID, skillID).Scan(&r.TenantID, &r.SkillID, &r.Revision, &r.Content, &r.IsActive, &r.CreatedAt)
	if err != nil {
		return SkillRevision{}, err
	}
	return r, nil
}
