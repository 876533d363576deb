// Package revision implements the propose → activate revision pattern
// shared by tenant config, prompts, and skills (§4.3): every family keeps a
// monotonically increasing revision history per key, with at most one
// active revision at a time, enforced by a partial unique index and a
// single activating transaction.
package revision

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexusruntime/nexus/internal/db"
)

// ConfigStore manages tenant-wide env config revisions (keyed by tenant_id).
type ConfigStore struct {
	pool *pgxpool.Pool
	q    *db.Queries
}

func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{pool: pool, q: db.New(pool)}
}

// Propose assigns the next revision number for tenantID and inserts it
// inactive.
func (s *ConfigStore) Propose(ctx context.Context, tenantID string, env map[string]string) (db.ConfigRevision, error) {
	max, err := s.q.MaxConfigRevision(ctx, tenantID)
	if err != nil {
		return db.ConfigRevision{}, fmt.Errorf("reading max config revision: %w", err)
	}
	return s.q.InsertConfigRevision(ctx, tenantID, max+1, env)
}

// Activate deactivates every other revision for tenantID and activates the
// target, in one transaction.
func (s *ConfigStore) Activate(ctx context.Context, tenantID string, revision int32) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning activation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := db.ActivateConfigRevisionTx(ctx, tx, tenantID, revision); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ActiveRevision returns the currently active config revision for tenantID.
func (s *ConfigStore) ActiveRevision(ctx context.Context, tenantID string) (db.ConfigRevision, error) {
	return s.q.GetActiveConfigRevision(ctx, tenantID)
}

// PromptStore manages per-name prompt revisions (keyed by tenant_id, name).
type PromptStore struct {
	pool *pgxpool.Pool
	q    *db.Queries
}

func NewPromptStore(pool *pgxpool.Pool) *PromptStore {
	return &PromptStore{pool: pool, q: db.New(pool)}
}

func (s *PromptStore) Propose(ctx context.Context, tenantID, name, content string) (db.PromptRevision, error) {
	max, err := s.q.MaxPromptRevision(ctx, tenantID, name)
	if err != nil {
		return db.PromptRevision{}, fmt.Errorf("reading max prompt revision: %w", err)
	}
	return s.q.InsertPromptRevision(ctx, tenantID, name, max+1, content)
}

func (s *PromptStore) Activate(ctx context.Context, tenantID, name string, revision int32) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning activation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := db.ActivatePromptRevisionTx(ctx, tx, tenantID, name, revision); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListActive returns every active prompt for tenantID, one per name.
func (s *PromptStore) ListActive(ctx context.Context, tenantID string) ([]db.PromptRevision, error) {
	return s.q.ListActivePrompts(ctx, tenantID)
}

func (s *PromptStore) ActiveRevision(ctx context.Context, tenantID, name string) (db.PromptRevision, error) {
	return s.q.GetActivePrompt(ctx, tenantID, name)
}

// SkillStore manages per-skill-id skill revisions (keyed by tenant_id, skill_id).
type SkillStore struct {
	pool *pgxpool.Pool
	q    *db.Queries
}

func NewSkillStore(pool *pgxpool.Pool) *SkillStore {
	return &SkillStore{pool: pool, q: db.New(pool)}
}

func (s *SkillStore) Propose(ctx context.Context, tenantID, skillID, content string) (db.SkillRevision, error) {
	max, err := s.q.MaxSkillRevision(ctx, tenantID, skillID)
	if err != nil {
		return db.SkillRevision{}, fmt.Errorf("reading max skill revision: %w", err)
	}
	return s.q.InsertSkillRevision(ctx, tenantID, skillID, max+1, content)
}

func (s *SkillStore) Activate(ctx context.Context, tenantID, skillID string, revision int32) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning activation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := db.ActivateSkillRevisionTx(ctx, tx, tenantID, skillID, revision); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListActive returns every active skill for tenantID, one per skill_id.
func (s *SkillStore) ListActive(ctx context.Context, tenantID string) ([]db.SkillRevision, error) {
	return s.q.ListActiveSkills(ctx, tenantID)
}

func (s *SkillStore) ActiveRevision(ctx context.Context, tenantID, skillID string) (db.SkillRevision, error) {
	return s.q.GetActiveSkill(ctx, tenantID, skillID)
}
