package db

import (
	"context"
	"fmt"
	"time"
)

// CreateTenant inserts a new tenant row.
func (q *Queries) CreateTenant(ctx context.Context, id string, ownerUserID int64, status string) (Tenant, error) {
	var t Tenant
	err := q.db.QueryRow(ctx, `
		INSERT INTO tenants (id, owner_user_id, status)
		VALUES ($1, $2, $3)
		RETURNING id, owner_user_id, status, worker_id, created_at, updated_at
	`, id, ownerUserID, status).Scan(&t.ID, &t.OwnerUserID, &t.Status, &t.WorkerID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Tenant{}, fmt.Errorf("inserting tenant: %w", err)
	}
	return t, nil
}

// GetTenantByOwner looks up the (at most one) tenant owned by ownerUserID.
func (q *Queries) GetTenantByOwner(ctx context.Context, ownerUserID int64) (Tenant, error) {
	var t Tenant
	err := q.db.QueryRow(ctx, `
		SELECT id, owner_user_id, status, worker_id, created_at, updated_at
		FROM tenants WHERE owner_user_id = $1
	`, ownerUserID).Scan(&t.ID, &t.OwnerUserID, &t.Status, &t.WorkerID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}

// GetTenantByID looks up a tenant by its opaque id.
func (q *Queries) GetTenantByID(ctx context.Context, id string) (Tenant, error) {
	var t Tenant
	err := q.db.QueryRow(ctx, `
		SELECT id, owner_user_id, status, worker_id, created_at, updated_at
		FROM tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.OwnerUserID, &t.Status, &t.WorkerID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}

// UpdateTenantStatus transitions Tenant.status (orchestrator-driven only, §3).
func (q *Queries) UpdateTenantStatus(ctx context.Context, id, status string) (Tenant, error) {
	var t Tenant
	err := q.db.QueryRow(ctx, `
		UPDATE tenants SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, owner_user_id, status, worker_id, created_at, updated_at
	`, id, status).Scan(&t.ID, &t.OwnerUserID, &t.Status, &t.WorkerID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Tenant{}, fmt.Errorf("updating tenant status: %w", err)
	}
	return t, nil
}

// CreateTenantRuntime inserts the one-row-per-tenant runtime state (§3).
func (q *Queries) CreateTenantRuntime(ctx context.Context, tenantID, desired, actual string) (TenantRuntime, error) {
	var r TenantRuntime
	err := q.db.QueryRow(ctx, `
		INSERT INTO tenant_runtimes (tenant_id, desired_state, actual_state)
		VALUES ($1, $2, $3)
		RETURNING tenant_id, desired_state, actual_state, last_heartbeat, last_error
	`, tenantID, desired, actual).Scan(&r.TenantID, &r.DesiredState, &r.ActualState, &r.LastHeartbeat, &r.LastError)
	if err != nil {
		return TenantRuntime{}, fmt.Errorf("inserting tenant runtime: %w", err)
	}
	return r, nil
}

// GetTenantRuntime looks up the runtime row for a tenant.
func (q *Queries) GetTenantRuntime(ctx context.Context, tenantID string) (TenantRuntime, error) {
	var r TenantRuntime
	err := q.db.QueryRow(ctx, `
		SELECT tenant_id, desired_state, actual_state, last_heartbeat, last_error
		FROM tenant_runtimes WHERE tenant_id = $1
	`, tenantID).Scan(&r.TenantID, &r.DesiredState, &r.ActualState, &r.LastHeartbeat, &r.LastError)
	if err != nil {
		return TenantRuntime{}, err
	}
	return r, nil
}

// UpdateDesiredState sets desired_state only (used when issuing a runtime op
// before the Runner call has confirmed success).
func (q *Queries) UpdateDesiredState(ctx context.Context, tenantID, desired string) error {
	_, err := q.db.Exec(ctx, `UPDATE tenant_runtimes SET desired_state = $2 WHERE tenant_id = $1`, tenantID, desired)
	if err != nil {
		return fmt.Errorf("updating desired state: %w", err)
	}
	return nil
}

// UpdateActualState sets actual_state, last_error, and last_heartbeat in one
// statement — the runtime-state projection's single write path (§4.5.1).
// lastError == nil clears the column.
func (q *Queries) UpdateActualState(ctx context.Context, tenantID, actual string, lastError *string, heartbeat time.Time) (TenantRuntime, error) {
	var r TenantRuntime
	err := q.db.QueryRow(ctx, `
		UPDATE tenant_runtimes
		SET actual_state = $2, last_error = $3, last_heartbeat = $4
		WHERE tenant_id = $1
		RETURNING tenant_id, desired_state, actual_state, last_heartbeat, last_error
	`, tenantID, actual, lastError, heartbeat).Scan(&r.TenantID, &r.DesiredState, &r.ActualState, &r.LastHeartbeat, &r.LastError)
	if err != nil {
		return TenantRuntime{}, fmt.Errorf("updating actual state: %w", err)
	}
	return r, nil
}

// UpsertTenantSecret overwrites the tenant's encrypted secret blob atomically
// (single cipher encrypt + single row overwrite, per §7).
func (q *Queries) UpsertTenantSecret(ctx context.Context, tenantID, nonceB64, ciphertextB64, keyVersion string) (TenantSecret, error) {
	var s TenantSecret
	err := q.db.QueryRow(ctx, `
		INSERT INTO tenant_secrets (tenant_id, nonce_b64, ciphertext_b64, key_version, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (tenant_id) DO UPDATE
		SET nonce_b64 = EXCLUDED.nonce_b64,
		    ciphertext_b64 = EXCLUDED.ciphertext_b64,
		    key_version = EXCLUDED.key_version,
		    updated_at = now()
		RETURNING tenant_id, nonce_b64, ciphertext_b64, key_version, updated_at
	`, tenantID, nonceB64, ciphertextB64, keyVersion).Scan(&s.TenantID, &s.NonceB64, &s.CiphertextB64, &s.KeyVersion, &s.UpdatedAt)
	if err != nil {
		return TenantSecret{}, fmt.Errorf("upserting tenant secret: %w", err)
	}
	return s, nil
}

// GetTenantSecret looks up the tenant's encrypted secret blob.
func (q *Queries) GetTenantSecret(ctx context.Context, tenantID string) (TenantSecret, error) {
	var s TenantSecret
	err := q.db.QueryRow(ctx, `
		SELECT tenant_id, nonce_b64, ciphertext_b64, key_version, updated_at
		FROM tenant_secrets WHERE tenant_id = $1
	`, tenantID).Scan(&s.TenantID, &s.NonceB64, &s.CiphertextB64, &s.KeyVersion, &s.UpdatedAt)
	if err != nil {
		return TenantSecret{}, err
	}
	return s, nil
}
